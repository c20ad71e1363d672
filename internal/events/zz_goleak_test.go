package events

import (
	"os"
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies every worker goroutine a Bus starts is gone once its
// tests finish, catching a forgotten Shutdown call the same way a leaked
// worker would otherwise only show up as rising goroutine counts in
// production.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
		goleak.IgnoreTopFunction("runtime.gopark"),
		goleak.IgnoreTopFunction("time.Sleep"),
	)
	os.Exit(m.Run())
}
