package update

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStateMissingFileReturnsIdle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_state.json")
	s, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, s.Phase)
}

func TestSaveThenLoadStateRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_state.json")
	want := State{
		Phase:          PhaseReadyToApply,
		LastChecked:    time.Now().Truncate(time.Second).UTC(),
		CommitsBehind:  3,
		SnapshotCommit: "abc123",
		UpdatedAt:      time.Now().Truncate(time.Second).UTC(),
	}

	require.NoError(t, SaveState(path, want))

	got, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, want.Phase, got.Phase)
	assert.Equal(t, want.CommitsBehind, got.CommitsBehind)
	assert.Equal(t, want.SnapshotCommit, got.SnapshotCommit)
	assert.True(t, want.LastChecked.Equal(got.LastChecked))
}
