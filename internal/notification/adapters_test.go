package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookAdapterSendsJSONPayloadToTarget(t *testing.T) {
	adapter := NewWebhookAdapter(map[string]string{"ops": "https://hooks.example.com/ops"}, 0)

	httpmock.ActivateNonDefault(adapter.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://hooks.example.com/ops",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]string
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return httpmock.NewStringResponse(400, "bad body"), nil
			}
			if body["title"] != "Robin detected" {
				return httpmock.NewStringResponse(400, "unexpected title"), nil
			}
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	err := adapter.Send(context.Background(), "ops", "Robin detected", "confidence 0.92")
	require.NoError(t, err)

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST https://hooks.example.com/ops"])
}

func TestWebhookAdapterReturnsErrorForUnknownTarget(t *testing.T) {
	adapter := NewWebhookAdapter(map[string]string{"ops": "https://hooks.example.com/ops"}, 0)
	err := adapter.Send(context.Background(), "missing", "title", "body")
	assert.ErrorContains(t, err, "unknown webhook target")
}

func TestWebhookAdapterReturnsErrorOnNon2xxStatus(t *testing.T) {
	adapter := NewWebhookAdapter(map[string]string{"ops": "https://hooks.example.com/ops"}, 0)

	httpmock.ActivateNonDefault(adapter.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://hooks.example.com/ops",
		httpmock.NewStringResponder(500, "internal error"))

	err := adapter.Send(context.Background(), "ops", "title", "body")
	assert.ErrorContains(t, err, "status 500")
}
