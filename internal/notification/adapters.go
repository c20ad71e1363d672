package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"

	"github.com/mverteuil/birdcore/internal/mqtt"
)

// MQTTAdapter publishes detection notifications under "<prefix>/<target>".
type MQTTAdapter struct {
	client mqtt.Client
	prefix string
}

// NewMQTTAdapter wraps an already-connected mqtt.Client.
func NewMQTTAdapter(client mqtt.Client, topicPrefix string) *MQTTAdapter {
	return &MQTTAdapter{client: client, prefix: topicPrefix}
}

func (a *MQTTAdapter) Name() string { return "mqtt" }

// Send publishes a JSON payload {title, body} to "<prefix>/<target>".
func (a *MQTTAdapter) Send(ctx context.Context, target, title, body string) error {
	payload, err := json.Marshal(struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}{title, body})
	if err != nil {
		return fmt.Errorf("encoding mqtt notification: %w", err)
	}
	topic := a.prefix + "/" + target
	return a.client.Publish(ctx, topic, string(payload))
}

// WebhookAdapter POSTs a JSON body to the target URL. Failures are not
// retried; the caller logs and moves on, per spec's no-retry-queue policy.
type WebhookAdapter struct {
	targets map[string]string // rule target name -> URL
	client  *http.Client
}

// NewWebhookAdapter builds an adapter over the configured webhook targets.
func NewWebhookAdapter(targets map[string]string, timeout time.Duration) *WebhookAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookAdapter{targets: targets, client: &http.Client{Timeout: timeout}}
}

func (a *WebhookAdapter) Name() string { return "webhook" }

func (a *WebhookAdapter) Send(ctx context.Context, target, title, body string) error {
	url, ok := a.targets[target]
	if !ok {
		return fmt.Errorf("unknown webhook target %q", target)
	}

	payload, err := json.Marshal(struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}{title, body})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

// AppriseAdapter dispatches via shoutrrr service URIs (Telegram, Discord,
// Slack, Pushover, and the rest of shoutrrr's provider set).
type AppriseAdapter struct {
	targets map[string]string // rule target name -> shoutrrr service URL
}

// NewAppriseAdapter builds an adapter over the configured apprise targets.
func NewAppriseAdapter(targets map[string]string) *AppriseAdapter {
	return &AppriseAdapter{targets: targets}
}

func (a *AppriseAdapter) Name() string { return "apprise" }

func (a *AppriseAdapter) Send(ctx context.Context, target, title, body string) error {
	url, ok := a.targets[target]
	if !ok {
		return fmt.Errorf("unknown apprise target %q", target)
	}
	return shoutrrr.Send(url, title+"\n"+body)
}

// SSEAdapter broadcasts rendered notifications to every subscribed live-UI
// connection over its own bounded channel, dropping the oldest pending
// frame on overflow rather than blocking the publisher.
type SSEAdapter struct {
	mu          sync.Mutex
	subscribers map[chan Frame]struct{}
}

// Frame is one server-sent-event payload.
type Frame struct {
	Target string
	Title  string
	Body   string
}

// NewSSEAdapter creates an adapter with no subscribers yet.
func NewSSEAdapter() *SSEAdapter {
	return &SSEAdapter{subscribers: make(map[chan Frame]struct{})}
}

func (a *SSEAdapter) Name() string { return "sse" }

// Subscribe registers a new live connection and returns its receive
// channel. Callers must call Unsubscribe when the connection closes.
func (a *SSEAdapter) Subscribe() chan Frame {
	ch := make(chan Frame, 32)
	a.mu.Lock()
	a.subscribers[ch] = struct{}{}
	a.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (a *SSEAdapter) Unsubscribe(ch chan Frame) {
	a.mu.Lock()
	if _, ok := a.subscribers[ch]; ok {
		delete(a.subscribers, ch)
		close(ch)
	}
	a.mu.Unlock()
}

func (a *SSEAdapter) Send(_ context.Context, target, title, body string) error {
	frame := Frame{Target: target, Title: title, Body: body}

	a.mu.Lock()
	defer a.mu.Unlock()

	for ch := range a.subscribers {
		select {
		case ch <- frame:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
	return nil
}
