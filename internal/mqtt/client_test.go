package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/conf"
)

func TestNewClientBuildsBrokerURLFromHostPort(t *testing.T) {
	settings := &conf.Settings{}
	settings.MQTT.BrokerHost = "mqtt.example.com"
	settings.MQTT.BrokerPort = 1883
	settings.MQTT.TopicPrefix = "birdcore"

	c := NewClient(settings).(*client)
	assert.Equal(t, "tcp://mqtt.example.com:1883", c.config.Broker)
	assert.Equal(t, "birdcore/status", c.config.StatusTopic)
	assert.Equal(t, "birdcore", c.config.ClientID)
}

func TestNewClientDefaultsClientID(t *testing.T) {
	settings := &conf.Settings{}
	c := NewClient(settings).(*client)
	assert.Equal(t, "birdcore", c.config.ClientID)
}

func TestIsConnectedFalseBeforeConnect(t *testing.T) {
	c := &client{reconnectStop: make(chan struct{})}
	require.False(t, c.IsConnected())
}

func TestResolveBrokerHostnameRejectsInvalidURL(t *testing.T) {
	c := &client{config: Config{Broker: "://not-a-url"}}
	require.Error(t, c.resolveBrokerHostname())
}

func TestDisconnectIsSafeWithoutConnect(t *testing.T) {
	c := &client{reconnectStop: make(chan struct{})}
	require.NotPanics(t, func() { c.Disconnect() })
}
