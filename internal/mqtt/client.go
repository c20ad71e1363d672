// Package mqtt wraps the paho MQTT client with resolve-before-connect,
// a last-will status topic, and exponential-backoff reconnection.
package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/logging"
)

var log = logging.ForService("mqtt")

// Config describes one broker connection.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	StatusTopic string // last-will/birth topic, empty disables LWT
}

// Client publishes messages to an MQTT broker, transparently reconnecting
// in the background after a connection loss.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic, payload string) error
	IsConnected() bool
	Disconnect()
}

type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
}

// NewClient builds a Client from the application's MQTT settings.
func NewClient(settings *conf.Settings) Client {
	clientID := settings.MQTT.ClientID
	if clientID == "" {
		clientID = "birdcore"
	}

	return &client{
		config: Config{
			Broker:      fmt.Sprintf("tcp://%s:%d", settings.MQTT.BrokerHost, settings.MQTT.BrokerPort),
			ClientID:    clientID,
			Username:    settings.MQTT.Username,
			Password:    settings.MQTT.Password,
			StatusTopic: settings.MQTT.TopicPrefix + "/status",
		},
		reconnectStop: make(chan struct{}),
	}
}

// Connect resolves the broker hostname and establishes a session, arming a
// last-will message on the status topic so other consumers can detect an
// ungraceful disconnect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastConnAttempt) < time.Minute {
		return fmt.Errorf("connection attempt too recent")
	}
	c.lastConnAttempt = time.Now()

	if err := c.resolveBrokerHostname(); err != nil {
		return fmt.Errorf("resolving broker hostname: %w", err)
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	if c.config.StatusTopic != "" {
		opts.SetWill(c.config.StatusTopic, "offline", 1, true)
	}

	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	return nil
}

func (c *client) resolveBrokerHostname() error {
	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return fmt.Errorf("invalid broker url: %w", err)
	}

	host := u.Hostname()
	if _, err := net.LookupHost(host); err != nil {
		return fmt.Errorf("resolving hostname %s: %w", host, err)
	}
	return nil
}

// Publish sends payload to topic, waiting up to 10s for broker acknowledgment.
func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnectedLocked() {
		return fmt.Errorf("not connected to mqtt broker")
	}

	token := c.internalClient.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// IsConnected reports the current broker connection state.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnectedLocked()
}

func (c *client) isConnectedLocked() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect publishes the retained "offline" status, tears down the
// session, and stops any pending reconnect attempts.
func (c *client) Disconnect() {
	c.mu.Lock()
	if c.internalClient != nil && c.internalClient.IsConnected() {
		if c.config.StatusTopic != "" {
			c.internalClient.Publish(c.config.StatusTopic, 1, true, "offline").WaitTimeout(time.Second)
		}
		c.internalClient.Disconnect(250)
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.reconnectStop) })
}

func (c *client) onConnect(_ paho.Client) {
	log.Info("connected to mqtt broker", "broker", c.config.Broker)
	if c.config.StatusTopic != "" {
		c.internalClient.Publish(c.config.StatusTopic, 1, true, "online")
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	log.Warn("mqtt connection lost", "broker", c.config.Broker, "error", err)
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.mu.Lock()
	c.reconnectTimer = time.AfterFunc(time.Minute, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
	c.mu.Unlock()
}

func (c *client) reconnectWithBackoff() {
	backoff := time.Second
	const maxBackoff = 5 * time.Minute

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			log.Info("reconnected to mqtt broker", "broker", c.config.Broker)
			return
		}

		log.Warn("mqtt reconnect failed", "error", err, "retry_in", backoff)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-c.reconnectStop:
			return
		}
	}
}
