// Package mqtt connects the inspection service to the robot cell's MQTT
// bus: it receives commands and publishes inspection responses.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/gasketvision/internal/config"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("not connected to MQTT broker")

// Handler receives the payload of a subscribed topic.
type Handler func(topic string, payload []byte)

// Client defines the MQTT operations the bridge needs.
type Client interface {
	// Connect establishes the broker connection. Subscriptions made
	// before or after are restored on every reconnect.
	Connect(ctx context.Context) error
	Subscribe(topic string, h Handler) error
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	QoS               byte
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable timeouts.
func DefaultConfig() Config {
	return Config{
		ClientID:          "gasketvision",
		QoS:               2,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFrom builds a Config from the mqtt settings section.
func ConfigFrom(s config.MQTTConfig) Config {
	c := DefaultConfig()
	c.Broker = s.Broker
	if s.ClientID != "" {
		c.ClientID = s.ClientID
	}
	c.Username = s.Username
	c.Password = s.Password
	c.QoS = byte(s.QoS)
	return c
}

// client implements Client on top of paho.
type client struct {
	config   Config
	logger   *slog.Logger
	onStatus func(connected bool)

	mu   sync.Mutex
	paho paho.Client
	subs map[string]Handler
}

// NewClient creates a paho-backed Client. onStatus, when not nil, is called
// on every connect and connection loss.
func NewClient(cfg Config, logger *slog.Logger, onStatus func(connected bool)) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		config:   cfg,
		logger:   logger.With("service", "mqtt", "broker", cfg.Broker),
		onStatus: onStatus,
		subs:     make(map[string]Handler),
	}
}

// Connect attempts to establish a connection to the MQTT broker. paho
// keeps retrying in the background after a timeout.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.paho == nil {
		opts := paho.NewClientOptions()
		opts.AddBroker(c.config.Broker)
		opts.SetClientID(c.config.ClientID)
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
		opts.SetCleanSession(true)
		opts.SetAutoReconnect(true)
		opts.SetOrderMatters(false)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(c.config.ConnectTimeout)
		opts.SetOnConnectHandler(c.onConnect)
		opts.SetConnectionLostHandler(c.onConnectionLost)
		c.paho = paho.NewClient(opts)
	}
	cl := c.paho
	c.mu.Unlock()

	token := cl.Connect()
	timer := time.NewTimer(c.config.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connection error: %w", err)
		}
		return nil
	case <-timer.C:
		return errors.New("connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers h for topic. The subscription is sent now when
// connected and again on every reconnect.
func (c *client) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	cl := c.paho
	c.mu.Unlock()

	if cl == nil || !cl.IsConnected() {
		return nil
	}
	return c.subscribe(cl, topic, h)
}

func (c *client) subscribe(cl paho.Client, topic string, h Handler) error {
	token := cl.Subscribe(topic, c.config.QoS, func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	return token.Error()
}

// Publish sends payload to topic with the configured QoS.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	cl := c.paho
	c.mu.Unlock()

	if cl == nil || !cl.IsConnected() {
		return ErrNotConnected
	}

	token := cl.Publish(topic, c.config.QoS, false, payload)
	timer := time.NewTimer(c.config.PublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		c.logger.Warn("publish timeout", "topic", topic)
		return fmt.Errorf("publish %s: timeout", topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paho != nil && c.paho.IsConnected()
}

// Disconnect closes the connection and stops reconnecting.
func (c *client) Disconnect() {
	c.mu.Lock()
	cl := c.paho
	c.paho = nil
	c.mu.Unlock()

	if cl != nil {
		cl.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.status(false)
	}
}

func (c *client) onConnect(cl paho.Client) {
	c.logger.Info("connected to MQTT broker")
	c.status(true)

	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		if err := c.subscribe(cl, topic, h); err != nil {
			c.logger.Error("subscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("connection to MQTT broker lost", "error", err)
	c.status(false)
}

func (c *client) status(connected bool) {
	if c.onStatus != nil {
		c.onStatus(connected)
	}
}
