package anchor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DetectionHandler is called for every message on a subject's landmark topic.
// err is set when the payload could not be decoded.
type DetectionHandler func(subjectID string, det *Detection, err error)

// MQTTClient manages the broker connection and the landmark subscriptions.
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handler     DetectionHandler
	logger      *slog.Logger
	isConnected bool
	mu          sync.RWMutex
}

// NewMQTTClient builds a client for the configured broker. It returns nil,
// nil when no broker is configured, which disables MQTT. Call Connect to
// start the connection.
func NewMQTTClient(config *Config, handler DetectionHandler, logger *slog.Logger) (*MQTTClient, error) {
	if config == nil || config.MQTT.Broker == "" {
		return nil, nil
	}
	if len(config.Subjects) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no subjects configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &MQTTClient{
		config:  config,
		handler: handler,
		logger:  logger.With("component", "mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.MQTT.Broker)

	clientID := config.MQTT.ClientID
	if clientID == "" {
		clientID = "headanchor"
	}
	opts.SetClientID(clientID)

	if config.MQTT.Username != "" {
		opts.SetUsername(config.MQTT.Username)
		opts.SetPassword(config.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true) // landmark frames are stale by the time a session resumes
	opts.SetOrderMatters(true) // frames of one subject must arrive in completion order

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// WrapMQTTClient creates an MQTTClient around an existing mqtt.Client, such
// as a MockClient in tests. The caller is responsible for subscribing.
func WrapMQTTClient(client mqtt.Client, config *Config, handler DetectionHandler, logger *slog.Logger) *MQTTClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTClient{
		client:  client,
		config:  config,
		handler: handler,
		logger:  logger.With("component", "mqtt"),
	}
}

// Connect connects to the broker, retrying with exponential backoff until it
// succeeds or ctx is cancelled.
func (c *MQTTClient) Connect(ctx context.Context) error {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.logger.Info("connecting to MQTT broker", "broker", c.config.MQTT.Broker)

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.setConnected(true)
				c.logger.Info("connected to MQTT broker")
				return nil
			}
			c.logger.Warn("MQTT connection failed", "error", token.Error())
		} else {
			c.logger.Warn("MQTT connection timeout")
		}

		c.logger.Info("retrying MQTT connection", "delay", retryDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to every subject topic. Paho calls it after each
// (re)connect.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	c.Subscribe(client)
}

// Subscribe subscribes client to every configured subject topic.
func (c *MQTTClient) Subscribe(client mqtt.Client) {
	for _, subject := range c.config.Subjects {
		if subject.Topic == "" {
			c.logger.Warn("subject has no topic configured", "subject", subject.ID)
			continue
		}

		token := client.Subscribe(subject.Topic, 0, c.createMessageHandler(subject.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.logger.Warn("subscribe failed", "topic", subject.Topic, "error", token.Error())
			continue
		}
		c.logger.Info("subscribed", "topic", subject.Topic, "subject", subject.ID)
	}
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection interrupted, auto-reconnect will retry", "error", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting")
}

// createMessageHandler creates a handler function for one subject's topic
func (c *MQTTClient) createMessageHandler(subjectID string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		det, err := DecodeDetection(msg.Payload())
		if err != nil {
			c.logger.Debug("undecodable landmark payload", "subject", subjectID, "topic", msg.Topic(), "bytes", len(msg.Payload()), "error", err)
		}
		if c.handler != nil {
			c.handler(subjectID, det, err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying MQTT client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}
