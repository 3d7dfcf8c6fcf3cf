package locate

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ObservationHandler is called for every scanner message. On a decode
// failure msg is nil and err is set.
type ObservationHandler func(scannerID string, msg *ObservationMessage, err error)

// MQTTClient manages the broker connection and scanner subscriptions
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handler     ObservationHandler
	isConnected bool
	mu          sync.RWMutex
}

// ResolveBroker returns the broker address, preferring MQTT_BROKER
func ResolveBroker(config *Config) string {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil {
		broker = config.MQTT.Broker
	}
	return broker
}

// NewMQTTClient builds a client for the configured scanners. It does not
// connect until Start is called. If no broker is configured MQTT is
// disabled and it returns nil, nil.
func NewMQTTClient(config *Config, handler ObservationHandler) (*MQTTClient, error) {
	broker := ResolveBroker(config)
	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if len(config.Scanners) == 0 {
		return nil, fmt.Errorf("%w: MQTT enabled but no scanners configured", ErrConfig)
	}

	client := &MQTTClient{
		config:  config,
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(envOr("MQTT_CLIENT_ID", config.MQTT.ClientID, "roomprint"))

	if username := envOr("MQTT_USERNAME", config.MQTT.Username, ""); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", config.MQTT.Password, ""))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)
	return client, nil
}

// Start connects in the background. Observations reach the handler once
// the scanner topics are subscribed, so anything the handler reads must be
// set up before Start.
func (c *MQTTClient) Start() {
	go c.connectWithRetry()
}

// envOr returns the environment value, then the config value, then def
func envOr(key, configured, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if configured != "" {
		return configured
	}
	return def
}

// connectWithRetry attempts to connect to the broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to every scanner topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to scanner topics...")
	c.setConnected(true)

	for _, scanner := range c.config.Scanners {
		if scanner.Topic == "" {
			log.Printf("Warning: scanner %s has no topic configured", scanner.ID)
			continue
		}

		token := client.Subscribe(scanner.Topic, 0, c.createMessageHandler(scanner.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", scanner.Topic, token.Error())
		} else {
			log.Printf("Subscribed to %s for scanner %s", scanner.Topic, scanner.ID)
		}
	}
}

// onConnectionLost is called when the connection drops; auto-reconnect retries
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createMessageHandler decodes messages from one scanner's topic
func (c *MQTTClient) createMessageHandler(scannerID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[DEBUG] Received observation for %s (topic: %s, size: %d bytes)",
			scannerID, msg.Topic(), len(payload))

		obs, err := DecodeObservation(payload, scannerID)
		if err != nil {
			log.Printf("Error decoding observation for %s: %v", scannerID, err)
		} else if obs.Scanner != scannerID {
			log.Printf("Warning: payload on %s names scanner %s, using %s", msg.Topic(), obs.Scanner, scannerID)
			obs.Scanner = scannerID
		}

		if c.handler != nil {
			c.handler(scannerID, obs, err)
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
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying MQTT client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps an existing mqtt.Client, used by tests
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler ObservationHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		config:  config,
		handler: handler,
	}
}
