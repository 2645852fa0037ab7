package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"photoflow-go/config"
	"photoflow-go/internal/core/pipeline"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Client ist der MQTT-Client für ausgehende Pipeline-Benachrichtigungen.
// Er implementiert den Pipeline-Beobachter und veröffentlicht jedes Ereignis
// unter <topic_prefix>/jobs/....
type Client struct {
	config      config.MQTTConfig
	client      mqtt.Client
	isConnected bool
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// Start startet den MQTT-Client und verbindet ihn mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	// MQTT-Client-Optionen konfigurieren
	opts := mqtt.NewClientOptions()

	// Broker-URL erstellen
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)

	// Client-ID
	opts.SetClientID(c.config.ClientID)

	// Optionale Authentifizierung
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// Connection-Callbacks konfigurieren
	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)

	// Automatische Wiederverbindung
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	// Client erstellen
	c.client = mqtt.NewClient(opts)

	// Verbindung herstellen
	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop beendet den MQTT-Client
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		c.client.Disconnect(250) // 250ms Wartezeit
		c.isConnected = false
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Notify implementiert pipeline.Observer. Ereignisse werden nach Art auf
// Topics verteilt; Warteschlangen-Zustand wird mit Retain-Flag veröffentlicht,
// damit spät verbundene Abonnenten den letzten Stand sehen.
func (c *Client) Notify(event pipeline.Event) {
	if !c.IsConnected() {
		return
	}

	var topic string
	retain := false
	switch e := event.(type) {
	case pipeline.QueueUpdatedEvent:
		topic = fmt.Sprintf("%s/queue", c.config.TopicPrefix)
		retain = true
	case pipeline.ProgressUpdatedEvent:
		topic = fmt.Sprintf("%s/jobs/%s/progress", c.config.TopicPrefix, e.JobID)
	case pipeline.JobCompletedEvent:
		topic = fmt.Sprintf("%s/jobs/%s/completed", c.config.TopicPrefix, e.JobID)
	case pipeline.JobFailedEvent:
		topic = fmt.Sprintf("%s/jobs/%s/failed", c.config.TopicPrefix, e.JobID)
	default:
		topic = fmt.Sprintf("%s/events/%s", c.config.TopicPrefix, event.Kind())
	}

	if err := c.PublishMessage(topic, event, retain); err != nil {
		log.Errorf("Failed to publish %s event: %v", event.Kind(), err)
	}
}

// onConnectHandler wird aufgerufen, wenn die Verbindung hergestellt wurde
func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)
	c.isConnected = true
}

// connectionLostHandler wird aufgerufen, wenn die Verbindung verloren geht
func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
	c.isConnected = false
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	var payloadBytes []byte
	var err error

	// Konvertiere die Payload in JSON, wenn es sich um ein Objekt handelt
	switch p := payload.(type) {
	case string:
		payloadBytes = []byte(p)
	case []byte:
		payloadBytes = p
	default:
		payloadBytes, err = json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}
