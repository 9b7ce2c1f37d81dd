package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/buddywatch/buddywatch/server/config"
	"github.com/buddywatch/buddywatch/server/log"
	"github.com/cyclopcam/logs"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the subset of an MQTT client that the bridge needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type MQTTClient struct {
	client mqtt.Client
}

// ConnectMQTT connects to the broker described by cfg
func ConnectMQTT(cfg *config.MQTTConfig) (*MQTTClient, error) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("MQTT connect to %v timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connect to %v: %w", broker, err)
	}
	return &MQTTClient{client: cli}, nil
}

func (c *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("MQTT publish to %v timed out", topic)
	}
	return token.Error()
}

func (c *MQTTClient) Close() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

// MQTTBridge republishes notices from the hub to <topic>/<kind>, so that home automation
// systems can react to them. Detections are published to <topic>/detection only when they
// are drawn, which keeps the broker quiet while nobody is in view.
type MQTTBridge struct {
	log       logs.Log
	hub       *Hub
	publisher Publisher
	topic     string
	events    chan *Event
	done      chan bool
}

func NewMQTTBridge(logger logs.Log, hub *Hub, publisher Publisher, topic string) *MQTTBridge {
	return &MQTTBridge{
		log:       log.NewPrefixLogger(logger, "MQTT"),
		hub:       hub,
		publisher: publisher,
		topic:     topic,
	}
}

// Start the bridge goroutine
func (b *MQTTBridge) Start() {
	b.events = b.hub.AddWatcher()
	b.done = make(chan bool)
	go b.run()
}

// Stop the bridge, and wait for the goroutine to exit
func (b *MQTTBridge) Stop() {
	b.hub.RemoveWatcher(b.events)
	close(b.events)
	<-b.done
}

func (b *MQTTBridge) run() {
	defer close(b.done)
	for ev := range b.events {
		var topic string
		var payload []byte
		var err error
		switch ev.Type {
		case EventNotice:
			topic = b.topic + "/" + string(ev.Notice.Kind)
			payload, err = json.Marshal(ev.Notice)
		case EventDetection:
			if !ev.Drawn {
				continue
			}
			topic = b.topic + "/detection"
			payload, err = json.Marshal(ev.Detection)
		}
		if err != nil {
			b.log.Errorf("Failed to marshal %v: %v", ev.Type, err)
			continue
		}
		if err := b.publisher.Publish(topic, 0, false, payload); err != nil {
			b.log.Warnf("Publish to %v failed: %v", topic, err)
		}
	}
}
