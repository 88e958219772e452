package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/xanthein/cvservice/pkg/logging"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("message bus operation timed out")

// MQTTBus is a Bus over an MQTT broker. Subscriptions are re-established on
// every reconnect.
type MQTTBus struct {
	client mqtt.Client
	opts   Options

	mu   sync.Mutex
	subs map[string]Handler
}

// NewMQTTBus connects to the broker at opts.URL (e.g. tcp://localhost:1883).
func NewMQTTBus(opts Options) (*MQTTBus, error) {
	b := &MQTTBus{opts: opts, subs: make(map[string]Handler)}

	co := mqtt.NewClientOptions().
		AddBroker(opts.URL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(opts.ConnectTimeout).
		SetOnConnectHandler(b.resubscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logging.Component("messaging").WithError(err).Warn("MQTT connection lost")
		})
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}

	b.client = mqtt.NewClient(co)
	tok := b.client.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", opts.URL)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", opts.URL, err)
	}

	logging.Component("messaging").WithField("broker", opts.URL).Info("MQTT started")
	return b, nil
}

// Publish sends payload on topic and waits, at most the connect timeout, for
// the broker to accept it.
func (b *MQTTBus) Publish(topic string, payload []byte) error {
	if !b.client.IsConnected() {
		return ErrNotConnected
	}
	tok := b.client.Publish(topic, b.opts.QoS, false, payload)
	if !tok.WaitTimeout(b.timeout()) {
		return fmt.Errorf("%w: mqtt publish %s", ErrTimeout, topic)
	}
	return tok.Error()
}

func (b *MQTTBus) timeout() time.Duration {
	if b.opts.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return b.opts.ConnectTimeout
}

// Subscribe registers handler on topic.
func (b *MQTTBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	b.subs[topic] = handler
	b.mu.Unlock()
	return b.subscribe(b.client, topic, handler)
}

func (b *MQTTBus) subscribe(c mqtt.Client, topic string, handler Handler) error {
	tok := c.Subscribe(topic, b.opts.QoS, func(_ mqtt.Client, m mqtt.Message) {
		logging.Component("messaging").WithField("topic", m.Topic()).Info("MQTT message received")
		handler(m.Topic(), m.Payload())
	})
	if !tok.WaitTimeout(b.timeout()) {
		return fmt.Errorf("%w: mqtt subscribe %s", ErrTimeout, topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

func (b *MQTTBus) resubscribe(c mqtt.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, h := range b.subs {
		if err := b.subscribe(c, topic, h); err != nil {
			logging.Component("messaging").WithError(err).Error("MQTT resubscribe failed")
		}
	}
}

// Close disconnects, allowing in-flight work a short grace period.
func (b *MQTTBus) Close() error {
	b.client.Disconnect(250)
	return nil
}
