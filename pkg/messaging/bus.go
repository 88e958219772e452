// Package messaging connects the service to its message bus. MQTT and NATS
// transports are supported; "none" keeps everything local and only logs.
package messaging

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xanthein/cvservice/pkg/logging"
)

// Transport names.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
	TransportNone = "none"
)

// Handler receives a message delivered on a subscribed topic. It runs on the
// transport's own goroutine.
type Handler func(topic string, payload []byte)

// Bus publishes and subscribes to topics.
type Bus interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

// Options configures a transport.
type Options struct {
	Transport      string
	URL            string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
}

// ErrUnknownTransport is returned for an unsupported transport name.
var ErrUnknownTransport = errors.New("unknown messaging transport")

// ErrNotConnected is returned when publishing on a closed bus.
var ErrNotConnected = errors.New("message bus not connected")

// Connect opens the transport selected by opts.Transport.
func Connect(opts Options) (Bus, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	switch strings.ToLower(opts.Transport) {
	case TransportMQTT, "":
		return NewMQTTBus(opts)
	case TransportNATS:
		return NewNATSBus(opts)
	case TransportNone:
		return NewLogBus(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, opts.Transport)
}

// LogBus is a Bus with no broker: publications are logged and subscriptions
// only fire through Deliver.
type LogBus struct {
	handlers map[string][]Handler
	closed   bool
}

// NewLogBus creates a LogBus.
func NewLogBus() *LogBus {
	return &LogBus{handlers: make(map[string][]Handler)}
}

// Publish logs the message.
func (b *LogBus) Publish(topic string, payload []byte) error {
	if b.closed {
		return ErrNotConnected
	}
	logging.Component("messaging").WithField("topic", topic).Debugf("local publish: %s", payload)
	return nil
}

// Subscribe registers handler for topic.
func (b *LogBus) Subscribe(topic string, handler Handler) error {
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Deliver invokes the handlers registered for topic.
func (b *LogBus) Deliver(topic string, payload []byte) {
	for _, h := range b.handlers[topic] {
		h(topic, payload)
	}
}

// Close marks the bus closed.
func (b *LogBus) Close() error {
	b.closed = true
	return nil
}
