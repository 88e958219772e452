package messaging

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/xanthein/cvservice/pkg/logging"
)

// NATSBus is a Bus over a NATS server. Topics are used verbatim as subjects.
type NATSBus struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// NewNATSBus connects to the server at opts.URL (e.g. nats://localhost:4222).
func NewNATSBus(opts Options) (*NATSBus, error) {
	natsOpts := []nats.Option{
		nats.Name(opts.ClientID),
		nats.Timeout(opts.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Component("messaging").WithError(err).Warn("NATS disconnected")
		}),
	}
	if opts.Username != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}

	conn, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect to %s: %w", opts.URL, err)
	}

	logging.Component("messaging").WithField("server", opts.URL).Info("NATS started")
	return &NATSBus{conn: conn}, nil
}

// Publish sends payload on the subject topic.
func (b *NATSBus) Publish(topic string, payload []byte) error {
	if b.conn.IsClosed() {
		return ErrNotConnected
	}
	return b.conn.Publish(topic, payload)
}

// Subscribe registers handler on the subject topic.
func (b *NATSBus) Subscribe(topic string, handler Handler) error {
	sub, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		logging.Component("messaging").WithField("topic", m.Subject).Info("NATS message received")
		handler(m.Subject, m.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
