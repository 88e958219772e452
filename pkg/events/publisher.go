// Package events publishes presence and enrollment notifications, dropping
// immediate repeats of the last one sent.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/xanthein/cvservice/pkg/logging"
)

// Topics used by the service.
const (
	TopicRegistered = "person/registered"
	TopicSeen       = "person/seen"
	TopicRegister   = "commands/register"
)

// Sender delivers a payload on a topic.
type Sender interface {
	Publish(topic string, payload []byte) error
}

// Payload is the JSON body of every event.
type Payload struct {
	ID string `json:"id"`
}

// Publisher suppresses a (topic, id) pair equal to the one sent last.
// It is owned by the processing loop.
type Publisher struct {
	sender Sender

	lastTopic string
	lastID    string
	hasLast   bool
}

// NewPublisher creates a Publisher sending through sender.
func NewPublisher(sender Sender) *Publisher {
	return &Publisher{sender: sender}
}

// Publish sends {"id": id} on topic unless it repeats the previous event.
// It reports whether a message was actually sent.
func (p *Publisher) Publish(topic, id string) (bool, error) {
	if p.hasLast && p.lastTopic == topic && p.lastID == id {
		return false, nil
	}

	p.lastTopic, p.lastID, p.hasLast = topic, id, true

	payload, err := json.Marshal(Payload{ID: id})
	if err != nil {
		return false, fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.sender.Publish(topic, payload); err != nil {
		return false, fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	logging.Component("events").WithFields(logging.Fields{
		"topic":   topic,
		"payload": string(payload),
	}).Info("Message published")
	return true, nil
}

// Reset forgets the last event so the next one is always sent.
func (p *Publisher) Reset() {
	p.lastTopic, p.lastID, p.hasLast = "", "", false
}
