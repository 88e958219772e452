package events

import "errors"

type sent struct {
	Topic   string
	Payload string
}

// MockSender records sends and fails those on topic FailOn, if set.
type MockSender struct {
	Sent    []sent
	FailOn  string
	Failure error
}

func (m *MockSender) Publish(topic string, payload []byte) error {
	if m.FailOn != "" && m.FailOn == topic {
		if m.Failure == nil {
			return errors.New("send failed")
		}
		return m.Failure
	}
	m.Sent = append(m.Sent, sent{Topic: topic, Payload: string(payload)})
	return nil
}
