package mqtt

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	Messages []bufferedMsg

	// PublishError, if set, is returned by Publish.
	PublishError error

	Closed    bool
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

// Publish records the message.
func (f *FakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

// IsConnected reports the fake's connection state.
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}
