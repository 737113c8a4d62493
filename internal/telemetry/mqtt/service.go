package mqtt

import (
	"fmt"
	"log"

	"github.com/Tornadosky/server-pi/internal/eventbus"
)

const bufferCapacity = 256

// Service subscribes to the Event Bus and forwards every snapshot to an
// MQTT broker via Publisher, queueing messages in a ringBuffer while
// status reports disconnected and replaying them, oldest first, once the
// connection returns.
type Service struct {
	bus    *eventbus.Bus
	sub    *eventbus.Subscription
	pub    Publisher
	status ConnectionStatus
	buffer *ringBuffer
}

// New subscribes to bus and returns a Service publishing through pub.
// status may be nil, in which case the Service always assumes connected.
func New(bus *eventbus.Bus, pub Publisher, status ConnectionStatus) *Service {
	return &Service{
		bus:    bus,
		sub:    bus.Subscribe(),
		pub:    pub,
		status: status,
		buffer: newRingBuffer(bufferCapacity),
	}
}

// Run drains the subscription until stop is closed. Intended to run in its
// own goroutine for the process lifetime; never holds a lock and never
// blocks the Event Bus publisher that feeds it.
func (s *Service) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-s.sub.Events():
			for _, ev := range s.sub.Drain() {
				s.handle(ev)
			}
		}
	}
}

func (s *Service) handle(ev any) {
	var (
		topic    string
		qos      byte
		retained bool
		payload  []byte
		err      error
	)

	switch e := ev.(type) {
	case eventbus.PwmUpdated:
		topic, qos, retained = TopicPWM, qosPWM, false
		payload, err = formatPWM(e)
	case eventbus.PulseObserved:
		topic, qos, retained = TopicEncoder, qosEncoder, false
		payload, err = formatPulse(e)
	case eventbus.SensorState:
		topic, qos, retained = TopicEncoderState, qosState, false
		payload, err = formatSensorState(e)
	case eventbus.ControllerStatus:
		topic, qos, retained = TopicController, qosController, true
		payload, err = formatController(e)
	default:
		return
	}
	if err != nil {
		log.Printf("telemetry/mqtt: format %s: %v", topic, err)
		return
	}
	s.publish(topic, qos, retained, payload)
}

func (s *Service) publish(topic string, qos byte, retained bool, payload []byte) {
	if s.status != nil && !s.status.IsConnected() {
		s.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return
	}

	for _, m := range s.buffer.drainAll() {
		if err := s.pub.Publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			log.Printf("telemetry/mqtt: replay %s: %v", m.topic, err)
		}
	}
	if err := s.pub.Publish(topic, qos, retained, payload); err != nil {
		log.Printf("telemetry/mqtt: publish %s: %v", topic, err)
	}
}

// PublishSystem sends a process lifecycle event directly, bypassing the
// Event Bus (there is no STARTUP/SHUTDOWN Event Bus event type).
func (s *Service) PublishSystem(event SystemEvent) error {
	payload, err := formatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return s.pub.Publish(TopicSystem, qosSystem, true, payload)
}

// Close unsubscribes from the Event Bus and closes the underlying Publisher.
func (s *Service) Close() error {
	s.sub.Close()
	return s.pub.Close()
}
