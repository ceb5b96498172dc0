package notify

import (
	EventBus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// Bus is the process-wide publish/subscribe hub for dashboard events.
// Publishers call Broadcast; the realtime hub and alerting subscribe.
type Bus struct {
	bus EventBus.Bus
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{bus: EventBus.New()}
}

// Broadcast publishes payload under event. Subscribers run synchronously.
func (b *Bus) Broadcast(event string, payload any) {
	b.bus.Publish(event, payload)
}

// Subscribe registers fn for one event.
func (b *Bus) Subscribe(event string, fn func(payload any)) error {
	return b.bus.Subscribe(event, fn)
}

// SubscribeAll registers fn for each event in events; fn receives the
// event name with the payload.
func (b *Bus) SubscribeAll(events []string, fn func(event string, payload any)) {
	for _, event := range events {
		event := event
		if err := b.bus.Subscribe(event, func(payload any) { fn(event, payload) }); err != nil {
			zap.S().Errorf("[notify] subscribe %s: %v", event, err)
		}
	}
}
