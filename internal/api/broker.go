package api

import (
	"sync"

	"lastmile/internal/model"
)

// EventBroker fans parcel change events out to courier subscribers.
// Delivery is at-least-once; slow subscribers drop events, which is safe
// because every event is only a refresh trigger.
type EventBroker interface {
	Subscribe(courierID string) chan model.ChangeEvent
	Unsubscribe(courierID string, ch chan model.ChangeEvent)
	Publish(courierID string, evt model.ChangeEvent)
}

// Broker is the in-process implementation.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.ChangeEvent]struct{} // courierID -> channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.ChangeEvent]struct{}{}}
}

func (b *Broker) Subscribe(courierID string) chan model.ChangeEvent {
	ch := make(chan model.ChangeEvent, 8)
	b.mu.Lock()
	if b.subs[courierID] == nil {
		b.subs[courierID] = map[chan model.ChangeEvent]struct{}{}
	}
	b.subs[courierID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(courierID string, ch chan model.ChangeEvent) {
	b.mu.Lock()
	if m := b.subs[courierID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, courierID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(courierID string, evt model.ChangeEvent) {
	b.mu.Lock()
	for ch := range b.subs[courierID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
