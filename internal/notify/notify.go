// Package notify delivers parcel status changes to back-office subscriber
// URLs. Delivery is at-least-once with exponential backoff; consumers must
// handle duplicates idempotently.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription is one back-office endpoint interested in parcel events.
// The secret never leaves the server once registered.
type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Secret string   `json:"-"`
	Events []string `json:"events,omitempty"` // e.g. parcel.update; empty means all
}

// Delivery is one pending or completed webhook attempt.
type Delivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string // pending, delivered, failed
	Attempts       int
	NextAttemptAt  time.Time
	LastError      string
}

// Queue holds subscriptions and the outbound delivery queue. In-memory;
// the queue drains within seconds so durability buys little here.
type Queue struct {
	mu         sync.Mutex
	subs       []Subscription
	deliveries map[string]*Delivery
}

func NewQueue() *Queue {
	return &Queue{deliveries: map[string]*Delivery{}}
}

func (q *Queue) AddSubscription(s Subscription) Subscription {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	q.mu.Lock()
	q.subs = append(q.subs, s)
	q.mu.Unlock()
	return s
}

// Subscriptions returns a snapshot of the registered subscriptions.
func (q *Queue) Subscriptions() []Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Subscription, len(q.subs))
	copy(out, q.subs)
	return out
}

func (q *Queue) subscriptionsFor(eventType string) []Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []Subscription{}
	for _, s := range q.subs {
		if len(s.Events) == 0 {
			out = append(out, s)
			continue
		}
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func (q *Queue) enqueue(sub Subscription, eventType string, payload []byte) {
	d := &Delivery{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		EventType:      eventType,
		URL:            sub.URL,
		Secret:         sub.Secret,
		Payload:        payload,
		Status:         "pending",
		NextAttemptAt:  time.Now(),
	}
	q.mu.Lock()
	q.deliveries[d.ID] = d
	q.mu.Unlock()
}

func (q *Queue) due(now time.Time, limit int) []*Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []*Delivery{}
	for _, d := range q.deliveries {
		if d.Status == "pending" && !d.NextAttemptAt.After(now) {
			out = append(out, d)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

func (q *Queue) mark(id string, success bool, next time.Time, lastErr string, maxAttempts int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.deliveries[id]
	if !ok {
		return
	}
	d.Attempts++
	if success {
		d.Status = "delivered"
		return
	}
	d.LastError = lastErr
	if d.Attempts >= maxAttempts {
		d.Status = "failed"
		return
	}
	d.NextAttemptAt = next
}
