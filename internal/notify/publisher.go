package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lastmile/internal/model"
)

// Publisher fans one parcel change out to every matching subscription.
type Publisher struct {
	Queue *Queue
}

func NewPublisher(q *Queue) *Publisher {
	return &Publisher{Queue: q}
}

// ParcelChanged enqueues a webhook for each subscriber. Satisfies
// consistency.Emitter alongside the realtime broker.
func (p *Publisher) ParcelChanged(ctx context.Context, parcel model.Parcel, op string) {
	eventType := "parcel." + op
	subs := p.Queue.subscriptionsFor(eventType)
	if len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": parcel,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, s := range subs {
		p.Queue.enqueue(s, eventType, body)
	}
}
