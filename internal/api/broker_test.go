package api

import (
	"testing"
	"time"

	"lastmile/internal/model"
)

func TestBrokerPubSub(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("c1")
	other := b.Subscribe("c2")

	b.Publish("c1", model.ChangeEvent{Op: "update", TrackingNo: "A"})

	select {
	case evt := <-ch:
		if evt.TrackingNo != "A" {
			t.Fatalf("event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case evt := <-other:
		t.Fatalf("cross-courier leak: %+v", evt)
	default:
	}

	b.Unsubscribe("c1", ch)
	b.Unsubscribe("c2", other)
	// Publishing after unsubscribe must not panic or block.
	b.Publish("c1", model.ChangeEvent{Op: "update", TrackingNo: "B"})
}

func TestBrokerDropsWhenSlow(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("c1")
	defer b.Unsubscribe("c1", ch)

	// Overflow the buffer; sends are non-blocking so this must return.
	for i := 0; i < 100; i++ {
		b.Publish("c1", model.ChangeEvent{Op: "update", TrackingNo: "A"})
	}
	if len(ch) == 0 || len(ch) > 8 {
		t.Fatalf("buffered: %d", len(ch))
	}
}
