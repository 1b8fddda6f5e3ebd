package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/animal-market/internal/model"
)

func recvEvent(t *testing.T, sub *Subscriber) OrderEvent {
	t.Helper()
	select {
	case payload := <-sub.Events():
		var ev OrderEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return OrderEvent{}
	}
}

func TestPublishOrderFansOut(t *testing.T) {
	h := NewHub(time.Minute)
	a := h.SubscribeOrder(7)
	b := h.SubscribeOrder(7)
	other := h.SubscribeOrder(8)

	h.PublishOrder(7, model.OrderPaid)

	for _, sub := range []*Subscriber{a, b} {
		ev := recvEvent(t, sub)
		assert.Equal(t, uint64(7), ev.OrderID)
		assert.Equal(t, model.OrderPaid, ev.Status)
	}
	select {
	case <-other.Events():
		t.Fatal("event leaked to another order's subscriber")
	default:
	}
}

func TestPublishTerminalClosesAfterGrace(t *testing.T) {
	h := NewHub(10 * time.Millisecond)
	sub := h.SubscribeOrder(7)

	h.PublishOrder(7, model.OrderWon)
	assert.Equal(t, model.OrderWon, recvEvent(t, sub).Status)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after grace delay")
	}
	assert.Equal(t, 0, h.OrderSubscribers(7))
}

func TestNonTerminalKeepsSubscription(t *testing.T) {
	h := NewHub(10 * time.Millisecond)
	sub := h.SubscribeOrder(7)

	h.PublishOrder(7, model.OrderPaid)
	recvEvent(t, sub)

	time.Sleep(50 * time.Millisecond)
	select {
	case <-sub.Done():
		t.Fatal("subscription closed on a non-terminal status")
	default:
	}
	assert.Equal(t, 1, h.OrderSubscribers(7))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := NewHub(time.Minute)
	sub := h.SubscribeOrder(7)

	// Fill the buffer without draining, then publish once more.
	for i := 0; i < cap(sub.events); i++ {
		h.PublishOrder(7, model.OrderPending)
	}
	h.PublishOrder(7, model.OrderPending)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
	assert.Equal(t, 0, h.OrderSubscribers(7))
}

func TestUnsubscribeOrder(t *testing.T) {
	h := NewHub(time.Minute)
	sub := h.SubscribeOrder(7)
	h.UnsubscribeOrder(7, sub)

	assert.Equal(t, 0, h.OrderSubscribers(7))
	select {
	case <-sub.Done():
	default:
		t.Fatal("done not closed on unsubscribe")
	}
	// Publishing afterwards must not panic or deliver.
	h.PublishOrder(7, model.OrderPaid)
}

func TestPublishConfigBroadcast(t *testing.T) {
	h := NewHub(time.Minute)
	sub := h.SubscribeGlobal()
	defer h.UnsubscribeGlobal(sub)

	h.PublishConfig(ConfigEvent{Kind: "capacity_ban", SessionID: 3, Animal: 5, Banned: true, Reason: "fraud"})

	select {
	case payload := <-sub.Events():
		var ev ConfigEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		assert.Equal(t, "capacity_ban", ev.Kind)
		assert.Equal(t, uint64(3), ev.SessionID)
		assert.Equal(t, uint32(5), ev.Animal)
		assert.True(t, ev.Banned)
		assert.Equal(t, "fraud", ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for config event")
	}
}
