// Package stream implements the in-process notification fan-out: a
// per-order channel that pushes settlement status changes to subscribed
// clients and a global channel for broadcast configuration events. The
// registries are process-local and best-effort, never authoritative.
package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/iliyamo/animal-market/internal/model"
)

// OrderEvent is the payload pushed on an order's channel whenever the
// settlement reconciler commits a status change.
type OrderEvent struct {
	OrderID uint64 `json:"order_id"`
	Status  string `json:"status"`
}

// ConfigEvent is the payload broadcast on the global channel when an
// operator changes configuration, e.g. bans an animal.
type ConfigEvent struct {
	Kind      string `json:"kind"`
	SessionID uint64 `json:"session_id,omitempty"`
	Animal    uint32 `json:"animal,omitempty"`
	Banned    bool   `json:"banned,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Subscriber is one long-lived push connection. Events carries marshaled
// payloads; Done is closed when the hub discards the subscription, either
// because the order reached a terminal status or because the subscriber
// could not keep up.
type Subscriber struct {
	events chan []byte
	done   chan struct{}
	once   sync.Once
}

// Events is the stream of marshaled payloads to write to the client.
func (s *Subscriber) Events() <-chan []byte { return s.events }

// Done is closed when the subscription has been discarded server-side.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub is the lifecycle-scoped fan-out service. One instance is created at
// startup and injected into the settlement service and the stream
// handlers; there is no package-level registry.
type Hub struct {
	mu     sync.Mutex
	orders map[uint64]map[*Subscriber]struct{}
	global map[*Subscriber]struct{}
	grace  time.Duration
}

// NewHub returns an empty hub. grace is how long subscribers of an order
// are kept open after a terminal status is published, allowing in-flight
// reads to complete before the registration is discarded.
func NewHub(grace time.Duration) *Hub {
	if grace <= 0 {
		grace = 3 * time.Second
	}
	return &Hub{
		orders: make(map[uint64]map[*Subscriber]struct{}),
		global: make(map[*Subscriber]struct{}),
		grace:  grace,
	}
}

func newSubscriber() *Subscriber {
	return &Subscriber{
		events: make(chan []byte, 8),
		done:   make(chan struct{}),
	}
}

// SubscribeOrder registers a new connection on an order's channel.
func (h *Hub) SubscribeOrder(orderID uint64) *Subscriber {
	sub := newSubscriber()
	h.mu.Lock()
	set := h.orders[orderID]
	if set == nil {
		set = make(map[*Subscriber]struct{})
		h.orders[orderID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// SubscribeGlobal registers a new connection on the broadcast channel.
func (h *Hub) SubscribeGlobal() *Subscriber {
	sub := newSubscriber()
	h.mu.Lock()
	h.global[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// UnsubscribeOrder removes a connection from an order's channel, e.g. on
// client disconnect. Empty registrations are discarded.
func (h *Hub) UnsubscribeOrder(orderID uint64, sub *Subscriber) {
	h.mu.Lock()
	if set, ok := h.orders[orderID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.orders, orderID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// UnsubscribeGlobal removes a connection from the broadcast channel.
func (h *Hub) UnsubscribeGlobal(sub *Subscriber) {
	h.mu.Lock()
	delete(h.global, sub)
	h.mu.Unlock()
	sub.close()
}

// PublishOrder delivers a status event to every subscriber of the order.
// A subscriber whose buffer is full is dropped on the spot, mirroring the
// write-failure removal rule for dead connections. When the published
// status is terminal the remaining subscribers are closed after the grace
// delay and the registration is discarded.
func (h *Hub) PublishOrder(orderID uint64, status string) {
	payload, err := json.Marshal(OrderEvent{OrderID: orderID, Status: status})
	if err != nil {
		return
	}
	h.mu.Lock()
	for sub := range h.orders[orderID] {
		select {
		case sub.events <- payload:
		default:
			delete(h.orders[orderID], sub)
			sub.close()
		}
	}
	h.mu.Unlock()
	if model.TerminalStatus(status) {
		time.AfterFunc(h.grace, func() { h.CloseOrder(orderID) })
	}
}

// PublishConfig broadcasts a configuration event to every global
// subscriber, dropping the ones that cannot keep up.
func (h *Hub) PublishConfig(ev ConfigEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	for sub := range h.global {
		select {
		case sub.events <- payload:
		default:
			delete(h.global, sub)
			sub.close()
		}
	}
	h.mu.Unlock()
}

// CloseOrder closes and discards every subscription of an order.
func (h *Hub) CloseOrder(orderID uint64) {
	h.mu.Lock()
	set := h.orders[orderID]
	delete(h.orders, orderID)
	h.mu.Unlock()
	for sub := range set {
		sub.close()
	}
}

// OrderSubscribers reports how many connections are registered for an
// order.
func (h *Hub) OrderSubscribers(orderID uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.orders[orderID])
}
