// Package notify is an in-process observer registry for user-facing
// notices. The UI layer subscribes by event name; business code publishes
// and never blocks on a slow or absent subscriber.
package notify

import "sync"

// Notice names published by the agent.
const (
	EventOffer          = "ride.offer"
	EventRideTaken      = "ride.taken"
	EventRideCancelled  = "ride.cancelled"
	EventRideStarted    = "ride.started"
	EventBillReady      = "ride.bill"
	EventHoursWarning   = "hours.warning"
	EventForcedOffline  = "hours.autoStop"
	EventConnectionLost = "channel.disconnected"
)

type Handler func(payload any)

// Registry fans out notices to named subscribers. Publish runs handlers
// synchronously in subscription order; handlers must not call back into
// Subscribe from the same goroutine while holding their own locks.
type Registry struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]Handler
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler and returns its unsubscribe func.
func (r *Registry) Subscribe(event string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[event] == nil {
		r.subs[event] = make(map[int]Handler)
	}
	id := r.next
	r.next++
	r.subs[event][id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs[event], id)
	}
}

func (r *Registry) Publish(event string, payload any) {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.subs[event]))
	for _, h := range r.subs[event] {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()
	for _, h := range handlers {
		h(payload)
	}
}
