package realtime

import (
	"log"
	"sync"

	"peergenius/pkg/types"
)

// EventHandler receives inbound broker events by name
type EventHandler func(evt *types.Event)

// Subscription is a cancellation handle for a registered handler.
// Cancel is idempotent so teardown paths can call it unconditionally
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel removes the handler. Safe to call more than once
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// subscriptions tracks event and status handlers keyed by a monotonically
// increasing ID so cancellation removes exactly one registration
// ARCHITECTURAL DISCOVERY: explicit handles instead of ad hoc listener lists
// make teardown deterministic and leak-free
type subscriptions struct {
	mu     sync.RWMutex
	nextID uint64
	events map[string]map[uint64]EventHandler
	status map[uint64]StatusHandler
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		events: make(map[string]map[uint64]EventHandler),
		status: make(map[uint64]StatusHandler),
	}
}

func (s *subscriptions) addEvent(name string, handler EventHandler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID

	if s.events[name] == nil {
		s.events[name] = make(map[uint64]EventHandler)
	}
	s.events[name][id] = handler

	return &Subscription{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if handlers, exists := s.events[name]; exists {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(s.events, name)
			}
		}
	}}
}

func (s *subscriptions) addStatus(handler StatusHandler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.status[id] = handler

	return &Subscription{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.status, id)
	}}
}

// dispatch invokes all handlers registered for the event name.
// Handlers are snapshotted under the read lock and invoked outside it so a
// handler can cancel its own subscription without deadlocking
func (s *subscriptions) dispatch(evt *types.Event) {
	s.mu.RLock()
	handlers := make([]EventHandler, 0, len(s.events[evt.Name]))
	for _, h := range s.events[evt.Name] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		invoke(h, evt)
	}
}

func (s *subscriptions) dispatchStatus(status Status, err error) {
	s.mu.RLock()
	handlers := make([]StatusHandler, 0, len(s.status))
	for _, h := range s.status {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(status, err)
	}
}

// invoke guards handler dispatch: a panicking handler must never tear down
// the read loop
func invoke(h EventHandler, evt *types.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Event handler panic for %s: %v", evt.Name, r)
		}
	}()
	h(evt)
}
