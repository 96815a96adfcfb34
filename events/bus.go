package events

import (
	"fmt"
	"reflect"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Handle identifies one subscription.
type Handle uint64

type subscription struct {
	handle Handle
	sub    Subscriber
}

// Bus delivers events synchronously, in registration order, on the
// publisher's goroutine. Each Bus owns its subscriber list.
type Bus struct {
	mu   sync.Mutex
	next Handle
	subs []subscription
	log  log.FieldLogger
}

type BusOption func(*Bus)

// WithLogger sets where subscriber faults are reported.
func WithLogger(l log.FieldLogger) BusOption {
	return func(b *Bus) { b.log = l }
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{log: log.WithField("component", "events")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe appends s to the delivery list.
func (b *Bus) Subscribe(s Subscriber) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.subs = append(b.subs, subscription{handle: b.next, sub: s})
	return b.next
}

// Unsubscribe removes the first subscription holding s, compared by
// reference. It reports false for unknown or non-comparable subscribers.
func (b *Bus) Unsubscribe(s Subscriber) bool {
	if s == nil || !reflect.TypeOf(s).Comparable() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.subs {
		if !reflect.TypeOf(e.sub).Comparable() {
			continue
		}
		if e.sub == s {
			b.removeLocked(i)
			return true
		}
	}
	return false
}

// Remove drops the subscription identified by h.
func (b *Bus) Remove(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.subs {
		if e.handle == h {
			b.removeLocked(i)
			return true
		}
	}
	return false
}

func (b *Bus) removeLocked(i int) {
	subs := make([]subscription, 0, len(b.subs)-1)
	subs = append(subs, b.subs[:i]...)
	b.subs = append(subs, b.subs[i+1:]...)
}

func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish hands e to every current subscriber. Subscribers added or
// removed during delivery take effect on the next Publish.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		if err := deliver(s.sub, e); err != nil {
			b.log.WithFields(log.Fields{
				"kind":  e.Kind,
				"trade": e.Trade.ID,
				"sub":   s.handle,
			}).WithError(err).Error("subscriber failed")
		}
	}
}

func deliver(s Subscriber, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.Notify(e)
}
