// Package events fans record changes out to live consumers. Delivery is
// best effort: a subscriber that falls behind misses events.
package events

import (
	"sync"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
)

type Type string

const (
	RecordCreated   Type = "record.created"
	RecordUpdated   Type = "record.updated"
	RecordScheduled Type = "record.scheduled"
	RecordCompleted Type = "record.completed"
	CycleCreated    Type = "cycle.created"
	RecordDeleted   Type = "record.deleted"
)

// Event carries a snapshot of the record after the change.
type Event struct {
	Type      Type               `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Record    maintenance.Record `json:"record"`
}

func New(t Type, r maintenance.Record) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Record: r}
}

// Publisher is what the service needs from a bus.
type Publisher interface {
	Publish(Event)
}

const defaultBuffer = 100

type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	dropped     func(Event)
}

func NewBus() *Bus {
	return &Bus{}
}

// OnDrop registers a callback for events a full subscriber could not take.
func (b *Bus) OnDrop(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped = fn
}

func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, defaultBuffer)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Publish never blocks.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			if b.dropped != nil {
				b.dropped(event)
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close drops every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
