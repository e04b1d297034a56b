package events

import (
	"sort"
	"sync"

	"github.com/gwlsn/fetchray/internal/relay"
)

// subscriberBuffer is how many events a slow subscriber may lag before
// events are dropped for it
const subscriberBuffer = 100

// Broker fans job events out to in-process subscribers (the SSE stream)
// and tracks which jobs are currently running.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan relay.Event]struct{}
	active      map[string]*relay.Record
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan relay.Event]struct{}),
		active:      make(map[string]*relay.Record),
	}
}

// Notify implements relay.Notifier. It never blocks.
func (b *Broker) Notify(ev relay.Event) {
	b.mu.Lock()
	if ev.Record != nil {
		if ev.Type == relay.EventStarted {
			b.active[ev.Record.ID] = ev.Record
		} else {
			delete(b.active, ev.Record.ID)
		}
	}
	b.mu.Unlock()

	b.broadcast(ev)
}

// Subscribe returns a channel that receives job events
func (b *Broker) Subscribe() chan relay.Event {
	ch := make(chan relay.Event, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(ch chan relay.Event) {
	b.mu.Lock()
	_, ok := b.subscribers[ch]
	delete(b.subscribers, ch)
	b.mu.Unlock()

	if ok {
		close(ch)
	}
}

// Close ends every subscription, which lets open SSE streams return
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Active returns the running jobs, oldest first
func (b *Broker) Active() []*relay.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	records := make([]*relay.Record, 0, len(b.active))
	for _, rec := range b.active {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

// broadcast sends an event to all subscribers
func (b *Broker) broadcast(ev relay.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Channel full, skip this subscriber
		}
	}
}
