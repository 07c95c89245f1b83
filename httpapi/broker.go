package httpapi

import (
	"sync"

	"github.com/martinemde/toolloop/eventlog"
)

// Broker fans recorded events out to live subscribers. A slow subscriber
// misses records rather than blocking the turn; stream clients catch up
// from the event log.
type Broker struct {
	mu   sync.RWMutex
	subs map[chan eventlog.Record]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan eventlog.Record]struct{})}
}

func (b *Broker) Publish(rec eventlog.Record) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- rec:
		default:
		}
	}
	b.mu.RUnlock()
}

func (b *Broker) Subscribe() chan eventlog.Record {
	ch := make(chan eventlog.Record, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan eventlog.Record) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
