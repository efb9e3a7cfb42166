// Package stream fans journal entries out to live subscribers.
package stream

import (
	"context"
	"fmt"
	"sync"

	"switchboard.dev/internal/journal"
	"switchboard.dev/internal/permission"
)

const defaultBuffer = 16

type subscriber struct {
	ch     chan journal.Entry
	filter permission.Filter
}

// Stream delivers every published entry to the subscribers allowed to see it.
type Stream struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	next   int
	buffer int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs:   make(map[int]subscriber),
		buffer: defaultBuffer,
	}
}

// Subscribe registers a subscriber that sees entries inside f's reseller
// scope, with content withheld as the journal listing does. The channel is
// closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, f permission.Filter) <-chan journal.Entry {
	ch := make(chan journal.Entry, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, filter: f}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Publish fans a journal entry out. It never blocks: a subscriber whose
// buffer is full misses the entry.
func (s *Stream) Publish(_ context.Context, _ string, value any) error {
	entry, ok := value.(journal.Entry)
	if !ok {
		return fmt.Errorf("stream: unexpected value %T", value)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if !sub.filter.Visible(entry.ResellerID) {
			continue
		}
		out := journal.Redact([]journal.Entry{entry}, sub.filter)[0]
		select {
		case sub.ch <- out:
		default:
		}
	}
	return nil
}
