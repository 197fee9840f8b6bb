package repository

import (
	"encoding/json"
	"sync"
)

// Feed fans document changes out to subscriptions. Each subscription owns a
// queue drained by a single goroutine, so batches reach a handler one at a
// time and in publish order.
type Feed struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]*subscription
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[uint64]*subscription)}
}

type subscription struct {
	filters []Filter
	handler Handler

	mu     sync.Mutex
	queue  [][]Change
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	closed bool
}

// Register adds a subscription whose first batch is initial. The caller
// must hold whatever lock orders writes against the snapshot it took.
func (f *Feed) Register(collection string, filters []Filter, h Handler, initial []Change) Unsubscribe {
	s := &subscription{
		filters: filters,
		handler: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	// Always deliver the initial batch, even when empty, so a subscriber
	// can tell "loaded, nothing there" from "not loaded yet".
	s.queue = append(s.queue, initial)
	s.wake <- struct{}{}

	f.mu.Lock()
	f.next++
	id := f.next
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[uint64]*subscription)
	}
	f.subs[collection][id] = s
	f.mu.Unlock()

	go s.run()

	return func() {
		f.mu.Lock()
		delete(f.subs[collection], id)
		f.mu.Unlock()
		s.close()
	}
}

// Publish routes one document transition to every subscription of the
// collection. prev is nil for inserts and next is nil for deletes. A
// subscription sees the change as Added, Modified or Removed depending on
// whether the document matched its filters before and after.
func (f *Feed) Publish(collection, id string, prev, next json.RawMessage) {
	f.mu.Lock()
	subs := make([]*subscription, 0, len(f.subs[collection]))
	for _, s := range f.subs[collection] {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		was := prev != nil && Match(prev, s.filters)
		is := next != nil && Match(next, s.filters)
		var c Change
		switch {
		case !was && is:
			c = Change{Type: Added, ID: id, Data: next}
		case was && is:
			c = Change{Type: Modified, ID: id, Data: next}
		case was && !is:
			data := next
			if data == nil {
				data = prev
			}
			c = Change{Type: Removed, ID: id, Data: data}
		default:
			continue
		}
		s.enqueue([]Change{c})
	}
}

// Fail reports a stream error to every subscription of the collection.
func (f *Feed) Fail(collection string, err error) {
	f.mu.Lock()
	subs := make([]*subscription, 0, len(f.subs[collection]))
	for _, s := range f.subs[collection] {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		if s.handler.OnError != nil {
			s.handler.OnError(err)
		}
	}
}

// Close drops every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	all := f.subs
	f.subs = make(map[string]map[uint64]*subscription)
	f.mu.Unlock()
	for _, m := range all {
		for _, s := range m {
			s.close()
		}
	}
}

func (s *subscription) enqueue(batch []Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, batch)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			batch := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			if s.handler.OnChange != nil {
				s.handler.OnChange(batch)
			}
		}
	}
}
