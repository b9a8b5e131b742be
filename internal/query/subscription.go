package query

import (
	"context"
	"sync"

	"github.com/scribehub/recordcache/internal/cache"
)

// Subscription is one observer of a key. Every subscriber holds the key in the
// cache; the entry becomes evictable once all of them have unsubscribed.
type Subscription struct {
	c        *Coordinator
	key      cache.QueryKey
	onChange func(cache.Entry)

	stopListening func()

	mu      sync.Mutex
	entry   cache.Entry
	version uint64
	closed  bool
	changed chan struct{}
}

func newSubscription(c *Coordinator, key cache.QueryKey, onChange func(cache.Entry)) *Subscription {
	return &Subscription{
		c:        c,
		key:      key,
		onChange: onChange,
		changed:  make(chan struct{}),
	}
}

// Key returns the subscribed key.
func (s *Subscription) Key() cache.QueryKey {
	return s.key
}

// Entry returns the latest state seen by the subscription.
func (s *Subscription) Entry() cache.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

// Data returns the latest data, which may be stale or optimistic.
func (s *Subscription) Data() any {
	return s.Entry().Data
}

// Status returns the latest status.
func (s *Subscription) Status() cache.Status {
	return s.Entry().Status
}

// Err returns the error of the most recent failed fetch, if any.
func (s *Subscription) Err() error {
	return s.Entry().Err
}

// Wait blocks until the entry is settled in success or error and returns the
// entry. Data kept from an earlier fetch is returned alongside a fetch error.
func (s *Subscription) Wait(ctx context.Context) (cache.Entry, error) {
	for {
		s.mu.Lock()
		e := s.entry
		ch := s.changed
		closed := s.closed
		s.mu.Unlock()

		switch {
		case e.Status == cache.StatusSuccess:
			return e, nil
		case e.Status == cache.StatusError:
			return e, e.Err
		case closed:
			return e, context.Canceled
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return e, ctx.Err()
		}
	}
}

// Refetch forces a foreground refetch of the key.
func (s *Subscription) Refetch(ctx context.Context) error {
	s.c.mu.Lock()
	reg, ok := s.c.regs[s.key]
	s.c.mu.Unlock()
	if !ok {
		return nil
	}
	return s.c.wait(ctx, s.c.start(s.key, reg, foreground))
}

// Unsubscribe stops delivery and releases the key. It is safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.changed)
	s.mu.Unlock()

	s.stopListening()
	s.c.release(s.key)
}

func (s *Subscription) deliver(e cache.Entry) {
	s.mu.Lock()
	if s.closed || (s.version != 0 && e.Version() <= s.version) {
		s.mu.Unlock()
		return
	}
	s.entry = e
	s.version = e.Version()
	close(s.changed)
	s.changed = make(chan struct{})
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(e)
	}
}
