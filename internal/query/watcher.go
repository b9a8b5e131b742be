package query

import (
	"sync"

	"github.com/scribehub/recordcache/internal/cache"
)

// Watcher follows a key that changes over time, such as a list whose filters
// the user edits. Only the current key's state is delivered: results that
// land for a key the watcher has moved away from are dropped.
type Watcher struct {
	c        *Coordinator
	onChange func(cache.Entry)

	mu     sync.Mutex
	sub    *Subscription
	gen    uint64
	closed bool
}

// SetKey switches the watcher to key. The previous subscription is released.
func (w *Watcher) SetKey(key cache.QueryKey, fetcher Fetcher, opts Options) *Subscription {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	if w.sub != nil && w.sub.Key() == key {
		sub := w.sub
		w.mu.Unlock()
		return sub
	}
	w.gen++
	gen := w.gen
	prev := w.sub
	w.sub = nil
	w.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}

	opts.OnChange = func(e cache.Entry) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed || w.gen != gen || e.Key != key {
			return
		}
		if w.onChange != nil {
			w.onChange(e)
		}
	}

	sub := w.c.Subscribe(key, fetcher, opts)

	w.mu.Lock()
	if w.closed || w.gen != gen {
		w.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	w.sub = sub
	w.mu.Unlock()
	return sub
}

// Key returns the current key.
func (w *Watcher) Key() (cache.QueryKey, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub == nil {
		return cache.QueryKey{}, false
	}
	return w.sub.Key(), true
}

// Entry returns the state of the current key.
func (w *Watcher) Entry() cache.Entry {
	w.mu.Lock()
	sub := w.sub
	w.mu.Unlock()
	if sub == nil {
		return cache.Entry{}
	}
	return sub.Entry()
}

// Close releases the current subscription.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}
