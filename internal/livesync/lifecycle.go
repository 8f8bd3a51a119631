package livesync

import (
	"context"
	"time"
)

// Attach starts tracking key and returns the collection for it. Attaching
// the key already being tracked returns the existing collection. Attaching
// a different key closes the previous collection and releases its
// subscription before the new subscription is requested.
//
// Attach blocks until the subscribe request has been answered; the fetch
// runs in the background. ctx bounds the whole observation.
func (s *Sync[T]) Attach(ctx context.Context, key string) *Collection[T] {
	s.mu.Lock()
	if s.current != nil && s.state != Closed && s.key == key {
		c := s.current
		s.mu.Unlock()
		return c
	}
	old := s.closeLocked()
	gen := s.gen
	runCtx, cancel := context.WithCancel(ctx)
	s.key = key
	s.state = Fetching
	s.cancel = cancel
	s.current = newCollection(s, gen, key)
	c := s.current
	s.mu.Unlock()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.release(old)

	subscribed := s.subscribe(runCtx, gen, key, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return c
	}
	s.startFetchLocked(runCtx, gen, key)
	if !subscribed && s.cfg.Retries > 0 {
		go s.retry(runCtx, gen, key)
	}
	return c
}

// Detach stops tracking. The subscription is released before Detach
// returns.
func (s *Sync[T]) Detach() {
	s.mu.Lock()
	old := s.closeLocked()
	s.mu.Unlock()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.release(old)
}

// closeLocked ends the current generation. Callbacks still holding the old
// generation are ignored from here on. It returns the handle to release.
func (s *Sync[T]) closeLocked() Handle {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.current != nil {
		// Drop a pending signal so readers see the close straight away.
		select {
		case <-s.current.changes:
		default:
		}
		close(s.current.changes)
		s.current = nil
	}
	h := s.handle
	s.handle = nil
	s.state = Closed
	s.items = nil
	s.pending = nil
	s.fetchErr = nil
	s.subErr = nil
	return h
}

// subscribe must be called with the lifecycle lock held.
func (s *Sync[T]) subscribe(ctx context.Context, gen uint64, key string, attempt int) bool {
	h, err := s.cfg.Subscribe(ctx, key, func(ev RawEvent) { s.deliver(gen, key, ev) })

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if err == nil {
			s.release(h)
		}
		return false
	}
	defer s.mu.Unlock()
	if err != nil {
		s.subErr = &SubscriptionError{Kind: s.cfg.Kind, Key: key, Attempts: attempt, Err: err}
		s.log.Warnw("subscribe failed", "key", key, "attempt", attempt, "error", err)
		s.notifyLocked()
		return false
	}
	s.handle = h
	s.subErr = nil
	return true
}

// retry keeps trying to subscribe for gen. On success the collection is
// refetched, since changes committed while unsubscribed were missed.
func (s *Sync[T]) retry(ctx context.Context, gen uint64, key string) {
	timer := time.NewTimer(s.cfg.RetryDelay)
	defer timer.Stop()

	for attempt := 2; attempt <= s.cfg.Retries+1; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.lifecycle.Lock()
		if !s.isCurrent(gen) {
			s.lifecycle.Unlock()
			return
		}
		ok := s.subscribe(ctx, gen, key, attempt)
		if ok {
			s.mu.Lock()
			if s.gen == gen {
				s.log.Infow("subscribed after retry, resyncing", "key", key, "attempt", attempt)
				s.state = Fetching
				s.pending = nil
				s.startFetchLocked(ctx, gen, key)
			}
			s.mu.Unlock()
		}
		s.lifecycle.Unlock()
		if ok {
			return
		}
		timer.Reset(s.cfg.RetryDelay)
	}
	s.log.Warnw("giving up on subscription, view is fetch-only", "key", key, "attempts", s.cfg.Retries+1)
}

func (s *Sync[T]) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Sync[T]) release(h Handle) {
	if h == nil {
		return
	}
	if err := h.Unsubscribe(); err != nil {
		s.log.Warnw("unsubscribe failed", "error", err)
	}
}
