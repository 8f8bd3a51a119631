// Package livesync keeps an in-memory collection of records consistent
// with the database by combining one bulk fetch with a stream of pushed
// row changes for the same key.
//
// A Sync moves through Idle, Fetching, Live and Closed. While Fetching,
// pushed changes are buffered in arrival order; when the fetch completes
// they are applied over the fetched rows, and afterwards every change is
// applied as it arrives. Inserts whose id is already present are dropped,
// updates for unknown ids are dropped.
package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
)

// RawEvent is a pushed row change before it is decoded.
type RawEvent struct {
	Op  Op
	Row json.RawMessage
}

// Handle is a live push subscription. Unsubscribe must be safe to call
// once the handle is no longer wanted, and no delivery may start after it
// returns.
type Handle interface {
	Unsubscribe() error
}

type FetchFunc[T any] func(ctx context.Context, key string) ([]T, error)

// SubscribeFunc opens a push subscription for key. deliver is called
// sequentially, in commit order, for every change.
type SubscribeFunc func(ctx context.Context, key string, deliver func(RawEvent)) (Handle, error)

type Config[T any] struct {
	// Kind names the collection in logs and errors, e.g. "documents".
	Kind      string
	Fetch     FetchFunc[T]
	Subscribe SubscribeFunc
	// Decode parses a pushed row. Rows it rejects are logged and dropped.
	Decode func(json.RawMessage) (T, error)
	ID     func(T) string
	// Key returns the key a record belongs to. When set, pushed rows for
	// any other key are dropped.
	Key func(T) string
	// Singleton collections hold at most one record; an insert replaces it.
	Singleton bool
	// Retries is how many more times a failed subscribe is attempted,
	// RetryDelay apart.
	Retries    int
	RetryDelay time.Duration
	Logger     *zap.SugaredLogger
}

// Sync is one live collection. It tracks a single key at a time.
type Sync[T any] struct {
	cfg Config[T]
	log *zap.SugaredLogger

	// lifecycle serializes subscription setup and release so that at most
	// one handle is live and the old one is gone before a new one is
	// requested.
	lifecycle sync.Mutex

	mu       sync.Mutex
	gen      uint64
	key      string
	state    State
	items    []T
	pending  []change[T]
	fetchSeq uint64
	fetchErr error
	subErr   error
	handle   Handle
	cancel   context.CancelFunc
	current  *Collection[T]
}

type change[T any] struct {
	op   Op
	item T
}

func New[T any](cfg Config[T]) (*Sync[T], error) {
	if cfg.Fetch == nil || cfg.Subscribe == nil || cfg.Decode == nil || cfg.ID == nil {
		return nil, errors.New("livesync: Fetch, Subscribe, Decode and ID are required")
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sync[T]{cfg: cfg, log: log.With("kind", cfg.Kind)}, nil
}

func (s *Sync[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sync[T]) startFetchLocked(ctx context.Context, gen uint64, key string) {
	s.fetchSeq++
	seq := s.fetchSeq
	go func() {
		items, err := s.cfg.Fetch(ctx, key)
		s.finishFetch(gen, seq, key, items, err)
	}()
}

func (s *Sync[T]) finishFetch(gen, seq uint64, key string, items []T, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.fetchSeq != seq || s.state != Fetching {
		s.log.Debugw("discarding stale fetch", "key", key)
		return
	}

	if err != nil {
		s.fetchErr = &FetchError{Kind: s.cfg.Kind, Key: key, Err: err}
		s.log.Warnw("fetch failed", "key", key, "error", err)
		items = nil
	} else {
		s.fetchErr = nil
	}

	merged := slices.Clone(items)
	for _, c := range s.pending {
		merged = s.merge(merged, c)
	}
	s.items = merged
	s.pending = nil
	s.state = Live
	s.notifyLocked()
}

func (s *Sync[T]) deliver(gen uint64, key string, ev RawEvent) {
	if ev.Op != OpInsert && ev.Op != OpUpdate {
		s.log.Warnw("dropping unsupported change", "key", key, "op", ev.Op)
		return
	}
	item, err := s.cfg.Decode(ev.Row)
	if err != nil {
		s.log.Warnw("dropping malformed row", "key", key, "error", err)
		return
	}
	if s.cfg.ID(item) == "" {
		s.log.Warnw("dropping row without id", "key", key)
		return
	}
	if s.cfg.Key != nil {
		if k := s.cfg.Key(item); k != key {
			s.log.Warnw("dropping row for another key", "key", key, "row_key", k)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		s.log.Debugw("dropping change from stale subscription", "key", key)
		return
	}
	c := change[T]{op: ev.Op, item: item}
	switch s.state {
	case Fetching:
		s.pending = append(s.pending, c)
	case Live:
		s.items = s.merge(s.items, c)
		s.notifyLocked()
	}
}

// merge applies one change. The returned slice is never the one passed in
// when it differs, so views handed out earlier stay valid.
func (s *Sync[T]) merge(items []T, c change[T]) []T {
	id := s.cfg.ID(c.item)
	idx := slices.IndexFunc(items, func(it T) bool { return s.cfg.ID(it) == id })

	switch c.op {
	case OpInsert:
		if idx >= 0 {
			return items
		}
		if s.cfg.Singleton {
			return []T{c.item}
		}
		out := make([]T, 0, len(items)+1)
		out = append(out, c.item)
		return append(out, items...)
	case OpUpdate:
		if idx < 0 {
			return items
		}
		out := slices.Clone(items)
		out[idx] = c.item
		return out
	}
	return items
}

func (s *Sync[T]) notifyLocked() {
	if s.current == nil {
		return
	}
	select {
	case s.current.changes <- struct{}{}:
	default:
	}
}
