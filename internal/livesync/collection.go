package livesync

type State int

const (
	Idle State = iota
	Fetching
	Live
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Live:
		return "live"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// View is a point-in-time copy of a collection. Items is shared with later
// views and must not be modified.
type View[T any] struct {
	Kind  string
	Key   string
	State State
	Items []T
	// Err is a *FetchError when the last fetch failed.
	Err error
	// SubscribeErr is a *SubscriptionError while no push subscription is
	// open.
	SubscribeErr error
}

// Collection is what Attach hands out. Once a later Attach or a Detach
// supersedes it, it reports Closed with no items and its Changes channel
// is closed.
type Collection[T any] struct {
	sync    *Sync[T]
	gen     uint64
	key     string
	changes chan struct{}
}

func newCollection[T any](s *Sync[T], gen uint64, key string) *Collection[T] {
	return &Collection[T]{sync: s, gen: gen, key: key, changes: make(chan struct{}, 1)}
}

func (c *Collection[T]) Key() string { return c.key }

// Changes receives a value after one or more changes to the view. Signals
// coalesce, so readers should take a fresh Snapshot each time.
func (c *Collection[T]) Changes() <-chan struct{} { return c.changes }

func (c *Collection[T]) Snapshot() View[T] {
	s := c.sync
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View[T]{Kind: s.cfg.Kind, Key: c.key, State: Closed}
	if s.gen != c.gen {
		return v
	}
	v.State = s.state
	v.Items = s.items
	v.Err = s.fetchErr
	v.SubscribeErr = s.subErr
	return v
}
