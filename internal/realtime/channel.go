package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel publishes and subscribes to change events over Redis pub/sub,
// one Redis channel per (table, case).
type Channel struct {
	client *redis.Client
	prefix string
	log    *zap.SugaredLogger
}

// NewChannel connects to Redis and returns a push channel.
func NewChannel(redisURL string, log *zap.SugaredLogger) (*Channel, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewChannelWithClient(client, log), nil
}

// NewChannelWithClient creates a push channel from an existing Redis client
func NewChannelWithClient(client *redis.Client, log *zap.SugaredLogger) *Channel {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Channel{client: client, prefix: "portal:changes:", log: log}
}

// Publish sends an event to the subscribers of its (table, case).
func (c *Channel) Publish(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.client.Publish(ctx, channelName(c.prefix, e.Table, e.CaseID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe registers handler for events matching f. It returns once
// Redis has confirmed the subscription, so any event published after
// Subscribe returns is delivered. Events are handed to handler one at a
// time, in publish order, from a single goroutine.
func (c *Channel) Subscribe(ctx context.Context, f Filter, handler func(Event)) (*Subscription, error) {
	if f.Table == "" || f.CaseID == "" {
		return nil, errors.New("subscribe: table and case id are required")
	}
	name := channelName(c.prefix, f.Table, f.CaseID)
	pubsub := c.client.Subscribe(ctx, name)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}
	go sub.run(pubsub.Channel(), f, handler, c.log.With("channel", name))
	return sub, nil
}

// Close closes the Redis connection
func (c *Channel) Close() error {
	return c.client.Close()
}

func (c *Channel) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Subscription is a live subscription returned by Channel.Subscribe.
type Subscription struct {
	pubsub *redis.PubSub
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
	err    error
}

func (s *Subscription) run(messages <-chan *redis.Message, f Filter, handler func(Event), log *zap.SugaredLogger) {
	defer close(s.done)
	for msg := range messages {
		if s.closed.Load() {
			// Drain until go-redis closes the channel.
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			log.Warnw("dropping malformed change event", "error", err)
			continue
		}
		if err := e.Validate(); err != nil {
			log.Warnw("dropping invalid change event", "error", err)
			continue
		}
		if !f.Matches(e) {
			continue
		}
		handler(e)
	}
}

// Unsubscribe releases the subscription. It is safe to call more than
// once. When it returns, no handler call is in progress and none will
// start. It must not be called from inside the handler.
func (s *Subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}
