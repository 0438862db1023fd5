// Package pulse opens the Redis backed Pulse streams that carry session
// events. The status sink appends to them and the subscriber reads them
// through consumer groups.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures New.
	Options struct {
		// Redis backs the streams. Required. The caller keeps ownership.
		Redis *redis.Client
		// MaxLen caps the entries kept per session stream. Zero keeps the
		// Pulse default.
		MaxLen int
		// AddTimeout bounds each append. Zero applies no bound.
		AddTimeout time.Duration
		// TTL expires a stream once no event was appended for that long. Zero
		// keeps streams forever.
		TTL time.Duration
	}

	// Client opens session streams.
	Client interface {
		Stream(name string) (Stream, error)
		// Close stops the client from opening further streams.
		Close(ctx context.Context) error
	}

	// Stream is one session event stream.
	Stream interface {
		// Add appends an event and returns its Redis entry ID.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink joins the named consumer group.
		NewSink(ctx context.Context, group string, opts ...streamopts.Sink) (Sink, error)
	}

	// Sink reads a stream as a member of a consumer group.
	Sink interface {
		Subscribe() <-chan *streaming.Event
		Ack(ctx context.Context, ev *streaming.Event) error
		Close(ctx context.Context)
	}

	redisStreams struct {
		rdb     *redis.Client
		opts    []streamopts.Stream
		timeout time.Duration
		closed  atomic.Bool
	}

	sessionStream struct {
		s       *streaming.Stream
		timeout time.Duration
	}

	groupSink struct {
		s *streaming.Sink
	}
)

// ErrClosed is returned by Stream once the client is closed.
var ErrClosed = errors.New("pulse client closed")

// New returns a Client backed by opts.Redis.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulse: redis client is required")
	}
	c := &redisStreams{rdb: opts.Redis, timeout: opts.AddTimeout}
	if opts.MaxLen > 0 {
		c.opts = append(c.opts, streamopts.WithStreamMaxLen(opts.MaxLen))
	}
	if opts.TTL > 0 {
		c.opts = append(c.opts, streamopts.WithStreamSlidingTTL(opts.TTL))
	}
	return c, nil
}

func (c *redisStreams) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulse: stream name is required")
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}
	s, err := streaming.NewStream(name, c.rdb, c.opts...)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", name, err)
	}
	return &sessionStream{s: s, timeout: c.timeout}, nil
}

func (c *redisStreams) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

func (s *sessionStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("pulse: event name is required")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	id, err := s.s.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("append %s to %s: %w", event, s.s.Name, err)
	}
	return id, nil
}

func (s *sessionStream) NewSink(ctx context.Context, group string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := s.s.NewSink(ctx, group, opts...)
	if err != nil {
		return nil, fmt.Errorf("join group %s on %s: %w", group, s.s.Name, err)
	}
	return groupSink{s: sink}, nil
}

func (g groupSink) Subscribe() <-chan *streaming.Event { return g.s.Subscribe() }

func (g groupSink) Ack(ctx context.Context, ev *streaming.Event) error { return g.s.Ack(ctx, ev) }

func (g groupSink) Close(ctx context.Context) { g.s.Close(ctx) }
