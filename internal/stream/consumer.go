// Package stream runs one long-lived SSE subscription: it opens the
// stream, decodes frames, hands them to per-event handlers and reconnects
// with backoff whenever the connection drops.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/missionctl/missionctl/internal/backoff"
	"github.com/missionctl/missionctl/internal/sse"
)

// State is the connection state of a consumer.
type State string

const (
	Connecting   State = "connecting"
	Streaming    State = "streaming"
	Disconnected State = "disconnected"
	Closed       State = "closed"
)

// ErrStreamEnded is reported when the server closes the stream cleanly.
var ErrStreamEnded = errors.New("stream ended")

const readBufferSize = 32 * 1024

// OpenFunc opens the stream, resuming after since. The returned body must
// stop reading when ctx is cancelled.
type OpenFunc func(ctx context.Context, since time.Time) (io.ReadCloser, error)

// Handler applies one decoded payload. A returned error drops the frame.
type Handler func(data []byte) error

// Metrics receives consumer telemetry. Implemented by internal/metrics.
type Metrics interface {
	Connected(stream string)
	Disconnected(stream string)
	Frame(stream, event string)
	Dropped(stream, event string)
	ReconnectDelay(stream string, d time.Duration)
	State(stream, state string)
}

// Config configures a Consumer.
type Config struct {
	Name     string
	Open     OpenFunc
	Since    func() time.Time
	Handlers map[string]Handler

	// Backoff defaults to backoff.New(backoff.Options{}).
	Backoff *backoff.Backoff
	// Sleep waits for d or until ctx is done. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnState is called on every state transition.
	OnState func(State)
	Metrics Metrics
	Logger  *slog.Logger
}

// Consumer is a single resilient subscription.
type Consumer struct {
	cfg     Config
	backoff *backoff.Backoff
	decoder sse.Decoder
	state   State
	logger  *slog.Logger
}

// NewConsumer creates a Consumer. Open is required.
func NewConsumer(cfg Config) *Consumer {
	c := &Consumer{cfg: cfg, backoff: cfg.Backoff, logger: cfg.Logger}
	if c.backoff == nil {
		c.backoff = backoff.New(backoff.Options{})
	}
	if c.cfg.Sleep == nil {
		c.cfg.Sleep = sleep
	}
	if c.cfg.Since == nil {
		c.cfg.Since = func() time.Time { return time.Time{} }
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("stream", cfg.Name)
	return c
}

// Name returns the consumer's name.
func (c *Consumer) Name() string {
	return c.cfg.Name
}

// Run connects and reconnects until ctx is cancelled. Connection failures
// are retried forever; Run returns nil once ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.setState(Closed)

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.attempt(ctx)
		if ctx.Err() != nil {
			return nil
		}

		c.setState(Disconnected)
		delay := c.backoff.Next()
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ReconnectDelay(c.cfg.Name, delay)
		}
		c.logger.Warn("stream disconnected", "error", err, "retry_in", delay)

		if err := c.cfg.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// attempt runs one connection from open to drop. The child context is the
// per-attempt abort handle; it is cancelled on return so the body is
// always released.
func (c *Consumer) attempt(ctx context.Context) error {
	c.setState(Connecting)

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	since := c.cfg.Since()
	body, err := c.cfg.Open(attemptCtx, since)
	if err != nil {
		return fmt.Errorf("opening %s stream: %w", c.cfg.Name, err)
	}
	defer body.Close()

	c.setState(Streaming)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Connected(c.cfg.Name)
	}
	c.logger.Debug("stream connected", "since", since)
	c.decoder.Reset()

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			c.backoff.Reset()
			for _, f := range c.decoder.Feed(buf[:n]) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.dispatch(f)
			}
		}
		if readErr == nil {
			continue
		}

		if c.cfg.Metrics != nil {
			c.cfg.Metrics.Disconnected(c.cfg.Name)
		}
		if errors.Is(readErr, io.EOF) {
			if f, ok := c.decoder.Flush(); ok && ctx.Err() == nil {
				c.dispatch(f)
			}
			return ErrStreamEnded
		}
		return fmt.Errorf("reading %s stream: %w", c.cfg.Name, readErr)
	}
}

func (c *Consumer) dispatch(f sse.Frame) {
	h, ok := c.cfg.Handlers[f.Event]
	if !ok {
		return
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Frame(c.cfg.Name, f.Event)
	}
	if err := h([]byte(f.Data)); err != nil {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.Dropped(c.cfg.Name, f.Event)
		}
		c.logger.Debug("dropping frame", "event", f.Event, "id", f.ID, "error", err)
	}
}

func (c *Consumer) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.State(c.cfg.Name, string(s))
	}
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
