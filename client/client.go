// Package client maintains the live connection to the remote session
// service: it supervises the event stream with reconnection, batches
// inbound events, and exposes the typed operation surface.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
)

const (
	// DefaultBatchInterval is the flush window for inbound events.
	DefaultBatchInterval = 16 * time.Millisecond

	backoffBase = 250 * time.Millisecond
	backoffMax  = 5 * time.Second
)

// StatusKind identifies a connection status signal.
type StatusKind string

const (
	StatusConnected    StatusKind = "connected"
	StatusDisconnected StatusKind = "disconnected"
	StatusReconnecting StatusKind = "reconnecting"
	StatusReconnected  StatusKind = "reconnected"
	StatusError        StatusKind = "error"
)

// Status is one connection status signal. Attempt is set on reconnecting
// signals; Err on error signals.
type Status struct {
	Kind    StatusKind
	Attempt int
	Err     error
}

// Options configures a Client.
type Options struct {
	// Endpoint is the remote service base URL. Ignored when Remote is set.
	Endpoint string
	// Directory is an optional workspace hint forwarded to the remote.
	Directory string
	// Remote overrides the HTTP transport for operations.
	Remote RemoteService
	// EventSource overrides the event stream. When set, the internal
	// stream is never opened.
	EventSource EventSource
	// BatchInterval overrides DefaultBatchInterval.
	BatchInterval time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Client owns exactly one logical connection to the remote service.
type Client struct {
	remote   RemoteService
	source   EventSource
	interval time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}

	queue     []protocol.Event
	timer     *time.Timer
	lastFlush time.Time

	nextSubID int
	batchSubs []subscriber[[]protocol.Event]
	eventSubs []subscriber[protocol.Event]
	typeSubs  map[protocol.EventType][]subscriber[protocol.Event]
	statSubs  []subscriber[Status]

	// deliverMu serializes batch delivery so flushes never reorder.
	deliverMu sync.Mutex
}

// New creates a client. When Remote is not supplied an HTTP transport is
// built from Endpoint.
func New(opts Options) (*Client, error) {
	remote := opts.Remote
	source := opts.EventSource
	if remote == nil {
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("client: endpoint is required")
		}
		transport := NewTransport(opts.Endpoint, opts.Directory, nil)
		remote = transport
		if source == nil {
			source = transport
		}
	}
	if source == nil {
		return nil, fmt.Errorf("client: no event source available")
	}

	interval := opts.BatchInterval
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		remote:   remote,
		source:   source,
		interval: interval,
		log:      logger,
		typeSubs: map[protocol.EventType][]subscriber[protocol.Event]{},
	}, nil
}

// Remote returns the underlying operation surface.
func (c *Client) Remote() RemoteService { return c.remote }

// Connect opens the event stream and starts the supervision loop. It is
// idempotent while connected. On failure no state is left behind and the
// error is both signalled and returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	stream, err := c.source.Subscribe(ctx)
	if err != nil {
		err = fmt.Errorf("failed to open event stream: %w", err)
		c.emitStatus(Status{Kind: StatusError, Err: err})
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.connected {
		// Lost the race with a concurrent Connect.
		c.mu.Unlock()
		cancel()
		stream.Close()
		return nil
	}
	c.connected = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.emitStatus(Status{Kind: StatusConnected})
	go c.supervise(runCtx, stream, done)
	return nil
}

// Disconnect cancels the stream and halts the reconnect loop. Pending
// batch state is dropped. A later Connect is accepted.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.queue = nil
	c.mu.Unlock()

	cancel()
	<-done
	c.emitStatus(Status{Kind: StatusDisconnected})
}

// supervise consumes the stream and reconnects with exponential backoff
// until the run context is cancelled.
func (c *Client) supervise(ctx context.Context, stream Stream, done chan struct{}) {
	defer close(done)

	// The closer goroutine shuts the live stream on cancellation so that
	// a blocked Next call unblocks. The mutex serializes it against the
	// swap to a freshly subscribed stream; a swap that loses the race
	// reports false and the loop closes the new stream itself.
	var streamMu sync.Mutex
	current := stream
	go func() {
		<-ctx.Done()
		streamMu.Lock()
		if current != nil {
			current.Close()
		}
		streamMu.Unlock()
	}()

	swap := func(s Stream) bool {
		streamMu.Lock()
		defer streamMu.Unlock()
		if ctx.Err() != nil {
			return false
		}
		current = s
		return true
	}

	for {
		err := c.consume(ctx, stream)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			c.log.Warn("event stream failed", "error", err)
			c.emitStatus(Status{Kind: StatusError, Err: err})
		}

		attempt := 0
		for {
			attempt++
			delay := backoffDelay(attempt)
			c.emitStatus(Status{Kind: StatusReconnecting, Attempt: attempt})

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			next, err := c.source.Subscribe(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
				c.emitStatus(Status{Kind: StatusError, Err: err})
				continue
			}
			if !swap(next) {
				// Cancelled while the dial was in flight.
				next.Close()
				return
			}
			stream = next
			c.emitStatus(Status{Kind: StatusReconnected})
			break
		}
	}
}

// backoffDelay is min(250ms * 2^(attempt-1), 5s).
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffMax {
			return backoffMax
		}
	}
	if delay > backoffMax {
		return backoffMax
	}
	return delay
}

func (c *Client) consume(ctx context.Context, stream Stream) error {
	for {
		ev, err := stream.Next()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.enqueue(ev)
	}
}

// enqueue adds an event to the pending batch. If the batch interval has
// already elapsed since the last flush the batch goes out immediately,
// otherwise a timer covers the remainder of the window.
func (c *Client) enqueue(ev protocol.Event) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, ev)
	if c.timer != nil {
		c.mu.Unlock()
		return
	}
	elapsed := time.Since(c.lastFlush)
	if elapsed >= c.interval {
		c.mu.Unlock()
		c.flush()
		return
	}
	c.timer = time.AfterFunc(c.interval-elapsed, c.flush)
	c.mu.Unlock()
}

// flush delivers the pending batch in arrival order: first to batch
// subscribers, then event by event to type-keyed and catch-all
// subscribers.
func (c *Client) flush() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	batch := c.queue
	c.queue = nil
	c.lastFlush = time.Now()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batchSubs := append([]subscriber[[]protocol.Event](nil), c.batchSubs...)
	eventSubs := append([]subscriber[protocol.Event](nil), c.eventSubs...)
	typeSubs := make(map[protocol.EventType][]subscriber[protocol.Event], len(c.typeSubs))
	for k, v := range c.typeSubs {
		typeSubs[k] = append([]subscriber[protocol.Event](nil), v...)
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	for _, sub := range batchSubs {
		sub.fn(batch)
	}
	for _, ev := range batch {
		for _, sub := range typeSubs[eventTypeOf(ev)] {
			sub.fn(ev)
		}
		for _, sub := range eventSubs {
			sub.fn(ev)
		}
	}
}

func eventTypeOf(ev protocol.Event) protocol.EventType {
	switch v := ev.(type) {
	case *protocol.SessionUpdatedEvent:
		return protocol.EventSessionUpdated
	case *protocol.SessionDeletedEvent:
		return protocol.EventSessionDeleted
	case *protocol.SessionStatusEvent:
		return protocol.EventSessionStatus
	case *protocol.SessionErrorEvent:
		return protocol.EventSessionError
	case *protocol.SessionIdleEvent:
		return protocol.EventSessionIdle
	case *protocol.MessageUpdatedEvent:
		return protocol.EventMessageUpdated
	case *protocol.MessageRemovedEvent:
		return protocol.EventMessageRemoved
	case *protocol.PartUpdatedEvent:
		return protocol.EventPartUpdated
	case *protocol.PartDeltaEvent:
		return protocol.EventPartDelta
	case *protocol.PartRemovedEvent:
		return protocol.EventPartRemoved
	case *protocol.PermissionAskedEvent:
		return protocol.EventPermissionAsked
	case *protocol.PermissionRepliedEvent:
		return protocol.EventPermissionReplied
	case *protocol.QuestionAskedEvent:
		return protocol.EventQuestionAsked
	case *protocol.QuestionRepliedEvent:
		return protocol.EventQuestionReplied
	case *protocol.QuestionRejectedEvent:
		return protocol.EventQuestionRejected
	case *protocol.TodoUpdatedEvent:
		return protocol.EventTodoUpdated
	case *protocol.NotificationEvent:
		return protocol.EventNotification
	case *protocol.InstanceDisposedEvent:
		return protocol.EventInstanceDisposed
	case *protocol.FileWatcherEvent:
		return protocol.EventFileWatcher
	case *protocol.UnknownEvent:
		return v.Type
	}
	return ""
}

// SubscribeBatches registers fn for whole batches in arrival order. The
// returned function cancels the subscription.
func (c *Client) SubscribeBatches(fn func([]protocol.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.batchSubs = append(c.batchSubs, subscriber[[]protocol.Event]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.batchSubs = removeSub(c.batchSubs, id)
	}
}

// SubscribeEvents registers a catch-all per-event subscriber.
func (c *Client) SubscribeEvents(fn func(protocol.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.eventSubs = append(c.eventSubs, subscriber[protocol.Event]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.eventSubs = removeSub(c.eventSubs, id)
	}
}

// SubscribeType registers fn for one event kind only.
func (c *Client) SubscribeType(typ protocol.EventType, fn func(protocol.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.typeSubs[typ] = append(c.typeSubs[typ], subscriber[protocol.Event]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.typeSubs[typ] = removeSub(c.typeSubs[typ], id)
	}
}

// SubscribeStatus registers fn for connection status signals.
func (c *Client) SubscribeStatus(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.statSubs = append(c.statSubs, subscriber[Status]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.statSubs = removeSub(c.statSubs, id)
	}
}

func (c *Client) emitStatus(s Status) {
	c.mu.Lock()
	subs := append([]subscriber[Status](nil), c.statSubs...)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.fn(s)
	}
}

func removeSub[T any](subs []subscriber[T], id int) []subscriber[T] {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
