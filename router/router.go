// Package router resolves which consumer owns a session, forwards store
// notifications to it, and performs the blocking permission/question
// round-trips without ever letting a consumer stall the session.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Shakudo-io/kaji-opencode-relay/client"
	"github.com/Shakudo-io/kaji-opencode-relay/policy"
	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
	"github.com/Shakudo-io/kaji-opencode-relay/store"
)

// DefaultRoundTripTimeout bounds consumer permission/question handlers.
const DefaultRoundTripTimeout = 5 * time.Minute

// Service is what the router needs from the connection manager: sending
// prompts and replying to permission/question requests. *client.Client
// satisfies it.
type Service interface {
	Prompt(ctx context.Context, req client.PromptRequest) (*protocol.Message, error)
	RespondPermission(ctx context.Context, sessionID, permissionID string, reply protocol.PermissionReply) error
	AnswerQuestion(ctx context.Context, sessionID, questionID string, answers [][]string) error
	RejectQuestion(ctx context.Context, sessionID, questionID string) error
}

// Options configures a Router.
type Options struct {
	Service Service
	Store   *store.Store
	// DefaultConsumer receives notifications for unclaimed sessions.
	DefaultConsumer string
	// RoundTripTimeout overrides DefaultRoundTripTimeout.
	RoundTripTimeout time.Duration
	// Policy, when set, pre-gates permission requests before any
	// consumer is consulted.
	Policy *policy.Engine
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Router owns the consumer registry and the session ownership map.
type Router struct {
	service Service
	store   *store.Store
	policy  *policy.Engine
	timeout time.Duration
	log     *slog.Logger

	mu          sync.RWMutex
	consumers   map[string]Consumer
	order       []string
	claims      map[string]string
	defaultID   string
	origins     map[string][]string
	storeCancel func()
}

// New creates a router. Register consumers and call Initialize before
// connecting the client.
func New(opts Options) (*Router, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("router: service is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("router: store is required")
	}
	timeout := opts.RoundTripTimeout
	if timeout <= 0 {
		timeout = DefaultRoundTripTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		service:   opts.Service,
		store:     opts.Store,
		policy:    opts.Policy,
		timeout:   timeout,
		log:       logger,
		consumers: map[string]Consumer{},
		claims:    map[string]string{},
		defaultID: opts.DefaultConsumer,
		origins:   map[string][]string{},
	}, nil
}

// Register adds a consumer. Registering an existing ID replaces it.
func (r *Router) Register(c Consumer) {
	id := c.Info().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.consumers[id]; !ok {
		r.order = append(r.order, id)
	}
	r.consumers[id] = c
}

// Unregister removes a consumer and releases its claims.
func (r *Router) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.consumers, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for sessionID, owner := range r.claims {
		if owner == id {
			delete(r.claims, sessionID)
		}
	}
}

// Claim assigns a session to a consumer, overriding the default.
func (r *Router) Claim(sessionID, consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[sessionID] = consumerID
}

// Release drops a session's explicit ownership.
func (r *Router) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, sessionID)
}

// resolve returns the consumer owning the session: explicit claim, then
// configured default, then the sole registrant. Nil means no owner and the
// notification is dropped.
func (r *Router) resolve(sessionID string) Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.claims[sessionID]; ok {
		if c, ok := r.consumers[id]; ok {
			return c
		}
	}
	if r.defaultID != "" {
		if c, ok := r.consumers[r.defaultID]; ok {
			return c
		}
	}
	if len(r.order) == 1 {
		return r.consumers[r.order[0]]
	}
	return nil
}

func (r *Router) consumer(id string) Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.consumers[id]
}

func (r *Router) allConsumers() []Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Consumer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.consumers[id])
	}
	return out
}

// Initialize runs consumer lifecycle hooks in registration order and
// starts routing store notifications.
func (r *Router) Initialize(ctx context.Context) error {
	for _, c := range r.allConsumers() {
		if hooks, ok := c.(LifecycleHooks); ok {
			if err := hooks.Initialize(ctx); err != nil {
				return fmt.Errorf("failed to initialize consumer %s: %w", c.Info().ID, err)
			}
		}
	}

	cancel := r.store.Subscribe(r.route)
	r.mu.Lock()
	r.storeCancel = cancel
	r.mu.Unlock()
	return nil
}

// Shutdown tears down the store subscription and runs shutdown hooks.
// Hook failures are logged, not propagated.
func (r *Router) Shutdown(ctx context.Context) {
	r.mu.Lock()
	cancel := r.storeCancel
	r.storeCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	for _, c := range r.allConsumers() {
		if hooks, ok := c.(LifecycleHooks); ok {
			if err := hooks.Shutdown(ctx); err != nil {
				r.log.Warn("consumer shutdown failed", "consumer", c.Info().ID, "error", err)
			}
		}
	}
}

// route dispatches one store notification. Forwards run as independent
// containment-wrapped calls; round-trips run concurrently with ongoing
// event application.
func (r *Router) route(n store.Notification) {
	switch v := n.(type) {
	case *store.MessageObserved:
		if c := r.resolve(v.SessionID); c != nil {
			parts := r.store.Parts(v.SessionID, v.Message.ID)
			r.deliver(c, "message observed", func(ctx context.Context) error {
				return c.MessageObserved(ctx, v.SessionID, v.Message, parts)
			})
		}
	case *store.MessageCompleted:
		if c := r.resolve(v.SessionID); c != nil {
			parts := r.store.Parts(v.SessionID, v.Message.ID)
			r.deliver(c, "message completed", func(ctx context.Context) error {
				return c.MessageCompleted(ctx, v.SessionID, v.Message, parts)
			})
		}
	case *store.InboundMessage:
		r.routeInbound(v)
	case *store.StatusChanged:
		if c := r.resolve(v.SessionID); c != nil {
			r.deliver(c, "status changed", func(ctx context.Context) error {
				return c.StatusChanged(ctx, v.SessionID, v.Activity)
			})
		}
	case *store.TodoChanged:
		if c := r.resolve(v.SessionID); c != nil {
			r.deliver(c, "todo changed", func(ctx context.Context) error {
				return c.TodoChanged(ctx, v.SessionID, v.Todos)
			})
		}
	case *store.SessionError:
		if c := r.resolve(v.SessionID); c != nil {
			r.deliver(c, "session error", func(ctx context.Context) error {
				return c.SessionError(ctx, v.SessionID, v.Message)
			})
		}
	case *store.Toast:
		// Toasts fan out to every consumer, not just the session owner.
		for _, c := range r.allConsumers() {
			c := c
			r.deliver(c, "toast", func(ctx context.Context) error {
				return c.Toast(ctx, v.SessionID, v.Title, v.Message, v.Level)
			})
		}
	case *store.PermissionAsked:
		go r.roundTripPermission(v.Permission)
	case *store.QuestionAsked:
		go r.roundTripQuestion(v.Question)
	case *store.SessionCreated:
		for _, c := range r.allConsumers() {
			if h, ok := c.(SessionLifecycleHandler); ok {
				c := c
				r.deliver(c, "session created", func(ctx context.Context) error {
					return h.SessionCreated(ctx, v.Session)
				})
			}
		}
	case *store.SessionDeleted:
		for _, c := range r.allConsumers() {
			if h, ok := c.(SessionLifecycleHandler); ok {
				c := c
				r.deliver(c, "session deleted", func(ctx context.Context) error {
					return h.SessionDeleted(ctx, v.Session)
				})
			}
		}
	}
}

// deliver runs a fire-and-forget consumer callback. Errors and panics are
// logged and contained; one consumer's fault never reaches the store or
// another consumer.
func (r *Router) deliver(c Consumer, what string, fn func(context.Context) error) {
	id := c.Info().ID
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("consumer panicked", "consumer", id, "notification", what, "panic", p)
			}
		}()
		if err := fn(context.Background()); err != nil {
			r.log.Warn("consumer callback failed", "consumer", id, "notification", what, "error", err)
		}
	}()
}
