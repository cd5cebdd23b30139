// Package bridge forwards bus activity across the context boundary as
// discrete wire messages, one isolated subscription scope per connection.
// Delivery is fire-and-forget, at-most-once: a message the remote side is
// not listening for is dropped.
package bridge

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/planweave/planweave/internal/event"
	"github.com/planweave/planweave/internal/idgen"
	"github.com/planweave/planweave/internal/metrics"
)

// PostFunc delivers one message to the remote context.
type PostFunc func(ctx context.Context, msg Message) error

// ResolveBaseURL resolves the base URL used for workflow deep links. It is
// an asynchronous boundary; resolution happens off the emit path.
type ResolveBaseURL func(ctx context.Context) (string, error)

type Options struct {
	// BaseURL is used when ResolveBaseURL is nil.
	BaseURL string
	// ResolveBaseURL overrides the static BaseURL.
	ResolveBaseURL ResolveBaseURL
}

type Bridge struct {
	bus     *event.Bus
	logger  zerolog.Logger
	resolve ResolveBaseURL
}

func New(bus *event.Bus, logger zerolog.Logger, opts Options) *Bridge {
	resolve := opts.ResolveBaseURL
	if resolve == nil {
		base := opts.BaseURL
		resolve = func(context.Context) (string, error) { return base, nil }
	}
	return &Bridge{bus: bus, logger: logger, resolve: resolve}
}

// outboundQueueSize bounds the per-connection queue. Overflow drops the
// event; the boundary gives no delivery guarantee anyway.
const outboundQueueSize = 64

// Handle owns one connection's subscriptions and cancellation scope.
// Cleaning up one handle has no observable effect on any other.
type Handle struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan event.Event
	unsubs []func()
	once   sync.Once
	logger zerolog.Logger
}

func (h *Handle) ID() string { return h.id }

// Setup subscribes a fresh connection to the streams the bridge forwards
// and starts its writer. The returned handle must be cleaned up when the
// connection closes.
func (b *Bridge) Setup(post PostFunc) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	id := idgen.New()
	h := &Handle{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan event.Event, outboundQueueSize),
		logger: b.logger.With().Str("connection_id", id).Logger(),
	}

	h.unsubs = append(h.unsubs,
		b.bus.Stream(event.DomainWorkflow).Subscribe(h.enqueue),
		b.bus.Stream(event.DomainAgent).Subscribe(h.enqueue),
		b.bus.Stream(event.DomainState).Subscribe(h.enqueue),
		b.bus.Stream(event.DomainError).Subscribe(h.enqueue),
	)

	metrics.BridgeConnections.Inc()
	go b.writer(h, post)
	return h
}

// Cleanup cancels the handle's scope and unsubscribes every tracked
// subscription. It is idempotent.
func (h *Handle) Cleanup() {
	h.once.Do(func() {
		h.cancel()
		for _, unsub := range h.unsubs {
			unsub()
		}
		metrics.BridgeConnections.Dec()
	})
}

// enqueue hands an event to the connection's writer without blocking the
// emitting context.
func (h *Handle) enqueue(evt event.Event) {
	select {
	case <-h.ctx.Done():
	case h.queue <- evt:
	default:
		h.logger.Debug().
			Str("domain", string(evt.Domain)).
			Str("type", evt.Type).
			Msg("outbound queue full, dropping event")
	}
}

// writer drains the handle's queue, maps each event to its wire message and
// posts it. A single writer per connection keeps same-connection ordering,
// in particular error-then-done.
func (b *Bridge) writer(h *Handle, post PostFunc) {
	for {
		select {
		case <-h.ctx.Done():
			return
		case evt := <-h.queue:
			b.forward(h, post, evt)
		}
	}
}

func (b *Bridge) forward(h *Handle, post PostFunc, evt event.Event) {
	switch evt.Domain {
	case event.DomainWorkflow:
		payload, ok := evt.Payload.(event.WorkflowPayload)
		if !ok || evt.Type != event.TypeWorkflowCreated {
			return
		}
		base, err := b.resolve(h.ctx)
		if err != nil {
			h.logger.Warn().Err(err).Msg("base URL resolution failed, dropping workflow message")
			return
		}
		b.post(h, post, WorkflowCreatedMessage(payload, base))

	case event.DomainAgent:
		payload, ok := evt.Payload.(event.AgentPayload)
		if !ok {
			return
		}
		b.post(h, post, AgentActivityMessage(payload, evt.Type, evt.Timestamp))

	case event.DomainState:
		payload, ok := evt.Payload.(event.StatePayload)
		if !ok {
			return
		}
		b.post(h, post, StateTransitionMessage(payload))

	case event.DomainError:
		payload, ok := evt.Payload.(event.ErrorPayload)
		if !ok || !ShouldForwardError(payload) {
			return
		}
		// done always follows an error so the remote side never stays
		// stuck waiting on a response.
		b.post(h, post, ErrorMessage(payload))
		b.post(h, post, DoneMessage())
	}
}

func (b *Bridge) post(h *Handle, post PostFunc, msg Message) {
	if h.ctx.Err() != nil {
		return
	}
	if err := post(h.ctx, msg); err != nil {
		h.logger.Debug().Err(err).Str("kind", string(msg.Kind)).Msg("post failed, message dropped")
		return
	}
	metrics.BridgeMessages.WithLabelValues(string(msg.Kind)).Inc()
}
