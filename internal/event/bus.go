package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/planweave/planweave/internal/metrics"
)

// Handler receives events delivered by a stream or tap.
type Handler func(Event)

// Bus is the process-wide broadcast primitive. Emit stamps each event and
// fans it out synchronously to the attached domain stream and to raw taps.
// There is no queue: an event nobody observes is lost, except for the single
// most recent value each stream caches.
type Bus struct {
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	streams  map[Domain]*Stream
	attached map[Domain]*Stream
	taps     map[int]Handler
	nextTap  int
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger:   logger,
		now:      time.Now,
		streams:  map[Domain]*Stream{},
		attached: map[Domain]*Stream{},
		taps:     map[int]Handler{},
	}
}

// Emit stamps the event with an id and the bus clock, then delivers it to
// the attached stream for its domain and to every tap. The bus is the sole
// timestamp authority. A panicking subscriber never interrupts delivery to
// the rest.
func (b *Bus) Emit(domain Domain, typ string, payload Payload) (Event, error) {
	if !domain.Valid() {
		return Event{}, fmt.Errorf("emit: unknown domain %q", domain)
	}
	if payload != nil && payload.PayloadDomain() != domain {
		return Event{}, fmt.Errorf("emit: payload domain %q does not match %q", payload.PayloadDomain(), domain)
	}

	evt := Event{
		ID:        ulid.Make().String(),
		Domain:    domain,
		Type:      typ,
		Payload:   payload,
		Timestamp: b.now().UTC(),
	}

	b.mu.RLock()
	stream := b.attached[domain]
	taps := make([]Handler, 0, len(b.taps))
	for _, tap := range b.taps {
		taps = append(taps, tap)
	}
	b.mu.RUnlock()

	if stream != nil {
		stream.deliver(evt)
	}
	for _, tap := range taps {
		b.invoke(tap, evt)
	}

	metrics.EventsEmitted.WithLabelValues(string(domain)).Inc()
	return evt, nil
}

// Stream returns the singleton domain stream for the given domain, creating
// it on first use. The stream attaches to the bus only while it has at least
// one subscriber.
func (b *Bus) Stream(domain Domain) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[domain]; ok {
		return s
	}
	s := &Stream{domain: domain, bus: b}
	b.streams[domain] = s
	return s
}

// Tap registers a raw observer of every event regardless of domain. It
// exists for diagnostic sinks (archive, external logging) and bypasses the
// per-domain stream lifecycle. The returned func removes the tap.
func (b *Bus) Tap(fn Handler) func() {
	b.mu.Lock()
	id := b.nextTap
	b.nextTap++
	b.taps[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.taps, id)
		b.mu.Unlock()
	}
}

func (b *Bus) attach(s *Stream) {
	b.mu.Lock()
	b.attached[s.domain] = s
	b.mu.Unlock()
}

func (b *Bus) detach(s *Stream) {
	b.mu.Lock()
	delete(b.attached, s.domain)
	b.mu.Unlock()
}

// invoke runs a handler, converting a panic into a subscriber-kind error
// event. Panics while handling an error-domain event are only logged, so a
// broken error subscriber cannot recurse through the bus.
func (b *Bus) invoke(fn Handler, evt Event) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if evt.Domain == DomainError {
			b.logger.Error().
				Str("domain", string(evt.Domain)).
				Str("type", evt.Type).
				Interface("panic", r).
				Msg("error-stream subscriber panicked")
			return
		}
		payload := NormalizePanic(r, evt)
		b.logger.Error().
			Str("domain", string(evt.Domain)).
			Str("type", evt.Type).
			Str("user_message", payload.UserMessage).
			Msg("subscriber panicked while handling event")
		_, _ = b.Emit(DomainError, TypeErrorRaised, payload)
	}()
	fn(evt)
}

type streamSub struct {
	id int
	fn Handler
}

// Stream is a read-only, shareable view of one domain. It caches only the
// most recently delivered event, and holds a bus attachment only while its
// subscriber count is above zero. A subscriber arriving while the stream is
// live immediately observes the cached value; a subscriber arriving after
// the count dropped to zero does not.
type Stream struct {
	domain Domain
	bus    *Bus

	mu     sync.Mutex
	subs   []streamSub
	nextID int
	last   *Event
}

func (s *Stream) Domain() Domain { return s.domain }

// Subscribe registers a handler and returns an unsubscribe func. The
// unsubscribe func is idempotent.
func (s *Stream) Subscribe(fn Handler) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, streamSub{id: id, fn: fn})
	attach := len(s.subs) == 1
	var replay *Event
	if !attach && s.last != nil {
		evt := *s.last
		replay = &evt
	}
	s.mu.Unlock()

	if attach {
		s.bus.attach(s)
	}
	if replay != nil {
		s.bus.invoke(fn, *replay)
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(id) })
	}
}

// Last returns the cached most-recent event, if the stream currently holds
// one.
func (s *Stream) Last() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Event{}, false
	}
	return *s.last, true
}

// SubscriberCount reports the current reference count.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Stream) unsubscribe(id int) {
	s.mu.Lock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	detach := len(s.subs) == 0
	if detach {
		// Drop the cache so a future subscriber never sees a stale value.
		s.last = nil
	}
	s.mu.Unlock()

	if detach {
		s.bus.detach(s)
	}
}

func (s *Stream) deliver(evt Event) {
	s.mu.Lock()
	s.last = &evt
	subs := make([]streamSub, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		s.bus.invoke(sub.fn, evt)
	}
}
