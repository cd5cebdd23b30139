// Package activity projects agent and model events into lightweight
// UI-facing activity records.
package activity

import (
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	"github.com/planweave/planweave/internal/event"
)

const (
	StatusActive   = "active"
	StatusComplete = "complete"

	// defaultQuietWindow coalesces bursts of rapid events before the store
	// callback fires.
	defaultQuietWindow = 50 * time.Millisecond
	// defaultRemoveAfter is how long a complete record stays visible.
	defaultRemoveAfter = 3 * time.Second
)

// Record is one activity indicator.
type Record struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Activity  string    `json:"activity"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type Options struct {
	// QuietWindow overrides the 50ms coalescing window.
	QuietWindow time.Duration
	// RemoveAfter overrides the 3s complete-record expiry.
	RemoveAfter time.Duration
	// OnChange receives a snapshot after every flush or expiry. Optional.
	OnChange func([]Record)
}

// Tracker folds agent/model events into an ordered record list. Records
// with complete status expire on their own timer; timers are independent
// per record and never block new insertions.
type Tracker struct {
	bus         *event.Bus
	logger      zerolog.Logger
	onChange    func([]Record)
	removeAfter time.Duration
	debounced   func(func())

	mu      sync.Mutex
	pending []Record
	records []Record
	timers  map[string]*time.Timer
	closed  bool
	unsubs  []func()
}

func NewTracker(bus *event.Bus, logger zerolog.Logger, opts Options) *Tracker {
	quiet := opts.QuietWindow
	if quiet <= 0 {
		quiet = defaultQuietWindow
	}
	removeAfter := opts.RemoveAfter
	if removeAfter <= 0 {
		removeAfter = defaultRemoveAfter
	}
	return &Tracker{
		bus:         bus,
		logger:      logger,
		onChange:    opts.OnChange,
		removeAfter: removeAfter,
		debounced:   debounce.New(quiet),
		timers:      map[string]*time.Timer{},
	}
}

func (t *Tracker) Start() {
	t.unsubs = append(t.unsubs,
		t.bus.Stream(event.DomainAgent).Subscribe(t.handle),
		t.bus.Stream(event.DomainModel).Subscribe(t.handle),
	)
}

// Stop detaches from the bus and cancels all pending expiry timers so none
// can fire against stale state.
func (t *Tracker) Stop() {
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil

	t.mu.Lock()
	t.closed = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.pending = nil
	t.mu.Unlock()
}

// Snapshot returns a copy of the current records.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

func (t *Tracker) handle(evt event.Event) {
	record, ok := recordFor(evt)
	if !ok {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.pending = append(t.pending, record)
	t.mu.Unlock()

	t.debounced(t.flush)
}

func (t *Tracker) flush() {
	t.mu.Lock()
	if t.closed || len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	flushed := t.pending
	t.pending = nil
	t.records = append(t.records, flushed...)
	for _, record := range flushed {
		if record.Status != StatusComplete {
			continue
		}
		id := record.ID
		t.timers[id] = time.AfterFunc(t.removeAfter, func() { t.expire(id) })
	}
	snapshot := make([]Record, len(t.records))
	copy(snapshot, t.records)
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(snapshot)
	}
}

func (t *Tracker) expire(id string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.timers, id)
	for i, record := range t.records {
		if record.ID == id {
			t.records = append(t.records[:i], t.records[i+1:]...)
			break
		}
	}
	snapshot := make([]Record, len(t.records))
	copy(snapshot, t.records)
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(snapshot)
	}
}

func recordFor(evt event.Event) (Record, bool) {
	switch p := evt.Payload.(type) {
	case event.AgentPayload:
		status := StatusActive
		if evt.Type == event.TypeAgentCompleted {
			status = StatusComplete
		}
		return Record{
			ID:        evt.ID,
			Agent:     p.AgentID,
			Activity:  p.Action,
			Status:    status,
			Timestamp: evt.Timestamp,
		}, true
	case event.ModelPayload:
		status := StatusActive
		activity := "thinking"
		if evt.Type == event.TypeModelCompleted {
			status = StatusComplete
			activity = "responded"
		}
		return Record{
			ID:        evt.ID,
			Agent:     p.AgentID,
			Activity:  activity,
			Status:    status,
			Timestamp: evt.Timestamp,
		}, true
	}
	return Record{}, false
}
