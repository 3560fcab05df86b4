package unit

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventType classifies a registry change notification.
type EventType string

const (
	EventUnitAdded        EventType = "unit_added"
	EventUnitRemoved      EventType = "unit_removed"
	EventStateChanged     EventType = "state_changed"
	EventCommandPending   EventType = "command_pending"
	EventCommandConfirmed EventType = "command_confirmed"
	EventCommandExpired   EventType = "command_expired"
)

// Event is a registry change notification. The snapshot is a copy taken
// at emission time. Command is set on command lifecycle events and
// carries the command the event is about, the snapshot's Pending field
// is already cleared by the time a confirmed or expired event fires.
type Event struct {
	Type     EventType `json:"type"`
	Snapshot Snapshot  `json:"snapshot"`
	Command  *Command  `json:"command,omitempty"`
}

// Registry is the in-memory catalogue of discovered units and their
// states. It is the single source of truth above the cloud: the API,
// the MQTT bridge and the synchronizer all read and write through it.
//
// One mutex guards everything. State writes go through UpsertState so
// every change, observed or optimistic, takes the same path and emits
// the same notification.
//
// All public methods are thread-safe.
type Registry struct {
	mu          sync.RWMutex
	units       map[string]*entry
	subscribers map[int]chan Event
	nextSubID   int
	staleAfter  int
	logger      Logger
}

type entry struct {
	unit     Unit
	state    State
	pending  *Command
	failures int
}

// NewRegistry creates an empty registry. staleAfter is the number of
// consecutive refresh failures after which a unit's state is marked
// stale; zero disables stale marking.
func NewRegistry(staleAfter int) *Registry {
	return &Registry{
		units:       make(map[string]*entry),
		subscribers: make(map[int]chan Event),
		staleAfter:  staleAfter,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// ReplaceCatalog reconciles the registry against a fresh discovery
// result. New units are added with empty state, units absent from the
// catalogue are removed, and surviving units keep their state and any
// pending command while metadata is refreshed.
func (r *Registry) ReplaceCatalog(units []Unit) {
	r.mu.Lock()

	seen := make(map[string]struct{}, len(units))
	var events []Event

	for _, u := range units {
		seen[u.ID] = struct{}{}
		if existing, ok := r.units[u.ID]; ok {
			existing.unit.Name = u.Name
			existing.unit.MAC = u.MAC
			if len(u.Capabilities) > 0 {
				existing.unit.Capabilities = u.Capabilities
			}
			continue
		}
		if len(u.Capabilities) == 0 {
			u.Capabilities = DefaultCapabilities()
		}
		e := &entry{
			unit:  u,
			state: State{Mode: ModeUnknown, FanSpeed: FanUnknown},
		}
		r.units[u.ID] = e
		events = append(events, Event{Type: EventUnitAdded, Snapshot: e.snapshot()})
		r.logger.Info("unit added", "unit_id", u.ID, "name", u.Name)
	}

	for id, e := range r.units {
		if _, ok := seen[id]; ok {
			continue
		}
		events = append(events, Event{Type: EventUnitRemoved, Snapshot: e.snapshot()})
		delete(r.units, id)
		r.logger.Info("unit removed", "unit_id", id)
	}

	r.mu.Unlock()
	r.emit(events...)
}

// List returns snapshots of all units, ordered by ID.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.units))
	for _, e := range r.units {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit.ID < out[j].Unit.ID })
	return out
}

// Get returns a snapshot of one unit.
// Returns ErrUnknownUnit if the unit does not exist.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.units[id]
	if !ok {
		return Snapshot{}, ErrUnknownUnit
	}
	return e.snapshot(), nil
}

// UpsertState mutates a unit's state through the single mutator path.
// The mutator receives the current state and edits it in place; the
// registry stamps UpdatedAt and notifies subscribers.
// Returns ErrUnknownUnit if the unit does not exist.
func (r *Registry) UpsertState(id string, mutate func(*State)) error {
	r.mu.Lock()

	e, ok := r.units[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownUnit
	}

	mutate(&e.state)
	e.state.UpdatedAt = time.Now().UTC()
	snap := e.snapshot()

	r.mu.Unlock()
	r.emit(Event{Type: EventStateChanged, Snapshot: snap})
	return nil
}

// SetPending records an in-flight command for the unit. Only one command
// may be pending per unit at a time.
// Returns ErrUnknownUnit or ErrCommandInFlight.
func (r *Registry) SetPending(id string, cmd *Command) error {
	r.mu.Lock()

	e, ok := r.units[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownUnit
	}
	if e.pending != nil {
		r.mu.Unlock()
		return ErrCommandInFlight
	}
	c := *cmd
	e.pending = &c
	snap := e.snapshot()

	r.mu.Unlock()
	ec := c
	r.emit(Event{Type: EventCommandPending, Snapshot: snap, Command: &ec})
	return nil
}

// ResolvePending clears the unit's pending command, emitting a confirmed
// or expired event. Resolving a unit with no pending command is a no-op.
func (r *Registry) ResolvePending(id string, confirmed bool) {
	r.mu.Lock()

	e, ok := r.units[id]
	if !ok || e.pending == nil {
		r.mu.Unlock()
		return
	}
	cmd := e.pending
	e.pending = nil
	snap := e.snapshot()

	r.mu.Unlock()

	evType := EventCommandConfirmed
	if !confirmed {
		evType = EventCommandExpired
		r.logger.Warn("command presumed failed",
			"unit_id", id, "command_id", cmd.ID, "type", string(cmd.Type))
	}
	r.emit(Event{Type: evType, Snapshot: snap, Command: cmd})
}

// ClearPending removes the unit's pending command without emitting an
// outcome event. Used when submission fails before the cloud accepted
// anything, so the command never really existed as far as observers are
// concerned.
func (r *Registry) ClearPending(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.units[id]; ok {
		e.pending = nil
	}
}

// Pending returns a copy of the unit's in-flight command, or nil.
func (r *Registry) Pending(id string) *Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.units[id]
	if !ok || e.pending == nil {
		return nil
	}
	c := *e.pending
	return &c
}

// RecordRefreshFailure counts a failed status refresh for the unit and
// marks its state stale once the configured threshold is reached.
// Returns the consecutive failure count.
func (r *Registry) RecordRefreshFailure(id string) int {
	r.mu.Lock()

	e, ok := r.units[id]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	e.failures++
	failures := e.failures

	var ev *Event
	if r.staleAfter > 0 && e.failures >= r.staleAfter && !e.state.Stale {
		e.state.Stale = true
		snap := e.snapshot()
		ev = &Event{Type: EventStateChanged, Snapshot: snap}
		r.logger.Warn("unit state marked stale",
			"unit_id", id, "consecutive_failures", failures)
	}

	r.mu.Unlock()
	if ev != nil {
		r.emit(*ev)
	}
	return failures
}

// RecordRefreshSuccess resets the unit's failure count. The stale flag
// is cleared by the state mutation that follows a successful refresh.
func (r *Registry) RecordRefreshSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.units[id]; ok {
		e.failures = 0
	}
}

// Subscribe registers a change listener. Events are delivered on the
// returned channel; a slow consumer drops events rather than blocking
// the registry. The returned cancel function must be called to release
// the subscription.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	ch := make(chan Event, buffer)
	r.subscribers[id] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if sub, ok := r.subscribers[id]; ok {
			delete(r.subscribers, id)
			close(sub)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *Registry) emit(events ...Event) {
	if len(events) == 0 {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ev := range events {
		for _, ch := range r.subscribers {
			select {
			case ch <- ev:
			default:
				// Drop rather than block; subscribers resync from List.
			}
		}
	}
}

// snapshot must be called with the registry lock held.
func (e *entry) snapshot() Snapshot {
	snap := Snapshot{
		Unit:  e.unit,
		State: *e.state.DeepCopy(),
	}
	snap.Unit.Capabilities = append([]Capability(nil), e.unit.Capabilities...)
	if e.pending != nil {
		c := *e.pending
		snap.Pending = &c
	}
	return snap
}
