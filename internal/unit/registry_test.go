package unit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func testUnit(id, name string) Unit {
	return Unit{ID: id, Name: name, Capabilities: DefaultCapabilities()}
}

func testCommand(unitID string, power bool) *Command {
	p := power
	return &Command{
		ID:          "cmd-" + unitID,
		UnitID:      unitID,
		Type:        CommandSetPower,
		Power:       &p,
		SubmittedAt: time.Now(),
		ExpiresAt:   time.Now().Add(time.Minute),
	}
}

// drain collects everything currently buffered on an event channel.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestRegistry_ReplaceCatalog(t *testing.T) {
	r := NewRegistry(3)

	r.ReplaceCatalog([]Unit{testUnit("1", "Living Room"), testUnit("2", "Bedroom")})

	snaps := r.List()
	if len(snaps) != 2 {
		t.Fatalf("List() = %d units, want 2", len(snaps))
	}
	if snaps[0].Unit.ID != "1" || snaps[1].Unit.ID != "2" {
		t.Errorf("List() not ordered by ID: %v, %v", snaps[0].Unit.ID, snaps[1].Unit.ID)
	}
	if snaps[0].State.Mode != ModeUnknown || snaps[0].State.FanSpeed != FanUnknown {
		t.Errorf("new unit state = %+v, want unknown mode and fan", snaps[0].State)
	}
}

func TestRegistry_ReplaceCatalog_PreservesSurvivingState(t *testing.T) {
	r := NewRegistry(3)
	r.ReplaceCatalog([]Unit{testUnit("1", "Old Name"), testUnit("2", "Gone")})

	temp := 24.0
	if err := r.UpsertState("1", func(s *State) {
		s.Power = true
		s.TargetTempC = &temp
	}); err != nil {
		t.Fatalf("UpsertState() error = %v", err)
	}
	if err := r.SetPending("1", testCommand("1", false)); err != nil {
		t.Fatalf("SetPending() error = %v", err)
	}

	events, cancel := r.Subscribe(16)
	defer cancel()

	// Unit 2 disappears, unit 1 is renamed, unit 3 is new.
	r.ReplaceCatalog([]Unit{testUnit("1", "New Name"), testUnit("3", "Kitchen")})

	snap, err := r.Get("1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Unit.Name != "New Name" {
		t.Errorf("Name = %q, want refreshed metadata", snap.Unit.Name)
	}
	if !snap.State.Power || snap.State.TargetTempC == nil || *snap.State.TargetTempC != 24.0 {
		t.Errorf("surviving unit lost state: %+v", snap.State)
	}
	if snap.Pending == nil {
		t.Error("surviving unit lost its pending command")
	}

	if _, err := r.Get("2"); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("Get(removed) error = %v, want ErrUnknownUnit", err)
	}

	got := drain(events)
	var added, removed int
	for _, ev := range got {
		switch ev.Type {
		case EventUnitAdded:
			added++
		case EventUnitRemoved:
			removed++
		}
	}
	if added != 1 || removed != 1 {
		t.Errorf("events: added=%d removed=%d, want 1/1", added, removed)
	}
}

func TestRegistry_UpsertState(t *testing.T) {
	r := NewRegistry(3)
	r.ReplaceCatalog([]Unit{testUnit("1", "A")})

	events, cancel := r.Subscribe(4)
	defer cancel()

	before := time.Now().UTC()
	if err := r.UpsertState("1", func(s *State) { s.Power = true }); err != nil {
		t.Fatalf("UpsertState() error = %v", err)
	}

	snap, _ := r.Get("1")
	if !snap.State.Power {
		t.Error("Power not applied")
	}
	if snap.State.UpdatedAt.Before(before) {
		t.Error("UpdatedAt not stamped")
	}

	got := drain(events)
	if len(got) != 1 || got[0].Type != EventStateChanged {
		t.Errorf("events = %v, want one state_changed", got)
	}

	if err := r.UpsertState("nope", func(*State) {}); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("UpsertState(unknown) error = %v, want ErrUnknownUnit", err)
	}
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r := NewRegistry(3)
	r.ReplaceCatalog([]Unit{testUnit("1", "A")})

	temp := 20.0
	r.UpsertState("1", func(s *State) {
		s.TargetTempC = &temp
		s.Raw = map[string]string{"k": "v"}
	})

	snap, _ := r.Get("1")
	*snap.State.TargetTempC = 99.0
	snap.State.Raw["k"] = "mutated"

	fresh, _ := r.Get("1")
	if *fresh.State.TargetTempC != 20.0 {
		t.Error("snapshot shares TargetTempC with registry state")
	}
	if fresh.State.Raw["k"] != "v" {
		t.Error("snapshot shares Raw map with registry state")
	}
}

func TestRegistry_PendingLifecycle(t *testing.T) {
	r := NewRegistry(3)
	r.ReplaceCatalog([]Unit{testUnit("1", "A")})

	events, cancel := r.Subscribe(8)
	defer cancel()

	cmd := testCommand("1", true)
	if err := r.SetPending("1", cmd); err != nil {
		t.Fatalf("SetPending() error = %v", err)
	}

	// Second command while one is in flight is refused.
	if err := r.SetPending("1", testCommand("1", false)); !errors.Is(err, ErrCommandInFlight) {
		t.Errorf("SetPending() second error = %v, want ErrCommandInFlight", err)
	}

	if p := r.Pending("1"); p == nil || p.ID != cmd.ID {
		t.Errorf("Pending() = %+v", p)
	}

	r.ResolvePending("1", true)

	if p := r.Pending("1"); p != nil {
		t.Errorf("Pending() after resolve = %+v, want nil", p)
	}

	// A new command is accepted once the previous one resolved.
	if err := r.SetPending("1", testCommand("1", false)); err != nil {
		t.Errorf("SetPending() after resolve error = %v", err)
	}
	r.ResolvePending("1", false)

	got := drain(events)
	types := map[EventType]int{}
	for _, ev := range got {
		types[ev.Type]++
		switch ev.Type {
		case EventCommandPending, EventCommandConfirmed, EventCommandExpired:
			if ev.Command == nil {
				t.Errorf("%s event missing command", ev.Type)
			}
		}
	}
	if types[EventCommandPending] != 2 || types[EventCommandConfirmed] != 1 || types[EventCommandExpired] != 1 {
		t.Errorf("event counts = %v", types)
	}

	// Resolving with nothing pending is a no-op.
	r.ResolvePending("1", true)
	if extra := drain(events); len(extra) != 0 {
		t.Errorf("no-op resolve emitted %v", extra)
	}
}

func TestRegistry_ClearPending(t *testing.T) {
	r := NewRegistry(3)
	r.ReplaceCatalog([]Unit{testUnit("1", "A")})

	events, cancel := r.Subscribe(8)
	defer cancel()

	r.SetPending("1", testCommand("1", true))
	drain(events)

	r.ClearPending("1")
	if p := r.Pending("1"); p != nil {
		t.Errorf("Pending() after clear = %+v", p)
	}
	// Submission failures clear silently, no outcome event.
	if got := drain(events); len(got) != 0 {
		t.Errorf("ClearPending emitted %v", got)
	}
}

func TestRegistry_StaleMarking(t *testing.T) {
	r := NewRegistry(3)
	r.ReplaceCatalog([]Unit{testUnit("1", "A")})

	for i := 1; i <= 2; i++ {
		if n := r.RecordRefreshFailure("1"); n != i {
			t.Errorf("RecordRefreshFailure() = %d, want %d", n, i)
		}
	}
	if snap, _ := r.Get("1"); snap.State.Stale {
		t.Error("stale before threshold")
	}

	r.RecordRefreshFailure("1")
	if snap, _ := r.Get("1"); !snap.State.Stale {
		t.Error("not stale at threshold")
	}

	// Success resets the counter; the stale flag clears with the next
	// observed state write.
	r.RecordRefreshSuccess("1")
	r.UpsertState("1", func(s *State) { s.Stale = false })

	if n := r.RecordRefreshFailure("1"); n != 1 {
		t.Errorf("failure count after success = %d, want 1", n)
	}
	if snap, _ := r.Get("1"); snap.State.Stale {
		t.Error("stale after counter reset")
	}
}

func TestRegistry_SetLoggerConcurrent(t *testing.T) {
	r := NewRegistry(3)

	// Swapping the logger while the catalogue churns must be safe.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.SetLogger(noopLogger{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.ReplaceCatalog([]Unit{testUnit("1", "A")})
			r.ReplaceCatalog(nil)
		}
	}()
	wg.Wait()
}

func TestRegistry_SubscribeCancel(t *testing.T) {
	r := NewRegistry(3)
	events, cancel := r.Subscribe(4)

	cancel()
	if _, open := <-events; open {
		t.Error("channel should be closed after cancel")
	}

	// Cancel twice is safe, and emitting after cancel does not panic.
	cancel()
	r.ReplaceCatalog([]Unit{testUnit("1", "A")})
}

func TestCommand_ConfirmedBy(t *testing.T) {
	on := true
	mode := ModeDry
	temp := 22.0
	fan := FanQuiet

	tests := []struct {
		name  string
		cmd   Command
		state State
		want  bool
	}{
		{"power match", Command{Type: CommandSetPower, Power: &on}, State{Power: true}, true},
		{"power mismatch", Command{Type: CommandSetPower, Power: &on}, State{Power: false}, false},
		{"mode match", Command{Type: CommandSetMode, Mode: &mode}, State{Mode: ModeDry}, true},
		{"mode mismatch", Command{Type: CommandSetMode, Mode: &mode}, State{Mode: ModeCool}, false},
		{"temp match", Command{Type: CommandSetTargetTemperature, TargetTempC: &temp}, State{TargetTempC: &temp}, true},
		{"temp nil observed", Command{Type: CommandSetTargetTemperature, TargetTempC: &temp}, State{}, false},
		{"fan match", Command{Type: CommandSetFanSpeed, FanSpeed: &fan}, State{FanSpeed: FanQuiet}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.ConfirmedBy(&tt.state); got != tt.want {
				t.Errorf("ConfirmedBy() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("temp within codec tolerance", func(t *testing.T) {
		req := 22.0
		obs := 22.1
		cmd := Command{Type: CommandSetTargetTemperature, TargetTempC: &req}
		if !cmd.ConfirmedBy(&State{TargetTempC: &obs}) {
			t.Error("0.1 degree difference should confirm")
		}
		far := 22.5
		if cmd.ConfirmedBy(&State{TargetTempC: &far}) {
			t.Error("adjacent setpoint must not confirm")
		}
	})
}
