package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/config"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

type publishRecord struct {
	topic    string
	payload  []byte
	retained bool
}

// mockMQTT records publishes and captures the command subscription.
type mockMQTT struct {
	mu        sync.Mutex
	published []publishRecord
	subTopic  string
	subQoS    byte
	handler   mqtt.MessageHandler
	subErr    error
}

func (m *mockMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishRecord{topic, payload, retained})
	return nil
}

func (m *mockMQTT) PublishRetained(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishRecord{topic, payload, true})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.subTopic = topic
	m.subQoS = qos
	m.handler = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool { return true }

func (m *mockMQTT) records() []publishRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishRecord, len(m.published))
	copy(out, m.published)
	return out
}

func (m *mockMQTT) lastOn(topic string) (publishRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].topic == topic {
			return m.published[i], true
		}
	}
	return publishRecord{}, false
}

// mockDispatcher records the last command call.
type mockDispatcher struct {
	mu     sync.Mutex
	calls  []string
	unitID string
	power  bool
	mode   unit.Mode
	tempC  float64
	speed  unit.FanSpeed
	err    error
}

func (m *mockDispatcher) record(call, unitID string) (*unit.Command, error) {
	m.calls = append(m.calls, call)
	m.unitID = unitID
	if m.err != nil {
		return nil, m.err
	}
	return &unit.Command{ID: "cmd-1", UnitID: unitID}, nil
}

func (m *mockDispatcher) SetPower(_ context.Context, unitID string, on bool) (*unit.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.power = on
	return m.record("power", unitID)
}

func (m *mockDispatcher) SetMode(_ context.Context, unitID string, mode unit.Mode) (*unit.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	return m.record("mode", unitID)
}

func (m *mockDispatcher) SetTargetTemperature(_ context.Context, unitID string, tempC float64) (*unit.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempC = tempC
	return m.record("temperature", unitID)
}

func (m *mockDispatcher) SetFanSpeed(_ context.Context, unitID string, speed unit.FanSpeed) (*unit.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed = speed
	return m.record("fan", unitID)
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func newTestBridge(t *testing.T, units ...string) (*Bridge, *unit.Registry, *mockMQTT, *mockDispatcher) {
	t.Helper()

	registry := unit.NewRegistry(3)
	catalogue := make([]unit.Unit, 0, len(units))
	for _, id := range units {
		catalogue = append(catalogue, unit.Unit{
			ID: id, Name: "Unit " + id, Capabilities: unit.DefaultCapabilities(),
		})
	}
	registry.ReplaceCatalog(catalogue)

	client := &mockMQTT{}
	dispatcher := &mockDispatcher{}
	b := NewBridge(client, registry, dispatcher, 1, testLogger())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b, registry, client, dispatcher
}

// waitForTopic polls until a publish lands on the topic or the deadline
// passes. Event forwarding runs on the bridge's own goroutine.
func waitForTopic(t *testing.T, client *mockMQTT, topic string) publishRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := client.lastOn(topic); ok {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no publish on %s", topic)
	return publishRecord{}
}

func TestBridge_StartSeedsRetainedState(t *testing.T) {
	_, _, client, _ := newTestBridge(t, "1", "2")

	if client.subTopic != "daikincloud/unit/+/set" {
		t.Errorf("subscribed to %q", client.subTopic)
	}
	if client.subQoS != 1 {
		t.Errorf("subscription qos = %d, want 1", client.subQoS)
	}

	for _, id := range []string{"1", "2"} {
		rec, ok := client.lastOn("daikincloud/unit/" + id + "/state")
		if !ok {
			t.Fatalf("no seeded state for unit %s", id)
		}
		if !rec.retained {
			t.Error("seeded state not retained")
		}
		var msg StateMessage
		if err := json.Unmarshal(rec.payload, &msg); err != nil {
			t.Fatalf("decoding state payload: %v", err)
		}
		if msg.Unit.ID != id {
			t.Errorf("payload unit = %q, want %q", msg.Unit.ID, id)
		}
	}
}

func TestBridge_StartFailsWhenSubscribeFails(t *testing.T) {
	registry := unit.NewRegistry(3)
	client := &mockMQTT{subErr: errors.New("broker down")}
	b := NewBridge(client, registry, &mockDispatcher{}, 1, testLogger())

	if err := b.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when the subscription fails")
	}
}

func TestBridge_PublishesStateChanges(t *testing.T) {
	_, registry, client, _ := newTestBridge(t, "1")

	before := len(client.records())
	registry.UpsertState("1", func(st *unit.State) {
		st.Power = true
		st.Mode = unit.ModeCool
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(client.records()) == before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rec, _ := client.lastOn("daikincloud/unit/1/state")
	var msg StateMessage
	if err := json.Unmarshal(rec.payload, &msg); err != nil {
		t.Fatalf("decoding state payload: %v", err)
	}
	if !msg.State.Power || msg.State.Mode != unit.ModeCool {
		t.Errorf("published state = %+v", msg.State)
	}
	if !rec.retained {
		t.Error("state publish not retained")
	}
}

func TestBridge_ClearsRetainedStateOnRemoval(t *testing.T) {
	_, registry, client, _ := newTestBridge(t, "1", "2")

	registry.ReplaceCatalog([]unit.Unit{
		{ID: "1", Name: "Unit 1", Capabilities: unit.DefaultCapabilities()},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := client.lastOn("daikincloud/unit/2/state"); ok && rec.payload == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("retained state for removed unit never cleared")
}

func TestBridge_PublishesCommandEvents(t *testing.T) {
	_, registry, client, _ := newTestBridge(t, "1")

	on := true
	registry.SetPending("1", &unit.Command{
		ID: "c1", UnitID: "1", Type: unit.CommandSetPower, Power: &on,
		SubmittedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute),
	})
	registry.ResolvePending("1", true)

	rec := waitForTopic(t, client, "daikincloud/unit/1/event")
	if rec.retained {
		t.Error("lifecycle events must not be retained")
	}

	var msg EventMessage
	if err := json.Unmarshal(rec.payload, &msg); err != nil {
		t.Fatalf("decoding event payload: %v", err)
	}
	if msg.UnitID != "1" {
		t.Errorf("UnitID = %q", msg.UnitID)
	}
	if msg.Command == nil || msg.Command.ID != "c1" {
		t.Errorf("Command = %+v, want c1", msg.Command)
	}
	if msg.Event != string(unit.EventCommandPending) && msg.Event != string(unit.EventCommandConfirmed) {
		t.Errorf("Event = %q", msg.Event)
	}
}

func TestBridge_HandleCommand(t *testing.T) {
	b, _, _, dispatcher := newTestBridge(t, "1")

	tests := []struct {
		name     string
		payload  string
		wantCall string
		check    func(t *testing.T, d *mockDispatcher)
	}{
		{
			name:     "set power",
			payload:  `{"action":"set_power","power":true}`,
			wantCall: "power",
			check: func(t *testing.T, d *mockDispatcher) {
				if !d.power {
					t.Error("power = false, want true")
				}
			},
		},
		{
			name:     "set mode",
			payload:  `{"action":"set_mode","mode":"dry"}`,
			wantCall: "mode",
			check: func(t *testing.T, d *mockDispatcher) {
				if d.mode != unit.ModeDry {
					t.Errorf("mode = %q, want dry", d.mode)
				}
			},
		},
		{
			name:     "set target temperature",
			payload:  `{"action":"set_target_temperature","target_temp_c":21.5}`,
			wantCall: "temperature",
			check: func(t *testing.T, d *mockDispatcher) {
				if d.tempC != 21.5 {
					t.Errorf("tempC = %v, want 21.5", d.tempC)
				}
			},
		},
		{
			name:     "set fan speed",
			payload:  `{"action":"set_fan_speed","fan_speed":"quiet"}`,
			wantCall: "fan",
			check: func(t *testing.T, d *mockDispatcher) {
				if d.speed != unit.FanQuiet {
					t.Errorf("speed = %q, want quiet", d.speed)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher.mu.Lock()
			dispatcher.calls = nil
			dispatcher.mu.Unlock()

			if err := b.handleCommand("daikincloud/unit/1/set", []byte(tt.payload)); err != nil {
				t.Fatalf("handleCommand() error = %v", err)
			}

			dispatcher.mu.Lock()
			defer dispatcher.mu.Unlock()
			if len(dispatcher.calls) != 1 || dispatcher.calls[0] != tt.wantCall {
				t.Fatalf("calls = %v, want [%s]", dispatcher.calls, tt.wantCall)
			}
			if dispatcher.unitID != "1" {
				t.Errorf("unitID = %q", dispatcher.unitID)
			}
			tt.check(t, dispatcher)
		})
	}
}

func TestBridge_HandleCommandRejections(t *testing.T) {
	b, _, _, dispatcher := newTestBridge(t, "1")

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{"unknown action", "daikincloud/unit/1/set", `{"action":"explode"}`, unit.ErrInvalidCommand},
		{"missing power", "daikincloud/unit/1/set", `{"action":"set_power"}`, unit.ErrInvalidCommand},
		{"missing temperature", "daikincloud/unit/1/set", `{"action":"set_target_temperature"}`, unit.ErrInvalidCommand},
		{"malformed json", "daikincloud/unit/1/set", `{"action":`, nil},
		{"bad topic", "daikincloud/other/1/set", `{"action":"set_power","power":true}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher.mu.Lock()
			dispatcher.calls = nil
			dispatcher.mu.Unlock()

			err := b.handleCommand(tt.topic, []byte(tt.payload))
			if err == nil {
				t.Fatal("handleCommand() should fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}

			dispatcher.mu.Lock()
			defer dispatcher.mu.Unlock()
			if len(dispatcher.calls) != 0 {
				t.Errorf("dispatcher called for rejected command: %v", dispatcher.calls)
			}
		})
	}
}

func TestBridge_HandleCommandDispatcherError(t *testing.T) {
	b, _, _, dispatcher := newTestBridge(t, "1")

	dispatcher.mu.Lock()
	dispatcher.err = unit.ErrCommandInFlight
	dispatcher.mu.Unlock()

	err := b.handleCommand("daikincloud/unit/1/set", []byte(`{"action":"set_power","power":true}`))
	if !errors.Is(err, unit.ErrCommandInFlight) {
		t.Errorf("error = %v, want ErrCommandInFlight", err)
	}
}

func TestUnitIDFromCommandTopic(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"daikincloud/unit/1234/set", "1234", true},
		{"daikincloud/unit/ab:cd/set", "ab:cd", true},
		{"daikincloud/unit//set", "", false},
		{"daikincloud/unit/1234/state", "", false},
		{"daikincloud/system/status", "", false},
		{"other/unit/1234/set", "", false},
		{"daikincloud/unit/1234/set/extra", "", false},
	}

	for _, tt := range tests {
		id, ok := unitIDFromCommandTopic(tt.topic)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("unitIDFromCommandTopic(%q) = (%q, %v), want (%q, %v)",
				tt.topic, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestBridge_StopIsIdempotent(t *testing.T) {
	b, _, _, _ := newTestBridge(t, "1")
	b.Stop()
	b.Stop()
}
