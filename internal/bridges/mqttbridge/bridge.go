package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

// commandTimeout bounds one inbound MQTT command end to end, including
// the cloud write.
const commandTimeout = 30 * time.Second

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// PublishRetained publishes a retained message with the default QoS.
	PublishRetained(topic string, payload []byte) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Dispatcher is the slice of the command dispatcher the bridge needs.
type Dispatcher interface {
	SetPower(ctx context.Context, unitID string, on bool) (*unit.Command, error)
	SetMode(ctx context.Context, unitID string, mode unit.Mode) (*unit.Command, error)
	SetTargetTemperature(ctx context.Context, unitID string, tempC float64) (*unit.Command, error)
	SetFanSpeed(ctx context.Context, unitID string, speed unit.FanSpeed) (*unit.Command, error)
}

// Logger interface for bridge logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Bridge connects the unit registry to MQTT consumers.
//
// Outbound: registry change events become retained state publications on
// daikincloud/unit/{id}/state, plus non-retained lifecycle events on
// daikincloud/unit/{id}/event. Inbound: commands on
// daikincloud/unit/{id}/set are validated and handed to the dispatcher.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client     MQTTClient
	registry   *unit.Registry
	dispatcher Dispatcher
	qos        byte
	logger     Logger

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewBridge creates a bridge. Start must be called to begin forwarding.
func NewBridge(client MQTTClient, registry *unit.Registry, dispatcher Dispatcher, qos byte, logger Logger) *Bridge {
	return &Bridge{
		client:     client,
		registry:   registry,
		dispatcher: dispatcher,
		qos:        qos,
		logger:     logger,
	}
}

// Start subscribes to command topics and begins forwarding registry
// events. The parent context bounds the bridge's lifetime.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.ctxCancel = context.WithCancel(ctx)

	if err := b.client.Subscribe(mqtt.Topics{}.AllUnitCommands(), b.qos, b.handleCommand); err != nil {
		b.ctxCancel()
		return fmt.Errorf("subscribing to command topics: %w", err)
	}

	events, cancel := b.registry.Subscribe(64)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		b.forwardEvents(events)
	}()

	// Seed retained state for units discovered before the bridge came up.
	for _, snap := range b.registry.List() {
		b.publishState(snap)
	}

	b.logger.Info("mqtt bridge started")
	return nil
}

// Stop halts event forwarding. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.ctxCancel != nil {
			b.ctxCancel()
		}
		b.wg.Wait()
		b.logger.Info("mqtt bridge stopped")
	})
}

// forwardEvents drains registry events until the bridge context ends.
func (b *Bridge) forwardEvents(events <-chan unit.Event) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.handleEvent(ev)
		}
	}
}

func (b *Bridge) handleEvent(ev unit.Event) {
	unitID := ev.Snapshot.Unit.ID

	switch ev.Type {
	case unit.EventUnitRemoved:
		// Clear the retained state so consumers drop the unit.
		if err := b.client.PublishRetained(mqtt.Topics{}.UnitState(unitID), nil); err != nil {
			b.logger.Warn("failed to clear retained state", "unit_id", unitID, "error", err)
		}
	case unit.EventUnitAdded, unit.EventStateChanged:
		b.publishState(ev.Snapshot)
	case unit.EventCommandPending, unit.EventCommandConfirmed, unit.EventCommandExpired:
		b.publishEvent(ev)
	}
}

func (b *Bridge) publishState(snap unit.Snapshot) {
	payload, err := json.Marshal(statePayload(snap))
	if err != nil {
		b.logger.Error("failed to encode state payload", "unit_id", snap.Unit.ID, "error", err)
		return
	}
	if err := b.client.PublishRetained(mqtt.Topics{}.UnitState(snap.Unit.ID), payload); err != nil {
		b.logger.Warn("failed to publish state", "unit_id", snap.Unit.ID, "error", err)
	}
}

func (b *Bridge) publishEvent(ev unit.Event) {
	payload, err := json.Marshal(eventPayload(ev))
	if err != nil {
		b.logger.Error("failed to encode event payload", "unit_id", ev.Snapshot.Unit.ID, "error", err)
		return
	}
	if err := b.client.Publish(mqtt.Topics{}.UnitEvent(ev.Snapshot.Unit.ID), payload, b.qos, false); err != nil {
		b.logger.Warn("failed to publish event", "unit_id", ev.Snapshot.Unit.ID, "error", err)
	}
}

// handleCommand processes one inbound command message.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	unitID, ok := unitIDFromCommandTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding command for unit %s: %w", unitID, err)
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	cmd, err := b.executeCommand(ctx, unitID, msg)
	if err != nil {
		b.logger.Warn("mqtt command rejected",
			"unit_id", unitID, "action", msg.Action, "error", err)
		return err
	}

	b.logger.Info("mqtt command accepted",
		"unit_id", unitID, "action", msg.Action, "command_id", cmd.ID)
	return nil
}

func (b *Bridge) executeCommand(ctx context.Context, unitID string, msg CommandMessage) (*unit.Command, error) {
	switch msg.Action {
	case ActionSetPower:
		if msg.Power == nil {
			return nil, fmt.Errorf("%w: set_power requires \"power\"", unit.ErrInvalidCommand)
		}
		return b.dispatcher.SetPower(ctx, unitID, *msg.Power)
	case ActionSetMode:
		return b.dispatcher.SetMode(ctx, unitID, unit.Mode(msg.Mode))
	case ActionSetTargetTemperature:
		if msg.TargetTempC == nil {
			return nil, fmt.Errorf("%w: set_target_temperature requires \"target_temp_c\"", unit.ErrInvalidCommand)
		}
		return b.dispatcher.SetTargetTemperature(ctx, unitID, *msg.TargetTempC)
	case ActionSetFanSpeed:
		return b.dispatcher.SetFanSpeed(ctx, unitID, unit.FanSpeed(msg.FanSpeed))
	default:
		return nil, fmt.Errorf("%w: unknown action %q", unit.ErrInvalidCommand, msg.Action)
	}
}

// unitIDFromCommandTopic extracts the unit ID from
// daikincloud/unit/{id}/set.
func unitIDFromCommandTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "daikincloud" || parts[1] != "unit" || parts[3] != "set" {
		return "", false
	}
	if parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
