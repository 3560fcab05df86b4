package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/daikin-cloud-core/internal/cloud"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/metrics"
	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

// CloudWriter is the slice of the cloud client the dispatcher needs.
type CloudWriter interface {
	WriteState(ctx context.Context, edgeID string, req cloud.WriteRequest) error
}

// Dispatcher validates and submits control commands.
//
// A command goes through five gates: the unit must exist, it must have
// the capability, the value must be in range, no other command may be
// pending on the unit, and the cloud must accept the write. Only after
// all five does the registry get the optimistic state update; a
// submission failure leaves the registry untouched.
type Dispatcher struct {
	registry       *unit.Registry
	writer         CloudWriter
	confirmTimeout time.Duration
	logger         *logging.Logger
	metrics        *metrics.Metrics
}

// NewDispatcher creates a command dispatcher. confirmTimeout bounds how
// long a submitted command may wait for poll confirmation.
func NewDispatcher(registry *unit.Registry, writer CloudWriter, confirmTimeout time.Duration, logger *logging.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry:       registry,
		writer:         writer,
		confirmTimeout: confirmTimeout,
		logger:         logger.With("component", "dispatcher"),
		metrics:        m,
	}
}

// SetPower turns a unit on or off.
func (d *Dispatcher) SetPower(ctx context.Context, unitID string, on bool) (*unit.Command, error) {
	cmd := unit.Command{
		UnitID: unitID,
		Type:   unit.CommandSetPower,
		Power:  &on,
	}
	return d.dispatch(ctx, &cmd, func(snap unit.Snapshot) (cloud.WriteRequest, error) {
		return cloud.WriteRequest{
			PowerOn:  on,
			ModeCode: currentModeCode(snap.State),
			Raw:      snap.State.Raw,
		}, nil
	})
}

// SetMode switches a unit's operating mode. The write also powers the
// unit on; changing mode on an off unit makes no sense at the protocol
// level.
func (d *Dispatcher) SetMode(ctx context.Context, unitID string, mode unit.Mode) (*unit.Command, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: mode %q", unit.ErrInvalidCommand, mode)
	}
	code, _ := cloud.CodeForMode(mode)

	cmd := unit.Command{
		UnitID: unitID,
		Type:   unit.CommandSetMode,
		Mode:   &mode,
	}
	return d.dispatch(ctx, &cmd, func(snap unit.Snapshot) (cloud.WriteRequest, error) {
		return cloud.WriteRequest{
			PowerOn:  true,
			ModeCode: code,
			Raw:      snap.State.Raw,
		}, nil
	})
}

// SetTargetTemperature sets the setpoint. The value must lie within the
// supported range on a half-degree step.
func (d *Dispatcher) SetTargetTemperature(ctx context.Context, unitID string, tempC float64) (*unit.Command, error) {
	if err := validateTargetTemp(tempC); err != nil {
		return nil, err
	}
	encoded, ok := cloud.EncodeTargetTemp(tempC)
	if !ok {
		return nil, fmt.Errorf("%w: temperature %.1f not encodable", unit.ErrInvalidCommand, tempC)
	}

	cmd := unit.Command{
		UnitID:      unitID,
		Type:        unit.CommandSetTargetTemperature,
		TargetTempC: &tempC,
	}
	return d.dispatch(ctx, &cmd, func(snap unit.Snapshot) (cloud.WriteRequest, error) {
		return cloud.WriteRequest{
			PowerOn:   true,
			ModeCode:  currentModeCode(snap.State),
			Overrides: map[string]string{"p_02": encoded},
			Raw:       snap.State.Raw,
		}, nil
	})
}

// SetFanSpeed sets the fan speed. The wire parameter the speed lands in
// depends on the unit's current mode.
func (d *Dispatcher) SetFanSpeed(ctx context.Context, unitID string, speed unit.FanSpeed) (*unit.Command, error) {
	if !speed.Valid() {
		return nil, fmt.Errorf("%w: fan speed %q", unit.ErrInvalidCommand, speed)
	}
	fanCode, _ := cloud.CodeForFanSpeed(speed)

	cmd := unit.Command{
		UnitID:   unitID,
		Type:     unit.CommandSetFanSpeed,
		FanSpeed: &speed,
	}
	return d.dispatch(ctx, &cmd, func(snap unit.Snapshot) (cloud.WriteRequest, error) {
		modeCode := currentModeCode(snap.State)
		return cloud.WriteRequest{
			PowerOn:   true,
			ModeCode:  modeCode,
			Overrides: cloud.FanSpeedOverrides(modeCode, fanCode),
			Raw:       snap.State.Raw,
		}, nil
	})
}

// dispatch runs the shared gate sequence for one command. The build
// function turns the pre-command snapshot into the wire request.
func (d *Dispatcher) dispatch(ctx context.Context, cmd *unit.Command, build func(unit.Snapshot) (cloud.WriteRequest, error)) (*unit.Command, error) {
	snap, err := d.registry.Get(cmd.UnitID)
	if err != nil {
		d.metrics.IncCommand(string(cmd.Type), "unknown_unit")
		return nil, err
	}
	if !snap.Unit.HasCapability(cmd.Type.Capability()) {
		d.metrics.IncCommand(string(cmd.Type), "unsupported")
		return nil, fmt.Errorf("%w: unit %s lacks %s",
			unit.ErrUnsupportedOperation, cmd.UnitID, cmd.Type.Capability())
	}

	now := time.Now().UTC()
	cmd.ID = uuid.NewString()
	cmd.SubmittedAt = now
	cmd.ExpiresAt = now.Add(d.confirmTimeout)

	if err := d.registry.SetPending(cmd.UnitID, cmd); err != nil {
		d.metrics.IncCommand(string(cmd.Type), "in_flight")
		return nil, err
	}

	req, err := build(snap)
	if err != nil {
		d.registry.ClearPending(cmd.UnitID)
		return nil, err
	}

	if err := d.writer.WriteState(ctx, cmd.UnitID, req); err != nil {
		d.registry.ClearPending(cmd.UnitID)
		d.metrics.IncCommand(string(cmd.Type), "submission_failed")
		d.logger.Error("command submission failed",
			"unit_id", cmd.UnitID, "type", string(cmd.Type), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCommandSubmissionFailed, err)
	}

	// The cloud accepted the write; reflect the requested value
	// optimistically until a poll confirms or the window closes.
	_ = d.registry.UpsertState(cmd.UnitID, func(s *unit.State) {
		applyOptimistic(s, cmd)
	})

	d.metrics.IncCommand(string(cmd.Type), "accepted")
	d.logger.Info("command accepted",
		"unit_id", cmd.UnitID, "command_id", cmd.ID, "type", string(cmd.Type))

	out := *cmd
	return &out, nil
}

// applyOptimistic writes the command's requested value into the state
// and marks it unconfirmed.
func applyOptimistic(s *unit.State, cmd *unit.Command) {
	switch cmd.Type {
	case unit.CommandSetPower:
		s.Power = *cmd.Power
	case unit.CommandSetMode:
		s.Mode = *cmd.Mode
		s.Power = true
	case unit.CommandSetTargetTemperature:
		v := *cmd.TargetTempC
		s.TargetTempC = &v
		s.Power = true
	case unit.CommandSetFanSpeed:
		s.FanSpeed = *cmd.FanSpeed
		s.Power = true
	}
	s.Optimistic = true
}

// currentModeCode returns the wire code of the state's mode, or "" when
// the mode has never been observed, letting the client fall back to the
// raw status value.
func currentModeCode(s unit.State) string {
	code, _ := cloud.CodeForMode(s.Mode)
	return code
}

func validateTargetTemp(tempC float64) error {
	if tempC < unit.MinTargetTempC || tempC > unit.MaxTargetTempC {
		return fmt.Errorf("%w: temperature %.1f outside %.1f-%.1f",
			unit.ErrInvalidCommand, tempC, unit.MinTargetTempC, unit.MaxTargetTempC)
	}
	steps := tempC / unit.TargetTempStepC
	if math.Abs(steps-math.Round(steps)) > 1e-9 {
		return fmt.Errorf("%w: temperature %v not on a %.1f degree step",
			unit.ErrInvalidCommand, tempC, unit.TargetTempStepC)
	}
	return nil
}
