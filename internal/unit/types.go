package unit

import "time"

// Mode is an operating mode in domain terms. Wire codes stay inside the
// cloud package; everything above it works with these values.
type Mode string

const (
	ModeCool    Mode = "cool"
	ModeDry     Mode = "dry"
	ModeFanOnly Mode = "fan_only"
	ModeUnknown Mode = "unknown"
)

// Valid reports whether the mode is one a command may request.
func (m Mode) Valid() bool {
	switch m {
	case ModeCool, ModeDry, ModeFanOnly:
		return true
	}
	return false
}

// FanSpeed is a fan speed setting in domain terms.
type FanSpeed string

const (
	FanAuto    FanSpeed = "auto"
	FanQuiet   FanSpeed = "quiet"
	FanLevel1  FanSpeed = "level_1"
	FanLevel2  FanSpeed = "level_2"
	FanLevel3  FanSpeed = "level_3"
	FanLevel4  FanSpeed = "level_4"
	FanLevel5  FanSpeed = "level_5"
	FanUnknown FanSpeed = "unknown"
)

// Valid reports whether the fan speed is one a command may request.
func (f FanSpeed) Valid() bool {
	switch f {
	case FanAuto, FanQuiet, FanLevel1, FanLevel2, FanLevel3, FanLevel4, FanLevel5:
		return true
	}
	return false
}

// Capability names an operation a unit supports. Commands targeting a
// capability the unit lacks are rejected before any network traffic.
type Capability string

const (
	CapabilityPower             Capability = "power"
	CapabilityMode              Capability = "mode"
	CapabilityTargetTemperature Capability = "target_temperature"
	CapabilityFanSpeed          Capability = "fan_speed"
)

// DefaultCapabilities is the set granted to units at discovery. The
// protocol gives no per-unit capability signal, so every unit currently
// gets the full set.
func DefaultCapabilities() []Capability {
	return []Capability{
		CapabilityPower,
		CapabilityMode,
		CapabilityTargetTemperature,
		CapabilityFanSpeed,
	}
}

// Target temperature limits in degrees Celsius, in half-degree steps.
const (
	MinTargetTempC  = 10.0
	MaxTargetTempC  = 32.0
	TargetTempStepC = 0.5
)

// Unit is a discovered air-conditioning unit. The ID is the cloud edge
// identifier and stays stable across discoveries.
type Unit struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	MAC          string       `json:"mac"`
	Capabilities []Capability `json:"capabilities"`
}

// HasCapability reports whether the unit supports the given operation.
func (u *Unit) HasCapability(c Capability) bool {
	for _, have := range u.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// State is the current view of a unit. Pointer fields are nil when the
// corresponding reading has never been observed. Raw carries the
// flattened wire parameter map; writes need it to echo back unchanged
// parameters.
type State struct {
	Power        bool      `json:"power"`
	Mode         Mode      `json:"mode"`
	FanSpeed     FanSpeed  `json:"fan_speed"`
	TargetTempC  *float64  `json:"target_temp_c,omitempty"`
	RoomTempC    *float64  `json:"room_temp_c,omitempty"`
	RoomHumidity *int      `json:"room_humidity,omitempty"`
	SensorTemp1C *float64  `json:"sensor_temp_1_c,omitempty"`
	SensorTemp2C *float64  `json:"sensor_temp_2_c,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Stale marks state that has outlived its trustworthiness after
	// consecutive refresh failures. The values remain the last known
	// good readings.
	Stale bool `json:"stale"`

	// Optimistic marks state carrying a locally assumed value that has
	// not yet been confirmed by a poll.
	Optimistic bool `json:"optimistic"`

	Raw map[string]string `json:"-"`
}

// DeepCopy returns a copy sharing no mutable data with the original.
func (s *State) DeepCopy() *State {
	out := *s
	out.TargetTempC = copyFloat(s.TargetTempC)
	out.RoomTempC = copyFloat(s.RoomTempC)
	out.RoomHumidity = copyInt(s.RoomHumidity)
	out.SensorTemp1C = copyFloat(s.SensorTemp1C)
	out.SensorTemp2C = copyFloat(s.SensorTemp2C)
	if s.Raw != nil {
		out.Raw = make(map[string]string, len(s.Raw))
		for k, v := range s.Raw {
			out.Raw[k] = v
		}
	}
	return &out
}

// CommandType names a control operation.
type CommandType string

const (
	CommandSetPower             CommandType = "set_power"
	CommandSetMode              CommandType = "set_mode"
	CommandSetTargetTemperature CommandType = "set_target_temperature"
	CommandSetFanSpeed          CommandType = "set_fan_speed"
)

// Capability returns the capability the command type requires.
func (t CommandType) Capability() Capability {
	switch t {
	case CommandSetPower:
		return CapabilityPower
	case CommandSetMode:
		return CapabilityMode
	case CommandSetTargetTemperature:
		return CapabilityTargetTemperature
	case CommandSetFanSpeed:
		return CapabilityFanSpeed
	}
	return ""
}

// Command is one accepted control operation. Exactly one of the value
// fields is set, matching Type. A command stays pending on its unit until
// a poll confirms the requested value or ExpiresAt passes, whichever
// comes first.
type Command struct {
	ID          string      `json:"id"`
	UnitID      string      `json:"unit_id"`
	Type        CommandType `json:"type"`
	Power       *bool       `json:"power,omitempty"`
	Mode        *Mode       `json:"mode,omitempty"`
	TargetTempC *float64    `json:"target_temp_c,omitempty"`
	FanSpeed    *FanSpeed   `json:"fan_speed,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// ConfirmedBy reports whether the observed state satisfies the command's
// requested value.
func (c *Command) ConfirmedBy(s *State) bool {
	switch c.Type {
	case CommandSetPower:
		return c.Power != nil && s.Power == *c.Power
	case CommandSetMode:
		return c.Mode != nil && s.Mode == *c.Mode
	case CommandSetTargetTemperature:
		return c.TargetTempC != nil && s.TargetTempC != nil &&
			floatEq(*s.TargetTempC, *c.TargetTempC)
	case CommandSetFanSpeed:
		return c.FanSpeed != nil && s.FanSpeed == *c.FanSpeed
	}
	return false
}

// Expired reports whether the confirmation window has closed.
func (c *Command) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Snapshot pairs a unit with its current state and any pending command.
// All fields are copies; callers can safely retain and modify them.
type Snapshot struct {
	Unit    Unit     `json:"unit"`
	State   State    `json:"state"`
	Pending *Command `json:"pending,omitempty"`
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// floatEq compares temperatures within a quarter step, enough to absorb
// codec rounding without ever conflating adjacent setpoints.
func floatEq(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < TargetTempStepC/2
}
