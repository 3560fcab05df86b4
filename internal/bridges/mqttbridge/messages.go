package mqttbridge

import (
	"time"

	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

// Command actions accepted on daikincloud/unit/{id}/set.
const (
	ActionSetPower             = "set_power"
	ActionSetMode              = "set_mode"
	ActionSetTargetTemperature = "set_target_temperature"
	ActionSetFanSpeed          = "set_fan_speed"
)

// CommandMessage is the inbound command payload.
//
// Examples:
//
//	{"action":"set_power","power":true}
//	{"action":"set_mode","mode":"cool"}
//	{"action":"set_target_temperature","target_temp_c":21.5}
//	{"action":"set_fan_speed","fan_speed":"auto"}
type CommandMessage struct {
	Action      string   `json:"action"`
	Power       *bool    `json:"power,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	TargetTempC *float64 `json:"target_temp_c,omitempty"`
	FanSpeed    string   `json:"fan_speed,omitempty"`
}

// StateMessage is the retained state payload published on
// daikincloud/unit/{id}/state.
type StateMessage struct {
	Unit    unit.Unit     `json:"unit"`
	State   unit.State    `json:"state"`
	Pending *unit.Command `json:"pending,omitempty"`
}

// EventMessage is the command lifecycle payload published on
// daikincloud/unit/{id}/event.
type EventMessage struct {
	Event     string        `json:"event"`
	UnitID    string        `json:"unit_id"`
	Command   *unit.Command `json:"command,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func statePayload(snap unit.Snapshot) StateMessage {
	return StateMessage{
		Unit:    snap.Unit,
		State:   snap.State,
		Pending: snap.Pending,
	}
}

func eventPayload(ev unit.Event) EventMessage {
	return EventMessage{
		Event:     string(ev.Type),
		UnitID:    ev.Snapshot.Unit.ID,
		Command:   ev.Command,
		Timestamp: time.Now().UTC(),
	}
}
