package mqtt

import "fmt"

// Topic prefixes for the Daikin Cloud Core MQTT surface.
//
// The scheme is deliberately small:
//
//	daikincloud/unit/{unit_id}/state    retained unit state (published)
//	daikincloud/unit/{unit_id}/event    command lifecycle events (published)
//	daikincloud/unit/{unit_id}/set      control commands (subscribed)
//	daikincloud/system/status           service availability incl. LWT
const (
	// TopicPrefix is the base for all topics.
	TopicPrefix = "daikincloud"

	// TopicPrefixUnit is the base for per-unit topics.
	TopicPrefixUnit = "daikincloud/unit"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "daikincloud/system"
)

// Topics provides builders for the MQTT topic scheme. Using these
// helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// UnitState returns the retained state topic for a unit.
//
// Example: daikincloud/unit/1234/state
func (Topics) UnitState(unitID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixUnit, unitID)
}

// UnitEvent returns the command lifecycle event topic for a unit.
//
// Example: daikincloud/unit/1234/event
func (Topics) UnitEvent(unitID string) string {
	return fmt.Sprintf("%s/%s/event", TopicPrefixUnit, unitID)
}

// UnitCommand returns the inbound command topic for a unit.
//
// Example: daikincloud/unit/1234/set
func (Topics) UnitCommand(unitID string) string {
	return fmt.Sprintf("%s/%s/set", TopicPrefixUnit, unitID)
}

// SystemStatus returns the service availability topic.
//
// Example: daikincloud/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllUnitCommands returns a pattern matching every unit's command topic.
//
// Pattern: daikincloud/unit/+/set
func (Topics) AllUnitCommands() string {
	return fmt.Sprintf("%s/+/set", TopicPrefixUnit)
}

// AllUnitStates returns a pattern matching every unit's state topic.
//
// Pattern: daikincloud/unit/+/state
func (Topics) AllUnitStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixUnit)
}
