package cloud

import "github.com/nerrad567/daikin-cloud-core/internal/unit"

// Conversions between wire codes and domain values. Kept here so the
// rest of the system never sees a hex fragment.

var modeFromCode = map[string]unit.Mode{
	ModeCodeCool: unit.ModeCool,
	ModeCodeDry:  unit.ModeDry,
	ModeCodeFan:  unit.ModeFanOnly,
}

var codeFromMode = map[unit.Mode]string{
	unit.ModeCool:    ModeCodeCool,
	unit.ModeDry:     ModeCodeDry,
	unit.ModeFanOnly: ModeCodeFan,
}

var fanSpeedFromCode = map[string]unit.FanSpeed{
	FanCodeAuto:   unit.FanAuto,
	FanCodeQuiet:  unit.FanQuiet,
	FanCodeLevel1: unit.FanLevel1,
	FanCodeLevel2: unit.FanLevel2,
	FanCodeLevel3: unit.FanLevel3,
	FanCodeLevel4: unit.FanLevel4,
	FanCodeLevel5: unit.FanLevel5,
}

var codeFromFanSpeed = map[unit.FanSpeed]string{
	unit.FanAuto:   FanCodeAuto,
	unit.FanQuiet:  FanCodeQuiet,
	unit.FanLevel1: FanCodeLevel1,
	unit.FanLevel2: FanCodeLevel2,
	unit.FanLevel3: FanCodeLevel3,
	unit.FanLevel4: FanCodeLevel4,
	unit.FanLevel5: FanCodeLevel5,
}

// ModeFromCode maps a wire mode code to its domain value. Unknown codes
// map to ModeUnknown, which keeps newly observed firmware modes visible
// without crashing anything.
func ModeFromCode(code string) unit.Mode {
	if m, ok := modeFromCode[code]; ok {
		return m
	}
	return unit.ModeUnknown
}

// CodeForMode maps a domain mode to its wire code.
func CodeForMode(m unit.Mode) (string, bool) {
	code, ok := codeFromMode[m]
	return code, ok
}

// FanSpeedFromCode maps a wire fan code to its domain value.
func FanSpeedFromCode(code string) unit.FanSpeed {
	if f, ok := fanSpeedFromCode[code]; ok {
		return f
	}
	return unit.FanUnknown
}

// CodeForFanSpeed maps a domain fan speed to its wire code.
func CodeForFanSpeed(f unit.FanSpeed) (string, bool) {
	code, ok := codeFromFanSpeed[f]
	return code, ok
}

// EncodeTargetTemp encodes a target temperature for e_3001.p_02.
func EncodeTargetTemp(tempC float64) (string, bool) {
	return encodeHalfDegree(tempC)
}

// FanSpeedOverrides builds the e_3001 parameter overrides that set a fan
// speed for the given mode. When the mode's parameter key is unknown the
// code is written to every known key, matching the vendor app's
// behaviour for unrecognised modes.
func FanSpeedOverrides(modeCode, fanCode string) map[string]string {
	if key := fanSpeedParamKey(modeCode); key != "" {
		return map[string]string{key: fanCode}
	}
	out := make(map[string]string, len(allFanSpeedParamKeys))
	for _, key := range allFanSpeedParamKeys {
		out[key] = fanCode
	}
	return out
}

// ApplyStatus maps a decoded snapshot onto a unit state. Used as the
// UpsertState mutator for observed refreshes: observed data always wins,
// clears the optimistic and stale flags, and replaces the raw map.
func ApplyStatus(st UnitStatus) func(*unit.State) {
	return func(s *unit.State) {
		if st.PowerOn != nil {
			s.Power = *st.PowerOn
		}
		if st.ModeCode != "" {
			s.Mode = ModeFromCode(st.ModeCode)
		}
		if st.FanCode != "" {
			s.FanSpeed = FanSpeedFromCode(st.FanCode)
		}
		if st.TargetTempC != nil {
			s.TargetTempC = st.TargetTempC
		}
		s.RoomTempC = st.RoomTempC
		s.RoomHumidity = st.RoomHumidity
		s.SensorTemp1C = st.SensorTemp1C
		s.SensorTemp2C = st.SensorTemp2C
		s.Raw = st.Raw
		s.Stale = false
		s.Optimistic = false
	}
}
