package cloud

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Protocol paths and result codes recovered from app traffic.
const (
	loginPath    = "/premise/dsiot/login"
	multireqPath = "/dsiot/multireq"

	// Batched request operations.
	opRead  = 2
	opWrite = 3

	// Vendor result codes embedded in response bodies. HTTP status alone
	// does not signal success.
	rscOK       = 2000
	rscAccepted = 2004
)

// Operation mode codes under e_3001.p_01.
const (
	ModeCodeCool = "0200"
	ModeCodeDry  = "0500"
	ModeCodeFan  = "0000"
)

// Power codes under e_A002.p_01.
const (
	PowerCodeOff = "00"
	PowerCodeOn  = "01"
)

// Fan speed codes. The parameter key they live under depends on the
// active mode, see fanSpeedParamKeys.
const (
	FanCodeAuto   = "0A00"
	FanCodeQuiet  = "0B00"
	FanCodeLevel1 = "0300"
	FanCodeLevel2 = "0400"
	FanCodeLevel3 = "0500"
	FanCodeLevel4 = "0600"
	FanCodeLevel5 = "0700"
)

// fanSpeedParamKeys maps a mode code to the e_3001 parameter that holds
// the fan speed in that mode.
var fanSpeedParamKeys = map[string]string{
	ModeCodeCool: "p_09",
	ModeCodeDry:  "p_27",
	ModeCodeFan:  "p_28",
}

var allFanSpeedParamKeys = []string{"p_09", "p_27", "p_28"}

var knownFanCodes = map[string]struct{}{
	FanCodeAuto:   {},
	FanCodeQuiet:  {},
	FanCodeLevel1: {},
	FanCodeLevel2: {},
	FanCodeLevel3: {},
	FanCodeLevel4: {},
	FanCodeLevel5: {},
}

// Node is one node of a dsiot property tree: a name, an optional value
// and optional children. Values arrive as strings in captured traffic but
// the shape is not guaranteed, so pv is decoded loosely.
type Node struct {
	PN  string `json:"pn,omitempty"`
	PV  any    `json:"pv,omitempty"`
	PCH []Node `json:"pch,omitempty"`
}

// Child returns the direct child with the given name, or nil.
func (n *Node) Child(pn string) *Node {
	for i := range n.PCH {
		if n.PCH[i].PN == pn {
			return &n.PCH[i]
		}
	}
	return nil
}

// Value returns the node's pv coerced to a string.
func (n *Node) Value() (string, bool) {
	switch v := n.PV.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// ValueMap flattens the node's direct children into a pn -> pv map,
// skipping children without a value.
func (n *Node) ValueMap() map[string]string {
	out := make(map[string]string, len(n.PCH))
	for i := range n.PCH {
		child := &n.PCH[i]
		if child.PN == "" {
			continue
		}
		if v, ok := child.Value(); ok {
			out[child.PN] = v
		}
	}
	return out
}

// multireq envelope types. Response payloads vary in shape per request
// (node for status reads, array for edge listings) so pc stays raw until
// the caller knows what it asked for.

type multiRequest struct {
	Requests []requestItem `json:"requests"`
}

type requestItem struct {
	Op int    `json:"op"`
	To string `json:"to"`
	PC *Node  `json:"pc,omitempty"`
}

type multiResponse struct {
	Responses []responseItem `json:"responses"`
}

type responseItem struct {
	FR  string          `json:"fr"`
	RSC int             `json:"rsc"`
	PC  json.RawMessage `json:"pc,omitempty"`
}

type loginRequest struct {
	ClientSecret string `json:"client_secret"`
	UserID       string `json:"user_id"`
	UUID         string `json:"uuid"`
	Password     string `json:"password"`
	ClientID     string `json:"client_id"`
	GrantType    string `json:"grant_type"`
}

type loginResponse struct {
	RSC          int    `json:"rsc"`
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
}

// Hex codecs for dgc_status parameter values.

func decodeHexInt(value string) (int, bool) {
	if value == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(value, 16, 64)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// decodeHexSignedByte decodes a two's-complement byte, used for room
// temperature which can go below zero.
func decodeHexSignedByte(value string) (int, bool) {
	n, ok := decodeHexInt(value)
	if !ok {
		return 0, false
	}
	if n >= 0x80 {
		n -= 0x100
	}
	return n, true
}

// decodeHexHalfDegree decodes a value expressed in 0.5 degree steps.
func decodeHexHalfDegree(value string) (float64, bool) {
	n, ok := decodeHexInt(value)
	if !ok {
		return 0, false
	}
	return float64(n) / 2.0, true
}

// decodeHexLEI16HalfDegree decodes a little-endian signed 16-bit value in
// 0.5 degree steps, used by the auxiliary temperature sensors.
func decodeHexLEI16HalfDegree(value string) (float64, bool) {
	if len(value) != 4 {
		return 0, false
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return 0, false
	}
	n := int16(binary.LittleEndian.Uint16(raw))
	return float64(n) / 2.0, true
}

// encodeHalfDegree encodes a temperature as a single hex byte in 0.5
// degree steps, the format e_3001.p_02 expects.
func encodeHalfDegree(temp float64) (string, bool) {
	steps := int(math.Round(temp * 2))
	if steps < 0 || steps > 0xFF {
		return "", false
	}
	return fmt.Sprintf("%02X", steps), true
}

// normalizeHexCode uppercases a payload fragment and truncates it to the
// given width. Captured values sometimes carry trailing bytes beyond the
// meaningful prefix.
func normalizeHexCode(value string, width int) (string, bool) {
	if len(value) < width {
		return "", false
	}
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		c := value[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out), true
}

// fanSpeedParamKey returns the e_3001 parameter key carrying fan speed
// for the given mode, or "" when the mode is unknown.
func fanSpeedParamKey(modeCode string) string {
	return fanSpeedParamKeys[modeCode]
}

// extractFanSpeedCode picks the mode-appropriate fan speed out of a raw
// status map, falling back to the other known parameter keys when the
// preferred one is absent.
func extractFanSpeedCode(raw map[string]string, modeCode string) (string, bool) {
	keys := make([]string, 0, len(allFanSpeedParamKeys))
	if preferred := fanSpeedParamKey(modeCode); preferred != "" {
		keys = append(keys, preferred)
	}
	for _, k := range allFanSpeedParamKeys {
		if len(keys) == 0 || k != keys[0] {
			keys = append(keys, k)
		}
	}
	for _, key := range keys {
		code, ok := normalizeHexCode(raw["e_3001."+key], 4)
		if !ok {
			continue
		}
		if _, known := knownFanCodes[code]; known {
			return code, true
		}
	}
	return "", false
}

type patchParam struct {
	key string
	def string
}

// modePatchTemplate returns the fixed-width parameter set a mode write
// must carry, in the order the vendor app sends them. The app always
// sends the full group; omitting parameters produces undefined behaviour
// on some firmware.
func modePatchTemplate(modeCode string) []patchParam {
	switch modeCode {
	case ModeCodeCool:
		return []patchParam{
			{"p_02", "32"},
			{"p_05", "0F0000"},
			{"p_06", "0F0000"},
			{"p_09", "0700"},
			{"p_0C", "00"},
		}
	case ModeCodeDry:
		return []patchParam{
			{"p_22", "020000"},
			{"p_23", "0F0000"},
			{"p_27", "0A00"},
			{"p_31", "00"},
		}
	case ModeCodeFan:
		return []patchParam{
			{"p_24", "020000"},
			{"p_25", "050000"},
			{"p_28", "0A00"},
		}
	default:
		return nil
	}
}

// buildModePatch assembles the e_3001 parameter list for a write. Current
// values from the last observed status win over template defaults;
// explicit overrides win over both. Values that do not match the
// template's width are replaced by the default, since the firmware
// expects fixed-width fragments.
func buildModePatch(raw map[string]string, modeCode string, overrides map[string]string) []Node {
	patch := []Node{{PN: "p_01", PV: modeCode}}
	seen := map[string]struct{}{"p_01": {}}

	for _, p := range modePatchTemplate(modeCode) {
		value := overrides[p.key]
		if value == "" {
			value = raw["e_3001."+p.key]
		}
		if value == "" || len(value) != len(p.def) {
			value = p.def
		}
		patch = append(patch, Node{PN: p.key, PV: value})
		seen[p.key] = struct{}{}
	}

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		if _, dup := seen[key]; dup || key == "p_01" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		patch = append(patch, Node{PN: key, PV: overrides[key]})
	}
	return patch
}
