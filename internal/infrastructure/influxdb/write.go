package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

// WriteUnitTelemetry records one unit's sensor readings and settings.
//
// Called after each successful poll. The write is non-blocking; data is
// batched and sent asynchronously. Optimistic or stale snapshots are
// skipped so the history only ever contains server-confirmed readings.
func (c *Client) WriteUnitTelemetry(snap unit.Snapshot) {
	if !c.IsConnected() {
		return
	}
	if snap.State.Optimistic || snap.State.Stale {
		return
	}

	fields := map[string]interface{}{
		"power": boolToInt(snap.State.Power),
	}
	if snap.State.TargetTempC != nil {
		fields["target_temp_c"] = *snap.State.TargetTempC
	}
	if snap.State.RoomTempC != nil {
		fields["room_temp_c"] = *snap.State.RoomTempC
	}
	if snap.State.RoomHumidity != nil {
		fields["room_humidity"] = float64(*snap.State.RoomHumidity)
	}
	if snap.State.SensorTemp1C != nil {
		fields["sensor_temp_1_c"] = *snap.State.SensorTemp1C
	}
	if snap.State.SensorTemp2C != nil {
		fields["sensor_temp_2_c"] = *snap.State.SensorTemp2C
	}

	point := write.NewPoint(
		"unit_telemetry",
		map[string]string{
			"unit_id":   snap.Unit.ID,
			"unit_name": snap.Unit.Name,
			"mode":      string(snap.State.Mode),
			"fan_speed": string(snap.State.FanSpeed),
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandEvent records a command lifecycle transition, useful for
// auditing how often writes confirm versus expire.
func (c *Client) WriteCommandEvent(unitID, commandType, outcome string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command_events",
		map[string]string{
			"unit_id": unitID,
			"type":    commandType,
			"outcome": outcome,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
