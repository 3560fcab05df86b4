// Package influxdb provides time-series storage for unit telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// # Purpose
//
// The cloud only ever serves the current snapshot of a unit; history
// must be accumulated locally. Each successful poll writes room
// temperature, humidity, auxiliary sensor readings and active settings
// to the unit_telemetry measurement. Command lifecycle transitions go to
// command_events, which makes confirmation rates queryable.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled when turned off in config
//	}
//	defer client.Close()
//
//	client.WriteUnitTelemetry(snapshot)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according
// to config (batch_size, flush_interval) and flushed on Close.
package influxdb
