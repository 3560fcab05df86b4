// Package logging provides structured logging for Daikin Cloud Core.
//
// It wraps the standard library's log/slog with configuration-driven
// format and level selection, and stamps every record with the service
// name and build version.
//
// # Usage
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("unit discovered", "unit_id", id)
//
//	syncLog := log.With("component", "sync")
//	syncLog.Warn("poll failed", "unit_id", id, "error", err)
package logging
