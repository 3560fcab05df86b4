// Package config provides configuration loading for Daikin Cloud Core.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by DAIKINCLOUD_* environment variables. Secrets
// (account password, MQTT password, InfluxDB token) should be supplied via
// environment variables rather than the YAML file.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Sync.GetInterval())
//
// Duration-valued settings are stored as integer seconds or minutes in
// YAML and exposed as time.Duration through Get* helpers.
package config
