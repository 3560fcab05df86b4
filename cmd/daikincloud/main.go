// Daikin Cloud Core - local control plane for cloud-connected AC units.
//
// The daemon maintains an authenticated session against the vendor
// cloud, polls unit state into an in-memory registry and exposes it
// over REST, WebSocket and optionally MQTT. Commands flow the other
// way: validated locally, written to the cloud, confirmed by poll.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/daikin-cloud-core/migrations"

	"github.com/google/uuid"

	"github.com/nerrad567/daikin-cloud-core/internal/api"
	"github.com/nerrad567/daikin-cloud-core/internal/bridges/mqttbridge"
	"github.com/nerrad567/daikin-cloud-core/internal/cloud"
	"github.com/nerrad567/daikin-cloud-core/internal/engine"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/config"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/database"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/metrics"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error lets main handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Daikin Cloud Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Credential store, seeded from config on first run
	store := cloud.NewSQLiteStore(db.DB)
	if seedErr := seedCredential(ctx, store, cfg.Cloud, log); seedErr != nil {
		return fmt.Errorf("seeding credential: %w", seedErr)
	}

	m := metrics.New()

	// Cloud client and session manager. The manager calls back into the
	// client for logins, the client asks the manager for tokens.
	client := cloud.NewClient(cloud.ClientConfig{
		BaseURL:        cfg.Cloud.BaseURL,
		RequestTimeout: cfg.Cloud.GetRequestTimeout(),
	}, store, log)

	sessions := cloud.NewManager(store, client.Login, cloud.ManagerConfig{
		FallbackTTL:       cfg.Cloud.Session.GetFallbackTTL(),
		SafetyMargin:      cfg.Cloud.Session.GetSafetyMargin(),
		UnstableThreshold: cfg.Cloud.Session.UnstableThreshold,
		UnstableWindow:    cfg.Cloud.Session.GetUnstableWindow(),
		DefaultAuthMode:   cfg.Cloud.AuthMode,
	}, log, m)
	client.SetSessionManager(sessions)

	// Unit registry: single source of truth for unit state
	registry := unit.NewRegistry(cfg.Sync.StaleAfter)
	registry.SetLogger(log)

	dispatcher := engine.NewDispatcher(registry, client, cfg.Sync.GetConfirmTimeout(), log, m)
	synchronizer := engine.NewSynchronizer(registry, client, engine.SynchronizerConfig{
		Interval:          cfg.Sync.GetInterval(),
		DiscoveryInterval: cfg.Sync.GetDiscoveryInterval(),
		BackoffInitial:    cfg.Sync.GetBackoffInitial(),
		BackoffMax:        cfg.Sync.GetBackoffMax(),
	}, log, m)

	syncDone := make(chan error, 1)
	go func() {
		syncDone <- synchronizer.Run(ctx)
	}()
	log.Info("synchronizer started",
		"interval", cfg.Sync.GetInterval(),
		"discovery_interval", cfg.Sync.GetDiscoveryInterval(),
	)

	// MQTT bridge (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		bridge := mqttbridge.NewBridge(mqttClient, registry, dispatcher, byte(cfg.MQTT.QoS), log)
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("MQTT bridge disabled")
	}

	// InfluxDB telemetry history (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		go forwardTelemetry(ctx, registry, influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP and WebSocket API
	server, err := api.New(api.Deps{
		Config:       cfg,
		Logger:       log,
		Registry:     registry,
		Dispatcher:   dispatcher,
		Synchronizer: synchronizer,
		Sessions:     sessions,
		Metrics:      m,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	apiDone := make(chan error, 1)
	go func() {
		apiDone <- server.Start()
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case apiErr := <-apiDone:
		if apiErr != nil {
			return fmt.Errorf("API server: %w", apiErr)
		}
	case syncErr := <-syncDone:
		if syncErr != nil {
			return fmt.Errorf("synchronizer: %w", syncErr)
		}
	}

	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}

	log.Info("Daikin Cloud Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DAIKINCLOUD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DAIKINCLOUD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedCredential writes the config credential into the store on first
// run. The store is the source of truth afterwards, so an existing
// credential is never overwritten by config.
func seedCredential(ctx context.Context, store cloud.Store, cfg config.CloudConfig, log *logging.Logger) error {
	_, err := store.GetCredential(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, cloud.ErrNotConfigured) {
		return err
	}
	if cfg.Username == "" || cfg.Password == "" {
		log.Warn("no cloud credential configured, polling will fail until one is stored")
		return nil
	}

	clientUUID := cfg.ClientUUID
	if clientUUID == "" {
		clientUUID = uuid.NewString()
	}

	cred := &cloud.Credential{
		Username:     cfg.Username,
		Password:     cfg.Password,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		ClientUUID:   clientUUID,
	}
	if putErr := store.PutCredential(ctx, cred); putErr != nil {
		return putErr
	}
	log.Info("cloud credential seeded from config", "username", cfg.Username)
	return nil
}

// forwardTelemetry streams registry events into InfluxDB until ctx ends.
func forwardTelemetry(ctx context.Context, registry *unit.Registry, influxClient *influxdb.Client) {
	events, cancel := registry.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case unit.EventStateChanged:
				influxClient.WriteUnitTelemetry(ev.Snapshot)
			case unit.EventCommandConfirmed:
				if ev.Command != nil {
					influxClient.WriteCommandEvent(ev.Snapshot.Unit.ID, string(ev.Command.Type), "confirmed")
				}
			case unit.EventCommandExpired:
				if ev.Command != nil {
					influxClient.WriteCommandEvent(ev.Snapshot.Unit.ID, string(ev.Command.Type), "expired")
				}
			}
		}
	}
}
