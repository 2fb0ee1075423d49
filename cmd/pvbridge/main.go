// pv-bridge - PV inverter telemetry bridge
//
// Subscribes to an energy meter's MQTT feed, derives inverter metrics
// (phase currents, net production energy) and republishes them as a
// Victron-style value tree on a second broker at a fixed cadence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/pv-bridge/internal/backoff"
	"github.com/nerrad567/pv-bridge/internal/bridge"
	"github.com/nerrad567/pv-bridge/internal/history"
	"github.com/nerrad567/pv-bridge/internal/infrastructure/config"
	"github.com/nerrad567/pv-bridge/internal/infrastructure/database"
	"github.com/nerrad567/pv-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/pv-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/pv-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/pv-bridge/internal/meter"
	"github.com/nerrad567/pv-bridge/internal/vebus"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Status topic payloads.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting pv-bridge",
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

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Open the local history archive (optional)
	var db *database.DB
	var archive *history.Archive
	if cfg.History.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()

		archive, err = history.NewArchive(db, cfg.History.RetainDays, log)
		if err != nil {
			return fmt.Errorf("initialising history archive: %w", err)
		}
		archive.Start()
		defer func() {
			log.Info("stopping history archive")
			archive.Stop()
		}()
		log.Info("history archive ready",
			"path", cfg.History.Path,
			"retain_days", cfg.History.RetainDays,
		)
	} else {
		log.Info("history archive disabled")
	}

	// Connect to the Venus-side broker. Paho manages reconnection here;
	// the LWT marks the tree offline if the bridge dies.
	venusTopics := mqtt.VenusTopics{Service: cfg.Venus.ServiceName}
	venusClient, err := mqtt.Connect(mqtt.Options{
		Broker:        cfg.Venus.Broker,
		Auth:          cfg.Venus.Auth,
		QoS:           cfg.Venus.QoS,
		AutoReconnect: true,
		Will: &mqtt.WillMessage{
			Topic:    venusTopics.Status(),
			Payload:  statusOffline,
			QoS:      byte(cfg.Venus.QoS), // #nosec G115 -- QoS validated to 0..2
			Retained: true,
		},
	})
	if err != nil {
		return fmt.Errorf("connecting to venus broker: %w", err)
	}
	defer func() {
		log.Info("disconnecting from venus broker")
		if closeErr := venusClient.Close(); closeErr != nil {
			log.Error("error closing venus client", "error", closeErr)
		}
	}()
	venusClient.SetLogger(log)
	log.Info("venus broker connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Venus.Broker.Host, cfg.Venus.Broker.Port),
		"service", cfg.Venus.ServiceName,
	)

	// #nosec G115 -- QoS validated to 0..2
	venusQoS := byte(cfg.Venus.QoS)
	venusClient.SetOnConnect(func() {
		log.Info("venus broker reconnected")
		if pubErr := venusClient.PublishString(venusTopics.Status(), statusOnline, venusQoS, true); pubErr != nil {
			log.Warn("publishing online status", "error", pubErr)
		}
	})
	venusClient.SetOnDisconnect(func(err error) {
		log.Warn("venus broker disconnected", "error", err)
	})
	if err := venusClient.PublishString(venusTopics.Status(), statusOnline, venusQoS, true); err != nil {
		return fmt.Errorf("publishing online status: %w", err)
	}

	// Build the value tree service and announce the device identity.
	sink, err := vebus.NewService(vebus.ServiceOptions{
		Client:      venusClient,
		ServiceName: cfg.Venus.ServiceName,
		QoS:         venusQoS,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("creating value tree service: %w", err)
	}
	if err := sink.Start(); err != nil {
		return fmt.Errorf("starting value tree service: %w", err)
	}
	if err := sink.RegisterIdentity(vebus.DeviceIdentity{
		ProcessName:    "pv-bridge",
		ProcessVersion: version,
		Connection:     fmt.Sprintf("MQTT %s", cfg.Meter.TopicPrefix),
		DeviceInstance: cfg.Venus.DeviceInstance,
		ProductID:      cfg.Venus.ProductID,
		ProductName:    cfg.Venus.ProductName,
		Position:       cfg.Venus.Position,
	}); err != nil {
		return fmt.Errorf("registering device identity: %w", err)
	}
	log.Info("value tree registered",
		"service", cfg.Venus.ServiceName,
		"instance", cfg.Venus.DeviceInstance,
	)

	// Measurement store seeded with the commissioning offset.
	store := meter.NewStore(cfg.Publisher.InitialOffsetKWh)
	store.SetLogger(log)

	// Meter-side client. Paho reconnection is off; the ingestor owns
	// retries through the backoff scheduler.
	meterClient := mqtt.NewClient(mqtt.Options{
		Broker:        cfg.Meter.Broker,
		Auth:          cfg.Meter.Auth,
		QoS:           cfg.Meter.QoS,
		AutoReconnect: false,
	})
	meterClient.SetLogger(log)
	defer func() {
		log.Info("disconnecting from meter broker")
		if closeErr := meterClient.Close(); closeErr != nil {
			log.Error("error closing meter client", "error", closeErr)
		}
	}()

	scheduler := backoff.NewScheduler(backoff.Config{
		Mode:    backoff.Mode(cfg.Meter.Reconnect.Mode),
		Floor:   cfg.GetInitialDelay(),
		Ceiling: cfg.GetMaxDelay(),
		Growth:  cfg.Meter.Reconnect.GrowthFactor,
	})
	defer scheduler.Stop()

	var meterEvents meter.EventRecorder
	if influxClient != nil {
		meterEvents = &meterEventRecorder{
			client:  influxClient,
			service: cfg.Venus.ServiceName,
		}
	}

	// #nosec G115 -- QoS validated to 0..2
	ingestor, err := meter.NewIngestor(meter.IngestorOptions{
		Store:       store,
		Client:      meterClient,
		Scheduler:   scheduler,
		TopicPrefix: cfg.Meter.TopicPrefix,
		QoS:         byte(cfg.Meter.QoS),
		Events:      meterEvents,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("creating meter ingestor: %w", err)
	}
	meterClient.SetOnConnect(ingestor.HandleConnect)
	meterClient.SetOnDisconnect(ingestor.HandleDisconnect)
	defer ingestor.Stop()

	// First connection attempt; failures schedule retries internally.
	ingestor.Connect()
	log.Info("meter ingest started",
		"broker", fmt.Sprintf("%s:%d", cfg.Meter.Broker.Host, cfg.Meter.Broker.Port),
		"topic_prefix", cfg.Meter.TopicPrefix,
		"reconnect_mode", cfg.Meter.Reconnect.Mode,
	)

	// Snapshot publisher with optional cycle recorders.
	var recorders []bridge.Recorder
	if influxClient != nil {
		recorders = append(recorders, &influxRecorder{
			client:  influxClient,
			service: cfg.Venus.ServiceName,
		})
	}
	if archive != nil {
		recorders = append(recorders, archive)
	}

	publisher, err := bridge.NewPublisher(bridge.PublisherOptions{
		Store:     store,
		Sink:      sink,
		Interval:  cfg.GetUpdateInterval(),
		Derive:    deriveConfig(cfg),
		Recorders: recorders,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating snapshot publisher: %w", err)
	}
	publisher.Start()
	defer func() {
		log.Info("stopping snapshot publisher")
		publisher.Stop()
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, venusClient, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Mark the tree offline before the defer chain tears the clients down.
	if err := venusClient.PublishString(venusTopics.Status(), statusOffline, venusQoS, true); err != nil {
		log.Warn("publishing offline status", "error", err)
	}

	log.Info("pv-bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PVBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PVBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// deriveConfig maps publisher settings onto derivation constants.
func deriveConfig(cfg *config.Config) bridge.DeriveConfig {
	var shares [meter.PhaseCount]float64
	copy(shares[:], cfg.Publisher.PhaseShares)

	return bridge.DeriveConfig{
		NominalVoltage:   cfg.Publisher.NominalVoltage,
		InitialOffsetKWh: cfg.Publisher.InitialOffsetKWh,
		PhaseShares:      shares,
		Rounding:         bridge.RoundingMode(cfg.Publisher.RoundingMode),
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// The meter-side client is deliberately excluded: an unreachable meter
// broker is a normal operating condition handled by the backoff loop,
// not a startup failure.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - venusClient: Venus-side MQTT client to check
//   - db: history database to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, venusClient *mqtt.Client, db *database.DB, influxClient *influxdb.Client) error {
	if err := venusClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("venus mqtt: %w", err)
	}

	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history database: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// meterEventRecorder adapts the InfluxDB client to the ingestor's
// EventRecorder interface.
type meterEventRecorder struct {
	client  *influxdb.Client
	service string
}

// RecordEvent implements meter.EventRecorder.
func (r *meterEventRecorder) RecordEvent(event string, detail string) {
	r.client.WriteMeterEvent(r.service, event, detail)
}

// influxRecorder adapts the InfluxDB client to the publisher's
// Recorder interface.
type influxRecorder struct {
	client  *influxdb.Client
	service string
}

// RecordCycle implements bridge.Recorder.
func (r *influxRecorder) RecordCycle(metrics bridge.Metrics, connected bool) error {
	var phasePowers [meter.PhaseCount]float64
	for i, phase := range metrics.Phases {
		phasePowers[i] = phase.PowerWatts
	}

	r.client.WritePublishCycle(r.service, metrics.TotalPowerWatts, metrics.EnergyKWh, phasePowers, connected)
	return nil
}
