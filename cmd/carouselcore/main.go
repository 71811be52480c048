// Carousel Core - Content Rotation Daemon
//
// This is the main entry point for the Carousel Core application.
// Carousel Core drives content carousels on registered devices:
//   - Uploads a batch of posts through the device automation agent
//   - Lets them sit live for a randomised dwell window
//   - Removes them and starts the next cycle
//
// All durable state lives in SQLite; the daemon recovers interrupted
// runs on startup by re-reading them from the database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/carousel-core/migrations"

	"github.com/nerrad567/carousel-core/internal/account"
	"github.com/nerrad567/carousel-core/internal/agent"
	"github.com/nerrad567/carousel-core/internal/api"
	"github.com/nerrad567/carousel-core/internal/audit"
	"github.com/nerrad567/carousel-core/internal/caption"
	"github.com/nerrad567/carousel-core/internal/carousel"
	"github.com/nerrad567/carousel-core/internal/content"
	"github.com/nerrad567/carousel-core/internal/device"
	"github.com/nerrad567/carousel-core/internal/driver"
	"github.com/nerrad567/carousel-core/internal/infrastructure/config"
	"github.com/nerrad567/carousel-core/internal/infrastructure/database"
	"github.com/nerrad567/carousel-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/carousel-core/internal/infrastructure/logging"
	"github.com/nerrad567/carousel-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/carousel-core/internal/telemetry"
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

// healthCheckTimeout bounds the post-startup verification probes.
const healthCheckTimeout = 5 * time.Second

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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Carousel Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logging with configured level and format
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	// Database: open, migrate, and keep open for the process lifetime.
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Error("closing database", "error", cerr)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	// Repositories share the single SQLite handle.
	devices := device.NewSQLiteRepository(db.DB)
	accounts := account.NewSQLiteRepository(db.DB)
	catalog := content.NewSQLiteRepository(db.DB)
	carousels := carousel.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// MQTT event bus (optional). Runs keep working without it; only the
	// retained status topics and event stream go dark.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT broker: %w", err)
		}
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		defer func() {
			if cerr := mqttClient.Close(); cerr != nil {
				log.Error("closing MQTT client", "error", cerr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB metrics sink (optional).
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write error", "error", err)
		})
		defer func() {
			if cerr := influxClient.Close(); cerr != nil {
				log.Error("closing InfluxDB client", "error", cerr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Automation agent. When managed we supervise the process and wait
	// for its TCP port; otherwise we just talk to the configured endpoint.
	agentMgr, err := agent.NewManager(cfg.Driver.Agent)
	if err != nil {
		return fmt.Errorf("creating agent manager: %w", err)
	}
	agentMgr.SetLogger(log)
	if agentMgr.IsManaged() {
		if err := agentMgr.Start(ctx); err != nil {
			return fmt.Errorf("starting automation agent: %w", err)
		}
		defer func() {
			if serr := agentMgr.Stop(); serr != nil {
				log.Error("stopping automation agent", "error", serr)
			}
		}()
	}

	// Driver stack: HTTP client, session registry, retrying executor.
	driverClient := driver.NewClient(cfg.Driver)
	sessions := driver.NewSessionManager(driverClient, log)
	executor := driver.NewExecutor(driverClient, log)
	runtime := driver.NewRuntime(sessions, executor)

	captions := caption.New(cfg.Generator, log)

	// One hub shared by the API server and the telemetry reporter so
	// controller events reach WebSocket clients directly.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	var reporters []carousel.Reporter
	if mqttClient != nil {
		reporters = append(reporters, telemetry.NewMQTTReporter(mqttClient, log))
	}
	if influxClient != nil {
		reporters = append(reporters, telemetry.NewInfluxReporter(influxClient))
	}
	reporters = append(reporters, telemetry.NewHubReporter(hub))

	controller := carousel.NewController(carousel.ControllerDeps{
		Repo:     carousels,
		Accounts: accounts,
		Devices:  devices,
		Catalog:  catalog,
		Driver:   &driverRuntimeAdapter{runtime: runtime},
		Captions: captions,
		Retry: carousel.RetryPolicy{
			MaxRetries: cfg.Driver.MaxRetries,
			Backoff:    cfg.Driver.RetryBackoff,
		},
		Reporter: telemetry.NewMulti(reporters...),
		Logger:   log,
	})

	dispatcher := carousel.NewDispatcher(carousels, controller, cfg.Scheduler, log)
	go dispatcher.Run(ctx)

	// With MQTT up, runs can also be cancelled and resumed over the bus.
	if mqttClient != nil {
		commands := telemetry.NewCommandBridge(mqttClient, dispatcher, log)
		if err := commands.Start(); err != nil {
			return fmt.Errorf("subscribing to run commands: %w", err)
		}
		defer func() {
			if cerr := commands.Stop(); cerr != nil {
				log.Warn("removing run command subscription", "error", cerr)
			}
		}()
	}

	// Health probes surfaced by GET /api/v1/system/status.
	checks := map[string]api.HealthChecker{
		"database": db,
	}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}
	if agentMgr.IsManaged() {
		checks["agent"] = agentMgr
	}

	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Defaults:    cfg.Scheduler.Defaults,
		Logger:      log,
		Devices:     devices,
		Accounts:    accounts,
		Content:     catalog,
		Carousels:   carousels,
		Runs:        dispatcher,
		Audit:       auditRepo,
		ExternalHub: hub,
		Checks:      checks,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if cerr := apiServer.Close(); cerr != nil {
			log.Error("closing API server", "error", cerr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("startup health check: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received")

	return nil
}

// driverRuntimeAdapter narrows *driver.Runtime to the controller's Driver
// interface. The indirection exists because Runtime returns its concrete
// session type and the controller only needs the carousel.Session methods.
type driverRuntimeAdapter struct {
	runtime *driver.Runtime
}

func (a *driverRuntimeAdapter) Acquire(ctx context.Context, dev *device.Device, username string) (carousel.Session, error) {
	session, err := a.runtime.Acquire(ctx, dev, username)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// healthCheck verifies core components immediately after startup so a
// misconfigured deployment fails fast instead of limping.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// getConfigPath returns the configuration file path, preferring the
// CAROUSEL_CONFIG environment variable over the default location.
func getConfigPath() string {
	if path := os.Getenv("CAROUSEL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
