// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"psu-service/internal/config"
	"psu-service/internal/database"
	"psu-service/internal/discovery"
	"psu-service/internal/handler"
	"psu-service/internal/model"
	"psu-service/internal/repository"
	"psu-service/internal/routes"
	"psu-service/internal/service"
	"psu-service/internal/utils"
	"psu-service/pkg/driver"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	psu        driver.PowerSupply
	info       *model.InstrumentInfo
	psuService *service.PSUService
	wsHandler  *handler.WebSocketHandler

	readingRepo   repository.ReadingRepository
	operationRepo repository.OperationRepository

	samplerStop chan struct{}
}

// @title PSU Service API
// @version 1.0.0
// @description Host-side control service for the GW Instek GPD-3303S bench power supply
// @termsOfService http://swagger.io/terms/

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8093
// @BasePath /api/v1
func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "psu-service")
	serviceLogger.LogServiceStart(cfg.App.Version)

	app := &Application{
		config:      cfg,
		logger:      logger,
		samplerStop: make(chan struct{}),
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initializeInstrument(); err != nil {
		return nil, fmt.Errorf("failed to initialize instrument: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase sets up database connection and runs migrations
func (app *Application) initializeDatabase() error {
	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	app.database = db

	migrator := database.NewMigrator(db, app.logger, &app.config.Database)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.readingRepo = repository.NewReadingRepository(db, app.logger)
	app.operationRepo = repository.NewOperationRepository(db, app.logger)

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeInstrument discovers the power supply on the serial bus.
// Startup fails hard when no instrument answers: the service is useless
// without one.
func (app *Application) initializeInstrument() error {
	finder := discovery.NewFinder(&app.config.Instrument, app.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	psu, info, err := finder.Find(ctx)
	if err != nil {
		return fmt.Errorf("instrument discovery failed: %w", err)
	}

	app.psu = psu
	app.info = info

	app.logger.Info("Instrument initialized",
		zap.String("identity", info.Identity),
		zap.String("port", info.PortName),
	)
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.psuService = service.NewPSUService(
		app.psu,
		app.info,
		app.readingRepo,
		app.operationRepo,
		app.config,
		app.logger,
	)

	app.wsHandler = handler.NewWebSocketHandler(app.logger)

	app.wsHandler.BroadcastEvent(model.InstrumentEvent{
		ID:        uuid.New(),
		EventType: model.EventInstrumentFound,
		Data: model.JSONObject{
			"identity": app.info.Identity,
			"port":     app.info.PortName,
		},
		Timestamp: time.Now(),
		Source:    "discovery",
		Severity:  "INFO",
	})

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.psuService,
		app.wsHandler,
	)

	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)

	return nil
}

// startBackgroundServices starts the sampler and retention loops
func (app *Application) startBackgroundServices() {
	go app.startSampler()
	go app.startCleanupService()

	app.logger.Info("Background services started")
}

// startSampler periodically reads both channels, persists the readings
// and pushes them to WebSocket clients
func (app *Application) startSampler() {
	ticker := time.NewTicker(app.config.Instrument.PollInterval)
	defer ticker.Stop()

	app.logger.Info("Reading sampler started",
		zap.Duration("interval", app.config.Instrument.PollInterval),
	)

	for {
		select {
		case <-app.samplerStop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)

		readings, err := app.psuService.Sample(ctx)
		if err != nil {
			app.logger.Warn("Sampling cycle failed", zap.Error(err))
			cancel()
			continue
		}

		app.wsHandler.BroadcastReadings(readings)

		cancel()
	}
}

// startCleanupService purges readings and audit entries past retention
func (app *Application) startCleanupService() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started",
		zap.Duration("retention", app.config.Instrument.RetainReadings),
	)

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)

		if err := app.psuService.PurgeOldRecords(ctx); err != nil {
			app.logger.Error("Failed to purge old records", zap.Error(err))
		}

		cancel()
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown. The instrument is closed after
// the HTTP server drains so no in-flight request races the final
// output-off command.
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "psu-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	close(app.samplerStop)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	if app.psu != nil {
		if err := app.psu.Close(); err != nil {
			app.logger.Error("Instrument close error", zap.Error(err))
		} else {
			app.logger.Info("Instrument closed, output forced off")
		}
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()

	app.waitForShutdown()

	return nil
}
