package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"thermopoll/internal/ble"
	"thermopoll/internal/config"
	"thermopoll/internal/db"
	"thermopoll/internal/httpapi"
	"thermopoll/internal/migrate"
	"thermopoll/internal/scheduler"
	"thermopoll/internal/sensor"
	"thermopoll/internal/transport"
)

// deps lets tests swap the radio for a fake.
type deps struct {
	device sensor.Device
}

// Run wires the gateway from cfg and polls until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	return run(ctx, cfg, logger, deps{})
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, d deps) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sensorsFile", cfg.SensorsFile,
		"pollInterval", cfg.PollInterval,
		"attemptTimeout", cfg.AttemptTimeout,
		"batchSize", cfg.BatchSize,
		"dataset", cfg.Dataset,
		"transports", cfg.Transports,
		"bleAdapter", cfg.BLEAdapter,
	)

	sensors, err := config.LoadSensors(cfg.SensorsFile)
	if err != nil {
		return err
	}

	var dbConn *sql.DB
	if cfg.HasTransport(config.TransportSQL) {
		dbConn, err = db.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(dbConn); err != nil {
				logger.Error("db close", "error", err)
			}
		}()
		if err := migrate.Run(ctx, dbConn, cfg.Driver, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database ready", "driver", cfg.Driver)
	}

	manager, err := buildTransports(ctx, cfg, dbConn, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("transport close", "error", err)
		}
	}()

	device := d.device
	if device == nil {
		central := ble.NewCentral(cfg.BLEAdapter, logger)
		if err := central.Enable(); err != nil {
			// Connect retries the adapter every attempt.
			logger.Warn("ble adapter could not be enabled; sensors stay unreachable until it is", "error", err)
		}
		device = central
	}

	registry := sensor.NewRegistry(device, sensor.Env{HomeID: cfg.HomeID}, logger)
	sched := scheduler.New(sensors, registry, manager, scheduler.Options{
		Interval:       cfg.PollInterval,
		AttemptTimeout: cfg.AttemptTimeout,
		BatchSize:      cfg.BatchSize,
		Dataset:        cfg.Dataset,
	}, logger)

	for _, s := range sensors {
		if _, ok := registry.Lookup(s.Type); !ok {
			logger.Warn("sensor type has no handler and will be skipped",
				"sensor", s.Name, "type", s.Type, "known_types", registry.Types())
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(runCtx) }()

	var (
		srv   *http.Server
		errCh = make(chan error, 1)
	)
	if cfg.HTTPAddr != "" {
		var pinger httpapi.Pinger
		if dbConn != nil {
			pinger = dbConn
		}
		srv = httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(sched, pinger, logger), logger)
		go func() {
			logger.Info("http listening", "addr", cfg.HTTPAddr)
			errCh <- srv.ListenAndServe()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
		srv = nil
		cancelRun()
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		logger.Info("http shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
		}
	}

	// Let the in-flight cycle finish before transports are closed.
	if err := <-schedDone; err != nil && runErr == nil {
		runErr = err
	}
	logger.Info("gateway stopped")
	return runErr
}

func buildTransports(ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger) (*transport.Manager, error) {
	m := transport.NewManager(logger)
	for _, name := range cfg.Transports {
		var (
			p   transport.Publisher
			err error
		)
		switch name {
		case config.TransportMQTT:
			mp := transport.NewMQTTPublisher(transport.MQTTConfig{
				Broker:      cfg.MQTTBroker,
				Port:        cfg.MQTTPort,
				ClientID:    cfg.MQTTClientID,
				TopicPrefix: cfg.MQTTTopicPrefix,
			}, logger)
			// Short initial connect so a missing broker does not block startup;
			// the client keeps retrying in the background.
			connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := mp.Connect(connectCtx); err != nil {
				logger.Warn("mqtt connection failed (continuing, will retry)", "error", err)
			}
			cancel()
			p = mp
		case config.TransportKafka:
			p, err = transport.NewKafkaPublisher(transport.KafkaConfig{
				Brokers: cfg.KafkaBrokers,
				Topic:   cfg.KafkaTopic,
			}, logger)
		case config.TransportSQL:
			p = transport.NewSQLPublisher(dbConn, cfg.Driver, logger)
		case config.TransportFile:
			p, err = transport.NewFilePublisher(cfg.FileSinkDir, logger)
		default:
			err = fmt.Errorf("unknown transport %q", name)
		}
		if err == nil {
			err = m.Add(name, p)
		}
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		logger.Info("transport enabled", "transport", name)
	}
	return m, nil
}
