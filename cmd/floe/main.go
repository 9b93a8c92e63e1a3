// Package main provides the floe game server binary: the XT socket
// listener, the event bus, and the systems that drive the world.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/floe/internal/auth"
	"github.com/cory-johannsen/floe/internal/bus"
	"github.com/cory-johannsen/floe/internal/config"
	"github.com/cory-johannsen/floe/internal/game/logic"
	"github.com/cory-johannsen/floe/internal/game/state"
	"github.com/cory-johannsen/floe/internal/game/world"
	"github.com/cory-johannsen/floe/internal/gateway"
	"github.com/cory-johannsen/floe/internal/observability"
	"github.com/cory-johannsen/floe/internal/server"
	"github.com/cory-johannsen/floe/internal/storage/postgres"
	"github.com/cory-johannsen/floe/internal/system"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	roomsFile := flag.String("rooms", "", "path to the room catalogue; overrides world.rooms_file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *roomsFile != "" {
		cfg.World.RoomsFile = *roomsFile
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting floe",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("auth_backend", cfg.Auth.Backend),
	)
	metrics := observability.NewMetrics()

	// Load world
	worldStart := time.Now()
	rooms, err := world.LoadCatalogueFromFile(cfg.World.RoomsFile)
	if err != nil {
		logger.Fatal("loading room catalogue", zap.Error(err))
	}
	logger.Info("world loaded",
		zap.Int("rooms", rooms.Len()),
		zap.Int("spawn_rooms", len(rooms.SpawnRooms())),
		zap.Duration("elapsed", time.Since(worldStart)),
	)

	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownGrace)

	// Credentials
	var validator auth.CredentialValidator
	switch cfg.Auth.Backend {
	case config.AuthBackendPostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database,
			postgres.WithLogger(logger.Named("postgres")),
			postgres.WithHealthObserver(func(up bool) {
				if up {
					metrics.DatabaseUp.Set(1)
				} else {
					metrics.DatabaseUp.Set(0)
				}
			}),
		)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		validator = postgres.NewAccountRepository(pool.DB())
		metrics.DatabaseUp.Set(1)
		lifecycle.Add("postgres", pool)
	default:
		validator = auth.NewStaticValidator(cfg.Auth.Accounts)
		logger.Info("using static accounts", zap.Int("accounts", len(cfg.Auth.Accounts)))
	}

	if cfg.Metrics.Enabled {
		lifecycle.Add("metrics", metricsService(cfg.Metrics.Addr(), metrics, logger))
	}

	dist, err := gateway.Listen(cfg.Server.Addr(), gateway.DistributorConfig{
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		IdleTimeout:      cfg.Server.IdleTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		MaxFrameSize:     cfg.Server.MaxFrameSize,
		OutboxSize:       cfg.Server.OutboxSize,
	}, gateway.GateConfig{RandomKey: cfg.Auth.RandomKey}, validator, logger.Named("gateway"), metrics)
	if err != nil {
		logger.Fatal("binding game listener", zap.Error(err))
	}

	eventBus := bus.New(cfg.Bus.Capacity,
		bus.WithLogger(logger.Named("bus")),
		bus.WithLagObserver(func(dropped int) {
			metrics.BusLaggedEvents.Add(float64(dropped))
		}),
	)
	st := state.New()

	// Systems are booted in order; the socket goes last so that every
	// other subscriber exists before the first connection is accepted.
	systems := []system.System{
		logic.NewServerSystem(rooms, dist.Registry(), logger.Named("server")),
		&system.Heartbeat{
			Interval: cfg.Heartbeat.Interval,
			Logger:   logger.Named("heartbeat"),
			OnTick: func(players int) {
				metrics.PlayersOnline.Set(float64(players))
			},
		},
		gateway.NewSocketSystem(dist, logger.Named("socket"), metrics),
	}

	sysCtx, stopSystems := context.WithCancel(ctx)
	lifecycle.Add("world", &server.FuncService{
		StartFn: func() error {
			if err := system.Boot(sysCtx, st, eventBus, systems...); err != nil {
				return err
			}
			<-dist.Done()
			return nil
		},
		StopFn: func(ctx context.Context) {
			stopSystems()
			select {
			case <-dist.Done():
			case <-ctx.Done():
				logger.Warn("connections still draining at shutdown deadline",
					zap.Int("connections", dist.Registry().Count()),
				)
			}
			eventBus.Close()
		},
	})

	logger.Info("floe initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", dist.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func metricsService(addr string, metrics *observability.Metrics, logger *zap.Logger) server.Service {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &server.FuncService{
		StartFn: func() error {
			logger.Info("metrics listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: func(ctx context.Context) {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("metrics shutdown", zap.Error(err))
			}
		},
	}
}
