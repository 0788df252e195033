package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/suteetoe/pharmadesk/internal/otp"
	"github.com/suteetoe/pharmadesk/internal/server"
	"github.com/suteetoe/pharmadesk/pkg/cache"
	"github.com/suteetoe/pharmadesk/pkg/config"
	"github.com/suteetoe/pharmadesk/pkg/database"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.GetLogger()
	defer func() { _ = log.Sync() }()
	log.Info("Starting pharmadesk service...", cfg.LogConfig()...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	db, err := database.InitDB(&cfg.DB)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	log.Info("Database connection established")

	opts, closeDeps, err := externalDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDeps()

	srv, err := server.New(cfg, db, opts)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.Echo.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return otp.NewSweeper(srv.OTP, cfg.OTP.SweepInterval, log.Named("otp-sweeper")).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Echo.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		return err
	}
	log.Info("Server stopped")
	return nil
}

// externalDeps connects the optional Redis, NATS and cache collaborators.
// The returned func releases whatever was opened.
func externalDeps(ctx context.Context, cfg *config.Config, log *zap.Logger) (server.Options, func(), error) {
	var (
		opts    server.Options
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			// Cooldowns fail open, so an unreachable Redis is not fatal.
			log.Warn("Redis not reachable, OTP cooldown will fail open", zap.Error(err))
		}
		opts.Limiter = otp.NewRedisLimiter(client)
		closers = append(closers, func() { _ = client.Close() })
	}

	if cfg.NATS.URL != "" {
		dispatcher, drain, err := otp.ConnectNATS(cfg.NATS.URL, cfg.NATS.OTPSubject)
		if err != nil {
			closeAll()
			return server.Options{}, nil, err
		}
		opts.Dispatcher = dispatcher
		closers = append(closers, drain)
	} else {
		opts.Dispatcher = otp.LogDispatcher{Logger: log.Named("otp")}
	}

	tenantCache, err := cache.New(cfg.Cache.MaxCost, cfg.Cache.TTL)
	if err != nil {
		closeAll()
		return server.Options{}, nil, fmt.Errorf("create cache: %w", err)
	}
	opts.Cache = tenantCache
	closers = append(closers, tenantCache.Close)

	return opts, closeAll, nil
}
