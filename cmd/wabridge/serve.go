package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"wabridge/internal/address"
	"wabridge/internal/bus"
	"wabridge/internal/channel"
	"wabridge/internal/config"
	"wabridge/internal/dispatch"
	"wabridge/internal/domain"
	"wabridge/internal/lock"
	wlog "wabridge/internal/logger"
	"wabridge/internal/media"
	"wabridge/internal/responder"
	"wabridge/internal/session"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the WhatsApp session",
		Long:  "Links the WhatsApp session (printing a QR code when unpaired) and serves the API. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	return cmd
}

func runServe(envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfgPath := resolveConfigPath()
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := wlog.New(cfg.Log)
	if err != nil {
		return err
	}
	logger = log
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Inbound chat messages (closed during graceful shutdown below)
	messageBus := bus.New(100, log)
	broadcaster := bus.NewBroadcaster(bus.BroadcasterConfig{Logger: log})

	mgrCfg := session.ManagerConfig{
		StorePath:  cfg.Session.StorePath,
		TerminalQR: cfg.Session.TerminalQR,
		Events:     broadcaster,
		Logger:     log,
	}
	if cfg.Responder.Enabled {
		mgrCfg.Bus = messageBus
	}
	manager := session.NewManager(mgrCfg)

	locker, closeLocker, err := buildLocker(ctx, cfg.Dispatch, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	svc := dispatch.NewService(dispatch.ServiceConfig{
		Gateway: manager.Gateway(),
		Fetcher: media.NewFetcher(media.FetcherConfig{
			Timeout:  time.Duration(cfg.Media.TimeoutSeconds) * time.Second,
			MaxBytes: cfg.Media.MaxBytes,
			Logger:   log,
		}),
		Normalizer: address.Normalizer{CountryCode: cfg.Phone.CountryCode},
		Locker:     locker,
		Limiter:    buildLimiter(cfg.Dispatch.RateLimitPerSecond),
		Logger:     log,
	})

	srvCfg := channel.ServerConfig{
		Addr:         cfg.Server.Addr(),
		APIKey:       cfg.Server.APIKey,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RedactErrors: cfg.Dispatch.RedactErrors,
		Dispatcher:   svc,
		Broadcaster:  broadcaster,
		State:        manager.State,
		Logger:       log,
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Metrics.Endpoint
	}

	channels := []domain.Channel{channel.NewServer(srvCfg)}
	if cfg.Responder.Enabled {
		channels = append(channels, responder.New(responder.Config{
			Gateway: manager.Gateway(),
			Bus:     messageBus,
			Logger:  log,
		}))
	}

	errCh := make(chan error, len(channels))
	for _, ch := range channels {
		go func(ch domain.Channel) {
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
		}(ch)
	}

	if err := manager.Start(ctx); err != nil {
		stop()
		return fmt.Errorf("start session: %w", err)
	}

	log.Info("wabridge started. Press Ctrl+C to stop.", "addr", cfg.Server.Addr(), "config", cfgPath, "version", version)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error("channel failed", "err", runErr)
		stop()
	}
	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				log.Warn("channel stop", "channel", ch.Name(), "err", err)
			}
		}
		if err := manager.Stop(); err != nil {
			log.Warn("session stop", "err", err)
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		log.Info("shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn("shutdown timed out, forcing exit")
		if runErr == nil {
			runErr = fmt.Errorf("shutdown timed out")
		}
	}

	return runErr
}

// buildLocker selects the per-recipient serialization strategy.
func buildLocker(ctx context.Context, cfg config.DispatchConfig, log *slog.Logger) (lock.Locker, func(), error) {
	switch cfg.Serialize {
	case "local":
		return lock.NewLocal(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		log.Info("dispatch serialized through redis", "addr", cfg.RedisAddr)
		return lock.NewRedis(lock.RedisConfig{
			Client: client,
			TTL:    time.Duration(cfg.LockTTLSeconds) * time.Second,
			Logger: log,
		}), func() { client.Close() }, nil
	default:
		return lock.None{}, func() {}, nil
	}
}

// buildLimiter returns nil when perSecond is 0, which disables limiting.
func buildLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(math.Ceil(perSecond))
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
