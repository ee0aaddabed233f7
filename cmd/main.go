/*
Package main is the entry point for the relay server.

It is responsible for loading configuration, initializing the global logging system,
binding the session (TCP) and control (UDP) channels on the same address, starting the
optional admin HTTP server and presence hub, and gracefully handling operating system
interrupt signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.

Usage:

	relayd [ip [port]]
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"relayd/internal/app/chat"
	"relayd/internal/app/control"
	"relayd/internal/app/presence"
	"relayd/internal/app/registry"
	"relayd/internal/app/storage"
	"relayd/internal/configs"
	"relayd/internal/handler"
	"relayd/internal/pkg/limiter"
	"relayd/internal/pkg/logx"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Load configuration from .env and environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyArgs(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\nusage: %s [ip [port]]\n", err, os.Args[0])
		os.Exit(2)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("admin_addr", cfg.AdminAddr).
		Int("max_users", cfg.MaxUsers).
		Int("chunk_size", cfg.ChunkSize).
		Str("unknown_tag_policy", cfg.UnknownTagPolicy).
		Bool("archive", cfg.ArchiveEnabled()).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal(err, "Server stopped with error")
	}

	logx.Info("Server gracefully stopped.")
}

func run(ctx context.Context, cfg *configs.AppConfig) error {
	policy, err := chat.ParseUnknownTagPolicy(cfg.UnknownTagPolicy)
	if err != nil {
		return err
	}

	hub := presence.NewHub()
	go hub.Run()
	defer hub.Stop()

	reg := registry.New(
		registry.WithCapacity(cfg.MaxUsers),
		registry.WithObserver(hub.Publish),
	)

	var archiver storage.Archiver
	if cfg.ArchiveEnabled() {
		archiver, err = storage.NewArchiver(storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3Region:          cfg.S3Region,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		logx.Info("Transfer archival enabled", "bucket", cfg.S3BucketName, "prefix", cfg.S3Prefix)
	}

	acceptLimiter := limiter.NewIPRateLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	defer acceptLimiter.Stop()
	controlLimiter := limiter.NewIPRateLimiter(rate.Limit(cfg.ControlRate), cfg.ControlBurst)
	defer controlLimiter.Stop()

	// Both channels bind the same address.
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind session channel: %w", err)
	}
	pc, err := net.ListenPacket("udp", cfg.ListenAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to bind control channel: %w", err)
	}
	defer pc.Close()

	chatServer := chat.NewServer(reg, chat.Config{
		ChunkSize:        cfg.ChunkSize,
		UnknownTagPolicy: policy,
		AcceptLimiter:    acceptLimiter,
		Archiver:         archiver,
		ArchivePrefix:    cfg.S3Prefix,
	})
	controlHandler := control.NewHandler(reg, controlLimiter)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := chatServer.Serve(ln); err != nil && !errors.Is(err, chat.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return controlHandler.Serve(gctx, pc)
	})

	var adminServer *http.Server
	if cfg.AdminAddr != "" {
		router, stopRouter := handler.Router(&handler.AppDeps{
			Registry: reg,
			Chat:     chatServer,
			Hub:      hub,
			Config:   cfg,
		})
		defer stopRouter()

		adminServer = &http.Server{
			Addr:         cfg.AdminAddr,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		g.Go(func() error {
			logx.Info(fmt.Sprintf("Admin API starting on http://%s", cfg.AdminAddr))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	logx.Info("Relay server started", "addr", cfg.ListenAddr)

	// Wait for a shutdown signal or the first component failure.
	g.Go(func() error {
		<-gctx.Done()
		logx.Info("Starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if adminServer != nil {
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
			}
		}
		if err := chatServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("session shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
