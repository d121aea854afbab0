package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wefthq/weft/internal/approval"
	"github.com/wefthq/weft/internal/auth/jwt"
	"github.com/wefthq/weft/internal/catchup"
	"github.com/wefthq/weft/internal/common/cnst"
	"github.com/wefthq/weft/internal/common/config"
	"github.com/wefthq/weft/internal/realtime/bridge"
	"github.com/wefthq/weft/internal/realtime/bus"
	"github.com/wefthq/weft/internal/realtime/conn"
	"github.com/wefthq/weft/internal/realtime/room"
	"github.com/wefthq/weft/internal/server"
	"github.com/wefthq/weft/internal/storage"
	"github.com/wefthq/weft/pkg/logger"
	"github.com/wefthq/weft/pkg/metrics"
	"github.com/wefthq/weft/pkg/trace"
	"github.com/wefthq/weft/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of weft-server",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", cnst.CommandName, version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   cnst.CommandName,
		Short: "Weft realtime workspace server",
		Long: `weft-server keeps every client of a workspace in step. It fans out
session and message events over websockets, replays missed state on
reconnect, and correlates tool-call approval requests with the
decisions that settle them.`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", cnst.WeftYaml, "path to the configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	// Load configuration
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", cfgPath, err)
	}

	// Initialize logger
	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		_ = lg.Sync()
	}()

	lg.Info("starting weft-server",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath))

	ctx := context.Background()

	// Initialize tracing
	if cfg.Tracing.Enabled {
		shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
		if err != nil {
			lg.Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				lg.Warn("failed to shut down tracing", zap.Error(err))
			}
		}()
	}

	// Initialize the durable store
	store, err := storage.NewStore(&cfg.Database)
	if err != nil {
		lg.Fatal("failed to initialize storage",
			zap.String("type", cfg.Database.Type),
			zap.Error(err))
	}
	defer func() {
		_ = store.Close()
	}()

	// Initialize the event bus
	b, err := bus.New(lg, &cfg.Bus)
	if err != nil {
		lg.Fatal("failed to initialize event bus",
			zap.String("type", cfg.Bus.Type),
			zap.Error(err))
	}
	defer func() {
		_ = b.Close()
	}()

	m := metrics.New(cfg.Metrics)
	registry := conn.NewRegistry(lg)
	rooms := room.NewIndex()
	// A connection that leaves the registry also leaves its rooms.
	registry.OnRemove(rooms.LeaveAll)

	br, err := bridge.New(lg, b, rooms, registry, m)
	if err != nil {
		lg.Fatal("failed to initialize fan-out bridge", zap.Error(err))
	}

	cu := catchup.New(lg, store, registry, m)
	approvals := approval.NewTable(lg, b, m, cfg.Realtime.ApprovalTimeout)

	jwtSvc, err := jwt.NewService(jwt.Config{
		SecretKey: cfg.Auth.JWT.SecretKey,
		Duration:  cfg.Auth.JWT.Duration,
	})
	if err != nil {
		lg.Fatal("failed to initialize JWT service", zap.Error(err))
	}

	srv, err := server.New(lg, cfg, server.Deps{
		JWT:       jwtSvc,
		Registry:  registry,
		Rooms:     rooms,
		Bridge:    br,
		Catchup:   cu,
		Approvals: approvals,
		Metrics:   m,
	})
	if err != nil {
		lg.Fatal("failed to initialize server", zap.Error(err))
	}

	// Start server
	go func() {
		if err := srv.Start(); err != nil {
			lg.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Shutdown server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("failed to shutdown server", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
