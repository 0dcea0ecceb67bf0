package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collabcanvas/api/internal/app"
	"collabcanvas/api/internal/export"
	"collabcanvas/api/internal/history"
	"collabcanvas/api/internal/lease"
	"collabcanvas/api/internal/mutation"
	"collabcanvas/api/internal/presence"
	"collabcanvas/api/internal/retry"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/search"
	"collabcanvas/api/internal/store"
	"collabcanvas/api/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	deps := app.Deps{Logger: logger}
	roomOpts := []room.Option{room.WithLogger(logger)}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL, dbPool())
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("versions", applied))
		}
		pg := store.NewPostgresStore(db, logger)
		roomOpts = append(roomOpts, room.WithPersister(pg))
		deps.Database = pg
	} else {
		logger.Warn("DATABASE_URL not set, room state is kept in memory only")
	}

	r := room.New(cfg.RoomID, roomOpts...)
	if err := r.Load(ctx); err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	deps.Room = r

	var leases lease.Manager = lease.NewMemoryManager(cfg.LeaseTTL, nil)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for shape leases")
		redisLeases, err := lease.NewRedisManager(cfg.RedisURL, cfg.LeaseTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisLeases.Close()
		leases = redisLeases
		deps.Leases = redisLeases
	}
	policy := retry.Policy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBase}
	if err := policy.Validate(); err != nil {
		logger.Warn("invalid retry settings, using defaults", zap.Error(err))
		policy = retry.DefaultPolicy()
	}
	deps.Mutations = mutation.NewService(r, lease.NewGuard(leases, policy, logger), logger)

	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
		deps.History = history.New(cfg.HistoryDir)
		deps.Snapshotter = history.NewSnapshotter(r, deps.History, cfg.SnapshotIdle, nil, logger)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, r.ID(), logger)
	}
	deps.Search = search.NewService(meiliClient, search.NewScan(r), logger)
	defer deps.Search.Close()

	var uploader export.Uploader
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		objects, err := export.NewObjectStore(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL, logger)
		if err != nil {
			return fmt.Errorf("object storage: %w", err)
		}
		uploader = objects
		deps.Storage = objects
	}
	var hist export.HistoryReader
	if deps.History != nil {
		hist = deps.History
	}
	deps.Export = export.NewService(r, hist, uploader, logger)
	deps.Hub = transport.NewHub(r, presence.NewTracker(), cfg.CORSOrigin, logger)

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("whiteboard api listening", zap.String("addr", cfg.Addr), zap.String("room", r.ID()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	if deps.Snapshotter != nil {
		g.Go(func() error {
			return deps.Snapshotter.Run(gctx)
		})
	}
	if meiliClient != nil {
		g.Go(func() error {
			return search.NewIndexer(r, meiliClient, logger).Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		deps.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
