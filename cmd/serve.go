package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-compare/internal/auth"
	"github.com/example/face-compare/internal/config"
	"github.com/example/face-compare/internal/detector"
	"github.com/example/face-compare/internal/facematch"
	"github.com/example/face-compare/internal/handlers"
	"github.com/example/face-compare/internal/logging"
	"github.com/example/face-compare/internal/repository"
	"github.com/example/face-compare/internal/usecase"
)

type serveOptions struct {
	addr string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the image comparison web service",
		Long: `Serve an upload form on / that compares the faces of two images and shows
the annotated results, plus a JWT protected JSON API under /api.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if opts.addr != "" {
				cfg.Server.Addr = opts.addr
			}
			return runServe(cmd.Context(), cfg, logger, root.debug)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config, :5001)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) error {
	startupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := initDatabase(startupCtx, cfg.Database, debug)
	if err != nil {
		return err
	}
	repo := repository.NewComparisonRepository(db, logger)
	if err := repo.AutoMigrate(startupCtx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	redisClient, err := initRedis(startupCtx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	det, conn, err := dialDetector(startupCtx, cfg.Detector, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	method, _ := detector.ParseMethod(cfg.Match.Method)
	strategy, _ := facematch.ParseStrategy(cfg.Match.Strategy)
	uc := usecase.NewComparisonUseCase(repo, usecase.NewRedisCache(redisClient), det, logger, usecase.Options{
		Threshold: cfg.Match.Threshold,
		Method:    method,
		Strategy:  strategy,
	})

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(logger))
	router.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set, every /api request will be rejected")
	}
	handlers.NewServer(uc, logger, cfg.Server.MaxUploadBytes).
		Register(router, auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face-compare listening", zap.String("addr", cfg.Server.Addr))
	if err := serveHTTPServer(ctx, server, cfg.Server.ShutdownTimeout, logger, nil); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection to %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// serveHTTPServer serves until ctx is cancelled, then drains in-flight requests
// for at most shutdownTimeout. A nil listener listens on server.Addr.
func serveHTTPServer(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal", zap.Error(context.Cause(ctx)))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
