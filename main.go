package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/cors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-auth/internal/auth"
	"github.com/example/face-auth/internal/config"
	"github.com/example/face-auth/internal/handlers"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/recognition"
	"github.com/example/face-auth/internal/repository"
	"github.com/example/face-auth/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, sqlDB := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewGatewayRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)

	provider, err := recognition.LoadRekognition(ctx, cfg.AWSRegion, logger)
	if err != nil {
		logger.Fatal("failed to configure rekognition", zap.Error(err))
	}

	sessions, err := auth.NewSessions(cfg.JWTSecret, cfg.JWTAudience, cfg.SessionTTL)
	if err != nil {
		logger.Fatal("invalid session configuration", zap.Error(err))
	}

	uc := usecase.NewRecognitionUseCase(provider, repo, usecase.NewRedisCache(redisClient), sessions, logger,
		usecase.WithCollection(cfg.CollectionID),
		usecase.WithMatchThreshold(cfg.MatchThreshold),
	)
	if err := uc.EnsureCollection(ctx); err != nil {
		logger.Warn("collection bootstrap failed", zap.String("collection_id", cfg.CollectionID), zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newHandler(uc, sessions, cfg.AllowedOrigins, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway listening", zap.String("addr", cfg.HTTPAddr), zap.String("collection_id", cfg.CollectionID))
	serveErr := serveHTTPServer(server, cfg.ShutdownTimeout, logger)
	if err := multierr.Combine(serveErr, closeResources(redisClient, sqlDB)); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("gateway stopped")
}

func newHandler(svc handlers.Service, sessions *auth.Sessions, allowedOrigins []string, logger *zap.Logger) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	handlers.RegisterRoutes(r, svc, sessions.Middleware())

	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) (*gorm.DB, *sql.DB) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db, sqlDB
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

type closer interface {
	Close() error
}

func closeResources(resources ...closer) error {
	var err error
	for _, r := range resources {
		err = multierr.Append(err, r.Close())
	}
	return err
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
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

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
