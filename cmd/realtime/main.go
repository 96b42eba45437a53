package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/teamloop/realtime/internal/bridge"
	"github.com/teamloop/realtime/internal/server"
	"github.com/teamloop/realtime/internal/store"
	"github.com/teamloop/realtime/pkg/config"
	"github.com/teamloop/realtime/pkg/logging"
)

func main() {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	bootLogger := logging.New(logging.LevelInfo, "text")
	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		logger.Error("Failed to connect to MongoDB", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Error("Failed to disconnect from MongoDB", slog.Any("error", err))
		}
	}()
	db := mongoClient.Database(cfg.Mongo.Database)

	// No broker address means degraded single-instance mode: the bridge
	// becomes a no-op and all fan-out stays local. Same binary either way.
	var broker bridge.Broker
	if cfg.Redis.Addr != "" {
		redisBroker := bridge.NewRedisBroker(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
		})
		if err := redisBroker.Ping(connectCtx); err != nil {
			logger.Error("Failed to reach Redis broker", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisBroker.Close()
		broker = redisBroker
		logger.Info("Redis configured for cross-instance fan-out", slog.String("addr", cfg.Redis.Addr))
	} else {
		logger.Info("Redis not configured, running in single instance mode")
	}

	app := server.NewApp(
		logger,
		ctx,
		cfg,
		broker,
		store.NewChatStore(logger, db),
		store.NewMessageStore(logger, db),
		store.NewNotificationStore(logger, db),
	)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
