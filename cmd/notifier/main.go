package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/config"
	"github.com/eduforum/forum/internal/db"
	"github.com/eduforum/forum/internal/forum"
	"github.com/eduforum/forum/internal/notify"
	"github.com/eduforum/forum/internal/observ"
	"github.com/eduforum/forum/internal/repository/postgres"
)

// The notifier is the out-of-band half of message sending: it consumes
// notify:message tasks off the queue and posts to the external channel,
// completely decoupled from the request/response cycle.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	deliveryRepo := postgres.NewDeliveryStore(database.Pool())
	webhook := notify.NewWebhookClient(cfg.WebhookURL, 10*time.Second)
	worker := notify.NewWorker(deliveryRepo, webhook, logger)

	// Room retention rides along in this binary so the API server never
	// pays for the sweep.
	roomRepo := postgres.NewRoomStore(database.Pool())
	janitor := forum.NewJanitor(roomRepo, time.Hour, logger)
	go janitor.Run(ctx)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"notify": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn("task errored",
				zap.String("type", task.Type()),
				zap.Error(err),
			)
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(notify.TaskNotifyMessage, worker.HandleTask)

	logger.Info("starting notifier worker",
		zap.Bool("webhook_configured", webhook.Configured()),
		zap.Int("max_retry", cfg.NotifyMaxRetry),
	)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}
