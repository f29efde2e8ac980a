package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/api"
	"github.com/eduforum/forum/internal/config"
	"github.com/eduforum/forum/internal/db"
	"github.com/eduforum/forum/internal/forum"
	"github.com/eduforum/forum/internal/middleware"
	"github.com/eduforum/forum/internal/notify"
	"github.com/eduforum/forum/internal/observ"
	"github.com/eduforum/forum/internal/realtime"
	"github.com/eduforum/forum/internal/repository/postgres"
)

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

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url for queue: %w", err)
	}
	queueClient := asynq.NewClient(asynqOpt)
	defer queueClient.Close()

	// Repositories all share the pool, which is goroutine-safe.
	pool := database.Pool()
	userRepo := postgres.NewUserStore(pool)
	enrollmentRepo := postgres.NewEnrollmentStore(pool)
	roomRepo := postgres.NewRoomStore(pool)
	participantRepo := postgres.NewParticipantStore(pool)
	messageRepo := postgres.NewMessageStore(pool)
	deliveryRepo := postgres.NewDeliveryStore(pool)

	// Forum core.
	resolver := forum.NewAccessResolver(roomRepo, participantRepo, enrollmentRepo, logger)
	provisioner := forum.NewProvisioner(enrollmentRepo, roomRepo, participantRepo, logger)
	dispatcher := notify.NewDispatcher(
		deliveryRepo,
		notify.NewAsynqEnqueuer(queueClient, cfg.NotifyMaxRetry),
		logger,
	)

	// Realtime fan-out across instances rides on Redis Pub/Sub.
	router := realtime.NewRouter()
	hub := realtime.NewHub(router, rdb, logger)
	go func() {
		if err := hub.Run(ctx); err != nil {
			logger.Error("realtime hub stopped", zap.Error(err))
		}
	}()
	defer router.Close()

	service := forum.NewService(
		resolver,
		roomRepo,
		participantRepo,
		messageRepo,
		dispatcher,
		hub,
		nil, // recipient policy: default (everyone but the sender) for all room types
		logger,
	)

	// Handlers.
	authHandler := api.NewAuthHandler(userRepo, cfg.JWTSecret, logger)
	userHandler := api.NewUserHandler(userRepo, logger)
	chatHandler := api.NewChatHandler(service, logger)
	enrollmentHandler := api.NewEnrollmentHandler(provisioner, logger)
	wsHandler := realtime.NewHandler(hub, service, cfg.JWTSecret, cfg.ResyncWindow, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Recovery())

	// Health is public so load balancers can probe it.
	srv.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	srv.POST("/v1/auth/signup", authHandler.Signup)
	srv.POST("/v1/auth/login", authHandler.Login)

	// The websocket endpoint authenticates itself from the token query
	// parameter, so it sits outside the middleware group.
	srv.GET("/v1/ws", wsHandler.Serve)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.GET("/users/me", userHandler.GetMe)
	v1.GET("/chats/", chatHandler.List)
	v1.GET("/chats/:id/messages", chatHandler.History)
	v1.POST("/chats/:id/messages", chatHandler.Send)
	v1.POST("/chats/:id/read", chatHandler.MarkRead)
	v1.POST("/enrollments/events", enrollmentHandler.HandleEvent)

	logger.Info("starting forum server",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	return srv.Run(":" + cfg.Port)
}
