package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/broadcast"
	"messaging-service/internal/cache"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/delivery"
	"messaging-service/internal/directory"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/pipeline"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), "messaging-service", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	var store repositories.MessageStore
	var dir directory.Directory

	switch cfg.StoreDriver {
	case "memory":
		log.Printf("store driver=memory (no persistence)")
		store = repositories.NewMemoryMessageStore()
		dir = directory.Static{}
	default:
		database, err := db.Connect(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("failed to connect to db: %v", err)
		}
		store = repositories.NewMessageRepo(database)
		dir = directory.NewUserRepo(database)
	}

	gate := cache.NewGate()
	dir = directory.NewCached(dir, gate, cfg.DirectoryCacheTTL, cfg.DirectoryCacheSliding)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	if mode := rabbitmq.PublisherMode(publisher); mode == "noop" {
		log.Printf("event publisher disabled reason=%q", rabbitmq.PublisherNoopReason(publisher))
	}
	emitter := telemetry.NewAuditEmitter(publisher, "audit.messaging", "messaging-service", cfg.Environment)

	presenceStore := presence.NewStore(cfg.PresenceOverrideTTL, cfg.PresenceStaleAfter)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if pruned := presenceStore.PruneStale(); pruned > 0 {
				log.Printf("presence prune removed=%d", pruned)
			}
		}
	}()

	hub := ws.NewHub(presenceStore)
	deliverySvc := delivery.NewService(store)
	broadcaster := broadcast.NewCoordinator(deliverySvc)
	pipe := pipeline.Default()

	messageHandler := handlers.NewMessageHandler(pipe, deliverySvc, broadcaster, dir, hub, emitter)
	presenceHandler := handlers.NewPresenceHandler(pipe, presenceStore, hub)
	socketHandler := ws.NewSocketHandler(hub, presenceStore, publisher, func(token string) (int, error) {
		return middleware.ParseToken(cfg.JWTSecret, token)
	})

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("messaging-service"))
	router.Use(middleware.RequestID())

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)

	router.POST("/messages", authMiddleware, messageHandler.SendMessage)
	router.POST("/messages/broadcast", authMiddleware, messageHandler.Broadcast)
	router.POST("/messages/:message_id/delivered", authMiddleware, messageHandler.MarkDelivered)
	router.POST("/messages/:message_id/read", authMiddleware, messageHandler.MarkRead)
	router.POST("/messages/:message_id/failed", authMiddleware, messageHandler.MarkFailed)
	router.POST("/messages/delivered", authMiddleware, messageHandler.MarkManyDelivered)
	router.POST("/messages/read", authMiddleware, messageHandler.MarkManyRead)
	router.DELETE("/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)
	router.GET("/threads/:user_id", authMiddleware, messageHandler.GetThread)
	router.GET("/messages/undelivered", authMiddleware, messageHandler.GetUndelivered)
	router.GET("/messages/unread/count", authMiddleware, messageHandler.GetUnreadCount)

	router.PUT("/presence", authMiddleware, presenceHandler.UpdatePresence)
	router.PUT("/presence/status", authMiddleware, presenceHandler.SetStatus)
	router.GET("/presence/online", authMiddleware, presenceHandler.ListOnline)
	router.GET("/presence/:user_id", authMiddleware, presenceHandler.GetPresence)
	router.POST("/presence/bulk", authMiddleware, presenceHandler.GetPresenceMany)

	router.GET("/ws", socketHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, emitter, cfg.DebugRoutes)

	log.Printf("messaging service listening addr=%s store=%s", cfg.HTTPAddr, cfg.StoreDriver)
	if err := router.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
