package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/telio-letalle/Pronote-sub002/internal/cache"
	"github.com/telio-letalle/Pronote-sub002/internal/delivery"
	"github.com/telio-letalle/Pronote-sub002/internal/directory"
	"github.com/telio-letalle/Pronote-sub002/internal/handlers"
	"github.com/telio-letalle/Pronote-sub002/internal/mailer"
	"github.com/telio-letalle/Pronote-sub002/internal/middleware"
	"github.com/telio-letalle/Pronote-sub002/internal/ratelimit"
	"github.com/telio-letalle/Pronote-sub002/internal/repository"
	"github.com/telio-letalle/Pronote-sub002/internal/service"
	"github.com/telio-letalle/Pronote-sub002/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	streamSecret := os.Getenv("STREAM_TOKEN_SECRET")
	if streamSecret == "" {
		log.Fatal("STREAM_TOKEN_SECRET is required")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Pronote Messagerie",
		// Attachment uploads arrive base64-encoded in the JSON body.
		BodyLimit: 16 * 1024 * 1024, // 16MB
	})

	// Middleware
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     os.Getenv("ALLOWED_ORIGINS"),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, If-None-Match, X-PN-CSRF",
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		AllowCredentials: true,
	}))

	// Initialize database connection
	db, err := repository.InitDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// One Redis connection pool backs the cache, the rate limiter and the
	// task queue broker.
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if parsedDB, err := strconv.Atoi(dbStr); err == nil {
			redisDB = parsedDB
		}
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	var redisCache *cache.RedisCache
	var limiter *ratelimit.Limiter
	var taskClient *asynq.Client
	var taskServer *asynq.Server
	redisCache = cache.NewRedisCache(redisClient)
	if err := redisCache.Ping(); err != nil {
		log.Printf("WARNING: Redis connection failed: %v. Running without cache, rate limiting or task queue.", err)
		redisCache = nil
	} else {
		log.Println("Redis connected successfully")
		limiter = ratelimit.NewLimiter(redisClient)
		redisOpt := asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword, DB: redisDB}
		taskClient = asynq.NewClient(redisOpt)
		taskServer = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: 5,
			Queues:      map[string]int{"notify": 5},
		})
	}

	deliveryCache := cache.NewDeliveryCache(redisCache)

	// Initialize repositories
	convRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	receiptRepo := repository.NewReceiptRepository(db)
	notifRepo := repository.NewNotificationRepository(db)

	// Establishment directory (read-only view over the suite's tables)
	establishment := directory.NewGormEstablishment(db)

	// Initialize S3/MinIO storage (best-effort; attachment endpoints reject when missing)
	var fileStore *storage.FileStore
	if cfg, err := storage.LoadS3ConfigFromEnv(); err != nil {
		log.Printf("WARNING: S3 storage not configured: %v", err)
	} else if st, err := storage.NewFileStore(cfg); err != nil {
		log.Printf("WARNING: Failed to initialize S3 storage: %v", err)
	} else {
		fileStore = st
		log.Printf("S3 storage initialized successfully (bucket=%s)", cfg.Bucket)
	}

	// SMTP mailer (best-effort; email channel silently off when missing)
	var smtpMailer service.Mailer
	if cfg, err := mailer.LoadSMTPConfigFromEnv(); err != nil {
		log.Printf("WARNING: SMTP not configured: %v", err)
	} else {
		smtpMailer = mailer.NewSMTPMailer(cfg)
	}

	// Initialize services
	authorizer := service.NewAuthorizer()
	gateway := delivery.NewGateway(convRepo, messageRepo, notifRepo)
	hub := delivery.NewHub(gateway)
	var blobs service.BlobRemover
	if fileStore != nil {
		blobs = fileStore
	}
	var enqueuer service.TaskEnqueuer
	if taskClient != nil {
		enqueuer = taskClient
	}
	notificationService := service.NewNotificationService(notifRepo, convRepo, messageRepo, establishment, enqueuer, smtpMailer, hub)
	receiptService := service.NewReceiptService(receiptRepo, messageRepo, convRepo, notifRepo)
	conversationService := service.NewConversationService(convRepo, receiptService, authorizer, establishment, blobs)
	messageService := service.NewMessageService(messageRepo, convRepo, authorizer, notificationService, hub)

	// Initialize handlers
	conversationHandler := handlers.NewConversationHandler(conversationService, receiptService, deliveryCache)
	messageHandler := handlers.NewMessageHandler(messageService, receiptService, gateway, fileStore)
	notificationHandler := handlers.NewNotificationHandler(notificationService, gateway, deliveryCache)
	streamHandler := handlers.NewStreamHandler(hub, []byte(streamSecret))

	// Fan-out worker
	if taskServer != nil {
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeFanout, notificationService.HandleFanoutTask)
		go func() {
			if err := taskServer.Run(mux); err != nil {
				log.Printf("task server stopped: %v", err)
			}
		}()
	}

	api := app.Group("/api", middleware.OriginAllowed())

	// Protected routes
	protected := api.Group("/", middleware.AuthRequired(), middleware.CSRFRequired())

	protected.Get("/conversations", conversationHandler.ListConversations)
	protected.Post("/conversations", middleware.RateLimit(limiter, "conv_create", 30, time.Minute), conversationHandler.CreateConversation)
	protected.Post("/conversations/bulk", conversationHandler.BulkAction)
	protected.Get("/conversations/:id/messages", messageHandler.GetMessages)
	protected.Get("/conversations/:id/participants", conversationHandler.ListParticipants)
	protected.Post("/conversations/:id/participants", conversationHandler.AddParticipant)
	protected.Delete("/conversations/:id/participants", conversationHandler.RemoveParticipant)
	protected.Post("/conversations/:id/moderator", conversationHandler.SetModerator)
	protected.Post("/conversations/:id/reply-rights", conversationHandler.GrantReply)
	protected.Post("/conversations/:id/:action", conversationHandler.ApplyAction)

	protected.Post("/messages", middleware.RateLimit(limiter, "msg_send", 60, time.Minute), messageHandler.SendMessage)
	protected.Post("/messages/:id/read", messageHandler.MarkRead)
	protected.Get("/messages/:id/read-status", messageHandler.GetReadStatus)

	protected.Get("/notifications", notificationHandler.GetNotifications)
	protected.Get("/notifications/unread-count", notificationHandler.GetUnreadCount)
	protected.Post("/notifications/read-all", notificationHandler.MarkAllRead)
	protected.Post("/notifications/:id/read", notificationHandler.MarkRead)
	protected.Get("/notifications/preferences", notificationHandler.GetPreferences)
	protected.Patch("/notifications/preferences", notificationHandler.UpdatePreferences)

	protected.Post("/streams/token", middleware.RateLimit(limiter, "stream_token", 20, time.Minute), streamHandler.IssueToken)

	// WebSocket routes (websocket upgrade needs special handling; auth is
	// carried by the stream token, not the session cookie)
	app.Use(
		"/ws",
		middleware.OriginAllowed(),
		func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
	)
	app.Get("/ws/conversations/:id", streamHandler.ConversationStream())
	app.Get("/ws/notifications", streamHandler.NotificationStream())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"streams": hub.Count(),
		})
	})

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		log.Printf("Server starting on port %s...", port)
		if err := app.Listen(":" + port); err != nil {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	if taskServer != nil {
		taskServer.Shutdown()
	}
	if taskClient != nil {
		_ = taskClient.Close()
	}
	if err := app.Shutdown(); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}
