// Package server contains the HTTP and WebSocket surface of the chat
// subsystem.
package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"marketchat/internal/config"
	"marketchat/internal/database"
	"marketchat/internal/hub"
	"marketchat/internal/repository"
	"marketchat/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
)

// Server holds all dependencies and provides handlers.
type Server struct {
	config         *config.Config
	redis          *redis.Client
	chatService    *service.ChatService
	hub            *hub.Hub
	notifier       *hub.Notifier
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
}

// NewServer creates a server instance backed by Postgres and, when
// configured, Redis.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	redisClient := connectRedis(cfg.RedisURL)

	store := repository.NewMessageStore(db)
	profiles := repository.NewProfileStore(db)

	return newServer(cfg, service.NewChatService(store, profiles), redisClient), nil
}

// NewServerWithService creates a server around an existing service, without
// touching Postgres or Redis. Used by tests and single-node dev setups.
func NewServerWithService(cfg *config.Config, chatService *service.ChatService) *Server {
	return newServer(cfg, chatService, nil)
}

func newServer(cfg *config.Config, chatService *service.ChatService, redisClient *redis.Client) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:         cfg,
		redis:          redisClient,
		chatService:    chatService,
		hub:            hub.NewHub(redisClient),
		notifier:       hub.NewNotifier(redisClient),
		promMiddleware: metricsMiddleware(),
		shutdownCtx:    ctx,
		shutdownFn:     cancel,
	}

	// Frames published for users connected to another node are delivered by
	// whichever node holds the connection.
	if err := s.notifier.StartSubscriber(ctx, s.hub.SendToUser); err != nil {
		log.Printf("hub subscriber not started: %v", err)
	}

	return s
}

var (
	promOnce sync.Once
	promMW   *fiberprometheus.FiberPrometheus
)

// metricsMiddleware returns the process-wide Prometheus HTTP middleware. The
// collectors register against the default registry exactly once, so every
// Server in the process shares them.
func metricsMiddleware() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		promMW = fiberprometheus.New("marketchat")
	})
	return promMW
}

func connectRedis(redisURL string) *redis.Client {
	if redisURL == "" {
		return nil
	}
	var opts *redis.Options
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Printf("invalid REDIS_URL %q: %v (continuing without Redis)", redisURL, err)
			return nil
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL}
	}
	return redis.NewClient(opts)
}

// SetupMiddleware registers the app-wide middleware stack.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	s.promMiddleware.RegisterAt(app, "/metrics")
	app.Use(s.promMiddleware.Middleware)
	app.Use(cors.New(cors.Config{
		AllowOrigins: s.config.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
}

// SetupRoutes registers the REST and websocket routes.
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	chat := api.Group("/chat", s.AuthRequired())
	chat.Get("/messages", s.GetMessagesBetween)
	chat.Get("/conversations", s.GetConversations)
	chat.Delete("/conversations", s.DeleteConversation)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", s.WebSocketHandler())
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownFn()
	if err := s.hub.Shutdown(ctx); err != nil {
		return err
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
