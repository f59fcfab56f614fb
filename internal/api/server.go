package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/auth"
	"github.com/hirewire/messaging-service/internal/config"
	"github.com/hirewire/messaging-service/internal/metrics"
	"github.com/hirewire/messaging-service/internal/service"
	"github.com/hirewire/messaging-service/internal/ws"
)

// Server owns the fiber app and the messaging routes.
type Server struct {
	app       *fiber.App
	handlers  *Handlers
	hub       *ws.Hub
	presence  *ws.Presence // nil without redis
	validator *auth.Validator
	cfg       *config.Config
	log       *zap.SugaredLogger
}

func NewServer(cfg *config.Config, svc *service.Messaging, hub *ws.Hub, presence *ws.Presence, validator *auth.Validator, log *zap.SugaredLogger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	s := &Server{
		app:       app,
		handlers:  NewHandlers(svc, presence, log),
		hub:       hub,
		presence:  presence,
		validator: validator,
		cfg:       cfg,
		log:       log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(s.observe)

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := s.app.Group("/api/v1", s.requireAuth)
	api.Get("/messages", s.handlers.conversations)
	api.Get("/messages/:counterpartId", s.handlers.thread)
	api.Post("/messages", s.handlers.send)
	api.Patch("/messages/:counterpartId/read", s.handlers.markRead)
	api.Get("/presence/:userId", s.handlers.presenceStatus)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWS))
}

// observe records request latency per route and status.
func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	route := c.Route().Path
	status := c.Response().StatusCode()
	metrics.RequestDuration.
		WithLabelValues(c.Method(), route, statusLabel(status)).
		Observe(time.Since(start).Seconds())
	return err
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}
