// Package web serves the describe API: HTTP endpoints to push frames,
// trigger and reset descriptions, and websockets for live state and
// camera uploads.
package web

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-lens/internal/log"
	"github.com/teslashibe/go-lens/pkg/camera"
	"github.com/teslashibe/go-lens/pkg/describe"
	"github.com/teslashibe/go-lens/pkg/frame"
	"github.com/teslashibe/go-lens/pkg/hub"
)

// Controller is the part of *describe.Controller the server drives.
type Controller interface {
	State() describe.State
	Trigger() (describe.State, error)
	Reset() describe.State
	Watch(fn func(describe.State)) (cancel func())
}

// Config wires the server to its collaborators.
type Config struct {
	Controller Controller
	Source     *frame.Source

	// Camera is optional; without it the camera config routes answer 404.
	Camera *camera.Manager

	// Provider and Model are reported by /health.
	Provider string
	Model    string

	// StaticDir, when set, is served at /.
	StaticDir string

	// BodyLimit caps uploaded frames. Zero means 8 MiB.
	BodyLimit int

	// JPEGQuality is used when a frame has to be re-encoded for preview.
	JPEGQuality int

	// AccessLog enables the fiber request logger.
	AccessLog bool
}

// Server is the HTTP and websocket front end.
type Server struct {
	cfg    Config
	app    *fiber.App
	logger *slog.Logger

	stateHub  *hub.Hub
	cameraHub *hub.Hub

	started time.Time
}

// NewServer creates the fiber app and registers all routes.
func NewServer(cfg Config) *Server {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 8 << 20
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = camera.DefaultConfig().Quality
	}

	s := &Server{
		cfg:       cfg,
		logger:    log.Component("web"),
		stateHub:  hub.New("state"),
		cameraHub: hub.New("camera"),
		started:   time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "lens",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.AccessLog {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Post("/trigger", s.handleTrigger)
	api.Post("/reset", s.handleReset)
	api.Post("/frames", s.handlePushFrame)
	api.Get("/frames/latest", s.handleLatestFrame)
	api.Get("/frames/stats", s.handleFrameStats)
	api.Get("/camera", s.handleGetCamera)
	api.Post("/camera", s.handleUpdateCamera)
	api.Get("/camera/presets", s.handleCameraPresets)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS, websocket.Config{
		ReadBufferSize: 64 << 10,
	}))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hubs, forwards controller state to websocket clients and
// serves addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.stateHub.Run(ctx)
	go s.cameraHub.Run(ctx)

	stop := s.cfg.Controller.Watch(func(st describe.State) {
		if err := s.stateHub.BroadcastJSON(st); err != nil {
			s.logger.Error("broadcast state failed", "error", err)
		}
	})
	defer stop()

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- s.app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// handleError renders every error as JSON.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= 500 {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
