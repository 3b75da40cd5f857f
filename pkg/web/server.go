// Package web exposes the voice loop over HTTP: status and control routes,
// a websocket event feed and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voiceloop/pkg/hub"
	"github.com/teslashibe/go-voiceloop/pkg/session"
)

// Controller is the part of the session the web surface drives.
type Controller interface {
	Status() session.Status
	SetRecording(on bool)
	ToggleRecording() bool
	StopPlayback() bool
	Turns() []session.TurnMetrics
	Subscribe() (<-chan session.Event, func())
}

var _ Controller = (*session.Controller)(nil)

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server is the web control surface
type Server struct {
	app     *fiber.App
	addr    string
	ctrl    Controller
	events  *hub.Hub
	metrics http.Handler
	logger  *slog.Logger
}

// NewServer creates a server listening on addr once started.
func NewServer(addr string, ctrl Controller, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		ctrl:   ctrl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")
	s.events = hub.New("events", hub.WithLogger(s.logger))

	app := fiber.New(fiber.Config{
		AppName:               "voiceloop",
		DisableStartupMessage: true,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics))
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/recording", s.handleSetRecording)
	api.Post("/recording/toggle", s.handleToggleRecording)
	api.Post("/playback/stop", s.handleStopPlayback)
	api.Get("/turns", s.handleTurns)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks until ctx is done or
// the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("web surface listening", "addr", ln.Addr().String())

	go s.events.Run(ctx)
	go s.forward(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("web shutdown", "error", err)
		}
	}()

	err := s.app.Listener(ln)
	if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// forward relays session events to websocket clients.
func (s *Server) forward(ctx context.Context) {
	events, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.events.BroadcastJSON(ev); err != nil {
				s.logger.Warn("encode event", "error", err)
			}
		}
	}
}
