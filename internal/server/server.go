package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/momo_wallet/internal/config"
	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/routes"
)

// Server wraps the Fiber application and the services behind it.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	svcs   *routes.Services
	logger *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	return NewWithDeps(routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
}

// NewWithDeps is New with full control over the wired dependencies.
func NewWithDeps(d routes.Deps) (*Server, error) {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	app := fiber.New(fiber.Config{
		AppName:      d.Cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler,
	})

	svcs, err := routes.Setup(app, d)
	if err != nil {
		return nil, err
	}
	return &Server{app: app, cfg: d.Cfg, svcs: svcs, logger: d.Logger}, nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Reconcile settles top-ups left pending by a previous run.
func (s *Server) Reconcile(ctx context.Context) {
	settled, err := s.svcs.Funding.Reconcile(ctx)
	if err != nil {
		s.logger.Warn("startup reconciliation incomplete", slog.Int("settled", settled), slog.Any("error", err))
	}
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then stops background top-up polling.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.svcs.Funding.Close()
	return err
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
