package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/momo_wallet/internal/auth"
	"github.com/congo-pay/momo_wallet/internal/collection"
	"github.com/congo-pay/momo_wallet/internal/config"
	"github.com/congo-pay/momo_wallet/internal/funding"
	"github.com/congo-pay/momo_wallet/internal/identity"
	"github.com/congo-pay/momo_wallet/internal/ledger"
	"github.com/congo-pay/momo_wallet/internal/logging"
	"github.com/congo-pay/momo_wallet/internal/middleware"
	"github.com/congo-pay/momo_wallet/internal/notification"
	"github.com/congo-pay/momo_wallet/internal/otp"
	"github.com/congo-pay/momo_wallet/internal/payments"
	"github.com/congo-pay/momo_wallet/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Gateway overrides the collection gateway chosen from configuration.
	Gateway collection.Gateway
	// Notifier overrides the SMS notifier chosen from configuration.
	Notifier notification.Notifier
}

// Services exposes the long-lived services the server has to start and stop.
type Services struct {
	Identity *identity.Service
	Auth     *auth.Service
	Wallets  *wallet.Service
	Funding  *funding.Service
	Payments *payments.Service
}

// Setup configures middlewares and all application routes. Without a database or Redis,
// which only development allows, services fall back to in-memory stores.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(logging.Component(logger, "http")))

	svcs, err := buildServices(d, logger)
	if err != nil {
		return nil, err
	}

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDHeader).(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	tokens := auth.NewTokens(d.Cfg.Secret(), d.Cfg.AppName, d.Cfg.SessionTTL)
	session := middleware.Session(tokens, svcs.Auth)
	idempotent := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, logger)

	RegisterIdentityRoutes(api, svcs.Identity, svcs.Wallets, logger)
	RegisterAuthRoutes(api, auth.NewHandler(svcs.Auth, tokens), session,
		middleware.LoginRateLimit(d.Cache, d.Cfg.LoginPerMinute, logger))

	verified := api.Group("", session, middleware.RequireVerified())
	RegisterProfileRoute(verified, svcs.Identity, svcs.Wallets)
	RegisterWalletRoutes(verified, wallet.NewHandler(svcs.Wallets), idempotent)
	RegisterFundingRoutes(verified, funding.NewHandler(svcs.Funding), idempotent)
	RegisterPaymentRoutes(verified, payments.NewHandler(svcs.Payments), idempotent)

	return svcs, nil
}

func buildServices(d Deps, logger *slog.Logger) (*Services, error) {
	var (
		ledgerBackend ledger.Ledger
		walletRepo    wallet.Repository
		identityRepo  identity.Repository
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
		walletRepo = wallet.NewMemoryRepository()
		identityRepo = identity.NewMemoryRepository()
	}

	var (
		resetStore      identity.ResetStore
		otpStore        otp.Store
		sessionStore    auth.Store
		collectionStore collection.Store
	)
	if d.Cache != nil {
		resetStore = identity.NewRedisResetStore(d.Cache)
		otpStore = otp.NewRedisStore(d.Cache)
		sessionStore = auth.NewRedisStore(d.Cache)
		collectionStore = collection.NewRedisStore(d.Cache)
	} else {
		resetStore = identity.NewMemoryResetStore()
		otpStore = otp.NewMemoryStore()
		sessionStore = auth.NewMemoryStore()
		collectionStore = collection.NewMemoryStore()
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = newNotifier(d.Cfg.Twilio, logger)
	}
	gateway := d.Gateway
	if gateway == nil {
		var err error
		if gateway, err = newGateway(d.Cfg, logger); err != nil {
			return nil, err
		}
	}

	identitySvc := identity.NewService(identityRepo, resetStore, notifier, logger)
	otpMgr := otp.NewManager(otpStore, notifier, logger, otp.Config{
		TTL:         d.Cfg.OTP.TTL,
		MaxAttempts: d.Cfg.OTP.MaxAttempts,
	})
	authSvc := auth.NewService(identitySvc, otpMgr, sessionStore, logger, auth.Config{
		SessionTTL:     d.Cfg.SessionTTL,
		ReverifyWindow: d.Cfg.OTP.ReverifyWindow,
	})
	walletSvc := wallet.NewService(walletRepo, ledgerBackend, logger)

	adapter := collection.NewAdapter(gateway, collectionStore, logger,
		collection.WithCurrency(d.Cfg.MoMo.Currency),
		collection.WithPollPolicy(collection.PollPolicy{
			MaxAttempts: d.Cfg.MoMo.PollAttempts,
			Interval:    d.Cfg.MoMo.PollInterval,
		}),
	)
	fundingSvc, err := funding.NewService(walletSvc, adapter, notifier, logger)
	if err != nil {
		return nil, err
	}
	paymentSvc := payments.NewService(walletSvc, identitySvc, notifier, logger)

	return &Services{
		Identity: identitySvc,
		Auth:     authSvc,
		Wallets:  walletSvc,
		Funding:  fundingSvc,
		Payments: paymentSvc,
	}, nil
}

func newNotifier(cfg config.TwilioConfig, logger *slog.Logger) notification.Notifier {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return notification.NewLoggerNotifier(logger)
	}
	return notification.NewTwilioNotifier(cfg.AccountSID, cfg.AuthToken, cfg.FromNumber, logger)
}

func newGateway(cfg config.Config, logger *slog.Logger) (collection.Gateway, error) {
	if cfg.MoMo.BaseURL != "" {
		return collection.NewMoMoGateway(cfg.MoMo, nil), nil
	}
	if !cfg.IsDev() {
		return nil, fmt.Errorf("MOMO_BASE_URL is required when APP_ENV=%s", cfg.AppEnv)
	}
	logger.Warn("MOMO_BASE_URL not set, collections are simulated")
	return collection.NewStaticGateway(collection.StatusSuccessful, 1), nil
}
