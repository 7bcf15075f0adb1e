package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "comedores/docs"
	"comedores/internal/cache"
	"comedores/internal/config"
	"comedores/internal/handlers"
	"comedores/internal/middleware"
	"comedores/internal/repositories"
	"comedores/internal/routes"
	"comedores/internal/services"
	"comedores/internal/utils"
)

// Deps are the replaceable edges of the service.
type Deps struct {
	Store  repositories.AccountStore
	Cache  cache.Store
	Mailer services.Notifier
	Ops    services.Notifier // optional
	Clock  utils.Clock
}

type App struct {
	cfg    *config.Config
	log    *zap.Logger
	router *gin.Engine
	db     *sqlx.DB
	redis  *redis.Client
}

// New wires the service from configuration.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}
	clock := utils.RealClock{}
	deps := Deps{Clock: clock}

	// === Storage ===
	switch cfg.Database.Driver {
	case "postgres":
		db, err := repositories.Connect(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		a.db = db
		deps.Store = &repositories.PostgresAccountStore{DB: db}
	default:
		log.Warn("using in-memory account store; data is lost on restart")
		deps.Store = repositories.NewMemoryAccountStore(clock)
	}

	// === Cache ===
	switch cfg.Cache.Driver {
	case "redis":
		client, err := cache.DialRedis(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		deps.Cache = cache.NewRedisStore(client, cfg.Cache.Prefix)
	default:
		deps.Cache = cache.NewMemoryStore(clock)
	}

	// === Notifications ===
	deps.Mailer = services.NewEmailService(cfg.Email, log)
	tg, err := services.NewTelegramService(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
	if err != nil {
		// Ops alerts are optional; the service still runs without them.
		log.Warn("telegram disabled", zap.Error(err))
	} else if tg != nil {
		deps.Ops = tg
	}

	a.router = NewRouter(cfg, log, deps)
	return a, nil
}

// NewRouter builds services, handlers and routes on top of deps.
func NewRouter(cfg *config.Config, log *zap.Logger, d Deps) *gin.Engine {
	if d.Clock == nil {
		d.Clock = utils.RealClock{}
	}

	throttle := services.NewResendThrottle(d.Cache, d.Clock, services.ThrottleConfig{
		Cooldown:     cfg.Verification.Cooldown(),
		ResendWindow: cfg.Verification.ResendWindow(),
		MaxFree:      cfg.Verification.ResendMaxFree,
	})
	authService := services.NewAuthService(d.Store, d.Clock, services.AuthConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		TokenTTL: cfg.Auth.TokenTTL,
	}, log)
	verification := services.NewVerificationService(d.Store, throttle, d.Mailer, authService, d.Clock,
		services.VerificationConfig{
			Window:   cfg.Verification.Window(),
			MaxTries: cfg.Verification.MaxTries,
		}, log)
	notifications := services.NewNotificationService(d.Mailer, d.Ops, log)

	if !cfg.Log.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())

	return routes.SetupRoutes(router,
		routes.Handlers{
			Auth:          handlers.NewAuthHandler(authService, log),
			Verify:        handlers.NewVerifyHandler(verification, authService, log),
			Notifications: handlers.NewNotificationHandler(notifications, log),
		},
		routes.Guards{Tokens: authService, Status: verification, Log: log.Named("guard")},
	)
}

func (a *App) Router() *gin.Engine { return a.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("db close", zap.Error(err))
		}
	}
}
