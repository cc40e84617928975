package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/medgraph/internal/app"
	"github.com/OFFIS-RIT/medgraph/internal/config"
	"github.com/OFFIS-RIT/medgraph/internal/queue"
	mid "github.com/OFFIS-RIT/medgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/internal/storage"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New returns an echo instance serving the API for a.
func New(a *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(a))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("512M"))

	RegisterRoutes(e)
	return e
}

// Init connects all backends from cfg and serves the API until SIGINT or
// SIGTERM.
func Init(cfg config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing := app.InitTracing()
	defer shutdownTracing()

	deps, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialise backends", "err", err)
	}
	defer deps.Close()

	a := &mid.App{
		Agent:        deps.NewOrchestrator(tp),
		Store:        deps.Store,
		MasterAPIKey: cfg.Auth.MasterAPIKey,
	}
	if deps.Leases != nil {
		a.Locks = deps.Leases
	}

	if cfg.Auth.URL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.Auth.URL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		a.Keyfunc = k.Keyfunc
	}
	if !a.AuthEnabled() {
		logger.Warn("Authentication disabled, set MASTER_API_KEY or AUTH_URL")
	}

	if url := cfg.RabbitMQ.URL(); url != "" {
		que, err := queue.Init(url)
		if err != nil {
			logger.Fatal("Failed to connect to queue", "err", err)
		}
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		a.Queue = ch
	}

	if cfg.S3.Enabled() {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		a.Bucket = storage.NewBucket(client, cfg.S3.Bucket)
	}

	e := New(a)

	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
