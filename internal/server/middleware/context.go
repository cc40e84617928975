package middleware

import (
	"context"
	"io"

	"github.com/OFFIS-RIT/medgraph/internal/queue"
	"github.com/OFFIS-RIT/medgraph/pkg/agent"
	"github.com/OFFIS-RIT/medgraph/pkg/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID string
	Role   string
}

// Answerer runs a reasoning session. *agent.Orchestrator implements it.
type Answerer interface {
	Run(ctx context.Context, q string) (agent.Result, error)
}

// Uploader stores uploaded corpus files. *storage.Bucket implements it.
type Uploader interface {
	Name() string
	PutFile(ctx context.Context, prefix string, name string, file io.Reader) (string, error)
	DeleteFolder(ctx context.Context, prefix string) error
}

// LockStatus reports lease lock holders. *leaselock.Client implements it.
type LockStatus interface {
	Holder(ctx context.Context, key string) (string, error)
}

// App holds the shared clients of the HTTP API. Queue, Bucket and Locks
// are nil when the respective service is not configured.
type App struct {
	Agent        Answerer
	Store        store.GraphStorage
	Queue        queue.Publisher
	Bucket       Uploader
	Locks        LockStatus
	Keyfunc      jwt.Keyfunc
	MasterAPIKey string
}

// AuthEnabled reports whether requests to /api must authenticate.
func (a *App) AuthEnabled() bool {
	return a.MasterAPIKey != "" || a.Keyfunc != nil
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
