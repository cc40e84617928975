package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/medgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/pkg/graph"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/store"

	"github.com/labstack/echo/v4"
)

// StatusHandler reports record counts and the holders of the ingest and
// community locks.
func StatusHandler(c echo.Context) error {
	type statusResponse struct {
		Message string            `json:"message"`
		Counts  *store.Counts     `json:"counts,omitempty"`
		Locks   map[string]string `json:"locks,omitempty"`
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	counts, err := app.Store.Counts(ctx)
	if err != nil {
		logger.Error("[Server][Status] Failed to count records", "err", err)
		return c.JSON(http.StatusServiceUnavailable, statusResponse{Message: "Graph store unavailable"})
	}

	res := statusResponse{Message: "OK", Counts: &counts}
	if app.Locks != nil {
		res.Locks = map[string]string{}
		for _, key := range []string{graph.LockIngest, graph.LockCommunities} {
			holder, err := app.Locks.Holder(ctx, key)
			if err != nil {
				logger.Warn("[Server][Status] Failed to read lock holder", "key", key, "err", err)
				continue
			}
			res.Locks[key] = holder
		}
	}
	return c.JSON(http.StatusOK, res)
}
