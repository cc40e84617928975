package server

import (
	"github.com/OFFIS-RIT/medgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	apiRoutes.POST("/query", routes.QueryHandler)
	apiRoutes.GET("/status", routes.StatusHandler)
	apiRoutes.GET("/communities", routes.GetCommunitiesHandler)

	apiRoutes.POST("/ingest", routes.IngestHandler, middleware.RequireAdmin)
	apiRoutes.POST("/communities/rebuild", routes.RebuildCommunitiesHandler, middleware.RequireAdmin)
}
