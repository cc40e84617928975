package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/medgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/pkg/agent"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	"github.com/labstack/echo/v4"
)

// QueryHandler answers a question with the reasoning loop and returns the
// answer, the retrieved context and the execution trace.
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Query string `json:"query" validate:"required"`
	}

	type queryResponse struct {
		Message string `json:"message"`
		*agent.Result
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{Message: "Invalid request body"})
	}

	cc := c.(*middleware.AppContext)
	res, err := cc.App.Agent.Run(c.Request().Context(), data.Query)
	if errors.Is(err, agent.ErrEmptyQuery) {
		return c.JSON(http.StatusBadRequest, queryResponse{Message: "Query is empty"})
	}
	if err != nil {
		logger.Error("[Server][Query] Session failed", "user", cc.User.UserID, "err", err)
		return c.JSON(http.StatusInternalServerError, queryResponse{Message: "Failed to answer query"})
	}

	return c.JSON(http.StatusOK, queryResponse{Message: "OK", Result: &res})
}
