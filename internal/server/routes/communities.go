package routes

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/medgraph/internal/queue"
	"github.com/OFFIS-RIT/medgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	defaultCommunityLimit = 10
	maxCommunityLimit     = 100
)

// GetCommunitiesHandler lists community summaries. ?ids=1,2 selects
// communities, otherwise the largest ones are returned.
func GetCommunitiesHandler(c echo.Context) error {
	type communitiesResponse struct {
		Message     string                    `json:"message"`
		Communities []common.CommunitySummary `json:"communities"`
	}

	limit := defaultCommunityLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, communitiesResponse{Message: "Invalid limit"})
		}
		limit = min(n, maxCommunityLimit)
	}

	var ids []int64
	if raw := c.QueryParam("ids"); raw != "" {
		for part := range strings.SplitSeq(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return c.JSON(http.StatusBadRequest, communitiesResponse{Message: "Invalid community id"})
			}
			ids = append(ids, id)
		}
	}

	app := c.(*middleware.AppContext).App
	summaries, err := app.Store.GetCommunitySummaries(c.Request().Context(), ids, limit)
	if err != nil {
		logger.Error("[Server][Communities] Failed to load summaries", "err", err)
		return c.JSON(http.StatusInternalServerError, communitiesResponse{Message: "Failed to load communities"})
	}
	if summaries == nil {
		summaries = []common.CommunitySummary{}
	}
	return c.JSON(http.StatusOK, communitiesResponse{Message: "OK", Communities: summaries})
}

// RebuildCommunitiesHandler enqueues a community detection run.
func RebuildCommunitiesHandler(c echo.Context) error {
	type rebuildResponse struct {
		Message string `json:"message"`
		JobID   string `json:"job_id,omitempty"`
	}

	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, rebuildResponse{Message: "Queue is not configured"})
	}

	jobID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, rebuildResponse{Message: "Internal server error"})
	}
	body, err := json.Marshal(queue.CommunityJobMsg{JobID: jobID, Reason: "api", CreatedAt: time.Now().UTC()})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, rebuildResponse{Message: "Internal server error"})
	}
	if err := queue.PublishFIFO(c.Request().Context(), app.Queue, queue.CommunityQueue, body); err != nil {
		logger.Error("[Server][Communities] Failed to enqueue rebuild", "err", err)
		return c.JSON(http.StatusInternalServerError, rebuildResponse{Message: "Failed to enqueue job"})
	}
	return c.JSON(http.StatusAccepted, rebuildResponse{Message: "Community rebuild enqueued", JobID: jobID})
}
