package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"time"

	"github.com/OFFIS-RIT/medgraph/internal/queue"
	"github.com/OFFIS-RIT/medgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/medgraph/pkg/loader"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// UploadPrefix is the object prefix of uploaded ingest jobs.
const UploadPrefix = "uploads"

// IngestHandler uploads markdown files from multipart/form-data and
// enqueues an ingest job for them.
func IngestHandler(c echo.Context) error {
	type ingestResponse struct {
		Message string   `json:"message"`
		JobID   string   `json:"job_id,omitempty"`
		Keys    []string `json:"keys,omitempty"`
	}

	cc := c.(*middleware.AppContext)
	app := cc.App
	if app.Bucket == nil || app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, ingestResponse{Message: "Ingestion is not configured"})
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{Message: "Invalid request body"})
	}
	uploads := form.File["files"]
	if len(uploads) == 0 {
		return c.JSON(http.StatusBadRequest, ingestResponse{Message: "No files uploaded"})
	}
	for _, fh := range uploads {
		if !loader.IsMarkdown(fh.Filename) {
			return c.JSON(http.StatusBadRequest, ingestResponse{Message: "Only markdown files are accepted: " + fh.Filename})
		}
	}

	jobID, err := gonanoid.New()
	if err != nil {
		logger.Error("[Server][Ingest] Failed to create job id", "err", err)
		return c.JSON(http.StatusInternalServerError, ingestResponse{Message: "Internal server error"})
	}
	prefix := path.Join(UploadPrefix, jobID) + "/"

	ctx := c.Request().Context()
	cleanup := func() {
		if err := app.Bucket.DeleteFolder(context.WithoutCancel(ctx), prefix); err != nil {
			logger.Warn("[Server][Ingest] Failed to remove uploaded files", "job", jobID, "err", err)
		}
	}
	keys := make([]string, 0, len(uploads))
	for _, fh := range uploads {
		f, err := fh.Open()
		if err != nil {
			cleanup()
			return c.JSON(http.StatusBadRequest, ingestResponse{Message: "Failed to read " + fh.Filename})
		}
		key, err := app.Bucket.PutFile(ctx, prefix, fh.Filename, f)
		f.Close()
		if err != nil {
			logger.Error("[Server][Ingest] Failed to upload file", "job", jobID, "file", fh.Filename, "err", err)
			cleanup()
			return c.JSON(http.StatusInternalServerError, ingestResponse{Message: "Failed to store files"})
		}
		keys = append(keys, key)
	}

	body, err := json.Marshal(queue.IngestJobMsg{
		JobID:     jobID,
		Bucket:    app.Bucket.Name(),
		Prefix:    prefix,
		Keys:      keys,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		cleanup()
		return c.JSON(http.StatusInternalServerError, ingestResponse{Message: "Internal server error"})
	}
	if err := queue.PublishFIFO(ctx, app.Queue, queue.IngestQueue, body); err != nil {
		logger.Error("[Server][Ingest] Failed to enqueue job", "job", jobID, "err", err)
		cleanup()
		return c.JSON(http.StatusInternalServerError, ingestResponse{Message: "Failed to enqueue job"})
	}

	logger.Info("[Server][Ingest] Job enqueued", "job", jobID, "files", len(keys), "user", cc.User.UserID)
	return c.JSON(http.StatusAccepted, ingestResponse{Message: "Ingest job enqueued", JobID: jobID, Keys: keys})
}
