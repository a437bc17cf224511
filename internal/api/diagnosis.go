package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fridgeclinic/internal/diagnosis"
	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
)

const maxUploadSize = 500 << 20

type processVideoRequest struct {
	StorageKey      string `json:"storageKey"`
	S3Key           string `json:"s3Key"`
	FileName        string `json:"fileName"`
	UserDescription string `json:"userDescription"`
}

func (r processVideoRequest) key() string {
	if k := strings.TrimSpace(r.StorageKey); k != "" {
		return k
	}
	return strings.TrimSpace(r.S3Key)
}

// processVideo runs the diagnosis pipeline and streams its progress as one
// JSON object per line.
func (h *Handler) processVideo(c *gin.Context) {
	var req processVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.key() == "" || strings.TrimSpace(req.FileName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: storageKey, fileName"})
		return
	}
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "diagnosis pipeline is not configured"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	emit := func(ev models.ProgressEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := c.Writer.Write(append(line, '\n')); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	last := h.pipeline.Run(ctx, diagnosis.Request{
		StorageKey:      req.key(),
		FileName:        strings.TrimSpace(req.FileName),
		UserDescription: strings.TrimSpace(req.UserDescription),
	}, emit)
	slog.Info("diagnosis stream finished", "storage_key", req.key(), "type", last.Type, "progress", last.Progress)
}

type uploadURLRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// uploadURL returns a presigned PUT URL so the browser can send the video
// straight to the bucket.
func (h *Handler) uploadURL(c *gin.Context) {
	var req uploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.FileName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileName is required"})
		return
	}
	if req.FileType != "" && !strings.HasPrefix(req.FileType, "video/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only video uploads are accepted"})
		return
	}
	if req.FileSize < 0 || req.FileSize > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "video must be at most 500MB"})
		return
	}
	if h.uploads == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": faults.ErrNotConfigured.Error()})
		return
	}
	upload, err := h.uploads.PresignUpload(c.Request.Context(), req.FileName, req.FileType)
	if err != nil {
		slog.Warn("presign upload failed", "file_name", req.FileName, "kind", faults.Kind(err), "error", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, upload)
}
