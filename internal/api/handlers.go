package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fridgeclinic/internal/diagnosis"
	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"
	"fridgeclinic/internal/objectstore"
)

const (
	serviceName    = "Refrigerator Diagnosis API"
	serviceVersion = "1.0.0"
)

// Pipeline runs one diagnosis and reports progress through emit.
type Pipeline interface {
	Run(ctx context.Context, req diagnosis.Request, emit diagnosis.Emit) models.ProgressEvent
}

// UploadSigner hands out presigned PUT URLs for new videos.
type UploadSigner interface {
	PresignUpload(ctx context.Context, fileName, contentType string) (*objectstore.Upload, error)
}

type HistoryStore interface {
	List(ctx context.Context, filter models.DiagnosisFilter) ([]models.Diagnosis, error)
	Get(ctx context.Context, id string) (*models.Diagnosis, error)
	Delete(ctx context.Context, id string) error
}

type ChatService interface {
	CreateConversation(ctx context.Context, diagnosisID, title string) (*models.Conversation, error)
	ListConversations(ctx context.Context, diagnosisID string) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	SendMessage(ctx context.Context, conversationID, text string) (*models.Message, error)
	DeleteConversation(ctx context.Context, id string) (bool, error)
}

// Deps are the services behind the HTTP routes. Metrics may be nil.
type Deps struct {
	Pipeline Pipeline
	Uploads  UploadSigner
	History  HistoryStore
	Chat     ChatService
	Metrics  http.Handler
}

// Handler wires HTTP routes to the diagnosis, history and chat services.
type Handler struct {
	pipeline Pipeline
	uploads  UploadSigner
	history  HistoryStore
	chat     ChatService
	metrics  http.Handler
	now      func() time.Time
}

// NewHandler constructs a Handler instance.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		pipeline: deps.Pipeline,
		uploads:  deps.Uploads,
		history:  deps.History,
		chat:     deps.Chat,
		metrics:  deps.Metrics,
		now:      time.Now,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.root)
	router.GET("/health", h.health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api")
	api.POST("/process-s3-video", h.processVideo)
	api.POST("/upload-url", h.uploadURL)

	api.GET("/history", h.listHistory)
	api.GET("/history/:id", h.getHistory)
	api.DELETE("/history/:id", h.deleteHistory)

	api.POST("/chat/conversations", h.createConversation)
	api.GET("/chat/conversations", h.listConversations)
	api.GET("/chat/conversations/:id", h.getConversation)
	api.DELETE("/chat/conversations/:id", h.deleteConversation)
	api.POST("/chat/messages", h.sendMessage)
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": serviceName, "version": serviceVersion, "status": "healthy"})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": h.now().UTC().Format(time.RFC3339)})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, faults.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, faults.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, faults.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, faults.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
