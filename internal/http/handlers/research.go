package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/researchbridge-backend/internal/http/response"
	"github.com/yungbote/researchbridge-backend/internal/platform/logger"
	"github.com/yungbote/researchbridge-backend/internal/services"
	"github.com/yungbote/researchbridge-backend/internal/types"
)

const defaultMaxUploadBytes = 32 << 20

type ResearchHandler struct {
	log            *logger.Logger
	lifecycle      *services.Lifecycle
	forker         *services.Forker
	reader         *services.Reader
	maxUploadBytes int64
}

func NewResearchHandler(
	log *logger.Logger,
	lifecycle *services.Lifecycle,
	forker *services.Forker,
	reader *services.Reader,
	maxUploadBytes int64,
) *ResearchHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &ResearchHandler{
		log:            log.With("handler", "ResearchHandler"),
		lifecycle:      lifecycle,
		forker:         forker,
		reader:         reader,
		maxUploadBytes: maxUploadBytes,
	}
}

type documentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

type createRequest struct {
	ID        string            `json:"id"`
	Query     string            `json:"query"`
	Documents []documentRequest `json:"documents"`
}

// POST /api/research
func (h *ResearchHandler) Create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	var (
		req  createRequest
		docs []services.DocumentInput
	)
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.Request.ParseMultipartForm(h.maxUploadBytes); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
			return
		}
		form := c.Request.MultipartForm
		req.Query = firstValue(form.Value["query"])
		req.ID = firstValue(form.Value["id"])
		files := append(form.File["files"], form.File["files[]"]...)
		for _, fh := range files {
			doc, err := readUpload(fh)
			if err != nil {
				response.RespondError(c, http.StatusBadRequest, "invalid_document", err)
				return
			}
			docs = append(docs, doc)
		}
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		for _, d := range req.Documents {
			docs = append(docs, services.DocumentInput{
				Filename: d.Filename,
				Content:  d.Content,
				MimeType: d.MimeType,
				FileSize: int64(len(d.Content)),
			})
		}
	}

	in := services.CreateInput{Query: req.Query, Documents: docs}
	if raw := strings.TrimSpace(req.ID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
			return
		}
		in.ID = &id
	}

	sessionID, err := h.lifecycle.Create(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"sessionId": sessionID})
}

func firstValue(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func readUpload(fh *multipart.FileHeader) (services.DocumentInput, error) {
	f, err := fh.Open()
	if err != nil {
		return services.DocumentInput{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return services.DocumentInput{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	mimeType := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = types.DefaultDocumentMimeType
	}
	return services.DocumentInput{
		Filename: filepath.Base(fh.Filename),
		Content:  string(raw),
		MimeType: mimeType,
		FileSize: fh.Size,
	}, nil
}

type continueRequest struct {
	SessionID       string `json:"sessionId"`
	AdditionalQuery string `json:"additionalQuery"`
}

// POST /api/research/continue
func (h *ResearchHandler) Continue(c *gin.Context) {
	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	parentID, err := uuid.Parse(strings.TrimSpace(req.SessionID))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	newID, err := h.forker.Continue(c.Request.Context(), services.ContinueInput{
		SessionID:       parentID,
		AdditionalQuery: req.AdditionalQuery,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"newSessionId": newID})
}

// GET /api/research/:id
func (h *ResearchHandler) Get(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	snap, err := h.reader.Snapshot(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, snap)
}

// GET /api/research/:id/documents
func (h *ResearchHandler) Documents(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	docs, err := h.reader.Documents(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"documents": docs})
}

// GET /api/research/history
func (h *ResearchHandler) History(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			if err == nil {
				err = errors.New("limit must be positive")
			}
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		limit = n
	}
	sessions, err := h.reader.History(c.Request.Context(), limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"sessions": sessions})
}

// GET /api/research/stats
func (h *ResearchHandler) Stats(c *gin.Context) {
	stats, err := h.reader.Stats(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, stats)
}

func sessionParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return uuid.Nil, false
	}
	return id, true
}
