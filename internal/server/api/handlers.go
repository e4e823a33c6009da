package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pillows/blob.zip/internal/server/database"
	"github.com/pillows/blob.zip/internal/server/service"
)

// Handler contains the HTTP handlers for the blob.zip API.
type Handler struct {
	uploads *service.UploadService
	chunks  *service.ChunkEngine
	gate    *service.DownloadGate
	guard   *service.Guard
	auth    *service.AdminAuth
	db      *database.DB
	maxSize int64
}

// NewHandler creates a new handler with its service dependencies.
func NewHandler(uploads *service.UploadService, chunks *service.ChunkEngine, gate *service.DownloadGate, guard *service.Guard, auth *service.AdminAuth, db *database.DB, maxSize int64) *Handler {
	return &Handler{
		uploads: uploads,
		chunks:  chunks,
		gate:    gate,
		guard:   guard,
		auth:    auth,
		db:      db,
		maxSize: maxSize,
	}
}

// HandleUpload handles POST /api/upload.
// The body shape is resolved exactly once here: a multipart form with
// a "file" field, or a raw binary body with the filename in the "f"
// query param. Nothing downstream re-sniffs the request.
func (h *Handler) HandleUpload(c echo.Context) error {
	req := c.Request()
	ip := c.RealIP()
	userAgent := req.UserAgent()

	var (
		filename string
		body     io.Reader
		size     int64
	)

	contentType := req.Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "file is required (use form field 'file')",
			})
		}
		src, err := fileHeader.Open()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"error": "failed to read uploaded file",
			})
		}
		defer src.Close()

		filename = fileHeader.Filename
		body = src
		size = fileHeader.Size
	} else {
		filename = c.QueryParam("f")
		if filename == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"error": "filename is required (use ?f=<filename> for raw uploads)",
			})
		}
		body = req.Body
		size = req.ContentLength
	}

	result, err := h.uploads.DirectUpload(req.Context(), filename, body, size, ip, userAgent)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleChunkedUpload handles POST /api/upload/chunked.
// ?action=init registers a session; ?action=chunk appends a chunk.
func (h *Handler) HandleChunkedUpload(c echo.Context) error {
	switch c.QueryParam("action") {
	case "init":
		return h.handleChunkInit(c)
	case "chunk":
		return h.handleChunk(c)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "invalid action, use ?action=init or ?action=chunk",
		})
	}
}

func (h *Handler) handleChunkInit(c echo.Context) error {
	filename := c.QueryParam("filename")
	totalSize, err := strconv.ParseInt(c.QueryParam("totalSize"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "totalSize must be an integer"})
	}

	uploadID, err := service.NewFileID()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to generate upload id"})
	}

	ack, err := h.chunks.BeginUpload(c.Request().Context(), uploadID, filename, totalSize, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, ack)
}

func (h *Handler) handleChunk(c echo.Context) error {
	uploadID := c.QueryParam("fileId")
	if uploadID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "fileId is required"})
	}
	chunkIndex, err := strconv.Atoi(c.QueryParam("chunkIndex"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "chunkIndex must be an integer"})
	}
	isLast, _ := strconv.ParseBool(c.QueryParam("last"))
	checksum := c.Request().Header.Get("X-Chunk-Checksum")

	data, err := io.ReadAll(io.LimitReader(c.Request().Body, h.maxSize+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read chunk body"})
	}

	ack, result, err := h.chunks.ReceiveChunk(c.Request().Context(), uploadID, chunkIndex, data, isLast, checksum)
	if err != nil {
		return mapServiceError(c, err)
	}
	if result != nil {
		return c.JSON(http.StatusCreated, result)
	}
	return c.JSON(http.StatusOK, ack)
}

// HandleDownload handles GET /:id — the single-use download. On
// success the client is redirected to the blob URL and the file
// becomes permanently unavailable.
func (h *Handler) HandleDownload(c echo.Context) error {
	target, err := h.gate.Resolve(c.Request().Context(), c.Param("id"), c.RealIP())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.Redirect(http.StatusFound, target)
}

// HandleInfo handles GET /api/info/:id.
// Returns metadata without consuming the file.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.uploads.Info(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleFiles handles GET /api/files.
// Lists live files, newest first.
func (h *Handler) HandleFiles(c echo.Context) error {
	files, err := h.uploads.List(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"files": files,
		"count": len(files),
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.uploads.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve stats"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_uploads":      stats.TotalUploads,
		"active_uploads":     stats.ActiveUploads,
		"total_downloads":    stats.TotalDownloads,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// mapServiceError translates service-layer errors into HTTP responses.
// Consumed, expired and unknown files all map to the same 404 so the
// response does not reveal which state a given id is in.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found or no longer available"})
	case errors.Is(err, service.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "upload session not found"})
	case errors.Is(err, service.ErrPayloadTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "upload exceeds maximum allowed size"})
	case errors.Is(err, service.ErrDuplicateSession), errors.Is(err, service.ErrFinalizeInProgress):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrIncompleteUpload):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "upload is missing one or more chunks"})
	case errors.Is(err, service.ErrChecksumMismatch):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "chunk checksum mismatch"})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid password"})
	case errors.Is(err, service.ErrUpstream):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "upstream storage failure"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
