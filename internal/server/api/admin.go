package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pillows/blob.zip/internal/server/service"
)

type authRequest struct {
	Password string `json:"password"`
}

type deleteFilesRequest struct {
	IDs []string `json:"ids"`
}

type banRequest struct {
	IPAddress     string `json:"ip_address"`
	Reason        string `json:"reason"`
	DurationHours int    `json:"duration_hours"` // 0 = permanent
}

// HandleAdminAuth handles POST /api/admin/auth.
// Issues a bearer token on success; repeated failures trigger the
// guard's ban policy.
func (h *Handler) HandleAdminAuth(c echo.Context) error {
	var req authRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	token, remaining, err := h.auth.Login(c.Request().Context(), req.Password, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, echo.Map{
				"error":     "invalid password",
				"remaining": remaining,
			})
		}
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"token": token})
}

// HandleAdminFiles handles GET /api/admin/files.
// Returns full records including attribution fields.
func (h *Handler) HandleAdminFiles(c echo.Context) error {
	recs, err := h.uploads.AdminList(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}

	type adminFile struct {
		ID            string     `json:"id"`
		Filename      string     `json:"filename"`
		Size          int64      `json:"size"`
		UploadedAt    time.Time  `json:"uploaded_at"`
		ExpiresAt     time.Time  `json:"expires_at"`
		DownloadCount int        `json:"download_count"`
		DownloadedAt  *time.Time `json:"downloaded_at"`
		IPAddress     string     `json:"ip_address"`
		UserAgent     string     `json:"user_agent"`
	}

	files := make([]adminFile, 0, len(recs))
	for _, rec := range recs {
		files = append(files, adminFile{
			ID:            rec.ID,
			Filename:      rec.Filename,
			Size:          rec.Size,
			UploadedAt:    rec.UploadedAt,
			ExpiresAt:     rec.ExpiresAt,
			DownloadCount: rec.DownloadCount,
			DownloadedAt:  rec.DownloadedAt,
			IPAddress:     rec.IPAddress,
			UserAgent:     rec.UserAgent,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"files": files,
		"count": len(files),
	})
}

// HandleAdminDeleteFiles handles DELETE /api/admin/files.
// Bulk-deletes records and their blobs by id.
func (h *Handler) HandleAdminDeleteFiles(c echo.Context) error {
	var req deleteFilesRequest
	if err := c.Bind(&req); err != nil || len(req.IDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ids is required"})
	}

	deleted, failures := h.uploads.AdminDelete(c.Request().Context(), req.IDs)
	return c.JSON(http.StatusOK, echo.Map{
		"deleted": deleted,
		"failed":  failures,
	})
}

// HandleAdminStats handles GET /api/admin/stats.
func (h *Handler) HandleAdminStats(c echo.Context) error {
	stats, err := h.uploads.AdminStats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"total_files":   stats.TotalFiles,
		"total_size":    stats.TotalSize,
		"today_uploads": stats.TodayUploads,
		"expiring_soon": stats.ExpiringSoon,
	})
}

// HandleAdminListBans handles GET /api/admin/bans.
func (h *Handler) HandleAdminListBans(c echo.Context) error {
	bans, err := h.guard.ListBans(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"bans":  bans,
		"count": len(bans),
	})
}

// HandleAdminBan handles POST /api/admin/bans.
func (h *Handler) HandleAdminBan(c echo.Context) error {
	var req banRequest
	if err := c.Bind(&req); err != nil || req.IPAddress == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ip_address is required"})
	}

	duration := time.Duration(req.DurationHours) * time.Hour
	if err := h.guard.AdminBan(c.Request().Context(), req.IPAddress, req.Reason, duration); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"banned": req.IPAddress})
}

// HandleAdminUnban handles DELETE /api/admin/bans/:ip.
func (h *Handler) HandleAdminUnban(c echo.Context) error {
	ip := c.Param("ip")
	if err := h.guard.Unban(c.Request().Context(), ip); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"unbanned": ip})
}

// HandleAdminCleanup handles POST /api/admin/cleanup.
// Triggers an immediate expiry sweep.
func (h *Handler) HandleAdminCleanup(c echo.Context) error {
	swept, err := h.uploads.Sweep(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"swept": swept})
}
