package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pillows/blob.zip/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "X-Chunk-Checksum"},
	}))
	e.Use(RequestLogger())

	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	banGate := BanGate(handler.guard)

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Uploads (ban-gated and rate-limited)
	e.POST("/api/upload", handler.HandleUpload, banGate, uploadLimiter.Middleware())
	e.POST("/api/upload/chunked", handler.HandleChunkedUpload, banGate, uploadLimiter.Middleware())

	// Metadata
	e.GET("/api/info/:id", handler.HandleInfo)
	e.GET("/api/files", handler.HandleFiles)

	// Admin
	e.POST("/api/admin/auth", handler.HandleAdminAuth, banGate)
	admin := e.Group("/api/admin", AdminAuth(handler.auth))
	admin.GET("/files", handler.HandleAdminFiles)
	admin.DELETE("/files", handler.HandleAdminDeleteFiles)
	admin.GET("/stats", handler.HandleAdminStats)
	admin.GET("/bans", handler.HandleAdminListBans)
	admin.POST("/bans", handler.HandleAdminBan)
	admin.DELETE("/bans/:ip", handler.HandleAdminUnban)
	admin.POST("/cleanup", handler.HandleAdminCleanup)

	// Single-use download; must stay last so it does not shadow /api routes.
	e.GET("/:id", handler.HandleDownload)

	return e
}
