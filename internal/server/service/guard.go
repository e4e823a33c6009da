package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pillows/blob.zip/internal/server/database"
)

const (
	failureWindow = 15 * time.Minute
	maxFailures   = 5
	banDuration   = 24 * time.Hour
)

// Guard rate-limits and bans abusive clients based on failed admin
// logins. Upload and admin paths consult it before doing any
// state-mutating work.
type Guard struct {
	repo GuardRepository
}

// NewGuard creates a guard.
func NewGuard(repo GuardRepository) *Guard {
	return &Guard{repo: repo}
}

// IsBanned reports whether the IP has an active ban. Lookup failures
// fail open: a broken ban table should not take uploads down with it.
func (g *Guard) IsBanned(ctx context.Context, ip string) bool {
	banned, err := g.repo.IsBanned(ctx, ip)
	if err != nil {
		slog.Error("ban lookup failed", "ip", ip, "error", err)
		return false
	}
	return banned
}

// RecordAttempt appends a login attempt to the log.
func (g *Guard) RecordAttempt(ctx context.Context, ip string, success bool, userAgent string) {
	if err := g.repo.RecordAttempt(ctx, ip, success, userAgent); err != nil {
		slog.Error("failed to record login attempt", "ip", ip, "error", err)
	}
}

// RecentFailures counts failed attempts from the IP within the policy window.
func (g *Guard) RecentFailures(ctx context.Context, ip string) int {
	count, err := g.repo.RecentFailures(ctx, ip, failureWindow)
	if err != nil {
		slog.Error("failed to count login failures", "ip", ip, "error", err)
		return 0
	}
	return count
}

// ShouldBan reports whether the IP has crossed the failure threshold.
func (g *Guard) ShouldBan(ctx context.Context, ip string) bool {
	return g.RecentFailures(ctx, ip) >= maxFailures
}

// BanForAbuse applies the fixed-duration ban for repeated failures.
func (g *Guard) BanForAbuse(ctx context.Context, ip, reason string) error {
	if err := g.repo.Ban(ctx, ip, reason, "admin-protection", banDuration); err != nil {
		return err
	}
	slog.Warn("IP banned", "ip", ip, "reason", reason, "duration", banDuration)
	return nil
}

// AdminBan applies a ban on behalf of an administrator. A zero
// duration is permanent.
func (g *Guard) AdminBan(ctx context.Context, ip, reason string, duration time.Duration) error {
	return g.repo.Ban(ctx, ip, reason, "admin", duration)
}

// Unban lifts a ban.
func (g *Guard) Unban(ctx context.Context, ip string) error {
	return g.repo.Unban(ctx, ip)
}

// ListBans returns all active bans.
func (g *Guard) ListBans(ctx context.Context) ([]*database.IPBan, error) {
	return g.repo.ListBans(ctx)
}
