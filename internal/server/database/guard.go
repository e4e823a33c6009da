package database

import (
	"context"
	"fmt"
	"time"
)

// GuardRepository persists IP bans and the admin login attempt log.
type GuardRepository struct {
	db *DB
}

// NewGuardRepository creates a new GuardRepository.
func NewGuardRepository(db *DB) *GuardRepository {
	return &GuardRepository{db: db}
}

// IsBanned reports whether an active ban exists for the IP.
// A ban with a NULL expires_at is permanent.
func (r *GuardRepository) IsBanned(ctx context.Context, ip string) (bool, error) {
	var banned bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM ip_bans
			WHERE ip_address = $1
			  AND (expires_at IS NULL OR expires_at > NOW())
		)
	`, ip).Scan(&banned)
	if err != nil {
		return false, fmt.Errorf("failed to check IP ban: %w", err)
	}
	return banned, nil
}

// Ban inserts or refreshes a ban for the IP. A zero duration makes the
// ban permanent.
func (r *GuardRepository) Ban(ctx context.Context, ip, reason, createdBy string, duration time.Duration) error {
	var expiresAt *time.Time
	if duration > 0 {
		t := time.Now().UTC().Add(duration)
		expiresAt = &t
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO ip_bans (ip_address, reason, expires_at, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip_address) DO UPDATE SET
			reason = $2, expires_at = $3, banned_at = NOW(), created_by = $4
	`, ip, reason, expiresAt, createdBy)
	if err != nil {
		return fmt.Errorf("failed to ban IP: %w", err)
	}
	return nil
}

// Unban removes a ban for the IP.
func (r *GuardRepository) Unban(ctx context.Context, ip string) error {
	_, err := r.db.Pool.Exec(ctx, "DELETE FROM ip_bans WHERE ip_address = $1", ip)
	if err != nil {
		return fmt.Errorf("failed to unban IP: %w", err)
	}
	return nil
}

// ListBans returns all active bans, newest first.
func (r *GuardRepository) ListBans(ctx context.Context) ([]*IPBan, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT ip_address, COALESCE(reason, ''), banned_at, expires_at, COALESCE(created_by, '')
		FROM ip_bans
		WHERE expires_at IS NULL OR expires_at > NOW()
		ORDER BY banned_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	defer rows.Close()

	var bans []*IPBan
	for rows.Next() {
		b := &IPBan{}
		if err := rows.Scan(&b.IPAddress, &b.Reason, &b.BannedAt, &b.ExpiresAt, &b.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan ban: %w", err)
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// RecordAttempt appends to the admin login attempt log.
func (r *GuardRepository) RecordAttempt(ctx context.Context, ip string, success bool, userAgent string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO admin_login_attempts (ip_address, success, user_agent)
		VALUES ($1, $2, $3)
	`, ip, success, userAgent)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}

// RecentFailures counts failed attempts from the IP within the trailing window.
func (r *GuardRepository) RecentFailures(ctx context.Context, ip string, window time.Duration) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE ip_address = $1
		  AND success = FALSE
		  AND attempted_at > NOW() - ($2 * INTERVAL '1 second')
	`, ip, window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent failures: %w", err)
	}
	return count, nil
}
