package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pillows/blob.zip/internal/server/database"
)

func TestGuardBanPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("failures below threshold do not trigger a ban", func(t *testing.T) {
		guard := NewGuard(newMemGuardRepo())
		for i := 0; i < maxFailures-1; i++ {
			guard.RecordAttempt(ctx, "1.2.3.4", false, "test-agent")
		}
		if guard.ShouldBan(ctx, "1.2.3.4") {
			t.Error("should not ban below the failure threshold")
		}
	})

	t.Run("threshold failures trigger a ban for that IP only", func(t *testing.T) {
		guard := NewGuard(newMemGuardRepo())
		for i := 0; i < maxFailures; i++ {
			guard.RecordAttempt(ctx, "1.2.3.4", false, "test-agent")
		}
		if !guard.ShouldBan(ctx, "1.2.3.4") {
			t.Fatal("expected ShouldBan after threshold failures")
		}
		if err := guard.BanForAbuse(ctx, "1.2.3.4", "too many failures"); err != nil {
			t.Fatalf("ban failed: %v", err)
		}
		if !guard.IsBanned(ctx, "1.2.3.4") {
			t.Error("IP should be banned")
		}
		if guard.IsBanned(ctx, "5.6.7.8") {
			t.Error("other IPs must be unaffected")
		}
	})

	t.Run("successful attempts do not count as failures", func(t *testing.T) {
		guard := NewGuard(newMemGuardRepo())
		for i := 0; i < maxFailures; i++ {
			guard.RecordAttempt(ctx, "1.2.3.4", true, "test-agent")
		}
		if guard.RecentFailures(ctx, "1.2.3.4") != 0 {
			t.Error("successes must not count toward the ban threshold")
		}
	})

	t.Run("unban lifts the ban", func(t *testing.T) {
		guard := NewGuard(newMemGuardRepo())
		if err := guard.AdminBan(ctx, "1.2.3.4", "manual", 0); err != nil {
			t.Fatalf("ban failed: %v", err)
		}
		if !guard.IsBanned(ctx, "1.2.3.4") {
			t.Fatal("expected ban to be active")
		}
		if err := guard.Unban(ctx, "1.2.3.4"); err != nil {
			t.Fatalf("unban failed: %v", err)
		}
		if guard.IsBanned(ctx, "1.2.3.4") {
			t.Error("ban should be lifted")
		}
	})

	t.Run("lookup errors fail open", func(t *testing.T) {
		guard := NewGuard(failingGuardRepo{})
		if guard.IsBanned(ctx, "1.2.3.4") {
			t.Error("a broken ban table must not block requests")
		}
	})
}

func TestAdminAuth(t *testing.T) {
	ctx := context.Background()

	newAuth := func(t *testing.T) (*AdminAuth, *Guard) {
		t.Helper()
		guard := NewGuard(newMemGuardRepo())
		auth, err := NewAdminAuth("hunter2", "test-jwt-secret", time.Hour, guard)
		if err != nil {
			t.Fatalf("NewAdminAuth failed: %v", err)
		}
		return auth, guard
	}

	t.Run("secret required when password is set", func(t *testing.T) {
		if _, err := NewAdminAuth("hunter2", "", time.Hour, NewGuard(newMemGuardRepo())); err == nil {
			t.Error("expected an error without a JWT secret")
		}
	})

	t.Run("empty password disables admin access", func(t *testing.T) {
		auth, err := NewAdminAuth("", "", time.Hour, NewGuard(newMemGuardRepo()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, _, err := auth.Login(ctx, "anything", "1.2.3.4", "test-agent"); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
		if err := auth.VerifyToken("whatever"); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("correct password issues a verifiable token", func(t *testing.T) {
		auth, _ := newAuth(t)
		token, _, err := auth.Login(ctx, "hunter2", "1.2.3.4", "test-agent")
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if token == "" {
			t.Fatal("expected a token")
		}
		if err := auth.VerifyToken(token); err != nil {
			t.Errorf("token should verify: %v", err)
		}
	})

	t.Run("wrong password reports remaining attempts", func(t *testing.T) {
		auth, _ := newAuth(t)
		_, remaining, err := auth.Login(ctx, "wrong", "1.2.3.4", "test-agent")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
		if remaining != maxFailures-1 {
			t.Errorf("expected %d remaining attempts, got %d", maxFailures-1, remaining)
		}
	})

	t.Run("repeated failures ban the IP", func(t *testing.T) {
		auth, guard := newAuth(t)
		var lastErr error
		for i := 0; i < maxFailures+1; i++ {
			_, _, lastErr = auth.Login(ctx, "wrong", "1.2.3.4", "test-agent")
		}
		if !errors.Is(lastErr, ErrForbidden) {
			t.Errorf("expected ErrForbidden after repeated failures, got %v", lastErr)
		}
		if !guard.IsBanned(ctx, "1.2.3.4") {
			t.Error("IP should be banned after repeated failures")
		}

		// Even the correct password is rejected while banned.
		if _, _, err := auth.Login(ctx, "hunter2", "1.2.3.4", "test-agent"); !errors.Is(err, ErrForbidden) {
			t.Errorf("banned IP must not log in, got %v", err)
		}
	})

	t.Run("tampered token is rejected", func(t *testing.T) {
		auth, _ := newAuth(t)
		token, _, err := auth.Login(ctx, "hunter2", "1.2.3.4", "test-agent")
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if err := auth.VerifyToken(token + "x"); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden for a tampered token, got %v", err)
		}
	})

	t.Run("token signed with another secret is rejected", func(t *testing.T) {
		auth, _ := newAuth(t)
		other, err := NewAdminAuth("hunter2", "different-secret", time.Hour, NewGuard(newMemGuardRepo()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		token, _, err := other.Login(ctx, "hunter2", "1.2.3.4", "test-agent")
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if err := auth.VerifyToken(token); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden for a foreign token, got %v", err)
		}
	})
}

// failingGuardRepo errors on every call, for the fail-open path.
type failingGuardRepo struct{}

func (failingGuardRepo) IsBanned(ctx context.Context, ip string) (bool, error) {
	return false, errors.New("db down")
}

func (failingGuardRepo) Ban(ctx context.Context, ip, reason, createdBy string, duration time.Duration) error {
	return errors.New("db down")
}

func (failingGuardRepo) Unban(ctx context.Context, ip string) error {
	return errors.New("db down")
}

func (failingGuardRepo) ListBans(ctx context.Context) ([]*database.IPBan, error) {
	return nil, errors.New("db down")
}

func (failingGuardRepo) RecordAttempt(ctx context.Context, ip string, success bool, userAgent string) error {
	return errors.New("db down")
}

func (failingGuardRepo) RecentFailures(ctx context.Context, ip string, window time.Duration) (int, error) {
	return 0, errors.New("db down")
}
