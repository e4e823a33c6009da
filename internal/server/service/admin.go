package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth authenticates administrators and issues session tokens.
// The configured password is bcrypt-hashed once at startup so the
// plaintext never sits in memory longer than necessary.
type AdminAuth struct {
	passwordHash []byte
	jwtSecret    []byte
	ttl          time.Duration
	guard        *Guard
	enabled      bool
}

// NewAdminAuth creates the admin authenticator. An empty password
// disables admin access entirely.
func NewAdminAuth(password, jwtSecret string, ttl time.Duration, guard *Guard) (*AdminAuth, error) {
	a := &AdminAuth{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		guard:     guard,
	}
	if password == "" {
		return a, nil
	}
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required when ADMIN_PASSWORD is set")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}
	a.passwordHash = hash
	a.enabled = true
	return a, nil
}

// Login verifies the password, enforces the failed-attempt ban policy,
// and returns a signed session token. remaining is how many attempts
// are left before a ban when the password was wrong.
func (a *AdminAuth) Login(ctx context.Context, password, ip, userAgent string) (token string, remaining int, err error) {
	if !a.enabled {
		return "", 0, ErrForbidden
	}
	if password == "" {
		return "", 0, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if a.guard.IsBanned(ctx, ip) {
		return "", 0, ErrForbidden
	}

	failures := a.guard.RecentFailures(ctx, ip)
	if failures >= maxFailures {
		a.guard.RecordAttempt(ctx, ip, false, userAgent)
		if banErr := a.guard.BanForAbuse(ctx, ip, "too many failed admin login attempts"); banErr != nil {
			return "", 0, banErr
		}
		return "", 0, ErrForbidden
	}

	valid := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
	a.guard.RecordAttempt(ctx, ip, valid, userAgent)

	if !valid {
		if a.guard.ShouldBan(ctx, ip) {
			if banErr := a.guard.BanForAbuse(ctx, ip, "multiple failed admin login attempts"); banErr != nil {
				return "", 0, banErr
			}
			return "", 0, ErrForbidden
		}
		remaining = maxFailures - failures - 1
		if remaining < 0 {
			remaining = 0
		}
		return "", remaining, ErrInvalidCredentials
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, 0, nil
}

// VerifyToken validates an admin session token.
func (a *AdminAuth) VerifyToken(token string) error {
	if !a.enabled {
		return ErrForbidden
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return ErrForbidden
	}
	return nil
}
