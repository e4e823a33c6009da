package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pillows/blob.zip/internal/server/blob"
	"github.com/pillows/blob.zip/internal/server/database"
)

// memFileRepo is an in-memory FileRepository with the same conditional
// update semantics as the Postgres implementation.
type memFileRepo struct {
	mu           sync.Mutex
	files        map[string]*database.FileRecord
	failFinalize bool
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{files: make(map[string]*database.FileRecord)}
}

func copyRecord(f *database.FileRecord) *database.FileRecord {
	cp := *f
	return &cp
}

func (r *memFileRepo) Create(ctx context.Context, f *database.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.files[f.ID]; exists {
		return errors.New("duplicate key")
	}
	r.files[f.ID] = copyRecord(f)
	return nil
}

func (r *memFileRepo) Finalize(ctx context.Context, id, blobURL, blobPathname string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFinalize {
		return errors.New("injected finalize failure")
	}
	f, ok := r.files[id]
	if !ok || f.DeletedAt != nil {
		return database.ErrFileNotFound
	}
	f.BlobURL = blobURL
	f.BlobPathname = blobPathname
	f.Size = size
	return nil
}

func (r *memFileRepo) isLive(f *database.FileRecord) bool {
	return f.DeletedAt == nil && f.ExpiresAt.After(time.Now())
}

func (r *memFileRepo) GetLive(ctx context.Context, id string) (*database.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || !r.isLive(f) {
		return nil, database.ErrFileNotFound
	}
	return copyRecord(f), nil
}

func (r *memFileRepo) Consume(ctx context.Context, id string) (*database.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || !r.isLive(f) || f.DownloadedAt != nil || f.BlobURL == "" {
		return nil, database.ErrFileNotFound
	}
	now := time.Now()
	f.DownloadedAt = &now
	f.DeletedAt = &now
	f.DownloadCount++
	return copyRecord(f), nil
}

func (r *memFileRepo) SoftDelete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || f.DeletedAt != nil {
		return database.ErrFileNotFound
	}
	now := time.Now()
	f.DeletedAt = &now
	return nil
}

func (r *memFileRepo) ListLive(ctx context.Context) ([]*database.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.FileRecord
	for _, f := range r.files {
		if r.isLive(f) {
			out = append(out, copyRecord(f))
		}
	}
	return out, nil
}

func (r *memFileRepo) SweepExpired(ctx context.Context) ([]*database.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []*database.FileRecord
	for _, f := range r.files {
		if f.DeletedAt == nil && !f.ExpiresAt.After(now) {
			f.DeletedAt = &now
			out = append(out, copyRecord(f))
		}
	}
	return out, nil
}

func (r *memFileRepo) Stats(ctx context.Context) (*database.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &database.Stats{}
	for _, f := range r.files {
		stats.TotalUploads++
		stats.TotalDownloads += int64(f.DownloadCount)
		if r.isLive(f) {
			stats.ActiveUploads++
			stats.StorageUsed += f.Size
		}
	}
	return stats, nil
}

func (r *memFileRepo) AdminStats(ctx context.Context) (*database.AdminStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &database.AdminStats{}
	for _, f := range r.files {
		if r.isLive(f) {
			stats.TotalFiles++
			stats.TotalSize += f.Size
		}
	}
	return stats, nil
}

// memGuardRepo is an in-memory GuardRepository.
type memGuardRepo struct {
	mu       sync.Mutex
	bans     map[string]*database.IPBan
	attempts []database.LoginAttempt
}

func newMemGuardRepo() *memGuardRepo {
	return &memGuardRepo{bans: make(map[string]*database.IPBan)}
}

func (r *memGuardRepo) IsBanned(ctx context.Context, ip string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bans[ip]
	if !ok {
		return false, nil
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(time.Now()), nil
}

func (r *memGuardRepo) Ban(ctx context.Context, ip, reason, createdBy string, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &database.IPBan{IPAddress: ip, Reason: reason, BannedAt: time.Now(), CreatedBy: createdBy}
	if duration > 0 {
		t := time.Now().Add(duration)
		b.ExpiresAt = &t
	}
	r.bans[ip] = b
	return nil
}

func (r *memGuardRepo) Unban(ctx context.Context, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bans, ip)
	return nil
}

func (r *memGuardRepo) ListBans(ctx context.Context) ([]*database.IPBan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.IPBan
	for _, b := range r.bans {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memGuardRepo) RecordAttempt(ctx context.Context, ip string, success bool, userAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, database.LoginAttempt{
		IPAddress:   ip,
		AttemptedAt: time.Now(),
		Success:     success,
		UserAgent:   userAgent,
	})
	return nil
}

func (r *memGuardRepo) RecentFailures(ctx context.Context, ip string, window time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var count int
	for _, a := range r.attempts {
		if a.IPAddress == ip && !a.Success && a.AttemptedAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// countingStore wraps a blob store and counts Put calls.
type countingStore struct {
	*blob.MemoryStore
	mu   sync.Mutex
	puts int
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: blob.NewMemoryStore("http://blobs.test")}
}

func (s *countingStore) Put(ctx context.Context, name string, content io.Reader, size int64) (*blob.Object, error) {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, name, content, size)
}

func (s *countingStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
