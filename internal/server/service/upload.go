package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/pillows/blob.zip/internal/server/blob"
	"github.com/pillows/blob.zip/internal/server/database"
	"github.com/pillows/blob.zip/internal/server/notify"
)

// UploadResult is returned after a completed upload, direct or chunked.
type UploadResult struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FileInfo is returned for metadata queries and listings.
type FileInfo struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	Size          int64     `json:"size"`
	UploadedAt    time.Time `json:"uploaded_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	DownloadCount int       `json:"download_count"`
}

// UploadService handles single-request uploads and shared file
// lifecycle operations.
type UploadService struct {
	repo      FileRepository
	store     blob.Store
	sink      Sink
	maxSize   int64
	retention time.Duration
	baseURL   string
}

// NewUploadService creates an upload service.
func NewUploadService(repo FileRepository, store blob.Store, sink Sink, maxSize int64, retention time.Duration, baseURL string) *UploadService {
	return &UploadService{
		repo:      repo,
		store:     store,
		sink:      sink,
		maxSize:   maxSize,
		retention: retention,
		baseURL:   baseURL,
	}
}

// DirectUpload stores a whole file from a single request body: blob
// put first, then the metadata record. The blob is removed again if
// the record insert fails so no orphan survives the request.
func (s *UploadService) DirectUpload(ctx context.Context, filename string, content io.Reader, size int64, ip, userAgent string) (*UploadResult, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	if size > s.maxSize {
		return nil, ErrPayloadTooLarge
	}

	filename = sanitizeFilename(filename)

	id, err := NewFileID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate file id: %w", err)
	}

	// The declared size is client-supplied; cap the actual read too.
	data, err := io.ReadAll(io.LimitReader(content, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload body: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, ErrPayloadTooLarge
	}

	obj, err := s.store.Put(ctx, filename, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: blob put: %v", ErrUpstream, err)
	}

	now := time.Now().UTC()
	rec := newPendingRecord(id, filename, ip, userAgent, now, now.Add(s.retention))
	rec.BlobURL = obj.URL
	rec.BlobPathname = obj.Pathname
	rec.Size = obj.Size

	if err := s.repo.Create(ctx, rec); err != nil {
		if delErr := s.store.Delete(ctx, obj.Pathname); delErr != nil {
			slog.Error("failed to clean up blob after record failure", "pathname", obj.Pathname, "error", delErr)
		}
		return nil, fmt.Errorf("%w: create record: %v", ErrUpstream, err)
	}

	slog.Info("direct upload stored",
		"id", id,
		"filename", filename,
		"size", obj.Size,
		"ip", ip,
	)

	result := &UploadResult{
		ID:        id,
		URL:       fmt.Sprintf("%s/%s", s.baseURL, id),
		Filename:  filename,
		Size:      obj.Size,
		ExpiresAt: rec.ExpiresAt,
	}

	s.sink.NotifyUpload(notify.FileEvent{
		ID:        id,
		Filename:  filename,
		Size:      obj.Size,
		URL:       result.URL,
		ExpiresAt: rec.ExpiresAt,
		IPAddress: ip,
	})

	return result, nil
}

// Info returns metadata for a live file.
func (s *UploadService) Info(ctx context.Context, id string) (*FileInfo, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	rec, err := s.repo.GetLive(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fileInfo(rec), nil
}

// List returns all live files, newest first.
func (s *UploadService) List(ctx context.Context) ([]*FileInfo, error) {
	recs, err := s.repo.ListLive(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]*FileInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, fileInfo(rec))
	}
	return infos, nil
}

// Stats returns the public aggregate counters.
func (s *UploadService) Stats(ctx context.Context) (*database.Stats, error) {
	return s.repo.Stats(ctx)
}

// AdminStats returns the admin dashboard counters.
func (s *UploadService) AdminStats(ctx context.Context) (*database.AdminStats, error) {
	return s.repo.AdminStats(ctx)
}

// AdminList returns full records for the admin panel.
func (s *UploadService) AdminList(ctx context.Context) ([]*database.FileRecord, error) {
	return s.repo.ListLive(ctx)
}

// AdminDelete soft-deletes records and removes their blobs. Per-id
// failures are collected rather than aborting the batch.
func (s *UploadService) AdminDelete(ctx context.Context, ids []string) (int, []string) {
	var deleted int
	var failures []string
	for _, id := range ids {
		rec, err := s.repo.GetLive(ctx, id)
		if err != nil {
			failures = append(failures, id)
			continue
		}
		if err := s.repo.SoftDelete(ctx, id); err != nil {
			failures = append(failures, id)
			continue
		}
		if rec.BlobPathname != "" {
			if err := s.store.Delete(ctx, rec.BlobPathname); err != nil {
				slog.Error("failed to delete blob", "id", id, "pathname", rec.BlobPathname, "error", err)
			}
		}
		deleted++
	}
	return deleted, failures
}

// Sweep marks expired records deleted and removes their blobs.
// Returns the number of records swept.
func (s *UploadService) Sweep(ctx context.Context) (int, error) {
	expired, err := s.repo.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	for _, rec := range expired {
		if rec.BlobPathname == "" {
			continue
		}
		if err := s.store.Delete(ctx, rec.BlobPathname); err != nil {
			slog.Error("failed to delete expired blob",
				"id", rec.ID,
				"pathname", rec.BlobPathname,
				"error", err,
			)
		}
	}
	return len(expired), nil
}

func fileInfo(rec *database.FileRecord) *FileInfo {
	return &FileInfo{
		ID:            rec.ID,
		Filename:      rec.Filename,
		Size:          rec.Size,
		UploadedAt:    rec.UploadedAt,
		ExpiresAt:     rec.ExpiresAt,
		DownloadCount: rec.DownloadCount,
	}
}

func newPendingRecord(id, filename, ip, userAgent string, now, expiresAt time.Time) *database.FileRecord {
	return &database.FileRecord{
		ID:         id,
		Filename:   filename,
		IPAddress:  ip,
		UserAgent:  userAgent,
		UploadedAt: now,
		ExpiresAt:  expiresAt,
	}
}

// NewFileID produces an 8-character alphanumeric identifier, the
// client-visible key in download URLs.
func NewFileID() (string, error) {
	return generateSecureToken(8)
}

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes before filepath.Base, which
	// is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "upload.bin"
	}

	return name
}
