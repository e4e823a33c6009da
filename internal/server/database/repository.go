package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	ErrFileNotFound = errors.New("file not found")
)

const fileColumns = `id, filename, blob_url, blob_pathname, size, ip_address, user_agent,
	uploaded_at, expires_at, download_count, downloaded_at, deleted_at`

// FileRepository provides CRUD operations for file records.
type FileRepository struct {
	db *DB
}

// NewFileRepository creates a new FileRepository.
func NewFileRepository(db *DB) *FileRepository {
	return &FileRepository{db: db}
}

func scanFile(row pgx.Row) (*FileRecord, error) {
	f := &FileRecord{}
	var ip, ua *string
	err := row.Scan(
		&f.ID,
		&f.Filename,
		&f.BlobURL,
		&f.BlobPathname,
		&f.Size,
		&ip,
		&ua,
		&f.UploadedAt,
		&f.ExpiresAt,
		&f.DownloadCount,
		&f.DownloadedAt,
		&f.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if ip != nil {
		f.IPAddress = *ip
	}
	if ua != nil {
		f.UserAgent = *ua
	}
	return f, nil
}

// Create inserts a new file record. Blob fields may be empty for
// placeholder records created before the physical upload completes.
func (r *FileRepository) Create(ctx context.Context, f *FileRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO files (
			id, filename, blob_url, blob_pathname, size,
			ip_address, user_agent, uploaded_at, expires_at, download_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		f.ID,
		f.Filename,
		f.BlobURL,
		f.BlobPathname,
		f.Size,
		f.IPAddress,
		f.UserAgent,
		f.UploadedAt,
		f.ExpiresAt,
		f.DownloadCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// Finalize fills in the blob reference and final size on a placeholder
// record. It only touches live records so a finalize cannot resurrect a
// file that was deleted or expired mid-upload.
func (r *FileRepository) Finalize(ctx context.Context, id, blobURL, blobPathname string, size int64) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE files SET blob_url = $2, blob_pathname = $3, size = $4
		WHERE id = $1 AND deleted_at IS NULL
	`, id, blobURL, blobPathname, size)
	if err != nil {
		return fmt.Errorf("failed to finalize file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// GetLive retrieves a file that is neither deleted nor expired.
func (r *FileRepository) GetLive(ctx context.Context, id string) (*FileRecord, error) {
	f, err := scanFile(r.db.Pool.QueryRow(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE id = $1 AND deleted_at IS NULL AND expires_at > NOW()
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// Consume atomically transitions a live, never-downloaded file to the
// consumed state and returns it. The WHERE clause carries the whole
// state machine: of two concurrent calls for the same id exactly one
// matches a row, the other gets ErrFileNotFound.
func (r *FileRepository) Consume(ctx context.Context, id string) (*FileRecord, error) {
	f, err := scanFile(r.db.Pool.QueryRow(ctx, `
		UPDATE files
		SET downloaded_at = NOW(), download_count = download_count + 1, deleted_at = NOW()
		WHERE id = $1
		  AND downloaded_at IS NULL
		  AND deleted_at IS NULL
		  AND expires_at > NOW()
		  AND blob_url <> ''
		RETURNING `+fileColumns+`
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to consume file: %w", err)
	}
	return f, nil
}

// SoftDelete marks a record deleted without touching the blob.
func (r *FileRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE files SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// ListLive returns all live files, newest first.
func (r *FileRepository) ListLive(ctx context.Context) ([]*FileRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE deleted_at IS NULL AND expires_at > NOW()
		ORDER BY uploaded_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// SweepExpired marks every expired, still-visible record deleted and
// returns the affected records so the caller can remove their blobs.
func (r *FileRepository) SweepExpired(ctx context.Context) ([]*FileRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE files SET deleted_at = NOW()
		WHERE expires_at < NOW() AND deleted_at IS NULL
		RETURNING `+fileColumns+`
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep expired files: %w", err)
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Stats returns the public aggregate counters.
func (r *FileRepository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE deleted_at IS NULL AND expires_at > NOW()),
			COALESCE(SUM(download_count), 0),
			COALESCE(SUM(size) FILTER (WHERE deleted_at IS NULL AND expires_at > NOW()), 0)
		FROM files
	`).Scan(
		&stats.TotalUploads,
		&stats.ActiveUploads,
		&stats.TotalDownloads,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// AdminStats returns the counters shown on the admin dashboard.
func (r *FileRepository) AdminStats(ctx context.Context) (*AdminStats, error) {
	stats := &AdminStats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE deleted_at IS NULL AND expires_at > NOW()),
			COALESCE(SUM(size) FILTER (WHERE deleted_at IS NULL AND expires_at > NOW()), 0),
			COUNT(*) FILTER (WHERE uploaded_at::date = CURRENT_DATE AND deleted_at IS NULL),
			COUNT(*) FILTER (WHERE deleted_at IS NULL AND expires_at BETWEEN NOW() AND NOW() + INTERVAL '24 hours')
		FROM files
	`).Scan(
		&stats.TotalFiles,
		&stats.TotalSize,
		&stats.TodayUploads,
		&stats.ExpiringSoon,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get admin stats: %w", err)
	}
	return stats, nil
}
