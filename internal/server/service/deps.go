package service

import (
	"context"
	"time"

	"github.com/pillows/blob.zip/internal/server/database"
	"github.com/pillows/blob.zip/internal/server/notify"
)

// FileRepository is the slice of the metadata store the services use.
// Implemented by database.FileRepository; tests use in-memory fakes.
type FileRepository interface {
	Create(ctx context.Context, f *database.FileRecord) error
	Finalize(ctx context.Context, id, blobURL, blobPathname string, size int64) error
	GetLive(ctx context.Context, id string) (*database.FileRecord, error)
	Consume(ctx context.Context, id string) (*database.FileRecord, error)
	SoftDelete(ctx context.Context, id string) error
	ListLive(ctx context.Context) ([]*database.FileRecord, error)
	SweepExpired(ctx context.Context) ([]*database.FileRecord, error)
	Stats(ctx context.Context) (*database.Stats, error)
	AdminStats(ctx context.Context) (*database.AdminStats, error)
}

// GuardRepository persists IP bans and the login attempt log.
// Implemented by database.GuardRepository.
type GuardRepository interface {
	IsBanned(ctx context.Context, ip string) (bool, error)
	Ban(ctx context.Context, ip, reason, createdBy string, duration time.Duration) error
	Unban(ctx context.Context, ip string) error
	ListBans(ctx context.Context) ([]*database.IPBan, error)
	RecordAttempt(ctx context.Context, ip string, success bool, userAgent string) error
	RecentFailures(ctx context.Context, ip string, window time.Duration) (int, error)
}

// Sink receives upload and download events. Implemented by
// notify.Notifier; delivery must never block or fail the caller.
type Sink interface {
	NotifyUpload(ev notify.FileEvent)
	NotifyDownload(ev notify.FileEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) NotifyUpload(notify.FileEvent)   {}
func (NopSink) NotifyDownload(notify.FileEvent) {}
