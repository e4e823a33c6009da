package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pillows/blob.zip/internal/server/blob"
	"github.com/pillows/blob.zip/internal/server/database"
	"github.com/pillows/blob.zip/internal/server/notify"
)

// DownloadGate enforces single-use downloads. A file is served at most
// once: the metadata transition to consumed happens atomically in the
// store before the redirect target is handed out.
type DownloadGate struct {
	repo        FileRepository
	store       blob.Store
	sink        Sink
	deleteGrace time.Duration
	baseURL     string
}

// NewDownloadGate creates a download gate.
func NewDownloadGate(repo FileRepository, store blob.Store, sink Sink, deleteGrace time.Duration, baseURL string) *DownloadGate {
	return &DownloadGate{
		repo:        repo,
		store:       store,
		sink:        sink,
		deleteGrace: deleteGrace,
		baseURL:     baseURL,
	}
}

// Resolve transitions the file to consumed and returns the redirect
// target. Consumed, expired, deleted and unknown ids all come back as
// ErrNotFound so the response does not leak which state the record is
// in. Of two concurrent calls for the same id exactly one wins the
// conditional update; the loser sees ErrNotFound.
func (g *DownloadGate) Resolve(ctx context.Context, id, ip string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: id is required", ErrInvalidInput)
	}

	rec, err := g.repo.Consume(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	target, err := g.store.DownloadURL(ctx, rec.BlobPathname)
	if err != nil {
		// The record is already consumed; fall back to the stored URL
		// rather than losing the one permitted download.
		slog.Error("failed to build download URL, using stored blob URL", "id", id, "error", err)
		target = rec.BlobURL
	}

	slog.Info("file consumed",
		"id", id,
		"filename", rec.Filename,
		"download_count", rec.DownloadCount,
		"ip", ip,
	)

	g.sink.NotifyDownload(notify.FileEvent{
		ID:            rec.ID,
		Filename:      rec.Filename,
		Size:          rec.Size,
		URL:           fmt.Sprintf("%s/%s", g.baseURL, rec.ID),
		IPAddress:     ip,
		DownloadCount: rec.DownloadCount,
	})

	g.scheduleBlobDeletion(rec.ID, rec.BlobPathname)

	return target, nil
}

// scheduleBlobDeletion removes the object after a grace delay so the
// redirect the client just received stays fetchable. The metadata
// record is already consumed, which is what blocks a second download.
func (g *DownloadGate) scheduleBlobDeletion(id, pathname string) {
	if pathname == "" {
		return
	}
	time.AfterFunc(g.deleteGrace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := g.store.Delete(ctx, pathname); err != nil {
			slog.Error("failed to delete consumed blob", "id", id, "pathname", pathname, "error", err)
		}
	})
}
