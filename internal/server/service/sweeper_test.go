package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pillows/blob.zip/internal/server/blob"
	"github.com/pillows/blob.zip/internal/server/database"
)

func TestSweeperExpiresFilesOnStart(t *testing.T) {
	ctx := context.Background()
	repo := newMemFileRepo()
	store := blob.NewMemoryStore("http://blobs.test")
	svc := NewUploadService(repo, store, NopSink{}, 1<<20, 72*time.Hour, "http://app.test")

	stale, err := svc.DirectUpload(ctx, "stale.bin", strings.NewReader("xxx"), 3, "1.2.3.4", "")
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	repo.mu.Lock()
	repo.files[stale.ID].ExpiresAt = time.Now().Add(-time.Minute)
	repo.mu.Unlock()

	sweeper := NewSweeper(svc, time.Hour)
	sweepCtx, cancel := context.WithCancel(context.Background())
	sweeper.Start(sweepCtx)

	// The first sweep runs immediately; poll until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired blob was not removed by the initial sweep")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := repo.GetLive(ctx, stale.ID); err != database.ErrFileNotFound {
		t.Errorf("expired record should be gone, got %v", err)
	}

	cancel()
	sweeper.Wait()
}
