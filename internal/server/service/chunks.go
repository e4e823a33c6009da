package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/pillows/blob.zip/internal/server/blob"
	"github.com/pillows/blob.zip/internal/server/notify"
)

// BeginAck is returned when a chunked upload session is registered.
type BeginAck struct {
	FileID    string    `json:"file_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChunkAck is returned for every intermediate chunk.
type ChunkAck struct {
	Received       bool `json:"received"`
	ChunkIndex     int  `json:"chunk_index"`
	ChunksReceived int  `json:"chunks_received"`
}

// ChunkEngine accepts a file as a sequence of caller-indexed chunks,
// reassembles them in index order, and commits the result to the blob
// store and the metadata store exactly once.
type ChunkEngine struct {
	sessions  SessionStore
	repo      FileRepository
	store     blob.Store
	sink      Sink
	maxSize   int64
	retention time.Duration
	ttl       time.Duration
	baseURL   string
}

// NewChunkEngine creates a chunk engine.
func NewChunkEngine(sessions SessionStore, repo FileRepository, store blob.Store, sink Sink, maxSize int64, retention, sessionTTL time.Duration, baseURL string) *ChunkEngine {
	return &ChunkEngine{
		sessions:  sessions,
		repo:      repo,
		store:     store,
		sink:      sink,
		maxSize:   maxSize,
		retention: retention,
		ttl:       sessionTTL,
		baseURL:   baseURL,
	}
}

// BeginUpload registers a session for uploadID and creates the
// placeholder metadata record. The blob reference and size stay empty
// until the final chunk commits.
func (e *ChunkEngine) BeginUpload(ctx context.Context, uploadID, filename string, totalSize int64, ip, userAgent string) (*BeginAck, error) {
	if uploadID == "" || filename == "" {
		return nil, fmt.Errorf("%w: uploadID and filename are required", ErrInvalidInput)
	}
	if totalSize <= 0 {
		return nil, fmt.Errorf("%w: totalSize must be positive", ErrInvalidInput)
	}
	if totalSize > e.maxSize {
		return nil, ErrPayloadTooLarge
	}

	filename = sanitizeFilename(filename)

	if _, err := e.sessions.Create(uploadID, filename, totalSize); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := newPendingRecord(uploadID, filename, ip, userAgent, now, now.Add(e.retention))
	if err := e.repo.Create(ctx, rec); err != nil {
		e.sessions.Delete(uploadID)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	slog.Info("chunk session started",
		"upload_id", uploadID,
		"filename", filename,
		"declared_size", totalSize,
	)

	return &BeginAck{FileID: uploadID, ExpiresAt: rec.ExpiresAt}, nil
}

// ReceiveChunk stores bytes at chunkIndex for the session. The index
// is an absolute position: resending an index overwrites the previous
// payload, which makes single-chunk retries idempotent. When isLast is
// set the engine reassembles all chunks in index order and commits.
//
// checksum is an optional hex SHA-256 of the chunk body; when present
// it is verified before the chunk is stored.
//
// Exactly one of the two results is non-nil on success: a ChunkAck for
// intermediate chunks, an UploadResult once the final chunk commits.
func (e *ChunkEngine) ReceiveChunk(ctx context.Context, uploadID string, chunkIndex int, data []byte, isLast bool, checksum string) (*ChunkAck, *UploadResult, error) {
	if chunkIndex < 0 {
		return nil, nil, fmt.Errorf("%w: chunk index must not be negative", ErrInvalidInput)
	}
	if checksum != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != checksum {
			return nil, nil, ErrChecksumMismatch
		}
	}

	sess, err := e.sessions.Get(uploadID)
	if err != nil {
		return nil, nil, err
	}

	var assembled []byte
	var filename string
	var createdAt time.Time

	sess.mu.Lock()
	if sess.state == stateFinalizing {
		sess.mu.Unlock()
		return nil, nil, ErrFinalizeInProgress
	}

	prev := len(sess.chunks[chunkIndex])
	sess.total += int64(len(data)) - int64(prev)
	sess.chunks[chunkIndex] = data
	sess.lastActive = time.Now()

	if sess.total > e.maxSize {
		sess.mu.Unlock()
		e.sessions.Delete(uploadID)
		return nil, nil, ErrPayloadTooLarge
	}

	if !isLast {
		count := len(sess.chunks)
		sess.mu.Unlock()
		return &ChunkAck{Received: true, ChunkIndex: chunkIndex, ChunksReceived: count}, nil, nil
	}

	// Final chunk: every index 0..chunkIndex must be present, nothing
	// beyond it. Reassembly is by index, never arrival order.
	sess.lastIndex = chunkIndex
	if len(sess.chunks) != chunkIndex+1 {
		sess.mu.Unlock()
		e.sessions.Delete(uploadID)
		return nil, nil, ErrIncompleteUpload
	}
	for i := 0; i <= chunkIndex; i++ {
		if _, ok := sess.chunks[i]; !ok {
			sess.mu.Unlock()
			e.sessions.Delete(uploadID)
			return nil, nil, ErrIncompleteUpload
		}
	}

	assembled = make([]byte, 0, sess.total)
	for i := 0; i <= chunkIndex; i++ {
		assembled = append(assembled, sess.chunks[i]...)
	}
	filename = sess.filename
	createdAt = sess.createdAt
	sess.state = stateFinalizing
	stored := sess.stored
	sess.mu.Unlock()

	result, err := e.finalize(ctx, sess, uploadID, filename, assembled, stored, createdAt)
	if err != nil {
		return nil, nil, err
	}
	return nil, result, nil
}

// finalize runs the two commit effects in order: blob put, then
// metadata update. No session lock is held across either call. On
// failure the session reverts to receiving so the client can resend
// the final chunk; a successful put is cached on the session so the
// retry only repeats the metadata step.
func (e *ChunkEngine) finalize(ctx context.Context, sess *ChunkSession, uploadID, filename string, assembled []byte, stored *storedBlob, createdAt time.Time) (*UploadResult, error) {
	if stored == nil {
		obj, err := e.store.Put(ctx, filename, bytes.NewReader(assembled), int64(len(assembled)))
		if err != nil {
			e.revertToReceiving(sess)
			return nil, fmt.Errorf("%w: blob put: %v", ErrUpstream, err)
		}
		stored = &storedBlob{url: obj.URL, pathname: obj.Pathname, size: obj.Size}
		sess.mu.Lock()
		sess.stored = stored
		sess.mu.Unlock()
	}

	if err := e.repo.Finalize(ctx, uploadID, stored.url, stored.pathname, stored.size); err != nil {
		e.revertToReceiving(sess)
		return nil, fmt.Errorf("%w: metadata finalize: %v", ErrUpstream, err)
	}

	e.sessions.Delete(uploadID)

	expiresAt := createdAt.Add(e.retention)
	ip := ""
	if rec, err := e.repo.GetLive(ctx, uploadID); err == nil {
		expiresAt = rec.ExpiresAt
		ip = rec.IPAddress
	}

	result := &UploadResult{
		ID:        uploadID,
		URL:       fmt.Sprintf("%s/%s", e.baseURL, uploadID),
		Filename:  filename,
		Size:      stored.size,
		ExpiresAt: expiresAt,
	}

	slog.Info("chunked upload committed",
		"upload_id", uploadID,
		"filename", filename,
		"size", stored.size,
	)

	e.sink.NotifyUpload(notify.FileEvent{
		ID:        uploadID,
		Filename:  filename,
		Size:      stored.size,
		URL:       result.URL,
		ExpiresAt: expiresAt,
		IPAddress: ip,
	})

	return result, nil
}

func (e *ChunkEngine) revertToReceiving(sess *ChunkSession) {
	sess.mu.Lock()
	sess.state = stateReceiving
	sess.lastActive = time.Now()
	sess.mu.Unlock()
}

// StartReaper expires idle sessions in the background until ctx is
// cancelled. Abandoned sessions would otherwise pin their chunk
// buffers forever.
func (e *ChunkEngine) StartReaper(ctx context.Context) {
	interval := e.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if removed := e.sessions.SweepIdle(e.ttl); removed > 0 {
					slog.Info("reaped idle chunk sessions", "removed", removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
