package service

import (
	"sync"
	"time"
)

// sessionState tracks where a chunk session is in its lifecycle.
type sessionState int

const (
	stateReceiving sessionState = iota
	stateFinalizing
)

// storedBlob caches the result of a successful blob put so a finalize
// retry after a metadata failure does not upload the object twice.
type storedBlob struct {
	url      string
	pathname string
	size     int64
}

// ChunkSession holds the in-flight chunks for one upload id. All
// fields are guarded by mu; the engine copies what it needs out under
// the lock and never holds it across storage calls.
type ChunkSession struct {
	uploadID  string
	filename  string
	declared  int64 // total size announced at begin time
	createdAt time.Time

	mu         sync.Mutex
	chunks     map[int][]byte
	total      int64 // running sum of stored chunk bytes
	lastIndex  int   // index flagged isLast, -1 until seen
	state      sessionState
	stored     *storedBlob
	lastActive time.Time
}

// SessionStore tracks active chunk sessions keyed by upload id. The
// in-memory implementation is for single-instance deployments; a
// shared cache can implement the same interface for multi-instance
// setups.
type SessionStore interface {
	Create(uploadID, filename string, declared int64) (*ChunkSession, error)
	Get(uploadID string) (*ChunkSession, error)
	Delete(uploadID string)
	SweepIdle(olderThan time.Duration) int
}

// MemorySessionStore keeps sessions in a process-local map.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*ChunkSession
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*ChunkSession)}
}

// Create registers a new session. Fails with ErrDuplicateSession if
// one is already active for the upload id.
func (s *MemorySessionStore) Create(uploadID, filename string, declared int64) (*ChunkSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[uploadID]; exists {
		return nil, ErrDuplicateSession
	}

	now := time.Now()
	sess := &ChunkSession{
		uploadID:   uploadID,
		filename:   filename,
		declared:   declared,
		createdAt:  now,
		chunks:     make(map[int][]byte),
		lastIndex:  -1,
		lastActive: now,
	}
	s.sessions[uploadID] = sess
	return sess, nil
}

// Get returns the active session for the upload id.
func (s *MemorySessionStore) Get(uploadID string) (*ChunkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[uploadID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes a session. Removing an unknown id is a no-op.
func (s *MemorySessionStore) Delete(uploadID string) {
	s.mu.Lock()
	delete(s.sessions, uploadID)
	s.mu.Unlock()
}

// SweepIdle drops sessions that have not seen a chunk within the given
// age and returns how many were removed. Without this the session map
// grows without bound as clients abandon uploads.
func (s *MemorySessionStore) SweepIdle(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.lastActive.Before(cutoff) && sess.state != stateFinalizing
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of active sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
