package api

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/view"
)

// SessionRegistry tracks interactive view sessions by id. A session owns one
// view.Model; its camera, filter and selection live exactly as long as the
// session does. Idle sessions are reaped after a TTL.
type SessionRegistry struct {
	factory func(id string) *view.Model
	ttl     time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

type sessionEntry struct {
	model    *view.Model
	lastSeen time.Time
}

// NewSessionRegistry creates a registry. The factory builds a fresh model for
// each opened session. cleanupPeriod controls how often idle sessions are
// swept.
func NewSessionRegistry(factory func(id string) *view.Model, ttl, cleanupPeriod time.Duration) *SessionRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if cleanupPeriod <= 0 {
		cleanupPeriod = 5 * time.Minute
	}
	sr := &SessionRegistry{
		factory:  factory,
		ttl:      ttl,
		sessions: make(map[string]*sessionEntry),
		stopCh:   make(chan struct{}),
	}
	go sr.reaper(cleanupPeriod)
	return sr
}

// Create opens a new session and returns its model.
func (sr *SessionRegistry) Create() *view.Model {
	id := generateID()
	m := sr.factory(id)
	sr.mu.Lock()
	sr.sessions[id] = &sessionEntry{model: m, lastSeen: time.Now()}
	sr.mu.Unlock()
	return m
}

// Get returns the session's model and refreshes its idle timer, or nil when
// the session does not exist.
func (sr *SessionRegistry) Get(id string) *view.Model {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	e, ok := sr.sessions[id]
	if !ok {
		return nil
	}
	e.lastSeen = time.Now()
	return e.model
}

// Delete closes a session, discarding all of its view state.
func (sr *SessionRegistry) Delete(id string) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if _, ok := sr.sessions[id]; !ok {
		return false
	}
	delete(sr.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (sr *SessionRegistry) Len() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.sessions)
}

// Close stops the reaper. Existing sessions stay usable until deleted.
func (sr *SessionRegistry) Close() {
	sr.stopOnce.Do(func() { close(sr.stopCh) })
}

func (sr *SessionRegistry) reaper(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-sr.stopCh:
			return
		case <-ticker.C:
			sr.sweep()
		}
	}
}

func (sr *SessionRegistry) sweep() {
	cutoff := time.Now().Add(-sr.ttl)
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for id, e := range sr.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(sr.sessions, id)
			log.Printf("[SessionRegistry] expired idle session %s", id)
		}
	}
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
