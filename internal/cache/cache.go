package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"CodaChat/internal/session"
)

// SessionList is a read-through cache of the backend's session list.
type SessionList struct {
	mu          sync.RWMutex
	sessions    []session.Session
	fingerprint string
}

// NewSessionList creates an empty cache.
func NewSessionList() *SessionList {
	return &SessionList{}
}

// Replace stores a freshly fetched list and reports whether it differs from
// the previous one.
func (l *SessionList) Replace(sessions []session.Session) bool {
	fp := Fingerprint(sessions)
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := fp != l.fingerprint
	l.sessions = append([]session.Session(nil), sessions...)
	l.fingerprint = fp
	return changed
}

// Remove drops a session locally, e.g. after a successful delete.
func (l *SessionList) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.sessions[:0:0]
	for _, s := range l.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	l.sessions = kept
	l.fingerprint = Fingerprint(kept)
}

// All returns a copy of the cached list.
func (l *SessionList) All() []session.Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]session.Session(nil), l.sessions...)
}

// Get returns the cached summary of a session.
func (l *SessionList) Get(id string) (session.Session, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return session.Session{}, false
}

// Title returns the cached title of a session, or "".
func (l *SessionList) Title(id string) string {
	s, _ := l.Get(id)
	return s.Title
}

// Fingerprint generates a stable key for a session list
func Fingerprint(sessions []session.Session) string {
	h := sha256.New()
	for _, s := range sessions {
		h.Write([]byte(s.ID))
		h.Write([]byte{0})
		h.Write([]byte(s.Title))
		h.Write([]byte{0})
		h.Write([]byte(s.UpdatedAt))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
