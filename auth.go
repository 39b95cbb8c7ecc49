package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	sessionCookie = "session"
	sessionTTL    = 24 * time.Hour
)

// hashPassword takes a plaintext password and returns a bcrypt hash. Hashing
// only fails for passwords longer than 72 bytes, which callers reject first.
func hashPassword(password string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}

// checkPasswordHash verifies a plaintext password against a stored bcrypt hash.
func checkPasswordHash(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Session is an authenticated API session. Sessions live in memory only; a
// restart logs everyone out.
type Session struct {
	Username string
	Expires  time.Time
}

// SessionManager hands out random session IDs.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]Session), now: time.Now}
}

// Create starts a session for username that expires after ttl.
func (sm *SessionManager) Create(username string, ttl time.Duration) (string, Session, error) {
	id, err := randomString(32)
	if err != nil {
		return "", Session{}, err
	}
	s := Session{Username: username, Expires: sm.now().Add(ttl)}
	sm.mu.Lock()
	sm.sessions[id] = s
	sm.mu.Unlock()
	return id, s, nil
}

// Get retrieves a live session by ID.
func (sm *SessionManager) Get(id string) (Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	if !ok || sm.now().After(s.Expires) {
		return Session{}, false
	}
	return s, true
}

// Delete removes a session and reports whether it existed.
func (sm *SessionManager) Delete(id string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.sessions[id]; ok {
		delete(sm.sessions, id)
		return true
	}
	return false
}

// DeleteUser drops every session of username, e.g. after the account is
// removed.
func (sm *SessionManager) DeleteUser(username string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, s := range sm.sessions {
		if s.Username == username {
			delete(sm.sessions, id)
		}
	}
}

// Purge removes all expired sessions.
func (sm *SessionManager) Purge() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	now := sm.now()
	for id, s := range sm.sessions {
		if now.After(s.Expires) {
			delete(sm.sessions, id)
		}
	}
}

// purgeLoop runs Purge every interval until ctx is done.
func (sm *SessionManager) purgeLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sm.Purge()
		}
	}
}

// randomString returns a URL-safe base64 string of n random bytes.
func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func setSessionCookie(w http.ResponseWriter, id string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		Expires:  expires,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	setSessionCookie(w, "", time.Unix(0, 0))
}
