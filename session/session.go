// Package session holds the signed-in user's bearer token.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload shared by the client and the relay server.
type Claims struct {
	Username string   `json:"username"`
	UserID   string   `json:"userId"`
	Role     []string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Session is one signed-in period.
type Session struct {
	AccessToken string
	UserID      string
	Username    string
	ExpiresAt   time.Time // zero when the token has no exp claim
}

// Expired reports whether the token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

var (
	ErrNoUser  = errors.New("session: token has no userId")
	ErrExpired = errors.New("session: token expired")
)

// Issue signs an HS256 token for userID. ttl <= 0 issues a token without
// expiry.
func Issue(secret []byte, userID, username string, ttl time.Duration) (string, error) {
	claims := Claims{
		Username: username,
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Subject:  userID,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks the signature and expiry of tokenString.
func Verify(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("unauthorized: %w", err)
	}
	if claims.UserID == "" {
		return nil, ErrNoUser
	}
	return claims, nil
}

// Decode reads the claims without checking the signature. The client does
// not hold the signing key; the server verifies on every call.
func Decode(tokenString string) (Session, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return Session{}, fmt.Errorf("session: malformed token: %w", err)
	}
	if claims.UserID == "" {
		return Session{}, ErrNoUser
	}
	s := Session{AccessToken: tokenString, UserID: claims.UserID, Username: claims.Username}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Manager tracks the current session and tells subscribers about sign-in
// and sign-out.
type Manager struct {
	mu      sync.RWMutex
	current *Session
	subs    map[int]func(Session, bool)
	nextSub int
	now     func() time.Time
}

func NewManager() *Manager {
	return &Manager{subs: make(map[int]func(Session, bool)), now: time.Now}
}

// SignIn replaces the current session with one decoded from token.
func (m *Manager) SignIn(token string) (Session, error) {
	s, err := Decode(token)
	if err != nil {
		return Session{}, err
	}
	if s.Expired(m.now()) {
		return Session{}, ErrExpired
	}
	m.mu.Lock()
	m.current = &s
	subs := m.snapshotLocked()
	m.mu.Unlock()

	for _, fn := range subs {
		fn(s, true)
	}
	return s, nil
}

// SignOut drops the current session. Signing out twice is harmless.
func (m *Manager) SignOut() {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	subs := m.snapshotLocked()
	m.mu.Unlock()

	if prev == nil {
		return
	}
	for _, fn := range subs {
		fn(*prev, false)
	}
}

// Current returns the active, unexpired session.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.current.Expired(m.now()) {
		return Session{}, false
	}
	return *m.current, true
}

// AccessToken is read synchronously before each authenticated call.
// Empty when signed out or expired.
func (m *Manager) AccessToken() string {
	s, ok := m.Current()
	if !ok {
		return ""
	}
	return s.AccessToken
}

func (m *Manager) UserID() string {
	s, _ := m.Current()
	return s.UserID
}

// Subscribe registers fn for sign-in (signedIn=true) and sign-out events.
// The returned func unsubscribes.
func (m *Manager) Subscribe(fn func(s Session, signedIn bool)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) snapshotLocked() []func(Session, bool) {
	out := make([]func(Session, bool), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}
