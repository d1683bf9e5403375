package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"pawmart/globals"
	"pawmart/models"
	"pawmart/session"
)

// ErrNotConnected is returned by Emit while there is no live connection.
var ErrNotConnected = errors.New("realtime: not connected")

// Handler receives the raw data of one event.
type Handler func(data json.RawMessage)

type listener struct {
	id uint64
	h  Handler
}

// Manager is the shared connection. Connect once per session; views use On
// to attach listeners and call the returned detach func when they go away.
// There is no automatic reconnect: a dropped connection stays down until
// Connect is called again.
type Manager struct {
	dial Dialer

	mu      sync.Mutex
	conn    Transport
	userID  string
	closing bool

	writeMu sync.Mutex

	lmu       sync.RWMutex
	listeners map[string][]listener
	nextID    uint64
}

// NewManager returns a disconnected manager. A nil dial uses
// WebsocketDialer.
func NewManager(dial Dialer) *Manager {
	if dial == nil {
		dial = WebsocketDialer
	}
	return &Manager{dial: dial, listeners: make(map[string][]listener)}
}

// Connect dials rawURL and joins as userID. It is a no-op when already
// connected as the same user; a different user replaces the connection.
func (m *Manager) Connect(ctx context.Context, rawURL, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		if m.userID == userID {
			return nil
		}
		m.closeLocked()
	}

	ctx, cancel := globals.WithDefaultTimeout(ctx, globals.ConnectTimeout)
	defer cancel()

	conn, err := m.dial(ctx, rawURL, nil)
	if err != nil {
		return fmt.Errorf("realtime: connect: %w", globals.AsTimeout(err))
	}

	data, _ := json.Marshal(JoinPayload{UserID: userID})
	if err := m.write(ctx, conn, Envelope{Event: EventJoinChat, Data: data}); err != nil {
		conn.Close()
		return fmt.Errorf("realtime: join: %w", err)
	}

	m.conn = conn
	m.userID = userID
	m.closing = false
	go m.readLoop(conn)
	log.Printf("realtime: connected as %s", userID)
	return nil
}

// Disconnect closes the connection. Listeners stay registered and will
// receive events again after the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *Manager) closeLocked() {
	if m.conn == nil {
		return
	}
	m.closing = true
	if err := m.conn.Close(); err != nil {
		log.Printf("realtime: close: %v", err)
	}
	m.conn = nil
	m.userID = ""
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// UserID is the user the live connection joined as.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Bind ties the connection to the session: connect on sign-in, disconnect
// on sign-out. The session's access token is passed as ?token= since
// browsers cannot set headers on upgrades. Connect failures are logged;
// callers that need the error should call Connect themselves. The returned
// func unbinds.
func (m *Manager) Bind(sessions *session.Manager, rawURL string) func() {
	connect := func(s session.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), globals.ConnectTimeout)
		defer cancel()
		if err := m.Connect(ctx, WithToken(rawURL, s.AccessToken), s.UserID); err != nil {
			log.Printf("realtime: connect for %s failed: %v", s.UserID, err)
		}
	}

	unsub := sessions.Subscribe(func(s session.Session, signedIn bool) {
		if signedIn {
			go connect(s)
			return
		}
		m.Disconnect()
	})
	if s, ok := sessions.Current(); ok {
		go connect(s)
	}
	return unsub
}

// WithToken sets the token query parameter on rawURL.
func WithToken(rawURL, token string) string {
	if token == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Emit sends one event. The context deadline (default
// globals.EmitTimeout) bounds the write.
func (m *Manager) Emit(ctx context.Context, event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", event, err)
	}

	ctx, cancel := globals.WithDefaultTimeout(ctx, globals.EmitTimeout)
	defer cancel()
	if err := m.write(ctx, conn, Envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("realtime: emit %s: %w", event, err)
	}
	return nil
}

func (m *Manager) write(ctx context.Context, conn Transport, env Envelope) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return globals.AsTimeout(err)
	}
	if dl, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(dl)
		defer conn.SetWriteDeadline(time.Time{})
	}
	return globals.AsTimeout(conn.WriteJSON(env))
}

// On registers h for event. Listeners for the same event run in
// registration order on the read goroutine. The returned detach func is
// safe to call more than once.
func (m *Manager) On(event string, h Handler) (detach func()) {
	m.lmu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[event] = append(m.listeners[event], listener{id: id, h: h})
	m.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.off(event, id) })
	}
}

func (m *Manager) off(event string, id uint64) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	ls := m.listeners[event]
	for i, l := range ls {
		if l.id == id {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(m.listeners, event)
		return
	}
	m.listeners[event] = ls
}

// Listeners returns how many handlers are attached to event.
func (m *Manager) Listeners(event string) int {
	m.lmu.RLock()
	defer m.lmu.RUnlock()
	return len(m.listeners[event])
}

// OnNotification attaches a typed listener for notification pushes.
func (m *Manager) OnNotification(fn func(models.Notification)) (detach func()) {
	return m.On(EventNotification, func(data json.RawMessage) {
		var n models.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			log.Printf("realtime: bad notification payload: %v", err)
			return
		}
		fn(n)
	})
}

func (m *Manager) dispatch(env Envelope) {
	m.lmu.RLock()
	ls := make([]listener, len(m.listeners[env.Event]))
	copy(ls, m.listeners[env.Event])
	m.lmu.RUnlock()

	for _, l := range ls {
		l.h(env.Data)
	}
}

func (m *Manager) readLoop(conn Transport) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			m.mu.Lock()
			intentional := m.closing || m.conn != conn
			if m.conn == conn {
				m.conn = nil
				m.userID = ""
			}
			m.mu.Unlock()
			if !intentional {
				log.Printf("realtime: connection lost: %v", err)
			}
			return
		}
		if env.Event == "" {
			continue
		}
		m.dispatch(env)
	}
}
