// Package chat builds the message list of one open conversation from the
// history fetch, optimistic local sends and realtime pushes.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pawmart/globals"
	"pawmart/models"
	"pawmart/realtime"

	"github.com/google/uuid"
)

var (
	ErrClosed      = errors.New("chat: conversation closed")
	ErrAlreadyOpen = errors.New("chat: conversation already opened")
)

// Channel is the part of realtime.Manager a conversation uses.
type Channel interface {
	On(event string, h realtime.Handler) (detach func())
	Emit(ctx context.Context, event string, payload any) error
}

// HistoryFetcher loads the stored conversation, oldest first.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, self, peer string) ([]models.Message, error)
}

// Claimer marks a pet as adopted. Accepting an adoption request calls
// ClaimPet before the chat state changes, and ReleasePet when the accept
// cannot be completed afterwards.
type Claimer interface {
	ClaimPet(ctx context.Context, petID models.ID, ownerID string) error
	ReleasePet(ctx context.Context, petID models.ID) error
}

type State int

const (
	StateLoading State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Config struct {
	Self    string
	Peer    string
	Channel Channel
	History HistoryFetcher
	Claimer Claimer
	// OnChange gets a fresh copy of the list after every change. It is
	// called without internal locks held.
	OnChange func([]models.Message)
	// Timeout bounds the history fetch, emits and claims when the caller's
	// context has no deadline. Defaults to globals.HistoryTimeout.
	Timeout time.Duration
	Now     func() time.Time
}

type rawEvent struct {
	event string
	data  json.RawMessage
}

// Reconciler owns the display list of one conversation. The list is
// append-only apart from in-place replacement of optimistic entries and
// in-place patches; it is never re-sorted.
type Reconciler struct {
	cfg Config

	mu       sync.Mutex
	state    State
	opened   bool
	messages []models.Message
	buffered []rawEvent
	detach   []func()
	busy     map[string]bool
}

func NewReconciler(cfg Config) *Reconciler {
	if cfg.Timeout == 0 {
		cfg.Timeout = globals.HistoryTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{cfg: cfg, state: StateLoading}
}

// Open attaches the realtime listeners and loads the history. Events that
// arrive before the history are held back and applied after it. A failed
// fetch still leaves the conversation Ready (with whatever arrived live)
// and returns the error.
func (r *Reconciler) Open(ctx context.Context) error {
	r.mu.Lock()
	if r.opened {
		r.mu.Unlock()
		return ErrAlreadyOpen
	}
	r.opened = true
	for _, ev := range []string{realtime.EventReceiveMessage, realtime.EventMessageSent, realtime.EventMessageUpdated} {
		r.detach = append(r.detach, r.cfg.Channel.On(ev, r.listener(ev)))
	}
	r.mu.Unlock()

	var history []models.Message
	var fetchErr error
	if r.cfg.History != nil {
		fctx, cancel := globals.WithDefaultTimeout(ctx, r.cfg.Timeout)
		history, fetchErr = r.cfg.History.FetchMessages(fctx, r.cfg.Self, r.cfg.Peer)
		cancel()
		if fetchErr != nil {
			fetchErr = fmt.Errorf("chat: load history: %w", globals.AsTimeout(fetchErr))
			log.Printf("chat: %s<->%s: %v", r.cfg.Self, r.cfg.Peer, fetchErr)
			history = nil
		}
	}

	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return fetchErr
	}
	r.installHistoryLocked(history)
	r.state = StateReady
	pending := r.buffered
	r.buffered = nil
	for _, ev := range pending {
		r.applyLocked(ev)
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snapshot)
	return fetchErr
}

// installHistoryLocked puts the fetched messages ahead of anything sent
// locally while loading.
func (r *Reconciler) installHistoryLocked(history []models.Message) {
	seen := make(map[string]bool, len(history))
	list := make([]models.Message, 0, len(history)+len(r.messages))
	for _, m := range history {
		if !m.Between(r.cfg.Self, r.cfg.Peer) {
			continue
		}
		if m.ID != "" {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		m.Status = models.StatusDelivered
		list = append(list, m)
	}
	r.messages = append(list, r.messages...)
}

func (r *Reconciler) listener(event string) realtime.Handler {
	return func(data json.RawMessage) {
		r.mu.Lock()
		var changed bool
		switch r.state {
		case StateClosed:
		case StateLoading:
			r.buffered = append(r.buffered, rawEvent{event: event, data: data})
		default:
			changed = r.applyLocked(rawEvent{event: event, data: data})
		}
		var snapshot []models.Message
		if changed {
			snapshot = r.snapshotLocked()
		}
		r.mu.Unlock()

		if changed {
			r.notify(snapshot)
		}
	}
}

// applyLocked folds one realtime event into the list and reports whether
// anything changed.
func (r *Reconciler) applyLocked(ev rawEvent) bool {
	switch ev.event {
	case realtime.EventReceiveMessage, realtime.EventMessageSent:
		var msg models.Message
		if err := json.Unmarshal(ev.data, &msg); err != nil {
			log.Printf("chat: bad %s payload: %v", ev.event, err)
			return false
		}
		return r.mergeLocked(msg)
	case realtime.EventMessageUpdated:
		var upd models.MessageUpdate
		if err := json.Unmarshal(ev.data, &upd); err != nil {
			log.Printf("chat: bad %s payload: %v", ev.event, err)
			return false
		}
		return r.patchLocked(upd.MessageID, upd.Updates)
	}
	return false
}

// mergeLocked appends a pushed message, or replaces the optimistic entry
// carrying the same correlation id. Messages of other conversations and
// ids already on screen are ignored.
func (r *Reconciler) mergeLocked(msg models.Message) bool {
	if !msg.Between(r.cfg.Self, r.cfg.Peer) {
		return false
	}
	if msg.ClientID != "" {
		if i := r.indexClientLocked(msg.ClientID); i >= 0 {
			msg.Status = models.StatusSent
			r.messages[i] = msg
			return true
		}
	}
	if msg.ID != "" && r.indexIDLocked(msg.ID) >= 0 {
		return false
	}
	msg.Status = models.StatusDelivered
	r.messages = append(r.messages, msg)
	return true
}

// patchLocked merges patch into the first message with id. Unknown ids
// are dropped; the update may belong to a conversation that is not open.
func (r *Reconciler) patchLocked(id string, patch models.MessagePatch) bool {
	if id == "" || patch.Empty() {
		return false
	}
	i := r.indexIDLocked(id)
	if i < 0 {
		return false
	}
	patch.Apply(&r.messages[i])
	return true
}

// Send appends a text message immediately and then emits it. The returned
// message carries the correlation id used to match the server's
// confirmation.
func (r *Reconciler) Send(ctx context.Context, content string) (models.Message, error) {
	return r.send(ctx, models.Message{Type: models.MessageText, Content: content})
}

func (r *Reconciler) send(ctx context.Context, msg models.Message) (models.Message, error) {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return models.Message{}, ErrClosed
	}
	msg.ID = ""
	msg.ClientID = uuid.NewString()
	msg.SenderID = r.cfg.Self
	msg.ReceiverID = r.cfg.Peer
	msg.CreatedAt = r.cfg.Now().UTC()
	msg.Status = models.StatusPending
	r.messages = append(r.messages, msg)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snapshot)

	return msg, r.emitSend(ctx, msg)
}

// Retry re-emits a failed optimistic message with its original
// correlation id.
func (r *Reconciler) Retry(ctx context.Context, clientID string) error {
	r.mu.Lock()
	i := r.indexClientLocked(clientID)
	if r.state == StateClosed {
		r.mu.Unlock()
		return ErrClosed
	}
	if i < 0 || r.messages[i].Status != models.StatusFailed {
		r.mu.Unlock()
		return fmt.Errorf("chat: no failed message %q", clientID)
	}
	r.messages[i].Status = models.StatusPending
	msg := r.messages[i]
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snapshot)

	return r.emitSend(ctx, msg)
}

func (r *Reconciler) emitSend(ctx context.Context, msg models.Message) error {
	ctx, cancel := globals.WithDefaultTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	err := r.cfg.Channel.Emit(ctx, realtime.EventSendMessage, msg)
	if err == nil {
		return nil
	}

	r.mu.Lock()
	var snapshot []models.Message
	if i := r.indexClientLocked(msg.ClientID); i >= 0 && r.messages[i].Status == models.StatusPending {
		r.messages[i].Status = models.StatusFailed
		snapshot = r.snapshotLocked()
	}
	r.mu.Unlock()
	if snapshot != nil {
		r.notify(snapshot)
	}
	return fmt.Errorf("chat: send: %w", err)
}

// Close detaches this view's listeners. The shared connection stays up.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	r.state = StateClosed
	detach := r.detach
	r.detach = nil
	r.buffered = nil
	r.mu.Unlock()

	for _, d := range detach {
		d()
	}
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Messages returns a copy of the display list.
func (r *Reconciler) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Message looks up a message by server id.
func (r *Reconciler) Message(id string) (models.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexIDLocked(id); i >= 0 {
		return r.messages[i], true
	}
	return models.Message{}, false
}

func (r *Reconciler) snapshotLocked() []models.Message {
	out := make([]models.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reconciler) notify(snapshot []models.Message) {
	if r.cfg.OnChange != nil {
		r.cfg.OnChange(snapshot)
	}
}

func (r *Reconciler) indexIDLocked(id string) int {
	for i := range r.messages {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) indexClientLocked(clientID string) int {
	for i := range r.messages {
		if r.messages[i].ClientID == clientID {
			return i
		}
	}
	return -1
}
