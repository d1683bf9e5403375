package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"pawmart/chat"
	"pawmart/models"
	"pawmart/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	storeTimeout   = 5 * time.Second
)

// EventError reports a rejected inbound event back to its sender.
const EventError = "error"

type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

var (
	errForbidden  = errors.New("not a participant")
	errBadMessage = errors.New("invalid message")
)

type Client struct {
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string
	hub    *Hub
	kicked bool // read side only
}

func NewClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{Conn: conn, Send: make(chan []byte, 256), UserID: userID, hub: h}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in realtime.Envelope
		if err := c.Conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("hub: read %s: %v", c.UserID, err)
			}
			return
		}
		if c.kicked {
			continue
		}
		if c.hub.metrics != nil {
			c.hub.metrics.Relayed.WithLabelValues(in.Event).Inc()
		}
		if err := c.handle(in); err != nil {
			log.Printf("hub: %s from %s: %v", in.Event, c.UserID, err)
			c.reply(EventError, ErrorPayload{Event: in.Event, Message: err.Error()})
			if errors.Is(err, errForbidden) && in.Event == realtime.EventJoinChat {
				// the write side closes the socket, which ends this loop
				c.kicked = true
				c.hub.Kick(c)
			}
		}
	}
}

func (c *Client) handle(in realtime.Envelope) error {
	switch in.Event {
	case realtime.EventJoinChat:
		var join realtime.JoinPayload
		if err := json.Unmarshal(in.Data, &join); err != nil {
			return fmt.Errorf("%w: %v", errBadMessage, err)
		}
		if join.UserID != c.UserID {
			return fmt.Errorf("%w: joined as %q", errForbidden, join.UserID)
		}
		return nil
	case realtime.EventSendMessage:
		var msg models.Message
		if err := json.Unmarshal(in.Data, &msg); err != nil {
			return fmt.Errorf("%w: %v", errBadMessage, err)
		}
		return c.hub.relayMessage(c.UserID, msg)
	case realtime.EventUpdateMessage:
		var upd models.MessageUpdate
		if err := json.Unmarshal(in.Data, &upd); err != nil {
			return fmt.Errorf("%w: %v", errBadMessage, err)
		}
		return c.hub.relayUpdate(c.UserID, upd)
	}
	return fmt.Errorf("%w: unknown event %q", errBadMessage, in.Event)
}

// reply writes to this connection only.
func (c *Client) reply(event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		return
	}
	c.hub.DeliverTo(c, data)
}

// relayMessage stores a new message from sender and fans it out. The
// sender's connections get message_sent, never receive_message.
func (h *Hub) relayMessage(sender string, msg models.Message) error {
	msg.SenderID = sender
	msg.ReceiverID = strings.TrimSpace(msg.ReceiverID)
	if msg.ReceiverID == "" {
		return fmt.Errorf("%w: missing receiverId", errBadMessage)
	}
	switch msg.Type {
	case "":
		msg.Type = models.MessageText
	case models.MessageText, models.MessageAdoptionRequest:
	default:
		return fmt.Errorf("%w: cannot create a %s message", errBadMessage, msg.Type)
	}
	if msg.Type == models.MessageAdoptionRequest && msg.TicketID == "" {
		return fmt.Errorf("%w: adoption request without ticketId", errBadMessage)
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = h.now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.Insert(ctx, msg); err != nil {
		return fmt.Errorf("store message: %w", err)
	}

	h.Deliver(sender, realtime.EventMessageSent, msg)
	if msg.ReceiverID != sender {
		h.Deliver(msg.ReceiverID, realtime.EventReceiveMessage, msg)
		h.Deliver(msg.ReceiverID, realtime.EventNotification, notificationFor(msg))
	}
	return nil
}

// relayUpdate patches a stored message on behalf of user and tells both
// participants.
func (h *Hub) relayUpdate(user string, upd models.MessageUpdate) error {
	if upd.MessageID == "" || upd.Updates.Empty() {
		return fmt.Errorf("%w: empty update", errBadMessage)
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	stored, err := h.store.Get(ctx, upd.MessageID)
	if err != nil {
		return fmt.Errorf("load %s: %w", upd.MessageID, err)
	}
	if stored.SenderID != user && stored.ReceiverID != user {
		return fmt.Errorf("%w: message %s", errForbidden, upd.MessageID)
	}
	if upd.Updates.Type != nil && *upd.Updates.Type != stored.Type {
		if err := chat.CheckTransition(stored, *upd.Updates.Type, user); err != nil {
			return err
		}
	}
	if upd.Updates.Content != nil && stored.SenderID != user {
		return fmt.Errorf("%w: only the sender can edit", errForbidden)
	}

	patched, err := h.store.Patch(ctx, upd.MessageID, stored.Type, upd.Updates)
	if errors.Is(err, ErrStale) {
		return fmt.Errorf("%w: %s is now %s", chat.ErrInvalidTransition, upd.MessageID, patched.Type)
	}
	if err != nil {
		return fmt.Errorf("patch %s: %w", upd.MessageID, err)
	}
	out := models.MessageUpdate{
		MessageID:  patched.ID,
		Updates:    upd.Updates,
		SenderID:   user,
		ReceiverID: otherParty(patched, user),
	}
	h.Deliver(patched.SenderID, realtime.EventMessageUpdated, out)
	if patched.ReceiverID != patched.SenderID {
		h.Deliver(patched.ReceiverID, realtime.EventMessageUpdated, out)
	}
	if upd.Updates.Type != nil && upd.Updates.Type.IsAdoption() {
		h.Deliver(out.ReceiverID, realtime.EventNotification, models.Notification{
			Kind:      "adoption",
			FromID:    user,
			ToID:      out.ReceiverID,
			Preview:   string(*upd.Updates.Type),
			MessageID: patched.ID,
			CreatedAt: h.now().UTC(),
		})
	}
	return nil
}

func otherParty(m models.Message, user string) string {
	if m.SenderID == user {
		return m.ReceiverID
	}
	return m.SenderID
}

func notificationFor(msg models.Message) models.Notification {
	kind := "message"
	if msg.Type.IsAdoption() {
		kind = "adoption"
	}
	preview := msg.Content
	if r := []rune(preview); len(r) > 80 {
		preview = string(r[:80])
	}
	return models.Notification{
		Kind:      kind,
		FromID:    msg.SenderID,
		ToID:      msg.ReceiverID,
		Preview:   preview,
		MessageID: msg.ID,
		CreatedAt: msg.CreatedAt,
	}
}
