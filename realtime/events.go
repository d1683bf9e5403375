// Package realtime owns the single process-wide realtime connection. Views
// attach and detach their own listeners; none of them own the connection.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Event names shared with the relay server.
const (
	EventJoinChat       = "join_chat"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventUpdateMessage  = "update_message"
	EventMessageUpdated = "message_updated"
	EventNotification   = "notification"
)

// Envelope is the wire frame: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload authenticates the connection for one user.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// Transport is the part of *websocket.Conn the manager needs.
type Transport interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Transport to url.
type Dialer func(ctx context.Context, url string, header http.Header) (Transport, error)

// WebsocketDialer dials with gorilla's default dialer.
func WebsocketDialer(ctx context.Context, url string, header http.Header) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
