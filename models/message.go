package models

import "time"

// MessageType discriminates plain chat text from the adoption-request
// lifecycle states.
type MessageType string

const (
	MessageText              MessageType = "text"
	MessageAdoptionRequest   MessageType = "adoption_request"
	MessageAdoptionAccepted  MessageType = "adoption_accepted"
	MessageAdoptionRejected  MessageType = "adoption_rejected"
	MessageAdoptionCancelled MessageType = "adoption_cancelled"
)

// IsAdoption reports whether t belongs to the adoption-request lifecycle.
func (t MessageType) IsAdoption() bool {
	switch t {
	case MessageAdoptionRequest, MessageAdoptionAccepted, MessageAdoptionRejected, MessageAdoptionCancelled:
		return true
	}
	return false
}

// DeliveryStatus is client-local bookkeeping for optimistic sends. It is
// never put on the wire.
type DeliveryStatus int

const (
	StatusDelivered DeliveryStatus = iota // history or pushed by the server
	StatusPending                         // appended locally, not yet confirmed
	StatusSent                            // confirmed by message_sent
	StatusFailed                          // emit failed
)

// Message is one chat entry between two participants.
type Message struct {
	ID         string         `json:"id,omitempty" bson:"_id,omitempty"`            // server assigned
	ClientID   string         `json:"clientId,omitempty" bson:"clientId,omitempty"` // correlation id of an optimistic send
	SenderID   string         `json:"senderId" bson:"senderId"`
	ReceiverID string         `json:"receiverId" bson:"receiverId"`
	Content    string         `json:"content" bson:"content"`
	Type       MessageType    `json:"type" bson:"type"`
	TicketID   ID             `json:"ticketId,omitempty" bson:"ticketId,omitempty"` // pet under discussion
	CreatedAt  time.Time      `json:"createdAt" bson:"createdAt"`
	Status     DeliveryStatus `json:"-" bson:"-"`
}

// Between reports whether m was exchanged by a and b, in either direction.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// MessagePatch is a partial update; nil fields are left untouched.
type MessagePatch struct {
	Type    *MessageType `json:"type,omitempty" bson:"type,omitempty"`
	Content *string      `json:"content,omitempty" bson:"content,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p MessagePatch) Empty() bool {
	return p.Type == nil && p.Content == nil
}

// Apply merges the patch into m.
func (p MessagePatch) Apply(m *Message) {
	if p.Type != nil {
		m.Type = *p.Type
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
}

// TypePatch is shorthand for the common type transition patch.
func TypePatch(t MessageType) MessagePatch {
	return MessagePatch{Type: &t}
}

// MessageUpdate is the payload of update_message / message_updated.
type MessageUpdate struct {
	MessageID  string       `json:"messageId"`
	Updates    MessagePatch `json:"updates"`
	SenderID   string       `json:"senderId,omitempty"`
	ReceiverID string       `json:"receiverId,omitempty"`
}

// Notification is pushed to a user outside of any open conversation.
type Notification struct {
	Kind      string    `json:"kind"` // "message", "adoption"
	FromID    string    `json:"fromId"`
	ToID      string    `json:"toId"`
	Preview   string    `json:"preview,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
