package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"pawmart/globals"
	"pawmart/models"
	"pawmart/realtime"
)

var (
	ErrInvalidTransition = errors.New("chat: invalid adoption transition")
	ErrNotAllowed        = errors.New("chat: not allowed for this participant")
	ErrUnknownMessage    = errors.New("chat: unknown message")
	ErrNoClaimer         = errors.New("chat: no claimer configured")
	ErrBusy              = errors.New("chat: adoption request is already being updated")
	// ErrClaimReleased wraps the reason an accept failed after the pet had
	// been claimed. The claim was undone.
	ErrClaimReleased = errors.New("chat: accept failed, pet claim released")
)

type actor int

const (
	bySender actor = iota
	byReceiver
)

// transitions lists the moves out of a pending request and who may make
// each. Every other state is terminal.
var transitions = map[models.MessageType]map[models.MessageType]actor{
	models.MessageAdoptionRequest: {
		models.MessageAdoptionAccepted:  byReceiver,
		models.MessageAdoptionRejected:  byReceiver,
		models.MessageAdoptionCancelled: bySender,
	},
}

// CheckTransition validates moving msg to next on behalf of user. The
// relay server applies the same rules to update_message.
func CheckTransition(msg models.Message, next models.MessageType, user string) error {
	moves, ok := transitions[msg.Type]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, msg.Type, next)
	}
	who, ok := moves[next]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, msg.Type, next)
	}
	switch who {
	case bySender:
		if msg.SenderID != user {
			return fmt.Errorf("%w: only the requester can %s", ErrNotAllowed, next)
		}
	case byReceiver:
		if msg.ReceiverID != user {
			return fmt.Errorf("%w: only the owner can %s", ErrNotAllowed, next)
		}
	}
	return nil
}

// RequestAdoption sends an adoption request for pet to the peer.
func (r *Reconciler) RequestAdoption(ctx context.Context, pet models.Pet) (models.Message, error) {
	content := "Adoption request"
	if pet.Name != "" {
		content = fmt.Sprintf("I'd like to adopt %s", pet.Name)
	}
	return r.send(ctx, models.Message{
		Type:     models.MessageAdoptionRequest,
		Content:  content,
		TicketID: pet.ID,
	})
}

// Accept claims the pet for the requester and then marks the request
// accepted. If the claim fails nothing changes. If the request can no
// longer be accepted once the claim is in, or the update cannot be sent,
// the claim is released again.
func (r *Reconciler) Accept(ctx context.Context, messageID string) error {
	msg, done, err := r.begin(messageID, models.MessageAdoptionAccepted)
	if err != nil {
		return err
	}
	defer done()
	if r.cfg.Claimer == nil {
		return ErrNoClaimer
	}
	cctx, cancel := globals.WithDefaultTimeout(ctx, r.cfg.Timeout)
	err = r.cfg.Claimer.ClaimPet(cctx, msg.TicketID, msg.SenderID)
	cancel()
	if err != nil {
		return fmt.Errorf("chat: claim pet %s: %w", msg.TicketID, globals.AsTimeout(err))
	}
	if err := r.transition(ctx, messageID, models.MessageAdoptionAccepted); err != nil {
		return r.release(ctx, msg, err)
	}
	return nil
}

// release undoes the claim made for msg after cause stopped the accept.
func (r *Reconciler) release(ctx context.Context, msg models.Message, cause error) error {
	rctx, cancel := globals.WithDefaultTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
	defer cancel()
	if err := r.cfg.Claimer.ReleasePet(rctx, msg.TicketID); err != nil {
		err = fmt.Errorf("chat: release pet %s: %w", msg.TicketID, globals.AsTimeout(err))
		log.Printf("chat: %s: %v", msg.ID, err)
		return errors.Join(cause, err)
	}
	return fmt.Errorf("%w: pet %s: %w", ErrClaimReleased, msg.TicketID, cause)
}

func (r *Reconciler) Reject(ctx context.Context, messageID string) error {
	_, done, err := r.begin(messageID, models.MessageAdoptionRejected)
	if err != nil {
		return err
	}
	defer done()
	return r.transition(ctx, messageID, models.MessageAdoptionRejected)
}

func (r *Reconciler) CancelRequest(ctx context.Context, messageID string) error {
	_, done, err := r.begin(messageID, models.MessageAdoptionCancelled)
	if err != nil {
		return err
	}
	defer done()
	return r.transition(ctx, messageID, models.MessageAdoptionCancelled)
}

// begin validates a local transition and marks the message busy until
// done is called, so two local updates of one request never overlap.
func (r *Reconciler) begin(messageID string, next models.MessageType) (models.Message, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateClosed {
		return models.Message{}, nil, ErrClosed
	}
	i := r.indexIDLocked(messageID)
	if i < 0 {
		return models.Message{}, nil, fmt.Errorf("%w: %q", ErrUnknownMessage, messageID)
	}
	msg := r.messages[i]
	if err := CheckTransition(msg, next, r.cfg.Self); err != nil {
		return models.Message{}, nil, err
	}
	if r.busy[messageID] {
		return models.Message{}, nil, fmt.Errorf("%w: %q", ErrBusy, messageID)
	}
	if r.busy == nil {
		r.busy = make(map[string]bool)
	}
	r.busy[messageID] = true
	return msg, func() {
		r.mu.Lock()
		delete(r.busy, messageID)
		r.mu.Unlock()
	}, nil
}

func (r *Reconciler) transition(ctx context.Context, messageID string, next models.MessageType) error {
	r.mu.Lock()
	i := r.indexIDLocked(messageID)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownMessage, messageID)
	}
	if err := CheckTransition(r.messages[i], next, r.cfg.Self); err != nil {
		r.mu.Unlock()
		return err
	}
	prev := r.messages[i].Type
	patch := models.TypePatch(next)
	patch.Apply(&r.messages[i])
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.notify(snapshot)

	ctx, cancel := globals.WithDefaultTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	err := r.cfg.Channel.Emit(ctx, realtime.EventUpdateMessage, models.MessageUpdate{
		MessageID:  messageID,
		Updates:    patch,
		SenderID:   r.cfg.Self,
		ReceiverID: r.cfg.Peer,
	})
	if err == nil {
		return nil
	}

	// The peer never heard of it; put the request back so it can be retried.
	r.mu.Lock()
	snapshot = nil
	if i := r.indexIDLocked(messageID); i >= 0 && r.messages[i].Type == next {
		r.messages[i].Type = prev
		snapshot = r.snapshotLocked()
	}
	r.mu.Unlock()
	if snapshot != nil {
		r.notify(snapshot)
	}
	return fmt.Errorf("chat: emit %s: %w", next, globals.AsTimeout(err))
}
