package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pawmart/models"
	"pawmart/realtime"
)

type emitted struct {
	event   string
	payload any
}

// fakeChannel delivers pushed events synchronously to attached handlers.
type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]map[int]realtime.Handler
	next     int
	emits    []emitted
	emitErr  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]map[int]realtime.Handler)}
}

func (c *fakeChannel) On(event string, h realtime.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]realtime.Handler)
	}
	c.next++
	id := c.next
	c.handlers[event][id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

func (c *fakeChannel) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emits = append(c.emits, emitted{event, payload})
	return nil
}

func (c *fakeChannel) attached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

func (c *fakeChannel) lastEmit(t *testing.T) emitted {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.emits) == 0 {
		t.Fatal("nothing emitted")
	}
	return c.emits[len(c.emits)-1]
}

func (c *fakeChannel) push(t *testing.T, event string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	var hs []realtime.Handler
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

type fakeHistory struct {
	msgs    []models.Message
	err     error
	started chan struct{}
	gate    chan struct{}
}

func (h *fakeHistory) FetchMessages(ctx context.Context, self, peer string) ([]models.Message, error) {
	if h.started != nil {
		close(h.started)
	}
	if h.gate != nil {
		select {
		case <-h.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.msgs, h.err
}

type fakeClaimer struct {
	err        error
	releaseErr error
	calls      []string
	released   []string
	// during runs inside ClaimPet, while the claim is in flight.
	during func()
}

func (c *fakeClaimer) ClaimPet(ctx context.Context, petID models.ID, ownerID string) error {
	c.calls = append(c.calls, petID.String()+"->"+ownerID)
	if c.during != nil {
		c.during()
	}
	return c.err
}

func (c *fakeClaimer) ReleasePet(ctx context.Context, petID models.ID) error {
	c.released = append(c.released, petID.String())
	return c.releaseErr
}

func openReady(t *testing.T, self, peer string, history ...models.Message) (*Reconciler, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	r := NewReconciler(Config{Self: self, Peer: peer, Channel: ch, History: &fakeHistory{msgs: history}})
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.State() != StateReady {
		t.Fatalf("state = %v", r.State())
	}
	return r, ch
}

func msg(id, from, to, content string) models.Message {
	return models.Message{ID: id, SenderID: from, ReceiverID: to, Content: content, Type: models.MessageText}
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAppendOrdering(t *testing.T) {
	r, ch := openReady(t, "alice", "bob", msg("h1", "bob", "alice", "history"))

	if _, err := r.Send(context.Background(), "one"); err != nil {
		t.Fatal(err)
	}
	ch.push(t, realtime.EventReceiveMessage, msg("m2", "bob", "alice", "two"))
	if _, err := r.Send(context.Background(), "three"); err != nil {
		t.Fatal(err)
	}
	ch.push(t, realtime.EventReceiveMessage, msg("m4", "bob", "alice", "four"))

	got := contents(r.Messages())
	want := []string{"history", "one", "two", "three", "four"}
	if !equalStrings(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestSendIsOptimisticThenConfirmed(t *testing.T) {
	r, ch := openReady(t, "alice", "bob")
	var changes int
	r.cfg.OnChange = func([]models.Message) { changes++ }

	sent, err := r.Send(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if sent.ClientID == "" || sent.SenderID != "alice" || sent.ReceiverID != "bob" {
		t.Fatalf("sent = %+v", sent)
	}
	if e := ch.lastEmit(t); e.event != realtime.EventSendMessage {
		t.Fatalf("emitted %q", e.event)
	}
	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Status != models.StatusPending {
		t.Fatalf("after send: %+v", msgs)
	}

	confirmed := sent
	confirmed.ID = "srv-1"
	ch.push(t, realtime.EventMessageSent, confirmed)

	msgs = r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("confirmation duplicated the message: %+v", msgs)
	}
	if msgs[0].ID != "srv-1" || msgs[0].Status != models.StatusSent {
		t.Fatalf("after confirm: %+v", msgs[0])
	}
	if changes != 2 {
		t.Fatalf("OnChange called %d times, want 2", changes)
	}

	// A later echo of the same message is ignored.
	ch.push(t, realtime.EventReceiveMessage, confirmed)
	if n := len(r.Messages()); n != 1 {
		t.Fatalf("echo appended, len = %d", n)
	}
}

func TestMessageSentWithoutMatchAppends(t *testing.T) {
	r, ch := openReady(t, "alice", "bob")
	other := msg("x1", "alice", "bob", "from another device")
	other.ClientID = "someone-elses"
	ch.push(t, realtime.EventMessageSent, other)
	if got := contents(r.Messages()); !equalStrings(got, []string{"from another device"}) {
		t.Fatalf("got %v", got)
	}
}

func TestSendFailureMarksFailed(t *testing.T) {
	r, ch := openReady(t, "alice", "bob")
	ch.emitErr = realtime.ErrNotConnected

	sent, err := r.Send(context.Background(), "lost")
	if !errors.Is(err, realtime.ErrNotConnected) {
		t.Fatalf("err = %v", err)
	}
	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Status != models.StatusFailed {
		t.Fatalf("msgs = %+v", msgs)
	}

	ch.emitErr = nil
	if err := r.Retry(context.Background(), sent.ClientID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if st := r.Messages()[0].Status; st != models.StatusPending {
		t.Fatalf("status after retry = %v", st)
	}
	if err := r.Retry(context.Background(), sent.ClientID); err == nil {
		t.Fatal("retry of a pending message should fail")
	}
}

func TestUpdateTargeting(t *testing.T) {
	a := msg("a", "bob", "alice", "first")
	b := msg("b", "bob", "alice", "second")
	r, ch := openReady(t, "alice", "bob", a, b)

	ch.push(t, realtime.EventMessageUpdated, models.MessageUpdate{
		MessageID: "b",
		Updates:   models.TypePatch(models.MessageAdoptionCancelled),
	})
	msgs := r.Messages()
	if msgs[0] != a {
		t.Fatalf("untargeted message changed: %+v", msgs[0])
	}
	if msgs[1].Type != models.MessageAdoptionCancelled || msgs[1].Content != "second" {
		t.Fatalf("target = %+v", msgs[1])
	}

	before := r.Messages()
	ch.push(t, realtime.EventMessageUpdated, models.MessageUpdate{
		MessageID: "missing",
		Updates:   models.TypePatch(models.MessageAdoptionAccepted),
	})
	after := r.Messages()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("unknown id changed message %d", i)
		}
	}
}

func TestAdoptionAcceptedScenario(t *testing.T) {
	r, ch := openReady(t, "owner", "adopter")
	req := models.Message{
		ID:         "m1",
		SenderID:   "adopter",
		ReceiverID: "owner",
		Content:    "I'd like to adopt Rex",
		Type:       models.MessageAdoptionRequest,
		TicketID:   "5",
		CreatedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	ch.push(t, realtime.EventReceiveMessage, req)
	ch.push(t, realtime.EventMessageUpdated, map[string]any{
		"messageId": "m1",
		"updates":   map[string]any{"type": "adoption_accepted"},
	})

	got, ok := r.Message("m1")
	if !ok {
		t.Fatal("m1 missing")
	}
	want := req
	want.Type = models.MessageAdoptionAccepted
	if got != want {
		t.Fatalf("m1 = %+v\nwant %+v", got, want)
	}
}

func TestForeignConversationIgnored(t *testing.T) {
	r, ch := openReady(t, "alice", "bob")
	ch.push(t, realtime.EventReceiveMessage, msg("z", "carol", "alice", "not for this view"))
	ch.push(t, realtime.EventReceiveMessage, msg("y", "bob", "carol", "nor this"))
	if n := len(r.Messages()); n != 0 {
		t.Fatalf("len = %d", n)
	}
	ch.push(t, realtime.EventReceiveMessage, msg("ok", "alice", "bob", "mine from elsewhere"))
	if n := len(r.Messages()); n != 1 {
		t.Fatalf("len = %d", n)
	}
}

func TestEventsDuringLoadingAreReplayed(t *testing.T) {
	ch := newFakeChannel()
	hist := &fakeHistory{
		msgs:    []models.Message{msg("h1", "bob", "alice", "old"), msg("dup", "bob", "alice", "both")},
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	r := NewReconciler(Config{Self: "alice", Peer: "bob", Channel: ch, History: hist})

	done := make(chan error, 1)
	go func() { done <- r.Open(context.Background()) }()
	<-hist.started

	if r.State() != StateLoading {
		t.Fatalf("state = %v", r.State())
	}
	ch.push(t, realtime.EventReceiveMessage, msg("dup", "bob", "alice", "both"))
	ch.push(t, realtime.EventReceiveMessage, msg("live", "bob", "alice", "new"))
	ch.push(t, realtime.EventMessageUpdated, models.MessageUpdate{MessageID: "h1", Updates: models.TypePatch(models.MessageAdoptionRejected)})
	if n := len(r.Messages()); n != 0 {
		t.Fatalf("applied while loading: %d", n)
	}

	close(hist.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	msgs := r.Messages()
	if got := contents(msgs); !equalStrings(got, []string{"old", "both", "new"}) {
		t.Fatalf("got %v", got)
	}
	if msgs[0].Type != models.MessageAdoptionRejected {
		t.Fatalf("buffered update not applied: %+v", msgs[0])
	}
}

func TestHistoryFailureLeavesReady(t *testing.T) {
	ch := newFakeChannel()
	boom := errors.New("502")
	r := NewReconciler(Config{Self: "alice", Peer: "bob", Channel: ch, History: &fakeHistory{err: boom}})
	err := r.Open(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if r.State() != StateReady || len(r.Messages()) != 0 {
		t.Fatalf("state = %v, msgs = %v", r.State(), r.Messages())
	}
	ch.push(t, realtime.EventReceiveMessage, msg("m", "bob", "alice", "still live"))
	if n := len(r.Messages()); n != 1 {
		t.Fatalf("len = %d", n)
	}
	if err := r.Open(context.Background()); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second Open = %v", err)
	}
}

func TestCloseDetachesOnlyListeners(t *testing.T) {
	r, ch := openReady(t, "alice", "bob")
	if ch.attached() != 3 {
		t.Fatalf("attached = %d", ch.attached())
	}
	r.Close()
	r.Close()
	if ch.attached() != 0 {
		t.Fatalf("attached after close = %d", ch.attached())
	}
	if r.State() != StateClosed {
		t.Fatalf("state = %v", r.State())
	}
	if _, err := r.Send(context.Background(), "late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after close = %v", err)
	}
}
