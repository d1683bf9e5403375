package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pawmart/api"
	"pawmart/chat"
	"pawmart/globals"
	"pawmart/hub"
	"pawmart/metrics"
	"pawmart/models"
	"pawmart/ratelim"
	"pawmart/realtime"
	"pawmart/session"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
)

type recordingClaimer struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingClaimer) ClaimPet(_ context.Context, petID models.ID, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, petID.String()+"->"+ownerID)
	return nil
}

func (c *recordingClaimer) ReleasePet(_ context.Context, petID models.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "release "+petID.String())
	return nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type participant struct {
	sessions *session.Manager
	api      *api.Client
	rt       *realtime.Manager
}

func newParticipant(t *testing.T, baseURL, userID string) *participant {
	t.Helper()
	token, err := session.Issue(globals.JwtSecret, userID, userID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	p := &participant{sessions: session.NewManager(), rt: realtime.NewManager(nil)}
	if _, err := p.sessions.SignIn(token); err != nil {
		t.Fatal(err)
	}
	p.api, err = api.New(baseURL, p.sessions, api.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func startRelay(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	h := hub.NewHub(hub.NewMemoryStore(), hub.Options{})
	go h.Run()
	t.Cleanup(h.Stop)

	router := httprouter.New()
	AddChatRoutes(router, h, ratelim.NewRateLimiter(600, 50), metrics.NewServerMetrics(prometheus.NewRegistry()))
	router.GET("/health", Index)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, h
}

func TestHealth(t *testing.T) {
	srv, _ := startRelay(t)
	res, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestHistoryRequiresToken(t *testing.T) {
	srv, _ := startRelay(t)
	res, err := http.Get(srv.URL + "/api/messages?user1=a&user2=b")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestConversationEndToEnd(t *testing.T) {
	srv, h := startRelay(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ctx := context.Background()

	alice := newParticipant(t, srv.URL, "alice")
	bob := newParticipant(t, srv.URL, "bob")

	unbind := alice.rt.Bind(alice.sessions, wsURL)
	defer unbind()
	bobToken := bob.sessions.AccessToken()
	if err := bob.rt.Connect(ctx, realtime.WithToken(wsURL, bobToken), "bob"); err != nil {
		t.Fatal(err)
	}
	defer bob.rt.Disconnect()
	eventually(t, "both connections registered", func() bool {
		return h.Connections("alice") == 1 && h.Connections("bob") == 1
	})

	var bobNotified atomic.Int32
	detach := bob.rt.OnNotification(func(models.Notification) { bobNotified.Add(1) })
	defer detach()

	claimer := &recordingClaimer{}
	aliceChat := chat.NewReconciler(chat.Config{Self: "alice", Peer: "bob", Channel: alice.rt, History: alice.api})
	bobChat := chat.NewReconciler(chat.Config{Self: "bob", Peer: "alice", Channel: bob.rt, History: bob.api, Claimer: claimer})
	if err := aliceChat.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := bobChat.Open(ctx); err != nil {
		t.Fatal(err)
	}

	// text message: optimistic on alice's side, confirmed in place
	sent, err := aliceChat.Send(ctx, "is Rex still available?")
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "bob receives the message", func() bool { return len(bobChat.Messages()) == 1 })
	eventually(t, "alice's send is confirmed", func() bool {
		msgs := aliceChat.Messages()
		return len(msgs) == 1 && msgs[0].Status == models.StatusSent
	})
	confirmed := aliceChat.Messages()[0]
	if confirmed.ClientID != sent.ClientID || confirmed.ID == "" || bobChat.Messages()[0].ID != confirmed.ID {
		t.Fatalf("alice has %+v, bob has %+v", confirmed, bobChat.Messages()[0])
	}
	eventually(t, "bob notified", func() bool { return bobNotified.Load() == 1 })

	// adoption request from alice, accepted by bob
	if _, err := aliceChat.RequestAdoption(ctx, models.Pet{ID: "5", Name: "Rex"}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "bob receives the request", func() bool { return len(bobChat.Messages()) == 2 })
	req := bobChat.Messages()[1]
	if req.Type != models.MessageAdoptionRequest || req.TicketID != "5" {
		t.Fatalf("request = %+v", req)
	}
	if err := aliceChat.Accept(ctx, req.ID); err == nil {
		t.Fatal("requester accepted their own request")
	}
	if err := bobChat.Accept(ctx, req.ID); err != nil {
		t.Fatal(err)
	}
	eventually(t, "alice sees the acceptance", func() bool {
		m, ok := aliceChat.Message(req.ID)
		return ok && m.Type == models.MessageAdoptionAccepted
	})
	if len(claimer.calls) != 1 || claimer.calls[0] != "5->alice" {
		t.Fatalf("claims = %v", claimer.calls)
	}

	// a fresh view loads the same history over HTTP
	aliceChat.Close()
	if n := alice.rt.Listeners(realtime.EventReceiveMessage); n != 0 {
		t.Fatalf("listeners after close = %d", n)
	}
	if !alice.rt.Connected() {
		t.Fatal("closing a view dropped the shared connection")
	}
	reopened := chat.NewReconciler(chat.Config{Self: "alice", Peer: "bob", Channel: alice.rt, History: alice.api})
	if err := reopened.Open(ctx); err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	msgs := reopened.Messages()
	if len(msgs) != 2 || msgs[0].ID != confirmed.ID || msgs[1].Type != models.MessageAdoptionAccepted {
		t.Fatalf("history = %+v", msgs)
	}

	// sign-out tears the shared connection down
	alice.sessions.SignOut()
	eventually(t, "alice disconnected", func() bool { return h.Connections("alice") == 0 })
}
