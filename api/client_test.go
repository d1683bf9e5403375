package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pawmart/globals"
	"pawmart/models"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestBearerHeaderAndEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "bad auth " + got})
			return
		}
		if r.URL.Path != "/api/pets" || r.URL.Query().Get("species") != "dog" {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{{"id": 5, "name": "Rex"}, {"id": "6", "name": "Bella"}},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, staticToken("tok-1"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	pets, err := c.ListPets(context.Background(), "dog")
	if err != nil {
		t.Fatal(err)
	}
	if len(pets) != 2 || pets[0].ID != "5" || pets[1].Name != "Bella" {
		t.Fatalf("unexpected pets %+v", pets)
	}
}

func TestNoTokenNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected Authorization header")
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": 1, "name": "Solo"}})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, staticToken(""), Options{})
	pet, err := c.GetPet(context.Background(), "1")
	if err != nil || pet.Name != "Solo" {
		t.Fatalf("pet=%+v err=%v", pet, err)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "pet already adopted"})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, nil, Options{})
	err := c.ClaimPet(context.Background(), "7", "u1")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "pet already adopted" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if StatusOf(err) != http.StatusConflict {
		t.Fatal("StatusOf mismatch")
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := New(srv.URL, nil, Options{Timeout: 30 * time.Millisecond})
	_, err := c.FetchMessages(context.Background(), "a", "b")
	if !errors.Is(err, globals.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestPaymentIntentIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(IdempotencyHeader) != "key-1" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing key"})
			return
		}
		var req models.IntentRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusCreated, map[string]any{"data": models.PaymentIntent{
			ID: "pi_1", ClientSecret: "secret", Amount: req.Amount, Currency: req.Currency,
		}})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, nil, Options{})
	intent, err := c.CreatePaymentIntent(context.Background(), models.IntentRequest{Amount: 1998, Currency: "usd"}, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if intent.ID != "pi_1" || intent.Amount != 1998 {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestClaimAndReleasePet(t *testing.T) {
	var bodies []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/pets/7" {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "no route"})
			return
		}
		var b map[string]string
		json.NewDecoder(r.Body).Decode(&b)
		bodies = append(bodies, b)
		writeJSON(w, http.StatusOK, map[string]any{"data": nil})
	}))
	defer srv.Close()

	c, _ := New(srv.URL, nil, Options{})
	if err := c.ClaimPet(context.Background(), "7", "u1"); err != nil {
		t.Fatal(err)
	}
	if err := c.ReleasePet(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}
	if len(bodies) != 2 || bodies[0]["status"] != "adopted" || bodies[0]["ownerId"] != "u1" {
		t.Fatalf("bodies = %v", bodies)
	}
	if bodies[1]["status"] != "available" || bodies[1]["ownerId"] != "" {
		t.Fatalf("release body = %v", bodies[1])
	}
}
