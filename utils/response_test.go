package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pawmart/globals"
)

func TestRespondWithData(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithData(rec, http.StatusOK, []string{"a"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var body struct {
		Data []string `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data) != 1 || body.Data[0] != "a" {
		t.Fatalf("body = %+v", body)
	}
}

func TestRespondWithError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, http.StatusForbidden, "nope")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "nope" {
		t.Fatalf("body = %v", body)
	}
}

func TestGetUserIDFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetUserIDFromRequest(r); got != "" {
		t.Fatalf("got %q", got)
	}
	r = r.WithContext(context.WithValue(r.Context(), globals.UserIDKey, "u1"))
	if got := GetUserIDFromRequest(r); got != "u1" {
		t.Fatalf("got %q", got)
	}
}
