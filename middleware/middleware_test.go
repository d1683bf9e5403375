package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pawmart/globals"
	"pawmart/session"

	"github.com/julienschmidt/httprouter"
)

func TestAuthenticate(t *testing.T) {
	var gotUser string
	h := Authenticate(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gotUser, _ = r.Context().Value(globals.UserIDKey).(string)
		w.WriteHeader(http.StatusNoContent)
	})

	tok, err := session.Issue(globals.JwtSecret, "u42", "bob", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bad format", "Token " + tok, "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer " + tok, "", http.StatusNoContent},
		{"query", "", tok, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotUser = ""
			target := "/api/messages"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req, nil)
			if rec.Code != tc.status {
				t.Fatalf("status=%d want %d", rec.Code, tc.status)
			}
			if tc.status == http.StatusNoContent && gotUser != "u42" {
				t.Fatalf("user id %q not propagated", gotUser)
			}
		})
	}
}
