package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"pawmart/globals"
	"pawmart/session"

	"github.com/julienschmidt/httprouter"
)

// Authenticate requires a valid bearer token and stores the user id in the
// request context. Websocket upgrades cannot set headers from browsers, so
// they may pass the token as ?token= instead.
func Authenticate(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "Missing token", http.StatusUnauthorized)
			return
		}

		claims, err := session.Verify(globals.JwtSecret, tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), globals.UserIDKey, claims.UserID)
		if len(claims.Role) > 0 {
			ctx = context.WithValue(ctx, globals.RoleKey, claims.Role)
		}
		next(w, r.WithContext(ctx), ps)
	}
}

// ValidateJWT checks an "Authorization: Bearer ..." style value.
func ValidateJWT(header string) (*session.Claims, error) {
	if len(header) < 8 || !strings.HasPrefix(header, "Bearer ") {
		return nil, fmt.Errorf("invalid token")
	}
	return session.Verify(globals.JwtSecret, header[7:])
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) < 8 || !strings.HasPrefix(h, "Bearer ") {
			return ""
		}
		return h[7:]
	}
	return r.URL.Query().Get("token")
}
