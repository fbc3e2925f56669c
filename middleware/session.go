package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const SessionIDKey contextKey = "sessionID"

// SessionMiddleware extracts the caller's opaque session identifier. The ID
// attributes edits and cursor rows; it is not a credential and nothing about
// it is verified. WebSocket requests carry it in the query string because the
// browser WebSocket API cannot set custom headers.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("X-Session-Id")
		if sessionID == "" {
			sessionID = r.URL.Query().Get("session")
		}
		if sessionID == "" {
			http.Error(w, "Missing session identifier", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionID returns the identifier placed by SessionMiddleware.
func SessionID(r *http.Request) string {
	id, _ := r.Context().Value(SessionIDKey).(string)
	return id
}
