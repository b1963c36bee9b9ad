// Package middleware provides the HTTP middleware chain for the API
// server: authentication, request logging, and CORS.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Auth gates the settlement API behind a single static deployment key,
// presented either as "Authorization: Bearer <key>" or in X-API-Key.
// Caller identity is an address in the request body, so the key only
// decides whether the deployment is reachable at all. An empty key
// disables the gate.
func Auth(apiKey string) func(http.Handler) http.Handler {
	key := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := credential(r)
			if presented == "" {
				deny(w, "missing credential: use Authorization: Bearer or X-API-Key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), key) != 1 {
				deny(w, "credential rejected")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// credential pulls the presented key out of the request, preferring the
// Bearer scheme over X-API-Key when both are set.
func credential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// deny answers 401 with the same JSON error envelope the handlers use.
func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	body, _ := json.Marshal(map[string]string{"error": msg})
	_, _ = w.Write(body)
}
