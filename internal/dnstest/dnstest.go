// Package dnstest provides in-memory fakes of the provider APIs shipped in
// this module. They stand in for the live services when recording cassettes
// in tests.
package dnstest

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// rateLimiter answers the next n requests with 429.
type rateLimiter struct {
	mu        sync.Mutex
	remaining int
	limited   int
}

// RateLimitNext makes the next n requests fail with 429 Too Many Requests.
func (l *rateLimiter) RateLimitNext(n int) {
	l.mu.Lock()
	l.remaining = n
	l.mu.Unlock()
}

// RateLimited returns how many requests were answered with 429.
func (l *rateLimiter) RateLimited() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limited
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.mu.Lock()
		limit := l.remaining > 0
		if limit {
			l.remaining--
			l.limited++
		}
		l.mu.Unlock()
		if limit {
			w.Header().Set("Retry-After", strconv.Itoa(0))
			http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
