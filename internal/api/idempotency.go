package api

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
)

const idempotencyTTL = 24 * time.Hour

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
	inFlight    bool
	expires     time.Time
}

// Idempotency replays the stored response for a POST that repeats an
// Idempotency-Key on the same path. Server errors are not stored so the
// caller may retry them.
type Idempotency struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*cachedResponse
}

func NewIdempotency(ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = idempotencyTTL
	}
	return &Idempotency{ttl: ttl, now: time.Now, entries: make(map[string]*cachedResponse)}
}

func (c *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if r.Method != http.MethodPost || header == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.URL.Path + "|" + header

		c.mu.Lock()
		if e, ok := c.entries[key]; ok && c.now().Before(e.expires) {
			c.mu.Unlock()
			if e.inFlight {
				writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
				return
			}
			w.Header().Set("Content-Type", e.contentType)
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(e.status)
			_, _ = w.Write(e.body)
			return
		}
		c.entries[key] = &cachedResponse{inFlight: true, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		done := false
		defer func() {
			// A panicking handler must not leave the key stuck in flight.
			if !done {
				c.mu.Lock()
				delete(c.entries, key)
				c.mu.Unlock()
			}
		}()
		next.ServeHTTP(rec, r)
		done = true

		c.mu.Lock()
		defer c.mu.Unlock()
		if rec.status >= http.StatusInternalServerError {
			delete(c.entries, key)
			return
		}
		c.entries[key] = &cachedResponse{
			status:      rec.status,
			contentType: rec.Header().Get("Content-Type"),
			body:        rec.buf.Bytes(),
			expires:     c.now().Add(c.ttl),
		}
	})
}

func (c *Idempotency) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}

func (c *Idempotency) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}
