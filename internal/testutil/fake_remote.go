// Package testutil holds helpers shared by package tests: a fake remote
// server that records every request and replays programmed responses.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MKhiriev/go-offline-sync/internal/config"
)

const HealthPath = "/health"

// RecordedRequest is a request observed by FakeRemote.
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// Reply is a programmed response.
type Reply struct {
	Status int
	Body   string
	Delay  time.Duration
}

// FakeRemote is an httptest server behind a chi router. Domain routes answer
// with the replies programmed through Respond, 200 "{}" otherwise. While
// offline every connection is dropped without a response.
type FakeRemote struct {
	*httptest.Server

	mu       sync.Mutex
	offline  bool
	replies  map[string][]Reply
	requests []RecordedRequest
	health   int
}

// NewFakeRemote starts a server and closes it when t finishes.
func NewFakeRemote(t *testing.T) *FakeRemote {
	t.Helper()

	f := &FakeRemote{
		replies: make(map[string][]Reply),
		health:  http.StatusOK,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(f.dropWhenOffline)
	router.Get(HealthPath, f.healthCheck)
	router.HandleFunc("/*", f.domain)

	f.Server = httptest.NewServer(router)
	t.Cleanup(f.Close)
	return f
}

// RemoteConfig returns a config pointing at the server.
func (f *FakeRemote) RemoteConfig() config.Remote {
	return config.Remote{
		BaseURL:           f.URL,
		HealthPath:        HealthPath,
		RequestTimeout:    2 * time.Second,
		MaxRequestTimeout: 5 * time.Second,
	}
}

// SetOffline toggles connection dropping.
func (f *FakeRemote) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// SetHealthStatus sets the status returned by the health route.
func (f *FakeRemote) SetHealthStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = status
}

// Respond queues replies for method and path. The last reply repeats once
// the queue is drained.
func (f *FakeRemote) Respond(method, path string, replies ...Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method+" "+path] = append(f.replies[method+" "+path], replies...)
}

// Requests returns domain requests in arrival order. Health probes are not
// recorded.
func (f *FakeRemote) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// RequestsTo returns recorded requests for path.
func (f *FakeRemote) RequestsTo(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range f.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (f *FakeRemote) dropWhenOffline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		offline := f.offline
		f.mu.Unlock()

		if !offline {
			next.ServeHTTP(w, r)
			return
		}

		hj, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
	})
}

func (f *FakeRemote) healthCheck(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	status := f.health
	f.mu.Unlock()

	w.WriteHeader(status)
}

func (f *FakeRemote) domain(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Body:    body,
	})

	reply := Reply{Status: http.StatusOK, Body: "{}"}
	key := r.Method + " " + r.URL.Path
	if queued := f.replies[key]; len(queued) > 0 {
		reply = queued[0]
		if len(queued) > 1 {
			f.replies[key] = queued[1:]
		}
	}
	f.mu.Unlock()

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	_, _ = io.WriteString(w, reply.Body)
}
