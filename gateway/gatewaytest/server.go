// Package gatewaytest provides an in-memory storage gateway for tests. It
// speaks the same /api/s3/{bucket}/{key} contract as the real gateway and
// can be told to fail, or to corrupt what it serves back.
package gatewaytest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"
)

// Request is a request the gateway received.
type Request struct {
	Method        string
	Bucket        string
	Key           string
	RequestID     string
	ContentType   string
	Authorization string
	Status        int
}

// Server is a fake gateway backed by a map.
type Server struct {
	*httptest.Server

	token string

	mu       sync.Mutex
	objects  map[string][]byte
	requests []Request
	failures map[string]*failure
	tamper   func(body []byte) []byte
}

type failure struct {
	status    int
	remaining int
}

// New starts a gateway that requires the given bearer token. An empty token
// disables authorization.
func New(token string) *Server {
	s := &Server{
		token:    token,
		objects:  make(map[string][]byte),
		failures: make(map[string]*failure),
	}
	r := mux.NewRouter()
	r.Use(s.authMiddleware)
	r.HandleFunc("/api/s3/{bucket}/{key:.+}", s.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/api/s3/{bucket}/{key:.+}", s.handleGet).Methods(http.MethodGet)
	s.Server = httptest.NewServer(r)
	return s
}

// Fail makes the next n requests with method answer status. A negative n
// fails every request.
func (s *Server) Fail(method string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = &failure{status: status, remaining: n}
}

// Tamper rewrites stored bodies as they are served.
func (s *Server) Tamper(fn func(body []byte) []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tamper = fn
}

// Object returns the stored object.
func (s *Server) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[bucket+"/"+key]
	return body, ok
}

// Put stores an object directly, bypassing the HTTP API.
func (s *Server) Put(bucket, key string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = body
}

// Len returns the number of stored objects.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) record(r *http.Request, status int) {
	vars := mux.Vars(r)
	s.requests = append(s.requests, Request{
		Method:        r.Method,
		Bucket:        vars["bucket"],
		Key:           vars["key"],
		RequestID:     r.Header.Get("X-Request-ID"),
		ContentType:   r.Header.Get("Content-Type"),
		Authorization: r.Header.Get("Authorization"),
		Status:        status,
	})
}

// injected reports a configured failure for r, if any. Callers hold s.mu.
func (s *Server) injected(r *http.Request) int {
	f, ok := s.failures[r.Method]
	if !ok || f.remaining == 0 {
		return 0
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.status
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			s.mu.Lock()
			s.record(r, http.StatusUnauthorized)
			s.mu.Unlock()
			http.Error(w, "invalid identity", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.record(r, http.StatusBadRequest)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if status := s.injected(r); status != 0 {
		s.record(r, status)
		http.Error(w, http.StatusText(status), status)
		return
	}
	vars := mux.Vars(r)
	s.objects[vars["bucket"]+"/"+vars["key"]] = body
	s.record(r, http.StatusOK)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status := s.injected(r); status != 0 {
		s.record(r, status)
		http.Error(w, http.StatusText(status), status)
		return
	}
	vars := mux.Vars(r)
	body, ok := s.objects[vars["bucket"]+"/"+vars["key"]]
	if !ok {
		s.record(r, http.StatusNotFound)
		http.Error(w, "no such key", http.StatusNotFound)
		return
	}
	if s.tamper != nil {
		body = s.tamper(append([]byte(nil), body...))
	}
	s.record(r, http.StatusOK)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
