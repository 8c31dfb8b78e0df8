// Package mockserper implements a minimal in-process places search API for
// tests: scripted result pages per search term, failure injection, and
// API-key enforcement.
package mockserper

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// Page is one page of scripted place results.
type Page []map[string]any

// Request records one search call made to the server.
type Request struct {
	Term     string
	Location string
	Page     int
	APIKey   string
}

type failSpec struct {
	status    int
	remaining int // -1 means every attempt
}

// Server serves POST /places with scripted responses.
type Server struct {
	mu       sync.Mutex
	apiKey   string
	scripts  map[string][]Page
	failures map[string]map[int]*failSpec
	requests []Request
}

func New() *Server {
	return &Server{
		scripts:  make(map[string][]Page),
		failures: make(map[string]map[int]*failSpec),
	}
}

// RequireAPIKey makes the server reject requests whose X-API-KEY header does
// not match key. Empty key disables the check.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
}

// Script sets the result pages for a search term. Requests for pages past the
// script get an empty page, which is the API's end-of-results signal.
func (s *Server) Script(term string, pages ...Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[term] = pages
}

// FailPage makes the given page of a term respond with an HTTP status for the
// next `times` attempts. times < 0 fails every attempt.
func (s *Server) FailPage(term string, page, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[term] == nil {
		s.failures[term] = make(map[int]*failSpec)
	}
	s.failures[term][page] = &failSpec{status: status, remaining: times}
}

// Requests returns a snapshot of all search calls seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Handler returns an http.Handler serving the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/places", s.handlePlaces)
	return mux
}

func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Q        string `json:"q"`
		Location string `json:"location"`
		Page     int    `json:"page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	page := body.Page
	if page == 0 {
		page = 1
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Term:     body.Q,
		Location: body.Location,
		Page:     page,
		APIKey:   r.Header.Get("X-API-KEY"),
	})

	if s.apiKey != "" && r.Header.Get("X-API-KEY") != s.apiKey {
		s.mu.Unlock()
		http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if f := s.failures[body.Q][page]; f != nil && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
		}
		status := f.status
		s.mu.Unlock()
		http.Error(w, `{"message":"injected failure"}`, status)
		return
	}

	pages := s.scripts[body.Q]
	s.mu.Unlock()

	var places Page
	if page <= len(pages) {
		places = pages[page-1]
	}
	if places == nil {
		places = Page{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"places": places})
}
