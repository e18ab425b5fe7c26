// Package testutil provides testing utilities for the batch enrichment engine.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockIntelResponse defines the behavior for one scripted response.
type MockIntelResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockIntel is a configurable mock intelligence service for testing.
// Requests are JSON objects with a "prompt" field; by default the server
// answers 200 with a record echoing the prompt.
type MockIntel struct {
	server *httptest.Server
	mu     sync.RWMutex

	// scripted responses consumed in order per prompt
	scripts map[string][]MockIntelResponse
	// prompts that fail on every request
	broken map[string]MockIntelResponse

	// Tracking
	RequestCount      int
	PromptCounts      map[string]int
	Sessions          map[string]int
	LastRequestHeader http.Header
}

type mockRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

// NewMockIntel creates a new mock intelligence server.
func NewMockIntel() *MockIntel {
	mock := &MockIntel{
		scripts:      make(map[string][]MockIntelResponse),
		broken:       make(map[string]MockIntelResponse),
		PromptCounts: make(map[string]int),
		Sessions:     make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockIntel) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockIntel) Close() {
	m.server.Close()
}

// FailTimes makes the next n requests for prompt fail with resp before the
// default success response resumes.
func (m *MockIntel) FailTimes(prompt string, n int, resp MockIntelResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.scripts[prompt] = append(m.scripts[prompt], resp)
	}
}

// AlwaysFail makes every request for prompt fail with resp.
func (m *MockIntel) AlwaysFail(prompt string, resp MockIntelResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broken[prompt] = resp
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockIntel) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPromptCount returns the number of requests made for prompt.
func (m *MockIntel) GetPromptCount(prompt string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PromptCounts[prompt]
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockIntel) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// GetSessionCount returns the number of distinct session IDs seen.
func (m *MockIntel) GetSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Sessions)
}

func (m *MockIntel) handle(w http.ResponseWriter, r *http.Request) {
	var req mockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "bad request"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.RequestCount++
	m.PromptCounts[req.Prompt]++
	if req.SessionID != "" {
		m.Sessions[req.SessionID]++
	}
	m.LastRequestHeader = r.Header.Clone()

	var scripted *MockIntelResponse
	if resp, ok := m.broken[req.Prompt]; ok {
		scripted = &resp
	} else if queue := m.scripts[req.Prompt]; len(queue) > 0 {
		resp := queue[0]
		m.scripts[req.Prompt] = queue[1:]
		scripted = &resp
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if scripted != nil {
		if scripted.Delay > 0 {
			time.Sleep(scripted.Delay)
		}
		w.WriteHeader(scripted.StatusCode)
		if scripted.Body != "" {
			w.Write([]byte(scripted.Body))
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"prompt":  req.Prompt,
		"summary": "summary of " + req.Prompt,
	})
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockIntelResponse {
	return MockIntelResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockIntelResponse {
	return MockIntelResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
	}
}

// NewMalformedResponse creates a 200 response whose body is not a JSON object.
func NewMalformedResponse() MockIntelResponse {
	return MockIntelResponse{
		StatusCode: http.StatusOK,
		Body:       `not json`,
	}
}
