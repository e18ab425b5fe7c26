// Package client provides the HTTP intelligence-call collaborator: an Agent
// that sends one prompt to the enrichment service and decodes the structured
// record it answers with.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/intel-batch/pkg/work"
)

// Prometheus metrics for intelligence calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intel_requests_total",
		Help: "Total intelligence requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "intel_request_duration_seconds",
		Help:    "Intelligence request duration in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intel_errors_total",
		Help: "Total intelligence call errors by class",
	}, []string{"class"})
)

// maxErrorBody bounds how much of an error response is kept in CallError.
const maxErrorBody = 512

// Config holds the agent configuration.
type Config struct {
	// Endpoint receives a POST with {"prompt": ..., "session_id": ...}.
	Endpoint string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// UserAgent header value.
	UserAgent string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// HTTPClient overrides the default client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration with safe defaults.
func DefaultConfig(endpoint, apiKey string) Config {
	return Config{
		Endpoint:  endpoint,
		APIKey:    apiKey,
		UserAgent: "intel-batch/0.1.0",
		Timeout:   100 * time.Second,
	}
}

// Agent calls the intelligence service for one item at a time.
//
// An Agent carries a session ID and a call counter that are not guarded.
// It is not safe for concurrent use: create one per worker.
type Agent struct {
	httpClient *http.Client
	config     Config
	sessionID  string
	calls      int
	logger     zerolog.Logger
}

// New creates a new Agent with a fresh session.
func New(cfg Config) (*Agent, error) {
	if cfg.Endpoint == "" {
		return nil, ErrEndpointRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	sessionID := uuid.NewString()

	return &Agent{
		httpClient: httpClient,
		config:     cfg,
		sessionID:  sessionID,
		logger: log.With().
			Str("component", "intel-client").
			Str("session_id", sessionID).
			Logger(),
	}, nil
}

// SessionID returns the agent's session identifier.
func (a *Agent) SessionID() string {
	return a.sessionID
}

// Calls returns how many requests this agent has sent.
func (a *Agent) Calls() int {
	return a.calls
}

type runRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

// Run sends the item's prompt and returns the decoded record.
func (a *Agent) Run(ctx context.Context, item work.Item) (work.Record, error) {
	if item.Prompt == "" {
		return nil, ErrEmptyPrompt
	}

	payload, err := json.Marshal(runRequest{Prompt: item.Prompt, SessionID: a.sessionID})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.config.UserAgent != "" {
		req.Header.Set("User-Agent", a.config.UserAgent)
	}
	if a.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}

	a.calls++
	start := time.Now()
	resp, err := a.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &CallError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		a.logger.Debug().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Intelligence request error")

		return nil, &CallError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    string(bytes.TrimSpace(body)),
		}
	}

	var record work.Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &CallError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Message:    "response is not a JSON object",
			Err:        err,
		}
	}
	if record == nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &CallError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Message:    "empty response",
		}
	}

	return record, nil
}
