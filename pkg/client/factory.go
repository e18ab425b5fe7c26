package client

import (
	"github.com/Sternrassler/intel-batch/pkg/batch"
)

// NewFactory returns an AgentFactory that creates a fresh Agent, with its own
// session, every time the engine starts a batch.
func NewFactory(cfg Config) (batch.AgentFactory, error) {
	if cfg.Endpoint == "" {
		return nil, ErrEndpointRequired
	}
	return func() (batch.Agent, error) {
		return New(cfg)
	}, nil
}
