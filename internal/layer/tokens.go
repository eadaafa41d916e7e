package layer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"

	"coap-gateway/internal/metrics"
)

const maxTokenAttempts = 8

var errTokenExhausted = errors.New("no unique token available")

// TokenSource hands out CoAP tokens that are unique among pending exchanges.
type TokenSource struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	generate func() (message.Token, error)
	metrics  *metrics.Metrics
}

// NewTokenSource returns a TokenSource generating random 8-byte tokens.
func NewTokenSource(m *metrics.Metrics) *TokenSource {
	return &TokenSource{
		inFlight: make(map[string]struct{}),
		generate: message.GetToken,
		metrics:  m,
	}
}

// Acquire returns a token not held by any other pending exchange.
// The caller must Release it once the exchange is over.
func (s *TokenSource) Acquire() (message.Token, error) {
	for range maxTokenAttempts {
		tok, err := s.generate()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}

		s.mu.Lock()
		if _, taken := s.inFlight[string(tok)]; !taken {
			s.inFlight[string(tok)] = struct{}{}
			s.setGauge()
			s.mu.Unlock()
			return tok, nil
		}
		s.mu.Unlock()
	}
	return nil, errTokenExhausted
}

// Release makes tok available again.
func (s *TokenSource) Release(tok message.Token) {
	s.mu.Lock()
	delete(s.inFlight, string(tok))
	s.setGauge()
	s.mu.Unlock()
}

// InFlight returns the number of tokens currently held.
func (s *TokenSource) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// setGauge must be called with mu held.
func (s *TokenSource) setGauge() {
	if s.metrics != nil {
		s.metrics.TokensInFlight.Set(float64(len(s.inFlight)))
	}
}
