package ai

import (
	"math"
	"sync"
)

// Metrics accumulates ModelMetrics across concurrent requests.
type Metrics struct {
	mu      sync.Mutex
	current ModelMetrics
}

// Add merges one request's metrics into the running totals.
func (m *Metrics) Add(delta ModelMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.InputTokens += delta.InputTokens
	m.current.OutputTokens += delta.OutputTokens
	m.current.TotalTokens += delta.TotalTokens
	m.current.DurationMs += delta.DurationMs
	m.current.Requests++

	if m.current.DurationMs > 0 {
		tokensPerSecond := (float64(m.current.TotalTokens) * 1000.0) / float64(m.current.DurationMs)
		m.current.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}

// Reset clears all accumulated metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.current = ModelMetrics{}
	m.mu.Unlock()
}

// Snapshot returns a copy of the accumulated metrics.
func (m *Metrics) Snapshot() ModelMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
