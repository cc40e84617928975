package ai

import (
	"sync"
	"testing"
)

func TestMetrics_AddIsConcurrencySafe(t *testing.T) {
	var m Metrics
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Add(ModelMetrics{InputTokens: 2, OutputTokens: 1, TotalTokens: 3, DurationMs: 10})
		}()
	}
	wg.Wait()

	got := m.Snapshot()
	if got.Requests != 50 || got.TotalTokens != 150 || got.DurationMs != 500 {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if got.TokenPerSecond != 300 {
		t.Fatalf("unexpected tokens per second: %v", got.TokenPerSecond)
	}

	m.Reset()
	if m.Snapshot() != (ModelMetrics{}) {
		t.Fatalf("reset did not clear metrics")
	}
}
