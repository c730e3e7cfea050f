package telemetry

import (
	"context"
	"time"

	"conductor/internal/llmdriver"
)

// instrumentedProvider wraps an llmdriver.Provider so every completion is
// recorded on the collector, without agentrunner or the orchestrator having
// to know metrics exist.
type instrumentedProvider struct {
	inner     llmdriver.Provider
	collector *Collector
}

// InstrumentProvider decorates provider with metrics recording. Returns
// provider unchanged if collector is nil or disabled.
func InstrumentProvider(provider llmdriver.Provider, collector *Collector) llmdriver.Provider {
	if collector == nil || !collector.enabled {
		return provider
	}
	return &instrumentedProvider{inner: provider, collector: collector}
}

func (p *instrumentedProvider) Complete(ctx context.Context, req llmdriver.Request) (*llmdriver.Response, error) {
	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	status := "completed"
	if err != nil {
		status = "error"
	}

	var inputTokens, outputTokens int
	if resp != nil {
		inputTokens, outputTokens = resp.InputTokens, resp.OutputTokens
	}
	cost := EstimateCost(req.Model, inputTokens, outputTokens)
	p.collector.RecordLLMRequest(ctx, req.Model, status, time.Since(start), inputTokens, outputTokens, cost)

	return resp, err
}
