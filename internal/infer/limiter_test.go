package infer

import (
	"context"
	"testing"
	"time"

	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
)

func testInferenceConfig(provider string) model.InferenceConfig {
	return model.InferenceConfig{
		Provider: provider,
		Model:    "test-model",
		Timeout:  5 * time.Second,
	}
}

// countingProvider records call times.
type countingProvider struct {
	calls []time.Time
}

func (p *countingProvider) Name() string                          { return "counting" }
func (p *countingProvider) IsAvailable(ctx context.Context) bool  { return true }
func (p *countingProvider) Infer(ctx context.Context, req Request) (string, error) {
	p.calls = append(p.calls, time.Now())
	return "{}", nil
}

func TestNewThrottled_DisabledWhenZeroRate(t *testing.T) {
	inner := &countingProvider{}
	p := NewThrottled(inner, model.RateLimitConfig{RequestsPerSecond: 0})
	if p != Provider(inner) {
		t.Error("zero rate must return the provider unwrapped")
	}
}

func TestThrottled_DelegatesAndPreservesName(t *testing.T) {
	inner := &countingProvider{}
	p := NewThrottled(inner, model.RateLimitConfig{RequestsPerSecond: 100, Burst: 10})

	if p.Name() != "counting" {
		t.Errorf("expected wrapped name, got %s", p.Name())
	}
	out, err := p.Infer(context.Background(), Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if out != "{}" {
		t.Errorf("unexpected output %q", out)
	}
	if len(inner.calls) != 1 {
		t.Errorf("expected 1 delegated call, got %d", len(inner.calls))
	}
}

func TestThrottled_PacesCalls(t *testing.T) {
	inner := &countingProvider{}
	// 20 rps with burst 1: three calls need roughly 100ms.
	p := NewThrottled(inner, model.RateLimitConfig{RequestsPerSecond: 20, Burst: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := p.Infer(context.Background(), Request{Prompt: "x"}); err != nil {
			t.Fatalf("Infer: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("three calls at 20rps/burst 1 finished in %v, expected pacing", elapsed)
	}
}

func TestThrottled_CancelledWhileWaiting(t *testing.T) {
	inner := &countingProvider{}
	p := NewThrottled(inner, model.RateLimitConfig{RequestsPerSecond: 0.1, Burst: 1})

	// Drain the single burst token.
	if _, err := p.Infer(context.Background(), Request{Prompt: "x"}); err != nil {
		t.Fatalf("Infer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Infer(ctx, Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error when cancelled while rate limited")
	}
	if len(inner.calls) != 1 {
		t.Errorf("cancelled call must not reach the provider, got %d calls", len(inner.calls))
	}
}
