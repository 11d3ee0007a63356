// Package pipeline drives the six-step audit of a report against its image:
// a step executor that renders, infers and validates each call, and an
// orchestrator that sequences the steps as a state machine.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/carmmmm/RadiologyTrustLayer/internal/infer"
	"github.com/carmmmm/RadiologyTrustLayer/internal/prompt"
	"github.com/carmmmm/RadiologyTrustLayer/internal/schema"
)

// StepResult is the outcome of one executed pipeline step.
type StepResult struct {
	Data     map[string]any
	RawText  string
	Repaired bool
	Duration time.Duration
}

// StepExecutor runs one pipeline step: render a prompt, call the inference
// capability, validate or repair the output. It holds no per-case state; the
// orchestrator decides how results are folded in.
type StepExecutor struct {
	provider  infer.Provider
	templates *prompt.Registry
	version   string
	maxTokens int
	logger    *zap.Logger
}

// NewStepExecutor creates a step executor bound to a template version.
func NewStepExecutor(provider infer.Provider, templates *prompt.Registry, version string, maxTokens int, logger *zap.Logger) *StepExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepExecutor{
		provider:  provider,
		templates: templates,
		version:   version,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Run executes one step. An inference failure is retried once; output that
// fails validation after repair triggers one retry with a stricter
// compliance suffix. Template errors are configuration errors and are never
// retried.
func (e *StepExecutor) Run(ctx context.Context, stepName string, vars map[string]string, sch *schema.Schema, image []byte) (*StepResult, error) {
	start := time.Now()

	tmpl, err := e.templates.Get(e.version, stepName)
	if err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]string{}
	}
	vars["schema"] = sch.Describe()

	rendered, err := tmpl.Render(vars)
	if err != nil {
		return nil, err
	}

	raw, err := e.infer(ctx, rendered, image)
	if err != nil {
		return nil, err
	}

	data, repaired, verr := schema.ValidateOrRepair(raw, sch)
	if verr != nil {
		var schemaErr *schema.Error
		if !errors.As(verr, &schemaErr) {
			return nil, verr
		}
		e.logger.Warn("step output failed validation, retrying with strict prompt",
			zap.String("step", stepName), zap.String("detail", schemaErr.Detail))

		raw, err = e.infer(ctx, rendered+prompt.StrictSuffix, image)
		if err != nil {
			return nil, err
		}
		data, repaired, verr = schema.ValidateOrRepair(raw, sch)
		if verr != nil {
			return nil, verr
		}
	}

	return &StepResult{
		Data:     data,
		RawText:  raw,
		Repaired: repaired,
		Duration: time.Since(start),
	}, nil
}

// infer calls the capability, retrying once on an inference failure. An
// in-flight call runs to completion or its own timeout; only the retry
// honors prior cancellation.
func (e *StepExecutor) infer(ctx context.Context, renderedPrompt string, image []byte) (string, error) {
	req := infer.Request{Prompt: renderedPrompt, Image: image, MaxTokens: e.maxTokens}

	raw, err := e.provider.Infer(ctx, req)
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return "", err
	}

	e.logger.Warn("inference call failed, retrying once", zap.Error(err))
	return e.provider.Infer(ctx, req)
}
