// Package pipeline runs an ordered list of agent stages. Each stage declares
// which earlier stages feed it; the runner executes stages strictly in
// order, exactly once each, and passes every stage only the outputs it
// declared.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/tripcrew/tripcrew/runtime/planner/agent"
	"github.com/tripcrew/tripcrew/runtime/planner/telemetry"
)

type (
	// Stage is one step of a pipeline.
	Stage struct {
		// Name identifies the stage and keys its output.
		Name string
		// Context names the earlier stages whose outputs this stage reads,
		// in the order they are presented to the agent.
		Context []string
		// Task is the work handed to the agent.
		Task agent.Task
		// Prepare optionally adjusts the task and inputs once the upstream
		// outputs are known.
		Prepare func(ctx context.Context, task agent.Task, inputs []agent.Output) (agent.Task, []agent.Output)
	}

	// Definition is an ordered list of stages.
	Definition struct {
		Name   string
		Stages []Stage
	}

	// Result holds stage outputs in execution order.
	Result struct {
		Order   []string
		Outputs map[string]string
	}

	// Record describes one finished stage.
	Record struct {
		Stage    string
		Output   string
		Duration time.Duration
	}

	// Option configures Run.
	Option func(*runConfig)

	// StageError reports the stage that failed.
	StageError struct {
		Stage string
		Cause error
	}

	runConfig struct {
		tel      telemetry.Set
		observer func(ctx context.Context, rec Record)
	}
)

var (
	// ErrEmptyPipeline indicates a definition without stages.
	ErrEmptyPipeline = errors.New("pipeline has no stages")
	// ErrDuplicateStage indicates two stages share a name.
	ErrDuplicateStage = errors.New("duplicate stage name")
	// ErrUnknownContext indicates a stage reads a stage that does not run
	// before it.
	ErrUnknownContext = errors.New("context refers to no earlier stage")
)

// WithTelemetry records a span and a duration metric per stage.
func WithTelemetry(tel telemetry.Set) Option {
	return func(c *runConfig) { c.tel = tel.WithDefaults() }
}

// WithObserver registers a callback invoked after each successful stage.
func WithObserver(fn func(ctx context.Context, rec Record)) Option {
	return func(c *runConfig) { c.observer = fn }
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Cause) }

// Unwrap returns the cause.
func (e *StageError) Unwrap() error { return e.Cause }

// Validate checks that stage names are unique and non empty and that every
// context reference names an earlier stage.
func (d Definition) Validate() error {
	if len(d.Stages) == 0 {
		return ErrEmptyPipeline
	}
	seen := make(map[string]struct{}, len(d.Stages))
	for _, s := range d.Stages {
		if s.Name == "" {
			return errors.New("stage name is required")
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateStage, s.Name)
		}
		for _, dep := range s.Context {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("%w: %s reads %s", ErrUnknownContext, s.Name, dep)
			}
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// Run executes the stages in order with agent a. It stops at the first
// failing stage and returns the outputs produced so far together with a
// StageError.
func (d Definition) Run(ctx context.Context, a agent.Agent, opts ...Option) (Result, error) {
	cfg := runConfig{tel: telemetry.Noop()}
	for _, o := range opts {
		o(&cfg)
	}
	res := Result{Outputs: make(map[string]string, len(d.Stages))}
	if err := d.Validate(); err != nil {
		return res, err
	}
	for _, s := range d.Stages {
		if err := ctx.Err(); err != nil {
			return res, &StageError{Stage: s.Name, Cause: err}
		}
		inputs := make([]agent.Output, 0, len(s.Context))
		for _, dep := range s.Context {
			inputs = append(inputs, agent.Output{Stage: dep, Text: res.Outputs[dep]})
		}
		task := s.Task
		if task.Name == "" {
			task.Name = s.Name
		}
		if s.Prepare != nil {
			task, inputs = s.Prepare(ctx, task, inputs)
		}

		start := time.Now()
		sctx, span := cfg.tel.Tracer.Start(ctx, "pipeline.stage")
		span.AddEvent("stage.start", "pipeline", d.Name, "stage", s.Name)
		out, err := a.Run(sctx, task, inputs)
		elapsed := time.Since(start)
		cfg.tel.Metrics.RecordTimer(telemetry.MetricStageDuration, elapsed, "stage", s.Name)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return res, &StageError{Stage: s.Name, Cause: err}
		}
		span.SetStatus(codes.Ok, "")
		span.End()

		res.Order = append(res.Order, s.Name)
		res.Outputs[s.Name] = out
		if cfg.observer != nil {
			cfg.observer(ctx, Record{Stage: s.Name, Output: out, Duration: elapsed})
		}
	}
	return res, nil
}

// Final returns the output of the last stage that ran.
func (r Result) Final() string {
	if len(r.Order) == 0 {
		return ""
	}
	return r.Outputs[r.Order[len(r.Order)-1]]
}
