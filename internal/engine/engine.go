// Package engine drives a run: the Model steps the population one time slot
// at a time, the Engine loops over slots and fires callbacks, and the
// Controller spreads a slot across worker partitions.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Engine advances time until MaxSteps is reached or Stop is called.
type Engine struct {
	Time        uint64 // Last completed slot
	MaxSteps    uint64
	ReportEvery uint64 // 0 disables OnReport

	running atomic.Bool
	stopped atomic.Bool

	// OnStep runs every slot and must advance the model to t.
	OnStep func(ctx context.Context, t uint64) error
	// OnReport runs every ReportEvery slots and after the final slot.
	OnReport func(t uint64) error
}

// NewEngine creates an engine that stops after maxSteps slots.
func NewEngine(maxSteps uint64) *Engine {
	return &Engine{MaxSteps: maxSteps}
}

// Run blocks until the engine finishes, is stopped, the context is cancelled,
// or a callback fails. Stop and cancellation are checked between slots only.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "time", e.Time, "max_steps", e.MaxSteps)

	for e.Time < e.MaxSteps {
		if e.stopped.Load() {
			break
		}
		if err := ctx.Err(); err != nil {
			slog.Info("simulation engine cancelled", "time", e.Time)
			return err
		}
		if err := e.step(ctx); err != nil {
			return err
		}
	}

	if e.OnReport != nil && e.ReportEvery != 0 && e.Time%e.ReportEvery != 0 {
		if err := e.OnReport(e.Time); err != nil {
			return err
		}
	}
	slog.Info("simulation engine stopped", "time", e.Time)
	return nil
}

// Stop asks Run to return after the current slot. It may be called before
// Run starts, in which case Run returns without stepping. A stopped engine
// stays stopped.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

// Running reports whether Run is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

func (e *Engine) step(ctx context.Context) error {
	t := e.Time + 1
	if e.OnStep != nil {
		if err := e.OnStep(ctx, t); err != nil {
			return err
		}
	}
	e.Time = t

	if e.ReportEvery != 0 && t%e.ReportEvery == 0 && e.OnReport != nil {
		if err := e.OnReport(t); err != nil {
			return err
		}
	}
	return nil
}
