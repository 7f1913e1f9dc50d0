// Package inference defines the contract with the external segmentation
// engine and the boundary that shields the rest of the pipeline from it.
// The engine is an opaque collaborator: it may be slow, may fail, may
// return nothing, and may give different output across calls. Everything
// it produces is validated here and engine failures are degraded to an
// empty probability field with a warning, never a crash.
package inference

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"lsmeasure/pkg/volume"
)

// Engine maps a preprocessed volume to a per-voxel probability (or
// binary label) field of identical length. Implementations may block;
// callers issue at most one inference per session at a time.
type Engine interface {
	Infer(ctx context.Context, vol *volume.Volume) ([]float64, error)
}

// EngineFunc adapts a plain function to the Engine interface.
type EngineFunc func(ctx context.Context, vol *volume.Volume) ([]float64, error)

// Infer implements Engine.
func (f EngineFunc) Infer(ctx context.Context, vol *volume.Volume) ([]float64, error) {
	return f(ctx, vol)
}

// Runner issues inference calls asynchronously so the correction session
// stays responsive, keeping at most one call in flight. Starting a new
// call abandons the previous one and its eventual result is discarded.
type Runner struct {
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRunner creates a Runner that reports boundary warnings to logger.
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Start launches an inference call and returns a channel that delivers
// exactly one probability field. Any engine failure mode (error return,
// panic, malformed shape, cancellation) is mapped to an all-zero field
// so downstream stages see "no detected vertebrae" rather than an error.
func (r *Runner) Start(ctx context.Context, eng Engine, vol *volume.Volume) <-chan []float64 {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	callCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	out := make(chan []float64, 1)
	go func() {
		defer cancel()
		out <- r.invoke(callCtx, eng, vol)
		close(out)
	}()
	return out
}

// Cancel abandons the in-flight inference call, if any. The call's
// channel still delivers a (zeroed) result.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// invoke runs the engine under a recover barrier and validates its
// output shape.
func (r *Runner) invoke(ctx context.Context, eng Engine, vol *volume.Volume) (probs []float64) {
	empty := make([]float64, vol.NumVoxels())

	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn().Interface("panic", p).Msg("inference engine panicked; using empty mask")
			probs = empty
		}
	}()

	result, err := eng.Infer(ctx, vol)
	if ctx.Err() != nil {
		r.logger.Warn().Msg("inference cancelled; discarding result")
		return empty
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("inference failed; using empty mask")
		return empty
	}
	if len(result) != vol.NumVoxels() {
		r.logger.Warn().
			Int("got", len(result)).
			Int("want", vol.NumVoxels()).
			Msg("inference output shape mismatch; using empty mask")
		return empty
	}
	for _, p := range result {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			r.logger.Warn().Msg("inference output contains non-finite values; using empty mask")
			return empty
		}
	}
	return result
}
