// Package refreshworker periodically reloads map geometry so a long-running process picks
// up data source changes without a restart.
package refreshworker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reloader is satisfied by *controller.Controller.
type Reloader interface {
	Reload(ctx context.Context) error
}

type Options struct {
	Interval   time.Duration
	Timeout    time.Duration
	MaxBackoff time.Duration
}

type Worker struct {
	log        zerolog.Logger
	r          Reloader
	interval   time.Duration
	timeout    time.Duration
	maxBackoff time.Duration
}

func New(log zerolog.Logger, r Reloader, opts Options) *Worker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff < interval {
		maxBackoff = 10 * interval
	}
	return &Worker{
		log:        log.With().Str("component", "refreshworker").Logger(),
		r:          r,
		interval:   interval,
		timeout:    timeout,
		maxBackoff: maxBackoff,
	}
}

// Run reloads every interval until ctx is done. Consecutive failures back off
// exponentially up to the configured maximum.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.r == nil {
		return
	}

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := w.runOnce(ctx); err != nil {
			consecutiveFailures++
			w.log.Warn().Err(err).Int("consecutive_failures", consecutiveFailures).Msg("map refresh failed")
		} else {
			consecutiveFailures = 0
		}

		timer.Reset(backoffDuration(w.interval, consecutiveFailures, w.maxBackoff))
	}
}

func (w *Worker) runOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	if err := w.r.Reload(ctx); err != nil {
		return err
	}
	w.log.Debug().Int64("duration_ms", time.Since(start).Milliseconds()).Msg("map refreshed")
	return nil
}

func backoffDuration(base time.Duration, failures int, limit time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}

	// Exponential-ish backoff: base * 2^failures, capped.
	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > limit {
		return limit
	}
	return d
}
