// Package sweep is the safety net for triggers that never arrived: each
// invocation executes due pending intents in availability order until the
// invocation budget runs out.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/example/box-scheduler/internal/config"
	"github.com/example/box-scheduler/internal/executor"
	"github.com/example/box-scheduler/internal/metrics"
	"github.com/example/box-scheduler/internal/prebooking"
)

type DueStore interface {
	DuePending(ctx context.Context, until time.Time, limit int) ([]prebooking.Intent, error)
	CountDuePending(ctx context.Context, until time.Time) (int, error)
}

type Runner interface {
	ExecuteIntent(ctx context.Context, i prebooking.Intent, src prebooking.Source) (executor.Result, error)
}

// Options are the per-invocation knobs the cron endpoint may override.
type Options struct {
	BatchSize int
	Lookahead time.Duration
}

type Item struct {
	ID      string            `json:"id"`
	Status  prebooking.Status `json:"status"`
	Success bool              `json:"success"`
	Message string            `json:"message"`
}

type Report struct {
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Remaining int    `json:"remaining"`
	Items     []Item `json:"items"`
}

type Sweeper struct {
	Store     DueStore
	Exec      Runner
	Timing    config.Timing
	BatchSize int
	Stagger   time.Duration
	Interval  time.Duration
	Now       func() time.Time
}

func New(store DueStore, exec Runner, cfg config.Config) *Sweeper {
	return &Sweeper{
		Store:     store,
		Exec:      exec,
		Timing:    cfg.Timing,
		BatchSize: cfg.SweepBatchSize,
		Stagger:   cfg.SweepStagger,
		Interval:  cfg.SweepInterval,
		Now:       time.Now,
	}
}

// itemEstimate is the worst case one item needs: a token refresh and a fire.
func (s *Sweeper) itemEstimate() time.Duration {
	return s.Timing.RefreshEstimate + s.Timing.FireEstimate
}

// Run is one sweep invocation.
func (s *Sweeper) Run(ctx context.Context, opt Options) (Report, error) {
	start := s.Now()
	deadline := start.Add(s.Timing.InvocationBudget - s.Timing.SafetyMargin)
	ctx, cancel := context.WithTimeout(ctx, s.Timing.InvocationBudget)
	defer cancel()
	if opt.BatchSize <= 0 {
		opt.BatchSize = s.BatchSize
	}
	if opt.Lookahead < 0 {
		opt.Lookahead = 0
	}
	until := start.Add(opt.Lookahead)

	due, err := s.Store.DuePending(ctx, until, opt.BatchSize)
	if err != nil {
		return Report{}, fmt.Errorf("load due prebookings: %w", err)
	}
	metrics.SweepBatch.Observe(float64(len(due)))

	limit := rate.Inf
	if s.Stagger > 0 {
		limit = rate.Every(s.Stagger)
	}
	lim := rate.NewLimiter(limit, 1)

	items := make([]Item, 0, len(due))
	var mu sync.Mutex
	var g errgroup.Group
	for _, i := range due {
		i := i // per-iteration copy (go 1.21 loop semantics)
		if left := deadline.Sub(s.Now()); left < s.itemEstimate() {
			log.Warn().Dur("left", left).Msg("sweep budget exhausted, leaving the rest for the next cycle")
			break
		}
		if err := lim.Wait(ctx); err != nil {
			break
		}
		mu.Lock()
		idx := len(items)
		items = append(items, Item{ID: i.ID, Status: i.Status})
		mu.Unlock()

		g.Go(func() error {
			res, err := s.Exec.ExecuteIntent(ctx, i, prebooking.SourceSweep)
			it := Item{ID: i.ID, Status: res.Status, Success: err == nil && res.Success, Message: res.Message}
			if err != nil && it.Message == "" {
				it.Message = err.Error()
			}
			mu.Lock()
			items[idx] = it
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Processed: len(items), Items: items}
	for _, it := range items {
		switch {
		case it.Success:
			rep.Succeeded++
		case it.Status == prebooking.StatusFailed:
			rep.Failed++
		default:
			rep.Skipped++
		}
	}
	if rep.Remaining, err = s.Store.CountDuePending(context.WithoutCancel(ctx), until); err != nil {
		log.Warn().Err(err).Msg("count remaining due prebookings")
	}
	metrics.SweepRemaining.Set(float64(rep.Remaining))
	log.Info().Int("processed", rep.Processed).Int("succeeded", rep.Succeeded).Int("failed", rep.Failed).
		Int("skipped", rep.Skipped).Int("remaining", rep.Remaining).Dur("took", s.Now().Sub(start)).Msg("sweep finished")
	return rep, nil
}

// Loop runs a sweep every Interval until ctx is done. Ticks are independent
// invocations; a slow sweep delays the next tick instead of overlapping it.
func (s *Sweeper) Loop(ctx context.Context) error {
	if s.Interval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	for {
		if _, err := s.Run(ctx, Options{}); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
