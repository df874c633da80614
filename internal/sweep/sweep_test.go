package sweep

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/box-scheduler/internal/config"
	"github.com/example/box-scheduler/internal/executor"
	"github.com/example/box-scheduler/internal/prebooking"
)

type fakeStore struct {
	due       []prebooking.Intent
	until     time.Time
	limit     int
	remaining int
}

func (f *fakeStore) DuePending(ctx context.Context, until time.Time, limit int) ([]prebooking.Intent, error) {
	f.until, f.limit = until, limit
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStore) CountDuePending(ctx context.Context, until time.Time) (int, error) {
	return f.remaining, nil
}

type fakeRunner struct {
	mu      sync.Mutex
	started []string
	results map[string]error
}

func (f *fakeRunner) ExecuteIntent(ctx context.Context, i prebooking.Intent, src prebooking.Source) (executor.Result, error) {
	f.mu.Lock()
	f.started = append(f.started, i.ID)
	f.mu.Unlock()
	if src != prebooking.SourceSweep {
		panic("sweep must execute as sweep")
	}
	switch err := f.results[i.ID]; {
	case err == nil:
		return executor.Result{PrebookingID: i.ID, Status: prebooking.StatusConfirmed, Success: true, Message: "booked"}, nil
	case err == executor.ErrDuplicate:
		return executor.Result{PrebookingID: i.ID, Status: prebooking.StatusPending, Message: "claimed by another invocation"}, err
	default:
		return executor.Result{PrebookingID: i.ID, Status: prebooking.StatusFailed, Message: "No quedan plazas"}, err
	}
}

type runnerFunc func(ctx context.Context, i prebooking.Intent)

func (f runnerFunc) ExecuteIntent(ctx context.Context, i prebooking.Intent, src prebooking.Source) (executor.Result, error) {
	f(ctx, i)
	return executor.Result{PrebookingID: i.ID, Status: prebooking.StatusConfirmed, Success: true}, nil
}

var start = time.Date(2026, 10, 17, 7, 0, 30, 0, time.UTC)

func due(ids ...string) []prebooking.Intent {
	out := make([]prebooking.Intent, len(ids))
	for n, id := range ids {
		out[n] = prebooking.Intent{ID: id, Status: prebooking.StatusPending, AvailableAt: start.Add(time.Duration(n-len(ids)) * time.Second)}
	}
	return out
}

func newSweeper(store DueStore, run Runner) *Sweeper {
	return &Sweeper{
		Store: store, Exec: run, Timing: config.DefaultTiming(),
		BatchSize: 50, Stagger: time.Millisecond, Now: func() time.Time { return start },
	}
}

func TestRun_FIFOAndReport(t *testing.T) {
	store := &fakeStore{due: due("t1", "t2", "t3")}
	run := &fakeRunner{results: map[string]error{
		"t2": &executor.Error{Kind: executor.KindRejection, Message: "No quedan plazas"},
		"t3": executor.ErrDuplicate,
	}}

	s := newSweeper(store, run)
	s.Stagger = 25 * time.Millisecond

	rep, err := s.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"t1", "t2", "t3"}, run.started, "fired oldest first")
	require.Len(t, rep.Items, 3)
	assert.Equal(t, []string{"t1", "t2", "t3"}, []string{rep.Items[0].ID, rep.Items[1].ID, rep.Items[2].ID})
	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Skipped)
	assert.True(t, rep.Items[0].Success)
	assert.Equal(t, "No quedan plazas", rep.Items[1].Message)
	assert.Equal(t, start, store.until, "default lookahead is zero")
	assert.Equal(t, 50, store.limit)
}

func TestRun_OptionsOverride(t *testing.T) {
	store := &fakeStore{due: due("a", "b", "c"), remaining: 1}
	rep, err := newSweeper(store, &fakeRunner{}).Run(context.Background(), Options{BatchSize: 2, Lookahead: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 1, rep.Remaining)
	assert.Equal(t, start.Add(10*time.Second), store.until)
}

func TestRun_StopsWhenBudgetRunsOut(t *testing.T) {
	store := &fakeStore{due: due("a", "b", "c", "d"), remaining: 2}
	run := &fakeRunner{}
	s := newSweeper(store, run)
	var calls atomic.Int64
	// every clock read is 20s later than the previous one
	s.Now = func() time.Time { return start.Add(time.Duration(calls.Add(1)-1) * 20 * time.Second) }

	rep, err := s.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 2, rep.Remaining)
	assert.ElementsMatch(t, []string{"a", "b"}, run.started)
}

func TestRun_BoundsItemsByInvocationBudget(t *testing.T) {
	store := &fakeStore{due: due("a")}
	var deadline time.Time
	run := runnerFunc(func(ctx context.Context, i prebooking.Intent) {
		deadline, _ = ctx.Deadline()
	})
	s := newSweeper(store, run)

	before := time.Now()
	_, err := s.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.False(t, deadline.IsZero(), "items run under the sweep's deadline")
	assert.WithinDuration(t, before.Add(s.Timing.InvocationBudget), deadline, 5*time.Second)
}

func TestRun_Empty(t *testing.T) {
	rep, err := newSweeper(&fakeStore{}, &fakeRunner{}).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, rep.Processed)
	assert.Empty(t, rep.Items)
}

func TestLoop_StopsOnCancel(t *testing.T) {
	s := newSweeper(&fakeStore{}, &fakeRunner{})
	s.Interval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Loop(ctx), context.DeadlineExceeded)
}
