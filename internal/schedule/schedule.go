// Package schedule implements the concurrent unit scheduler of spec §4.H:
// a job-token-semaphore-bounded worker pool that walks a unitgraph.Graph in
// dependency order, dispatching each Unit once every unit it depends on has
// finished successfully.
//
// Grounded on internal/batch/batch.go's scheduler (worker goroutines
// pulling from a work channel, an errgroup.Group, canBuild/markFailed
// cascading-failure bookkeeping, and a terminal status line refreshed under
// isTerminal), generalized from one node per package built via a fixed
// `distri build` subprocess to one node per unitgraph.Unit dispatched
// through a caller-supplied Executor, and from a fixed worker-goroutine
// count to a job-token semaphore (golang.org/x/sync/semaphore) that can
// optionally be backed by an externally inherited jobserver (jobserver.go).
package schedule

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/distr1/forge/internal/unitgraph"
)

// Status is a Unit's position in the spec §4.H lifecycle:
// Pending -> Waiting(token) -> Running -> Finished(Ok|Err).
type Status int

const (
	Pending Status = iota
	Waiting
	Running
	FinishedOk
	FinishedErr
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case FinishedOk:
		return "finished(ok)"
	case FinishedErr:
		return "finished(err)"
	default:
		return "unknown"
	}
}

// Executor runs one unit to completion. Implementations dispatch to either
// a compiler subprocess invocation or, for ModeRunCustomBuild units, the
// build-script coordinator (package internal/buildscript).
type Executor func(ctx context.Context, u *unitgraph.Unit) error

// StatusFunc, if set, is called on every status transition a unit makes;
// used to drive a status line the way batch.go's updateStatus does.
type StatusFunc func(u *unitgraph.Unit, status Status)

// Outcome is the scheduler's aggregate result.
type Outcome struct {
	Results           map[*unitgraph.Unit]error // nil error = succeeded
	Succeeded, Failed int
}

// Scheduler runs a unitgraph.Graph to completion under a bounded TokenPool.
type Scheduler struct {
	Graph    *unitgraph.Graph
	Exec     Executor
	Tokens   TokenPool
	OnStatus StatusFunc
}

// New builds a Scheduler backed by a process-local semaphore sized to
// jobs. Callers wanting an inherited jobserver instead should set
// Scheduler.Tokens to the result of NewJobserverPool after construction.
func New(g *unitgraph.Graph, exec Executor, jobs int) *Scheduler {
	return &Scheduler{Graph: g, Exec: exec, Tokens: NewSemaphorePool(jobs)}
}

func (s *Scheduler) setStatus(u *unitgraph.Unit, st Status) {
	if s.OnStatus != nil {
		s.OnStatus(u, st)
	}
}

// Run dispatches every unit in s.Graph, never starting a unit before all of
// its dependencies are Finished(Ok), and never running more units
// concurrently than the token pool allows. On the first Finished(Err), new
// dispatches are suppressed and every transitive dependent is recorded as
// failed without running; units already in flight are allowed to complete.
// Run returns once every unit has reached a terminal state, with an
// aggregate error naming the first unit that failed (spec §4.H
// cancellation semantics).
func (s *Scheduler) Run(ctx context.Context) (*Outcome, error) {
	units := s.Graph.Units()

	dependents := make(map[*unitgraph.Unit][]*unitgraph.Unit, len(units))
	remaining := make(map[*unitgraph.Unit]int, len(units))
	for _, u := range units {
		deps := s.Graph.Deps(u)
		remaining[u] = len(deps)
		for _, d := range deps {
			dependents[d.Unit] = append(dependents[d.Unit], u)
		}
	}

	var (
		mu       sync.Mutex
		results  = make(map[*unitgraph.Unit]error, len(units))
		failed   bool
		firstErr error
	)

	eg, runCtx := errgroup.WithContext(ctx)

	var dispatch func(u *unitgraph.Unit)
	var finish func(u *unitgraph.Unit, err error)

	dispatch = func(u *unitgraph.Unit) {
		mu.Lock()
		skip := failed
		mu.Unlock()
		if skip {
			finish(u, fmt.Errorf("schedule: skipped after earlier failure"))
			return
		}
		s.setStatus(u, Waiting)
		eg.Go(func() error {
			if err := s.Tokens.Acquire(runCtx); err != nil {
				finish(u, err)
				return nil
			}
			defer s.Tokens.Release()
			s.setStatus(u, Running)
			err := s.Exec(runCtx, u)
			finish(u, err)
			return nil
		})
	}

	finish = func(u *unitgraph.Unit, err error) {
		mu.Lock()
		if _, already := results[u]; already {
			mu.Unlock()
			return
		}
		results[u] = err

		var toDispatch []*unitgraph.Unit
		if err != nil {
			s.setStatus(u, FinishedErr)
			if !failed {
				failed = true
				firstErr = xerrors.Errorf("unit %s: %w", u.DisplayName(), err)
			}
			cascadeFailed(u, dependents, results, s.OnStatus)
		} else {
			s.setStatus(u, FinishedOk)
			for _, dep := range dependents[u] {
				if _, done := results[dep]; done {
					continue
				}
				remaining[dep]--
				if remaining[dep] == 0 {
					toDispatch = append(toDispatch, dep)
				}
			}
		}
		mu.Unlock()

		for _, dep := range toDispatch {
			dispatch(dep)
		}
	}

	for _, u := range units {
		if remaining[u] == 0 {
			dispatch(u)
		}
	}

	// eg.Wait returns once every dispatched goroutine (including ones
	// dispatch() spawns from inside a currently-running member goroutine's
	// finish() callback) has completed; cascaded failures never spawn a
	// goroutine, so they cost nothing beyond the map write above.
	if err := eg.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	out := &Outcome{Results: results, Succeeded: succeeded, Failed: len(results) - succeeded}
	return out, firstErr
}

// cascadeFailed marks every not-yet-terminal transitive dependent of a
// failed unit as failed without dispatching it, the same propagation
// internal/batch/batch.go's markFailed performs over its job graph. Caller
// holds mu.
func cascadeFailed(
	u *unitgraph.Unit,
	dependents map[*unitgraph.Unit][]*unitgraph.Unit,
	results map[*unitgraph.Unit]error,
	onStatus StatusFunc,
) {
	for _, dep := range dependents[u] {
		if _, done := results[dep]; done {
			continue
		}
		results[dep] = fmt.Errorf("schedule: dependency %s did not succeed", u.DisplayName())
		if onStatus != nil {
			onStatus(dep, FinishedErr)
		}
		cascadeFailed(dep, dependents, results, onStatus)
	}
}
