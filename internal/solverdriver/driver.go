package solverdriver

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Driver runs the two-phase invocation spec §4.4 describes: a
// solution-limited pass to secure any feasible incumbent, then an
// unlimited-count pass for the remainder of the time budget to
// improve it.
type Driver struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker
}

// New wraps backend with a circuit breaker that opens after three
// consecutive hard Optimize failures through this Driver (a crashed or
// hung solver process, not a normal Infeasible/Unbounded status); while
// it is open, Solve fails without calling the backend.
func New(backend Backend) *Driver {
	st := gobreaker.Settings{
		Name:        "solver-optimize",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Driver{
		backend: backend,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// Result is everything the refinement loop needs after one solve.
type Result struct {
	Status    Status
	Objective float64
	RunTime   time.Duration
}

// Solve runs the two-phase invocation with the given overall time
// limit and an optional bounded improvement phase (solutionTimeLimit).
// solutionTimeLimit == 0 means "use whatever remains of timeLimit".
func (d *Driver) Solve(timeLimit, solutionTimeLimit time.Duration, threads int, mipFocus string) (Result, error) {
	start := time.Now()

	// Phase 1: any feasible solution, bounded by the overall limit.
	if err := d.backend.SetParameters(Params{
		TimeLimit:     timeLimit,
		SolutionLimit: 1,
		Threads:       threads,
		MIPFocus:      mipFocus,
	}); err != nil {
		return Result{}, err
	}
	status, err := d.optimize()
	if err != nil {
		return Result{}, err
	}
	if !status.HasSolution() {
		return Result{Status: status}, nil
	}

	// Phase 2: keep improving the incumbent for the remaining budget.
	elapsed := time.Since(start)
	remaining := timeLimit - elapsed
	if solutionTimeLimit > 0 && solutionTimeLimit < remaining {
		remaining = solutionTimeLimit
	}
	if remaining > 0 {
		if err := d.backend.SetParameters(Params{
			TimeLimit: remaining,
			Threads:   threads,
			MIPFocus:  mipFocus,
		}); err != nil {
			return Result{}, err
		}
		status, err = d.optimize()
		if err != nil {
			return Result{}, err
		}
	}

	obj, err := d.backend.ObjectiveValue()
	if err != nil {
		return Result{}, err
	}
	return Result{Status: status, Objective: obj, RunTime: d.backend.RunTime()}, nil
}

// Value reads back the primal value of a variable from the most
// recent successful Optimize call.
func (d *Driver) Value(h VarHandle) (float64, error) {
	return d.backend.Value(h)
}

func (d *Driver) optimize() (Status, error) {
	out, err := d.breaker.Execute(func() (interface{}, error) {
		status, err := d.backend.Optimize()
		if err != nil {
			return Infeasible, err
		}
		return status, nil
	})
	if err != nil {
		return Infeasible, fmt.Errorf("solverdriver: optimize: %w", err)
	}
	return out.(Status), nil
}
