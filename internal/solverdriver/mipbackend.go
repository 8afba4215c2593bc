package solverdriver

import (
	"fmt"
	"math"
	"time"

	"github.com/nextmv-io/sdk/mip"
)

// MIPBackend adapts github.com/nextmv-io/sdk/mip to the Backend
// interface, the same primitives the order-fulfillment template uses
// (m.NewBool/m.NewFloat/m.NewConstraint/.NewTerm), generalized to also
// cover bounded integer variables and a provider-selectable solver.
type MIPBackend struct {
	provider      string
	model         mip.Model
	vars          []mip.Variable
	solver        mip.Solver
	solution      mip.Solution
	pendingParams Params
}

// NewMIPBackend constructs a backend that will solve with the named
// provider (e.g. "highs"), mirroring mip.NewSolver("highs", m) in the
// teacher template.
func NewMIPBackend(provider string) *MIPBackend {
	return &MIPBackend{
		provider: provider,
		model:    mip.NewModel(),
	}
}

func (b *MIPBackend) AddVariable(spec VarSpec) (VarHandle, error) {
	var v mip.Variable
	switch spec.Kind {
	case Integer:
		// mip.Model.NewInt takes int64 bounds, unlike NewFloat's
		// float64 ones; every Integer VarSpec in this system (truck
		// counts) carries whole-number bounds already, so round
		// defensively rather than truncate.
		v = b.model.NewInt(int64(math.Round(spec.Lb)), int64(math.Round(spec.Ub)))
	case Continuous:
		v = b.model.NewFloat(spec.Lb, spec.Ub)
	default:
		return 0, fmt.Errorf("solverdriver: unknown variable kind %v", spec.Kind)
	}
	if spec.Obj != 0 {
		b.model.Objective().NewTerm(spec.Obj, v)
	}
	if spec.Start != nil {
		if setter, ok := v.(interface{ SetInitialValue(float64) error }); ok {
			if err := setter.SetInitialValue(*spec.Start); err != nil {
				return 0, fmt.Errorf("solverdriver: setting warm start for %q: %w", spec.Name, err)
			}
		}
	}
	handle := VarHandle(len(b.vars))
	b.vars = append(b.vars, v)
	return handle, nil
}

func (b *MIPBackend) AddConstraint(sense Sense, rhs float64, terms []Term) error {
	mipSense, err := toMIPSense(sense)
	if err != nil {
		return err
	}
	c := b.model.NewConstraint(mipSense, rhs)
	for _, t := range terms {
		c.NewTerm(t.Coefficient, b.vars[t.Variable])
	}
	return nil
}

func toMIPSense(s Sense) (mip.Sense, error) {
	switch s {
	case LessThanOrEqual:
		return mip.LessThanOrEqual, nil
	case Equal:
		return mip.Equal, nil
	case GreaterThanOrEqual:
		return mip.GreaterThanOrEqual, nil
	default:
		return 0, fmt.Errorf("solverdriver: unknown constraint sense %v", s)
	}
}

func (b *MIPBackend) SetObjectiveSense(minimize bool) {
	if minimize {
		b.model.Objective().SetMinimize()
	} else {
		b.model.Objective().SetMaximize()
	}
}

func (b *MIPBackend) SetParameters(p Params) error {
	b.pendingParams = p
	return nil
}

func (b *MIPBackend) Optimize() (Status, error) {
	solver, err := mip.NewSolver(b.provider, b.model)
	if err != nil {
		return Infeasible, fmt.Errorf("solverdriver: creating solver: %w", err)
	}
	b.solver = solver

	opts := mip.NewSolveOptions()
	if b.pendingParams.TimeLimit > 0 {
		if err := opts.SetMaximumDuration(b.pendingParams.TimeLimit); err != nil {
			return Infeasible, fmt.Errorf("solverdriver: setting time limit: %w", err)
		}
	}
	if b.pendingParams.SolutionLimit > 0 {
		if err := opts.SetMaximumSolutions(b.pendingParams.SolutionLimit); err != nil {
			return Infeasible, fmt.Errorf("solverdriver: setting solution limit: %w", err)
		}
	}
	if err := opts.SetMIPGapRelative(0); err != nil {
		return Infeasible, fmt.Errorf("solverdriver: setting MIP gap: %w", err)
	}
	opts.SetVerbosity(mip.Off)

	// Threads and MIPFocus are provider-specific tuning knobs; not
	// every mip.SolveOptions implementation exposes them, so they are
	// applied best-effort through an optional interface rather than
	// failing the whole run when a provider doesn't support one.
	if b.pendingParams.Threads > 0 {
		if setter, ok := opts.(interface{ SetThreads(int) error }); ok {
			if err := setter.SetThreads(b.pendingParams.Threads); err != nil {
				return Infeasible, fmt.Errorf("solverdriver: setting thread count: %w", err)
			}
		}
	}
	if b.pendingParams.MIPFocus != "" {
		if setter, ok := opts.(interface{ SetMIPFocus(string) error }); ok {
			if err := setter.SetMIPFocus(b.pendingParams.MIPFocus); err != nil {
				return Infeasible, fmt.Errorf("solverdriver: setting MIP focus: %w", err)
			}
		}
	}

	solution, err := solver.Solve(opts)
	if err != nil {
		return Infeasible, fmt.Errorf("solverdriver: solve: %w", err)
	}
	b.solution = solution

	return classify(solution), nil
}

func classify(solution mip.Solution) Status {
	if solution == nil || !solution.HasValues() {
		return Infeasible
	}
	if solution.IsOptimal() {
		return Optimal
	}
	return Feasible
}

func (b *MIPBackend) Value(h VarHandle) (float64, error) {
	if b.solution == nil {
		return 0, fmt.Errorf("solverdriver: Value called before a successful Optimize")
	}
	return b.solution.Value(b.vars[h]), nil
}

func (b *MIPBackend) ObjectiveValue() (float64, error) {
	if b.solution == nil {
		return 0, fmt.Errorf("solverdriver: ObjectiveValue called before a successful Optimize")
	}
	return b.solution.ObjectiveValue(), nil
}

func (b *MIPBackend) RunTime() time.Duration {
	if b.solution == nil {
		return 0
	}
	return b.solution.RunTime()
}
