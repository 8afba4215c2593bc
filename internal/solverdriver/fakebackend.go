package solverdriver

import (
	"fmt"
	"time"
)

// FakeBackend is an in-memory Backend that records every variable and
// constraint it is given and returns scripted primal values. It
// exists so internal/modelbuild and internal/refine can be tested
// against the exact feasibility-filter and constraint-family contract
// of spec §4.3/§8 without a real solver binary (see SPEC_FULL.md §8).
type FakeBackend struct {
	Specs       []VarSpec
	Constraints []FakeConstraint
	Minimize    bool
	Params      Params

	// Values is consulted by Value(); index by VarHandle. Set by the
	// test before or after Optimize, as needed.
	Values []float64
	// NextStatus is returned by the next Optimize call.
	NextStatus Status
	// NextObjective is returned by ObjectiveValue after Optimize.
	NextObjective float64
	OptimizeErr   error
	OptimizeCalls int
}

// FakeConstraint is a recorded AddConstraint call.
type FakeConstraint struct {
	Sense Sense
	Rhs   float64
	Terms []Term
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{NextStatus: Optimal}
}

func (f *FakeBackend) AddVariable(spec VarSpec) (VarHandle, error) {
	h := VarHandle(len(f.Specs))
	f.Specs = append(f.Specs, spec)
	f.Values = append(f.Values, 0)
	if spec.Start != nil {
		f.Values[h] = *spec.Start
	}
	return h, nil
}

func (f *FakeBackend) AddConstraint(sense Sense, rhs float64, terms []Term) error {
	for _, t := range terms {
		if int(t.Variable) >= len(f.Specs) {
			return fmt.Errorf("solverdriver: constraint references unmaterialized variable %d", t.Variable)
		}
	}
	f.Constraints = append(f.Constraints, FakeConstraint{Sense: sense, Rhs: rhs, Terms: terms})
	return nil
}

func (f *FakeBackend) SetObjectiveSense(minimize bool) { f.Minimize = minimize }

func (f *FakeBackend) SetParameters(p Params) error {
	f.Params = p
	return nil
}

func (f *FakeBackend) Optimize() (Status, error) {
	f.OptimizeCalls++
	if f.OptimizeErr != nil {
		return Infeasible, f.OptimizeErr
	}
	return f.NextStatus, nil
}

func (f *FakeBackend) Value(h VarHandle) (float64, error) {
	if int(h) >= len(f.Values) {
		return 0, fmt.Errorf("solverdriver: value requested for unmaterialized variable %d", h)
	}
	return f.Values[h], nil
}

func (f *FakeBackend) ObjectiveValue() (float64, error) { return f.NextObjective, nil }

func (f *FakeBackend) RunTime() time.Duration { return 0 }
