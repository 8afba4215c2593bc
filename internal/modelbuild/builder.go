// Package modelbuild instantiates the sparse variable index sets and
// the five families of linear constraints described in spec §4.3, on
// top of a solverdriver.Backend. It owns no solver state of its own:
// every variable and constraint is handed straight to the backend, and
// the Builder's maps only remember which solverdriver.VarHandle
// corresponds to which index tuple.
package modelbuild

import (
	"fmt"
	"math"

	"github.com/parcelnet/servicenet/internal/network"
	"github.com/parcelnet/servicenet/internal/solverdriver"
	"github.com/parcelnet/servicenet/internal/trolley"
)

// Penalties are the positive objective coefficients on the five slack
// families; defaults are the "≈ 10 (tunable)" the spec recommends for
// the ordinary penalties, and a much larger one for end-of-horizon
// leftover inventory so a feasible schedule always dominates holding
// stock past tMax.
type Penalties struct {
	Undelivered   float64
	NonProduction float64
	ExtraDocks    float64
	ExtraCapacity float64
	Leftover      float64
}

// DefaultPenalties returns the spec's recommended defaults.
func DefaultPenalties() Penalties {
	return Penalties{
		Undelivered:   10,
		NonProduction: 10,
		ExtraDocks:    10,
		ExtraCapacity: 10,
		Leftover:      1_000,
	}
}

// ArcKey indexes an ordered pair of locations, independent of tick.
type ArcKey struct {
	I, J int
}

// Restriction is the "allowed-truck filter" carried from a coarser
// refinement level (spec §4.3): x[i,j,t] is only free to take a
// positive value when (i,j) was used before and t's wall-clock
// dispatch time falls within Deviation hours of one of the times it
// was used at.
type Restriction struct {
	Allowed   map[ArcKey][]float64
	Deviation float64
}

func (r *Restriction) allows(i, j int, wallClock float64) bool {
	if r == nil {
		return true
	}
	times, ok := r.Allowed[ArcKey{I: i, J: j}]
	if !ok {
		return false
	}
	for _, a := range times {
		if math.Abs(wallClock-a) <= r.Deviation {
			return true
		}
	}
	return false
}

// Builder assembles one solver model for one resolution level. It is
// scoped to a single run: its index maps live only as long as the
// model does (spec §5, "resource ownership").
type Builder struct {
	net       *network.Network
	prep      trolley.Result
	backend   solverdriver.Backend
	penalties Penalties

	restriction *Restriction
	warmStart   map[ArcTick]int

	tMin, tMax int

	X  map[ArcTick]solverdriver.VarHandle
	Y  map[FlowKey]solverdriver.VarHandle
	Z  map[InventoryKey]solverdriver.VarHandle
	ND map[network.Commodity]solverdriver.VarHandle
	NP map[ProductionKey]solverdriver.VarHandle
	ED map[int]solverdriver.VarHandle
	EC map[int]solverdriver.VarHandle
}

// New returns a Builder ready to build one model. restriction and
// warmStart may both be nil for a cold, unrestricted first run.
func New(net *network.Network, prep trolley.Result, backend solverdriver.Backend, penalties Penalties, restriction *Restriction, warmStart map[ArcTick]int) *Builder {
	return &Builder{
		net:         net,
		prep:        prep,
		backend:     backend,
		penalties:   penalties,
		restriction: restriction,
		warmStart:   warmStart,
		X:           make(map[ArcTick]solverdriver.VarHandle),
		Y:           make(map[FlowKey]solverdriver.VarHandle),
		Z:           make(map[InventoryKey]solverdriver.VarHandle),
		ND:          make(map[network.Commodity]solverdriver.VarHandle),
		NP:          make(map[ProductionKey]solverdriver.VarHandle),
		ED:          make(map[int]solverdriver.VarHandle),
		EC:          make(map[int]solverdriver.VarHandle),
	}
}

// Horizon returns the tick range [tMin, tMax] computed by Build.
func (b *Builder) Horizon() (int, int) { return b.tMin, b.tMax }

// Build instantiates every variable family, then every constraint
// family, in that order: the spec's ordering guarantee requires all
// variables to exist before any constraint that references them.
func (b *Builder) Build() error {
	b.computeHorizon()

	if err := b.buildTruckVariables(); err != nil {
		return err
	}
	if err := b.buildFlowVariables(); err != nil {
		return err
	}
	if err := b.buildInventoryVariables(); err != nil {
		return err
	}
	if err := b.buildSlackVariables(); err != nil {
		return err
	}

	b.backend.SetObjectiveSense(true)

	if err := b.buildTruckCapacityConstraints(); err != nil {
		return err
	}
	if err := b.buildDockingConstraints(); err != nil {
		return err
	}
	if err := b.buildFlowBalanceConstraints(); err != nil {
		return err
	}
	if err := b.buildSourceCapacityConstraints(); err != nil {
		return err
	}
	if err := b.buildTargetCapacityConstraints(); err != nil {
		return err
	}
	return nil
}

// computeHorizon finds the closed tick range containing every release
// tick of a kept trolley and every deadline tick of every commodity.
func (b *Builder) computeHorizon() {
	first := true
	note := func(t int) {
		if first {
			b.tMin, b.tMax = t, t
			first = false
			return
		}
		if t < b.tMin {
			b.tMin = t
		}
		if t > b.tMax {
			b.tMax = t
		}
	}
	for key := range b.prep.Production {
		note(key.Tick)
	}
	for _, c := range b.net.Commodities() {
		note(b.net.DeadlineTick(c))
	}
}

func (b *Builder) buildTruckVariables() error {
	locs := b.net.Locations()
	naturalUB := float64(len(b.prep.Kept))
	if naturalUB == 0 {
		naturalUB = 1
	}
	for _, i := range locs {
		for _, j := range locs {
			if i == j {
				continue
			}
			travel := b.net.TravelTicks(i, j)
			for t := b.tMin; t <= b.tMax; t++ {
				if t+travel > b.tMax {
					continue
				}
				ub := naturalUB
				if !b.restriction.allows(i, j, b.net.TickTime(t)) {
					ub = 0
				}
				spec := solverdriver.VarSpec{
					Name: fmt.Sprintf("x[%d,%d,%d]", i, j, t),
					Kind: solverdriver.Integer,
					Obj:  b.net.Distance(i, j),
					Lb:   0,
					Ub:   ub,
				}
				key := ArcTick{I: i, J: j, T: t}
				if cnt, ok := b.warmStart[key]; ok {
					start := float64(cnt)
					if start > ub {
						start = ub
					}
					spec.Start = &start
				}
				h, err := b.backend.AddVariable(spec)
				if err != nil {
					return fmt.Errorf("modelbuild: %s: %w", spec.Name, err)
				}
				b.X[key] = h
			}
		}
	}
	return nil
}

func (b *Builder) buildFlowVariables() error {
	for arcTick := range b.X {
		i, j, t := arcTick.I, arcTick.J, arcTick.T
		travel := b.net.TravelTicks(i, j)
		isCross := b.net.IsCross(j)
		for _, k := range b.net.Commodities() {
			deadline := b.net.DeadlineTick(k)
			var feasible bool
			switch {
			case j == k.Target:
				feasible = t+travel <= deadline
			case isCross:
				feasible = t+travel+b.net.TravelTicks(j, k.Target) <= deadline
			}
			if !feasible {
				continue
			}
			demand := float64(b.prep.Demand[k])
			if demand == 0 {
				demand = 1
			}
			spec := solverdriver.VarSpec{
				Name: fmt.Sprintf("y[%d,%d,%d,%d:%d]", i, j, t, k.Target, k.Shift),
				Kind: solverdriver.Continuous,
				Lb:   0,
				Ub:   demand,
			}
			h, err := b.backend.AddVariable(spec)
			if err != nil {
				return fmt.Errorf("modelbuild: %s: %w", spec.Name, err)
			}
			b.Y[FlowKey{I: i, J: j, T: t, K: k}] = h
		}
	}
	return nil
}

func (b *Builder) buildInventoryVariables() error {
	for _, i := range b.net.Locations() {
		for t := b.tMin; t <= b.tMax; t++ {
			for _, k := range b.net.Commodities() {
				demand := float64(b.prep.Demand[k])
				ub := demand
				if ub == 0 {
					ub = 1
				}
				var obj float64
				if t == b.tMax {
					ub = 0
					obj = b.penalties.Leftover
				}
				spec := solverdriver.VarSpec{
					Name: fmt.Sprintf("z[%d,%d,%d:%d]", i, t, k.Target, k.Shift),
					Kind: solverdriver.Continuous,
					Lb:   0,
					Ub:   ub,
					Obj:  obj,
				}
				h, err := b.backend.AddVariable(spec)
				if err != nil {
					return fmt.Errorf("modelbuild: %s: %w", spec.Name, err)
				}
				b.Z[InventoryKey{I: i, T: t, K: k}] = h
			}
		}
	}
	return nil
}

func (b *Builder) buildSlackVariables() error {
	for _, k := range b.net.Commodities() {
		demand := float64(b.prep.Demand[k])
		ub := demand
		if ub == 0 {
			ub = 1
		}
		spec := solverdriver.VarSpec{
			Name: fmt.Sprintf("nd[%d:%d]", k.Target, k.Shift),
			Kind: solverdriver.Continuous,
			Lb:   0,
			Ub:   ub,
			Obj:  b.penalties.Undelivered,
		}
		h, err := b.backend.AddVariable(spec)
		if err != nil {
			return fmt.Errorf("modelbuild: %s: %w", spec.Name, err)
		}
		b.ND[k] = h
	}

	for key, produced := range b.prep.Production {
		if produced <= 0 {
			continue
		}
		k := key.Commodity
		spec := solverdriver.VarSpec{
			Name: fmt.Sprintf("np[%d,%d,%d:%d]", key.Location, key.Tick, k.Target, k.Shift),
			Kind: solverdriver.Continuous,
			Lb:   0,
			Ub:   float64(produced),
			Obj:  b.penalties.NonProduction,
		}
		h, err := b.backend.AddVariable(spec)
		if err != nil {
			return fmt.Errorf("modelbuild: %s: %w", spec.Name, err)
		}
		b.NP[ProductionKey{I: key.Location, T: key.Tick, K: k}] = h
	}

	for _, i := range b.net.Locations() {
		ed := solverdriver.VarSpec{
			Name: fmt.Sprintf("ed[%d]", i),
			Kind: solverdriver.Continuous,
			Lb:   0,
			Ub:   math.Inf(1),
			Obj:  b.penalties.ExtraDocks,
		}
		h, err := b.backend.AddVariable(ed)
		if err != nil {
			return fmt.Errorf("modelbuild: %s: %w", ed.Name, err)
		}
		b.ED[i] = h

		ec := solverdriver.VarSpec{
			Name: fmt.Sprintf("ec[%d]", i),
			Kind: solverdriver.Continuous,
			Lb:   0,
			Ub:   math.Inf(1),
			Obj:  b.penalties.ExtraCapacity,
		}
		h, err = b.backend.AddVariable(ec)
		if err != nil {
			return fmt.Errorf("modelbuild: %s: %w", ec.Name, err)
		}
		b.EC[i] = h
	}
	return nil
}
