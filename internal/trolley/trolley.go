// Package trolley preprocesses raw trolley records against a network's
// time horizon: dropping or repairing infeasible ones, and rolling the
// kept trolleys up into the production/demand aggregates the model
// builder needs.
package trolley

import (
	"fmt"

	"github.com/parcelnet/servicenet/internal/network"
)

// Trolley is one indivisible shipment: an origin, a release time, and
// the commodity (destination, shift) it belongs to.
type Trolley struct {
	Source    int
	Release   float64
	Commodity network.Commodity
}

// Mode selects how Preprocess handles a trolley whose release leaves
// no time to meet its deadline.
type Mode int

const (
	// ModeFilter drops infeasible trolleys and reports how many.
	ModeFilter Mode = iota
	// ModeRepair advances an infeasible trolley's release to the
	// latest moment that still meets the deadline, and reports how
	// many were adjusted.
	ModeRepair
)

// ProductionKey indexes the production aggregate by origin, release
// tick, and commodity.
type ProductionKey struct {
	Location int
	Tick     int
	Commodity network.Commodity
}

// Result is the output of Preprocess: the kept, deliverable trolleys
// plus the two aggregate tables the model builder consumes.
type Result struct {
	Kept []Trolley

	// Production maps (location, releaseTick, commodity) to the count
	// of kept trolleys released there.
	Production map[ProductionKey]int
	// Demand maps a commodity to the total count of kept trolleys
	// addressed to it.
	Demand map[network.Commodity]int

	// DroppedDegenerate counts trolleys removed because source ==
	// target, which is always done regardless of Mode.
	DroppedDegenerate int
	// DroppedInfeasible counts trolleys dropped in ModeFilter because
	// they could never meet their deadline.
	DroppedInfeasible int
	// Repaired counts trolleys whose release was advanced in
	// ModeRepair.
	Repaired int
}

// Preprocess filters or repairs raw trolleys against net's
// discretisation and travel times, then asserts the flow-conservation
// invariant (sum of production equals sum of demand) before returning.
// A violation of that invariant is a programmer error in this package,
// not a data problem, and is returned as an error rather than silently
// patched (spec §7).
func Preprocess(net *network.Network, raw []Trolley, mode Mode) (Result, error) {
	res := Result{
		Production: make(map[ProductionKey]int),
		Demand:     make(map[network.Commodity]int),
	}

	for _, t := range raw {
		if t.Source == t.Commodity.Target {
			res.DroppedDegenerate++
			continue
		}

		releaseTick := net.Tick(t.Release)
		travel := net.TravelTicks(t.Source, t.Commodity.Target)
		deadlineTick := net.DeadlineTick(t.Commodity)

		if releaseTick+travel > deadlineTick {
			switch mode {
			case ModeFilter:
				res.DroppedInfeasible++
				continue
			case ModeRepair:
				repairedTick := deadlineTick - travel
				t.Release = net.TickTime(repairedTick)
				releaseTick = repairedTick
				res.Repaired++
			default:
				return Result{}, fmt.Errorf("trolley: unknown preprocessing mode %v", mode)
			}
		}

		// Post-condition every kept trolley must satisfy.
		if releaseTick+travel > deadlineTick {
			return Result{}, fmt.Errorf(
				"trolley: repaired trolley from %d to commodity %+v is still undeliverable",
				t.Source, t.Commodity)
		}

		res.Kept = append(res.Kept, t)
		key := ProductionKey{Location: t.Source, Tick: releaseTick, Commodity: t.Commodity}
		res.Production[key]++
		res.Demand[t.Commodity]++
	}

	var totalProduction, totalDemand int
	for _, v := range res.Production {
		totalProduction += v
	}
	for _, v := range res.Demand {
		totalDemand += v
	}
	if totalProduction != totalDemand {
		return Result{}, fmt.Errorf(
			"trolley: flow-balance mismatch after preprocessing: production=%d demand=%d",
			totalProduction, totalDemand)
	}

	return res, nil
}
