package modelbuild

import (
	"github.com/parcelnet/servicenet/internal/network"
	"github.com/parcelnet/servicenet/internal/trolley"
)

// TruckCount is one aggregate dispatch record read back from a
// previous iteration's truck schedule file ("C" records, spec §6).
// internal/scheduleio produces these; modelbuild only needs the shape.
type TruckCount struct {
	Source, Target int
	Time           float64
	Count          int
}

// ScheduleWarmStart converts a previous iteration's truck counts into
// this network's tick indexing, for use as Builder's warmStart map.
// Conflicting records for the same (i,j,t) accumulate rather than
// overwrite, since a schedule from a finer Δt can map several
// wall-clock times onto one tick of a coarser model.
func ScheduleWarmStart(net *network.Network, counts []TruckCount) map[ArcTick]int {
	out := make(map[ArcTick]int, len(counts))
	for _, c := range counts {
		key := ArcTick{I: c.Source, J: c.Target, T: net.Tick(c.Time)}
		out[key] += c.Count
	}
	return out
}

// GreedyWarmStart derives an initial truck dispatch plan directly from
// the production aggregate, without invoking the solver (spec §4.3).
// It walks ticks in order, accumulating released trolleys per
// (source, commodity target) pair into a running inventory, and
// dispatches a batch of trucks whenever that inventory reaches
// truckCapacity, or at the last tick any trolley for that pair was
// released (so nothing is left stranded with no later dispatch).
func GreedyWarmStart(net *network.Network, prep trolley.Result) map[ArcTick]int {
	type pair struct{ source, target int }

	lastRelease := make(map[pair]int)
	for key, count := range prep.Production {
		if count <= 0 {
			continue
		}
		p := pair{key.Location, key.Commodity.Target}
		if last, ok := lastRelease[p]; !ok || key.Tick > last {
			lastRelease[p] = key.Tick
		}
	}

	tMin, tMax := 0, 0
	first := true
	for key := range prep.Production {
		if first {
			tMin, tMax = key.Tick, key.Tick
			first = false
			continue
		}
		if key.Tick < tMin {
			tMin = key.Tick
		}
		if key.Tick > tMax {
			tMax = key.Tick
		}
	}

	capacity := net.TruckCapacity()
	if capacity <= 0 {
		capacity = 1
	}

	inventory := make(map[pair]int)
	dispatch := make(map[ArcTick]int)

	for t := tMin; t <= tMax; t++ {
		for key, count := range prep.Production {
			if key.Tick != t || count <= 0 {
				continue
			}
			inventory[pair{key.Location, key.Commodity.Target}] += count
		}

		for p, inv := range inventory {
			if inv <= 0 {
				continue
			}
			switch {
			case inv >= capacity:
				trucks := (inv + capacity - 1) / capacity
				dispatch[ArcTick{I: p.source, J: p.target, T: t}] += trucks
				inventory[p] = 0
			case t >= lastRelease[p]:
				dispatch[ArcTick{I: p.source, J: p.target, T: t}] += 1
				inventory[p] = 0
			}
		}
	}

	return dispatch
}
