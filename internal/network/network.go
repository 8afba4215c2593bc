// Package network holds the static geography of a service network:
// locations, pairwise distances, capacities, commodities, and the
// discretisation (tick) arithmetic built on top of them.
package network

import (
	"fmt"
	"math"
)

// Location is the immutable build-time record for one depot or
// cross-dock, identified by its dense integer index in Network.
type Location struct {
	Name           string
	X, Y           float64
	SourceCapacity int
	TargetCapacity int
	CrossCapacity  int
	NumDocks       int
}

// Commodity is the pair (target location, shift label). Its wall-clock
// delivery deadline is held by Network (see Network.Deadline).
type Commodity struct {
	Target int
	Shift  int
}

// Network holds locations, the complete pairwise distance matrix,
// commodities, and the discretisation parameters needed to translate
// wall-clock hours into integer ticks.
//
// All mutators (AddLocation, AddArc, AddCommodity, SetDiscretization,
// SetTruckCapacity, SetLoadingTime, SetUnloadingTime) must run before
// any tick query; Network does not support incremental rebuilds once a
// query has been issued.
type Network struct {
	locations []Location
	nameIndex map[string]int
	distances map[[2]int]float64
	deadlines map[Commodity]float64

	graph *reachability

	tickHours   float64
	tickZero    float64
	truckCap    int
	loadingTime float64
	unloadTime  float64

	discretized  bool
	truckCapSet  bool
	loadingSet   bool
	unloadingSet bool
}

// New returns an empty Network ready for build-phase mutators.
func New() *Network {
	return &Network{
		nameIndex: make(map[string]int),
		distances: make(map[[2]int]float64),
		deadlines: make(map[Commodity]float64),
		graph:     newReachability(),
	}
}

// AddLocation appends a location and returns its dense index.
func (n *Network) AddLocation(loc Location) (int, error) {
	if loc.SourceCapacity < 0 || loc.TargetCapacity < 0 || loc.CrossCapacity < 0 {
		return 0, fmt.Errorf("network: location %q has a negative capacity", loc.Name)
	}
	if loc.CrossCapacity == 0 && loc.NumDocks < 0 {
		return 0, fmt.Errorf("network: location %q has a negative dock count", loc.Name)
	}
	idx := len(n.locations)
	n.locations = append(n.locations, loc)
	n.nameIndex[loc.Name] = idx
	n.graph.addVertex(idx)
	return idx, nil
}

// AddArc records the directed distance from source to target.
func (n *Network) AddArc(source, target int, distance float64) error {
	if source == target {
		return fmt.Errorf("network: arc (%d,%d) is a self loop", source, target)
	}
	if distance < 0 {
		return fmt.Errorf("network: arc (%d,%d) has a negative distance", source, target)
	}
	n.distances[[2]int{source, target}] = distance
	n.graph.addEdge(source, target)
	return nil
}

// AddCommodity registers commodity (target, shift) with the given
// wall-clock deadline. Re-registering the same pair overwrites the
// deadline.
func (n *Network) AddCommodity(target, shift int, deadline float64) error {
	if math.IsNaN(deadline) || math.IsInf(deadline, 0) {
		return fmt.Errorf("network: commodity (%d,%d) has a non-finite deadline", target, shift)
	}
	n.deadlines[Commodity{Target: target, Shift: shift}] = deadline
	return nil
}

// SetDiscretization fixes the tick width (hours) and the tick-zero
// wall-clock offset. Must be called before any tick query.
func (n *Network) SetDiscretization(tickHours, tickZero float64) error {
	if tickHours <= 0 {
		return fmt.Errorf("network: tickHours must be positive, got %v", tickHours)
	}
	n.tickHours = tickHours
	n.tickZero = tickZero
	n.discretized = true
	return nil
}

// SetTruckCapacity fixes the number of trolleys a single truck carries.
func (n *Network) SetTruckCapacity(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("network: truckCapacity must be positive, got %v", capacity)
	}
	n.truckCap = capacity
	n.truckCapSet = true
	return nil
}

// SetLoadingTime fixes the hours a truck occupies a dock while loading.
func (n *Network) SetLoadingTime(hours float64) error {
	if hours < 0 {
		return fmt.Errorf("network: loadingTime must be non-negative, got %v", hours)
	}
	n.loadingTime = hours
	n.loadingSet = true
	return nil
}

// SetUnloadingTime fixes the hours a truck occupies a dock while
// unloading.
func (n *Network) SetUnloadingTime(hours float64) error {
	if hours < 0 {
		return fmt.Errorf("network: unloadingTime must be non-negative, got %v", hours)
	}
	n.unloadTime = hours
	n.unloadingSet = true
	return nil
}

// requireReady fails fast if any of the three required parameters
// (discretisation, truck capacity, loading/unloading times) is
// missing, instead of silently defaulting them to zero.
func (n *Network) requireReady() error {
	switch {
	case !n.discretized:
		return fmt.Errorf("network: setDiscretization was never called")
	case !n.truckCapSet:
		return fmt.Errorf("network: setTruckCapacity was never called")
	case !n.loadingSet:
		return fmt.Errorf("network: setLoadingTime was never called")
	case !n.unloadingSet:
		return fmt.Errorf("network: setUnloadingTime was never called")
	}
	return nil
}

// Locations returns the dense index range [0, NumLocations).
func (n *Network) Locations() []int {
	out := make([]int, len(n.locations))
	for i := range out {
		out[i] = i
	}
	return out
}

// NumLocations returns the number of registered locations.
func (n *Network) NumLocations() int { return len(n.locations) }

// Commodities returns every registered (target, shift) pair.
func (n *Network) Commodities() []Commodity {
	out := make([]Commodity, 0, len(n.deadlines))
	for k := range n.deadlines {
		out = append(out, k)
	}
	return out
}

// TruckCapacity returns the number of trolleys one truck carries.
func (n *Network) TruckCapacity() int { return n.truckCap }

// Name returns the location's display name.
func (n *Network) Name(loc int) string { return n.locations[loc].Name }

// SourceCapacity returns the outbound staging capacity of a location.
func (n *Network) SourceCapacity(loc int) int { return n.locations[loc].SourceCapacity }

// TargetCapacity returns the inbound staging capacity of a location.
func (n *Network) TargetCapacity(loc int) int { return n.locations[loc].TargetCapacity }

// CrossCapacity returns the cross-dock staging capacity of a location.
func (n *Network) CrossCapacity(loc int) int { return n.locations[loc].CrossCapacity }

// NumDocks returns the physical dock count of a location.
func (n *Network) NumDocks(loc int) int { return n.locations[loc].NumDocks }

// IsCross reports whether a location is a cross-dock.
func (n *Network) IsCross(loc int) bool { return n.locations[loc].CrossCapacity > 0 }

// Find returns the dense index of the location with the given name,
// or -1 if no such location is registered.
func (n *Network) Find(name string) int {
	if idx, ok := n.nameIndex[name]; ok {
		return idx
	}
	return -1
}

// Distance returns the recorded arc distance from source to target.
func (n *Network) Distance(source, target int) float64 {
	return n.distances[[2]int{source, target}]
}

// Deadline returns the wall-clock deadline of a commodity.
func (n *Network) Deadline(c Commodity) float64 { return n.deadlines[c] }

// UnloadingTicks returns ceil(unloadingTime / tickHours).
func (n *Network) UnloadingTicks() int {
	return int(math.Ceil(n.unloadTime / n.tickHours))
}

// LoadingTicks returns the number of ticks attributable purely to
// loading, derived as
// ceil((unloadingTime+loadingTime)/tickHours) - unloadingTicks so that
// the two terms sum exactly to the combined dock-occupancy ticks.
func (n *Network) LoadingTicks() int {
	combined := int(math.Ceil((n.unloadTime + n.loadingTime) / n.tickHours))
	return combined - n.UnloadingTicks()
}

// NumDocksPerTick scales the physical dock count by how many
// loading+unloading cycles fit inside one tick. A zero combined
// loading+unloading time means a dock is never actually occupied, so
// it is left unscaled rather than dividing by zero.
func (n *Network) NumDocksPerTick(loc int) int {
	combined := n.loadingTime + n.unloadTime
	if combined <= 0 {
		return n.locations[loc].NumDocks
	}
	scaling := n.tickHours / combined
	return n.locations[loc].NumDocks * int(math.Ceil(scaling))
}

// DeadlineTick floors the deadline of a commodity into a tick index:
// the model must never promise delivery after the real cutoff.
func (n *Network) DeadlineTick(c Commodity) int {
	return int(math.Floor((n.Deadline(c) - n.tickZero) / n.tickHours))
}

// TickTime is the inverse of the release-tick rounding convention:
// tick(tickTime(t)) == t for every integer t.
func (n *Network) TickTime(tick int) float64 {
	return n.tickHours*float64(tick) + n.tickZero
}

// Tick rounds a release time up to the tick that first contains it: a
// trolley is never considered available before it truly is.
func (n *Network) Tick(releaseTime float64) int {
	return int(math.Ceil((releaseTime - n.tickZero) / n.tickHours))
}

// DistanceTicks is the number of ticks a pure transit (no
// loading/unloading) from source to target spans.
func (n *Network) DistanceTicks(source, target int) int {
	return int(math.Ceil(n.Distance(source, target) / n.tickHours))
}

// TravelTicks is the number of ticks a full dispatch-to-available
// cycle spans: driving time plus loading and unloading.
func (n *Network) TravelTicks(source, target int) int {
	total := n.Distance(source, target) + n.loadingTime + n.unloadTime
	return int(math.Ceil(total / n.tickHours))
}

// Validate checks structural invariants that are cheap to catch before
// the model builder runs: every ordered pair of distinct locations
// must have a recorded distance, discretisation parameters must be
// set, and every location must be reachable from every other one (a
// disconnected instance can never produce a feasible schedule).
func (n *Network) Validate() error {
	if err := n.requireReady(); err != nil {
		return err
	}
	for _, s := range n.Locations() {
		for _, t := range n.Locations() {
			if s == t {
				continue
			}
			if _, ok := n.distances[[2]int{s, t}]; !ok {
				return fmt.Errorf("network: missing distance for arc (%d,%d)", s, t)
			}
		}
	}
	return n.graph.validateReachability(n.Locations())
}
