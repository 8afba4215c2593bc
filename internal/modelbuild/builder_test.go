package modelbuild

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parcelnet/servicenet/internal/network"
	"github.com/parcelnet/servicenet/internal/solverdriver"
	"github.com/parcelnet/servicenet/internal/trolley"
)

// evaluateConstraints re-derives the LHS of every constraint recorded
// by fb from its scripted Values and checks it against Sense/Rhs. It
// is the stand-in for "solve to optimum and check" that a FakeBackend
// allows: if a hand-picked, spec-consistent assignment of values
// satisfies every constraint the builder emitted, the constraint
// family was translated correctly (spec §8 property 5).
func evaluateConstraints(t *testing.T, fb *solverdriver.FakeBackend) {
	t.Helper()
	const tol = 1e-6
	for idx, c := range fb.Constraints {
		lhs := 0.0
		for _, term := range c.Terms {
			lhs += term.Coefficient * fb.Values[term.Variable]
		}
		switch c.Sense {
		case solverdriver.LessThanOrEqual:
			if lhs > c.Rhs+tol {
				t.Fatalf("constraint %d: lhs=%v exceeds rhs=%v", idx, lhs, c.Rhs)
			}
		case solverdriver.GreaterThanOrEqual:
			if lhs < c.Rhs-tol {
				t.Fatalf("constraint %d: lhs=%v below rhs=%v", idx, lhs, c.Rhs)
			}
		case solverdriver.Equal:
			if math.Abs(lhs-c.Rhs) > tol {
				t.Fatalf("constraint %d: lhs=%v != rhs=%v", idx, lhs, c.Rhs)
			}
		default:
			t.Fatalf("constraint %d: unknown sense %v", idx, c.Sense)
		}
	}
}

func twoLocationNetwork(t *testing.T, truckCap int, deadline float64) (*network.Network, int, int, network.Commodity) {
	t.Helper()
	net := network.New()
	a, err := net.AddLocation(network.Location{Name: "A", SourceCapacity: 1000, TargetCapacity: 1000, NumDocks: 10})
	require.NoError(t, err)
	b, err := net.AddLocation(network.Location{Name: "B", SourceCapacity: 1000, TargetCapacity: 1000, NumDocks: 10})
	require.NoError(t, err)
	require.NoError(t, net.AddArc(a, b, 1.0))
	require.NoError(t, net.AddArc(b, a, 1.0))
	require.NoError(t, net.SetDiscretization(1, 0))
	require.NoError(t, net.SetTruckCapacity(truckCap))
	require.NoError(t, net.SetLoadingTime(0.1))
	require.NoError(t, net.SetUnloadingTime(0.1))
	k := network.Commodity{Target: b, Shift: 0}
	require.NoError(t, net.AddCommodity(b, 0, deadline))
	require.NoError(t, net.Validate())
	return net, a, b, k
}

// TestBuild_S1UnitNetwork implements spec §8 scenario S1: a single
// trolley moving between two depots one hop apart must produce
// exactly one truck dispatch and no penalty.
func TestBuild_S1UnitNetwork(t *testing.T) {
	net, a, b, k := twoLocationNetwork(t, 2, 2)

	prep, err := trolley.Preprocess(net, []trolley.Trolley{
		{Source: a, Release: 0, Commodity: k},
	}, trolley.ModeFilter)
	require.NoError(t, err)
	require.Equal(t, 1, prep.Demand[k])

	fb := solverdriver.NewFakeBackend()
	bld := New(net, prep, fb, DefaultPenalties(), nil, nil)
	require.NoError(t, bld.Build())

	xHandle, ok := bld.X[ArcTick{I: a, J: b, T: 0}]
	require.True(t, ok, "x[A,B,0] must exist: travel(A,B)=2 ticks, deadline tick=2")
	yHandle, ok := bld.Y[FlowKey{I: a, J: b, T: 0, K: k}]
	require.True(t, ok, "y[A,B,0,k] must exist: arrival tick 2 meets deadline tick 2")

	fb.Values[xHandle] = 1
	fb.Values[yHandle] = 1

	evaluateConstraints(t, fb)
}

// TestBuild_S3CapacityForcesTwoTrucks implements scenario S3: three
// trolleys sharing a two-trolley truck capacity must require two
// trucks on the arc, and a single truck must be infeasible.
func TestBuild_S3CapacityForcesTwoTrucks(t *testing.T) {
	net, a, b, k := twoLocationNetwork(t, 2, 2)

	var raw []trolley.Trolley
	for i := 0; i < 3; i++ {
		raw = append(raw, trolley.Trolley{Source: a, Release: 0, Commodity: k})
	}
	prep, err := trolley.Preprocess(net, raw, trolley.ModeFilter)
	require.NoError(t, err)
	require.Equal(t, 3, prep.Demand[k])

	fb := solverdriver.NewFakeBackend()
	bld := New(net, prep, fb, DefaultPenalties(), nil, nil)
	require.NoError(t, bld.Build())

	xHandle := bld.X[ArcTick{I: a, J: b, T: 0}]
	yHandle := bld.Y[FlowKey{I: a, J: b, T: 0, K: k}]

	// Two trucks carrying all three trolleys is feasible.
	fb.Values[xHandle] = 2
	fb.Values[yHandle] = 3
	evaluateConstraints(t, fb)

	// One truck cannot carry three trolleys at a capacity of two: the
	// truck-capacity constraint family must reject it.
	truckCapacity := findConstraint(t, fb, xHandle, yHandle)
	require.Equal(t, solverdriver.LessThanOrEqual, truckCapacity.Sense)
	lhsWithOneTruck := 3.0 - 2.0*1.0 // Σy - truckCap·x, x=1
	require.Greater(t, lhsWithOneTruck, truckCapacity.Rhs)
}

// TestBuild_S6DockSaturation implements scenario S6: a single dock
// cannot load two trucks in the same tick without the extra-dock
// slack absorbing the overflow. This also guards against the bug
// spec §9(c) names: a docking formula that silently evaluates to a
// constant 0 would let both trucks through for free.
func TestBuild_S6DockSaturation(t *testing.T) {
	net := network.New()
	a, err := net.AddLocation(network.Location{Name: "A", SourceCapacity: 1000, TargetCapacity: 1000, NumDocks: 1})
	require.NoError(t, err)
	b, err := net.AddLocation(network.Location{Name: "B", SourceCapacity: 1000, TargetCapacity: 1000, NumDocks: 10})
	require.NoError(t, err)
	c, err := net.AddLocation(network.Location{Name: "C", SourceCapacity: 1000, TargetCapacity: 1000, NumDocks: 10})
	require.NoError(t, err)
	for _, arc := range [][2]int{{a, b}, {b, a}, {a, c}, {c, a}, {b, c}, {c, b}} {
		require.NoError(t, net.AddArc(arc[0], arc[1], 1.0))
	}
	require.NoError(t, net.SetDiscretization(1, 0))
	require.NoError(t, net.SetTruckCapacity(1))
	require.NoError(t, net.SetLoadingTime(0.6))
	require.NoError(t, net.SetUnloadingTime(0.6))
	require.Equal(t, 1, net.NumDocksPerTick(a))

	kb := network.Commodity{Target: b, Shift: 0}
	kc := network.Commodity{Target: c, Shift: 0}
	require.NoError(t, net.AddCommodity(b, 0, 5))
	require.NoError(t, net.AddCommodity(c, 0, 5))
	require.NoError(t, net.Validate())

	prep, err := trolley.Preprocess(net, []trolley.Trolley{
		{Source: a, Release: 0, Commodity: kb},
		{Source: a, Release: 0, Commodity: kc},
	}, trolley.ModeFilter)
	require.NoError(t, err)

	fb := solverdriver.NewFakeBackend()
	bld := New(net, prep, fb, DefaultPenalties(), nil, nil)
	require.NoError(t, bld.Build())

	xAB := bld.X[ArcTick{I: a, J: b, T: 0}]
	xAC := bld.X[ArcTick{I: a, J: c, T: 0}]
	require.NotZero(t, len(fb.Specs))

	dock := findConstraint(t, fb, xAB, xAC)
	require.Equal(t, solverdriver.LessThanOrEqual, dock.Sense)
	require.Equal(t, float64(1), dock.Rhs, "numDocksPerTick(A) must be 1")

	// Dispatching both trucks at tick 0 with no extra dock granted
	// must violate the constraint exactly as S6 requires.
	fb.Values[xAB] = 1
	fb.Values[xAC] = 1
	lhs := 0.0
	for _, term := range dock.Terms {
		lhs += term.Coefficient * fb.Values[term.Variable]
	}
	require.Greater(t, lhs, dock.Rhs, "docking constraint must reject two simultaneous trucks through one dock")

	edHandle := bld.ED[a]
	fb.Values[edHandle] = 1
	lhs = 0.0
	for _, term := range dock.Terms {
		lhs += term.Coefficient * fb.Values[term.Variable]
	}
	require.LessOrEqual(t, lhs, dock.Rhs, "granting one extra dock must restore feasibility")
}

// TestBuild_S2ForcedCrossDock implements spec §8 scenario S2: with the
// direct A→B arc too long to finish inside the horizon, a single
// trolley must route through the cross-dock X, materialising
// y[A,X,0,k] and y[X,B,1,k] and dispatching two trucks.
func TestBuild_S2ForcedCrossDock(t *testing.T) {
	net := network.New()
	a, err := net.AddLocation(network.Location{Name: "A", SourceCapacity: 1000, TargetCapacity: 1000, NumDocks: 10})
	require.NoError(t, err)
	x, err := net.AddLocation(network.Location{Name: "X", SourceCapacity: 1000, TargetCapacity: 1000, CrossCapacity: 1000, NumDocks: 10})
	require.NoError(t, err)
	b, err := net.AddLocation(network.Location{Name: "B", SourceCapacity: 1000, TargetCapacity: 1000, NumDocks: 10})
	require.NoError(t, err)
	for _, arc := range [][2]int{{a, x}, {x, a}, {x, b}, {b, x}} {
		require.NoError(t, net.AddArc(arc[0], arc[1], 1.0))
	}
	// Validate requires a distance for every ordered pair; the direct
	// A↔B arcs take 10 ticks, far past the tick-3 horizon.
	require.NoError(t, net.AddArc(a, b, 10.0))
	require.NoError(t, net.AddArc(b, a, 10.0))
	require.NoError(t, net.SetDiscretization(1, 0))
	require.NoError(t, net.SetTruckCapacity(1))
	// Zero dock times keep TravelTicks equal to the raw 1-tick hop
	// distances, matching spec §8's S2 arithmetic exactly.
	require.NoError(t, net.SetLoadingTime(0))
	require.NoError(t, net.SetUnloadingTime(0))
	k := network.Commodity{Target: b, Shift: 0}
	require.NoError(t, net.AddCommodity(b, 0, 3))
	require.NoError(t, net.Validate())
	require.True(t, net.IsCross(x), "X must be a cross-dock")

	prep, err := trolley.Preprocess(net, []trolley.Trolley{
		{Source: a, Release: 0, Commodity: k},
	}, trolley.ModeFilter)
	require.NoError(t, err)
	require.Equal(t, 1, prep.Demand[k])

	fb := solverdriver.NewFakeBackend()
	bld := New(net, prep, fb, DefaultPenalties(), nil, nil)
	require.NoError(t, bld.Build())

	xAX, ok := bld.X[ArcTick{I: a, J: x, T: 0}]
	require.True(t, ok, "x[A,X,0] must exist: travel(A,X)=1 tick")
	yAX, ok := bld.Y[FlowKey{I: a, J: x, T: 0, K: k}]
	require.True(t, ok, "y[A,X,0,k] must exist: X is a cross-dock transit point")

	xXB, ok := bld.X[ArcTick{I: x, J: b, T: 1}]
	require.True(t, ok, "x[X,B,1] must exist: trolley can depart X at tick 1 and meet deadline 3")
	yXB, ok := bld.Y[FlowKey{I: x, J: b, T: 1, K: k}]
	require.True(t, ok, "y[X,B,1,k] must exist: arrival tick 2 meets deadline tick 3")

	// There must be no usable direct A→B truck at all: this is what
	// forces the cross-dock leg in the first place.
	_, hasDirectX := bld.X[ArcTick{I: a, J: b, T: 0}]
	require.False(t, hasDirectX, "x[A,B,0] must not exist: travel(A,B)=10 ticks overruns the horizon")

	fb.Values[xAX] = 1
	fb.Values[yAX] = 1
	fb.Values[xXB] = 1
	fb.Values[yXB] = 1

	// The trolley dispatched from X at tick 1 arrives at B at tick 2
	// (travel(X,B)=1), one tick ahead of the commodity's deadline tick
	// 3. The flow-balance equation at B only releases an arrival on the
	// tick it lands, so the quantity must be carried in inventory until
	// the deadline-tick balance equation consumes it.
	zB2, ok := bld.Z[InventoryKey{I: b, T: 2, K: k}]
	require.True(t, ok, "z[B,2,k] must exist: arrival precedes the deadline tick")
	fb.Values[zB2] = 1

	evaluateConstraints(t, fb)
}

// findConstraint returns the single recorded constraint whose term
// list references every one of the given handles, failing the test if
// none or more than one match is found.
func findConstraint(t *testing.T, fb *solverdriver.FakeBackend, handles ...solverdriver.VarHandle) solverdriver.FakeConstraint {
	t.Helper()
	var match *solverdriver.FakeConstraint
	for i, c := range fb.Constraints {
		all := true
		for _, h := range handles {
			found := false
			for _, term := range c.Terms {
				if term.Variable == h {
					found = true
					break
				}
			}
			if !found {
				all = false
				break
			}
		}
		if all {
			if match != nil {
				t.Fatalf("multiple constraints reference handles %v", handles)
			}
			cCopy := fb.Constraints[i]
			match = &cCopy
		}
	}
	require.NotNil(t, match, "no constraint references handles %v", handles)
	return *match
}

// TestSparseVariableFilters implements spec §8 property 4: every
// materialised y must arrive within its commodity's deadline tick, and
// every materialised x must finish its travel within the tick horizon.
func TestSparseVariableFilters(t *testing.T) {
	net, a, b, k := twoLocationNetwork(t, 3, 6)

	// Register the reverse commodity so both directions are exercised.
	require.NoError(t, net.AddCommodity(a, 0, 6))
	kRev := network.Commodity{Target: a, Shift: 0}

	prep, err := trolley.Preprocess(net, []trolley.Trolley{
		{Source: a, Release: 0, Commodity: k},
		{Source: b, Release: 1, Commodity: kRev},
	}, trolley.ModeFilter)
	require.NoError(t, err)

	fb := solverdriver.NewFakeBackend()
	bld := New(net, prep, fb, DefaultPenalties(), nil, nil)
	require.NoError(t, bld.Build())

	tMin, tMax := bld.Horizon()

	for key := range bld.X {
		require.LessOrEqual(t, key.T+net.TravelTicks(key.I, key.J), tMax)
		require.GreaterOrEqual(t, key.T, tMin)
	}

	for key := range bld.Y {
		_, xExists := bld.X[ArcTick{I: key.I, J: key.J, T: key.T}]
		require.True(t, xExists, "y must not exist without its underlying x")

		travel := net.TravelTicks(key.I, key.J)
		deadline := net.DeadlineTick(key.K)
		if key.J == key.K.Target {
			require.LessOrEqual(t, key.T+travel, deadline)
			continue
		}
		require.True(t, net.IsCross(key.J), "y into a non-target must transit a cross-dock")
	}
}
