package trolley

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parcelnet/servicenet/internal/network"
)

func buildTwoLoc(t *testing.T, deadline float64) (*network.Network, int, int, network.Commodity) {
	t.Helper()
	n := network.New()
	a, err := n.AddLocation(network.Location{Name: "A", SourceCapacity: 100, TargetCapacity: 100, NumDocks: 5})
	require.NoError(t, err)
	b, err := n.AddLocation(network.Location{Name: "B", SourceCapacity: 100, TargetCapacity: 100, NumDocks: 5})
	require.NoError(t, err)
	require.NoError(t, n.AddArc(a, b, 2))
	require.NoError(t, n.AddArc(b, a, 2))
	require.NoError(t, n.SetDiscretization(1, 0))
	require.NoError(t, n.SetTruckCapacity(4))
	require.NoError(t, n.SetLoadingTime(0.1))
	require.NoError(t, n.SetUnloadingTime(0.1))
	k := network.Commodity{Target: b, Shift: 0}
	require.NoError(t, n.AddCommodity(b, 0, deadline))
	require.NoError(t, n.Validate())
	return n, a, b, k
}

func TestPreprocess_DegenerateTrolleyAlwaysDropped(t *testing.T) {
	n, a, _, _ := buildTwoLoc(t, 10)
	selfK := network.Commodity{Target: a, Shift: 0}
	require.NoError(t, n.AddCommodity(a, 0, 10))

	raw := []Trolley{{Source: a, Release: 0, Commodity: selfK}}
	res, err := Preprocess(n, raw, ModeFilter)
	require.NoError(t, err)
	require.Equal(t, 1, res.DroppedDegenerate)
	require.Empty(t, res.Kept)
}

// TestPreprocess_DeliverabilityInvariant implements spec §8 property 2:
// every kept trolley's release tick plus its travel ticks must not
// exceed its commodity's deadline tick.
func TestPreprocess_DeliverabilityInvariant(t *testing.T) {
	n, a, b, k := buildTwoLoc(t, 10)
	raw := []Trolley{
		{Source: a, Release: 0, Commodity: k},
		{Source: a, Release: 3, Commodity: k},
		{Source: a, Release: 9, Commodity: k}, // infeasible: release 9 + travel > deadline 10
	}
	res, err := Preprocess(n, raw, ModeFilter)
	require.NoError(t, err)
	require.Equal(t, 1, res.DroppedInfeasible)
	require.Len(t, res.Kept, 2)

	travel := n.TravelTicks(a, b)
	deadlineTick := n.DeadlineTick(k)
	for _, kept := range res.Kept {
		require.LessOrEqual(t, n.Tick(kept.Release)+travel, deadlineTick)
	}
}

// TestPreprocess_AggregateConservation implements spec §8 property 3:
// total production must equal total demand after preprocessing.
func TestPreprocess_AggregateConservation(t *testing.T) {
	n, a, _, k := buildTwoLoc(t, 10)
	raw := []Trolley{
		{Source: a, Release: 0, Commodity: k},
		{Source: a, Release: 1, Commodity: k},
		{Source: a, Release: 2, Commodity: k},
	}
	res, err := Preprocess(n, raw, ModeFilter)
	require.NoError(t, err)

	var totalProduction int
	for _, v := range res.Production {
		totalProduction += v
	}
	require.Equal(t, totalProduction, res.Demand[k])
	require.Equal(t, len(res.Kept), res.Demand[k])
}

// TestPreprocess_S4RepairMode implements scenario S4: an infeasible
// trolley is advanced to the latest release that still meets its
// deadline, instead of being dropped.
func TestPreprocess_S4RepairMode(t *testing.T) {
	n, a, b, k := buildTwoLoc(t, 10)
	raw := []Trolley{{Source: a, Release: 9, Commodity: k}}

	res, err := Preprocess(n, raw, ModeRepair)
	require.NoError(t, err)
	require.Equal(t, 1, res.Repaired)
	require.Zero(t, res.DroppedInfeasible)
	require.Len(t, res.Kept, 1)

	travel := n.TravelTicks(a, b)
	deadlineTick := n.DeadlineTick(k)
	repairedTick := n.Tick(res.Kept[0].Release)
	require.Equal(t, deadlineTick-travel, repairedTick)
	require.LessOrEqual(t, repairedTick+travel, deadlineTick)
}

func TestPreprocess_UnknownModeErrors(t *testing.T) {
	n, a, _, k := buildTwoLoc(t, 10)
	raw := []Trolley{{Source: a, Release: 9, Commodity: k}}
	_, err := Preprocess(n, raw, Mode(99))
	require.Error(t, err)
}
