package network

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) *Network {
	t.Helper()
	n := New()
	a, err := n.AddLocation(Location{Name: "A", SourceCapacity: 10, TargetCapacity: 10, NumDocks: 2})
	require.NoError(t, err)
	b, err := n.AddLocation(Location{Name: "B", SourceCapacity: 10, TargetCapacity: 10, NumDocks: 2})
	require.NoError(t, err)
	require.NoError(t, n.AddArc(a, b, 3.5))
	require.NoError(t, n.AddArc(b, a, 3.5))
	require.NoError(t, n.SetDiscretization(0.5, 0.25))
	require.NoError(t, n.SetTruckCapacity(4))
	require.NoError(t, n.SetLoadingTime(0.2))
	require.NoError(t, n.SetUnloadingTime(0.3))
	require.NoError(t, n.AddCommodity(b, 0, 12))
	require.NoError(t, n.Validate())
	return n
}

// TestTickRoundTrip implements spec §8 property 1.
func TestTickRoundTrip(t *testing.T) {
	n := buildSample(t)
	for tick := -5; tick <= 30; tick++ {
		require.Equal(t, tick, n.Tick(n.TickTime(tick)), "tick round trip failed for tick %d", tick)
	}
}

func TestLoadingAndUnloadingTicksSumExactly(t *testing.T) {
	n := New()
	_, err := n.AddLocation(Location{Name: "A"})
	require.NoError(t, err)
	require.NoError(t, n.SetDiscretization(0.5, 0))
	require.NoError(t, n.SetTruckCapacity(1))
	require.NoError(t, n.SetLoadingTime(0.2))
	require.NoError(t, n.SetUnloadingTime(0.3))

	combined := int(math.Ceil((0.2 + 0.3) / 0.5))
	require.Equal(t, combined, n.LoadingTicks()+n.UnloadingTicks())
}

func TestRequireReadyRejectsIncompleteSetup(t *testing.T) {
	n := New()
	_, err := n.AddLocation(Location{Name: "A"})
	require.NoError(t, err)
	require.Error(t, n.Validate(), "Validate must fail before discretisation/truckCap/loading/unloading are all set")

	require.NoError(t, n.SetDiscretization(1, 0))
	require.Error(t, n.Validate(), "still missing truck capacity")

	require.NoError(t, n.SetTruckCapacity(1))
	require.NoError(t, n.SetLoadingTime(0))
	require.Error(t, n.Validate(), "still missing unloading time")
}

func TestValidateCatchesMissingDistance(t *testing.T) {
	n := New()
	a, err := n.AddLocation(Location{Name: "A"})
	require.NoError(t, err)
	_, err = n.AddLocation(Location{Name: "B"})
	require.NoError(t, err)
	require.NoError(t, n.AddArc(a, 1, 1))
	// The reverse arc (B -> A) is never recorded: the arc set is
	// required to be complete on every ordered, distinct pair.
	require.NoError(t, n.SetDiscretization(1, 0))
	require.NoError(t, n.SetTruckCapacity(1))
	require.NoError(t, n.SetLoadingTime(0))
	require.NoError(t, n.SetUnloadingTime(0))
	require.Error(t, n.Validate())
}

func TestAddArcRejectsSelfLoopAndNegativeDistance(t *testing.T) {
	n := New()
	a, err := n.AddLocation(Location{Name: "A"})
	require.NoError(t, err)
	b, err := n.AddLocation(Location{Name: "B"})
	require.NoError(t, err)
	require.Error(t, n.AddArc(a, a, 1))
	require.Error(t, n.AddArc(a, b, -1))
}

func TestFindReturnsNegativeOneForUnknownName(t *testing.T) {
	n := buildSample(t)
	require.Equal(t, -1, n.Find("nowhere"))
}
