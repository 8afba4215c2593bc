package network

import (
	"fmt"
	"strconv"

	"github.com/katalvlaran/lvlath/bfs"
	"github.com/katalvlaran/lvlath/core"
)

// reachability is a thin wrapper around an unweighted, directed
// lvlath graph used only to answer "is every location reachable from
// every other one" before the (expensive) model build starts. It is
// deliberately unweighted: lvlath's bfs package refuses weighted
// graphs outright, and the real distances already live in Network's
// own float64 table for every tick computation.
type reachability struct {
	g *core.Graph
}

func newReachability() *reachability {
	return &reachability{g: core.NewGraph(core.WithDirected(true))}
}

func vertexID(loc int) string { return strconv.Itoa(loc) }

func (r *reachability) addVertex(loc int) {
	_ = r.g.AddVertex(vertexID(loc))
}

func (r *reachability) addEdge(source, target int) {
	_, _ = r.g.AddEdge(vertexID(source), vertexID(target), 0)
}

// validateReachability runs a BFS from every location and fails on the
// first location that cannot reach all the others.
func (r *reachability) validateReachability(locations []int) error {
	for _, start := range locations {
		result, err := bfs.BFS(r.g, vertexID(start))
		if err != nil {
			return fmt.Errorf("network: reachability check from location %d: %w", start, err)
		}
		for _, other := range locations {
			if other == start {
				continue
			}
			if _, ok := result.Depth[vertexID(other)]; !ok {
				return fmt.Errorf("network: location %d is unreachable from location %d", other, start)
			}
		}
	}
	return nil
}
