// Package modelbuild instantiates the sparse variable index sets and
// the five families of linear constraints described in spec §4.3, on
// top of a solverdriver.Backend.
package modelbuild

import "github.com/parcelnet/servicenet/internal/network"

// ArcTick indexes a truck-dispatch variable x[i,j,t].
type ArcTick struct {
	I, J, T int
}

// FlowKey indexes a flow variable y[i,j,t,k].
type FlowKey struct {
	I, J, T int
	K       network.Commodity
}

// InventoryKey indexes an inventory variable z[i,t,k].
type InventoryKey struct {
	I, T int
	K    network.Commodity
}

// ProductionKey indexes a non-production slack variable np[i,t,k]; it
// only exists where production[i,t,k] > 0.
type ProductionKey = InventoryKey
