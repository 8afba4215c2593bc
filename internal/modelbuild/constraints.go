package modelbuild

import (
	"github.com/parcelnet/servicenet/internal/network"
	"github.com/parcelnet/servicenet/internal/solverdriver"
	"github.com/parcelnet/servicenet/internal/trolley"
)

// buildTruckCapacityConstraints adds, for every materialised x[i,j,t]:
//
//	Σ_k y[i,j,t,k] ≤ truckCapacity · x[i,j,t]
func (b *Builder) buildTruckCapacityConstraints() error {
	cap := float64(b.net.TruckCapacity())
	for arcTick, xHandle := range b.X {
		terms := make([]solverdriver.Term, 0, len(b.net.Commodities())+1)
		for _, k := range b.net.Commodities() {
			if yHandle, ok := b.Y[FlowKey{I: arcTick.I, J: arcTick.J, T: arcTick.T, K: k}]; ok {
				terms = append(terms, solverdriver.Term{Coefficient: 1, Variable: yHandle})
			}
		}
		terms = append(terms, solverdriver.Term{Coefficient: -cap, Variable: xHandle})
		if err := b.backend.AddConstraint(solverdriver.LessThanOrEqual, 0, terms); err != nil {
			return err
		}
	}
	return nil
}

// buildDockingConstraints adds, for every location i and tick t, the
// consolidated form spec §9 insists implementers preserve exactly:
// trucks currently loading at i plus trucks currently unloading at i
// may not exceed the scaled dock count plus any granted extra docks.
func (b *Builder) buildDockingConstraints() error {
	loadingTicks := b.net.LoadingTicks()
	unloadingTicks := b.net.UnloadingTicks()
	locs := b.net.Locations()

	for _, i := range locs {
		for t := b.tMin; t <= b.tMax; t++ {
			var terms []solverdriver.Term

			// Trucks being loaded at i: dispatched from i within the
			// last loadingTicks ticks.
			for _, j := range locs {
				if j == i {
					continue
				}
				for eta := 0; eta < loadingTicks; eta++ {
					if h, ok := b.X[ArcTick{I: i, J: j, T: t - eta}]; ok {
						terms = append(terms, solverdriver.Term{Coefficient: 1, Variable: h})
					}
				}
			}

			// Trucks being unloaded at i: arrived from j and still
			// occupying a dock within the last unloadingTicks ticks.
			for _, j := range locs {
				if j == i {
					continue
				}
				travel := b.net.TravelTicks(j, i)
				for eta := 0; eta < unloadingTicks; eta++ {
					dispatchTick := t - travel + unloadingTicks - eta
					if h, ok := b.X[ArcTick{I: j, J: i, T: dispatchTick}]; ok {
						terms = append(terms, solverdriver.Term{Coefficient: 1, Variable: h})
					}
				}
			}

			terms = append(terms, solverdriver.Term{Coefficient: -1, Variable: b.ED[i]})
			rhs := float64(b.net.NumDocksPerTick(i))
			if err := b.backend.AddConstraint(solverdriver.LessThanOrEqual, rhs, terms); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildFlowBalanceConstraints adds, for every (i,t,k):
//
//	z[i,t,k] − z[i,t−1,k] + Σ_j y[i,j,t,k] − Σ_j y[j,i,t−travelTicks(j,i),k]
//	  = production[i,t,k] − np[i,t,k] − (demand[k] − nd[k] if i=target(k),t=deadlineTick(k) else 0)
//
// z below tMin reads as structural zero, matching spec §4.3.
func (b *Builder) buildFlowBalanceConstraints() error {
	locs := b.net.Locations()
	for _, i := range locs {
		for t := b.tMin; t <= b.tMax; t++ {
			for _, k := range b.net.Commodities() {
				if err := b.addFlowBalanceConstraint(i, t, k, locs); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (b *Builder) addFlowBalanceConstraint(i, t int, k network.Commodity, locs []int) error {
	var terms []solverdriver.Term

	zHandle := b.Z[InventoryKey{I: i, T: t, K: k}]
	terms = append(terms, solverdriver.Term{Coefficient: 1, Variable: zHandle})
	if prev, ok := b.Z[InventoryKey{I: i, T: t - 1, K: k}]; ok && t-1 >= b.tMin {
		terms = append(terms, solverdriver.Term{Coefficient: -1, Variable: prev})
	}

	for _, j := range locs {
		if j == i {
			continue
		}
		if h, ok := b.Y[FlowKey{I: i, J: j, T: t, K: k}]; ok {
			terms = append(terms, solverdriver.Term{Coefficient: 1, Variable: h})
		}
	}
	for _, j := range locs {
		if j == i {
			continue
		}
		travel := b.net.TravelTicks(j, i)
		if h, ok := b.Y[FlowKey{I: j, J: i, T: t - travel, K: k}]; ok {
			terms = append(terms, solverdriver.Term{Coefficient: -1, Variable: h})
		}
	}

	if npHandle, ok := b.NP[ProductionKey{I: i, T: t, K: k}]; ok {
		terms = append(terms, solverdriver.Term{Coefficient: 1, Variable: npHandle})
	}

	rhs := float64(b.productionAt(i, t, k))
	applicable := k.Target == i && t == b.net.DeadlineTick(k)
	if applicable {
		terms = append(terms, solverdriver.Term{Coefficient: -1, Variable: b.ND[k]})
		rhs -= float64(b.prep.Demand[k])
	}

	return b.backend.AddConstraint(solverdriver.Equal, rhs, terms)
}

// buildSourceCapacityConstraints adds, for every (i,t):
//
//	Σ_{k: target(k) ≠ i} z[i,t,k] ≤ sourceCapacity(i) + crossCapacity(i)
func (b *Builder) buildSourceCapacityConstraints() error {
	for _, i := range b.net.Locations() {
		for t := b.tMin; t <= b.tMax; t++ {
			var terms []solverdriver.Term
			for _, k := range b.net.Commodities() {
				if k.Target == i {
					continue
				}
				if h, ok := b.Z[InventoryKey{I: i, T: t, K: k}]; ok {
					terms = append(terms, solverdriver.Term{Coefficient: 1, Variable: h})
				}
			}
			rhs := float64(b.net.SourceCapacity(i) + b.net.CrossCapacity(i))
			if err := b.backend.AddConstraint(solverdriver.LessThanOrEqual, rhs, terms); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildTargetCapacityConstraints adds, for every (i,t):
//
//	Σ_j Σ_{k:target(k)=i} y[j,i,t−travelTicks(j,i),k]
//	  + Σ_{k:target(k)=i, t<deadlineTick(k)} z[i,t,k] ≤ targetCapacity(i)
func (b *Builder) buildTargetCapacityConstraints() error {
	locs := b.net.Locations()
	for _, i := range locs {
		for t := b.tMin; t <= b.tMax; t++ {
			var terms []solverdriver.Term
			for _, j := range locs {
				if j == i {
					continue
				}
				travel := b.net.TravelTicks(j, i)
				for _, k := range b.net.Commodities() {
					if k.Target != i {
						continue
					}
					if h, ok := b.Y[FlowKey{I: j, J: i, T: t - travel, K: k}]; ok {
						terms = append(terms, solverdriver.Term{Coefficient: 1, Variable: h})
					}
				}
			}
			for _, k := range b.net.Commodities() {
				if k.Target != i || t >= b.net.DeadlineTick(k) {
					continue
				}
				if h, ok := b.Z[InventoryKey{I: i, T: t, K: k}]; ok {
					terms = append(terms, solverdriver.Term{Coefficient: 1, Variable: h})
				}
			}
			rhs := float64(b.net.TargetCapacity(i))
			if err := b.backend.AddConstraint(solverdriver.LessThanOrEqual, rhs, terms); err != nil {
				return err
			}
		}
	}
	return nil
}

// productionAt returns production[i,t,k], defaulting to 0 when the
// tuple was never a production key (no kept trolley was released
// there at that tick for that commodity).
func (b *Builder) productionAt(i, t int, k network.Commodity) int {
	return b.prep.Production[trolley.ProductionKey{Location: i, Tick: t, Commodity: k}]
}
