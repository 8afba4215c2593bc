package refine

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/parcelnet/servicenet/internal/modelbuild"
	"github.com/parcelnet/servicenet/internal/network"
	"github.com/parcelnet/servicenet/internal/solverdriver"
	"github.com/parcelnet/servicenet/internal/trolley"
)

// Instance builds a network discretised at the given tick width and
// the raw trolleys to preprocess against it. The loop calls this fresh
// for every solve, since the tick horizon and every derived index
// changes with tickHours.
type Instance func(tickHours float64) (*network.Network, []trolley.Trolley, error)

// BackendFactory returns a fresh solverdriver.Backend for one solve; a
// new one is required per iteration since model state is scoped to a
// single run (spec §5, "resource ownership").
type BackendFactory func() solverdriver.Backend

// LevelResult is the outcome of one solve.
type LevelResult struct {
	Objective   float64
	TruckCounts []modelbuild.TruckCount
	Status      solverdriver.Status
}

// Loop drives the C5 state machine described in spec §4.5.
type Loop struct {
	Schedule  Schedule
	Instance  Instance
	Backend   BackendFactory
	Penalties modelbuild.Penalties
	Mode      trolley.Mode
	Threads   int
	MIPFocus  string
	Logger    *zap.Logger
}

func (l *Loop) logger() *zap.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return zap.NewNop()
}

// Run executes the full schedule and returns the last accepted result:
// the most recent solve that improved on the running best by at least
// ImprovementRho. A solve that is lower by less than that is not
// returned.
// It returns an error only for a hard failure (bad instance data, a
// solver crash surfaced through the circuit breaker); a level that
// solves to Infeasible simply stops contributing further improvement
// and the loop falls through to the next level, per spec §7.
func (l *Loop) Run() (LevelResult, error) {
	logger := l.logger()

	var best LevelResult
	haveBest := false
	var restriction *modelbuild.Restriction
	var prevCounts []modelbuild.TruckCount

	for levelIdx, level := range l.Schedule.Levels {
		isFinest := levelIdx == len(l.Schedule.Levels)-1
		timeLimit := time.Duration(level.TimeLimitSeconds) * time.Second
		solutionTimeLimit := time.Duration(l.Schedule.SolutionTimeLimitSeconds) * time.Second

		for run := 0; ; run++ {
			effectiveTimeLimit := timeLimit
			longFinalRun := isFinest && level.BoundedRuns > 0 && run == level.BoundedRuns
			if longFinalRun {
				effectiveTimeLimit = timeLimit * 10
			}

			result, nextRestriction, err := l.solveOnce(level, effectiveTimeLimit, solutionTimeLimit, restriction, prevCounts)
			if err != nil {
				return LevelResult{}, err
			}
			if !result.Status.HasSolution() {
				logger.Warn("refine: level produced no solution",
					zap.Int("level", levelIdx), zap.Int("run", run))
				break
			}

			improved := !haveBest || result.Objective <= best.Objective*(1-l.Schedule.ImprovementRho)
			logger.Info("refine: solved",
				zap.Int("level", levelIdx),
				zap.Int("run", run),
				zap.Float64("tickHours", level.TickHours),
				zap.Float64("objective", result.Objective),
				zap.Bool("improved", improved))

			// Only an improving result replaces best, per spec §4.5 —
			// a finer level is free to try a worse configuration on
			// its way to a better one, but Run must never hand back
			// something an earlier level already beat. The truck
			// counts and restriction still carry forward regardless,
			// since they seed the next solve's warm start, not the
			// reported result.
			if improved {
				best = result
			}
			restriction = nextRestriction
			prevCounts = result.TruckCounts
			haveBest = true

			if longFinalRun {
				break
			}
			if isFinest && level.BoundedRuns > 0 {
				continue // the bounded runs lead on to the long final run
			}
			if level.BoundedRuns > 0 && run+1 >= level.BoundedRuns {
				break
			}
			if !improved {
				break
			}
		}
	}

	return best, nil
}

func (l *Loop) solveOnce(level Level, timeLimit, solutionTimeLimit time.Duration, restriction *modelbuild.Restriction, prevCounts []modelbuild.TruckCount) (LevelResult, *modelbuild.Restriction, error) {
	net, raw, err := l.Instance(level.TickHours)
	if err != nil {
		return LevelResult{}, nil, fmt.Errorf("refine: building instance at tickHours=%v: %w", level.TickHours, err)
	}
	if err := net.Validate(); err != nil {
		return LevelResult{}, nil, fmt.Errorf("refine: validating network: %w", err)
	}

	prep, err := trolley.Preprocess(net, raw, l.Mode)
	if err != nil {
		return LevelResult{}, nil, fmt.Errorf("refine: preprocessing trolleys: %w", err)
	}

	var levelRestriction *modelbuild.Restriction
	if restriction != nil {
		levelRestriction = &modelbuild.Restriction{Allowed: restriction.Allowed, Deviation: level.DeviationHours}
	}

	var warmStart map[modelbuild.ArcTick]int
	if len(prevCounts) > 0 {
		warmStart = modelbuild.ScheduleWarmStart(net, prevCounts)
	} else {
		warmStart = modelbuild.GreedyWarmStart(net, prep)
	}

	backend := l.Backend()
	bld := modelbuild.New(net, prep, backend, l.Penalties, levelRestriction, warmStart)
	if err := bld.Build(); err != nil {
		return LevelResult{}, nil, fmt.Errorf("refine: building model: %w", err)
	}

	driver := solverdriver.New(backend)
	solved, err := driver.Solve(timeLimit, solutionTimeLimit, l.Threads, l.MIPFocus)
	if err != nil {
		return LevelResult{}, nil, fmt.Errorf("refine: solving: %w", err)
	}
	if !solved.Status.HasSolution() {
		return LevelResult{Status: solved.Status}, nil, nil
	}

	counts, err := extractTruckCounts(net, bld, driver)
	if err != nil {
		return LevelResult{}, nil, err
	}

	return LevelResult{
		Objective:   solved.Objective,
		TruckCounts: counts,
		Status:      solved.Status,
	}, restrictionFromCounts(counts, level.DeviationHours), nil
}

func extractTruckCounts(net *network.Network, bld *modelbuild.Builder, driver *solverdriver.Driver) ([]modelbuild.TruckCount, error) {
	var out []modelbuild.TruckCount
	for key, handle := range bld.X {
		v, err := driver.Value(handle)
		if err != nil {
			return nil, fmt.Errorf("refine: reading x[%d,%d,%d]: %w", key.I, key.J, key.T, err)
		}
		count := int(math.Round(v))
		if count <= 0 {
			continue
		}
		out = append(out, modelbuild.TruckCount{
			Source: key.I,
			Target: key.J,
			Time:   net.TickTime(key.T),
			Count:  count,
		})
	}
	return out, nil
}

func restrictionFromCounts(counts []modelbuild.TruckCount, deviation float64) *modelbuild.Restriction {
	allowed := make(map[modelbuild.ArcKey][]float64)
	for _, c := range counts {
		key := modelbuild.ArcKey{I: c.Source, J: c.Target}
		allowed[key] = append(allowed[key], c.Time)
	}
	return &modelbuild.Restriction{Allowed: allowed, Deviation: deviation}
}
