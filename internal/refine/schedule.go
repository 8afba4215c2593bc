// Package refine drives the multi-resolution refinement loop (spec
// §4.5): a sequence of solves at decreasing tick sizes, each seeded by
// the previous level's truck schedule and optionally restricted to
// previously used dispatch times.
package refine

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Level is one resolution step of the refinement schedule.
type Level struct {
	TickHours        float64 `yaml:"tickHours"`
	DeviationHours   float64 `yaml:"deviationHours"`
	TimeLimitSeconds int     `yaml:"timeLimitSeconds"`
	// BoundedRuns caps the number of same-level retries before forcing
	// an advance to the next level, 0 meaning "retry until the
	// improvement threshold is missed". On the finest level a nonzero
	// value instead runs exactly that many solves, then one long final
	// run with ten times TimeLimitSeconds. Only the finest level uses a
	// nonzero value in the recommended schedule (spec §4.5: "two
	// bounded runs; the final run has a long time limit").
	BoundedRuns int `yaml:"boundedRuns"`
}

// Schedule is the full plan the refinement loop drives.
type Schedule struct {
	Levels                   []Level `yaml:"levels"`
	ImprovementRho           float64 `yaml:"improvementRho"`
	SolutionTimeLimitSeconds int     `yaml:"solutionTimeLimitSeconds"`
}

// DefaultSchedule returns spec §4.5's recommended defaults: 2h until
// no improvement, then 1h until no improvement, then two bounded 0.5h
// runs followed by one long final run.
func DefaultSchedule() Schedule {
	return Schedule{
		Levels: []Level{
			{TickHours: 2.0, DeviationHours: 1.0, TimeLimitSeconds: 60},
			{TickHours: 1.0, DeviationHours: 1.1, TimeLimitSeconds: 60},
			{TickHours: 0.5, DeviationHours: 0.6, TimeLimitSeconds: 300, BoundedRuns: 2},
		},
		ImprovementRho:           0.01,
		SolutionTimeLimitSeconds: 30,
	}
}

// LoadSchedule decodes a YAML schedule so operators can tune levels,
// deviations, and time limits without a rebuild.
func LoadSchedule(r io.Reader) (Schedule, error) {
	var s Schedule
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return Schedule{}, fmt.Errorf("refine: decoding schedule: %w", err)
	}
	if len(s.Levels) == 0 {
		return Schedule{}, fmt.Errorf("refine: schedule has no levels")
	}
	if s.ImprovementRho <= 0 {
		return Schedule{}, fmt.Errorf("refine: improvementRho must be positive, got %v", s.ImprovementRho)
	}
	for i, lvl := range s.Levels {
		if lvl.TickHours <= 0 {
			return Schedule{}, fmt.Errorf("refine: level %d: tickHours must be positive", i)
		}
	}
	return s, nil
}
