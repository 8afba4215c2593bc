// Command servicenet runs a single resolution of the service-network
// design model: read a network and a trolley stream, build and solve
// one MIP, optionally write the resulting truck schedule.
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/parcelnet/servicenet/internal/modelbuild"
	"github.com/parcelnet/servicenet/internal/network"
	"github.com/parcelnet/servicenet/internal/scheduleio"
	"github.com/parcelnet/servicenet/internal/solverdriver"
	"github.com/parcelnet/servicenet/internal/trolley"
)

const (
	defaultTimeLimit = 60 * time.Second
	defaultThreads   = 4
	defaultProvider  = "highs"

	exitCodeSuccess    = 0
	exitCodeParseError = 2
	exitCodeRunError   = 1
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

type options struct {
	networkPath  string
	tickHours    float64
	tickZero     float64
	trolleysPath string

	outPath      string
	inPath       string
	timeLimit    time.Duration
	deviation    float64
	repair       bool
	warmFromFile bool
	provider     string
	threads      int
	verbose      bool
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitCodeParseError
	}

	logger := newLogger(opts.verbose)
	defer func() { _ = logger.Sync() }()

	if err := runSolve(opts, logger); err != nil {
		logger.Error("servicenet: run failed", zap.Error(err))
		return exitCodeRunError
	}
	return exitCodeSuccess
}

func newLogger(verbose bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func parseArgs(args []string) (options, error) {
	var opts options
	var timeLimitSeconds float64

	fs := flag.NewFlagSet("servicenet", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.outPath, "o", "", "write the resulting truck schedule to this file")
	fs.StringVar(&opts.inPath, "i", "", "read a prior truck schedule from this file")
	fs.Float64Var(&timeLimitSeconds, "t", defaultTimeLimit.Seconds(), "solver time limit in seconds")
	fs.Float64Var(&opts.deviation, "d", 0, "allowed-truck deviation in hours, relative to -i")
	fs.BoolVar(&opts.repair, "m", false, "repair infeasible trolleys instead of dropping them")
	fs.BoolVar(&opts.warmFromFile, "c", false, "warm-start x from the truck counts read via -i")
	fs.StringVar(&opts.provider, "provider", defaultProvider, "MIP solver provider")
	fs.IntVar(&opts.threads, "threads", defaultThreads, "solver thread count")
	fs.BoolVar(&opts.verbose, "v", false, "enable development (human-readable) logging")

	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("servicenet: parsing flags: %w", err)
	}
	opts.timeLimit = time.Duration(timeLimitSeconds * float64(time.Second))

	rest := fs.Args()
	if len(rest) != 4 {
		return options{}, fmt.Errorf(
			"servicenet: usage: servicenet <network> <tickHours> <tickZero> <trolleys> [-o FILE] [-i FILE] [-t seconds] [-d deviationHours] [-m] [-c]")
	}
	opts.networkPath = rest[0]
	opts.trolleysPath = rest[3]

	tickHours, err := strconv.ParseFloat(rest[1], 64)
	if err != nil {
		return options{}, fmt.Errorf("servicenet: bad tickHours %q: %w", rest[1], err)
	}
	opts.tickHours = tickHours

	tickZero, err := strconv.ParseFloat(rest[2], 64)
	if err != nil {
		return options{}, fmt.Errorf("servicenet: bad tickZero %q: %w", rest[2], err)
	}
	opts.tickZero = tickZero

	return opts, nil
}

func runSolve(opts options, logger *zap.Logger) error {
	net, prep, err := loadInstance(opts, logger)
	if err != nil {
		return err
	}

	restriction, warmStart, err := loadWarmStart(net, prep, opts)
	if err != nil {
		return err
	}

	backend := solverdriver.NewMIPBackend(opts.provider)
	bld := modelbuild.New(net, prep, backend, modelbuild.DefaultPenalties(), restriction, warmStart)
	if err := bld.Build(); err != nil {
		return fmt.Errorf("servicenet: building model: %w", err)
	}

	driver := solverdriver.New(backend)
	result, err := driver.Solve(opts.timeLimit, 0, opts.threads, "")
	if err != nil {
		return fmt.Errorf("servicenet: solving: %w", err)
	}
	if !result.Status.HasSolution() {
		return fmt.Errorf("servicenet: solver returned status %v with no solution", result.Status)
	}

	logger.Info("servicenet: solved",
		zap.Int("status", int(result.Status)),
		zap.Float64("objective", result.Objective),
		zap.Duration("runtime", result.RunTime))

	if opts.outPath != "" {
		schedule, err := buildSchedule(net, bld, driver, result)
		if err != nil {
			return fmt.Errorf("servicenet: extracting schedule: %w", err)
		}
		if err := writeSchedule(opts.outPath, schedule); err != nil {
			return fmt.Errorf("servicenet: writing %s: %w", opts.outPath, err)
		}
	}
	return nil
}

func loadInstance(opts options, logger *zap.Logger) (*network.Network, trolley.Result, error) {
	nf, err := os.Open(opts.networkPath)
	if err != nil {
		return nil, trolley.Result{}, fmt.Errorf("servicenet: opening network file: %w", err)
	}
	defer nf.Close()

	net, err := network.Read(nf)
	if err != nil {
		return nil, trolley.Result{}, fmt.Errorf("servicenet: reading network file: %w", err)
	}
	if err := net.SetDiscretization(opts.tickHours, opts.tickZero); err != nil {
		return nil, trolley.Result{}, fmt.Errorf("servicenet: %w", err)
	}
	if err := net.Validate(); err != nil {
		return nil, trolley.Result{}, fmt.Errorf("servicenet: validating network: %w", err)
	}

	tf, err := os.Open(opts.trolleysPath)
	if err != nil {
		return nil, trolley.Result{}, fmt.Errorf("servicenet: opening trolley stream: %w", err)
	}
	defer tf.Close()

	raw, err := trolley.ReadStream(net, tf)
	if err != nil {
		return nil, trolley.Result{}, fmt.Errorf("servicenet: reading trolley stream: %w", err)
	}

	mode := trolley.ModeFilter
	if opts.repair {
		mode = trolley.ModeRepair
	}
	prep, err := trolley.Preprocess(net, raw, mode)
	if err != nil {
		return nil, trolley.Result{}, fmt.Errorf("servicenet: preprocessing trolleys: %w", err)
	}
	logger.Info("servicenet: preprocessed trolleys",
		zap.Int("kept", len(prep.Kept)),
		zap.Int("droppedDegenerate", prep.DroppedDegenerate),
		zap.Int("droppedInfeasible", prep.DroppedInfeasible),
		zap.Int("repaired", prep.Repaired))

	return net, prep, nil
}

func loadWarmStart(net *network.Network, prep trolley.Result, opts options) (*modelbuild.Restriction, map[modelbuild.ArcTick]int, error) {
	if opts.inPath == "" {
		return nil, modelbuild.GreedyWarmStart(net, prep), nil
	}

	schedule, err := scheduleio.ReadFile(opts.inPath)
	if err != nil {
		return nil, nil, fmt.Errorf("servicenet: reading truck schedule %s: %w", opts.inPath, err)
	}

	restriction := restrictionFrom(schedule.TruckCounts, opts.deviation)

	if opts.warmFromFile {
		return restriction, modelbuild.ScheduleWarmStart(net, schedule.TruckCounts), nil
	}
	return restriction, modelbuild.GreedyWarmStart(net, prep), nil
}

func restrictionFrom(counts []modelbuild.TruckCount, deviation float64) *modelbuild.Restriction {
	allowed := make(map[modelbuild.ArcKey][]float64)
	for _, c := range counts {
		key := modelbuild.ArcKey{I: c.Source, J: c.Target}
		allowed[key] = append(allowed[key], c.Time)
	}
	return &modelbuild.Restriction{Allowed: allowed, Deviation: deviation}
}

func buildSchedule(net *network.Network, bld *modelbuild.Builder, driver *solverdriver.Driver, result solverdriver.Result) (scheduleio.Schedule, error) {
	var counts []modelbuild.TruckCount
	var distance float64
	for key, h := range bld.X {
		v, err := driver.Value(h)
		if err != nil {
			return scheduleio.Schedule{}, err
		}
		count := int(math.Round(v))
		if count <= 0 {
			continue
		}
		counts = append(counts, modelbuild.TruckCount{
			Source: key.I, Target: key.J, Time: net.TickTime(key.T), Count: count,
		})
		distance += float64(count) * net.Distance(key.I, key.J)
	}

	var undelivered float64
	for _, h := range bld.ND {
		v, err := driver.Value(h)
		if err != nil {
			return scheduleio.Schedule{}, err
		}
		undelivered += v
	}
	var unproduced float64
	for _, h := range bld.NP {
		v, err := driver.Value(h)
		if err != nil {
			return scheduleio.Schedule{}, err
		}
		unproduced += v
	}

	var flows []scheduleio.FlowRecord
	for key, h := range bld.Y {
		v, err := driver.Value(h)
		if err != nil {
			return scheduleio.Schedule{}, err
		}
		if v <= 0 {
			continue
		}
		flows = append(flows, scheduleio.FlowRecord{
			Source: key.I, Dest: key.J, Target: key.K.Target, Shift: key.K.Shift,
			Time: net.TickTime(key.T), Trolleys: v,
		})
	}

	return scheduleio.Schedule{
		Header: scheduleio.Header{
			Objective:   result.Objective,
			Distance:    distance,
			Penalty:     result.Objective - distance,
			Unproduced:  int(math.Round(unproduced)),
			Undelivered: int(math.Round(undelivered)),
		},
		TruckCounts: counts,
		Flows:       flows,
	}, nil
}

// writeSchedule writes directly to the path the caller named with -o.
// Unlike internal/scheduleio.WriteFile (used by the refinement loop to
// give every iteration its own uuid-suffixed artefact in a shared
// directory), a single servicenet run writes exactly the file the
// operator asked for.
func writeSchedule(path string, schedule scheduleio.Schedule) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := scheduleio.Write(f, schedule); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
