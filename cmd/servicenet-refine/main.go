// Command servicenet-refine runs the full C5 multi-resolution
// refinement loop (spec §4.5): a sequence of solves at decreasing tick
// sizes, each seeded by the previous level's truck schedule, down to a
// finest level that gets a long final run.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/parcelnet/servicenet/internal/modelbuild"
	"github.com/parcelnet/servicenet/internal/network"
	"github.com/parcelnet/servicenet/internal/refine"
	"github.com/parcelnet/servicenet/internal/scheduleio"
	"github.com/parcelnet/servicenet/internal/solverdriver"
	"github.com/parcelnet/servicenet/internal/trolley"
)

const (
	defaultProvider = "highs"
	defaultThreads  = 4

	exitCodeSuccess    = 0
	exitCodeParseError = 2
	exitCodeRunError   = 1
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

type options struct {
	networkPath  string
	tickZero     float64
	trolleysPath string

	outDir       string
	schedulePath string
	repair       bool
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

	if err := runRefine(opts, logger); err != nil {
		logger.Error("servicenet-refine: run failed", zap.Error(err))
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

	fs := flag.NewFlagSet("servicenet-refine", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.outDir, "o", ".", "directory to write the refinement's final truck schedule into")
	fs.StringVar(&opts.schedulePath, "s", "", "YAML refinement schedule (defaults to refine.DefaultSchedule)")
	fs.BoolVar(&opts.repair, "m", false, "repair infeasible trolleys instead of dropping them")
	fs.StringVar(&opts.provider, "provider", defaultProvider, "MIP solver provider")
	fs.IntVar(&opts.threads, "threads", defaultThreads, "solver thread count")
	fs.BoolVar(&opts.verbose, "v", false, "enable development (human-readable) logging")

	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("servicenet-refine: parsing flags: %w", err)
	}

	rest := fs.Args()
	if len(rest) != 3 {
		return options{}, fmt.Errorf(
			"servicenet-refine: usage: servicenet-refine <network> <tickZero> <trolleys> [-o DIR] [-s schedule.yaml] [-m]")
	}
	opts.networkPath = rest[0]
	opts.trolleysPath = rest[2]

	tickZero, err := strconv.ParseFloat(rest[1], 64)
	if err != nil {
		return options{}, fmt.Errorf("servicenet-refine: bad tickZero %q: %w", rest[1], err)
	}
	opts.tickZero = tickZero

	return opts, nil
}

func runRefine(opts options, logger *zap.Logger) error {
	schedule, err := loadSchedule(opts.schedulePath)
	if err != nil {
		return err
	}

	mode := trolley.ModeFilter
	if opts.repair {
		mode = trolley.ModeRepair
	}

	// The refinement loop calls instance synchronously, one level at a
	// time (spec §5: single-threaded orchestration), so lastNet is the
	// network of the last solve. The returned result may come from an
	// earlier solve; buildSchedule only reads arc distances from lastNet,
	// and those do not depend on the tick width.
	var lastNet *network.Network

	instance := func(tickHours float64) (*network.Network, []trolley.Trolley, error) {
		nf, err := os.Open(opts.networkPath)
		if err != nil {
			return nil, nil, fmt.Errorf("servicenet-refine: opening network file: %w", err)
		}
		defer nf.Close()

		net, err := network.Read(nf)
		if err != nil {
			return nil, nil, fmt.Errorf("servicenet-refine: reading network file: %w", err)
		}
		if err := net.SetDiscretization(tickHours, opts.tickZero); err != nil {
			return nil, nil, err
		}

		tf, err := os.Open(opts.trolleysPath)
		if err != nil {
			return nil, nil, fmt.Errorf("servicenet-refine: opening trolley stream: %w", err)
		}
		defer tf.Close()

		raw, err := trolley.ReadStream(net, tf)
		if err != nil {
			return nil, nil, fmt.Errorf("servicenet-refine: reading trolley stream: %w", err)
		}

		lastNet = net
		return net, raw, nil
	}

	loop := &refine.Loop{
		Schedule:  schedule,
		Instance:  instance,
		Backend:   func() solverdriver.Backend { return solverdriver.NewMIPBackend(opts.provider) },
		Penalties: modelbuild.DefaultPenalties(),
		Mode:      mode,
		Threads:   opts.threads,
		Logger:    logger,
	}

	result, err := loop.Run()
	if err != nil {
		return fmt.Errorf("servicenet-refine: %w", err)
	}
	if len(result.TruckCounts) == 0 {
		return fmt.Errorf("servicenet-refine: refinement produced no truck schedule")
	}

	schedule2 := buildSchedule(lastNet, result)
	path, err := scheduleio.WriteFile(opts.outDir, schedule2)
	if err != nil {
		return fmt.Errorf("servicenet-refine: writing final schedule: %w", err)
	}
	logger.Info("servicenet-refine: wrote final schedule",
		zap.String("path", path),
		zap.Float64("objective", result.Objective))
	return nil
}

func loadSchedule(path string) (refine.Schedule, error) {
	if path == "" {
		return refine.DefaultSchedule(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return refine.Schedule{}, fmt.Errorf("servicenet-refine: opening schedule %s: %w", path, err)
	}
	defer f.Close()
	return refine.LoadSchedule(f)
}

func buildSchedule(net *network.Network, result refine.LevelResult) scheduleio.Schedule {
	var distance float64
	for _, c := range result.TruckCounts {
		distance += float64(c.Count) * net.Distance(c.Source, c.Target)
	}
	return scheduleio.Schedule{
		Header: scheduleio.Header{
			Objective: result.Objective,
			Distance:  distance,
			Penalty:   result.Objective - distance,
		},
		TruckCounts: result.TruckCounts,
	}
}
