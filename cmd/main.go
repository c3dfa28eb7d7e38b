// Command constellation drives the satellite-constellation simulation of
// spec.md §6: loads a configuration document, builds the constellation,
// optionally serves a live dashboard, runs to completion, and persists CSV
// reports -- the same init()-flags / runApp() error-returning shape as
// tabular/main.go, with explicit exit codes added since spec.md §6's
// 0/3/-1 contract is stricter than the teacher's own bare `main`.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	channerics "github.com/niceyeti/channerics/channels"

	"constellation/config"
	"constellation/dashboard"
	"constellation/reporter"
	"constellation/sim"
)

var (
	help        bool
	testPayoff  bool
	random      bool
	parseTLE    string
	configPath  string
	outDir      string
	systemYaml  string
	graphicsOn  bool
	graphicsSet bool
	shareLUT    bool
	shmSet      bool
	simpleLog   bool
	dbgRootdir  string
)

func init() {
	flag.BoolVar(&help, "h", false, "print usage and exit")
	flag.BoolVar(&help, "help", false, "print usage and exit")
	flag.BoolVar(&testPayoff, "tp", false, "test-payoff mode: replace the configured payoff curve with a constant-slope one")
	flag.BoolVar(&random, "random", false, "random-behaviour mode (randomised constellation overrides)")
	flag.StringVar(&parseTLE, "parse-tle", "", "load a pre-parsed orbital-elements file instead of -f's motion section")
	flag.StringVar(&configPath, "f", "./config.yaml", "path to the run's configuration document")
	flag.StringVar(&outDir, "d", "./out", "output directory for CSV reports")
	flag.StringVar(&systemYaml, "l", "", "load and cross-check agent configuration from a system.yml")
	flag.BoolVar(&graphicsOn, "g1", false, "force-enable the live dashboard")
	flag.BoolVar(&graphicsSet, "g0", false, "force-disable the live dashboard")
	flag.BoolVar(&shareLUT, "shm1", true, "share one precomputed cell LUT across all agents")
	flag.BoolVar(&shmSet, "shm0", false, "replicate the cell LUT per agent instead of sharing it")
	flag.BoolVar(&simpleLog, "simple-log", false, "use a terse, timestamp-free log format")
	flag.StringVar(&dbgRootdir, "dbg-rootdir", "", "root directory for ad hoc debug artifacts")
	flag.Parse()
}

// exitMismatch is spec.md §6's exit code 3: "agent-count mismatch in
// loaded config".
const exitMismatch = 3

func main() {
	if help {
		flag.Usage()
		os.Exit(0)
	}

	if simpleLog {
		log.SetFlags(0)
	}

	if err := runApp(); err != nil {
		fmt.Println(err)
		if err == errAgentCountMismatch {
			os.Exit(exitMismatch)
		}
		os.Exit(-1)
	}
}

var errAgentCountMismatch = fmt.Errorf("agent count mismatch between -f config and -l system.yml")

func runApp() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if systemYaml != "" {
		other, err := config.Load(systemYaml)
		if err != nil {
			return err
		}
		if other.System.NumAgents != cfg.System.NumAgents {
			return errAgentCountMismatch
		}
	}

	if parseTLE != "" {
		tle, err := config.Load(parseTLE)
		if err != nil {
			return err
		}
		cfg.Agent.Motion = tle.Agent.Motion
	}

	if testPayoff {
		// -tp: replace the configured payoff curve with a trivial constant
		// slope, isolating the scheduler/GA loop from payoff-model tuning
		// during manual testing.
		cfg.Environment.Payoff = config.PayoffConfig{Type: "constant_slope", Slope: 1, GoalMin: 0, GoalMax: 10, GoalTarget: 5}
	}

	seed := int64(1)
	if random {
		seed = time.Now().UnixNano()
	}

	numAgents := cfg.System.NumAgents
	s, err := sim.NewWithLUTSharing(cfg, numAgents, seed, shareLUT && !shmSet)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", outDir, err)
	}
	if dbgRootdir != "" {
		if err := os.MkdirAll(dbgRootdir, 0o755); err != nil {
			return fmt.Errorf("creating debug root directory %s: %w", dbgRootdir, err)
		}
	}

	world, err := reporter.WorldMetricsReporter(filepath.Join(outDir, "world_metrics.csv"), cfg.Environment.Width, cfg.Environment.Height)
	if err != nil {
		return err
	}
	reporters := []reporter.Reporter{world}
	for i := 0; i < numAgents; i++ {
		agentID := fmt.Sprintf("sat-%d", i)
		kbReporter, err := reporter.KnowledgeBaseReporter(filepath.Join(outDir, agentID+"_knowledgebase.csv"), agentID)
		if err != nil {
			return err
		}
		reporters = append(reporters, kbReporter)
	}
	reporterSet := reporter.NewSet(reporters...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	showGraphics := graphicsOn && !graphicsSet
	branches := channerics.Broadcast(ctx.Done(), s.Ticks(), 2)
	reportTicks, dashTicks := branches[0], branches[1]

	dispatchErrs := make(chan error, 16)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		reporterSet.Dispatch(ctx.Done(), reportTicks, dispatchErrs)
	}()

	if showGraphics {
		initialAgents, initialWorld := s.Snapshot()
		dashUpdates := channerics.Convert(ctx.Done(), dashTicks, func(t reporter.Tick) dashboard.Snapshot {
			return dashboard.Snapshot{Agents: t.Agents, World: t.World}
		})
		dash := dashboard.NewServer(ctx, ":8080", dashboard.Snapshot{Agents: initialAgents, World: initialWorld}, dashUpdates)
		go func() {
			if err := dash.Serve(); err != nil {
				log.Println("dashboard:", err)
			}
		}()
	} else {
		// No subscriber: drain and discard so the broadcast never blocks
		// the simulation's control loop.
		go func() {
			for range dashTicks {
			}
		}()
	}

	runErr := s.Run(ctx)

	<-dispatchDone
	if closeErr := reporterSet.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	select {
	case dErr := <-dispatchErrs:
		if runErr == nil {
			runErr = dErr
		}
	default:
	}

	return runErr
}
