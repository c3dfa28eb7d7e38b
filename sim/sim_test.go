package sim

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"constellation/config"
)

func tinyConfig() *config.Config {
	return &config.Config{
		System: config.SystemConfig{
			NumAgents: 2,
			TimeType:  "seconds",
			DeltaT:    2,
			Duration:  4,
		},
		Environment: config.EnvironmentConfig{
			Width: 4, Height: 4,
			Payoff: config.PayoffConfig{Type: "linear", GoalMin: 0, GoalMax: 10, GoalTarget: 5},
		},
		Agent: config.AgentConfig{
			PlanningWindow:    20,
			ReplanningWindow:  5,
			ConfirmWindow:     100,
			MaxTaskDuration:   10,
			MaxTasks:          5,
			ResourceThreshold: 0.25,
			Instrument:        config.InstrumentConfig{ApertureRad: 0.5, FootprintPoints: 8},
			Link:              config.LinkConfig{RangeMeters: 1e9, DatarateBps: 8000, TXEnergyRate: 1, RXEnergyRate: 1},
			Motion:            config.MotionConfig{Type: "circular_orbit", AltitudeM: 500000},
			GAScheduler: config.GASchedulerConfig{
				PopulationSize: 8, Generations: 3, InvalidPenalty: 1e6,
			},
			Resources:    []config.ResourceConfig{{Name: "energy", Kind: "cumulative", Max: 100, ReservedMargin: 5}},
			ImagingRates: map[string]float64{"energy": 1},
		},
		Parallel: config.ParallelConfig{Planners: 2},
	}
}

func TestNewRejectsNonPositiveAgentCount(t *testing.T) {
	Convey("Given a config and a non-positive agent count", t, func() {
		_, err := New(tinyConfig(), 0, 1)

		Convey("New returns a configuration error", func() {
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRunDrivesConstellationToCompletion(t *testing.T) {
	Convey("Given a two-satellite constellation over a short duration", t, func() {
		s, err := New(tinyConfig(), 2, 42)
		So(err, ShouldBeNil)
		So(s.NumAgents(), ShouldEqual, 2)

		Convey("Run completes without error and every step emits a Tick", func() {
			err := s.Run(context.Background())
			So(err, ShouldBeNil)

			count := 0
			for range s.Ticks() {
				count++
			}
			So(count, ShouldBeGreaterThan, 0)
		})
	})
}

func TestSnapshotReportsEveryAgent(t *testing.T) {
	Convey("Given a freshly constructed constellation", t, func() {
		s, err := New(tinyConfig(), 3, 7)
		So(err, ShouldBeNil)

		Convey("Snapshot returns one agent.Snapshot per satellite", func() {
			agents, world := s.Snapshot()
			So(len(agents), ShouldEqual, 3)
			So(world.Width, ShouldEqual, 4)
			So(world.Height, ShouldEqual, 4)
		})
	})
}

func TestRunRespectsContextCancellation(t *testing.T) {
	Convey("Given a constellation with a long configured duration", t, func() {
		cfg := tinyConfig()
		cfg.System.Duration = 1e9
		s, err := New(cfg, 2, 1)
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("Run returns the context's cancellation error immediately", func() {
			err := s.Run(ctx)
			So(err, ShouldEqual, context.Canceled)
		})
	})
}
