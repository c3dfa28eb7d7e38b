// Package config implements spec.md §6's configuration document loader: a
// single YAML file, grouped into system/graphics/agent/environment
// sections, loaded with the teacher's two-pass viper-then-yaml.v3 technique
// (reinforcement.FromYaml) generalized to this module's full tunable table.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"constellation/agent"
	"constellation/clock"
	"constellation/payoff"
	"constellation/resource"
	"constellation/scheduler"
	"constellation/simerr"
)

// SystemConfig is the `system` section: run-wide knobs.
type SystemConfig struct {
	Name        string  `yaml:"name"`
	NumAgents   int     `yaml:"num_agents"`
	Verbosity   int     `yaml:"verbosity"`
	Interpos    int     `yaml:"interpos"`
	Duration    float64 `yaml:"duration"`
	TimeType    string  `yaml:"time_type"`
	DeltaT      float64 `yaml:"dt"`
}

// GraphicsConfig is the `graphics` section.
type GraphicsConfig struct {
	Enabled    bool `yaml:"enabled"`
	WindowW    int  `yaml:"window_w"`
	WindowH    int  `yaml:"window_h"`
	FontSize   int  `yaml:"font_size"`
}

// MotionConfig is `agent.motion`: the motion model and its Keplerian
// element ranges.
type MotionConfig struct {
	Type         string  `yaml:"type"`
	AltitudeM    float64 `yaml:"altitude"`
	MaxEcc       float64 `yaml:"max_ecc"`
	IncRad       float64 `yaml:"inc"`
	ArgPRad      float64 `yaml:"argp"`
	RAANRad      float64 `yaml:"raan"`
	InitMARad    float64 `yaml:"init_ma"`
	SpeedMPerSec float64 `yaml:"speed"`
}

// GASchedulerConfig is `agent.ga_scheduler`.
type GASchedulerConfig struct {
	Generations        int     `yaml:"generations"`
	Timeout            int     `yaml:"timeout"`
	MinImprovementRate float64 `yaml:"min_improvement_rate"`
	PopulationSize     int     `yaml:"population_size"`
	MutationRate       float64 `yaml:"mutation_rate"`
	Lambda             float64 `yaml:"lambda"`
	InvalidPenalty     float64 `yaml:"invalid_penalty"`
	Crossover          struct {
		Type    string `yaml:"type"`
		NPoints int    `yaml:"n_points"`
	} `yaml:"crossover"`
	ParentSel struct {
		Type string `yaml:"type"`
		K    int    `yaml:"k"`
	} `yaml:"parent_sel"`
	EnvironSel struct {
		Type string `yaml:"type"`
	} `yaml:"environ_sel"`
	PayoffAggregation string `yaml:"payoff_aggregation"`
}

// InstrumentConfig is `agent.instrument`.
type InstrumentConfig struct {
	ApertureRad     float64 `yaml:"aperture"`
	FootprintPoints int     `yaml:"footprint_points"`
}

// LinkConfig is `agent.link`.
type LinkConfig struct {
	RangeMeters  float64 `yaml:"range"`
	DatarateBps  float64 `yaml:"datarate"`
	TXEnergyRate float64 `yaml:"tx_energy_rate"`
	RXEnergyRate float64 `yaml:"rx_energy_rate"`
}

// PayoffConfig is `environment.payoff`.
type PayoffConfig struct {
	Type       string  `yaml:"type"`
	Steepness  float64 `yaml:"steepness"`
	PayoffMid  float64 `yaml:"payoff_mid"`
	GoalMin    float64 `yaml:"goal_min"`
	GoalMax    float64 `yaml:"goal_max"`
	GoalTarget float64 `yaml:"goal_target"`
	Slope      float64 `yaml:"slope"`
	MinPayoff  float64 `yaml:"min_payoff"`
}

// AgentConfig is the `agent` section.
type AgentConfig struct {
	PlanningWindow    float64           `yaml:"planning_window"`
	ReplanningWindow  int               `yaml:"replanning_window"`
	ConfirmWindow     float64           `yaml:"confirm_window"`
	MaxTaskDuration   float64           `yaml:"max_task_duration"`
	MaxTasks          int               `yaml:"max_tasks"`
	ResourceThreshold float64           `yaml:"resource_threshold"`
	Instrument        InstrumentConfig  `yaml:"instrument"`
	Link              LinkConfig        `yaml:"link"`
	Motion            MotionConfig      `yaml:"motion"`
	GAScheduler       GASchedulerConfig `yaml:"ga_scheduler"`
	Resources         []ResourceConfig  `yaml:"resources"`
	ImagingRates      map[string]float64 `yaml:"imaging_rates"`
}

// ResourceConfig declares one of an agent's named resource ledgers.
type ResourceConfig struct {
	Name           string  `yaml:"name"`
	Kind           string  `yaml:"kind"` // "cumulative" or "depletable"
	Max            float64 `yaml:"max"`
	ReservedMargin float64 `yaml:"reserved_margin"`
}

// EnvironmentConfig is the `environment` section.
type EnvironmentConfig struct {
	Width  int          `yaml:"width"`
	Height int          `yaml:"height"`
	Payoff PayoffConfig `yaml:"payoff"`
}

// ParallelConfig is the `parallel` section.
type ParallelConfig struct {
	Planners int `yaml:"planners"`
}

// Config is the top-level, fully-decoded configuration document.
type Config struct {
	System      SystemConfig      `yaml:"system"`
	Graphics    GraphicsConfig    `yaml:"graphics"`
	Agent       AgentConfig       `yaml:"agent"`
	Environment EnvironmentConfig `yaml:"environment"`
	Parallel    ParallelConfig    `yaml:"parallel"`
}

// outerDocument mirrors reinforcement.OuterConfig's kind/def envelope,
// letting the config document declare a schema version before the real
// payload is re-marshaled and strictly decoded.
type outerDocument struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

const supportedKind = "constellation/v1"

// Load reads path via viper (always parsed as YAML, whatever the file
// extension; JSON input works because it is valid YAML, TOML does not),
// re-marshals its `def` payload, and strictly decodes it into Config with
// yaml.v3 -- the same two-pass technique reinforcement.FromYaml uses,
// generalized to this module's full tunable set. An unknown or missing
// `kind`, or a missing required subsection, is a fatal configuration error
// per spec.md §7 category 1.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	if err := vp.ReadInConfig(); err != nil {
		return nil, simerr.New(simerr.KindConfig, fmt.Errorf("reading config %q: %w", path, err))
	}

	outer := &outerDocument{}
	if err := vp.Unmarshal(outer); err != nil {
		return nil, simerr.New(simerr.KindConfig, fmt.Errorf("unmarshaling outer config envelope: %w", err))
	}
	if outer.Kind != supportedKind {
		return nil, simerr.New(simerr.KindConfig, fmt.Errorf("unsupported config kind %q (want %q)", outer.Kind, supportedKind))
	}
	if outer.Def == nil {
		return nil, simerr.New(simerr.KindConfig, fmt.Errorf("config %q has no def section", path))
	}

	spec, err := yaml.Marshal(outer.Def)
	if err != nil {
		return nil, simerr.New(simerr.KindConfig, fmt.Errorf("re-marshaling config def: %w", err))
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(spec, cfg); err != nil {
		return nil, simerr.New(simerr.KindConfig, fmt.Errorf("unmarshaling config def: %w", err))
	}

	if err := cfg.validate(); err != nil {
		return nil, simerr.New(simerr.KindConfig, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.System.NumAgents <= 0 {
		return fmt.Errorf("system.num_agents must be positive")
	}
	switch c.System.TimeType {
	case "julian_days", "seconds", "arbitrary", "":
	default:
		return fmt.Errorf("system.time_type: unrecognised value %q", c.System.TimeType)
	}
	switch c.Agent.Motion.Type {
	case "circular_orbit", "":
	default:
		return fmt.Errorf("agent.motion.type: unknown motion model %q", c.Agent.Motion.Type)
	}
	if c.Environment.Width <= 0 || c.Environment.Height <= 0 {
		return fmt.Errorf("environment.{width,height} must be positive")
	}
	return nil
}

// TimeUnit maps the configured system.time_type string to a clock.TimeUnit.
func (c *Config) TimeUnit() clock.TimeUnit {
	switch c.System.TimeType {
	case "julian_days":
		return clock.JulianDays
	case "seconds":
		return clock.Seconds
	default:
		return clock.Arbitrary
	}
}

// PayoffParams derives a payoff.Params from environment.payoff.
func (c *Config) PayoffParams() payoff.Params {
	p := c.Environment.Payoff
	model := payoff.Linear
	switch p.Type {
	case "sigmoid":
		model = payoff.Sigmoid
	case "constant_slope":
		model = payoff.ConstantSlope
	case "quadratic":
		model = payoff.Quadratic
	}
	return payoff.Params{
		Model: model, GoalMin: p.GoalMin, GoalMax: p.GoalMax, GoalTarget: p.GoalTarget,
		Steepness: p.Steepness, PayoffMid: p.PayoffMid, Slope: p.Slope,
	}
}

// GAConfig derives a scheduler.Config from agent.ga_scheduler.
func (c *Config) GAConfig() scheduler.Config {
	g := c.Agent.GAScheduler

	crossover := scheduler.Uniform
	switch g.Crossover.Type {
	case "single_point":
		crossover = scheduler.SinglePoint
	case "multi_point":
		crossover = scheduler.MultiPoint
	}

	parentSel := scheduler.Tournament
	if g.ParentSel.Type == "roulette" {
		parentSel = scheduler.Roulette
	}

	envSel := scheduler.Elitist
	if g.EnvironSel.Type == "generational" {
		envSel = scheduler.Generational
	}

	return scheduler.Config{
		PopSize:            g.PopulationSize,
		Generations:        g.Generations,
		Timeout:            g.Timeout,
		MinImprovementRate: g.MinImprovementRate,
		MutationRate:       g.MutationRate,
		Lambda:             g.Lambda,
		Crossover:          crossover,
		MultiPointK:        g.Crossover.NPoints,
		ParentSelection:    parentSel,
		TournamentK:        g.ParentSel.K,
		EnvSelection:       envSel,
		InvalidPenalty:     g.InvalidPenalty,
	}
}

// PayoffAggregation maps the configured string to an agent.AggregationKind.
func (c *Config) PayoffAggregation() agent.AggregationKind {
	switch c.Agent.GAScheduler.PayoffAggregation {
	case "mean":
		return agent.AggMean
	case "min":
		return agent.AggMin
	case "max":
		return agent.AggMax
	default:
		return agent.AggSum
	}
}

// AgentConfig derives a fully-populated agent.Config for one simulated
// satellite from this document.
func (c *Config) AgentConfig() agent.Config {
	a := c.Agent
	return agent.Config{
		PlanningWindow:    clock.Time(a.PlanningWindow),
		ReplanningWindow:  a.ReplanningWindow,
		ConfirmWindow:     clock.Time(a.ConfirmWindow),
		GoalTarget:        clock.Time(c.Environment.Payoff.GoalTarget),
		ResourceThreshold: nonZeroOr(a.ResourceThreshold, 0.25),
		GA:                c.GAConfig(),
		PayoffParams:      c.PayoffParams(),
		PayoffAggregation: c.PayoffAggregation(),
		GenDt:             clock.Time(nonZeroOr(c.System.DeltaT, 1)),
		MinPayoff:         c.Environment.Payoff.MinPayoff,
		MaxTaskDuration:   clock.Time(a.MaxTaskDuration),
		MaxTasks:          a.MaxTasks,
		ImagingRates:      a.ImagingRates,
		TXEnergyRate:      a.Link.TXEnergyRate,
		RXEnergyRate:      a.Link.RXEnergyRate,
		ModelWidth:        c.Environment.Width,
		ModelHeight:       c.Environment.Height,
		RatioW:            360.0 / float64(c.Environment.Width),
		RatioH:            180.0 / float64(c.Environment.Height),
	}
}

// BuildLedger constructs a fresh resource.Ledger for one agent from
// agent.resources.
func (c *Config) BuildLedger() *resource.Ledger {
	ledger := resource.NewLedger()
	for _, r := range c.Agent.Resources {
		kind := resource.Cumulative
		if r.Kind == "depletable" {
			kind = resource.Depletable
		}
		ledger.Add(resource.New(r.Name, kind, r.Max, r.ReservedMargin))
	}
	return ledger
}

func nonZeroOr(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

// WriteSystemYaml marshals the whole Config back to YAML inside the same
// kind/def envelope Load accepts and returns the bytes; it writes no file
// (the "agent configuration is round-trippable through a system.yml"
// contract of spec.md §6).
func WriteSystemYaml(cfg *Config) ([]byte, error) {
	return yaml.Marshal(struct {
		Kind string `yaml:"kind"`
		Def  Config `yaml:"def"`
	}{Kind: supportedKind, Def: *cfg})
}
