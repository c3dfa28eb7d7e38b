// Package scheduler implements the per-agent genetic-algorithm scheduler
// of spec.md §4.8: bit-vector chromosomes selecting a resource-feasible
// subset of candidate activities, fitness combining payoff, relative
// resource consumption and schedule richness, configurable crossover/
// mutation/selection operators, and multi-criterion termination.
package scheduler

import (
	"math/rand"
	"sort"

	"constellation/activity"
	"constellation/resource"
)

// Candidate is one schedulable activity slot: its time span, its
// aggregated payoff, the resource consumption rates it would install if
// selected, and (if any) the previous-solution activity it would replace.
type Candidate struct {
	Span          activity.TimeSpan
	Payoff        float64
	ResourceRates map[string]float64
	PrevSolution  *activity.Activity
}

// Protected reports whether this candidate's previous-solution bit must
// never be flipped off (it re-enables a confirmed activity).
func (c Candidate) Protected() bool {
	return c.PrevSolution != nil && c.PrevSolution.Confirmed
}

// CrossoverKind selects the recombination operator.
type CrossoverKind int

const (
	Uniform CrossoverKind = iota
	SinglePoint
	MultiPoint
)

// ParentSelectionKind selects the mating-pool sampling strategy.
type ParentSelectionKind int

const (
	Tournament ParentSelectionKind = iota
	Roulette
)

// EnvSelectionKind selects the next-generation survivor strategy.
type EnvSelectionKind int

const (
	Elitist EnvSelectionKind = iota
	Generational
)

// Config bundles the GA tunables named in spec.md §6's `ga_scheduler`
// section.
type Config struct {
	PopSize            int
	Generations        int
	Timeout            int
	MinImprovementRate float64
	MutationRate       float64
	Lambda             float64
	Crossover          CrossoverKind
	MultiPointK        int
	ParentSelection    ParentSelectionKind
	TournamentK        int
	EnvSelection       EnvSelectionKind

	// InvalidPenalty is the "large constant" an invalid chromosome's
	// fitness is divided by (spec.md §4.8).
	InvalidPenalty float64
}

// Chromosome is one candidate schedule: a bit per Candidate, selected iff
// the bit is set.
type Chromosome struct {
	Bits    []bool
	Fitness float64
	Valid   bool
}

func (c *Chromosome) clone() *Chromosome {
	bits := make([]bool, len(c.Bits))
	copy(bits, c.Bits)
	return &Chromosome{Bits: bits, Fitness: c.Fitness, Valid: c.Valid}
}

func newRandomChromosome(candidates []Candidate, rng *rand.Rand) *Chromosome {
	bits := make([]bool, len(candidates))
	for i, c := range candidates {
		if c.Protected() {
			bits[i] = true
			continue
		}
		bits[i] = rng.Float64() < 0.5
	}
	return &Chromosome{Bits: bits}
}

// restoreProtected forces every protected gene back to 1, per spec.md
// §4.8's "previous-solution bits that correspond to confirmed activities
// are protected and never flipped."
func restoreProtected(chrom *Chromosome, candidates []Candidate) {
	for i, c := range candidates {
		if c.Protected() {
			chrom.Bits[i] = true
		}
	}
}

// evaluate computes a chromosome's fitness per spec.md §4.8: sum of
// selected payoffs (boosted by Lambda for preserved confirmed bits),
// normalised by the average resource utilisation from a trial pass over a
// cloned ledger, scaled by schedule richness, and penalised if the trial
// pass proved infeasible.
func evaluate(chrom *Chromosome, candidates []Candidate, order []int, ledger *resource.Ledger, cfg Config) {
	sum := 0.0
	active := 0
	for i, c := range candidates {
		if !chrom.Bits[i] {
			continue
		}
		active++
		contribution := c.Payoff
		if c.Protected() {
			contribution += cfg.Lambda * c.Payoff
		}
		sum += contribution
	}

	trial := ledger.Clone()
	valid := true
	for _, idx := range order {
		if !chrom.Bits[idx] {
			continue
		}
		c := candidates[idx]
		duration := float64(c.Span.End - c.Span.Start)
		for resName, rate := range c.ResourceRates {
			res := trial.Get(resName)
			if res == nil {
				continue
			}
			if !res.ApplyFor(rate, duration) {
				valid = false
			}
		}
	}

	fitness := sum
	if avgUtil := trial.AverageUtilization(); avgUtil > 0 {
		fitness /= avgUtil
	}

	n := len(candidates)
	richness := (float64(active) + 1) / (float64(n) + 1)
	fitness *= richness

	if !valid {
		penalty := cfg.InvalidPenalty
		if penalty <= 0 {
			penalty = 1e6
		}
		fitness /= penalty
	}

	chrom.Fitness = fitness
	chrom.Valid = valid
}

// sortedOrder returns candidate indices in start-time order, used by
// evaluate's trial pass (spec.md §4.8: "for every candidate in start-time
// order").
func sortedOrder(candidates []Candidate) []int {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return candidates[order[i]].Span.Start < candidates[order[j]].Span.Start
	})
	return order
}

// crossover produces one child from two parents per cfg.Crossover.
func crossover(a, b *Chromosome, cfg Config, rng *rand.Rand) *Chromosome {
	n := len(a.Bits)
	child := &Chromosome{Bits: make([]bool, n)}

	switch cfg.Crossover {
	case SinglePoint:
		cut := rng.Intn(n)
		for i := 0; i < n; i++ {
			if i < cut {
				child.Bits[i] = a.Bits[i]
			} else {
				child.Bits[i] = b.Bits[i]
			}
		}
	case MultiPoint:
		k := cfg.MultiPointK
		if k <= 0 || k >= n {
			k = 1
		}
		cuts := make(map[int]bool, k)
		for len(cuts) < k {
			cuts[rng.Intn(n)] = true
		}
		fromA := true
		for i := 0; i < n; i++ {
			if cuts[i] {
				fromA = !fromA
			}
			if fromA {
				child.Bits[i] = a.Bits[i]
			} else {
				child.Bits[i] = b.Bits[i]
			}
		}
	default: // Uniform
		for i := 0; i < n; i++ {
			if rng.Float64() < 0.5 {
				child.Bits[i] = a.Bits[i]
			} else {
				child.Bits[i] = b.Bits[i]
			}
		}
	}
	return child
}

// mutate flips every gene with probability cfg.MutationRate, then
// restores protected genes.
func mutate(chrom *Chromosome, candidates []Candidate, cfg Config, rng *rand.Rand) {
	for i := range chrom.Bits {
		if rng.Float64() < cfg.MutationRate {
			chrom.Bits[i] = !chrom.Bits[i]
		}
	}
	restoreProtected(chrom, candidates)
}

// selectParent picks one parent from pool per cfg.ParentSelection.
func selectParent(pool []*Chromosome, cfg Config, rng *rand.Rand) *Chromosome {
	if cfg.ParentSelection == Roulette {
		total := 0.0
		for _, c := range pool {
			total += fitnessWeight(c)
		}
		if total <= 0 {
			return pool[rng.Intn(len(pool))]
		}
		pick := rng.Float64() * total
		running := 0.0
		for _, c := range pool {
			running += fitnessWeight(c)
			if running >= pick {
				return c
			}
		}
		return pool[len(pool)-1]
	}

	k := cfg.TournamentK
	if k <= 0 {
		k = 2
	}
	if k > len(pool) {
		k = len(pool)
	}
	idxs := rng.Perm(len(pool))[:k]
	best := pool[idxs[0]]
	for _, idx := range idxs[1:] {
		if pool[idx].Fitness > best.Fitness {
			best = pool[idx]
		}
	}
	return best
}

func fitnessWeight(c *Chromosome) float64 {
	if c.Fitness < 0 {
		return 0
	}
	return c.Fitness
}

// Result is the output of Run: the best chromosome found, plus the new
// coalesced activities and discarded previous-solution activities it
// implies (spec.md §4.8's "Output").
type Result struct {
	Best       *Chromosome
	NewTasks   []*activity.Activity
	Discarded  []*activity.Activity
	Generation int
}

// Run executes the GA to termination and coalesces the best individual
// into new activities plus a discard list (spec.md §4.8).
func Run(owner string, candidates []Candidate, ledger *resource.Ledger, cfg Config, rng *rand.Rand) Result {
	if len(candidates) == 0 {
		return Result{Best: &Chromosome{}}
	}
	if cfg.PopSize <= 0 {
		cfg.PopSize = 20
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	order := sortedOrder(candidates)

	pop := make([]*Chromosome, cfg.PopSize)
	for i := range pop {
		pop[i] = newRandomChromosome(candidates, rng)
		evaluate(pop[i], candidates, order, ledger, cfg)
	}

	best := bestOf(pop)
	lastBestFitness := best.Fitness
	staleGenerations := 0
	warmup := cfg.Generations / 2

	gen := 0
	for ; gen < cfg.Generations || cfg.Generations == 0; gen++ {
		children := make([]*Chromosome, 0, cfg.PopSize)
		for len(children) < cfg.PopSize {
			p1 := selectParent(pop, cfg, rng)
			p2 := selectParent(pop, cfg, rng)
			child := crossover(p1, p2, cfg, rng)
			mutate(child, candidates, cfg, rng)
			evaluate(child, candidates, order, ledger, cfg)
			children = append(children, child)
		}

		switch cfg.EnvSelection {
		case Generational:
			pop = children
		default: // Elitist
			combined := append(append([]*Chromosome{}, pop...), children...)
			sort.Slice(combined, func(i, j int) bool { return combined[i].Fitness > combined[j].Fitness })
			pop = combined[:cfg.PopSize]
		}

		genBest := bestOf(pop)
		improvement := genBest.Fitness - lastBestFitness
		if genBest.Fitness <= lastBestFitness {
			staleGenerations++
		} else {
			staleGenerations = 0
		}
		lastBestFitness = genBest.Fitness
		if genBest.Fitness > best.Fitness {
			best = genBest
		}

		if cfg.Timeout > 0 && staleGenerations >= cfg.Timeout {
			break
		}
		if warmup > 0 && gen >= warmup && cfg.MinImprovementRate > 0 {
			rate := improvement
			if lastBestFitness != 0 {
				rate = improvement / absFloat(lastBestFitness)
			}
			if rate < cfg.MinImprovementRate {
				break
			}
		}
		if cfg.Generations > 0 && gen+1 >= cfg.Generations {
			break
		}
	}

	newTasks, discarded := coalesce(owner, candidates, best)
	return Result{Best: best, NewTasks: newTasks, Discarded: discarded, Generation: gen}
}

func bestOf(pop []*Chromosome) *Chromosome {
	best := pop[0]
	for _, c := range pop[1:] {
		if c.Fitness > best.Fitness {
			best = c
		}
	}
	return best
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// coalesce walks the best individual: contiguous runs of selected,
// temporally-adjacent candidates merge into a single new activity; any
// previous-solution activity whose bit ended up cleared is returned in
// discarded (spec.md §4.8's "Output").
func coalesce(owner string, candidates []Candidate, best *Chromosome) ([]*activity.Activity, []*activity.Activity) {
	order := sortedOrder(candidates)

	var tasks []*activity.Activity
	var discarded []*activity.Activity

	var runStart, runEnd activity.TimeSpan
	inRun := false

	flush := func() {
		if !inRun {
			return
		}
		tasks = append(tasks, &activity.Activity{
			Owner: owner,
			Start: runStart.Start,
			End:   runEnd.End,
		})
		inRun = false
	}

	for _, idx := range order {
		c := candidates[idx]
		selected := best.Bits[idx]
		if selected {
			if inRun && runEnd.End != c.Span.Start {
				// Selected, but not temporally adjacent to the current run:
				// close it out and start a fresh one.
				flush()
			}
			if !inRun {
				runStart = c.Span
				inRun = true
			}
			runEnd = c.Span
		} else {
			flush()
			if c.PrevSolution != nil {
				discarded = append(discarded, c.PrevSolution)
			}
		}
	}
	flush()

	return tasks, discarded
}
