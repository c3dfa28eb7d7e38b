package scheduler

import (
	"math/rand"
	"testing"

	"constellation/activity"
	"constellation/resource"

	. "github.com/smartystreets/goconvey/convey"
)

func simpleLedger(maxEnergy float64) *resource.Ledger {
	l := resource.NewLedger()
	l.Add(resource.New("energy", resource.Cumulative, maxEnergy, 0))
	return l
}

func TestProtectedBitsNeverFlip(t *testing.T) {
	Convey("Given a candidate whose previous solution is confirmed", t, func() {
		candidates := []Candidate{
			{Span: activity.TimeSpan{Start: 0, End: 1}, Payoff: 1, PrevSolution: &activity.Activity{Confirmed: true}},
			{Span: activity.TimeSpan{Start: 1, End: 2}, Payoff: 1},
		}
		rng := rand.New(rand.NewSource(42))
		chrom := newRandomChromosome(candidates, rng)

		Convey("The protected bit is always set", func() {
			So(chrom.Bits[0], ShouldBeTrue)
		})

		Convey("Mutation restores the protected bit even if flipped", func() {
			chrom.Bits[0] = false
			mutate(chrom, candidates, Config{MutationRate: 0}, rng)
			So(chrom.Bits[0], ShouldBeTrue)
		})
	})
}

func TestEvaluateMarksInfeasibleInvalid(t *testing.T) {
	Convey("Given a candidate whose resource cost exceeds available capacity", t, func() {
		candidates := []Candidate{
			{Span: activity.TimeSpan{Start: 0, End: 10}, Payoff: 5, ResourceRates: map[string]float64{"energy": 100}},
		}
		ledger := simpleLedger(10)
		chrom := &Chromosome{Bits: []bool{true}}
		order := sortedOrder(candidates)

		evaluate(chrom, candidates, order, ledger, Config{InvalidPenalty: 1000})

		Convey("The chromosome is marked invalid", func() {
			So(chrom.Valid, ShouldBeFalse)
		})
	})

	Convey("Given a candidate well within available capacity", t, func() {
		candidates := []Candidate{
			{Span: activity.TimeSpan{Start: 0, End: 1}, Payoff: 5, ResourceRates: map[string]float64{"energy": 1}},
		}
		ledger := simpleLedger(100)
		chrom := &Chromosome{Bits: []bool{true}}
		order := sortedOrder(candidates)

		evaluate(chrom, candidates, order, ledger, Config{})

		Convey("The chromosome is valid and has positive fitness", func() {
			So(chrom.Valid, ShouldBeTrue)
			So(chrom.Fitness, ShouldBeGreaterThan, 0)
		})
	})
}

func TestCrossoverSinglePoint(t *testing.T) {
	Convey("Given two parents and a deterministic cut", t, func() {
		a := &Chromosome{Bits: []bool{true, true, true, true}}
		b := &Chromosome{Bits: []bool{false, false, false, false}}
		rng := rand.New(rand.NewSource(7))

		child := crossover(a, b, Config{Crossover: SinglePoint}, rng)

		Convey("The child is a prefix of a followed by a suffix of b", func() {
			cut := -1
			for i, bit := range child.Bits {
				if !bit {
					cut = i
					break
				}
			}
			if cut == -1 {
				cut = len(child.Bits)
			}
			for i := 0; i < cut; i++ {
				So(child.Bits[i], ShouldBeTrue)
			}
			for i := cut; i < len(child.Bits); i++ {
				So(child.Bits[i], ShouldBeFalse)
			}
		})
	})
}

func TestRunProducesFeasibleSchedule(t *testing.T) {
	Convey("Given a handful of non-overlapping candidates and ample resources", t, func() {
		candidates := []Candidate{
			{Span: activity.TimeSpan{Start: 0, End: 1}, Payoff: 1, ResourceRates: map[string]float64{"energy": 1}},
			{Span: activity.TimeSpan{Start: 1, End: 2}, Payoff: 1, ResourceRates: map[string]float64{"energy": 1}},
			{Span: activity.TimeSpan{Start: 5, End: 6}, Payoff: 1, ResourceRates: map[string]float64{"energy": 1}},
		}
		ledger := simpleLedger(1000)
		cfg := Config{
			PopSize:     10,
			Generations: 15,
			Timeout:     5,
			Lambda:      0.1,
		}
		rng := rand.New(rand.NewSource(3))

		result := Run("agent-a", candidates, ledger, cfg, rng)

		Convey("The best chromosome is feasible", func() {
			So(result.Best.Valid, ShouldBeTrue)
		})

		Convey("Coalesced new tasks fall within the candidate time range", func() {
			for _, task := range result.NewTasks {
				So(task.Start, ShouldBeGreaterThanOrEqualTo, 0)
				So(task.End, ShouldBeLessThanOrEqualTo, 6)
			}
		})
	})
}
