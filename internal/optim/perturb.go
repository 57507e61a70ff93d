package optim

import (
	"context"
	"errors"
	"math"
	"sync"

	"golang.org/x/exp/rand"
)

const (
	CandidateSelectBestSoFar = "best_so_far"
	CandidateSelectOriginal  = "original"
	CandidateSelectDynamicA  = "dynamic"
	CandidateSelectDynamic   = "dynamic_random"
	CandidateSelectRecent    = "recent"
	CandidateSelectRecentRnd = "recent_random"
)

// CandidateSelections lists the accepted Perturb.CandidateSelection modes.
func CandidateSelections() []string {
	return []string{
		CandidateSelectBestSoFar,
		CandidateSelectOriginal,
		CandidateSelectDynamicA,
		CandidateSelectDynamic,
		CandidateSelectRecent,
		CandidateSelectRecentRnd,
	}
}

func validCandidateSelection(mode string) bool {
	if mode == "" {
		return true
	}
	for _, known := range CandidateSelections() {
		if mode == known {
			return true
		}
	}
	return false
}

// Perturb is a gradient-free hill climber. Each attempt perturbs Steps random
// coordinates of one or more candidate bases by a uniform amount that anneals
// with every step, and keeps a candidate only when it lowers the loss by more
// than MinImprovement. StepSize plays the role of the learning rate.
type Perturb struct {
	Rand               *rand.Rand
	Attempts           int
	Steps              int
	StepSize           float64
	PerturbationRange  float64
	AnnealingFactor    float64
	MinImprovement     float64
	CandidateSelection string
	mu                 sync.Mutex
}

func (p *Perturb) Name() string               { return NamePerturb }
func (p *Perturb) LearningRate() float64      { return p.StepSize }
func (p *Perturb) SetLearningRate(lr float64) { p.StepSize = lr }

func (p *Perturb) Step(ctx context.Context, params []float64, objective Objective) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p == nil || p.Rand == nil {
		return 0, errors.New("random source is required")
	}
	if p.Steps <= 0 {
		return 0, errors.New("steps must be > 0")
	}
	if p.StepSize <= 0 {
		return 0, errors.New("step size must be > 0")
	}
	if p.PerturbationRange < 0 {
		return 0, errors.New("perturbation range must be >= 0")
	}
	if p.AnnealingFactor < 0 {
		return 0, errors.New("annealing factor must be >= 0")
	}
	if p.MinImprovement < 0 {
		return 0, errors.New("min improvement must be >= 0")
	}
	if objective == nil {
		return 0, errors.New("objective is required")
	}
	perturbationRange := p.PerturbationRange
	if perturbationRange == 0 {
		perturbationRange = 1.0
	}
	annealingFactor := p.AnnealingFactor
	if annealingFactor == 0 {
		annealingFactor = 1.0
	}

	original := append([]float64(nil), params...)
	start, err := objective(ctx, original)
	if err != nil {
		return 0, err
	}
	if len(params) == 0 || p.Attempts <= 0 {
		return start, nil
	}

	best := append([]float64(nil), original...)
	bestLoss := start
	recent := append([]float64(nil), best...)
	for a := 0; a < p.Attempts; a++ {
		bases, err := p.candidateBases(best, original, recent)
		if err != nil {
			return 0, err
		}
		localBest := best
		localBestLoss := bestLoss
		for _, base := range bases {
			candidate, err := p.perturbCandidate(ctx, base, perturbationRange, annealingFactor)
			if err != nil {
				return 0, err
			}
			loss, err := objective(ctx, candidate)
			if err != nil {
				return 0, err
			}
			if loss < localBestLoss-p.MinImprovement {
				localBest = candidate
				localBestLoss = loss
			}
		}
		recent = append([]float64(nil), localBest...)
		if localBestLoss < bestLoss-p.MinImprovement {
			best = localBest
			bestLoss = localBestLoss
		}
	}
	copy(params, best)
	return start, nil
}

func (p *Perturb) randIntn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Rand.Intn(n)
}

func (p *Perturb) randFloat64() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Rand.Float64()
}

func (p *Perturb) candidateBases(best, original, recent []float64) ([][]float64, error) {
	switch p.CandidateSelection {
	case "", CandidateSelectBestSoFar:
		return [][]float64{best}, nil
	case CandidateSelectOriginal:
		return [][]float64{original}, nil
	case CandidateSelectDynamicA:
		return [][]float64{best, original}, nil
	case CandidateSelectRecent:
		return [][]float64{recent}, nil
	case CandidateSelectDynamic:
		return p.randomSubset([][]float64{best, original}), nil
	case CandidateSelectRecentRnd:
		return p.randomSubset([][]float64{best, recent}), nil
	default:
		return nil, errors.New("unsupported candidate selection")
	}
}

func (p *Perturb) randomSubset(pool [][]float64) [][]float64 {
	chance := 1 / math.Sqrt(float64(len(pool)))
	chosen := make([][]float64, 0, len(pool))
	for _, base := range pool {
		if p.randFloat64() < chance {
			chosen = append(chosen, base)
		}
	}
	if len(chosen) > 0 {
		return chosen
	}
	return [][]float64{pool[p.randIntn(len(pool))]}
}

func (p *Perturb) perturbCandidate(ctx context.Context, base []float64, perturbationRange, annealingFactor float64) ([]float64, error) {
	candidate := append([]float64(nil), base...)
	for s := 0; s < p.Steps; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := p.randIntn(len(candidate))
		spread := p.StepSize * perturbationRange * math.Pow(annealingFactor, float64(s))
		candidate[idx] += (p.randFloat64()*2 - 1) * spread
	}
	return candidate, nil
}
