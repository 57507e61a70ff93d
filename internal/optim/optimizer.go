package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/diff/fd"
)

var (
	ErrUnknownOptimizer = errors.New("unknown optimizer")
	ErrInvalidSettings  = errors.New("invalid optimizer settings")
)

const (
	NameSGD     = "sgd"
	NameAdam    = "adam"
	NameRMSProp = "rmsprop"
	NameLBFGS   = "lbfgs"
	NamePerturb = "perturb"
)

// Objective evaluates the training loss at params. Implementations may load
// params into a model, so optimizers call it sequentially.
type Objective func(ctx context.Context, params []float64) (float64, error)

// Optimizer updates params in place and returns the loss measured at the
// params it started from.
type Optimizer interface {
	Name() string
	Step(ctx context.Context, params []float64, objective Objective) (float64, error)
	LearningRate() float64
	SetLearningRate(lr float64)
}

// Settings selects and configures an optimizer.
type Settings struct {
	Name         string  `json:"name"`
	LR           float64 `json:"lr"`
	WeightDecay  float64 `json:"weight_decay"`
	Momentum     float64 `json:"momentum"`
	FDStep       float64 `json:"fd_step"`
	LBFGSIters   int     `json:"lbfgs_iters"`
	LBFGSHistory int     `json:"lbfgs_history"`
	Attempts     int     `json:"attempts"`
	Steps        int     `json:"steps"`
	Annealing    float64 `json:"annealing"`
	Seed         uint64  `json:"seed"`

	// CandidateSelection and MinImprovement only apply to perturb.
	CandidateSelection string  `json:"candidate_selection,omitempty"`
	MinImprovement     float64 `json:"min_improvement,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		Name:         NameAdam,
		LR:           1e-3,
		FDStep:       1e-6,
		LBFGSIters:   20,
		LBFGSHistory: 10,
		Attempts:     8,
		Steps:        4,
		Annealing:    1,
		Seed:         1,
	}
}

// Names lists the recognized optimizer names.
func Names() []string {
	return []string{NameSGD, NameAdam, NameRMSProp, NameLBFGS, NamePerturb}
}

// New builds the optimizer named in s.
func New(s Settings) (Optimizer, error) {
	if s.LR <= 0 {
		return nil, fmt.Errorf("%w: lr must be > 0, got %v", ErrInvalidSettings, s.LR)
	}
	if s.WeightDecay < 0 {
		return nil, fmt.Errorf("%w: weight decay must be >= 0, got %v", ErrInvalidSettings, s.WeightDecay)
	}
	fdStep := s.FDStep
	if fdStep <= 0 {
		fdStep = DefaultSettings().FDStep
	}
	switch strings.ToLower(strings.TrimSpace(s.Name)) {
	case NameSGD:
		return &SGD{LR: s.LR, Momentum: s.Momentum, WeightDecay: s.WeightDecay, FDStep: fdStep}, nil
	case NameAdam:
		return &Adam{LR: s.LR, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8, WeightDecay: s.WeightDecay, FDStep: fdStep}, nil
	case NameRMSProp:
		return &RMSProp{LR: s.LR, Alpha: 0.99, Epsilon: 1e-8, WeightDecay: s.WeightDecay, FDStep: fdStep}, nil
	case NameLBFGS:
		return &LBFGS{LR: s.LR, Iterations: s.LBFGSIters, History: s.LBFGSHistory, FDStep: fdStep}, nil
	case NamePerturb:
		if !validCandidateSelection(s.CandidateSelection) {
			return nil, fmt.Errorf("%w: unknown candidate selection %q", ErrInvalidSettings, s.CandidateSelection)
		}
		if s.MinImprovement < 0 {
			return nil, fmt.Errorf("%w: min improvement must be >= 0, got %v", ErrInvalidSettings, s.MinImprovement)
		}
		return &Perturb{
			Rand:               rand.New(rand.NewSource(s.Seed)),
			Attempts:           s.Attempts,
			Steps:              s.Steps,
			StepSize:           s.LR,
			PerturbationRange:  1,
			AnnealingFactor:    s.Annealing,
			MinImprovement:     s.MinImprovement,
			CandidateSelection: s.CandidateSelection,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, s.Name)
	}
}

// gradient evaluates objective at params and its forward-difference gradient.
func gradient(ctx context.Context, objective Objective, params []float64, step float64) (float64, []float64, error) {
	loss, err := objective(ctx, params)
	if err != nil {
		return 0, nil, err
	}
	var evalErr error
	f := func(x []float64) float64 {
		if evalErr != nil {
			return math.NaN()
		}
		if err := ctx.Err(); err != nil {
			evalErr = err
			return math.NaN()
		}
		v, err := objective(ctx, x)
		if err != nil {
			evalErr = err
			return math.NaN()
		}
		return v
	}
	grad := fd.Gradient(nil, f, params, &fd.Settings{
		Formula:     fd.Forward,
		Step:        step,
		OriginKnown: true,
		OriginValue: loss,
	})
	if evalErr != nil {
		return 0, nil, evalErr
	}
	return loss, grad, nil
}
