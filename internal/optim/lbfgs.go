package optim

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// LBFGS runs a bounded number of limited-memory BFGS iterations per Step
// using finite-difference gradients. The line search picks the step along
// each direction; LR then scales the move from the starting params to the
// minimizer found, so LR 1 takes the full move and a schedule shortens it.
type LBFGS struct {
	LR         float64
	Iterations int
	History    int
	FDStep     float64
}

func (o *LBFGS) Name() string               { return NameLBFGS }
func (o *LBFGS) LearningRate() float64      { return o.LR }
func (o *LBFGS) SetLearningRate(lr float64) { o.LR = lr }

func (o *LBFGS) Step(ctx context.Context, params []float64, objective Objective) (float64, error) {
	start, err := objective(ctx, params)
	if err != nil {
		return 0, err
	}
	if len(params) == 0 {
		return start, nil
	}

	var evalErr error
	f := func(x []float64) float64 {
		if evalErr != nil {
			return math.Inf(1)
		}
		if err := ctx.Err(); err != nil {
			evalErr = err
			return math.Inf(1)
		}
		v, err := objective(ctx, x)
		if err != nil {
			evalErr = err
			return math.Inf(1)
		}
		return v
	}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, &fd.Settings{Formula: fd.Forward, Step: o.FDStep})
		},
	}
	iterations := o.Iterations
	if iterations <= 0 {
		iterations = 1
	}
	result, err := optimize.Minimize(problem, params, &optimize.Settings{MajorIterations: iterations}, &optimize.LBFGS{Store: o.History})
	if evalErr != nil {
		return 0, evalErr
	}
	if result == nil {
		return 0, fmt.Errorf("lbfgs: %w", err)
	}
	if math.IsNaN(result.F) || result.F >= start {
		return start, nil
	}
	if o.LR == 1 {
		copy(params, result.X)
		return start, nil
	}
	candidate := make([]float64, len(params))
	for i := range params {
		candidate[i] = params[i] + o.LR*(result.X[i]-params[i])
	}
	loss, err := objective(ctx, candidate)
	if err != nil {
		return 0, err
	}
	if loss < start {
		copy(params, candidate)
	}
	return start, nil
}
