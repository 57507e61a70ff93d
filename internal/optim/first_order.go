package optim

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
)

// SGD is plain stochastic gradient descent with optional momentum and L2
// weight decay.
type SGD struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	FDStep      float64

	velocity []float64
}

func (o *SGD) Name() string               { return NameSGD }
func (o *SGD) LearningRate() float64      { return o.LR }
func (o *SGD) SetLearningRate(lr float64) { o.LR = lr }

func (o *SGD) Step(ctx context.Context, params []float64, objective Objective) (float64, error) {
	loss, grad, err := gradient(ctx, objective, params, o.FDStep)
	if err != nil {
		return 0, err
	}
	if o.WeightDecay > 0 {
		floats.AddScaled(grad, o.WeightDecay, params)
	}
	if o.Momentum > 0 {
		if len(o.velocity) != len(params) {
			o.velocity = make([]float64, len(params))
		}
		floats.Scale(o.Momentum, o.velocity)
		floats.Add(o.velocity, grad)
		grad = o.velocity
	}
	floats.AddScaled(params, -o.LR, grad)
	return loss, nil
}

// Adam keeps bias-corrected first and second moment estimates.
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64
	FDStep      float64

	m, v []float64
	t    int
}

func (o *Adam) Name() string               { return NameAdam }
func (o *Adam) LearningRate() float64      { return o.LR }
func (o *Adam) SetLearningRate(lr float64) { o.LR = lr }

func (o *Adam) Step(ctx context.Context, params []float64, objective Objective) (float64, error) {
	loss, grad, err := gradient(ctx, objective, params, o.FDStep)
	if err != nil {
		return 0, err
	}
	if o.WeightDecay > 0 {
		floats.AddScaled(grad, o.WeightDecay, params)
	}
	if len(o.m) != len(params) {
		o.m = make([]float64, len(params))
		o.v = make([]float64, len(params))
		o.t = 0
	}
	o.t++
	c1 := 1 - math.Pow(o.Beta1, float64(o.t))
	c2 := 1 - math.Pow(o.Beta2, float64(o.t))
	for i, g := range grad {
		o.m[i] = o.Beta1*o.m[i] + (1-o.Beta1)*g
		o.v[i] = o.Beta2*o.v[i] + (1-o.Beta2)*g*g
		params[i] -= o.LR * (o.m[i] / c1) / (math.Sqrt(o.v[i]/c2) + o.Epsilon)
	}
	return loss, nil
}

// RMSProp scales each coordinate by a running average of squared gradients.
type RMSProp struct {
	LR          float64
	Alpha       float64
	Epsilon     float64
	WeightDecay float64
	FDStep      float64

	sq []float64
}

func (o *RMSProp) Name() string               { return NameRMSProp }
func (o *RMSProp) LearningRate() float64      { return o.LR }
func (o *RMSProp) SetLearningRate(lr float64) { o.LR = lr }

func (o *RMSProp) Step(ctx context.Context, params []float64, objective Objective) (float64, error) {
	loss, grad, err := gradient(ctx, objective, params, o.FDStep)
	if err != nil {
		return 0, err
	}
	if o.WeightDecay > 0 {
		floats.AddScaled(grad, o.WeightDecay, params)
	}
	if len(o.sq) != len(params) {
		o.sq = make([]float64, len(params))
	}
	for i, g := range grad {
		o.sq[i] = o.Alpha*o.sq[i] + (1-o.Alpha)*g*g
		params[i] -= o.LR * g / (math.Sqrt(o.sq[i]) + o.Epsilon)
	}
	return loss, nil
}
