package reservoir

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"rsgnet/internal/model"
	"rsgnet/internal/nn"
)

const (
	DefaultTau       = 10.0
	DefaultInitStd   = 1.5
	DefaultBurnSteps = 200
)

// Phase is the engine lifecycle position.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseReset
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseReset:
		return "reset"
	case PhaseRunning:
		return "running"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Config holds the reservoir dimensions and seeds.
type Config struct {
	InputDim  int     // D
	Units     int     // N
	OutputDim int     // Z
	InitStd   float64 // std of the W_u and J draws before 1/sqrt(fan-in) scaling
	BurnSteps int     // steps run by Reset(policy, true)
	Tau       float64 // leak time constant in timesteps
	Seed      int64   // weight seed
	StateSeed int64   // seed used by DefaultState
}

func (c Config) withDefaults() Config {
	if c.InitStd == 0 {
		c.InitStd = DefaultInitStd
	}
	if c.Tau == 0 {
		c.Tau = DefaultTau
	}
	return c
}

func (c Config) validate() error {
	if c.InputDim <= 0 || c.Units <= 0 || c.OutputDim <= 0 {
		return fmt.Errorf("%w: D=%d N=%d Z=%d must be > 0", model.ErrDimensionMismatch, c.InputDim, c.Units, c.OutputDim)
	}
	if c.BurnSteps < 0 {
		return errors.New("burn steps must be >= 0")
	}
	if c.Tau < 1 {
		return errors.New("tau must be >= 1")
	}
	return nil
}

// Engine integrates x += (-x + tanh(J x + W_u u)) / tau one timestep at a time.
// An Engine is not safe for concurrent use; advance one sequence per engine.
type Engine struct {
	cfg     Config
	ambient *rand.Rand

	wu      *mat.Dense // N x D
	j       *mat.Dense // N x N
	readout *nn.Linear // Z x N, no bias

	x     *mat.VecDense
	phase Phase
}

// New draws W_u, J and the readout from cfg.Seed. The ambient source is kept
// for RandomState resets and step noise; construction does not read it.
func New(cfg Config, ambient *rand.Rand) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if ambient == nil {
		return nil, errors.New("random source is required")
	}

	weights := nn.Scoped(cfg.Seed)
	e := &Engine{
		cfg:     cfg,
		ambient: ambient,
		wu:      nn.NormalDense(weights, cfg.Units, cfg.InputDim, cfg.InitStd, 1/math.Sqrt(float64(cfg.InputDim))),
		j:       nn.NormalDense(weights, cfg.Units, cfg.Units, cfg.InitStd, 1/math.Sqrt(float64(cfg.Units))),
		readout: nn.NewLinear(weights, cfg.Units, cfg.OutputDim, false),
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Phase() Phase { return e.phase }

func (e *Engine) InputWeights() *mat.Dense { return e.wu }

func (e *Engine) Recurrent() *mat.Dense { return e.j }

func (e *Engine) Readout() *nn.Linear { return e.readout }

// State returns a 1 x N copy of the current activations.
func (e *Engine) State() (*mat.Dense, error) {
	if e.x == nil {
		return nil, ErrUninitialized
	}
	return mat.NewDense(1, e.cfg.Units, append([]float64(nil), e.x.RawVector().Data...)), nil
}

// Reset replaces the state according to policy and optionally burns in.
func (e *Engine) Reset(policy ResetPolicy, burnIn bool) error {
	n := e.cfg.Units
	var state []float64
	switch policy.Kind {
	case PolicyExplicit:
		if len(policy.State) != n {
			return fmt.Errorf("%w: explicit state length=%d want=%d", model.ErrDimensionMismatch, len(policy.State), n)
		}
		state = append([]float64(nil), policy.State...)
	case PolicyZero:
		state = make([]float64, n)
	case PolicyRandom:
		state = unitNormal(e.ambient, n)
	case PolicySeeded:
		if policy.Seed < 0 {
			return fmt.Errorf("%w: seed %d", ErrInvalidResetPolicy, policy.Seed)
		}
		state = unitNormal(nn.Scoped(policy.Seed), n)
	case PolicyDefault:
		state = unitNormal(nn.Scoped(e.cfg.StateSeed), n)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidResetPolicy, policy.Kind)
	}

	e.x = mat.NewVecDense(n, state)
	e.phase = PhaseReset
	if burnIn {
		return e.BurnIn(e.cfg.BurnSteps)
	}
	return nil
}

// BurnIn applies the autonomous update steps times. The resulting state is a
// fresh buffer with no ties to earlier ones.
func (e *Engine) BurnIn(steps int) error {
	if e.x == nil {
		return ErrUninitialized
	}
	if steps <= 0 {
		return nil
	}
	x := mat.VecDenseCopyOf(e.x)
	g := mat.NewVecDense(e.cfg.Units, nil)
	for s := 0; s < steps; s++ {
		g.MulVec(e.j, x)
		e.leak(x, g)
	}
	e.x = x
	return nil
}

// Step advances one timestep with input u and returns the readout W_ro x.
// Noise with std noiseStd is added after the nonlinearity.
func (e *Engine) Step(u []float64, noiseStd float64) ([]float64, error) {
	if e.x == nil {
		return nil, ErrUninitialized
	}
	if len(u) != e.cfg.InputDim {
		return nil, fmt.Errorf("%w: reservoir input got=%d want=%d", model.ErrDimensionMismatch, len(u), e.cfg.InputDim)
	}

	g := mat.NewVecDense(e.cfg.Units, nil)
	g.MulVec(e.j, e.x)
	in := mat.NewVecDense(e.cfg.Units, nil)
	in.MulVec(e.wu, mat.NewVecDense(len(u), append([]float64(nil), u...)))
	g.AddVec(g, in)

	var noise *distuv.Normal
	if noiseStd > 0 {
		noise = &distuv.Normal{Mu: 0, Sigma: noiseStd, Src: e.ambient}
	}
	e.leakNoisy(e.x, g, noise)
	e.phase = PhaseRunning

	return e.readout.Apply(e.x.RawVector().Data)
}

// leak computes x += (-x + tanh(pre)) / tau in place; pre is overwritten.
func (e *Engine) leak(x, pre *mat.VecDense) {
	e.leakNoisy(x, pre, nil)
}

func (e *Engine) leakNoisy(x, pre *mat.VecDense, noise *distuv.Normal) {
	tau := e.cfg.Tau
	for i := 0; i < x.Len(); i++ {
		g := math.Tanh(pre.AtVec(i))
		if noise != nil {
			g += noise.Rand()
		}
		xi := x.AtVec(i)
		x.SetVec(i, xi+(-xi+g)/tau)
	}
}

// Tensors returns W_u, J and the readout as named tensors.
func (e *Engine) Tensors() []model.WeightTensor {
	out := []model.WeightTensor{
		nn.DenseTensor("reservoir.w_u", e.wu),
		nn.DenseTensor("reservoir.j", e.j),
	}
	return append(out, e.readout.Tensors("reservoir.w_ro")...)
}

// Load restores the tensors produced by Tensors.
func (e *Engine) Load(snapshot model.Snapshot) error {
	for name, dst := range map[string]*mat.Dense{"reservoir.w_u": e.wu, "reservoir.j": e.j} {
		tensor, ok := snapshot.Tensor(name)
		if !ok {
			return fmt.Errorf("%w: missing tensor %s", model.ErrDimensionMismatch, name)
		}
		if err := nn.LoadDense(dst, tensor); err != nil {
			return err
		}
	}
	return e.readout.Load("reservoir.w_ro", snapshot)
}

func unitNormal(src rand.Source, n int) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}
