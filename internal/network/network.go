package network

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"rsgnet/internal/model"
	"rsgnet/internal/nn"
	"rsgnet/internal/reservoir"
)

const seedRange = 1000000

// Config selects the network dimensions and variant. Nil seeds are drawn from
// the ambient source at construction and written back into Config().
type Config struct {
	InputDim       int // L
	ProjDim        int // D
	Units          int // N
	OutputDim      int // Z
	UseReservoir   bool
	ResInitStd     float64
	ResBurnSteps   int
	ResNoise       float64
	Bias           bool
	OutAct         string
	TrainReservoir bool
	NetworkSeed    *int64
	ResSeed        *int64
	ResXSeed       *int64
}

// Extras carries intermediate values of one step.
type Extras struct {
	U []float64 // projected input
	X []float64 // reservoir state after the step, nil for the direct variant
}

// Network composes the input projection, the reservoir (or a direct linear
// readout) and the output nonlinearity.
type Network struct {
	cfg    Config
	inProj *nn.Linear
	engine *reservoir.Engine
	direct *nn.Linear
	outAct nn.ActivationFunc
}

func New(cfg Config, ambient *rand.Rand) (*Network, error) {
	if ambient == nil {
		return nil, errors.New("random source is required")
	}
	if cfg.InputDim <= 0 || cfg.ProjDim <= 0 || cfg.OutputDim <= 0 {
		return nil, fmt.Errorf("%w: L=%d D=%d Z=%d must be > 0", model.ErrDimensionMismatch, cfg.InputDim, cfg.ProjDim, cfg.OutputDim)
	}
	outAct, err := nn.GetActivation(cfg.OutAct)
	if err != nil {
		return nil, err
	}
	cfg.NetworkSeed = resolveSeed(cfg.NetworkSeed, ambient)

	netRand := nn.Scoped(*cfg.NetworkSeed)
	n := &Network{
		inProj: nn.NewLinear(netRand, cfg.InputDim, cfg.ProjDim, cfg.Bias),
		outAct: outAct,
	}
	if cfg.UseReservoir {
		cfg.ResSeed = resolveSeed(cfg.ResSeed, ambient)
		cfg.ResXSeed = resolveSeed(cfg.ResXSeed, ambient)
		n.engine, err = reservoir.New(reservoir.Config{
			InputDim:  cfg.ProjDim,
			Units:     cfg.Units,
			OutputDim: cfg.OutputDim,
			InitStd:   cfg.ResInitStd,
			BurnSteps: cfg.ResBurnSteps,
			Seed:      *cfg.ResSeed,
			StateSeed: *cfg.ResXSeed,
		}, ambient)
		if err != nil {
			return nil, err
		}
	} else {
		n.direct = nn.NewLinear(netRand, cfg.ProjDim, cfg.OutputDim, cfg.Bias)
	}
	n.cfg = cfg

	if err := n.Reset(reservoir.DefaultState()); err != nil {
		return nil, err
	}
	return n, nil
}

func resolveSeed(seed *int64, ambient *rand.Rand) *int64 {
	if seed != nil {
		v := *seed
		return &v
	}
	v := int64(ambient.Intn(seedRange))
	return &v
}

// Config returns the configuration with resolved seeds.
func (n *Network) Config() Config { return n.cfg }

// Engine returns the reservoir, nil for the direct variant.
func (n *Network) Engine() *reservoir.Engine { return n.engine }

// Reset delegates to the reservoir and burns in. No-op for the direct variant.
func (n *Network) Reset(policy reservoir.ResetPolicy) error {
	if n.engine == nil {
		return nil
	}
	return n.engine.Reset(policy, true)
}

// Step maps one input vector to one output vector.
func (n *Network) Step(o []float64) ([]float64, error) {
	z, _, err := n.step(o, false)
	return z, err
}

// StepExtras is Step plus the projected input and the reservoir state.
func (n *Network) StepExtras(o []float64) ([]float64, Extras, error) {
	return n.step(o, true)
}

func (n *Network) step(o []float64, extras bool) ([]float64, Extras, error) {
	u, err := n.inProj.Apply(o)
	if err != nil {
		return nil, Extras{}, err
	}
	var z []float64
	if n.engine != nil {
		z, err = n.engine.Step(u, n.cfg.ResNoise)
	} else {
		z, err = n.direct.Apply(u)
	}
	if err != nil {
		return nil, Extras{}, err
	}
	for i := range z {
		z[i] = n.outAct(z[i])
	}
	if !extras {
		return z, Extras{}, nil
	}
	ex := Extras{U: u}
	if n.engine != nil {
		state, err := n.engine.State()
		if err != nil {
			return nil, Extras{}, err
		}
		ex.X = state.RawRowView(0)
	}
	return z, ex, nil
}

// Forward applies Step across the time axis, one output per input timestep.
func (n *Network) Forward(seq [][]float64) ([][]float64, error) {
	out := make([][]float64, len(seq))
	for t, o := range seq {
		z, err := n.Step(o)
		if err != nil {
			return nil, fmt.Errorf("t=%d: %w", t, err)
		}
		out[t] = z
	}
	return out, nil
}

// ForwardBatch resets once with policy and runs every sequence from that same
// post-reset state.
func (n *Network) ForwardBatch(inputs [][][]float64, policy reservoir.ResetPolicy) ([][][]float64, error) {
	var start []float64
	if n.engine != nil {
		if err := n.Reset(policy); err != nil {
			return nil, err
		}
		state, err := n.engine.State()
		if err != nil {
			return nil, err
		}
		start = state.RawRowView(0)
	}

	outputs := make([][][]float64, len(inputs))
	for i, seq := range inputs {
		if n.engine != nil {
			if err := n.engine.Reset(reservoir.ExplicitState(start), false); err != nil {
				return nil, err
			}
		}
		out, err := n.Forward(seq)
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", i, err)
		}
		outputs[i] = out
	}
	return outputs, nil
}

// trainable lists the dense blocks exposed through Params, in order.
func (n *Network) trainable() []*nn.Linear {
	blocks := []*nn.Linear{n.inProj}
	if n.engine == nil {
		return append(blocks, n.direct)
	}
	blocks = append(blocks, n.engine.Readout())
	if n.cfg.TrainReservoir {
		blocks = append(blocks,
			&nn.Linear{W: n.engine.InputWeights()},
			&nn.Linear{W: n.engine.Recurrent()},
		)
	}
	return blocks
}

func (n *Network) NumParams() int {
	total := 0
	for _, block := range n.trainable() {
		total += block.NumParams()
	}
	return total
}

// Params returns a copy of the trainable parameters as one flat vector.
func (n *Network) Params() []float64 {
	params := make([]float64, 0, n.NumParams())
	for _, block := range n.trainable() {
		params = block.AppendParams(params)
	}
	return params
}

// SetParams loads a vector produced by Params.
func (n *Network) SetParams(params []float64) error {
	if len(params) != n.NumParams() {
		return fmt.Errorf("%w: params got=%d want=%d", model.ErrDimensionMismatch, len(params), n.NumParams())
	}
	rest := params
	for _, block := range n.trainable() {
		rest = block.ReadParams(rest)
	}
	return nil
}

func (n *Network) Architecture() model.Architecture {
	return model.Architecture{
		InputDim:     n.cfg.InputDim,
		ProjDim:      n.cfg.ProjDim,
		Units:        n.cfg.Units,
		OutputDim:    n.cfg.OutputDim,
		UseReservoir: n.cfg.UseReservoir,
		Bias:         n.cfg.Bias,
		OutAct:       n.cfg.OutAct,
	}
}

// Snapshot captures every weight tensor.
func (n *Network) Snapshot() model.Snapshot {
	tensors := n.inProj.Tensors("w_f")
	if n.engine != nil {
		tensors = append(tensors, n.engine.Tensors()...)
	} else {
		tensors = append(tensors, n.direct.Tensors("w_ro")...)
	}
	return model.Snapshot{Architecture: n.Architecture(), Tensors: tensors}
}

// Restore loads a snapshot taken from a network of the same architecture.
func (n *Network) Restore(snapshot model.Snapshot) error {
	want := n.Architecture()
	got := snapshot.Architecture
	if got.InputDim != want.InputDim || got.ProjDim != want.ProjDim || got.OutputDim != want.OutputDim ||
		got.UseReservoir != want.UseReservoir || got.Bias != want.Bias ||
		(want.UseReservoir && got.Units != want.Units) {
		return fmt.Errorf("%w: snapshot architecture %+v does not match %+v", model.ErrDimensionMismatch, got, want)
	}
	if err := n.inProj.Load("w_f", snapshot); err != nil {
		return err
	}
	if n.engine != nil {
		return n.engine.Load(snapshot)
	}
	return n.direct.Load("w_ro", snapshot)
}

// ReadoutWeights exposes the output matrix for inspection.
func (n *Network) ReadoutWeights() *mat.Dense {
	if n.engine != nil {
		return n.engine.Readout().W
	}
	return n.direct.W
}
