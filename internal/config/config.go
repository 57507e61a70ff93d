package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"rsgnet/internal/loss"
	"rsgnet/internal/network"
	"rsgnet/internal/nn"
	"rsgnet/internal/optim"
	"rsgnet/internal/reservoir"
	"rsgnet/internal/tasks"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is one training run. Every field has a default in Default; a file
// only needs to name what it changes.
type Config struct {
	Name      string          `json:"name"`
	Data      Data            `json:"data"`
	Network   Network         `json:"network"`
	Loss      Loss            `json:"loss"`
	Optimizer optim.Settings  `json:"optimizer"`
	Schedule  optim.MultiStep `json:"schedule"`
	Training  Training        `json:"training"`
	Output    Output          `json:"output"`
}

// Data names trial files, one per task, or generates RSG trials when Files
// is empty.
type Data struct {
	Files        []string  `json:"files"`
	Generate     tasks.RSG `json:"generate"`
	Trials       int       `json:"trials"`
	TestFraction float64   `json:"test_fraction"`
	Seed         uint64    `json:"seed"`
}

// Network leaves the input and output widths to the data.
type Network struct {
	ProjDim        int     `json:"D"`
	Units          int     `json:"N"`
	UseReservoir   bool    `json:"use_reservoir"`
	ResInitStd     float64 `json:"res_init_std"`
	ResBurnSteps   int     `json:"res_burn_steps"`
	ResNoise       float64 `json:"res_noise"`
	Bias           bool    `json:"bias"`
	OutAct         string  `json:"out_act"`
	TrainReservoir bool    `json:"train_reservoir"`
	NetworkSeed    *int64  `json:"network_seed,omitempty"`
	ResSeed        *int64  `json:"res_seed,omitempty"`
	ResXSeed       *int64  `json:"res_x_seed,omitempty"`
}

type Loss struct {
	Names   []string     `json:"names"`
	Weights loss.Weights `json:"weights"`
}

type Training struct {
	Epochs      int    `json:"epochs"`
	BatchSize   int    `json:"batch_size"`
	Patience    int    `json:"patience"`
	ResetPolicy string `json:"reset_policy"`
	Shuffle     bool   `json:"shuffle"`
	Seed        uint64 `json:"seed"`
	NoiseSeed   uint64 `json:"noise_seed"`
}

type Output struct {
	Dir        string `json:"dir"`
	StoreKind  string `json:"store"`
	SQLitePath string `json:"sqlite_path"`
}

func Default() Config {
	opt := optim.DefaultSettings()
	opt.Name = optim.NameLBFGS
	opt.LR = 1
	return Config{
		Name: "rsg",
		Data: Data{
			Generate:     tasks.DefaultRSG(),
			Trials:       200,
			TestFraction: 0.1,
			Seed:         1,
		},
		Network: Network{
			ProjDim:      5,
			Units:        50,
			UseReservoir: true,
			ResInitStd:   reservoir.DefaultInitStd,
			ResBurnSteps: reservoir.DefaultBurnSteps,
			Bias:         true,
			OutAct:       "none",
		},
		Loss: Loss{
			Names:   []string{loss.NameMSE},
			Weights: loss.DefaultWeights(),
		},
		Optimizer: opt,
		Schedule:  optim.MultiStep{Gamma: 1},
		Training: Training{
			Epochs:      50,
			BatchSize:   10,
			Patience:    10,
			ResetPolicy: "default",
			Shuffle:     true,
			Seed:        1,
			NoiseSeed:   1,
		},
		Output: Output{
			Dir:       "runs",
			StoreKind: "memory",
		},
	}
}

// Load decodes path over Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Decode(data)
}

func Decode(data []byte) (Config, error) {
	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields that can be checked without data.
func (c Config) Validate() error {
	if len(c.Loss.Names) == 0 {
		return loss.ErrNoLossConfigured
	}
	for _, name := range c.Loss.Names {
		if _, err := loss.New(name, c.Loss.Weights); err != nil {
			return err
		}
	}
	if _, err := nn.GetActivation(c.Network.OutAct); err != nil {
		return err
	}
	if _, err := reservoir.ParseResetPolicy(c.Training.ResetPolicy); err != nil {
		return err
	}
	if _, err := optim.New(c.Optimizer); err != nil {
		return err
	}
	switch {
	case c.Network.ProjDim <= 0:
		return fmt.Errorf("%w: D must be > 0, got %d", ErrInvalidConfig, c.Network.ProjDim)
	case c.Network.UseReservoir && c.Network.Units <= 0:
		return fmt.Errorf("%w: N must be > 0, got %d", ErrInvalidConfig, c.Network.Units)
	case c.Training.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be > 0, got %d", ErrInvalidConfig, c.Training.Epochs)
	case c.Training.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be > 0, got %d", ErrInvalidConfig, c.Training.BatchSize)
	case c.Training.Patience < 0:
		return fmt.Errorf("%w: patience must be >= 0, got %d", ErrInvalidConfig, c.Training.Patience)
	case c.Data.TestFraction < 0 || c.Data.TestFraction >= 1:
		return fmt.Errorf("%w: test fraction must be in [0,1), got %v", ErrInvalidConfig, c.Data.TestFraction)
	}
	if len(c.Data.Files) == 0 {
		if c.Data.Trials <= 0 {
			return fmt.Errorf("%w: trials must be > 0 when generating data", ErrInvalidConfig)
		}
		if err := c.Data.Generate.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NetworkConfig fills in the data-dependent widths.
func (c Config) NetworkConfig(inputDim, outputDim int) network.Config {
	n := c.Network
	return network.Config{
		InputDim:       inputDim,
		ProjDim:        n.ProjDim,
		Units:          n.Units,
		OutputDim:      outputDim,
		UseReservoir:   n.UseReservoir,
		ResInitStd:     n.ResInitStd,
		ResBurnSteps:   n.ResBurnSteps,
		ResNoise:       n.ResNoise,
		Bias:           n.Bias,
		OutAct:         n.OutAct,
		TrainReservoir: n.TrainReservoir,
		NetworkSeed:    n.NetworkSeed,
		ResSeed:        n.ResSeed,
		ResXSeed:       n.ResXSeed,
	}
}

func (c Config) LossSet() (*loss.Set, error) {
	return loss.NewSet(c.Loss.Names, c.Loss.Weights)
}

func (c Config) Policy() (reservoir.ResetPolicy, error) {
	return reservoir.ParseResetPolicy(c.Training.ResetPolicy)
}

// Write stores c as indented JSON.
func (c Config) Write(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
