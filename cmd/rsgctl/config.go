package main

import (
	"fmt"
	"strings"

	"rsgnet/internal/config"
)

func loadOrDefaultConfig(configPath string) (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// overrideFromFlags copies explicitly set flags over cfg and re-validates.
func overrideFromFlags(cfg *config.Config, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "name":
			cfg.Name = v.(string)
		case "data":
			cfg.Data.Files = splitList(v.(string))
		case "trials":
			cfg.Data.Trials = v.(int)
		case "test-fraction":
			cfg.Data.TestFraction = v.(float64)
		case "data-seed":
			cfg.Data.Seed = v.(uint64)
		case "D":
			cfg.Network.ProjDim = v.(int)
		case "N":
			cfg.Network.Units = v.(int)
		case "reservoir":
			cfg.Network.UseReservoir = v.(bool)
		case "res-noise":
			cfg.Network.ResNoise = v.(float64)
		case "train-reservoir":
			cfg.Network.TrainReservoir = v.(bool)
		case "out-act":
			cfg.Network.OutAct = v.(string)
		case "losses":
			cfg.Loss.Names = splitList(v.(string))
		case "optimizer":
			cfg.Optimizer.Name = v.(string)
		case "lr":
			cfg.Optimizer.LR = v.(float64)
		case "weight-decay":
			cfg.Optimizer.WeightDecay = v.(float64)
		case "epochs":
			cfg.Training.Epochs = v.(int)
		case "batch-size":
			cfg.Training.BatchSize = v.(int)
		case "patience":
			cfg.Training.Patience = v.(int)
		case "reset":
			cfg.Training.ResetPolicy = v.(string)
		case "seed":
			cfg.Training.Seed = v.(uint64)
		case "noise-seed":
			cfg.Training.NoiseSeed = v.(uint64)
		}
	}
	return cfg.Validate()
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
