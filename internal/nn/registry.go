package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrUnknownActivation = errors.New("unknown activation")

type ActivationFunc func(x float64) float64

func identity(x float64) float64 { return x }

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// outputActivations maps the names accepted by network.out_act. "none" is the
// name stored run configs use for the identity output.
var outputActivations = map[string]ActivationFunc{
	"none":     identity,
	"identity": identity,
	"relu":     relu,
	"exp":      math.Exp,
	"tanh":     math.Tanh,
	"sigmoid":  sigmoid,
}

func GetActivation(name string) (ActivationFunc, error) {
	fn, ok := outputActivations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivation, name)
	}
	return fn, nil
}

// ListActivations returns the accepted activation names, sorted.
func ListActivations() []string {
	names := make([]string, 0, len(outputActivations))
	for name := range outputActivations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
