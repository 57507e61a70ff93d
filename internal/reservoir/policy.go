package reservoir

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidResetPolicy = errors.New("invalid reset policy")
	ErrUninitialized      = errors.New("reservoir state is uninitialized")
)

// PolicyKind selects how Reset produces the next state.
type PolicyKind int

const (
	PolicyDefault PolicyKind = iota
	PolicyExplicit
	PolicyZero
	PolicyRandom
	PolicySeeded
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyDefault:
		return "default"
	case PolicyExplicit:
		return "explicit"
	case PolicyZero:
		return "zero"
	case PolicyRandom:
		return "random"
	case PolicySeeded:
		return "seeded"
	default:
		return fmt.Sprintf("policy(%d)", int(k))
	}
}

// ResetPolicy is a reset request. State is used by PolicyExplicit, Seed by
// PolicySeeded.
type ResetPolicy struct {
	Kind  PolicyKind
	State []float64
	Seed  int64
}

// DefaultState draws the state from the engine's configured state seed.
func DefaultState() ResetPolicy { return ResetPolicy{Kind: PolicyDefault} }

// ExplicitState adopts state verbatim.
func ExplicitState(state []float64) ResetPolicy {
	return ResetPolicy{Kind: PolicyExplicit, State: append([]float64(nil), state...)}
}

func ZeroState() ResetPolicy { return ResetPolicy{Kind: PolicyZero} }

// RandomState draws from the ambient source and is not reproducible.
func RandomState() ResetPolicy { return ResetPolicy{Kind: PolicyRandom} }

// SeededState draws unit-normal activations from a generator private to seed.
func SeededState(seed int64) ResetPolicy { return ResetPolicy{Kind: PolicySeeded, Seed: seed} }

func (p ResetPolicy) String() string {
	switch p.Kind {
	case PolicySeeded:
		return strconv.FormatInt(p.Seed, 10)
	default:
		return p.Kind.String()
	}
}

// ParseResetPolicy accepts "zero"/"-1", "random"/"-2", "default"/"" and any
// integer >= 0 as a state seed.
func ParseResetPolicy(raw string) (ResetPolicy, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "", "default":
		return DefaultState(), nil
	case "zero", "-1":
		return ZeroState(), nil
	case "random", "-2":
		return RandomState(), nil
	}
	seed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seed < 0 {
		return ResetPolicy{}, fmt.Errorf("%w: %q", ErrInvalidResetPolicy, raw)
	}
	return SeededState(seed), nil
}
