package nn

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestGetActivationUnknown(t *testing.T) {
	_, err := GetActivation("softmax")
	if !errors.Is(err, ErrUnknownActivation) {
		t.Fatalf("expected ErrUnknownActivation, got: %v", err)
	}
}

func TestListActivationsSorted(t *testing.T) {
	names := ListActivations()
	want := "exp,identity,none,relu,sigmoid,tanh"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("unexpected activation list: got=%s want=%s", got, want)
	}
	for _, name := range names {
		if _, err := GetActivation(name); err != nil {
			t.Fatalf("listed activation %s not resolvable: %v", name, err)
		}
	}
}

func TestOutputActivations(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		want float64
	}{
		{name: "none", x: -2.5, want: -2.5},
		{name: "identity", x: 1.5, want: 1.5},
		{name: "relu", x: -1, want: 0},
		{name: "relu", x: 3, want: 3},
		{name: "exp", x: 0, want: 1},
		{name: "exp", x: 1, want: math.E},
		{name: "tanh", x: 0, want: 0},
		{name: "sigmoid", x: 0, want: 0.5},
	}
	for _, tc := range tests {
		fn, err := GetActivation(tc.name)
		if err != nil {
			t.Fatalf("get %s: %v", tc.name, err)
		}
		if got := fn(tc.x); math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("%s(%f): got=%f want=%f", tc.name, tc.x, got, tc.want)
		}
	}
}
