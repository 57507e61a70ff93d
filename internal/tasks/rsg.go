package tasks

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"

	"rsgnet/internal/model"
)

var ErrInvalidTask = errors.New("invalid task settings")

// RSG generates ready-set-go trials. The sample interval t_p is drawn
// uniformly from [IntervalMin, IntervalMax]; set follows ready by t_p and go
// follows set by t_p. The target is 0 up to set and then ramps as
// (t-set)/t_p, reaching 1 at go.
type RSG struct {
	Length           int  `json:"length"`
	IntervalMin      int  `json:"interval_min"`
	IntervalMax      int  `json:"interval_max"`
	ReadyMin         int  `json:"ready_min"`
	ReadyMax         int  `json:"ready_max"`
	PulseWidth       int  `json:"pulse_width"`
	SeparateChannels bool `json:"separate_channels"`
}

func DefaultRSG() RSG {
	return RSG{
		Length:      200,
		IntervalMin: 20,
		IntervalMax: 60,
		ReadyMin:    5,
		ReadyMax:    30,
		PulseWidth:  2,
	}
}

// InputDim is 2 when ready and set use their own channels, else 1.
func (r RSG) InputDim() int {
	if r.SeparateChannels {
		return 2
	}
	return 1
}

func (r RSG) Validate() error {
	switch {
	case r.IntervalMin <= 0 || r.IntervalMax < r.IntervalMin:
		return fmt.Errorf("%w: interval range [%d,%d]", ErrInvalidTask, r.IntervalMin, r.IntervalMax)
	case r.ReadyMin < 0 || r.ReadyMax < r.ReadyMin:
		return fmt.Errorf("%w: ready range [%d,%d]", ErrInvalidTask, r.ReadyMin, r.ReadyMax)
	case r.PulseWidth <= 0:
		return fmt.Errorf("%w: pulse width %d", ErrInvalidTask, r.PulseWidth)
	case r.ReadyMax+2*r.IntervalMax >= r.Length:
		return fmt.Errorf("%w: length %d too short for ready %d + 2*interval %d", ErrInvalidTask, r.Length, r.ReadyMax, r.IntervalMax)
	}
	return nil
}

// Trial builds one trial for a given ready time and interval.
func (r RSG) Trial(ready, interval int) (model.Trial, error) {
	set := ready + interval
	goT := set + interval
	if ready < 0 || interval <= 0 || goT >= r.Length {
		return model.Trial{}, fmt.Errorf("%w: ready=%d interval=%d length=%d", model.ErrMalformedTrial, ready, interval, r.Length)
	}
	trial := model.Trial{
		Input:  make([][]float64, r.Length),
		Target: make([][]float64, r.Length),
		RSG:    [3]int{ready, set, goT},
	}
	setChannel := 0
	if r.SeparateChannels {
		setChannel = 1
	}
	for t := 0; t < r.Length; t++ {
		trial.Input[t] = make([]float64, r.InputDim())
		if t >= ready && t < ready+r.PulseWidth {
			trial.Input[t][0] = 1
		}
		if t >= set && t < set+r.PulseWidth {
			trial.Input[t][setChannel] = 1
		}
		y := 0.0
		if t >= set {
			y = float64(t-set) / float64(interval)
		}
		trial.Target[t] = []float64{y}
	}
	return trial, nil
}

// Generate draws n trials from rng.
func (r RSG) Generate(n int, rng *rand.Rand) ([]model.Trial, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	out := make([]model.Trial, 0, n)
	for i := 0; i < n; i++ {
		ready := r.ReadyMin + rng.Intn(r.ReadyMax-r.ReadyMin+1)
		interval := r.IntervalMin + rng.Intn(r.IntervalMax-r.IntervalMin+1)
		trial, err := r.Trial(ready, interval)
		if err != nil {
			return nil, err
		}
		out = append(out, trial)
	}
	return out, nil
}
