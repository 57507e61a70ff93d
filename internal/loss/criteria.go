package loss

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"rsgnet/internal/model"
)

const (
	NameMSE           = "mse"
	NameMSENormalized = "mse-n"
	NameBCE           = "bce"
	NameMSEWindowed   = "mse-w"
	NameBCEWindowed   = "bce-w"
	NameMSESplit      = "mse-w2"
	NameMSEExp        = "mse-e"
	NameMSEGated      = "mse-g"
	NameMSEGatedRamp  = "mse-gw"
)

// GateThreshold is the output level that counts as the model's own go.
const GateThreshold = 1.0

// Weights scales the loss terms. L1 weighs plain and pre-set terms, L2 the
// windowed and gated terms, L3 and L4 are the positive-class weights of bce
// and bce-w.
type Weights struct {
	L1 float64 `json:"l1"`
	L2 float64 `json:"l2"`
	L3 float64 `json:"l3"`
	L4 float64 `json:"l4"`
}

func DefaultWeights() Weights {
	return Weights{L1: 1, L2: 1, L3: 1, L4: 1}
}

// Sample is one trial's output and target, both [time][channel].
type Sample struct {
	Output [][]float64
	Target [][]float64
	Trial  model.Trial
}

func (s Sample) Len() int { return len(s.Output) }

// Valid is the trial's own length inside a padded batch. Plain terms score the
// whole padded sequence; windowed, exp-decay and gated terms stay below Valid
// so zero-padding is never inside a window.
func (s Sample) Valid() int {
	if n := s.Trial.Len(); n > 0 && n < s.Len() {
		return n
	}
	return s.Len()
}

// Criterion computes one loss term for one trial.
type Criterion interface {
	Name() string
	Compute(s Sample) (float64, error)
}

// squaredError sums (o-y)^2 over [start, end) and every channel.
func squaredError(s Sample, start, end int) float64 {
	total := 0.0
	for t := start; t < end; t++ {
		for c, o := range s.Output[t] {
			d := o - s.Target[t][c]
			total += d * d
		}
	}
	return total
}

func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

// bceWithLogits sums binary cross-entropy over [start, end) treating outputs
// as logits; posWeight scales the positive-target term.
func bceWithLogits(s Sample, start, end int, posWeight float64) float64 {
	total := 0.0
	for t := start; t < end; t++ {
		for c, x := range s.Output[t] {
			y := s.Target[t][c]
			total += posWeight*y*softplus(-x) + (1-y)*softplus(x)
		}
	}
	return total
}

type MSE struct{ Weight float64 }

func (MSE) Name() string { return NameMSE }

func (m MSE) Compute(s Sample) (float64, error) {
	return m.Weight * squaredError(s, 0, s.Len()), nil
}

// MSENormalized divides the summed squared error by the trial length; the Set
// divides its batch total by the batch size.
type MSENormalized struct{ Weight float64 }

func (MSENormalized) Name() string { return NameMSENormalized }

func (m MSENormalized) Compute(s Sample) (float64, error) {
	if s.Len() == 0 {
		return 0, nil
	}
	return m.Weight * squaredError(s, 0, s.Len()) / float64(s.Len()), nil
}

func (MSENormalized) batchMean() bool { return true }

type BCE struct {
	Weight    float64
	PosWeight float64
}

func (BCE) Name() string { return NameBCE }

func (b BCE) Compute(s Sample) (float64, error) {
	return b.Weight * bceWithLogits(s, 0, s.Len(), b.PosWeight), nil
}

// Windowed scores [set, go+t_p] only, scaled by length/window length.
type Windowed struct{ Weight float64 }

func (Windowed) Name() string { return NameMSEWindowed }

// Window returns the half-open range [set, go+t_p+1) clipped to length.
func (Windowed) Window(trial model.Trial, length int) (int, int) {
	end := trial.GoT() + trial.ProductionInterval() + 1
	if end > length {
		end = length
	}
	return trial.SetT(), end
}

func (w Windowed) Compute(s Sample) (float64, error) {
	start, end := w.Window(s.Trial, s.Valid())
	if end <= start {
		return 0, nil
	}
	scale := float64(s.Valid()) / float64(end-start)
	return w.Weight * scale * squaredError(s, start, end), nil
}

// WindowedBCE scores [set, go] with binary cross-entropy.
type WindowedBCE struct {
	Weight    float64
	PosWeight float64
}

func (WindowedBCE) Name() string { return NameBCEWindowed }

// Window returns [set, go+1); its length is t_p+1.
func (WindowedBCE) Window(trial model.Trial, length int) (int, int) {
	end := trial.GoT() + 1
	if end > length {
		end = length
	}
	return trial.SetT(), end
}

func (w WindowedBCE) Compute(s Sample) (float64, error) {
	start, end := w.Window(s.Trial, s.Valid())
	if end <= start {
		return 0, nil
	}
	scale := float64(s.Valid()) / float64(end-start)
	return w.Weight * scale * bceWithLogits(s, start, end, w.PosWeight), nil
}

// SplitWindowed weighs [0, set) by Pre and [set, go+t_p) by Post, each
// normalized by its own length. Nothing at or after go+t_p is scored.
type SplitWindowed struct {
	Pre  float64
	Post float64
}

func (SplitWindowed) Name() string { return NameMSESplit }

// Windows returns the half-open pre-set and post-set ranges.
func (SplitWindowed) Windows(trial model.Trial, length int) (pre, post [2]int) {
	end := trial.GoT() + trial.ProductionInterval()
	if end > length {
		end = length
	}
	return [2]int{0, trial.SetT()}, [2]int{trial.SetT(), end}
}

func (w SplitWindowed) Compute(s Sample) (float64, error) {
	pre, post := w.Windows(s.Trial, s.Valid())
	length := float64(s.Valid())
	total := 0.0
	if n := pre[1] - pre[0]; n > 0 {
		total += w.Pre * length / float64(n) * squaredError(s, pre[0], pre[1])
	}
	if n := post[1] - post[0]; n > 0 {
		total += w.Post * length / float64(n) * squaredError(s, post[0], post[1])
	}
	return total, nil
}

// ExpDecay weighs channel 0 by 2^(-(go-t)/t_p) before go and
// 2^(-2(t-go)/t_p) after, rescaled to sum to the trial length.
type ExpDecay struct{ Weight float64 }

func (ExpDecay) Name() string { return NameMSEExp }

// Weights returns the per-timestep weights for a trial of the given length.
func (ExpDecay) Weights(trial model.Trial, length int) []float64 {
	tp := float64(trial.ProductionInterval())
	lambda := -math.Ln2 / tp
	goT := trial.GoT()
	weights := make([]float64, length)
	for t := range weights {
		if t <= goT {
			weights[t] = math.Exp(lambda * float64(goT-t))
		} else {
			weights[t] = math.Exp(2 * lambda * float64(t-goT))
		}
	}
	if sum := floats.Sum(weights); sum > 0 {
		floats.Scale(float64(length)/sum, weights)
	}
	return weights
}

func (e ExpDecay) Compute(s Sample) (float64, error) {
	weights := e.Weights(s.Trial, s.Valid())
	total := 0.0
	for t, w := range weights {
		if len(s.Output[t]) == 0 {
			continue
		}
		d := s.Output[t][0] - s.Target[t][0]
		total += w * d * d
	}
	return e.Weight * total, nil
}

// FirstCrossing returns the first t >= ready at which any output channel
// exceeds threshold, or length-1 if none does.
func FirstCrossing(output [][]float64, ready int, threshold float64) int {
	for t := ready; t < len(output); t++ {
		for _, v := range output[t] {
			if v > threshold {
				return t
			}
		}
	}
	return len(output) - 1
}

func orderedSpan(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

// Gated scores the span between the model's self-triggered go and the true go.
type Gated struct {
	Weight    float64
	Threshold float64
}

func (Gated) Name() string { return NameMSEGated }

func (g Gated) Crossing(s Sample) int {
	return FirstCrossing(s.Output[:s.Valid()], s.Trial.ReadyT(), g.Threshold)
}

func (g Gated) Compute(s Sample) (float64, error) {
	first := g.Crossing(s)
	goT := s.Trial.GoT()
	if first == goT {
		return 0, nil
	}
	start, end := orderedSpan(first, goT)
	return g.Weight * squaredError(s, start, end+1), nil
}

// GatedRamp is the weighted gated loss on channel 0: firing early pulls the
// span toward 0 with weights falling toward go, firing late pulls it toward
// the threshold with weights growing away from go.
type GatedRamp struct {
	Weight    float64
	Threshold float64
}

func (GatedRamp) Name() string { return NameMSEGatedRamp }

func (g GatedRamp) Crossing(s Sample) int {
	return FirstCrossing(s.Output[:s.Valid()], s.Trial.ReadyT(), g.Threshold)
}

func (g GatedRamp) Compute(s Sample) (float64, error) {
	first := g.Crossing(s)
	goT := s.Trial.GoT()
	total := 0.0
	switch {
	case goT > first:
		for t := first; t <= goT; t++ {
			w := float64(goT + 1 - t)
			d := s.Output[t][0]
			total += w * d * d
		}
	case goT < first:
		for t := goT; t <= first; t++ {
			w := float64(t - goT)
			d := g.Threshold - s.Output[t][0]
			total += w * d * d
		}
	}
	return g.Weight * total, nil
}
