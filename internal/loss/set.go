package loss

import (
	"errors"
	"fmt"
	"strings"

	"rsgnet/internal/model"
)

var ErrNoLossConfigured = errors.New("no loss configured")

// Names lists every recognized criterion name.
func Names() []string {
	return []string{
		NameMSE, NameMSENormalized, NameBCE, NameMSEWindowed, NameBCEWindowed,
		NameMSESplit, NameMSEExp, NameMSEGated, NameMSEGatedRamp,
	}
}

// New builds the named criterion.
func New(name string, w Weights) (Criterion, error) {
	switch strings.TrimSpace(name) {
	case NameMSE:
		return MSE{Weight: w.L1}, nil
	case NameMSENormalized:
		return MSENormalized{Weight: w.L1}, nil
	case NameBCE:
		return BCE{Weight: w.L1, PosWeight: w.L3}, nil
	case NameMSEWindowed:
		return Windowed{Weight: w.L2}, nil
	case NameBCEWindowed:
		return WindowedBCE{Weight: w.L2, PosWeight: w.L4}, nil
	case NameMSESplit:
		return SplitWindowed{Pre: w.L1, Post: w.L2}, nil
	case NameMSEExp:
		return ExpDecay{Weight: w.L2}, nil
	case NameMSEGated:
		return Gated{Weight: w.L2, Threshold: GateThreshold}, nil
	case NameMSEGatedRamp:
		return GatedRamp{Weight: w.L2, Threshold: w.L1}, nil
	default:
		return nil, fmt.Errorf("%w: unknown loss %q", ErrNoLossConfigured, name)
	}
}

type batchMeaner interface {
	batchMean() bool
}

type crossingReporter interface {
	Crossing(s Sample) int
}

// Set is an ordered list of active criteria whose terms are summed.
type Set struct {
	criteria []Criterion
}

// NewSet requires at least one name and rejects unknown ones.
func NewSet(names []string, w Weights) (*Set, error) {
	if len(names) == 0 {
		return nil, ErrNoLossConfigured
	}
	set := &Set{}
	for _, name := range names {
		c, err := New(name, w)
		if err != nil {
			return nil, err
		}
		set.criteria = append(set.criteria, c)
	}
	return set, nil
}

// NewSetFrom wraps already built criteria.
func NewSetFrom(criteria ...Criterion) (*Set, error) {
	if len(criteria) == 0 {
		return nil, ErrNoLossConfigured
	}
	return &Set{criteria: append([]Criterion(nil), criteria...)}, nil
}

func (s *Set) Names() []string {
	names := make([]string, len(s.criteria))
	for i, c := range s.criteria {
		names[i] = c.Name()
	}
	return names
}

// Result is a batch loss with its per-criterion breakdown. FirstCrossings is
// filled when a gated criterion is active, one entry per trial.
type Result struct {
	Total          float64
	ByCriterion    map[string]float64
	FirstCrossings []int
}

// Evaluate loops over trials, reads each trial's own timestamps and sums
// every criterion.
func (s *Set) Evaluate(outputs, targets [][][]float64, trials []model.Trial) (Result, error) {
	if len(outputs) != len(targets) || len(outputs) != len(trials) {
		return Result{}, fmt.Errorf("%w: outputs=%d targets=%d trials=%d", model.ErrDimensionMismatch, len(outputs), len(targets), len(trials))
	}

	res := Result{ByCriterion: make(map[string]float64, len(s.criteria))}
	var reporter crossingReporter
	for _, c := range s.criteria {
		if r, ok := c.(crossingReporter); ok {
			reporter = r
			res.FirstCrossings = make([]int, 0, len(trials))
			break
		}
	}

	for i := range trials {
		sample := Sample{Output: outputs[i], Target: targets[i], Trial: trials[i]}
		if err := checkSample(sample); err != nil {
			return Result{}, fmt.Errorf("trial %d: %w", i, err)
		}
		for _, c := range s.criteria {
			v, err := c.Compute(sample)
			if err != nil {
				return Result{}, fmt.Errorf("trial %d %s: %w", i, c.Name(), err)
			}
			res.ByCriterion[c.Name()] += v
		}
		if reporter != nil {
			res.FirstCrossings = append(res.FirstCrossings, reporter.Crossing(sample))
		}
	}

	seen := make(map[string]bool, len(s.criteria))
	for _, c := range s.criteria {
		if seen[c.Name()] {
			continue
		}
		seen[c.Name()] = true
		if m, ok := c.(batchMeaner); ok && m.batchMean() && len(trials) > 0 {
			res.ByCriterion[c.Name()] /= float64(len(trials))
		}
		res.Total += res.ByCriterion[c.Name()]
	}
	return res, nil
}

func checkSample(s Sample) error {
	if len(s.Output) != len(s.Target) {
		return fmt.Errorf("%w: output length %d != target length %d", model.ErrDimensionMismatch, len(s.Output), len(s.Target))
	}
	for t := range s.Output {
		if len(s.Output[t]) != len(s.Target[t]) {
			return fmt.Errorf("%w: t=%d output width %d != target width %d", model.ErrDimensionMismatch, t, len(s.Output[t]), len(s.Target[t]))
		}
	}
	return s.Trial.ValidateLength(s.Valid())
}
