package loss

import (
	"errors"
	"testing"

	"rsgnet/internal/model"
)

func TestNewSetRequiresLoss(t *testing.T) {
	if _, err := NewSet(nil, DefaultWeights()); !errors.Is(err, ErrNoLossConfigured) {
		t.Fatalf("expected ErrNoLossConfigured, got: %v", err)
	}
	if _, err := NewSet([]string{"mse", "huber"}, DefaultWeights()); !errors.Is(err, ErrNoLossConfigured) {
		t.Fatalf("expected ErrNoLossConfigured for unknown name, got: %v", err)
	}
	if _, err := NewSetFrom(); !errors.Is(err, ErrNoLossConfigured) {
		t.Fatalf("expected ErrNoLossConfigured from empty list, got: %v", err)
	}
}

func TestSetUsesPerTrialWindows(t *testing.T) {
	set, err := NewSet([]string{NameMSEWindowed}, DefaultWeights())
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	a := sample(20, 0, 0, rsgTrial(1, 3, 5))
	b := sample(20, 0, 0, rsgTrial(4, 10, 12))
	// Error inside b's window but outside a's.
	a.Output[11][0] = 1
	b.Output[11][0] = 1

	res, err := set.Evaluate(
		[][][]float64{a.Output, b.Output},
		[][][]float64{a.Target, b.Target},
		[]model.Trial{a.Trial, b.Trial},
	)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// b window [10, 15): 5 steps, scale 20/5
	approxEqual(t, "total", res.Total, 4)
	approxEqual(t, "by criterion", res.ByCriterion[NameMSEWindowed], 4)
	if res.FirstCrossings != nil {
		t.Fatalf("unexpected crossings without a gated loss: %v", res.FirstCrossings)
	}
}

func TestSetSumsCriteriaAndReportsCrossings(t *testing.T) {
	set, err := NewSet([]string{NameMSE, NameMSEGated}, Weights{L1: 1, L2: 2})
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	s := sample(10, 0.5, 0, rsgTrial(1, 3, 6))
	res, err := set.Evaluate([][][]float64{s.Output}, [][][]float64{s.Target}, []model.Trial{s.Trial})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	approxEqual(t, "mse", res.ByCriterion[NameMSE], 10*0.25)
	approxEqual(t, "mse-g", res.ByCriterion[NameMSEGated], 2*4*0.25)
	approxEqual(t, "total", res.Total, 2.5+2)
	if len(res.FirstCrossings) != 1 || res.FirstCrossings[0] != 9 {
		t.Fatalf("unexpected crossings: %v", res.FirstCrossings)
	}
}

func TestSetBatchMean(t *testing.T) {
	set, err := NewSet([]string{NameMSENormalized}, DefaultWeights())
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	a := sample(4, 1, 0, rsgTrial(0, 1, 2))
	b := sample(4, 3, 0, rsgTrial(0, 1, 2))
	res, err := set.Evaluate([][][]float64{a.Output, b.Output}, [][][]float64{a.Target, b.Target}, []model.Trial{a.Trial, b.Trial})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	approxEqual(t, "mse-n", res.Total, (1+9)/2.0)
}

func TestSetRejectsBadInput(t *testing.T) {
	set, err := NewSet([]string{NameMSE}, DefaultWeights())
	if err != nil {
		t.Fatalf("new set: %v", err)
	}

	bad := sample(10, 0, 0, rsgTrial(5, 3, 6))
	_, err = set.Evaluate([][][]float64{bad.Output}, [][][]float64{bad.Target}, []model.Trial{bad.Trial})
	if !errors.Is(err, model.ErrMalformedTrial) {
		t.Fatalf("expected ErrMalformedTrial, got: %v", err)
	}

	zeroTp := sample(10, 0, 0, rsgTrial(1, 4, 4))
	_, err = set.Evaluate([][][]float64{zeroTp.Output}, [][][]float64{zeroTp.Target}, []model.Trial{zeroTp.Trial})
	if !errors.Is(err, model.ErrMalformedTrial) {
		t.Fatalf("expected ErrMalformedTrial for t_p=0, got: %v", err)
	}

	ok := sample(10, 0, 0, rsgTrial(1, 2, 4))
	_, err = set.Evaluate([][][]float64{ok.Output}, [][][]float64{ok.Target[:5]}, []model.Trial{ok.Trial})
	if !errors.Is(err, model.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got: %v", err)
	}
	_, err = set.Evaluate([][][]float64{ok.Output}, nil, []model.Trial{ok.Trial})
	if !errors.Is(err, model.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for batch sizes, got: %v", err)
	}
}
