package train

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"rsgnet/internal/dataset"
	"rsgnet/internal/loss"
	"rsgnet/internal/model"
	"rsgnet/internal/network"
	"rsgnet/internal/reservoir"
)

// TrialRecord is the evaluation of one held-out trial.
type TrialRecord struct {
	Index            int     `json:"index"`
	Task             int     `json:"task"`
	RSG              [3]int  `json:"rsg"`
	Loss             float64 `json:"loss"`
	FirstCrossing    int     `json:"first_crossing"`
	DesiredInterval  int     `json:"desired_interval"`
	ProducedInterval int     `json:"produced_interval"`
}

// Evaluation summarizes a held-out set. Loss is the mean per-trial loss;
// the interval statistics describe produced minus desired intervals.
type Evaluation struct {
	Loss          float64       `json:"loss"`
	Trials        []TrialRecord `json:"trials"`
	IntervalBias  float64       `json:"interval_bias"`
	IntervalStd   float64       `json:"interval_std"`
	IntervalSlope float64       `json:"interval_slope"`
}

// Evaluate runs every indexed trial on its own, each from a fresh reset with
// policy. The produced interval is the first threshold crossing after ready
// minus set.
func Evaluate(ctx context.Context, net *network.Network, set *loss.Set, store *dataset.Store, indices []int, policy reservoir.ResetPolicy) (Evaluation, error) {
	if indices == nil {
		indices = make([]int, store.Len())
		for i := range indices {
			indices[i] = i
		}
	}
	var ev Evaluation
	desired := make([]float64, 0, len(indices))
	produced := make([]float64, 0, len(indices))
	errs := make([]float64, 0, len(indices))
	total := 0.0
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return Evaluation{}, err
		}
		trial, err := store.Item(idx)
		if err != nil {
			return Evaluation{}, err
		}
		outputs, err := net.ForwardBatch([][][]float64{trial.Input}, policy)
		if err != nil {
			return Evaluation{}, fmt.Errorf("trial %d: %w", idx, err)
		}
		res, err := set.Evaluate(outputs, [][][]float64{trial.Target}, []model.Trial{trial})
		if err != nil {
			return Evaluation{}, fmt.Errorf("trial %d: %w", idx, err)
		}
		first := loss.FirstCrossing(outputs[0], trial.ReadyT(), loss.GateThreshold)
		rec := TrialRecord{
			Index:            idx,
			Task:             trial.Task,
			RSG:              trial.RSG,
			Loss:             res.Total,
			FirstCrossing:    first,
			DesiredInterval:  trial.ProductionInterval(),
			ProducedInterval: first - trial.SetT(),
		}
		ev.Trials = append(ev.Trials, rec)
		total += res.Total
		desired = append(desired, float64(rec.DesiredInterval))
		produced = append(produced, float64(rec.ProducedInterval))
		errs = append(errs, float64(rec.ProducedInterval-rec.DesiredInterval))
	}
	if len(ev.Trials) == 0 {
		return ev, nil
	}
	ev.Loss = total / float64(len(ev.Trials))
	ev.IntervalBias = stat.Mean(errs, nil)
	if len(ev.Trials) < 2 {
		return ev, nil
	}
	ev.IntervalStd = stat.StdDev(errs, nil)
	if stat.Variance(desired, nil) > 0 {
		_, ev.IntervalSlope = stat.LinearRegression(desired, produced, nil, false)
	}
	return ev, nil
}
