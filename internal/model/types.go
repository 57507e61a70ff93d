package model

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedTrial    = errors.New("malformed trial")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Event indices into Trial.RSG.
const (
	Ready = 0
	Set   = 1
	Go    = 2
)

// Trial is one generated ready-set-go trial. Input and Target are indexed
// [timestep][channel] and share the same length.
type Trial struct {
	Input  [][]float64 `json:"x"`
	Target [][]float64 `json:"y"`
	Task   int         `json:"task"`
	RSG    [3]int      `json:"rsg"`
}

func (t Trial) Len() int {
	return len(t.Input)
}

func (t Trial) ReadyT() int { return t.RSG[Ready] }
func (t Trial) SetT() int   { return t.RSG[Set] }
func (t Trial) GoT() int    { return t.RSG[Go] }

// ProductionInterval is go - set.
func (t Trial) ProductionInterval() int {
	return t.RSG[Go] - t.RSG[Set]
}

// Validate checks the trial against its own length.
func (t Trial) Validate() error {
	if len(t.Input) != len(t.Target) {
		return fmt.Errorf("%w: input length %d != target length %d", ErrMalformedTrial, len(t.Input), len(t.Target))
	}
	return t.ValidateLength(len(t.Input))
}

// ValidateLength checks 0 <= ready <= set <= go < length and go > set.
func (t Trial) ValidateLength(length int) error {
	ready, set, goT := t.RSG[Ready], t.RSG[Set], t.RSG[Go]
	if ready < 0 || ready > set || set > goT || goT >= length {
		return fmt.Errorf("%w: rsg=%v length=%d", ErrMalformedTrial, t.RSG, length)
	}
	if goT-set <= 0 {
		return fmt.Errorf("%w: production interval %d must be > 0", ErrMalformedTrial, goT-set)
	}
	return nil
}

// Clone returns a deep copy.
func (t Trial) Clone() Trial {
	out := t
	out.Input = cloneRows(t.Input)
	out.Target = cloneRows(t.Target)
	return out
}

func cloneRows(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// WeightTensor is one named parameter matrix stored row-major.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Snapshot captures every weight tensor of a network plus the settings needed
// to rebuild a compatible one.
type Snapshot struct {
	VersionedRecord
	ID           string         `json:"id"`
	RunID        string         `json:"run_id,omitempty"`
	CreatedAtUTC string         `json:"created_at_utc,omitempty"`
	Loss         float64        `json:"loss"`
	Architecture Architecture   `json:"architecture"`
	Tensors      []WeightTensor `json:"tensors"`
}

// Architecture records the dimensions a snapshot was taken from.
type Architecture struct {
	InputDim     int    `json:"L"`
	ProjDim      int    `json:"D"`
	Units        int    `json:"N"`
	OutputDim    int    `json:"Z"`
	UseReservoir bool   `json:"use_reservoir"`
	Bias         bool   `json:"bias"`
	OutAct       string `json:"out_act"`
}

// Tensor finds a tensor by name.
func (s Snapshot) Tensor(name string) (WeightTensor, bool) {
	for _, tensor := range s.Tensors {
		if tensor.Name == name {
			return tensor, true
		}
	}
	return WeightTensor{}, false
}

// LossRecord is one entry of a run's loss history.
type LossRecord struct {
	Epoch     int     `json:"epoch"`
	Step      int     `json:"step"`
	TrainLoss float64 `json:"train_loss"`
	TestLoss  float64 `json:"test_loss"`
	LR        float64 `json:"lr"`
}

// RunSummary is the stored outcome of one training run.
type RunSummary struct {
	VersionedRecord
	RunID          string   `json:"run_id"`
	CreatedAtUTC   string   `json:"created_at_utc"`
	Optimizer      string   `json:"optimizer"`
	Losses         []string `json:"losses"`
	Epochs         int      `json:"epochs"`
	Steps          int      `json:"steps"`
	BestLoss       float64  `json:"best_loss"`
	BestSnapshotID string   `json:"best_snapshot_id"`
}
