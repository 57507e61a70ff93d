package dataset

import (
	"rsgnet/internal/model"
)

// Batch is a zero-padded group of trials. Inputs and Targets are indexed
// [trial][time][channel] and share the padded length; Trials keep their own
// unshifted ready/set/go.
type Batch struct {
	Inputs  [][][]float64
	Targets [][][]float64
	Trials  []model.Trial
	Lengths []int
	Tasks   []int
	Indices []int
}

func (b Batch) Size() int {
	return len(b.Trials)
}

// Len is the padded time length.
func (b Batch) Len() int {
	if len(b.Inputs) == 0 {
		return 0
	}
	return len(b.Inputs[0])
}

// Collate pads every trial along time to the longest one with zeros.
func Collate(items []model.Trial) Batch {
	maxLen := 0
	for _, item := range items {
		if item.Len() > maxLen {
			maxLen = item.Len()
		}
	}
	b := Batch{
		Inputs:  make([][][]float64, len(items)),
		Targets: make([][][]float64, len(items)),
		Trials:  make([]model.Trial, len(items)),
		Lengths: make([]int, len(items)),
		Tasks:   make([]int, len(items)),
	}
	for i, item := range items {
		b.Inputs[i] = pad(item.Input, maxLen)
		b.Targets[i] = pad(item.Target, maxLen)
		b.Trials[i] = item
		b.Lengths[i] = item.Len()
		b.Tasks[i] = item.Task
	}
	return b
}

func pad(seq [][]float64, length int) [][]float64 {
	width := 0
	if len(seq) > 0 {
		width = len(seq[0])
	}
	out := make([][]float64, length)
	for t := range out {
		if t < len(seq) {
			out[t] = append([]float64(nil), seq[t]...)
			continue
		}
		out[t] = make([]float64, width)
	}
	return out
}
