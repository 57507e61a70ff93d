package optim

import "sort"

// Scheduler sets the learning rate for an epoch.
type Scheduler interface {
	Rate(base float64, epoch int) float64
}

// MultiStep multiplies the base rate by Gamma once for every milestone that
// the epoch has reached.
type MultiStep struct {
	Milestones []int   `json:"milestones"`
	Gamma      float64 `json:"gamma"`
}

func (m MultiStep) Rate(base float64, epoch int) float64 {
	if m.Gamma <= 0 || len(m.Milestones) == 0 {
		return base
	}
	milestones := append([]int(nil), m.Milestones...)
	sort.Ints(milestones)
	rate := base
	for _, milestone := range milestones {
		if epoch < milestone {
			break
		}
		rate *= m.Gamma
	}
	return rate
}

// Constant keeps the base rate.
type Constant struct{}

func (Constant) Rate(base float64, _ int) float64 { return base }
