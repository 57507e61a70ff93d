package train

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"rsgnet/internal/dataset"
	"rsgnet/internal/loss"
	"rsgnet/internal/model"
	"rsgnet/internal/network"
	"rsgnet/internal/optim"
	"rsgnet/internal/reservoir"
)

// Report is emitted after every optimizer step.
type Report struct {
	Epoch     int
	Step      int
	Batch     int
	Batches   int
	TrainLoss float64
	LR        float64
}

// Result is the outcome of Run. Best holds the weights with the lowest
// monitored loss seen so far, even when Run returns an error.
type Result struct {
	History  []model.LossRecord
	Best     model.Snapshot
	BestLoss float64
	Epochs   int
	Steps    int
	Stopped  string
}

const (
	StopEpochs   = "epochs"
	StopPatience = "patience"
	StopCanceled = "canceled"
)

// Trainer fits a network's trainable parameters to batches from Loader.
// When Test is set the held-out loss is monitored for patience and best
// snapshots; otherwise the epoch's mean training loss is.
type Trainer struct {
	Net       *network.Network
	Loss      *loss.Set
	Optimizer optim.Optimizer
	Scheduler optim.Scheduler
	Loader    *dataset.Loader
	Test      *Holdout
	Policy    reservoir.ResetPolicy
	Ambient   *rand.Rand
	NoiseSeed uint64
	Epochs    int
	Patience  int
	Progress  func(Report)
}

// Holdout is a set of store indices evaluated after every epoch.
type Holdout struct {
	Store   *dataset.Store
	Indices []int
}

func (t *Trainer) validate() error {
	switch {
	case t.Net == nil:
		return errors.New("network is required")
	case t.Loss == nil:
		return loss.ErrNoLossConfigured
	case t.Optimizer == nil:
		return errors.New("optimizer is required")
	case t.Loader == nil:
		return errors.New("loader is required")
	case t.Ambient == nil:
		return errors.New("random source is required")
	case t.Epochs <= 0:
		return fmt.Errorf("epochs must be > 0, got %d", t.Epochs)
	case t.Patience < 0:
		return fmt.Errorf("patience must be >= 0, got %d", t.Patience)
	}
	return nil
}

// Run trains for Epochs epochs, stopping early after Patience epochs without
// improvement (0 disables) or when ctx is canceled.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	if err := t.validate(); err != nil {
		return Result{}, err
	}
	scheduler := t.Scheduler
	if scheduler == nil {
		scheduler = optim.Constant{}
	}
	baseLR := t.Optimizer.LearningRate()

	res := Result{BestLoss: math.Inf(1), Stopped: StopEpochs}
	params := t.Net.Params()
	stale := 0
	for epoch := 0; epoch < t.Epochs; epoch++ {
		lr := scheduler.Rate(baseLR, epoch)
		t.Optimizer.SetLearningRate(lr)

		t.Loader.Reset()
		batches := t.Loader.Len()
		sum, count := 0.0, 0
		for b := 0; t.Loader.HasNext(); b++ {
			if err := ctx.Err(); err != nil {
				res.Stopped = StopCanceled
				return res, err
			}
			batch, err := t.Loader.Next()
			if err != nil {
				return res, err
			}
			objective := t.objective(batch, t.NoiseSeed+uint64(res.Steps))
			stepLoss, err := t.Optimizer.Step(ctx, params, objective)
			if err != nil {
				if ctx.Err() != nil {
					res.Stopped = StopCanceled
				}
				return res, fmt.Errorf("epoch %d batch %d: %w", epoch, b, err)
			}
			if err := t.Net.SetParams(params); err != nil {
				return res, err
			}
			res.Steps++
			sum += stepLoss
			count++
			if t.Progress != nil {
				t.Progress(Report{Epoch: epoch, Step: res.Steps, Batch: b, Batches: batches, TrainLoss: stepLoss, LR: lr})
			}
		}

		record := model.LossRecord{Epoch: epoch, Step: res.Steps, LR: lr}
		if count > 0 {
			record.TrainLoss = sum / float64(count)
		}
		monitored := record.TrainLoss
		if t.Test != nil {
			eval, err := Evaluate(ctx, t.Net, t.Loss, t.Test.Store, t.Test.Indices, t.Policy)
			if err != nil {
				return res, fmt.Errorf("epoch %d evaluate: %w", epoch, err)
			}
			record.TestLoss = eval.Loss
			monitored = eval.Loss
		}
		res.History = append(res.History, record)
		res.Epochs = epoch + 1

		if monitored < res.BestLoss {
			res.BestLoss = monitored
			res.Best = t.Net.Snapshot()
			res.Best.Loss = monitored
			stale = 0
		} else {
			stale++
		}
		if t.Patience > 0 && stale >= t.Patience {
			res.Stopped = StopPatience
			break
		}
	}
	return res, nil
}

// objective loads params into the network and returns the batch loss. The
// ambient source is reseeded on every call so noise and random resets are the
// same for every evaluation within one step.
func (t *Trainer) objective(batch *dataset.Batch, seed uint64) optim.Objective {
	return func(ctx context.Context, params []float64) (float64, error) {
		if err := t.Net.SetParams(params); err != nil {
			return 0, err
		}
		t.Ambient.Seed(seed)
		outputs, err := t.Net.ForwardBatch(batch.Inputs, t.Policy)
		if err != nil {
			return 0, err
		}
		res, err := t.Loss.Evaluate(outputs, batch.Targets, batch.Trials)
		if err != nil {
			return 0, err
		}
		return res.Total, nil
	}
}
