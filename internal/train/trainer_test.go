package train

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/exp/rand"

	"rsgnet/internal/dataset"
	"rsgnet/internal/loss"
	"rsgnet/internal/network"
	"rsgnet/internal/optim"
	"rsgnet/internal/reservoir"
	"rsgnet/internal/tasks"
)

func seed(v int64) *int64 { return &v }

func testStore(t *testing.T, n int) *dataset.Store {
	t.Helper()
	gen := tasks.RSG{Length: 20, IntervalMin: 3, IntervalMax: 5, ReadyMin: 1, ReadyMax: 3, PulseWidth: 1}
	trials, err := gen.Generate(n, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	store, err := dataset.NewStore(trials)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func testNetwork(t *testing.T, store *dataset.Store, useReservoir bool, noise float64, ambient *rand.Rand) *network.Network {
	t.Helper()
	net, err := network.New(network.Config{
		InputDim:     store.InputDim(),
		ProjDim:      3,
		Units:        8,
		OutputDim:    store.OutputDim(),
		UseReservoir: useReservoir,
		ResInitStd:   1.5,
		ResBurnSteps: 5,
		ResNoise:     noise,
		Bias:         true,
		OutAct:       "none",
		NetworkSeed:  seed(1),
		ResSeed:      seed(2),
		ResXSeed:     seed(3),
	}, ambient)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	return net
}

func testTrainer(t *testing.T, useReservoir bool, noise float64, opt optim.Optimizer) *Trainer {
	t.Helper()
	store := testStore(t, 10)
	ambient := rand.New(rand.NewSource(11))
	set, err := loss.NewSet([]string{loss.NameMSE}, loss.DefaultWeights())
	if err != nil {
		t.Fatalf("loss set: %v", err)
	}
	loader, err := dataset.NewLoader(store, nil, 5, false, 1)
	if err != nil {
		t.Fatalf("loader: %v", err)
	}
	return &Trainer{
		Net:       testNetwork(t, store, useReservoir, noise, ambient),
		Loss:      set,
		Optimizer: opt,
		Loader:    loader,
		Policy:    reservoir.DefaultState(),
		Ambient:   ambient,
		NoiseSeed: 100,
		Epochs:    5,
	}
}

func mustOptimizer(t *testing.T, s optim.Settings) optim.Optimizer {
	t.Helper()
	opt, err := optim.New(s)
	if err != nil {
		t.Fatalf("optimizer: %v", err)
	}
	return opt
}

func TestRunReducesLoss(t *testing.T) {
	tr := testTrainer(t, false, 0, mustOptimizer(t, optim.Settings{Name: optim.NameAdam, LR: 0.05}))
	steps := 0
	tr.Progress = func(Report) { steps++ }

	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Epochs != 5 || res.Steps != 10 || steps != 10 {
		t.Fatalf("unexpected progress: epochs=%d steps=%d callbacks=%d", res.Epochs, res.Steps, steps)
	}
	if len(res.History) != 5 {
		t.Fatalf("unexpected history length: %d", len(res.History))
	}
	first, last := res.History[0].TrainLoss, res.History[4].TrainLoss
	if last >= first {
		t.Fatalf("expected training loss to drop: first=%f last=%f", first, last)
	}
	if res.Best.Loss != res.BestLoss || len(res.Best.Tensors) == 0 {
		t.Fatalf("best snapshot not recorded: loss=%f best=%f", res.Best.Loss, res.BestLoss)
	}
	if res.Stopped != StopEpochs {
		t.Fatalf("unexpected stop reason: %s", res.Stopped)
	}
}

func TestRunDeterministicWithNoise(t *testing.T) {
	run := func() Result {
		tr := testTrainer(t, true, 0.05, mustOptimizer(t, optim.Settings{Name: optim.NameSGD, LR: 0.001}))
		tr.Policy = reservoir.RandomState()
		tr.Epochs = 2
		res, err := tr.Run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return res
	}
	a, b := run(), run()
	for i := range a.History {
		if a.History[i].TrainLoss != b.History[i].TrainLoss {
			t.Fatalf("epoch %d: got=%v want=%v", i, b.History[i].TrainLoss, a.History[i].TrainLoss)
		}
	}
}

func TestRunStopsOnPatience(t *testing.T) {
	opt := &optim.Perturb{Rand: rand.New(rand.NewSource(1)), Attempts: 1, Steps: 1, StepSize: 0.1, MinImprovement: 1e12}
	tr := testTrainer(t, false, 0, opt)
	tr.Epochs = 10
	tr.Patience = 2

	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stopped != StopPatience || res.Epochs != 3 {
		t.Fatalf("unexpected stop: reason=%s epochs=%d", res.Stopped, res.Epochs)
	}
}

func TestRunCanceled(t *testing.T) {
	tr := testTrainer(t, false, 0, mustOptimizer(t, optim.Settings{Name: optim.NameSGD, LR: 0.01}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := tr.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if res.Stopped != StopCanceled {
		t.Fatalf("unexpected stop reason: %s", res.Stopped)
	}
}

func TestRunValidation(t *testing.T) {
	tr := testTrainer(t, false, 0, mustOptimizer(t, optim.Settings{Name: optim.NameSGD, LR: 0.01}))
	tr.Loss = nil
	if _, err := tr.Run(context.Background()); !errors.Is(err, loss.ErrNoLossConfigured) {
		t.Fatalf("expected ErrNoLossConfigured, got: %v", err)
	}
	tr = testTrainer(t, false, 0, mustOptimizer(t, optim.Settings{Name: optim.NameSGD, LR: 0.01}))
	tr.Epochs = 0
	if _, err := tr.Run(context.Background()); err == nil {
		t.Fatal("expected error for zero epochs")
	}
}

func TestRunMonitorsHoldout(t *testing.T) {
	tr := testTrainer(t, false, 0, mustOptimizer(t, optim.Settings{Name: optim.NameAdam, LR: 0.05}))
	tr.Epochs = 2
	tr.Test = &Holdout{Store: testStore(t, 4)}
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, rec := range res.History {
		if rec.TestLoss <= 0 {
			t.Fatalf("epoch %d: expected a test loss, got %v", i, rec.TestLoss)
		}
	}
}

func TestEvaluateProducedInterval(t *testing.T) {
	store := testStore(t, 3)
	net := testNetwork(t, store, false, 0, rand.New(rand.NewSource(1)))
	if err := net.SetParams(make([]float64, net.NumParams())); err != nil {
		t.Fatalf("set params: %v", err)
	}
	set, err := loss.NewSet([]string{loss.NameMSE}, loss.DefaultWeights())
	if err != nil {
		t.Fatalf("loss set: %v", err)
	}

	ev, err := Evaluate(context.Background(), net, set, store, []int{0, 2}, reservoir.DefaultState())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(ev.Trials) != 2 {
		t.Fatalf("unexpected trial count: %d", len(ev.Trials))
	}
	for _, rec := range ev.Trials {
		trial, err := store.Item(rec.Index)
		if err != nil {
			t.Fatalf("item: %v", err)
		}
		if rec.FirstCrossing != trial.Len()-1 {
			t.Fatalf("zero output must never cross: got=%d want=%d", rec.FirstCrossing, trial.Len()-1)
		}
		if rec.ProducedInterval != rec.FirstCrossing-trial.SetT() || rec.DesiredInterval != trial.ProductionInterval() {
			t.Fatalf("unexpected intervals: %+v", rec)
		}
		want := 0.0
		for _, y := range trial.Target {
			want += y[0] * y[0]
		}
		if diff := rec.Loss - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("trial %d loss: got=%v want=%v", rec.Index, rec.Loss, want)
		}
	}
}
