package rsgnet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rsgnet/internal/config"
	"rsgnet/internal/dataset"
	"rsgnet/internal/loss"
	"rsgnet/internal/model"
	"rsgnet/internal/optim"
	"rsgnet/internal/tasks"
	"rsgnet/internal/train"
)

func smallTask() tasks.RSG {
	return tasks.RSG{
		Length:      40,
		IntervalMin: 5,
		IntervalMax: 10,
		ReadyMin:    2,
		ReadyMax:    5,
		PulseWidth:  1,
	}
}

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Name = "small"
	cfg.Data.Generate = smallTask()
	cfg.Data.Trials = 8
	cfg.Data.TestFraction = 0.25
	cfg.Network.ProjDim = 2
	cfg.Network.Units = 6
	cfg.Optimizer = optim.DefaultSettings()
	cfg.Optimizer.Name = optim.NameAdam
	cfg.Optimizer.LR = 1e-2
	cfg.Training.Epochs = 2
	cfg.Training.BatchSize = 3
	cfg.Training.Patience = 0
	return cfg
}

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:  "memory",
		RunsDir:    filepath.Join(base, "runs"),
		ExportsDir: filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func TestClientTrainRunsSnapshotsAndExport(t *testing.T) {
	client, base := newTestClient(t)
	ctx := context.Background()

	reports := 0
	summary, err := client.Train(ctx, TrainRequest{
		Config:   smallConfig(),
		Progress: func(train.Report) { reports++ },
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if summary.RunID == "" || summary.BestSnapshotID == "" {
		t.Fatalf("expected run and snapshot ids, got %+v", summary)
	}
	if summary.Epochs != 2 || len(summary.History) != 2 {
		t.Fatalf("unexpected epochs: got=%d history=%d want=2", summary.Epochs, len(summary.History))
	}
	if summary.TrainTrials != 6 || summary.TestTrials != 2 {
		t.Fatalf("unexpected split: got=%d/%d want=6/2", summary.TrainTrials, summary.TestTrials)
	}
	// 6 training trials in batches of 3, two epochs.
	if reports != 4 || summary.Steps != 4 {
		t.Fatalf("unexpected steps: reports=%d steps=%d want=4", reports, summary.Steps)
	}
	if len(summary.Evaluation.Trials) != 2 {
		t.Fatalf("unexpected evaluated trials: got=%d want=2", len(summary.Evaluation.Trials))
	}
	if summary.NumParams <= 0 {
		t.Fatalf("expected trainable params, got %d", summary.NumParams)
	}

	for _, name := range []string{"config.json", "loss_history.csv", "evaluation.json", "best_snapshot.json"} {
		if _, err := os.Stat(filepath.Join(summary.ArtifactsDir, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}

	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if runs[0].Optimizer != optim.NameAdam || runs[0].Name != "small" {
		t.Fatalf("unexpected run item: %+v", runs[0])
	}
	last := summary.History[len(summary.History)-1]
	if runs[0].LastTrainLoss != last.TrainLoss || runs[0].LastTestLoss != last.TestLoss {
		t.Fatalf("run item should carry the last loss record: got=%+v want=%+v", runs[0], last)
	}
	if runs[0].EvalLoss != summary.Evaluation.Loss {
		t.Fatalf("run item eval loss: got=%v want=%v", runs[0].EvalLoss, summary.Evaluation.Loss)
	}

	snapshots, err := client.Snapshots(ctx, SnapshotsRequest{Latest: true})
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].ID != summary.BestSnapshotID {
		t.Fatalf("unexpected snapshots: %+v", snapshots)
	}
	if snapshots[0].Params <= summary.NumParams {
		t.Fatalf("snapshot should hold fixed reservoir weights too: got=%d trainable=%d", snapshots[0].Params, summary.NumParams)
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.RunID != summary.RunID {
		t.Fatalf("unexpected exported run: got=%s want=%s", exported.RunID, summary.RunID)
	}
	want := filepath.Join(base, "exports", summary.RunID)
	if exported.Directory != want {
		t.Fatalf("unexpected export dir: got=%s want=%s", exported.Directory, want)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, "config.json")); err != nil {
		t.Fatalf("missing exported config: %v", err)
	}
}

func TestClientEvaluateReproducesTrainingEvaluation(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	summary, err := client.Train(ctx, TrainRequest{Config: smallConfig()})
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	byRun, err := client.Evaluate(ctx, EvaluateRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("evaluate by run: %v", err)
	}
	if byRun.SnapshotID != summary.BestSnapshotID {
		t.Fatalf("unexpected snapshot: got=%s want=%s", byRun.SnapshotID, summary.BestSnapshotID)
	}
	if byRun.Evaluation.Loss != summary.Evaluation.Loss {
		t.Fatalf("evaluation drifted: got=%v want=%v", byRun.Evaluation.Loss, summary.Evaluation.Loss)
	}

	path := filepath.Join(summary.ArtifactsDir, "best_snapshot.json")
	byFile, err := client.Evaluate(ctx, EvaluateRequest{SnapshotPath: path})
	if err != nil {
		t.Fatalf("evaluate by file: %v", err)
	}
	if byFile.RunID != summary.RunID || byFile.Evaluation.Loss != summary.Evaluation.Loss {
		t.Fatalf("unexpected file evaluation: got=%+v", byFile)
	}
}

func TestClientEvaluateFallsBackToArtifactsInNewClient(t *testing.T) {
	base := t.TempDir()
	opts := Options{StoreKind: "memory", RunsDir: filepath.Join(base, "runs")}
	ctx := context.Background()

	first, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	summary, err := first.Train(ctx, TrainRequest{Config: smallConfig()})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	_ = first.Close()

	second, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer func() {
		_ = second.Close()
	}()
	got, err := second.Evaluate(ctx, EvaluateRequest{Latest: true})
	if err != nil {
		t.Fatalf("evaluate latest: %v", err)
	}
	if got.RunID != summary.RunID || got.Evaluation.Loss != summary.Evaluation.Loss {
		t.Fatalf("unexpected evaluation: got=%+v want loss=%v", got, summary.Evaluation.Loss)
	}

	stored, err := second.Evaluate(ctx, EvaluateRequest{RunID: summary.RunID, Stored: true})
	if err != nil {
		t.Fatalf("evaluate stored: %v", err)
	}
	if stored.Evaluation.Loss != summary.Evaluation.Loss || stored.SnapshotID != summary.BestSnapshotID {
		t.Fatalf("unexpected stored evaluation: got=%+v", stored)
	}
	if _, err := second.Evaluate(ctx, EvaluateRequest{RunID: "missing", Stored: true}); err == nil {
		t.Fatal("expected stored evaluation of unknown run to fail")
	}
}

func TestClientEvaluateRejectsMismatchedData(t *testing.T) {
	client, base := newTestClient(t)
	ctx := context.Background()

	summary, err := client.Train(ctx, TrainRequest{Config: smallConfig()})
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	task := smallTask()
	task.SeparateChannels = true
	path := filepath.Join(base, "two_channel.json")
	if _, err := client.Generate(ctx, GenerateRequest{Task: task, Trials: 3, Seed: 5, OutPath: path}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, err = client.Evaluate(ctx, EvaluateRequest{RunID: summary.RunID, Files: []string{path}})
	if !errors.Is(err, model.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestClientTrainRejectsInvalidConfig(t *testing.T) {
	client, _ := newTestClient(t)

	cfg := smallConfig()
	cfg.Loss.Names = nil
	_, err := client.Train(context.Background(), TrainRequest{Config: cfg})
	if !errors.Is(err, loss.ErrNoLossConfigured) {
		t.Fatalf("expected no loss configured, got %v", err)
	}

	cfg = smallConfig()
	cfg.Optimizer.Name = "newton"
	_, err = client.Train(context.Background(), TrainRequest{Config: cfg})
	if !errors.Is(err, optim.ErrUnknownOptimizer) {
		t.Fatalf("expected unknown optimizer, got %v", err)
	}
}

func TestClientTrainFromFiles(t *testing.T) {
	client, base := newTestClient(t)
	ctx := context.Background()

	path := filepath.Join(base, "data", "rsg.json")
	generated, err := client.Generate(ctx, GenerateRequest{Task: smallTask(), Trials: 5, Seed: 3, OutPath: path})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if generated.Trials != 5 || generated.Length != 40 {
		t.Fatalf("unexpected generate summary: %+v", generated)
	}
	trials, err := dataset.LoadFile(path)
	if err != nil {
		t.Fatalf("load generated: %v", err)
	}
	if len(trials) != 5 || trials[0].Len() != 40 {
		t.Fatalf("unexpected generated trials: n=%d", len(trials))
	}

	cfg := smallConfig()
	cfg.Data.Files = []string{path}
	cfg.Data.TestFraction = 0
	cfg.Training.Epochs = 1
	summary, err := client.Train(ctx, TrainRequest{Config: cfg})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if summary.Trials != 5 || summary.TestTrials != 0 {
		t.Fatalf("unexpected data summary: %+v", summary)
	}
	// Without a holdout every training trial is evaluated.
	if len(summary.Evaluation.Trials) != 5 {
		t.Fatalf("unexpected evaluated trials: got=%d want=5", len(summary.Evaluation.Trials))
	}
}

func TestClientRequestValidation(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected export without run id to fail")
	}
	if _, err := client.Export(ctx, ExportRequest{RunID: "a", Latest: true}); err == nil {
		t.Fatal("expected export with run id and latest to fail")
	}
	if _, err := client.Evaluate(ctx, EvaluateRequest{}); err == nil {
		t.Fatal("expected evaluate without a source to fail")
	}
	if _, err := client.Evaluate(ctx, EvaluateRequest{Latest: true}); err == nil {
		t.Fatal("expected evaluate latest without runs to fail")
	}
	if _, err := client.Evaluate(ctx, EvaluateRequest{SnapshotID: "missing"}); err == nil {
		t.Fatal("expected evaluate of a missing snapshot to fail")
	}
	if _, err := client.Generate(ctx, GenerateRequest{Trials: 1}); err == nil {
		t.Fatal("expected generate without output path to fail")
	}
	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}
}
