package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"rsgnet/internal/loss"
	"rsgnet/internal/nn"
	"rsgnet/internal/optim"
	"rsgnet/internal/storage"
	"rsgnet/internal/tasks"
	"rsgnet/internal/train"
	"rsgnet/pkg/rsgnet"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "rsgnet.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "eval":
		return runEval(ctx, args[1:])
	case "generate":
		return runGenerate(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "snapshots":
		return runSnapshots(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := rsgnet.New(rsgnet.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a JSON run config")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	writeConfig := fs.String("write-config", "", "write the resolved config to this path and exit")
	quiet := fs.Bool("quiet", false, "suppress per-step progress")
	name := fs.String("name", "", "run name")
	data := fs.String("data", "", "comma-separated trial files, one per task; empty generates RSG trials")
	trials := fs.Int("trials", 0, "number of generated trials")
	testFraction := fs.Float64("test-fraction", 0, "held-out fraction of trials")
	dataSeed := fs.Uint64("data-seed", 0, "seed for trial generation and the train/test split")
	projDim := fs.Int("D", 0, "input projection width")
	units := fs.Int("N", 0, "reservoir units")
	useReservoir := fs.Bool("reservoir", true, "use the recurrent reservoir (false trains a direct readout)")
	resNoise := fs.Float64("res-noise", 0, "reservoir state noise std")
	trainReservoir := fs.Bool("train-reservoir", false, "also train the recurrent matrix")
	outAct := fs.String("out-act", "", "output activation: "+strings.Join(nn.ListActivations(), "|"))
	losses := fs.String("losses", "", "comma-separated losses: "+strings.Join(loss.Names(), "|"))
	optimizer := fs.String("optimizer", "", "optimizer: "+strings.Join(optim.Names(), "|"))
	lr := fs.Float64("lr", 0, "learning rate")
	weightDecay := fs.Float64("weight-decay", 0, "L2 weight decay")
	epochs := fs.Int("epochs", 0, "max epochs")
	batchSize := fs.Int("batch-size", 0, "trials per batch")
	patience := fs.Int("patience", 0, "stop after this many epochs without improvement (0 disables)")
	reset := fs.String("reset", "", "reservoir reset policy: default|zero|random|<seed>")
	seed := fs.Uint64("seed", 0, "training seed")
	noiseSeed := fs.Uint64("noise-seed", 0, "base seed for per-step noise")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := loadOrDefaultConfig(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&cfg, setFlags, map[string]any{
		"name":            *name,
		"data":            *data,
		"trials":          *trials,
		"test-fraction":   *testFraction,
		"data-seed":       *dataSeed,
		"D":               *projDim,
		"N":               *units,
		"reservoir":       *useReservoir,
		"res-noise":       *resNoise,
		"train-reservoir": *trainReservoir,
		"out-act":         *outAct,
		"losses":          *losses,
		"optimizer":       *optimizer,
		"lr":              *lr,
		"weight-decay":    *weightDecay,
		"epochs":          *epochs,
		"batch-size":      *batchSize,
		"patience":        *patience,
		"reset":           *reset,
		"seed":            *seed,
		"noise-seed":      *noiseSeed,
	}); err != nil {
		return err
	}
	if *configPath != "" {
		if !setFlags["store"] && cfg.Output.StoreKind != "" {
			*storeKind = cfg.Output.StoreKind
		}
		if !setFlags["db-path"] && cfg.Output.SQLitePath != "" {
			*dbPath = cfg.Output.SQLitePath
		}
		if !setFlags["runs-dir"] && cfg.Output.Dir != "" {
			*runsDir = cfg.Output.Dir
		}
	}
	if *writeConfig != "" {
		if err := cfg.Write(*writeConfig); err != nil {
			return err
		}
		fmt.Printf("wrote config=%s\n", filepath.Clean(*writeConfig))
		return nil
	}

	client, err := rsgnet.New(rsgnet.Options{
		StoreKind: *storeKind,
		DBPath:    *dbPath,
		RunsDir:   *runsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := rsgnet.TrainRequest{Config: cfg}
	var progress *progressPrinter
	if !*quiet {
		progress = newProgressPrinter(os.Stdout)
		req.Progress = progress.Report
	}
	summary, err := client.Train(ctx, req)
	if progress != nil {
		progress.Done()
	}
	if err != nil {
		return err
	}

	fmt.Printf("train completed run_id=%s optimizer=%s losses=%s reservoir=%t params=%s trials=%d train=%d test=%d\n",
		summary.RunID,
		cfg.Optimizer.Name,
		strings.Join(cfg.Loss.Names, ","),
		cfg.Network.UseReservoir,
		humanize.Comma(int64(summary.NumParams)),
		summary.Trials,
		summary.TrainTrials,
		summary.TestTrials,
	)
	for _, rec := range summary.History {
		fmt.Printf("epoch=%d train_loss=%.6f test_loss=%.6f lr=%g\n", rec.Epoch+1, rec.TrainLoss, rec.TestLoss, rec.LR)
	}
	fmt.Printf("stopped=%s epochs=%d steps=%s best_loss=%.6f best_snapshot_id=%s\n",
		summary.Stopped, summary.Epochs, humanize.Comma(int64(summary.Steps)), summary.BestLoss, summary.BestSnapshotID)
	printEvaluation(summary.Evaluation)
	if info, err := os.Stat(filepath.Join(summary.ArtifactsDir, "best_snapshot.json")); err == nil {
		fmt.Printf("snapshot_size=%s\n", humanize.Bytes(uint64(info.Size())))
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "evaluate the most recent run from run index")
	snapshotID := fs.String("snapshot-id", "", "stored snapshot id")
	snapshotPath := fs.String("snapshot", "", "snapshot JSON file")
	data := fs.String("data", "", "comma-separated trial files; empty uses the run's held-out trials")
	showTrials := fs.Bool("show-trials", false, "print one row per trial")
	jsonOut := fs.Bool("json", false, "emit the evaluation as JSON")
	stored := fs.Bool("stored", false, "print the evaluation saved at the end of training without re-running")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}

	client, err := rsgnet.New(rsgnet.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evaluate(ctx, rsgnet.EvaluateRequest{
		RunID:        *runID,
		Latest:       *latest,
		SnapshotID:   *snapshotID,
		SnapshotPath: *snapshotPath,
		Files:        splitList(*data),
		Stored:       *stored,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary.Evaluation)
	}

	fmt.Printf("eval run_id=%s snapshot_id=%s\n", summary.RunID, summary.SnapshotID)
	printEvaluation(summary.Evaluation)
	if *showTrials {
		for _, rec := range summary.Evaluation.Trials {
			fmt.Printf("trial=%d task=%d rsg=%d,%d,%d loss=%.6f first_crossing=%d desired=%d produced=%d\n",
				rec.Index, rec.Task, rec.RSG[0], rec.RSG[1], rec.RSG[2], rec.Loss, rec.FirstCrossing, rec.DesiredInterval, rec.ProducedInterval)
		}
	}
	return nil
}

func runGenerate(ctx context.Context, args []string) error {
	def := tasks.DefaultRSG()
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	out := fs.String("out", "", "output trial file")
	trials := fs.Int("trials", 100, "number of trials")
	seed := fs.Uint64("seed", 1, "generator seed")
	length := fs.Int("length", def.Length, "trial length")
	intervalMin := fs.Int("interval-min", def.IntervalMin, "min sample interval")
	intervalMax := fs.Int("interval-max", def.IntervalMax, "max sample interval")
	readyMin := fs.Int("ready-min", def.ReadyMin, "earliest ready pulse")
	readyMax := fs.Int("ready-max", def.ReadyMax, "latest ready pulse")
	pulseWidth := fs.Int("pulse-width", def.PulseWidth, "pulse width in steps")
	separate := fs.Bool("separate-channels", def.SeparateChannels, "put ready and set on their own input channels")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("generate requires --out")
	}

	client, err := rsgnet.New(rsgnet.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Generate(ctx, rsgnet.GenerateRequest{
		Task: tasks.RSG{
			Length:           *length,
			IntervalMin:      *intervalMin,
			IntervalMax:      *intervalMax,
			ReadyMin:         *readyMin,
			ReadyMax:         *readyMax,
			PulseWidth:       *pulseWidth,
			SeparateChannels: *separate,
		},
		Trials:  *trials,
		Seed:    *seed,
		OutPath: *out,
	})
	if err != nil {
		return err
	}
	size := "n/a"
	if info, err := os.Stat(summary.Path); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	fmt.Printf("generated trials=%s length=%d path=%s size=%s\n",
		humanize.Comma(int64(summary.Trials)), summary.Length, filepath.Clean(summary.Path), size)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := rsgnet.New(rsgnet.Options{StoreKind: "memory", RunsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, rsgnet.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		type runsItem struct {
			RunID          string   `json:"run_id"`
			CreatedAtUTC   string   `json:"created_at_utc"`
			Name           string   `json:"name"`
			Optimizer      string   `json:"optimizer"`
			Losses         []string `json:"losses"`
			UseReservoir   bool     `json:"use_reservoir"`
			Units          int      `json:"units"`
			Epochs         int      `json:"epochs"`
			BestLoss       float64  `json:"best_loss"`
			BestSnapshotID string   `json:"best_snapshot_id"`
			LastTrainLoss  float64  `json:"last_train_loss"`
			LastTestLoss   float64  `json:"last_test_loss"`
			EvalLoss       float64  `json:"eval_loss"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem(item))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s name=%s optimizer=%s losses=%s reservoir=%t N=%d epochs=%d best_loss=%.6f last_train_loss=%.6f last_test_loss=%.6f eval_loss=%.6f\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Name,
			item.Optimizer,
			strings.Join(item.Losses, ","),
			item.UseReservoir,
			item.Units,
			item.Epochs,
			item.BestLoss,
			item.LastTrainLoss,
			item.LastTestLoss,
			item.EvalLoss,
		)
	}
	return nil
}

func runSnapshots(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshots", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "list snapshots of the most recent run from run index")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}

	client, err := rsgnet.New(rsgnet.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Snapshots(ctx, rsgnet.SnapshotsRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no snapshots found")
		return nil
	}
	for _, item := range items {
		arch := item.Architecture
		fmt.Printf("snapshot_id=%s run_id=%s created_at=%s loss=%.6f L=%d D=%d N=%d Z=%d reservoir=%t params=%s\n",
			item.ID,
			item.RunID,
			item.CreatedAtUTC,
			item.Loss,
			arch.InputDim,
			arch.ProjDim,
			arch.Units,
			arch.OutputDim,
			arch.UseReservoir,
			humanize.Comma(int64(item.Params)),
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", defaultExportsDir, "export output directory")
	runsDir := fs.String("runs-dir", defaultRunsDir, "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := rsgnet.New(rsgnet.Options{StoreKind: "memory", RunsDir: *runsDir, ExportsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, rsgnet.ExportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", summary.RunID, summary.Directory)
	return nil
}

func printEvaluation(ev train.Evaluation) {
	fmt.Printf("eval_loss=%.6f trials=%d interval_bias=%.3f interval_std=%.3f interval_slope=%.3f\n",
		ev.Loss, len(ev.Trials), ev.IntervalBias, ev.IntervalStd, ev.IntervalSlope)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: rsgctl <init|train|eval|generate|runs|snapshots|export> [flags]", msg)
}
