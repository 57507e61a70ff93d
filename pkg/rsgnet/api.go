package rsgnet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/exp/rand"

	"rsgnet/internal/config"
	"rsgnet/internal/dataset"
	"rsgnet/internal/model"
	"rsgnet/internal/network"
	"rsgnet/internal/optim"
	"rsgnet/internal/stats"
	"rsgnet/internal/storage"
	"rsgnet/internal/tasks"
	"rsgnet/internal/train"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "rsgnet.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
}

type Client struct {
	store storage.Store

	mu          sync.Mutex
	initialized bool

	runsDir    string
	exportsDir string
}

type TrainRequest struct {
	Config   config.Config
	Progress func(train.Report)
}

type TrainSummary struct {
	RunID          string
	ArtifactsDir   string
	Trials         int
	TrainTrials    int
	TestTrials     int
	NumParams      int
	Epochs         int
	Steps          int
	Stopped        string
	BestLoss       float64
	BestSnapshotID string
	History        []model.LossRecord
	Evaluation     train.Evaluation
}

// EvaluateRequest picks weights from a snapshot file, a stored snapshot or a
// run's best snapshot, in that order. Files replaces the run's own held-out
// trials. Stored returns the evaluation written at the end of training
// instead of running the network again.
type EvaluateRequest struct {
	RunID        string
	Latest       bool
	SnapshotID   string
	SnapshotPath string
	Files        []string
	Stored       bool
}

type EvaluateSummary struct {
	RunID      string
	SnapshotID string
	Trials     int
	Evaluation train.Evaluation
}

type GenerateRequest struct {
	Task    tasks.RSG
	Trials  int
	Seed    uint64
	OutPath string
}

type GenerateSummary struct {
	Path   string
	Trials int
	Length int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string
	CreatedAtUTC   string
	Name           string
	Optimizer      string
	Losses         []string
	UseReservoir   bool
	Units          int
	Epochs         int
	BestLoss       float64
	BestSnapshotID string
	LastTrainLoss  float64
	LastTestLoss   float64
	EvalLoss       float64
}

type SnapshotsRequest struct {
	RunID  string
	Latest bool
}

type SnapshotItem struct {
	ID           string
	RunID        string
	CreatedAtUTC string
	Loss         float64
	Architecture model.Architecture
	Params       int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureInit(ctx)
}

func (c *Client) ensureInit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Train builds data, network, loss and optimizer from req.Config, runs the
// trainer and persists the best snapshot, the loss history and the run's
// artifacts. Resolved network seeds are written into the stored config so the
// run can be rebuilt exactly.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return TrainSummary{}, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return TrainSummary{}, err
	}

	data, err := loadData(cfg)
	if err != nil {
		return TrainSummary{}, err
	}
	trainIdx, testIdx, err := dataset.Split(data, cfg.Data.TestFraction, cfg.Data.Seed)
	if err != nil {
		return TrainSummary{}, err
	}

	ambient := rand.New(rand.NewSource(cfg.Training.Seed))
	net, err := network.New(cfg.NetworkConfig(data.InputDim(), data.OutputDim()), ambient)
	if err != nil {
		return TrainSummary{}, err
	}
	resolved := net.Config()
	cfg.Network.NetworkSeed = resolved.NetworkSeed
	cfg.Network.ResSeed = resolved.ResSeed
	cfg.Network.ResXSeed = resolved.ResXSeed

	set, err := cfg.LossSet()
	if err != nil {
		return TrainSummary{}, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return TrainSummary{}, err
	}
	opt, err := optim.New(cfg.Optimizer)
	if err != nil {
		return TrainSummary{}, err
	}
	loader, err := dataset.NewLoader(data, trainIdx, cfg.Training.BatchSize, cfg.Training.Shuffle, cfg.Training.Seed)
	if err != nil {
		return TrainSummary{}, err
	}

	trainer := &train.Trainer{
		Net:       net,
		Loss:      set,
		Optimizer: opt,
		Scheduler: cfg.Schedule,
		Loader:    loader,
		Policy:    policy,
		Ambient:   ambient,
		NoiseSeed: cfg.Training.NoiseSeed,
		Epochs:    cfg.Training.Epochs,
		Patience:  cfg.Training.Patience,
		Progress:  req.Progress,
	}
	if len(testIdx) > 0 {
		trainer.Test = &train.Holdout{Store: data, Indices: testIdx}
	}

	result, err := trainer.Run(ctx)
	if err != nil {
		return TrainSummary{}, err
	}

	best := result.Best
	if len(best.Tensors) == 0 {
		best = net.Snapshot()
		best.Loss = result.BestLoss
	}
	if err := net.Restore(best); err != nil {
		return TrainSummary{}, err
	}
	evalIdx := testIdx
	if len(evalIdx) == 0 {
		evalIdx = trainIdx
	}
	ambient.Seed(cfg.Training.NoiseSeed)
	evaluation, err := train.Evaluate(ctx, net, set, data, evalIdx, policy)
	if err != nil {
		return TrainSummary{}, err
	}

	runID := storage.NewID()
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	best.VersionedRecord = storage.CurrentVersion()
	best.ID = storage.NewID()
	best.RunID = runID
	best.CreatedAtUTC = createdAt

	if err := c.store.SaveSnapshot(ctx, best); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveLossHistory(ctx, runID, result.History); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveRunSummary(ctx, model.RunSummary{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		CreatedAtUTC:    createdAt,
		Optimizer:       opt.Name(),
		Losses:          set.Names(),
		Epochs:          result.Epochs,
		Steps:           result.Steps,
		BestLoss:        best.Loss,
		BestSnapshotID:  best.ID,
	}); err != nil {
		return TrainSummary{}, err
	}

	artifactsDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		RunID:      runID,
		Config:     cfg,
		History:    result.History,
		Evaluation: &evaluation,
		Best:       &best,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:          runID,
		Name:           cfg.Name,
		Optimizer:      opt.Name(),
		Losses:         set.Names(),
		UseReservoir:   cfg.Network.UseReservoir,
		Units:          cfg.Network.Units,
		Epochs:         result.Epochs,
		BestLoss:       best.Loss,
		BestSnapshotID: best.ID,
		CreatedAtUTC:   createdAt,
	}); err != nil {
		return TrainSummary{}, err
	}

	return TrainSummary{
		RunID:          runID,
		ArtifactsDir:   filepath.Clean(artifactsDir),
		Trials:         data.Len(),
		TrainTrials:    len(trainIdx),
		TestTrials:     len(testIdx),
		NumParams:      net.NumParams(),
		Epochs:         result.Epochs,
		Steps:          result.Steps,
		Stopped:        result.Stopped,
		BestLoss:       best.Loss,
		BestSnapshotID: best.ID,
		History:        result.History,
		Evaluation:     evaluation,
	}, nil
}

func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	if req.RunID != "" && req.Latest {
		return EvaluateSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest && req.SnapshotID == "" && req.SnapshotPath == "" {
		return EvaluateSummary{}, errors.New("evaluate requires run id, latest, snapshot id or snapshot path")
	}
	runID := req.RunID
	if req.Latest {
		latest, err := c.latestRunID()
		if err != nil {
			return EvaluateSummary{}, err
		}
		runID = latest
	}
	if req.Stored {
		return c.storedEvaluation(runID)
	}

	snapshot, err := c.resolveSnapshot(ctx, req.SnapshotPath, req.SnapshotID, runID)
	if err != nil {
		return EvaluateSummary{}, err
	}
	if runID == "" {
		runID = snapshot.RunID
	}

	cfg := config.Default()
	if runID != "" {
		stored, ok, err := stats.ReadRunConfig(c.runsDir, runID)
		if err != nil {
			return EvaluateSummary{}, err
		}
		if ok {
			cfg = stored
		}
	}

	var (
		data    *dataset.Store
		indices []int
	)
	if len(req.Files) > 0 {
		data, err = dataset.LoadStore(req.Files...)
		if err != nil {
			return EvaluateSummary{}, err
		}
	} else {
		data, err = loadData(cfg)
		if err != nil {
			return EvaluateSummary{}, err
		}
		trainIdx, testIdx, err := dataset.Split(data, cfg.Data.TestFraction, cfg.Data.Seed)
		if err != nil {
			return EvaluateSummary{}, err
		}
		indices = testIdx
		if len(indices) == 0 {
			indices = trainIdx
		}
	}

	arch := snapshot.Architecture
	if data.InputDim() != arch.InputDim || data.OutputDim() != arch.OutputDim {
		return EvaluateSummary{}, fmt.Errorf("%w: data has L=%d Z=%d, snapshot has L=%d Z=%d",
			model.ErrDimensionMismatch, data.InputDim(), data.OutputDim(), arch.InputDim, arch.OutputDim)
	}
	cfg.Network.ProjDim = arch.ProjDim
	cfg.Network.Units = arch.Units
	cfg.Network.UseReservoir = arch.UseReservoir
	cfg.Network.Bias = arch.Bias
	cfg.Network.OutAct = arch.OutAct

	ambient := rand.New(rand.NewSource(cfg.Training.Seed))
	net, err := network.New(cfg.NetworkConfig(arch.InputDim, arch.OutputDim), ambient)
	if err != nil {
		return EvaluateSummary{}, err
	}
	if err := net.Restore(snapshot); err != nil {
		return EvaluateSummary{}, err
	}
	set, err := cfg.LossSet()
	if err != nil {
		return EvaluateSummary{}, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return EvaluateSummary{}, err
	}

	ambient.Seed(cfg.Training.NoiseSeed)
	evaluation, err := train.Evaluate(ctx, net, set, data, indices, policy)
	if err != nil {
		return EvaluateSummary{}, err
	}
	return EvaluateSummary{
		RunID:      runID,
		SnapshotID: snapshot.ID,
		Trials:     len(evaluation.Trials),
		Evaluation: evaluation,
	}, nil
}

// Generate writes req.Trials RSG trials to req.OutPath.
func (c *Client) Generate(_ context.Context, req GenerateRequest) (GenerateSummary, error) {
	if req.OutPath == "" {
		return GenerateSummary{}, errors.New("generate requires an output path")
	}
	if req.Trials <= 0 {
		return GenerateSummary{}, fmt.Errorf("trials must be > 0, got %d", req.Trials)
	}
	if req.Task == (tasks.RSG{}) {
		req.Task = tasks.DefaultRSG()
	}
	trials, err := req.Task.Generate(req.Trials, rand.New(rand.NewSource(req.Seed)))
	if err != nil {
		return GenerateSummary{}, err
	}
	if err := dataset.SaveFile(req.OutPath, trials); err != nil {
		return GenerateSummary{}, err
	}
	return GenerateSummary{Path: req.OutPath, Trials: len(trials), Length: req.Task.Length}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		item := RunItem{
			RunID:          e.RunID,
			CreatedAtUTC:   e.CreatedAtUTC,
			Name:           e.Name,
			Optimizer:      e.Optimizer,
			Losses:         append([]string(nil), e.Losses...),
			UseReservoir:   e.UseReservoir,
			Units:          e.Units,
			Epochs:         e.Epochs,
			BestLoss:       e.BestLoss,
			BestSnapshotID: e.BestSnapshotID,
		}
		history, ok, err := stats.ReadLossHistory(c.runsDir, e.RunID)
		if err != nil {
			return nil, err
		}
		if ok && len(history) > 0 {
			last := history[len(history)-1]
			item.LastTrainLoss = last.TrainLoss
			item.LastTestLoss = last.TestLoss
		}
		evaluation, ok, err := stats.ReadEvaluation(c.runsDir, e.RunID)
		if err != nil {
			return nil, err
		}
		if ok {
			item.EvalLoss = evaluation.Loss
		}
		out = append(out, item)
	}
	return out, nil
}

// Snapshots lists a run's stored snapshots, falling back to the run's best
// snapshot file when the store does not hold them.
func (c *Client) Snapshots(ctx context.Context, req SnapshotsRequest) ([]SnapshotItem, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	runID := req.RunID
	if req.Latest {
		latest, err := c.latestRunID()
		if err != nil {
			return nil, err
		}
		runID = latest
	}
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}

	snapshots, err := c.store.ListSnapshots(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 && runID != "" {
		snapshot, err := storage.ReadSnapshotFile(stats.BestSnapshotPath(c.runsDir, runID))
		if err == nil {
			snapshots = append(snapshots, snapshot)
		}
	}

	out := make([]SnapshotItem, 0, len(snapshots))
	for _, s := range snapshots {
		params := 0
		for _, tensor := range s.Tensors {
			params += len(tensor.Data)
		}
		out = append(out, SnapshotItem{
			ID:           s.ID,
			RunID:        s.RunID,
			CreatedAtUTC: s.CreatedAtUTC,
			Loss:         s.Loss,
			Architecture: s.Architecture,
			Params:       params,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		latest, err := c.latestRunID()
		if err != nil {
			return ExportSummary{}, err
		}
		runID = latest
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) storedEvaluation(runID string) (EvaluateSummary, error) {
	if runID == "" {
		return EvaluateSummary{}, errors.New("stored evaluation requires run id or latest")
	}
	evaluation, ok, err := stats.ReadEvaluation(c.runsDir, runID)
	if err != nil {
		return EvaluateSummary{}, err
	}
	if !ok {
		return EvaluateSummary{}, fmt.Errorf("no stored evaluation for run %s", runID)
	}
	summary := EvaluateSummary{RunID: runID, Trials: len(evaluation.Trials), Evaluation: evaluation}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return EvaluateSummary{}, err
	}
	for _, e := range entries {
		if e.RunID == runID {
			summary.SnapshotID = e.BestSnapshotID
			break
		}
	}
	return summary, nil
}

func (c *Client) latestRunID() (string, error) {
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) resolveSnapshot(ctx context.Context, path, id, runID string) (model.Snapshot, error) {
	if path != "" {
		return storage.ReadSnapshotFile(path)
	}
	if err := c.ensureInit(ctx); err != nil {
		return model.Snapshot{}, err
	}
	if id == "" && runID != "" {
		summary, ok, err := c.store.GetRunSummary(ctx, runID)
		if err != nil {
			return model.Snapshot{}, err
		}
		if !ok {
			return storage.ReadSnapshotFile(stats.BestSnapshotPath(c.runsDir, runID))
		}
		id = summary.BestSnapshotID
	}
	snapshot, ok, err := c.store.GetSnapshot(ctx, id)
	if err != nil {
		return model.Snapshot{}, err
	}
	if !ok {
		return model.Snapshot{}, fmt.Errorf("snapshot not found: %s", id)
	}
	return snapshot, nil
}

func loadData(cfg config.Config) (*dataset.Store, error) {
	if len(cfg.Data.Files) > 0 {
		return dataset.LoadStore(cfg.Data.Files...)
	}
	trials, err := cfg.Data.Generate.Generate(cfg.Data.Trials, rand.New(rand.NewSource(cfg.Data.Seed)))
	if err != nil {
		return nil, err
	}
	return dataset.NewStore(trials)
}
