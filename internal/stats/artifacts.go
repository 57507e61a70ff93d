package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"rsgnet/internal/config"
	"rsgnet/internal/model"
	"rsgnet/internal/train"
)

const (
	runIndexFile    = "run_index.json"
	configFile      = "config.json"
	lossHistoryFile = "loss_history.csv"
	evaluationFile  = "evaluation.json"
	bestSnapshot    = "best_snapshot.json"
)

var lossHistoryHeader = []string{"epoch", "step", "train_loss", "test_loss", "lr"}

// RunArtifacts is everything written to a run's directory.
type RunArtifacts struct {
	RunID      string
	Config     config.Config
	History    []model.LossRecord
	Evaluation *train.Evaluation
	Best       *model.Snapshot
}

type RunIndexEntry struct {
	RunID          string   `json:"run_id"`
	Name           string   `json:"name"`
	Optimizer      string   `json:"optimizer"`
	Losses         []string `json:"losses"`
	UseReservoir   bool     `json:"use_reservoir"`
	Units          int      `json:"units"`
	Epochs         int      `json:"epochs"`
	BestLoss       float64  `json:"best_loss"`
	BestSnapshotID string   `json:"best_snapshot_id"`
	CreatedAtUTC   string   `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := WriteLossHistory(filepath.Join(runDir, lossHistoryFile), artifacts.History); err != nil {
		return "", err
	}
	if artifacts.Evaluation != nil {
		if err := writeJSON(filepath.Join(runDir, evaluationFile), artifacts.Evaluation); err != nil {
			return "", err
		}
	}
	if artifacts.Best != nil {
		if err := writeJSON(filepath.Join(runDir, bestSnapshot), artifacts.Best); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

// BestSnapshotPath is where WriteRunArtifacts puts the best weights.
func BestSnapshotPath(baseDir, runID string) string {
	return filepath.Join(baseDir, runID, bestSnapshot)
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the newest runs first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

func ReadRunConfig(baseDir, runID string) (config.Config, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return config.Config{}, false, nil
		}
		return config.Config{}, false, err
	}
	cfg, err := config.Decode(data)
	if err != nil {
		return config.Config{}, false, err
	}
	return cfg, true, nil
}

func ReadEvaluation(baseDir, runID string) (train.Evaluation, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, evaluationFile))
	if err != nil {
		if os.IsNotExist(err) {
			return train.Evaluation{}, false, nil
		}
		return train.Evaluation{}, false, err
	}
	var ev train.Evaluation
	if err := json.Unmarshal(data, &ev); err != nil {
		return train.Evaluation{}, false, err
	}
	return ev, true, nil
}

// WriteLossHistory writes one CSV row per epoch.
func WriteLossHistory(path string, history []model.LossRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(lossHistoryHeader); err != nil {
		return err
	}
	for _, rec := range history {
		if err := writer.Write([]string{
			strconv.Itoa(rec.Epoch),
			strconv.Itoa(rec.Step),
			strconv.FormatFloat(rec.TrainLoss, 'g', -1, 64),
			strconv.FormatFloat(rec.TestLoss, 'g', -1, 64),
			strconv.FormatFloat(rec.LR, 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadLossHistory(baseDir, runID string) ([]model.LossRecord, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, lossHistoryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.LossRecord{}, true, nil
		}
		return nil, false, err
	}
	if len(header) != len(lossHistoryHeader) {
		return nil, false, fmt.Errorf("loss history header must have %d columns", len(lossHistoryHeader))
	}

	var history []model.LossRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		rec, err := parseLossRecord(row)
		if err != nil {
			return nil, false, err
		}
		history = append(history, rec)
	}
	return history, true, nil
}

func parseLossRecord(row []string) (model.LossRecord, error) {
	var (
		rec model.LossRecord
		err error
	)
	if rec.Epoch, err = strconv.Atoi(row[0]); err != nil {
		return rec, err
	}
	if rec.Step, err = strconv.Atoi(row[1]); err != nil {
		return rec, err
	}
	if rec.TrainLoss, err = strconv.ParseFloat(row[2], 64); err != nil {
		return rec, err
	}
	if rec.TestLoss, err = strconv.ParseFloat(row[3], 64); err != nil {
		return rec, err
	}
	if rec.LR, err = strconv.ParseFloat(row[4], 64); err != nil {
		return rec, err
	}
	return rec, nil
}

// ExportRunArtifacts copies a run directory's files to outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, lossHistoryFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{evaluationFile, bestSnapshot} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return dst, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
