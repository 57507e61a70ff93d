package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"rsgnet/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps a record with the versions this build reads.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// NewID returns a fresh run or snapshot identifier.
func NewID() string {
	return uuid.NewString()
}

func EncodeSnapshot(s model.Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSnapshot(data []byte) (model.Snapshot, error) {
	var snapshot model.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.Snapshot{}, err
	}
	for _, tensor := range snapshot.Tensors {
		size := 1
		for _, dim := range tensor.Shape {
			size *= dim
		}
		if size != len(tensor.Data) {
			return model.Snapshot{}, fmt.Errorf("%w: tensor %s shape %v holds %d values", model.ErrDimensionMismatch, tensor.Name, tensor.Shape, len(tensor.Data))
		}
	}
	return snapshot, nil
}

func EncodeRunSummary(s model.RunSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeRunSummary(data []byte) (model.RunSummary, error) {
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.RunSummary{}, err
	}
	return summary, nil
}

func EncodeLossHistory(history []model.LossRecord) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeLossHistory(data []byte) ([]model.LossRecord, error) {
	var history []model.LossRecord
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// WriteSnapshotFile stores one snapshot as a standalone file.
func WriteSnapshotFile(path string, snapshot model.Snapshot) error {
	data, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func ReadSnapshotFile(path string) (model.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Snapshot{}, err
	}
	snapshot, err := DecodeSnapshot(data)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snapshot, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

func sortSnapshots(snapshots []model.Snapshot) {
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAtUTC != snapshots[j].CreatedAtUTC {
			return snapshots[i].CreatedAtUTC < snapshots[j].CreatedAtUTC
		}
		return snapshots[i].ID < snapshots[j].ID
	})
}

func sortRuns(runs []model.RunSummary) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC < runs[j].CreatedAtUTC
		}
		return runs[i].RunID < runs[j].RunID
	})
}
