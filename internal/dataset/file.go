package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"rsgnet/internal/model"
)

// LoadFile reads a JSON array of trials and validates each one.
func LoadFile(path string) ([]model.Trial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var trials []model.Trial
	if err := json.Unmarshal(data, &trials); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for i, trial := range trials {
		if err := trial.Validate(); err != nil {
			return nil, fmt.Errorf("%s trial %d: %w", path, i, err)
		}
	}
	return trials, nil
}

// SaveFile writes trials as indented JSON, creating parent directories.
func SaveFile(path string, trials []model.Trial) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(trials, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadStore reads one file per task.
func LoadStore(paths ...string) (*Store, error) {
	tasks := make([][]model.Trial, 0, len(paths))
	for _, path := range paths {
		trials, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, trials)
	}
	return NewStore(tasks...)
}
