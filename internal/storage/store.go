package storage

import (
	"context"

	"rsgnet/internal/model"
)

// Store persists network snapshots, loss histories and run summaries.
type Store interface {
	Init(ctx context.Context) error
	SaveSnapshot(ctx context.Context, snapshot model.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (model.Snapshot, bool, error)
	ListSnapshots(ctx context.Context, runID string) ([]model.Snapshot, error)
	SaveLossHistory(ctx context.Context, runID string, history []model.LossRecord) error
	GetLossHistory(ctx context.Context, runID string) ([]model.LossRecord, bool, error)
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	ListRunSummaries(ctx context.Context) ([]model.RunSummary, error)
}
