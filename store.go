package verdict

import (
	"context"
	"time"
)

// AnalysisRecord is one persisted analysis outcome for an experiment.
type AnalysisRecord struct {
	ExperimentID string           `json:"experiment_id"`
	ComputedAt   time.Time        `json:"computed_at"`
	Result       ComparisonResult `json:"result"`
}

// Store persists experiments and their analysis history.
//
// Implementations must be safe for concurrent use. Loading or deleting a
// missing experiment fails with an error matching ErrExperimentNotFound,
// and any operation on a closed store fails with an error matching
// ErrStoreClosed. Deleting an experiment also drops its saved analyses.
type Store interface {
	// SaveExperiment inserts or replaces the experiment by ID.
	SaveExperiment(ctx context.Context, exp Experiment) error
	// LoadExperiment returns the experiment with the given ID.
	LoadExperiment(ctx context.Context, id string) (Experiment, error)
	// DeleteExperiment removes the experiment and its analyses.
	DeleteExperiment(ctx context.Context, id string) error
	// ListExperiments returns all stored experiments in no particular
	// order.
	ListExperiments(ctx context.Context) ([]Experiment, error)

	// SaveResult appends one analysis record to the experiment's history.
	SaveResult(ctx context.Context, record AnalysisRecord) error
	// LoadResults returns the experiment's analysis history in no
	// particular order. A missing experiment yields an empty history,
	// not an error.
	LoadResults(ctx context.Context, experimentID string) ([]AnalysisRecord, error)

	// Close releases the store's resources. Further calls fail.
	Close() error
}
