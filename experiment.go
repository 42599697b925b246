package verdict

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ExperimentStatus is the lifecycle state of a tracked experiment.
type ExperimentStatus int

const (
	// StatusDraft is a created experiment that has not started collecting.
	StatusDraft ExperimentStatus = iota
	// StatusRunning is an experiment accepting traffic.
	StatusRunning
	// StatusCompleted is a finished experiment; its counts are frozen.
	StatusCompleted
)

// String returns the stable wire tag for the status.
func (s ExperimentStatus) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its wire tag.
func (s ExperimentStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a wire tag.
func (s *ExperimentStatus) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag {
	case "draft":
		*s = StatusDraft
	case "running":
		*s = StatusRunning
	case "completed":
		*s = StatusCompleted
	default:
		return fmt.Errorf("unknown experiment status %q", tag)
	}
	return nil
}

// Arm accumulates one variant's traffic counts.
type Arm struct {
	Visitors    int64 `json:"visitors" yaml:"visitors"`
	Conversions int64 `json:"conversions" yaml:"conversions"`
}

// Rate returns the arm's conversion rate, NaN when no visitors were seen.
func (a Arm) Rate() float64 {
	return float64(a.Conversions) / float64(a.Visitors)
}

// Experiment is a tracked two-arm test: its identity, lifecycle state,
// accumulated counts and the analysis settings applied by Analyze.
type Experiment struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Status      ExperimentStatus `json:"status" yaml:"status"`

	ArmA Arm `json:"arm_a" yaml:"arm_a"`
	ArmB Arm `json:"arm_b" yaml:"arm_b"`

	Method TestMethod       `json:"method" yaml:"method"`
	Config ComparisonConfig `json:"config" yaml:"config"`

	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Observation builds the validated observation from the accumulated
// counts. It fails with an error matching ErrNoData while either arm has
// no visitors.
func (e *Experiment) Observation() (Observation, error) {
	if e.ArmA.Visitors == 0 || e.ArmB.Visitors == 0 {
		return Observation{}, fmt.Errorf("%w: experiment %s has an empty arm", ErrNoData, e.ID)
	}
	return NewObservation(e.ArmA.Visitors, e.ArmA.Conversions, e.ArmB.Visitors, e.ArmB.Conversions)
}

// UpdatePublisher receives updates as experiments change and analyses
// complete. StreamHub satisfies it.
type UpdatePublisher interface {
	Publish(update AnalysisUpdate)
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Publisher, when set, receives an AnalysisUpdate after every count
	// change and completed analysis.
	Publisher UpdatePublisher
}

// Tracker manages experiment lifecycles over a Store. All methods are safe
// for concurrent use; read-modify-write sequences are serialized by an
// internal lock, so concurrent Record calls never lose counts.
type Tracker struct {
	mu        sync.Mutex
	store     Store
	publisher UpdatePublisher
}

// NewTracker creates a tracker persisting through store.
func NewTracker(store Store, config TrackerConfig) *Tracker {
	return &Tracker{store: store, publisher: config.Publisher}
}

// Create registers a new experiment. An empty ID is assigned from the
// clock; a caller-supplied ID must be unused or Create fails with an error
// matching ErrExperimentExists. The stored experiment starts in draft.
func (t *Tracker) Create(ctx context.Context, exp Experiment) (Experiment, error) {
	if exp.Name == "" {
		return Experiment{}, fmt.Errorf("experiment name required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if exp.ID == "" {
		exp.ID = fmt.Sprintf("exp_%d", time.Now().UnixNano())
	} else if _, err := t.store.LoadExperiment(ctx, exp.ID); err == nil {
		return Experiment{}, fmt.Errorf("%w: %s", ErrExperimentExists, exp.ID)
	}

	now := time.Now().UTC()
	exp.Status = StatusDraft
	exp.CreatedAt = now
	exp.UpdatedAt = now
	exp.StartedAt = nil
	exp.CompletedAt = nil

	if err := t.store.SaveExperiment(ctx, exp); err != nil {
		return Experiment{}, fmt.Errorf("creating experiment %s: %w", exp.ID, err)
	}
	return exp, nil
}

// Get returns the stored experiment.
func (t *Tracker) Get(ctx context.Context, id string) (Experiment, error) {
	return t.store.LoadExperiment(ctx, id)
}

// List returns all stored experiments ordered by creation time.
func (t *Tracker) List(ctx context.Context) ([]Experiment, error) {
	experiments, err := t.store.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(experiments, func(i, j int) bool {
		return experiments[i].CreatedAt.Before(experiments[j].CreatedAt)
	})
	return experiments, nil
}

// Delete removes the experiment and its saved analyses.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.DeleteExperiment(ctx, id)
}

// Start moves a draft experiment to running. Starting a running experiment
// is a no-op; starting a completed one fails with an error matching
// ErrExperimentCompleted.
func (t *Tracker) Start(ctx context.Context, id string) (Experiment, error) {
	return t.transition(ctx, id, func(exp *Experiment) error {
		switch exp.Status {
		case StatusRunning:
			return nil
		case StatusCompleted:
			return fmt.Errorf("%w: %s", ErrExperimentCompleted, exp.ID)
		}
		now := time.Now().UTC()
		exp.Status = StatusRunning
		exp.StartedAt = &now
		return nil
	})
}

// Complete freezes the experiment's counts. Completing twice fails with an
// error matching ErrExperimentCompleted.
func (t *Tracker) Complete(ctx context.Context, id string) (Experiment, error) {
	return t.transition(ctx, id, func(exp *Experiment) error {
		if exp.Status == StatusCompleted {
			return fmt.Errorf("%w: %s", ErrExperimentCompleted, exp.ID)
		}
		now := time.Now().UTC()
		exp.Status = StatusCompleted
		exp.CompletedAt = &now
		return nil
	})
}

// Record adds a batch of traffic to both arms. Deltas must be
// non-negative and may not push an arm's conversions past its visitors.
// Completed experiments reject new data.
func (t *Tracker) Record(ctx context.Context, id string, visitorsA, convA, visitorsB, convB int64) (Experiment, error) {
	exp, err := t.transition(ctx, id, func(exp *Experiment) error {
		if exp.Status == StatusCompleted {
			return fmt.Errorf("%w: %s", ErrExperimentCompleted, exp.ID)
		}
		if visitorsA < 0 || convA < 0 || visitorsB < 0 || convB < 0 {
			return newObservationError("delta", "must not be negative", min64(visitorsA, convA, visitorsB, convB))
		}
		exp.ArmA.Visitors += visitorsA
		exp.ArmA.Conversions += convA
		exp.ArmB.Visitors += visitorsB
		exp.ArmB.Conversions += convB
		if exp.ArmA.Conversions > exp.ArmA.Visitors {
			return newObservationError("conv_a", "must not exceed sample size", exp.ArmA.Conversions)
		}
		if exp.ArmB.Conversions > exp.ArmB.Visitors {
			return newObservationError("conv_b", "must not exceed sample size", exp.ArmB.Conversions)
		}
		return nil
	})
	if err != nil {
		return Experiment{}, err
	}

	t.publish(AnalysisUpdate{
		ExperimentID: exp.ID,
		Status:       exp.Status,
		ArmA:         exp.ArmA,
		ArmB:         exp.ArmB,
		Timestamp:    time.Now().UTC(),
	})
	return exp, nil
}

// RecordTrial records a single visitor in the named arm ("a" or "b") and
// whether they converted.
func (t *Tracker) RecordTrial(ctx context.Context, id, arm string, converted bool) (Experiment, error) {
	var conv int64
	if converted {
		conv = 1
	}
	switch arm {
	case "a":
		return t.Record(ctx, id, 1, conv, 0, 0)
	case "b":
		return t.Record(ctx, id, 0, 0, 1, conv)
	default:
		return Experiment{}, fmt.Errorf("unknown arm %q", arm)
	}
}

// Analyze runs the experiment's configured comparison over its current
// counts, persists the outcome and publishes it. It fails with an error
// matching ErrNoData while either arm is empty.
func (t *Tracker) Analyze(ctx context.Context, id string) (ComparisonResult, error) {
	exp, err := t.store.LoadExperiment(ctx, id)
	if err != nil {
		return ComparisonResult{}, err
	}

	obs, err := exp.Observation()
	if err != nil {
		return ComparisonResult{}, err
	}

	result, err := NewComparison(obs, exp.Config).RunAll(exp.Method)
	if err != nil {
		return ComparisonResult{}, err
	}

	record := AnalysisRecord{
		ExperimentID: exp.ID,
		ComputedAt:   time.Now().UTC(),
		Result:       result,
	}
	if err := t.store.SaveResult(ctx, record); err != nil {
		return ComparisonResult{}, fmt.Errorf("saving analysis for %s: %w", exp.ID, err)
	}

	t.publish(AnalysisUpdate{
		ExperimentID: exp.ID,
		Status:       exp.Status,
		ArmA:         exp.ArmA,
		ArmB:         exp.ArmB,
		Result:       &result,
		Timestamp:    record.ComputedAt,
	})
	return result, nil
}

// History returns the saved analyses for the experiment, oldest first.
func (t *Tracker) History(ctx context.Context, id string) ([]AnalysisRecord, error) {
	records, err := t.store.LoadResults(ctx, id)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ComputedAt.Before(records[j].ComputedAt)
	})
	return records, nil
}

func (t *Tracker) transition(ctx context.Context, id string, mutate func(*Experiment) error) (Experiment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, err := t.store.LoadExperiment(ctx, id)
	if err != nil {
		return Experiment{}, err
	}
	if err := mutate(&exp); err != nil {
		return Experiment{}, err
	}
	exp.UpdatedAt = time.Now().UTC()
	if err := t.store.SaveExperiment(ctx, exp); err != nil {
		return Experiment{}, fmt.Errorf("updating experiment %s: %w", id, err)
	}
	return exp, nil
}

func (t *Tracker) publish(update AnalysisUpdate) {
	if t.publisher != nil {
		t.publisher.Publish(update)
	}
}

func min64(values ...int64) int64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
