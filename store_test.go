package verdict

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testComparisonResult computes a deterministic result for store fixtures.
func testComparisonResult(t *testing.T) ComparisonResult {
	t.Helper()
	obs := MustObservation(1000, 100, 1000, 150)
	result, err := NewComparison(obs, comparisonConfigWithSeed(42)).RunAll(MethodZTest)
	if err != nil {
		t.Fatalf("computing fixture result: %v", err)
	}
	return result
}

// exerciseStore runs the shared Store contract against a backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	exp := Experiment{
		ID:        "exp_store_1",
		Name:      "store contract",
		Status:    StatusRunning,
		ArmA:      Arm{Visitors: 1000, Conversions: 100},
		ArmB:      Arm{Visitors: 1000, Conversions: 150},
		Method:    MethodChiSquare,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Save and load
	if err := store.SaveExperiment(ctx, exp); err != nil {
		t.Fatalf("SaveExperiment failed: %v", err)
	}
	loaded, err := store.LoadExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("LoadExperiment failed: %v", err)
	}
	if loaded.Name != exp.Name || loaded.Status != exp.Status || loaded.Method != exp.Method {
		t.Errorf("loaded experiment differs: %+v", loaded)
	}
	if loaded.ArmB != exp.ArmB {
		t.Errorf("loaded arm B differs: %+v", loaded.ArmB)
	}
	if !loaded.CreatedAt.Equal(exp.CreatedAt) {
		t.Errorf("loaded CreatedAt differs: %v != %v", loaded.CreatedAt, exp.CreatedAt)
	}

	// Missing experiments are reported
	if _, err := store.LoadExperiment(ctx, "missing"); !errors.Is(err, ErrExperimentNotFound) {
		t.Errorf("expected ErrExperimentNotFound, got %v", err)
	}

	// Saving again replaces
	exp.Name = "store contract v2"
	if err := store.SaveExperiment(ctx, exp); err != nil {
		t.Fatalf("second SaveExperiment failed: %v", err)
	}
	loaded, err = store.LoadExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("LoadExperiment after update failed: %v", err)
	}
	if loaded.Name != "store contract v2" {
		t.Errorf("expected updated name, got %q", loaded.Name)
	}

	// List sees every experiment
	second := exp
	second.ID = "exp_store_2"
	second.CreatedAt = now.Add(time.Second)
	if err := store.SaveExperiment(ctx, second); err != nil {
		t.Fatalf("SaveExperiment failed: %v", err)
	}
	experiments, err := store.ListExperiments(ctx)
	if err != nil {
		t.Fatalf("ListExperiments failed: %v", err)
	}
	if len(experiments) != 2 {
		t.Fatalf("expected 2 experiments, got %d", len(experiments))
	}

	// Analysis history appends in order
	result := testComparisonResult(t)
	first := AnalysisRecord{ExperimentID: exp.ID, ComputedAt: now, Result: result}
	if err := store.SaveResult(ctx, first); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	later := AnalysisRecord{ExperimentID: exp.ID, ComputedAt: now.Add(time.Minute), Result: result}
	if err := store.SaveResult(ctx, later); err != nil {
		t.Fatalf("second SaveResult failed: %v", err)
	}

	records, err := store.LoadResults(ctx, exp.ID)
	if err != nil {
		t.Fatalf("LoadResults failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].ComputedAt.Before(records[0].ComputedAt) {
		t.Error("expected records ordered oldest first")
	}
	if records[0].Result.Bayesian.ProbBBetter != result.Bayesian.ProbBBetter {
		t.Error("stored result does not match")
	}

	// No history is not an error
	empty, err := store.LoadResults(ctx, "missing")
	if err != nil {
		t.Fatalf("LoadResults for missing experiment failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no records, got %d", len(empty))
	}

	// Delete drops the experiment and its history
	if err := store.DeleteExperiment(ctx, exp.ID); err != nil {
		t.Fatalf("DeleteExperiment failed: %v", err)
	}
	if _, err := store.LoadExperiment(ctx, exp.ID); !errors.Is(err, ErrExperimentNotFound) {
		t.Errorf("expected ErrExperimentNotFound after delete, got %v", err)
	}
	records, err = store.LoadResults(ctx, exp.ID)
	if err != nil {
		t.Fatalf("LoadResults after delete failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records after delete, got %d", len(records))
	}
	if err := store.DeleteExperiment(ctx, exp.ID); !errors.Is(err, ErrExperimentNotFound) {
		t.Errorf("expected ErrExperimentNotFound on double delete, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	exerciseStore(t, store)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	if err := store.SaveExperiment(ctx, Experiment{ID: "x"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed from save, got %v", err)
	}
	if _, err := store.ListExperiments(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed from list, got %v", err)
	}

	// Closing twice is fine
	if err := store.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), FileStoreConfig{})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestFileStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir, FileStoreConfig{})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	exp := Experiment{ID: "exp_persist", Name: "persisted", CreatedAt: time.Now().UTC()}
	if err := store.SaveExperiment(ctx, exp); err != nil {
		t.Fatalf("SaveExperiment failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewFileStore(dir, FileStoreConfig{})
	if err != nil {
		t.Fatalf("reopening failed: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.LoadExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("LoadExperiment after reopen failed: %v", err)
	}
	if loaded.Name != "persisted" {
		t.Errorf("expected persisted experiment, got %q", loaded.Name)
	}
}

func TestFileStore_PasswordEncryption(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	config := FileStoreConfig{Encryption: EncryptionConfig{Password: "correct horse"}}

	store, err := NewFileStore(dir, config)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	exerciseStore(t, store)

	exp := Experiment{ID: "exp_sealed", Name: "secret experiment", CreatedAt: time.Now().UTC()}
	if err := store.SaveExperiment(ctx, exp); err != nil {
		t.Fatalf("SaveExperiment failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The document on disk is sealed: magic header, no plaintext
	path := filepath.Join(dir, "experiments", "exp_sealed.dat")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading sealed file: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("VDE1")) {
		t.Errorf("expected sealed magic, got %q", raw[:4])
	}
	if bytes.Contains(raw, []byte("secret experiment")) {
		t.Error("plaintext leaked into the sealed file")
	}

	// The right password opens it again
	reopened, err := NewFileStore(dir, config)
	if err != nil {
		t.Fatalf("reopening failed: %v", err)
	}
	defer reopened.Close()
	loaded, err := reopened.LoadExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("LoadExperiment after reopen failed: %v", err)
	}
	if loaded.Name != "secret experiment" {
		t.Errorf("expected decrypted experiment, got %q", loaded.Name)
	}

	// Without the password, sealed documents stay shut
	plain, err := NewFileStore(dir, FileStoreConfig{})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer plain.Close()
	if _, err := plain.LoadExperiment(ctx, exp.ID); err == nil {
		t.Error("expected an error loading a sealed document without credentials")
	}
}

func TestFileStore_KeyEncryption(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	store, err := NewFileStore(t.TempDir(), FileStoreConfig{Encryption: EncryptionConfig{Key: key}})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestSQLiteStore(t *testing.T) {
	config := DefaultSQLiteStoreConfig()
	config.Path = filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(config)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	config := DefaultSQLiteStoreConfig()
	config.Path = filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(config)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	exp := Experiment{ID: "exp_persist", Name: "persisted", CreatedAt: time.Now().UTC()}
	if err := store.SaveExperiment(ctx, exp); err != nil {
		t.Fatalf("SaveExperiment failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(config)
	if err != nil {
		t.Fatalf("reopening failed: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.LoadExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("LoadExperiment after reopen failed: %v", err)
	}
	if loaded.Name != "persisted" {
		t.Errorf("expected persisted experiment, got %q", loaded.Name)
	}
}

func TestSQLiteStore_Closed(t *testing.T) {
	config := DefaultSQLiteStoreConfig()
	config.Path = filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(config)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := store.LoadExperiment(context.Background(), "x"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestS3Store_RequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3StoreConfig{}); err == nil {
		t.Fatal("expected an error for a missing bucket")
	}
}
