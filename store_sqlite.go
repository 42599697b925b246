package verdict

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	// Pure Go SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLiteStoreConfig configures the SQLite-backed Store.
type SQLiteStoreConfig struct {
	// Path to the SQLite database file.
	Path string `json:"path" yaml:"path"`

	// CacheSize is the SQLite page cache size in KB.
	CacheSize int `json:"cache_size" yaml:"cache_size"`

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE).
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL).
	Synchronous string `json:"synchronous" yaml:"synchronous"`

	// BusyTimeout is the lock acquisition timeout in milliseconds.
	BusyTimeout int `json:"busy_timeout" yaml:"busy_timeout"`

	// MaxConnections caps the database connection pool.
	MaxConnections int `json:"max_connections" yaml:"max_connections"`
}

// DefaultSQLiteStoreConfig returns the default SQLite configuration.
func DefaultSQLiteStoreConfig() SQLiteStoreConfig {
	return SQLiteStoreConfig{
		Path:           "verdict.db",
		CacheSize:      2000,
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		BusyTimeout:    5000,
		MaxConnections: 10,
	}
}

// SQLiteStore persists experiments in a SQLite database, so the data can
// be inspected with standard SQLite tooling. Each row carries the full
// JSON document plus a few queryable columns.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteStoreConfig
	mu     sync.RWMutex
	closed bool

	insertExp     *sql.Stmt
	selectExp     *sql.Stmt
	deleteExp     *sql.Stmt
	listExp       *sql.Stmt
	insertResult  *sql.Stmt
	selectResults *sql.Stmt
	deleteResults *sql.Stmt
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) a SQLite store at config.Path.
func NewSQLiteStore(config SQLiteStoreConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		config.Path = "verdict.db"
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 2000
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	dsn := fmt.Sprintf("%s?_cache_size=%d&_journal_mode=%s&_synchronous=%s&_busy_timeout=%d",
		config.Path, config.CacheSize, config.JournalMode, config.Synchronous, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	store := &SQLiteStore{db: db, config: config}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing statements: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			document BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS analyses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			experiment_id TEXT NOT NULL,
			computed_at INTEGER NOT NULL,
			document BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);
		CREATE INDEX IF NOT EXISTS idx_analyses_experiment ON analyses(experiment_id, computed_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertExp, err = s.db.Prepare(`
		INSERT OR REPLACE INTO experiments (id, name, status, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.selectExp, err = s.db.Prepare(`SELECT document FROM experiments WHERE id = ?`)
	if err != nil {
		return err
	}

	s.deleteExp, err = s.db.Prepare(`DELETE FROM experiments WHERE id = ?`)
	if err != nil {
		return err
	}

	s.listExp, err = s.db.Prepare(`SELECT document FROM experiments ORDER BY created_at`)
	if err != nil {
		return err
	}

	s.insertResult, err = s.db.Prepare(`
		INSERT INTO analyses (experiment_id, computed_at, document)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.selectResults, err = s.db.Prepare(`
		SELECT document FROM analyses WHERE experiment_id = ? ORDER BY computed_at
	`)
	if err != nil {
		return err
	}

	s.deleteResults, err = s.db.Prepare(`DELETE FROM analyses WHERE experiment_id = ?`)
	if err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) guard(op, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return newStoreError(StoreErrorTypeClosed, op, key, nil)
	}
	return nil
}

// SaveExperiment implements Store.
func (s *SQLiteStore) SaveExperiment(ctx context.Context, exp Experiment) error {
	if err := s.guard("save_experiment", exp.ID); err != nil {
		return err
	}

	document, err := json.Marshal(exp)
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "save_experiment", exp.ID, err)
	}
	_, err = s.insertExp.ExecContext(ctx,
		exp.ID, exp.Name, exp.Status.String(), document,
		exp.CreatedAt.UnixNano(), exp.UpdatedAt.UnixNano())
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "save_experiment", exp.ID, err)
	}
	return nil
}

// LoadExperiment implements Store.
func (s *SQLiteStore) LoadExperiment(ctx context.Context, id string) (Experiment, error) {
	if err := s.guard("load_experiment", id); err != nil {
		return Experiment{}, err
	}

	var document []byte
	err := s.selectExp.QueryRowContext(ctx, id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return Experiment{}, newStoreError(StoreErrorTypeNotFound, "load_experiment", id, nil)
	}
	if err != nil {
		return Experiment{}, newStoreError(StoreErrorTypeRead, "load_experiment", id, err)
	}

	var exp Experiment
	if err := json.Unmarshal(document, &exp); err != nil {
		return Experiment{}, newStoreError(StoreErrorTypeRead, "load_experiment", id, err)
	}
	return exp, nil
}

// DeleteExperiment implements Store.
func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id string) error {
	if err := s.guard("delete_experiment", id); err != nil {
		return err
	}

	result, err := s.deleteExp.ExecContext(ctx, id)
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "delete_experiment", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "delete_experiment", id, err)
	}
	if affected == 0 {
		return newStoreError(StoreErrorTypeNotFound, "delete_experiment", id, nil)
	}

	if _, err := s.deleteResults.ExecContext(ctx, id); err != nil {
		return newStoreError(StoreErrorTypeWrite, "delete_experiment", id, err)
	}
	return nil
}

// ListExperiments implements Store.
func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]Experiment, error) {
	if err := s.guard("list_experiments", ""); err != nil {
		return nil, err
	}

	rows, err := s.listExp.QueryContext(ctx)
	if err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "list_experiments", "", err)
	}
	defer rows.Close()

	var experiments []Experiment
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "list_experiments", "", err)
		}
		var exp Experiment
		if err := json.Unmarshal(document, &exp); err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "list_experiments", "", err)
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "list_experiments", "", err)
	}
	return experiments, nil
}

// SaveResult implements Store.
func (s *SQLiteStore) SaveResult(ctx context.Context, record AnalysisRecord) error {
	if err := s.guard("save_result", record.ExperimentID); err != nil {
		return err
	}

	document, err := json.Marshal(record)
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "save_result", record.ExperimentID, err)
	}
	_, err = s.insertResult.ExecContext(ctx,
		record.ExperimentID, record.ComputedAt.UnixNano(), document)
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "save_result", record.ExperimentID, err)
	}
	return nil
}

// LoadResults implements Store.
func (s *SQLiteStore) LoadResults(ctx context.Context, experimentID string) ([]AnalysisRecord, error) {
	if err := s.guard("load_results", experimentID); err != nil {
		return nil, err
	}

	rows, err := s.selectResults.QueryContext(ctx, experimentID)
	if err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "load_results", experimentID, err)
	}
	defer rows.Close()

	var records []AnalysisRecord
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "load_results", experimentID, err)
		}
		var record AnalysisRecord
		if err := json.Unmarshal(document, &record); err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "load_results", experimentID, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "load_results", experimentID, err)
	}
	return records, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{
		s.insertExp, s.selectExp, s.deleteExp, s.listExp,
		s.insertResult, s.selectResults, s.deleteResults,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
