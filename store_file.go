package verdict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
)

// Document envelope magics. Plain documents are snappy-compressed JSON;
// sealed documents carry the key-derivation salt and an AES-GCM
// ciphertext of the compressed payload.
var (
	magicPlain  = [4]byte{'V', 'D', 'T', '1'}
	magicSealed = [4]byte{'V', 'D', 'E', '1'}
)

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Encryption seals documents at rest when a key or password is set.
	Encryption EncryptionConfig
}

// FileStore persists experiments as one snappy-compressed JSON document
// per experiment under a base directory, optionally sealed with
// AES-256-GCM. Documents are self-describing: a password-based store can
// reopen files sealed under older salts.
type FileStore struct {
	mu      sync.RWMutex
	closed  bool
	baseDir string

	encryption EncryptionConfig
	encryptor  *Encryptor

	// derived caches per-salt encryptors for password reopens. It has its
	// own lock because loads run under the store's read lock.
	derivedMu sync.Mutex
	derived   map[string]*Encryptor
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (creating if needed) a file store rooted at baseDir.
func NewFileStore(baseDir string, config FileStoreConfig) (*FileStore, error) {
	for _, dir := range []string{
		filepath.Join(baseDir, "experiments"),
		filepath.Join(baseDir, "results"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	store := &FileStore{
		baseDir:    baseDir,
		encryption: config.Encryption,
		derived:    make(map[string]*Encryptor),
	}
	if config.Encryption.enabled() {
		encryptor, err := NewEncryptor(config.Encryption)
		if err != nil {
			return nil, fmt.Errorf("configuring store encryption: %w", err)
		}
		store.encryptor = encryptor
	}
	return store, nil
}

// SaveExperiment implements Store.
func (s *FileStore) SaveExperiment(ctx context.Context, exp Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newStoreError(StoreErrorTypeClosed, "save_experiment", exp.ID, nil)
	}
	if err := s.writeDocument(s.experimentPath(exp.ID), exp); err != nil {
		return newStoreError(StoreErrorTypeWrite, "save_experiment", exp.ID, err)
	}
	return nil
}

// LoadExperiment implements Store.
func (s *FileStore) LoadExperiment(ctx context.Context, id string) (Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Experiment{}, newStoreError(StoreErrorTypeClosed, "load_experiment", id, nil)
	}

	var exp Experiment
	err := s.readDocument(s.experimentPath(id), &exp)
	if errors.Is(err, os.ErrNotExist) {
		return Experiment{}, newStoreError(StoreErrorTypeNotFound, "load_experiment", id, nil)
	}
	if err != nil {
		return Experiment{}, newStoreError(StoreErrorTypeRead, "load_experiment", id, err)
	}
	return exp, nil
}

// DeleteExperiment implements Store.
func (s *FileStore) DeleteExperiment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newStoreError(StoreErrorTypeClosed, "delete_experiment", id, nil)
	}

	err := os.Remove(s.experimentPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return newStoreError(StoreErrorTypeNotFound, "delete_experiment", id, nil)
	}
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "delete_experiment", id, err)
	}
	if err := os.Remove(s.resultsPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return newStoreError(StoreErrorTypeWrite, "delete_experiment", id, err)
	}
	return nil
}

// ListExperiments implements Store.
func (s *FileStore) ListExperiments(ctx context.Context) ([]Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, newStoreError(StoreErrorTypeClosed, "list_experiments", "", nil)
	}

	entries, err := os.ReadDir(filepath.Join(s.baseDir, "experiments"))
	if err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "list_experiments", "", err)
	}

	experiments := make([]Experiment, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".dat" {
			continue
		}
		var exp Experiment
		path := filepath.Join(s.baseDir, "experiments", entry.Name())
		if err := s.readDocument(path, &exp); err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "list_experiments", entry.Name(), err)
		}
		experiments = append(experiments, exp)
	}
	return experiments, nil
}

// SaveResult implements Store.
func (s *FileStore) SaveResult(ctx context.Context, record AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newStoreError(StoreErrorTypeClosed, "save_result", record.ExperimentID, nil)
	}

	path := s.resultsPath(record.ExperimentID)
	var records []AnalysisRecord
	if err := s.readDocument(path, &records); err != nil && !errors.Is(err, os.ErrNotExist) {
		return newStoreError(StoreErrorTypeRead, "save_result", record.ExperimentID, err)
	}
	records = append(records, record)

	if err := s.writeDocument(path, records); err != nil {
		return newStoreError(StoreErrorTypeWrite, "save_result", record.ExperimentID, err)
	}
	return nil
}

// LoadResults implements Store.
func (s *FileStore) LoadResults(ctx context.Context, experimentID string) ([]AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, newStoreError(StoreErrorTypeClosed, "load_results", experimentID, nil)
	}

	var records []AnalysisRecord
	err := s.readDocument(s.resultsPath(experimentID), &records)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "load_results", experimentID, err)
	}
	return records, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) experimentPath(id string) string {
	return filepath.Join(s.baseDir, "experiments", url.PathEscape(id)+".dat")
}

func (s *FileStore) resultsPath(id string) string {
	return filepath.Join(s.baseDir, "results", url.PathEscape(id)+".dat")
}

// writeDocument encodes doc into the envelope and writes it atomically via
// a temp file and rename.
func (s *FileStore) writeDocument(path string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	payload := snappy.Encode(nil, data)

	var buf bytes.Buffer
	if s.encryptor == nil {
		buf.Write(magicPlain[:])
		buf.Write(payload)
	} else {
		sealed, err := s.encryptor.Seal(payload)
		if err != nil {
			return err
		}
		salt := make([]byte, encryptionSaltSize)
		copy(salt, s.encryptor.Salt())
		buf.Write(magicSealed[:])
		buf.Write(salt)
		buf.Write(sealed)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStore) readDocument(path string, doc any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(raw) < len(magicPlain) {
		return errors.New("truncated document")
	}

	var magic [4]byte
	copy(magic[:], raw[:4])
	body := raw[4:]

	var payload []byte
	switch magic {
	case magicPlain:
		payload = body
	case magicSealed:
		if len(body) < encryptionSaltSize {
			return errors.New("truncated sealed document")
		}
		encryptor, err := s.encryptorFor(body[:encryptionSaltSize])
		if err != nil {
			return err
		}
		payload, err = encryptor.Open(body[encryptionSaltSize:])
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown document format %q", magic[:])
	}

	data, err := snappy.Decode(nil, payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, doc)
}

// encryptorFor returns the encryptor able to open a document sealed under
// salt. Password-based stores derive and cache one encryptor per distinct
// salt, so files written before a reopen stay readable.
func (s *FileStore) encryptorFor(salt []byte) (*Encryptor, error) {
	if s.encryptor == nil {
		return nil, errors.New("sealed document but encryption not configured")
	}
	if len(s.encryption.Key) > 0 {
		return s.encryptor, nil
	}
	if bytes.Equal(salt, s.encryptor.Salt()) {
		return s.encryptor, nil
	}

	s.derivedMu.Lock()
	defer s.derivedMu.Unlock()

	cacheKey := string(salt)
	if cached, ok := s.derived[cacheKey]; ok {
		return cached, nil
	}
	derived, err := NewEncryptorWithSalt(s.encryption.Password, salt)
	if err != nil {
		return nil, err
	}
	s.derived[cacheKey] = derived
	return derived, nil
}
