package verdict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefinitionAPIVersion is the accepted apiVersion for experiment definitions.
const DefinitionAPIVersion = "verdict/v1"

// DefinitionKind is the accepted kind for experiment definitions.
const DefinitionKind = "Experiment"

// ExperimentDefinition is a YAML-friendly experiment definition:
//
//	apiVersion: verdict/v1
//	kind: Experiment
//	metadata:
//	  name: homepage-cta
//	spec:
//	  method: z_test
//	  armA: {visitors: 1000, conversions: 100}
//	  armB: {visitors: 1000, conversions: 150}
//	  analysis:
//	    confidenceLevel: 0.95
//	    samples: 100000
type ExperimentDefinition struct {
	APIVersion string             `json:"apiVersion" yaml:"apiVersion"`
	Kind       string             `json:"kind" yaml:"kind"`
	Metadata   DefinitionMetadata `json:"metadata" yaml:"metadata"`
	Spec       ExperimentSpec     `json:"spec" yaml:"spec"`
}

// DefinitionMetadata holds experiment identification and labeling.
type DefinitionMetadata struct {
	Name        string            `json:"name" yaml:"name"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

// ExperimentSpec defines the experiment setup.
type ExperimentSpec struct {
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Method      string       `json:"method,omitempty" yaml:"method,omitempty"`
	ArmA        ArmSpec      `json:"armA" yaml:"armA"`
	ArmB        ArmSpec      `json:"armB" yaml:"armB"`
	Analysis    AnalysisSpec `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

// ArmSpec seeds one arm's counts.
type ArmSpec struct {
	Visitors    int64 `json:"visitors" yaml:"visitors"`
	Conversions int64 `json:"conversions" yaml:"conversions"`
}

// AnalysisSpec overrides analysis settings. Zero fields keep their
// defaults.
type AnalysisSpec struct {
	ConfidenceLevel float64 `json:"confidenceLevel,omitempty" yaml:"confidenceLevel,omitempty"`
	PriorAlpha      float64 `json:"priorAlpha,omitempty" yaml:"priorAlpha,omitempty"`
	PriorBeta       float64 `json:"priorBeta,omitempty" yaml:"priorBeta,omitempty"`
	CredibleLevel   float64 `json:"credibleLevel,omitempty" yaml:"credibleLevel,omitempty"`
	Samples         int     `json:"samples,omitempty" yaml:"samples,omitempty"`
	Seed            uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// DefinitionValidationResult from validating a definition.
type DefinitionValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidateDefinition validates a definition without applying it. Missing
// apiVersion or kind is a warning; wrong values and impossible counts are
// errors.
func ValidateDefinition(def ExperimentDefinition) *DefinitionValidationResult {
	result := &DefinitionValidationResult{Valid: true}

	if def.Metadata.Name == "" {
		result.Errors = append(result.Errors, "metadata.name is required")
	}

	if def.APIVersion == "" {
		result.Warnings = append(result.Warnings, "apiVersion not set")
	} else if def.APIVersion != DefinitionAPIVersion {
		result.Errors = append(result.Errors, fmt.Sprintf("invalid apiVersion %q: must be %s", def.APIVersion, DefinitionAPIVersion))
	}
	if def.Kind == "" {
		result.Warnings = append(result.Warnings, "kind not set")
	} else if def.Kind != DefinitionKind {
		result.Errors = append(result.Errors, fmt.Sprintf("invalid kind %q: must be %s", def.Kind, DefinitionKind))
	}

	for _, arm := range []struct {
		label string
		spec  ArmSpec
	}{
		{"armA", def.Spec.ArmA},
		{"armB", def.Spec.ArmB},
	} {
		if arm.spec.Visitors < 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: visitors must not be negative", arm.label))
		}
		if arm.spec.Conversions < 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: conversions must not be negative", arm.label))
		}
		if arm.spec.Conversions > arm.spec.Visitors {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: conversions exceed visitors", arm.label))
		}
	}

	if def.Spec.Method != "" {
		if _, err := ParseTestMethod(def.Spec.Method); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("invalid method %q: must be z_test, t_test, or chi_square", def.Spec.Method))
		}
	}

	analysis := def.Spec.Analysis
	if analysis.ConfidenceLevel != 0 && (analysis.ConfidenceLevel <= 0 || analysis.ConfidenceLevel >= 1) {
		result.Errors = append(result.Errors, "analysis.confidenceLevel must be between 0 and 1 exclusive")
	}
	if analysis.CredibleLevel != 0 && (analysis.CredibleLevel <= 0 || analysis.CredibleLevel >= 1) {
		result.Errors = append(result.Errors, "analysis.credibleLevel must be between 0 and 1 exclusive")
	}
	if analysis.PriorAlpha < 0 || analysis.PriorBeta < 0 {
		result.Errors = append(result.Errors, "analysis priors must not be negative")
	}
	if analysis.Samples < 0 {
		result.Errors = append(result.Errors, "analysis.samples must not be negative")
	}

	if len(result.Errors) > 0 {
		result.Valid = false
	}
	return result
}

// Experiment converts the definition into a draft experiment keyed by
// metadata.name.
func (def ExperimentDefinition) Experiment() (Experiment, error) {
	vr := ValidateDefinition(def)
	if !vr.Valid {
		return Experiment{}, fmt.Errorf("validation failed: %s", strings.Join(vr.Errors, "; "))
	}

	method := MethodZTest
	if def.Spec.Method != "" {
		parsed, err := ParseTestMethod(def.Spec.Method)
		if err != nil {
			return Experiment{}, err
		}
		method = parsed
	}

	return Experiment{
		ID:          def.Metadata.Name,
		Name:        def.Metadata.Name,
		Description: def.Spec.Description,
		Status:      StatusDraft,
		ArmA:        Arm{Visitors: def.Spec.ArmA.Visitors, Conversions: def.Spec.ArmA.Conversions},
		ArmB:        Arm{Visitors: def.Spec.ArmB.Visitors, Conversions: def.Spec.ArmB.Conversions},
		Method:      method,
		Config:      def.Spec.Analysis.comparisonConfig(),
	}, nil
}

// comparisonConfig maps the analysis block onto defaults, overriding set
// fields only.
func (s AnalysisSpec) comparisonConfig() ComparisonConfig {
	config := DefaultComparisonConfig()
	if s.ConfidenceLevel != 0 {
		config.Frequentist.ConfidenceLevel = s.ConfidenceLevel
	}
	if s.PriorAlpha != 0 {
		config.Bayesian.AlphaPrior = s.PriorAlpha
	}
	if s.PriorBeta != 0 {
		config.Bayesian.BetaPrior = s.PriorBeta
	}
	if s.CredibleLevel != 0 {
		config.Bayesian.CredibleLevel = s.CredibleLevel
	}
	if s.Samples != 0 {
		config.Bayesian.Samples = s.Samples
	}
	if s.Seed != 0 {
		config.Bayesian.Seed = s.Seed
	}
	return config
}

// ParseDefinition parses a single YAML document.
func ParseDefinition(data []byte) (ExperimentDefinition, error) {
	var def ExperimentDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return ExperimentDefinition{}, fmt.Errorf("invalid YAML: %w", err)
	}
	if vr := ValidateDefinition(def); !vr.Valid {
		return ExperimentDefinition{}, fmt.Errorf("validation failed: %s", strings.Join(vr.Errors, "; "))
	}
	return def, nil
}

// ParseDefinitions parses a YAML stream, which may hold multiple documents
// separated by "---".
func ParseDefinitions(data []byte) ([]ExperimentDefinition, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	var defs []ExperimentDefinition
	for {
		var def ExperimentDefinition
		err := decoder.Decode(&def)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		if vr := ValidateDefinition(def); !vr.Valid {
			return nil, fmt.Errorf("definition %q: validation failed: %s", def.Metadata.Name, strings.Join(vr.Errors, "; "))
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadDefinitions reads experiment definitions from a YAML file.
func LoadDefinitions(path string) ([]ExperimentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// LoadDefinitionsDir reads every .yaml and .yml file in dir, sorted by
// name.
func LoadDefinitionsDir(dir string) ([]ExperimentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	var defs []ExperimentDefinition
	for _, path := range paths {
		loaded, err := LoadDefinitions(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}
	return defs, nil
}

// ApplyDefinition creates or updates the experiment named by the
// definition. A new experiment starts in draft with the defined counts; an
// existing one keeps its status, counts and history while the description,
// method and analysis settings are replaced.
func (t *Tracker) ApplyDefinition(ctx context.Context, def ExperimentDefinition) (Experiment, error) {
	candidate, err := def.Experiment()
	if err != nil {
		return Experiment{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := t.store.LoadExperiment(ctx, candidate.ID)
	if err != nil {
		if !errors.Is(err, ErrExperimentNotFound) {
			return Experiment{}, err
		}
		now := time.Now().UTC()
		candidate.CreatedAt = now
		candidate.UpdatedAt = now
		if err := t.store.SaveExperiment(ctx, candidate); err != nil {
			return Experiment{}, fmt.Errorf("creating experiment %s: %w", candidate.ID, err)
		}
		return candidate, nil
	}

	existing.Name = candidate.Name
	existing.Description = candidate.Description
	existing.Method = candidate.Method
	existing.Config = candidate.Config
	existing.UpdatedAt = time.Now().UTC()
	if err := t.store.SaveExperiment(ctx, existing); err != nil {
		return Experiment{}, fmt.Errorf("updating experiment %s: %w", existing.ID, err)
	}
	return existing, nil
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "file", "sqlite" or "s3". Empty
	// selects memory.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	// Dir is the file backend's base directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// Password seals file-backend documents at rest when set.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	SQLite SQLiteStoreConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	S3     S3StoreConfig     `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// OpenStore builds the configured backend.
func (c StoreConfig) OpenStore(ctx context.Context) (Store, error) {
	switch c.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		if c.Dir == "" {
			return nil, fmt.Errorf("store: file backend requires dir")
		}
		return NewFileStore(c.Dir, FileStoreConfig{
			Encryption: EncryptionConfig{Password: c.Password},
		})
	case "sqlite":
		return NewSQLiteStore(c.SQLite)
	case "s3":
		return NewS3Store(ctx, c.S3)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", c.Backend)
	}
}

// Config is the application-level configuration: default analysis
// settings, the persistence backend and the integration endpoints, all
// loadable from a single YAML file.
type Config struct {
	// Method is the default test method tag for new experiments.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	// Comparison holds both engines' default settings.
	Comparison ComparisonConfig `json:"comparison" yaml:"comparison"`

	Store       StoreConfig       `json:"store" yaml:"store"`
	Stream      StreamConfig      `json:"stream" yaml:"stream"`
	RemoteWrite RemoteWriteConfig `json:"remote_write" yaml:"remote_write"`

	// DefinitionsDir, when set, names a directory of declarative
	// experiment files to apply at startup.
	DefinitionsDir string `json:"definitions_dir,omitempty" yaml:"definitions_dir,omitempty"`
}

// DefaultConfig returns the default configuration: z-test, default engine
// settings, memory store, remote write disabled.
func DefaultConfig() Config {
	return Config{
		Method:      MethodZTest.String(),
		Comparison:  DefaultComparisonConfig(),
		Stream:      DefaultStreamConfig(),
		RemoteWrite: DefaultRemoteWriteConfig(),
	}
}

// normalize fills empty sections with defaults. Fine-grained clamping of
// engine settings stays with the engine constructors.
func (c *Config) normalize() {
	if c.Method == "" {
		c.Method = MethodZTest.String()
	}
	if c.Comparison == (ComparisonConfig{}) {
		c.Comparison = DefaultComparisonConfig()
	}
	if c.Stream == (StreamConfig{}) {
		c.Stream = DefaultStreamConfig()
	}
	if c.RemoteWrite.MetricPrefix == "" {
		c.RemoteWrite.MetricPrefix = DefaultRemoteWriteConfig().MetricPrefix
	}
}

// LoadConfig reads a YAML configuration file. Absent keys keep their
// defaults; an unknown method tag is an error.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("invalid YAML: %w", err)
	}
	config.normalize()
	if _, err := ParseTestMethod(config.Method); err != nil {
		return Config{}, err
	}
	return config, nil
}

// NewExperiment returns a draft experiment carrying the configured
// default method and analysis settings. The tracker assigns an ID on
// Create.
func (c Config) NewExperiment(name string) Experiment {
	method, err := ParseTestMethod(c.Method)
	if err != nil {
		method = MethodZTest
	}
	return Experiment{
		Name:   name,
		Status: StatusDraft,
		Method: method,
		Config: c.Comparison,
	}
}
