package verdict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3StoreConfig configures the S3-backed Store.
type S3StoreConfig struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"` // for S3-compatible services (MinIO etc.)

	// AccessKeyID and SecretAccessKey authenticate explicitly. Prefer IAM
	// roles or the AWS environment variables; never commit credentials.
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`

	// Prefix is prepended to every object key.
	Prefix string `json:"prefix" yaml:"prefix"`
	// UsePathStyle selects path-style addressing, needed by MinIO.
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
	// CacheSize is the number of documents held in the read cache.
	CacheSize int `json:"cache_size" yaml:"cache_size"`
	// MaxRetries caps attempts per S3 operation.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// S3Store persists experiments as JSON objects in an S3 bucket (or an
// S3-compatible service). Reads go through a small LRU cache; transient
// S3 failures are retried with exponential backoff.
type S3Store struct {
	client *s3.Client
	config S3StoreConfig

	mu      sync.Mutex
	closed  bool
	cache   *documentCache
	retryer *Retryer
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3-backed store. The bucket must already exist.
func NewS3Store(ctx context.Context, config S3StoreConfig) (*S3Store, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 100
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(config.Region))
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: config,
		cache:  newDocumentCache(config.CacheSize),
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       config.MaxRetries,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
			RetryIf:           IsRetryable,
		}),
	}, nil
}

// SaveExperiment implements Store.
func (s *S3Store) SaveExperiment(ctx context.Context, exp Experiment) error {
	if err := s.guard("save_experiment", exp.ID); err != nil {
		return err
	}
	document, err := json.Marshal(exp)
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "save_experiment", exp.ID, err)
	}
	if err := s.putObject(ctx, s.experimentKey(exp.ID), document); err != nil {
		return newStoreError(StoreErrorTypeWrite, "save_experiment", exp.ID, err)
	}
	return nil
}

// LoadExperiment implements Store.
func (s *S3Store) LoadExperiment(ctx context.Context, id string) (Experiment, error) {
	if err := s.guard("load_experiment", id); err != nil {
		return Experiment{}, err
	}

	document, err := s.getObject(ctx, s.experimentKey(id))
	if isNoSuchKey(err) {
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
func (s *S3Store) DeleteExperiment(ctx context.Context, id string) error {
	if err := s.guard("delete_experiment", id); err != nil {
		return err
	}

	key := s.experimentKey(id)
	exists, err := s.exists(ctx, key)
	if err != nil {
		return newStoreError(StoreErrorTypeRead, "delete_experiment", id, err)
	}
	if !exists {
		return newStoreError(StoreErrorTypeNotFound, "delete_experiment", id, nil)
	}

	if err := s.deleteObject(ctx, key); err != nil {
		return newStoreError(StoreErrorTypeWrite, "delete_experiment", id, err)
	}
	if err := s.deleteObject(ctx, s.resultsKey(id)); err != nil && !isNoSuchKey(err) {
		return newStoreError(StoreErrorTypeWrite, "delete_experiment", id, err)
	}
	return nil
}

// ListExperiments implements Store.
func (s *S3Store) ListExperiments(ctx context.Context) ([]Experiment, error) {
	if err := s.guard("list_experiments", ""); err != nil {
		return nil, err
	}

	prefix := s.config.Prefix + "experiments/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(prefix),
	})

	var experiments []Experiment
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, newStoreError(StoreErrorTypeRead, "list_experiments", "", err)
		}
		for _, object := range page.Contents {
			document, err := s.getObject(ctx, aws.ToString(object.Key))
			if err != nil {
				return nil, newStoreError(StoreErrorTypeRead, "list_experiments", aws.ToString(object.Key), err)
			}
			var exp Experiment
			if err := json.Unmarshal(document, &exp); err != nil {
				return nil, newStoreError(StoreErrorTypeRead, "list_experiments", aws.ToString(object.Key), err)
			}
			experiments = append(experiments, exp)
		}
	}
	return experiments, nil
}

// SaveResult implements Store.
func (s *S3Store) SaveResult(ctx context.Context, record AnalysisRecord) error {
	if err := s.guard("save_result", record.ExperimentID); err != nil {
		return err
	}

	// Serialize history appends; S3 has no atomic append.
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.resultsKey(record.ExperimentID)
	var records []AnalysisRecord
	document, err := s.getObject(ctx, key)
	if err != nil && !isNoSuchKey(err) {
		return newStoreError(StoreErrorTypeRead, "save_result", record.ExperimentID, err)
	}
	if err == nil {
		if err := json.Unmarshal(document, &records); err != nil {
			return newStoreError(StoreErrorTypeRead, "save_result", record.ExperimentID, err)
		}
	}
	records = append(records, record)

	updated, err := json.Marshal(records)
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "save_result", record.ExperimentID, err)
	}
	if err := s.putObject(ctx, key, updated); err != nil {
		return newStoreError(StoreErrorTypeWrite, "save_result", record.ExperimentID, err)
	}
	return nil
}

// LoadResults implements Store.
func (s *S3Store) LoadResults(ctx context.Context, experimentID string) ([]AnalysisRecord, error) {
	if err := s.guard("load_results", experimentID); err != nil {
		return nil, err
	}

	document, err := s.getObject(ctx, s.resultsKey(experimentID))
	if isNoSuchKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "load_results", experimentID, err)
	}

	var records []AnalysisRecord
	if err := json.Unmarshal(document, &records); err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "load_results", experimentID, err)
	}
	return records, nil
}

// Close implements Store.
func (s *S3Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *S3Store) guard(op, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newStoreError(StoreErrorTypeClosed, op, key, nil)
	}
	return nil
}

func (s *S3Store) experimentKey(id string) string {
	return s.config.Prefix + "experiments/" + url.PathEscape(id) + ".json"
}

func (s *S3Store) resultsKey(id string) string {
	return s.config.Prefix + "results/" + url.PathEscape(id) + ".json"
}

func (s *S3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	if data, ok := s.cache.get(key); ok {
		return data, nil
	}

	value, result := s.retryer.DoWithResult(ctx, func() (any, error) {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
	if result.LastErr != nil {
		return nil, result.LastErr
	}

	data := value.([]byte)
	s.cache.put(key, data)
	return data, nil
}

func (s *S3Store) putObject(ctx context.Context, key string, data []byte) error {
	result := s.retryer.Do(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
	if result.LastErr != nil {
		return result.LastErr
	}
	s.cache.put(key, data)
	return nil
}

func (s *S3Store) deleteObject(ctx context.Context, key string) error {
	result := s.retryer.Do(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if result.LastErr != nil {
		return result.LastErr
	}
	s.cache.delete(key)
	return nil
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	if _, ok := s.cache.get(key); ok {
		return true, nil
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// isNoSuchKey reports whether the error is an S3 missing-object error.
// HeadObject reports misses generically, so the message is checked too.
func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	message := err.Error()
	return strings.Contains(message, "NoSuchKey") ||
		strings.Contains(message, "NotFound") ||
		strings.Contains(message, "404")
}

// documentCache is a small LRU cache for fetched documents.
type documentCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string][]byte
	order    []string
}

func newDocumentCache(capacity int) *documentCache {
	return &documentCache{
		capacity: capacity,
		items:    make(map[string][]byte),
	}
}

func (c *documentCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.moveToEnd(key)
	return data, true
}

func (c *documentCache) put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; ok {
		c.items[key] = data
		c.moveToEnd(key)
		return
	}

	for len(c.items) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = data
	c.order = append(c.order, key)
}

func (c *documentCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *documentCache) moveToEnd(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			break
		}
	}
}
