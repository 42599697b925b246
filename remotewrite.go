package verdict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// RemoteWriteConfig configures the Prometheus remote-write exporter.
type RemoteWriteConfig struct {
	// Endpoint is the remote-write URL, e.g. http://prometheus:9090/api/v1/write.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// Username and Password enable basic auth when both are set.
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	// MetricPrefix is prepended to every metric name. Defaults to "verdict".
	MetricPrefix string `json:"metric_prefix" yaml:"metric_prefix"`
	// Timeout bounds each push.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxRetries caps attempts per push.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// DefaultRemoteWriteConfig returns defaults for everything but Endpoint.
func DefaultRemoteWriteConfig() RemoteWriteConfig {
	return RemoteWriteConfig{
		MetricPrefix: "verdict",
		Timeout:      30 * time.Second,
		MaxRetries:   3,
	}
}

// RemoteWriter pushes experiment counts and analysis outcomes to a
// Prometheus remote-write endpoint. Per arm it exports visitors,
// conversions and the conversion rate; updates that carry an analysis add
// the p-value, significance, P(B > A), expected losses and agreement.
//
// It pairs naturally with a StreamHub subscription:
//
//	sub := hub.Subscribe("", false)
//	go writer.Run(ctx, sub)
type RemoteWriter struct {
	config  RemoteWriteConfig
	client  *http.Client
	retryer *Retryer
}

// NewRemoteWriter creates a remote-write exporter.
func NewRemoteWriter(config RemoteWriteConfig) (*RemoteWriter, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.MetricPrefix == "" {
		config.MetricPrefix = "verdict"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	return &RemoteWriter{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
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

// Push exports one update.
func (w *RemoteWriter) Push(ctx context.Context, update AnalysisUpdate) error {
	req := w.buildWriteRequest(update)
	if len(req.Timeseries) == 0 {
		return nil
	}

	raw, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("encoding write request: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	result := w.retryer.Do(ctx, func() error {
		return w.post(ctx, compressed)
	})
	return result.LastErr
}

// Run consumes a subscription and pushes every update until the context is
// cancelled or the subscription closes. Push failures are dropped after
// retries; the feed keeps flowing.
func (w *RemoteWriter) Run(ctx context.Context, sub *StreamSubscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-sub.C():
			if !ok {
				return
			}
			_ = w.Push(ctx, update)
		}
	}
}

func (w *RemoteWriter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if w.config.Username != "" && w.config.Password != "" {
		req.SetBasicAuth(w.config.Username, w.config.Password)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (w *RemoteWriter) buildWriteRequest(update AnalysisUpdate) *prompb.WriteRequest {
	timestamp := update.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	millis := timestamp.UnixMilli()

	base := []prompb.Label{{Name: "experiment_id", Value: update.ExperimentID}}

	var series []prompb.TimeSeries
	add := func(name string, value float64, labels ...prompb.Label) {
		series = append(series, newTimeSeries(w.config.MetricPrefix+"_"+name, value, millis, append(labels, base...)))
	}

	for _, arm := range []struct {
		label string
		data  Arm
	}{
		{"a", update.ArmA},
		{"b", update.ArmB},
	} {
		armLabel := prompb.Label{Name: "arm", Value: arm.label}
		add("experiment_visitors", float64(arm.data.Visitors), armLabel)
		add("experiment_conversions", float64(arm.data.Conversions), armLabel)
		if arm.data.Visitors > 0 {
			add("conversion_rate", arm.data.Rate(), armLabel)
		}
	}

	if result := update.Result; result != nil {
		methodLabel := prompb.Label{Name: "method", Value: result.Frequentist.Method.String()}
		add("p_value", result.Frequentist.PValue, methodLabel)
		add("significant", boolToFloat(result.Frequentist.IsSignificant), methodLabel)
		add("prob_b_better", result.Bayesian.ProbBBetter)
		if result.Bayesian.ExpectedLossA != nil {
			add("expected_loss", *result.Bayesian.ExpectedLossA, prompb.Label{Name: "arm", Value: "a"})
		}
		if result.Bayesian.ExpectedLossB != nil {
			add("expected_loss", *result.Bayesian.ExpectedLossB, prompb.Label{Name: "arm", Value: "b"})
		}
		add("agreement", boolToFloat(result.Agreement))
	}

	return &prompb.WriteRequest{Timeseries: series}
}

// newTimeSeries builds a single-sample series. Remote write requires
// labels sorted by name.
func newTimeSeries(name string, value float64, millis int64, labels []prompb.Label) prompb.TimeSeries {
	all := make([]prompb.Label, 0, len(labels)+1)
	all = append(all, prompb.Label{Name: "__name__", Value: name})
	all = append(all, labels...)
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	return prompb.TimeSeries{
		Labels:  all,
		Samples: []prompb.Sample{{Value: value, Timestamp: millis}},
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
