// Package verdict analyzes two-arm A/B experiments with a frequentist and
// a Bayesian engine side by side.
//
// Verdict runs a two-proportion z-test (or Welch's t-test, or chi-square)
// and a Beta-Binomial posterior analysis over the same conversion counts,
// then reconciles the two verdicts into a single comparison record.
//
// # Basic Usage
//
// Compare two arms in one call:
//
//	result, err := verdict.Compare(1000, 100, 1000, 150)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("p=%.4f  P(B>A)=%.4f  agree=%v\n",
//	    result.Frequentist.PValue,
//	    result.Bayesian.ProbBBetter,
//	    result.Agreement)
//
// Track an experiment over time:
//
//	tracker := verdict.NewTracker(verdict.NewMemoryStore(), verdict.TrackerConfig{})
//	exp, err := tracker.Create(ctx, verdict.Experiment{Name: "homepage-cta"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	exp, _ = tracker.Start(ctx, exp.ID)
//	tracker.Record(ctx, exp.ID, 500, 40, 500, 60)
//	result, err := tracker.Analyze(ctx, exp.ID)
//
// # Features
//
// Statistical Engines:
//   - Two-proportion z-test with pooled standard error
//   - Welch's t-test on Bernoulli samples
//   - Chi-square test with Yates continuity correction and Wilson intervals
//   - Beta-Binomial conjugate posterior with Monte Carlo paired sampling
//   - Analytical P(B>A) via numerical quadrature for cross-checking
//   - Expected loss and an odds-ratio Bayes factor per comparison
//
// Experiment Tracking:
//   - Experiment lifecycle (draft, running, completed)
//   - Incremental count recording with per-delta validation
//   - Analysis history per experiment
//   - Declarative YAML experiment definitions
//
// Storage:
//   - Pluggable stores (memory, file, SQLite, S3)
//   - Optional encryption at rest (AES-256-GCM)
//   - Retry with exponential backoff for transient failures
//
// Integrations:
//   - WebSocket streaming of live analysis updates
//   - Prometheus remote-write metric export
//   - Plain-text report rendering
//
// # Configuration
//
// Use [ComparisonConfig] to tune either engine:
//
//	cfg := verdict.ComparisonConfig{
//	    Frequentist: verdict.FrequentistConfig{
//	        ConfidenceLevel: 0.99,
//	    },
//	    Bayesian: verdict.BayesianConfig{
//	        AlphaPrior:    2,
//	        BetaPrior:     8,
//	        CredibleLevel: 0.99,
//	        Samples:       200000,
//	        Seed:          42,
//	    },
//	}
//	result, err := verdict.NewComparison(obs, cfg).RunAll(verdict.MethodZTest)
//
// Or use [DefaultComparisonConfig] for sensible defaults.
package verdict
