package verdict

// probBetterCutoff is the Bayesian probability threshold treated as the
// equivalent of a significant frequentist call when checking agreement. It
// is fixed by convention and independent of the configured levels.
const probBetterCutoff = 0.95

// ComparisonConfig configures both engines behind a Comparison. Each
// engine is independently parameterizable; by convention the confidence
// and credible levels are set to the same value.
type ComparisonConfig struct {
	Frequentist FrequentistConfig `json:"frequentist" yaml:"frequentist"`
	Bayesian    BayesianConfig    `json:"bayesian" yaml:"bayesian"`
}

// DefaultComparisonConfig returns both engine defaults, sharing the 0.95
// level.
func DefaultComparisonConfig() ComparisonConfig {
	return ComparisonConfig{
		Frequentist: DefaultFrequentistConfig(),
		Bayesian:    DefaultBayesianConfig(),
	}
}

// ComparisonResult aggregates one frequentist and one Bayesian analysis of
// the same observation.
//
// Agreement is true when the frequentist significance call matches the
// Bayesian "B is better with probability above 0.95" call. The check is
// directionless: it compares only whether both approaches called a
// difference at all, not which arm each favors.
type ComparisonResult struct {
	Data        ObservationSummary `json:"data"`
	Frequentist FrequentistResult  `json:"frequentist"`
	Bayesian    BayesianResult     `json:"bayesian"`
	Agreement   bool               `json:"agreement"`
}

// Comparison runs a frequentist analyzer and a Bayesian engine over the
// same observation and reconciles their verdicts.
type Comparison struct {
	obs   Observation
	freq  *FrequentistAnalyzer
	bayes *BayesianEngine
}

// NewComparison creates a comparison facade over the observation. Invalid
// configuration fields are clamped to their defaults by the underlying
// engine constructors.
func NewComparison(obs Observation, config ComparisonConfig) *Comparison {
	return &Comparison{
		obs:   obs,
		freq:  NewFrequentistAnalyzer(obs, config.Frequentist),
		bayes: NewBayesianEngine(obs, config.Bayesian),
	}
}

// Frequentist returns the wrapped frequentist analyzer.
func (c *Comparison) Frequentist() *FrequentistAnalyzer { return c.freq }

// Bayesian returns the wrapped Bayesian engine.
func (c *Comparison) Bayesian() *BayesianEngine { return c.bayes }

// RunAll executes the selected frequentist test and a full Bayesian run,
// then reconciles them into a ComparisonResult. It fails with an error
// matching ErrUnknownTestMethod for an unrecognized method.
func (c *Comparison) RunAll(method TestMethod) (ComparisonResult, error) {
	freqResult, err := c.freq.Run(method)
	if err != nil {
		return ComparisonResult{}, err
	}
	bayesResult := c.bayes.Run(BayesianRunOptions{})
	return c.CompareResults(freqResult, bayesResult), nil
}

// CompareResults assembles the comparison record from two already-computed
// results, attaching the observation summary and the agreement flag.
func (c *Comparison) CompareResults(freq FrequentistResult, bayes BayesianResult) ComparisonResult {
	return ComparisonResult{
		Data:        c.obs.Summary(),
		Frequentist: freq,
		Bayesian:    bayes,
		Agreement:   freq.IsSignificant == (bayes.ProbBBetter > probBetterCutoff),
	}
}

// Compare is the one-call entry point: it validates the four counts, runs
// a z-test and a default Bayesian analysis and returns the reconciled
// record. It fails with an error matching ErrInvalidObservation for
// invalid counts.
func Compare(nA, convA, nB, convB int64) (ComparisonResult, error) {
	obs, err := NewObservation(nA, convA, nB, convB)
	if err != nil {
		return ComparisonResult{}, err
	}
	return NewComparison(obs, DefaultComparisonConfig()).RunAll(MethodZTest)
}
