package verdict

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// analyticalQuadNodes is the Gauss-Legendre node count used by
// ProbabilityAnalytical. The integrand is smooth inside the integration
// window, so a fixed-order rule converges quickly.
const analyticalQuadNodes = 400

// BayesianConfig configures the Bayesian engine.
type BayesianConfig struct {
	// AlphaPrior is the Beta prior alpha shape parameter, > 0.
	AlphaPrior float64 `json:"alpha_prior" yaml:"alpha_prior"`
	// BetaPrior is the Beta prior beta shape parameter, > 0.
	BetaPrior float64 `json:"beta_prior" yaml:"beta_prior"`
	// CredibleLevel is the equal-tailed credible interval level in (0,1).
	CredibleLevel float64 `json:"credible_level" yaml:"credible_level"`
	// Samples is the Monte Carlo draw count per arm.
	Samples int `json:"samples" yaml:"samples"`
	// Seed seeds the random source. Zero selects a random seed, so two
	// engines share a sample sequence only when given the same nonzero
	// seed.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultBayesianConfig returns the default Bayesian configuration: a
// uniform Beta(1,1) prior, a 95% credible level and 100000 draws.
func DefaultBayesianConfig() BayesianConfig {
	return BayesianConfig{
		AlphaPrior:    1.0,
		BetaPrior:     1.0,
		CredibleLevel: 0.95,
		Samples:       100000,
	}
}

// BetaParams holds the shape parameters of a Beta distribution.
type BetaParams struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean returns the distribution mean alpha/(alpha+beta).
func (p BetaParams) Mean() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

// BayesianEngine computes Beta-Binomial posterior quantities for a two-arm
// observation. The posterior shape parameters are fixed at construction via
// the conjugate update (prior alpha + conversions, prior beta +
// non-conversions), which is exact.
//
// The engine owns its random source. Sampling mutates that source, so a
// single engine must not be shared by concurrent samplers; construct one
// engine per goroutine instead.
type BayesianEngine struct {
	obs     Observation
	level   float64
	samples int

	postA BetaParams
	postB BetaParams

	src rand.Source
}

// NewBayesianEngine creates an engine for the observation. Out-of-range
// configuration values are replaced by their defaults: non-positive priors
// become 1.0, a credible level outside (0,1) becomes 0.95 and a
// non-positive sample count becomes 100000.
func NewBayesianEngine(obs Observation, config BayesianConfig) *BayesianEngine {
	if config.AlphaPrior <= 0 {
		config.AlphaPrior = 1.0
	}
	if config.BetaPrior <= 0 {
		config.BetaPrior = 1.0
	}
	if config.CredibleLevel <= 0 || config.CredibleLevel >= 1 {
		config.CredibleLevel = 0.95
	}
	if config.Samples <= 0 {
		config.Samples = 100000
	}

	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &BayesianEngine{
		obs:     obs,
		level:   config.CredibleLevel,
		samples: config.Samples,
		postA: BetaParams{
			Alpha: config.AlphaPrior + float64(obs.ConvA()),
			Beta:  config.BetaPrior + float64(obs.NA()-obs.ConvA()),
		},
		postB: BetaParams{
			Alpha: config.AlphaPrior + float64(obs.ConvB()),
			Beta:  config.BetaPrior + float64(obs.NB()-obs.ConvB()),
		},
		src: rand.NewPCG(seed, 0),
	}
}

// PosteriorA returns the posterior shape parameters for arm A.
func (e *BayesianEngine) PosteriorA() BetaParams { return e.postA }

// PosteriorB returns the posterior shape parameters for arm B.
func (e *BayesianEngine) PosteriorB() BetaParams { return e.postB }

// SamplePosterior draws the configured number of independent variates from
// each arm's posterior and returns them as two equal-length slices. Every
// call redraws; nothing is cached.
func (e *BayesianEngine) SamplePosterior() (samplesA, samplesB []float64) {
	distA := distuv.Beta{Alpha: e.postA.Alpha, Beta: e.postA.Beta, Src: e.src}
	distB := distuv.Beta{Alpha: e.postB.Alpha, Beta: e.postB.Beta, Src: e.src}

	samplesA = make([]float64, e.samples)
	samplesB = make([]float64, e.samples)
	for i := range samplesA {
		samplesA[i] = distA.Rand()
	}
	for i := range samplesB {
		samplesB[i] = distB.Rand()
	}
	return samplesA, samplesB
}

// CalculateProbability returns the Monte Carlo estimate of P(B > A) and its
// complement from paired posterior draws. The comparison is element-wise,
// which is an unbiased estimator because both slices are drawn independently.
// Both slices must have the same length.
func (e *BayesianEngine) CalculateProbability(samplesA, samplesB []float64) (probBBetter, probABetter float64) {
	if len(samplesA) != len(samplesB) {
		panic("verdict: mismatched posterior sample lengths")
	}

	wins := 0
	for i := range samplesA {
		if samplesB[i] > samplesA[i] {
			wins++
		}
	}
	probBBetter = float64(wins) / float64(len(samplesA))
	return probBBetter, 1 - probBBetter
}

// CalculateExpectedLoss returns the expected opportunity cost of choosing
// each arm: lossA is the mean of max(b-a, 0) over paired draws, the regret
// of picking A when B was actually better, and lossB is symmetric. Both
// slices must have the same length.
func (e *BayesianEngine) CalculateExpectedLoss(samplesA, samplesB []float64) (lossA, lossB float64) {
	if len(samplesA) != len(samplesB) {
		panic("verdict: mismatched posterior sample lengths")
	}

	var sumA, sumB float64
	for i := range samplesA {
		diff := samplesB[i] - samplesA[i]
		if diff > 0 {
			sumA += diff
		} else {
			sumB -= diff
		}
	}
	n := float64(len(samplesA))
	return sumA / n, sumB / n
}

// CalculateBayesFactor returns the posterior odds p/(1-p) for
// probBBetter=p. It is 0 at p=0 and +Inf at p=1. This is an odds-ratio
// proxy for the strength of evidence, not a model-evidence Bayes factor.
func (e *BayesianEngine) CalculateBayesFactor(probBBetter float64) float64 {
	return probBBetter / (1 - probBBetter)
}

// ProbabilityAnalytical computes P(B > A) by numerical quadrature of
//
//	1 - ∫ pdfA(x) * cdfB(x) dx
//
// over the region holding arm A's posterior mass. It is deterministic and
// serves as a reference cross-check for the Monte Carlo estimate.
func (e *BayesianEngine) ProbabilityAnalytical() float64 {
	distA := distuv.Beta{Alpha: e.postA.Alpha, Beta: e.postA.Beta}
	distB := distuv.Beta{Alpha: e.postB.Alpha, Beta: e.postB.Beta}

	integrand := func(x float64) float64 {
		return distA.Prob(x) * distB.CDF(x)
	}
	lo, hi := integrationWindow(distA)
	return 1 - quad.Fixed(integrand, lo, hi, analyticalQuadNodes, nil, 0)
}

// BayesianRunOptions selects optional result fields. The zero value
// computes everything.
type BayesianRunOptions struct {
	// SkipExpectedLoss omits ExpectedLossA/B from the result.
	SkipExpectedLoss bool
	// SkipBayesFactor omits BayesFactor from the result.
	SkipBayesFactor bool
}

// BayesianResult is the immutable output of a Bayesian run. The optional
// fields are nil when skipped via BayesianRunOptions.
type BayesianResult struct {
	ProbBBetter float64 `json:"prob_b_better"`
	ProbABetter float64 `json:"prob_a_better"`

	// MeanA and MeanB are the analytical posterior means, not Monte Carlo
	// estimates.
	MeanA float64 `json:"mean_a"`
	MeanB float64 `json:"mean_b"`

	// DiffMean and DiffStd describe the empirical distribution of
	// paired posterior differences (B - A).
	DiffMean float64 `json:"diff_mean"`
	DiffStd  float64 `json:"diff_std"`

	// DiffCILower and DiffCIUpper bound the equal-tailed credible
	// interval of the difference at CredibleLevel.
	DiffCILower   float64 `json:"diff_ci_lower"`
	DiffCIUpper   float64 `json:"diff_ci_upper"`
	CredibleLevel float64 `json:"credible_level"`

	AlphaPostA float64 `json:"alpha_post_a"`
	BetaPostA  float64 `json:"beta_post_a"`
	AlphaPostB float64 `json:"alpha_post_b"`
	BetaPostB  float64 `json:"beta_post_b"`

	NSamples int `json:"n_samples"`

	ExpectedLossA *float64 `json:"expected_loss_a,omitempty"`
	ExpectedLossB *float64 `json:"expected_loss_b,omitempty"`
	BayesFactor   *float64 `json:"bayes_factor,omitempty"`
}

// Run draws posterior samples and assembles the full result: the win
// probability pair, analytical posterior means, the empirical difference
// distribution with its equal-tailed credible interval, and the optional
// loss and Bayes factor fields.
func (e *BayesianEngine) Run(opts BayesianRunOptions) BayesianResult {
	samplesA, samplesB := e.SamplePosterior()
	probB, probA := e.CalculateProbability(samplesA, samplesB)

	diff := make([]float64, len(samplesA))
	for i := range diff {
		diff[i] = samplesB[i] - samplesA[i]
	}
	diffMean := stat.Mean(diff, nil)
	diffStd := stat.StdDev(diff, nil)

	sort.Float64s(diff)
	tail := (1 - e.level) / 2
	ciLower := stat.Quantile(tail, stat.Empirical, diff, nil)
	ciUpper := stat.Quantile(1-tail, stat.Empirical, diff, nil)

	result := BayesianResult{
		ProbBBetter:   probB,
		ProbABetter:   probA,
		MeanA:         e.postA.Mean(),
		MeanB:         e.postB.Mean(),
		DiffMean:      diffMean,
		DiffStd:       diffStd,
		DiffCILower:   ciLower,
		DiffCIUpper:   ciUpper,
		CredibleLevel: e.level,
		AlphaPostA:    e.postA.Alpha,
		BetaPostA:     e.postA.Beta,
		AlphaPostB:    e.postB.Alpha,
		BetaPostB:     e.postB.Beta,
		NSamples:      e.samples,
	}

	if !opts.SkipExpectedLoss {
		lossA, lossB := e.CalculateExpectedLoss(samplesA, samplesB)
		result.ExpectedLossA = &lossA
		result.ExpectedLossB = &lossB
	}
	if !opts.SkipBayesFactor {
		factor := e.CalculateBayesFactor(probB)
		result.BayesFactor = &factor
	}
	return result
}

// Helper functions

// integrationWindow bounds the quadrature to the region holding the
// distribution's mass, ten standard deviations around the mean. Shape
// parameters below 1 put density at an endpoint, so the window is extended
// to that endpoint.
func integrationWindow(dist distuv.Beta) (lo, hi float64) {
	mean := dist.Mean()
	sigma := math.Sqrt(dist.Variance())

	lo = math.Max(0, mean-10*sigma)
	hi = math.Min(1, mean+10*sigma)
	if dist.Alpha < 1 {
		lo = 0
	}
	if dist.Beta < 1 {
		hi = 1
	}
	return lo, hi
}
