package verdict

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// TestMethod identifies the frequentist hypothesis test.
type TestMethod int

const (
	// MethodZTest is the two-proportion z-test.
	MethodZTest TestMethod = iota
	// MethodTTest is Welch's unequal-variance t-test.
	MethodTTest
	// MethodChiSquare is the 2x2 chi-square test with Yates correction.
	MethodChiSquare
)

// String returns the stable wire tag for the method.
func (m TestMethod) String() string {
	switch m {
	case MethodZTest:
		return "z_test"
	case MethodTTest:
		return "t_test"
	case MethodChiSquare:
		return "chi_square"
	default:
		return "unknown"
	}
}

// ParseTestMethod maps a wire tag back to its TestMethod. It fails with an
// error matching ErrUnknownTestMethod for any other tag.
func ParseTestMethod(tag string) (TestMethod, error) {
	switch tag {
	case "z_test":
		return MethodZTest, nil
	case "t_test":
		return MethodTTest, nil
	case "chi_square":
		return MethodChiSquare, nil
	default:
		return 0, newMethodError(tag)
	}
}

// MarshalJSON encodes the method as its wire tag.
func (m TestMethod) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a wire tag.
func (m *TestMethod) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	parsed, err := ParseTestMethod(tag)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// FrequentistConfig configures the frequentist analyzer.
type FrequentistConfig struct {
	// ConfidenceLevel is the two-sided confidence level in (0,1).
	// The significance threshold alpha is 1 - ConfidenceLevel.
	ConfidenceLevel float64 `json:"confidence_level" yaml:"confidence_level"`
}

// DefaultFrequentistConfig returns the default frequentist configuration.
func DefaultFrequentistConfig() FrequentistConfig {
	return FrequentistConfig{ConfidenceLevel: 0.95}
}

// FrequentistAnalyzer runs closed-form hypothesis tests on a two-arm
// observation. Analyzers are cheap to construct, hold no mutable state and
// are safe for concurrent use.
type FrequentistAnalyzer struct {
	obs   Observation
	level float64
	alpha float64
}

// NewFrequentistAnalyzer creates an analyzer for the observation.
// A confidence level outside (0,1) is replaced by the default 0.95.
func NewFrequentistAnalyzer(obs Observation, config FrequentistConfig) *FrequentistAnalyzer {
	if config.ConfidenceLevel <= 0 || config.ConfidenceLevel >= 1 {
		config.ConfidenceLevel = 0.95
	}
	return &FrequentistAnalyzer{
		obs:   obs,
		level: config.ConfidenceLevel,
		alpha: 1 - config.ConfidenceLevel,
	}
}

// Interval is a closed numeric interval.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ZTestDetails carries the z-test auxiliary quantities.
type ZTestDetails struct {
	// PooledProportion is (conv_a+conv_b)/(n_a+n_b), used for the statistic.
	PooledProportion float64 `json:"pooled_proportion"`
	// StandardError is the pooled standard error under the null hypothesis.
	StandardError float64 `json:"standard_error"`
}

// TTestDetails carries the Welch t-test auxiliary quantities.
type TTestDetails struct {
	DegreesOfFreedom float64 `json:"degrees_of_freedom"`
	VarianceA        float64 `json:"variance_a"`
	VarianceB        float64 `json:"variance_b"`
}

// ChiSquareDetails carries the chi-square auxiliary quantities, including
// both the uncorrected and Yates-corrected variants and the per-arm Wilson
// score intervals used for the difference interval.
type ChiSquareDetails struct {
	DegreesOfFreedom   int           `json:"degrees_of_freedom"`
	ChiSquare          float64       `json:"chi_square"`
	PValue             float64       `json:"p_value"`
	ChiSquareCorrected float64       `json:"chi_square_corrected"`
	PValueCorrected    float64       `json:"p_value_corrected"`
	Observed           [2][2]float64 `json:"observed"`
	Expected           [2][2]float64 `json:"expected"`
	WilsonA            Interval      `json:"wilson_ci_a"`
	WilsonB            Interval      `json:"wilson_ci_b"`
}

// FrequentistResult is the immutable output of a single hypothesis test.
// Exactly one of the method detail pointers is set, matching Method.
//
// Degenerate inputs (for example zero conversions on both arms) produce NaN
// statistics and p-values rather than errors; a NaN p-value means
// "indeterminate", not "not significant", and such results cannot be encoded
// by encoding/json.
type FrequentistResult struct {
	Method          TestMethod        `json:"method"`
	TestStatistic   float64           `json:"test_statistic"`
	PValue          float64           `json:"p_value"`
	CILower         float64           `json:"ci_lower"`
	CIUpper         float64           `json:"ci_upper"`
	ConfidenceLevel float64           `json:"confidence_level"`
	IsSignificant   bool              `json:"is_significant"`
	ZTest           *ZTestDetails     `json:"z_test,omitempty"`
	TTest           *TTestDetails     `json:"t_test,omitempty"`
	ChiSquare       *ChiSquareDetails `json:"chi_square,omitempty"`
}

// Run dispatches to the test selected by method. It fails with an error
// matching ErrUnknownTestMethod for an unrecognized method value.
func (fa *FrequentistAnalyzer) Run(method TestMethod) (FrequentistResult, error) {
	switch method {
	case MethodZTest:
		return fa.ZTest(), nil
	case MethodTTest:
		return fa.TTest(), nil
	case MethodChiSquare:
		return fa.ChiSquareTest(), nil
	default:
		return FrequentistResult{}, newMethodError(method.String())
	}
}

// ZTest performs the two-proportion z-test. The statistic uses the pooled
// standard error under the null; the confidence interval for the rate
// difference uses the unpooled standard error.
func (fa *FrequentistAnalyzer) ZTest() FrequentistResult {
	obs := fa.obs
	nA, nB := float64(obs.NA()), float64(obs.NB())
	cvrA, cvrB := obs.CVRA(), obs.CVRB()
	diff := cvrB - cvrA

	pPool := float64(obs.ConvA()+obs.ConvB()) / (nA + nB)
	sePool := math.Sqrt(pPool * (1 - pPool) * (1/nA + 1/nB))
	z := diff / sePool

	normal := distuv.Normal{Mu: 0, Sigma: 1}
	p := 2 * normal.Survival(math.Abs(z))

	seDiff := math.Sqrt(cvrA*(1-cvrA)/nA + cvrB*(1-cvrB)/nB)
	zCrit := normal.Quantile(1 - fa.alpha/2)

	return FrequentistResult{
		Method:          MethodZTest,
		TestStatistic:   z,
		PValue:          p,
		CILower:         diff - zCrit*seDiff,
		CIUpper:         diff + zCrit*seDiff,
		ConfidenceLevel: fa.level,
		IsSignificant:   p < fa.alpha,
		ZTest: &ZTestDetails{
			PooledProportion: pPool,
			StandardError:    sePool,
		},
	}
}

// TTest performs Welch's unequal-variance t-test, treating the per-arm
// conversion rates as sample means with variance p(1-p)/n and the
// Welch-Satterthwaite degrees of freedom.
func (fa *FrequentistAnalyzer) TTest() FrequentistResult {
	obs := fa.obs
	nA, nB := float64(obs.NA()), float64(obs.NB())
	cvrA, cvrB := obs.CVRA(), obs.CVRB()
	diff := cvrB - cvrA

	varA := cvrA * (1 - cvrA) / nA
	varB := cvrB * (1 - cvrB) / nB
	se := math.Sqrt(varA + varB)
	t := diff / se

	df := (varA + varB) * (varA + varB) /
		(varA*varA/(nA-1) + varB*varB/(nB-1))

	p := math.NaN()
	ciLower, ciUpper := math.NaN(), math.NaN()
	if df > 0 && !math.IsInf(df, 0) {
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
		p = 2 * dist.Survival(math.Abs(t))
		tCrit := dist.Quantile(1 - fa.alpha/2)
		ciLower = diff - tCrit*se
		ciUpper = diff + tCrit*se
	}

	return FrequentistResult{
		Method:          MethodTTest,
		TestStatistic:   t,
		PValue:          p,
		CILower:         ciLower,
		CIUpper:         ciUpper,
		ConfidenceLevel: fa.level,
		IsSignificant:   p < fa.alpha,
		TTest: &TTestDetails{
			DegreesOfFreedom: df,
			VarianceA:        varA,
			VarianceB:        varB,
		},
	}
}

// ChiSquareTest performs the chi-square test of independence on the 2x2
// contingency table, reporting both the uncorrected and Yates-corrected
// statistics. The headline statistic and p-value are the Yates-corrected
// ones. The confidence interval for the rate difference is assembled from
// the per-arm Wilson score intervals (lower = wilson_b.lower -
// wilson_a.upper); this is a conservative approximation, not an exact
// interval for the difference.
func (fa *FrequentistAnalyzer) ChiSquareTest() FrequentistResult {
	obs := fa.obs

	observed := [2][2]float64{
		{float64(obs.ConvA()), float64(obs.NA() - obs.ConvA())},
		{float64(obs.ConvB()), float64(obs.NB() - obs.ConvB())},
	}

	rowA := observed[0][0] + observed[0][1]
	rowB := observed[1][0] + observed[1][1]
	colConv := observed[0][0] + observed[1][0]
	colNon := observed[0][1] + observed[1][1]
	total := rowA + rowB

	expected := [2][2]float64{
		{rowA * colConv / total, rowA * colNon / total},
		{rowB * colConv / total, rowB * colNon / total},
	}

	var chi2, chi2Yates float64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			dev := observed[i][j] - expected[i][j]
			chi2 += dev * dev / expected[i][j]

			adj := math.Max(0, math.Abs(dev)-0.5)
			chi2Yates += adj * adj / expected[i][j]
		}
	}

	chiDist := distuv.ChiSquared{K: 1}
	p := chiSquarePValue(chiDist, chi2)
	pYates := chiSquarePValue(chiDist, chi2Yates)

	zCrit := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - fa.alpha/2)
	wilsonA := wilsonInterval(obs.ConvA(), obs.NA(), zCrit)
	wilsonB := wilsonInterval(obs.ConvB(), obs.NB(), zCrit)

	return FrequentistResult{
		Method:          MethodChiSquare,
		TestStatistic:   chi2Yates,
		PValue:          pYates,
		CILower:         wilsonB.Lower - wilsonA.Upper,
		CIUpper:         wilsonB.Upper - wilsonA.Lower,
		ConfidenceLevel: fa.level,
		IsSignificant:   pYates < fa.alpha,
		ChiSquare: &ChiSquareDetails{
			DegreesOfFreedom:   1,
			ChiSquare:          chi2,
			PValue:             p,
			ChiSquareCorrected: chi2Yates,
			PValueCorrected:    pYates,
			Observed:           observed,
			Expected:           expected,
			WilsonA:            wilsonA,
			WilsonB:            wilsonB,
		},
	}
}

// Helper functions

// chiSquarePValue returns the upper-tail probability for the statistic,
// propagating NaN for degenerate tables instead of panicking inside the
// distribution code.
func chiSquarePValue(dist distuv.ChiSquared, stat float64) float64 {
	if math.IsNaN(stat) || stat < 0 {
		return math.NaN()
	}
	return dist.Survival(stat)
}

// wilsonInterval computes the Wilson score interval for a binomial
// proportion at the critical value z.
func wilsonInterval(successes, trials int64, z float64) Interval {
	n := float64(trials)
	phat := float64(successes) / n

	denom := 1 + z*z/n
	center := (phat + z*z/(2*n)) / denom
	margin := z * math.Sqrt(phat*(1-phat)/n+z*z/(4*n*n)) / denom

	return Interval{Lower: center - margin, Upper: center + margin}
}
