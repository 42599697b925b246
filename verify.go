package verdict

// defaultVerifyTolerance is the absolute deviation allowed between the
// Monte Carlo estimate and the quadrature reference at the default sample
// count.
const defaultVerifyTolerance = 0.01

// VerificationCheck is the outcome of one sampler cross-check: the Monte
// Carlo estimate of P(B > A) against the deterministic quadrature
// reference for the same posteriors.
type VerificationCheck struct {
	Name       string  `json:"name"`
	MonteCarlo float64 `json:"monte_carlo"`
	Analytical float64 `json:"analytical"`
	Deviation  float64 `json:"deviation"`
	Tolerance  float64 `json:"tolerance"`
	Passed     bool    `json:"passed"`
}

// VerifyMonteCarlo draws posterior samples for the observation and checks
// the sampled P(B > A) against ProbabilityAnalytical. A tolerance <= 0 is
// replaced by the default 0.01, which matches the default sample count;
// tighter tolerances need proportionally more samples.
func VerifyMonteCarlo(name string, obs Observation, config BayesianConfig, tolerance float64) VerificationCheck {
	if tolerance <= 0 {
		tolerance = defaultVerifyTolerance
	}

	engine := NewBayesianEngine(obs, config)
	samplesA, samplesB := engine.SamplePosterior()
	monteCarlo, _ := engine.CalculateProbability(samplesA, samplesB)
	analytical := engine.ProbabilityAnalytical()

	deviation := monteCarlo - analytical
	if deviation < 0 {
		deviation = -deviation
	}

	return VerificationCheck{
		Name:       name,
		MonteCarlo: monteCarlo,
		Analytical: analytical,
		Deviation:  deviation,
		Tolerance:  tolerance,
		Passed:     deviation <= tolerance,
	}
}

// VerifyPresets runs the sampler cross-check over every built-in scenario
// with the default configuration and the given seed. It returns the
// per-scenario checks and whether all of them passed.
func VerifyPresets(seed uint64) ([]VerificationCheck, bool) {
	config := DefaultBayesianConfig()
	config.Seed = seed

	presets := Presets()
	checks := make([]VerificationCheck, 0, len(presets))
	allPassed := true
	for _, scenario := range presets {
		check := VerifyMonteCarlo(scenario.Name, scenario.Data, config, defaultVerifyTolerance)
		if !check.Passed {
			allPassed = false
		}
		checks = append(checks, check)
	}
	return checks, allPassed
}
