package verdict

import (
	"testing"
)

func BenchmarkZTest(b *testing.B) {
	obs := MustObservation(1000, 100, 1000, 150)
	analyzer := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		analyzer.ZTest()
	}
}

func BenchmarkChiSquareTest(b *testing.B) {
	obs := MustObservation(1000, 100, 1000, 150)
	analyzer := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		analyzer.ChiSquareTest()
	}
}

func BenchmarkBayesianRun(b *testing.B) {
	obs := MustObservation(1000, 100, 1000, 150)
	config := DefaultBayesianConfig()
	config.Samples = 10000
	config.Seed = 42
	engine := NewBayesianEngine(obs, config)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Run(BayesianRunOptions{})
	}
}

func BenchmarkProbabilityAnalytical(b *testing.B) {
	obs := MustObservation(1000, 100, 1000, 150)
	engine := NewBayesianEngine(obs, DefaultBayesianConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.ProbabilityAnalytical()
	}
}

func BenchmarkCompare(b *testing.B) {
	obs := MustObservation(1000, 100, 1000, 150)
	config := comparisonConfigWithSeed(42)
	config.Bayesian.Samples = 10000

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewComparison(obs, config).RunAll(MethodZTest); err != nil {
			b.Fatalf("RunAll: %v", err)
		}
	}
}
