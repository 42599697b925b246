package verdict

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestTestMethod_String(t *testing.T) {
	cases := []struct {
		method TestMethod
		want   string
	}{
		{MethodZTest, "z_test"},
		{MethodTTest, "t_test"},
		{MethodChiSquare, "chi_square"},
		{TestMethod(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.method.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestParseTestMethod(t *testing.T) {
	for _, method := range []TestMethod{MethodZTest, MethodTTest, MethodChiSquare} {
		parsed, err := ParseTestMethod(method.String())
		if err != nil {
			t.Fatalf("ParseTestMethod(%q) failed: %v", method.String(), err)
		}
		if parsed != method {
			t.Errorf("ParseTestMethod(%q) = %v, want %v", method.String(), parsed, method)
		}
	}

	_, err := ParseTestMethod("mann_whitney")
	if !errors.Is(err, ErrUnknownTestMethod) {
		t.Fatalf("expected ErrUnknownTestMethod, got %v", err)
	}
	var methodErr *MethodError
	if !errors.As(err, &methodErr) {
		t.Fatalf("expected *MethodError, got %T", err)
	}
	if methodErr.Tag != "mann_whitney" {
		t.Errorf("MethodError.Tag = %q, want %q", methodErr.Tag, "mann_whitney")
	}
}

func TestTestMethod_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(MethodChiSquare)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"chi_square"` {
		t.Errorf("marshal = %s, want %q", data, `"chi_square"`)
	}

	var method TestMethod
	if err := json.Unmarshal(data, &method); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if method != MethodChiSquare {
		t.Errorf("unmarshal = %v, want %v", method, MethodChiSquare)
	}

	if err := json.Unmarshal([]byte(`"bootstrap"`), &method); !errors.Is(err, ErrUnknownTestMethod) {
		t.Errorf("expected ErrUnknownTestMethod for bad tag, got %v", err)
	}
}

func TestNewFrequentistAnalyzer_ClampsLevel(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)

	for _, level := range []float64{0, 1, -0.5, 1.5} {
		fa := NewFrequentistAnalyzer(obs, FrequentistConfig{ConfidenceLevel: level})
		if got := fa.ZTest().ConfidenceLevel; got != 0.95 {
			t.Errorf("level %v: ConfidenceLevel = %v, want 0.95", level, got)
		}
	}

	fa := NewFrequentistAnalyzer(obs, FrequentistConfig{ConfidenceLevel: 0.90})
	if got := fa.ZTest().ConfidenceLevel; got != 0.90 {
		t.Errorf("valid level not preserved: got %v", got)
	}
}

func TestZTest_ClearWinner(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)
	fa := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig())

	res := fa.ZTest()
	if res.Method != MethodZTest {
		t.Fatalf("Method = %v, want %v", res.Method, MethodZTest)
	}
	if res.TestStatistic <= 0 {
		t.Errorf("expected positive z for better B arm, got %v", res.TestStatistic)
	}
	if res.PValue >= 0.05 {
		t.Errorf("p-value = %v, want < 0.05", res.PValue)
	}
	if !res.IsSignificant {
		t.Error("expected a significant result")
	}
	if res.CILower <= 0 {
		t.Errorf("CI lower = %v, want > 0", res.CILower)
	}
	if res.CIUpper <= res.CILower {
		t.Errorf("inverted interval [%v, %v]", res.CILower, res.CIUpper)
	}

	if res.ZTest == nil {
		t.Fatal("z-test details missing")
	}
	if math.Abs(res.ZTest.PooledProportion-0.125) > 1e-12 {
		t.Errorf("pooled proportion = %v, want 0.125", res.ZTest.PooledProportion)
	}
	if res.TTest != nil || res.ChiSquare != nil {
		t.Error("unexpected details for other methods")
	}
}

func TestZTest_NoDifference(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 100)
	fa := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig())

	res := fa.ZTest()
	if res.TestStatistic != 0 {
		t.Errorf("z = %v, want 0 for identical arms", res.TestStatistic)
	}
	if math.Abs(res.PValue-1) > 1e-12 {
		t.Errorf("p-value = %v, want 1", res.PValue)
	}
	if res.IsSignificant {
		t.Error("identical arms must not be significant")
	}
	if res.CILower > 0 || res.CIUpper < 0 {
		t.Errorf("CI [%v, %v] must contain 0", res.CILower, res.CIUpper)
	}
}

func TestZTest_ArmSwapAntisymmetry(t *testing.T) {
	obs := MustObservation(1000, 100, 800, 120)
	cfg := DefaultFrequentistConfig()

	res := NewFrequentistAnalyzer(obs, cfg).ZTest()
	swapped := NewFrequentistAnalyzer(obs.Swapped(), cfg).ZTest()

	if math.Abs(res.TestStatistic+swapped.TestStatistic) > 1e-12 {
		t.Errorf("z not antisymmetric: %v vs %v", res.TestStatistic, swapped.TestStatistic)
	}
	if math.Abs(res.PValue-swapped.PValue) > 1e-12 {
		t.Errorf("p-value changed under swap: %v vs %v", res.PValue, swapped.PValue)
	}
	if math.Abs(res.CILower+swapped.CIUpper) > 1e-12 ||
		math.Abs(res.CIUpper+swapped.CILower) > 1e-12 {
		t.Errorf("CI not mirrored: [%v, %v] vs [%v, %v]",
			res.CILower, res.CIUpper, swapped.CILower, swapped.CIUpper)
	}
}

func TestZTest_DegenerateNaN(t *testing.T) {
	obs := MustObservation(100, 0, 100, 0)
	res := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig()).ZTest()

	if !math.IsNaN(res.TestStatistic) {
		t.Errorf("z = %v, want NaN for zero conversions on both arms", res.TestStatistic)
	}
	if !math.IsNaN(res.PValue) {
		t.Errorf("p-value = %v, want NaN", res.PValue)
	}
	if res.IsSignificant {
		t.Error("NaN p-value must not report significance")
	}
}

func TestTTest_ClearWinner(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)
	fa := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig())

	res := fa.TTest()
	if res.Method != MethodTTest {
		t.Fatalf("Method = %v, want %v", res.Method, MethodTTest)
	}
	if !res.IsSignificant || res.PValue >= 0.05 {
		t.Errorf("expected significance, got p = %v", res.PValue)
	}
	if res.CILower <= 0 {
		t.Errorf("CI lower = %v, want > 0", res.CILower)
	}

	if res.TTest == nil {
		t.Fatal("t-test details missing")
	}
	df := res.TTest.DegreesOfFreedom
	if df <= 999 || df >= 1998 {
		t.Errorf("Welch df = %v, want within (999, 1998)", df)
	}
	if res.TTest.VarianceA <= 0 || res.TTest.VarianceB <= 0 {
		t.Errorf("variances = %v, %v, want > 0", res.TTest.VarianceA, res.TTest.VarianceB)
	}
}

func TestTTest_CloseToZTestOnLargeSamples(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)
	fa := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig())

	z := fa.ZTest()
	tt := fa.TTest()
	if math.Abs(z.TestStatistic-tt.TestStatistic) > 0.05 {
		t.Errorf("z = %v and t = %v diverge on large samples",
			z.TestStatistic, tt.TestStatistic)
	}
	if math.Abs(z.PValue-tt.PValue) > 0.01 {
		t.Errorf("p-values diverge: z %v vs t %v", z.PValue, tt.PValue)
	}
}

func TestTTest_DegenerateNaN(t *testing.T) {
	obs := MustObservation(1, 0, 1, 1)
	res := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig()).TTest()

	if !math.IsNaN(res.PValue) {
		t.Errorf("p-value = %v, want NaN for single-visitor arms", res.PValue)
	}
	if !math.IsNaN(res.CILower) || !math.IsNaN(res.CIUpper) {
		t.Errorf("CI = [%v, %v], want NaN bounds", res.CILower, res.CIUpper)
	}
	if res.IsSignificant {
		t.Error("NaN p-value must not report significance")
	}
}

func TestChiSquare_ClearWinner(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)
	fa := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig())

	res := fa.ChiSquareTest()
	if res.Method != MethodChiSquare {
		t.Fatalf("Method = %v, want %v", res.Method, MethodChiSquare)
	}
	if !res.IsSignificant || res.PValue >= 0.05 {
		t.Errorf("expected significance, got p = %v", res.PValue)
	}
	if res.CILower <= 0 {
		t.Errorf("CI lower = %v, want > 0", res.CILower)
	}

	details := res.ChiSquare
	if details == nil {
		t.Fatal("chi-square details missing")
	}
	if details.DegreesOfFreedom != 1 {
		t.Errorf("df = %d, want 1 for a 2x2 table", details.DegreesOfFreedom)
	}
	if math.Abs(details.ChiSquare-11.4286) > 0.01 {
		t.Errorf("uncorrected chi-square = %v, want ~11.4286", details.ChiSquare)
	}
	if math.Abs(details.ChiSquareCorrected-10.9760) > 0.01 {
		t.Errorf("corrected chi-square = %v, want ~10.9760", details.ChiSquareCorrected)
	}
	if details.ChiSquareCorrected >= details.ChiSquare {
		t.Error("Yates correction must shrink the statistic")
	}
	if details.PValueCorrected <= details.PValue {
		t.Error("Yates correction must grow the p-value")
	}

	wantExpected := [2][2]float64{{125, 875}, {125, 875}}
	if details.Expected != wantExpected {
		t.Errorf("expected counts = %v, want %v", details.Expected, wantExpected)
	}
}

func TestChiSquare_EqualArms(t *testing.T) {
	obs := MustObservation(500, 50, 500, 50)
	res := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig()).ChiSquareTest()

	if res.ChiSquare.ChiSquare != 0 {
		t.Errorf("chi-square = %v, want 0 for identical arms", res.ChiSquare.ChiSquare)
	}
	if res.TestStatistic != 0 {
		t.Errorf("corrected chi-square = %v, want 0", res.TestStatistic)
	}
	if math.Abs(res.PValue-1) > 1e-12 {
		t.Errorf("p-value = %v, want 1", res.PValue)
	}
	if res.IsSignificant {
		t.Error("identical arms must not be significant")
	}
	if res.CILower > 0 || res.CIUpper < 0 {
		t.Errorf("CI [%v, %v] must contain 0", res.CILower, res.CIUpper)
	}
}

func TestChiSquare_WilsonIntervals(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)
	res := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig()).ChiSquareTest()

	wilson := res.ChiSquare.WilsonA
	if math.Abs(wilson.Lower-0.08291) > 1e-3 {
		t.Errorf("Wilson lower = %v, want ~0.08291", wilson.Lower)
	}
	if math.Abs(wilson.Upper-0.12015) > 1e-3 {
		t.Errorf("Wilson upper = %v, want ~0.12015", wilson.Upper)
	}
	if wilson.Lower >= 0.1 || wilson.Upper <= 0.1 {
		t.Errorf("Wilson interval [%v, %v] must contain the observed rate", wilson.Lower, wilson.Upper)
	}

	if res.ChiSquare.WilsonB.Lower <= wilson.Lower {
		t.Error("higher-rate arm must have a higher Wilson lower bound")
	}
}

func TestFrequentistRun_Dispatch(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)
	fa := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig())

	for _, method := range []TestMethod{MethodZTest, MethodTTest, MethodChiSquare} {
		res, err := fa.Run(method)
		if err != nil {
			t.Fatalf("Run(%v) failed: %v", method, err)
		}
		if res.Method != method {
			t.Errorf("Run(%v) reported method %v", method, res.Method)
		}

		set := 0
		if res.ZTest != nil {
			set++
		}
		if res.TTest != nil {
			set++
		}
		if res.ChiSquare != nil {
			set++
		}
		if set != 1 {
			t.Errorf("Run(%v): %d detail blocks set, want exactly 1", method, set)
		}
	}
}

func TestFrequentistRun_UnknownMethod(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)
	fa := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig())

	_, err := fa.Run(TestMethod(42))
	if !errors.Is(err, ErrUnknownTestMethod) {
		t.Fatalf("expected ErrUnknownTestMethod, got %v", err)
	}
}

func TestFrequentist_IntervalWidensWithLevel(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)

	for _, method := range []TestMethod{MethodZTest, MethodTTest, MethodChiSquare} {
		narrow, err := NewFrequentistAnalyzer(obs, FrequentistConfig{ConfidenceLevel: 0.90}).Run(method)
		if err != nil {
			t.Fatal(err)
		}
		wide, err := NewFrequentistAnalyzer(obs, FrequentistConfig{ConfidenceLevel: 0.99}).Run(method)
		if err != nil {
			t.Fatal(err)
		}

		narrowWidth := narrow.CIUpper - narrow.CILower
		wideWidth := wide.CIUpper - wide.CILower
		if wideWidth <= narrowWidth {
			t.Errorf("%v: 99%% interval width %v not wider than 90%% width %v",
				method, wideWidth, narrowWidth)
		}
	}
}

func TestFrequentistResult_JSON(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)
	res := NewFrequentistAnalyzer(obs, DefaultFrequentistConfig()).ZTest()

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"method":"z_test"`) {
		t.Errorf("encoded result missing method tag: %s", data)
	}

	var decoded FrequentistResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Method != MethodZTest {
		t.Errorf("decoded method = %v, want %v", decoded.Method, MethodZTest)
	}
	if math.Abs(decoded.PValue-res.PValue) > 1e-12 {
		t.Errorf("decoded p-value = %v, want %v", decoded.PValue, res.PValue)
	}
	if decoded.ZTest == nil || decoded.TTest != nil || decoded.ChiSquare != nil {
		t.Error("decoded details do not match the method")
	}
}
