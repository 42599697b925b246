package verdict

import (
	"fmt"
	"io"
	"strings"
)

// Summary renders the result as a short human-readable block.
func (r FrequentistResult) Summary() string {
	verdict := "not significant"
	if r.IsSignificant {
		verdict = "significant"
	}
	lines := []string{
		fmt.Sprintf("method: %s", r.Method),
		fmt.Sprintf("test statistic: %.4f", r.TestStatistic),
		fmt.Sprintf("p-value: %.6f", r.PValue),
		fmt.Sprintf("%.0f%% CI for the difference: [%.4f, %.4f]",
			r.ConfidenceLevel*100, r.CILower, r.CIUpper),
		fmt.Sprintf("verdict: %s", verdict),
	}
	return strings.Join(lines, "\n")
}

// Summary renders the result as a short human-readable block. Optional
// fields appear only when they were computed.
func (r BayesianResult) Summary() string {
	lines := []string{
		fmt.Sprintf("P(B > A): %.2f%%", r.ProbBBetter*100),
		fmt.Sprintf("P(A > B): %.2f%%", r.ProbABetter*100),
		fmt.Sprintf("posterior mean A: %.4f", r.MeanA),
		fmt.Sprintf("posterior mean B: %.4f", r.MeanB),
		fmt.Sprintf("difference mean (B - A): %.4f", r.DiffMean),
		fmt.Sprintf("%.0f%% credible interval: [%.4f, %.4f]",
			r.CredibleLevel*100, r.DiffCILower, r.DiffCIUpper),
	}
	if r.BayesFactor != nil {
		lines = append(lines, fmt.Sprintf("bayes factor: %.2f", *r.BayesFactor))
	}
	if r.ExpectedLossA != nil && r.ExpectedLossB != nil {
		lines = append(lines,
			fmt.Sprintf("expected loss choosing A: %.4f", *r.ExpectedLossA),
			fmt.Sprintf("expected loss choosing B: %.4f", *r.ExpectedLossB))
	}
	return strings.Join(lines, "\n")
}

// Summary renders the full comparison as a human-readable report.
func (r ComparisonResult) Summary() string {
	agreement := "the approaches disagree"
	if r.Agreement {
		agreement = "the approaches agree"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "arm A: %d/%d converted (%.2f%%)\n",
		r.Data.ConvA, r.Data.NA, r.Data.CVRA*100)
	fmt.Fprintf(&b, "arm B: %d/%d converted (%.2f%%)\n",
		r.Data.ConvB, r.Data.NB, r.Data.CVRB*100)
	fmt.Fprintf(&b, "observed lift (B - A): %.2f points\n\n", r.Data.CVRDiff*100)

	fmt.Fprintf(&b, "frequentist\n%s\n\n", r.Frequentist.Summary())
	fmt.Fprintf(&b, "bayesian\n%s\n\n", r.Bayesian.Summary())
	b.WriteString(agreement)
	return b.String()
}

// WriteReport writes the comparison summary to w, followed by a trailing
// newline.
func WriteReport(w io.Writer, result ComparisonResult) error {
	_, err := io.WriteString(w, result.Summary()+"\n")
	return err
}
