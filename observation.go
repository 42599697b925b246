package verdict

import "encoding/json"

// Observation holds the validated counts of a two-arm conversion experiment:
// trials and conversions for arm A (the control) and arm B (the variant).
// Values are immutable after construction; derived rates are computed on
// demand with exact IEEE-754 division.
type Observation struct {
	nA, convA int64
	nB, convB int64
}

// NewObservation validates the four counts and returns an Observation.
// It fails with an error matching ErrInvalidObservation when either sample
// size is not positive, either conversion count is negative, or either
// conversion count exceeds its sample size. Validation stops at the first
// violated constraint, sample sizes first.
func NewObservation(nA, convA, nB, convB int64) (Observation, error) {
	if nA <= 0 {
		return Observation{}, newObservationError("n_a", "must be positive", nA)
	}
	if nB <= 0 {
		return Observation{}, newObservationError("n_b", "must be positive", nB)
	}
	if convA < 0 {
		return Observation{}, newObservationError("conv_a", "must not be negative", convA)
	}
	if convB < 0 {
		return Observation{}, newObservationError("conv_b", "must not be negative", convB)
	}
	if convA > nA {
		return Observation{}, newObservationError("conv_a", "must not exceed sample size", convA)
	}
	if convB > nB {
		return Observation{}, newObservationError("conv_b", "must not exceed sample size", convB)
	}
	return Observation{nA: nA, convA: convA, nB: nB, convB: convB}, nil
}

// MustObservation is like NewObservation but panics on invalid counts.
// Intended for fixed datasets such as the built-in presets.
func MustObservation(nA, convA, nB, convB int64) Observation {
	obs, err := NewObservation(nA, convA, nB, convB)
	if err != nil {
		panic(err)
	}
	return obs
}

// NA returns the number of trials in arm A.
func (o Observation) NA() int64 { return o.nA }

// ConvA returns the number of conversions in arm A.
func (o Observation) ConvA() int64 { return o.convA }

// NB returns the number of trials in arm B.
func (o Observation) NB() int64 { return o.nB }

// ConvB returns the number of conversions in arm B.
func (o Observation) ConvB() int64 { return o.convB }

// CVRA returns the conversion rate of arm A.
func (o Observation) CVRA() float64 { return float64(o.convA) / float64(o.nA) }

// CVRB returns the conversion rate of arm B.
func (o Observation) CVRB() float64 { return float64(o.convB) / float64(o.nB) }

// CVRDiff returns CVRB minus CVRA.
func (o Observation) CVRDiff() float64 { return o.CVRB() - o.CVRA() }

// Swapped returns the observation with arms A and B exchanged.
func (o Observation) Swapped() Observation {
	return Observation{nA: o.nB, convA: o.convB, nB: o.nA, convB: o.convA}
}

// ObservationSummary is the serializable view of an observation, carrying
// the raw counts and the derived conversion rates.
type ObservationSummary struct {
	NA      int64   `json:"n_a" yaml:"n_a"`
	ConvA   int64   `json:"conv_a" yaml:"conv_a"`
	CVRA    float64 `json:"cvr_a" yaml:"cvr_a"`
	NB      int64   `json:"n_b" yaml:"n_b"`
	ConvB   int64   `json:"conv_b" yaml:"conv_b"`
	CVRB    float64 `json:"cvr_b" yaml:"cvr_b"`
	CVRDiff float64 `json:"cvr_diff" yaml:"cvr_diff"`
}

// Summary returns the serializable view of the observation.
func (o Observation) Summary() ObservationSummary {
	return ObservationSummary{
		NA:      o.nA,
		ConvA:   o.convA,
		CVRA:    o.CVRA(),
		NB:      o.nB,
		ConvB:   o.convB,
		CVRB:    o.CVRB(),
		CVRDiff: o.CVRDiff(),
	}
}

// MarshalJSON encodes the observation as its summary record.
func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Summary())
}

// UnmarshalJSON decodes a summary record and revalidates the counts.
func (o *Observation) UnmarshalJSON(data []byte) error {
	var s ObservationSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	obs, err := NewObservation(s.NA, s.ConvA, s.NB, s.ConvB)
	if err != nil {
		return err
	}
	*o = obs
	return nil
}
