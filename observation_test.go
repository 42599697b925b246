package verdict

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestNewObservation_Valid(t *testing.T) {
	obs, err := NewObservation(1000, 100, 1000, 150)
	if err != nil {
		t.Fatalf("NewObservation failed: %v", err)
	}

	if obs.NA() != 1000 || obs.ConvA() != 100 {
		t.Errorf("arm A counts wrong: n=%d conv=%d", obs.NA(), obs.ConvA())
	}
	if obs.NB() != 1000 || obs.ConvB() != 150 {
		t.Errorf("arm B counts wrong: n=%d conv=%d", obs.NB(), obs.ConvB())
	}

	if math.Abs(obs.CVRA()-0.10) > 1e-12 {
		t.Errorf("expected CVRA 0.10, got %f", obs.CVRA())
	}
	if math.Abs(obs.CVRB()-0.15) > 1e-12 {
		t.Errorf("expected CVRB 0.15, got %f", obs.CVRB())
	}
	if math.Abs(obs.CVRDiff()-0.05) > 1e-12 {
		t.Errorf("expected CVRDiff 0.05, got %f", obs.CVRDiff())
	}
}

func TestNewObservation_ZeroConversionsAllowed(t *testing.T) {
	obs, err := NewObservation(100, 0, 100, 0)
	if err != nil {
		t.Fatalf("zero conversions should be valid: %v", err)
	}
	if obs.CVRA() != 0 || obs.CVRB() != 0 {
		t.Errorf("expected zero rates, got %f / %f", obs.CVRA(), obs.CVRB())
	}
}

func TestNewObservation_Invalid(t *testing.T) {
	tests := []struct {
		name                   string
		nA, convA, nB, convB   int64
		wantField              string
	}{
		{"zero sample size A", 0, 0, 100, 10, "n_a"},
		{"negative sample size A", -5, 0, 100, 10, "n_a"},
		{"zero sample size B", 100, 10, 0, 0, "n_b"},
		{"negative conversions A", 100, -1, 100, 10, "conv_a"},
		{"negative conversions B", 100, 10, 100, -3, "conv_b"},
		{"conversions exceed trials A", 100, 101, 100, 10, "conv_a"},
		{"conversions exceed trials B", 100, 10, 100, 200, "conv_b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewObservation(tt.nA, tt.convA, tt.nB, tt.convB)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidObservation) {
				t.Errorf("error should match ErrInvalidObservation: %v", err)
			}

			var oerr *ObservationError
			if !errors.As(err, &oerr) {
				t.Fatalf("expected *ObservationError, got %T", err)
			}
			if oerr.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, oerr.Field)
			}
		})
	}
}

func TestNewObservation_ValidationOrder(t *testing.T) {
	// Sample sizes are checked before conversion counts.
	_, err := NewObservation(0, -1, 0, -1)
	var oerr *ObservationError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *ObservationError, got %T", err)
	}
	if oerr.Field != "n_a" {
		t.Errorf("expected n_a reported first, got %q", oerr.Field)
	}
}

func TestObservation_Swapped(t *testing.T) {
	obs := MustObservation(1000, 100, 500, 75)
	sw := obs.Swapped()

	if sw.NA() != 500 || sw.ConvA() != 75 || sw.NB() != 1000 || sw.ConvB() != 100 {
		t.Errorf("swap wrong: %+v", sw.Summary())
	}
	if math.Abs(sw.CVRDiff()+obs.CVRDiff()) > 1e-12 {
		t.Errorf("CVRDiff should negate under swap: %f vs %f", sw.CVRDiff(), obs.CVRDiff())
	}
	if sw.Swapped() != obs {
		t.Error("double swap should restore the original observation")
	}
}

func TestObservation_JSONRoundTrip(t *testing.T) {
	obs := MustObservation(1000, 100, 1000, 150)

	data, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Observation
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded != obs {
		t.Errorf("round trip mismatch: %+v vs %+v", decoded.Summary(), obs.Summary())
	}
}

func TestObservation_UnmarshalRejectsInvalid(t *testing.T) {
	var obs Observation
	err := json.Unmarshal([]byte(`{"n_a":0,"conv_a":0,"n_b":10,"conv_b":1}`), &obs)
	if !errors.Is(err, ErrInvalidObservation) {
		t.Errorf("expected ErrInvalidObservation, got %v", err)
	}
}

func TestMustObservation_PanicsOnInvalid(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for invalid counts")
		}
	}()
	MustObservation(0, 0, 0, 0)
}
