package verdict

import (
	"sort"
	"testing"
)

func TestPresets(t *testing.T) {
	presets := Presets()
	if len(presets) != 4 {
		t.Fatalf("got %d presets, want 4", len(presets))
	}

	seen := make(map[string]bool)
	for _, scenario := range presets {
		if scenario.Name == "" || scenario.Description == "" {
			t.Errorf("preset %+v missing name or description", scenario)
		}
		if seen[scenario.Name] {
			t.Errorf("duplicate preset name %q", scenario.Name)
		}
		seen[scenario.Name] = true
	}
}

func TestPresetByName(t *testing.T) {
	scenario, ok := PresetByName("clear_winner")
	if !ok {
		t.Fatal("clear_winner preset missing")
	}
	if scenario.Data.NB() != 1000 || scenario.Data.ConvB() != 150 {
		t.Errorf("clear_winner arm B = %d/%d, want 150/1000",
			scenario.Data.ConvB(), scenario.Data.NB())
	}

	if _, ok := PresetByName("nonexistent"); ok {
		t.Error("unexpected hit for an unknown preset name")
	}
}

func TestPresetNames(t *testing.T) {
	names := PresetNames()
	if len(names) != len(Presets()) {
		t.Fatalf("got %d names, want %d", len(names), len(Presets()))
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("names not sorted: %v", names)
	}
	for _, name := range names {
		if _, ok := PresetByName(name); !ok {
			t.Errorf("listed preset %q cannot be resolved", name)
		}
	}
}

func TestPresets_StatisticalCharacter(t *testing.T) {
	// Only the clear winner should reach significance under the z-test.
	for _, scenario := range Presets() {
		res := NewFrequentistAnalyzer(scenario.Data, DefaultFrequentistConfig()).ZTest()
		want := scenario.Name == "clear_winner"
		if res.IsSignificant != want {
			t.Errorf("%s: IsSignificant = %v, want %v (p = %v)",
				scenario.Name, res.IsSignificant, want, res.PValue)
		}
	}
}

func TestDefaultObservation(t *testing.T) {
	obs := DefaultObservation()
	if obs.NA() != 1000 || obs.ConvA() != 100 || obs.NB() != 1000 || obs.ConvB() != 120 {
		t.Errorf("unexpected default observation %+v", obs.Summary())
	}
}
