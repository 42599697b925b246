package verdict

import "sort"

// Scenario is a named canned observation. The built-in scenarios cover the
// range from an obvious winner down to a sample too small to decide, and
// are what the examples and verification helpers run against.
type Scenario struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Data        Observation `json:"data"`
}

// Presets returns the built-in demonstration scenarios.
func Presets() []Scenario {
	return []Scenario{
		{
			Name:        "clear_winner",
			Description: "B converts at 15% against A's 10%; every method calls it",
			Data:        MustObservation(1000, 100, 1000, 150),
		},
		{
			Name:        "subtle_difference",
			Description: "a 1.5 point lift that 1000 visitors per arm cannot confirm",
			Data:        MustObservation(1000, 100, 1000, 115),
		},
		{
			Name:        "no_difference",
			Description: "arms within noise of each other",
			Data:        MustObservation(1000, 100, 1000, 105),
		},
		{
			Name:        "small_sample",
			Description: "a visible lift on 50 visitors per arm, far from conclusive",
			Data:        MustObservation(50, 10, 50, 15),
		},
	}
}

// PresetByName returns the built-in scenario with the given name.
func PresetByName(name string) (Scenario, bool) {
	for _, scenario := range Presets() {
		if scenario.Name == name {
			return scenario, true
		}
	}
	return Scenario{}, false
}

// PresetNames returns the built-in scenario names, sorted.
func PresetNames() []string {
	scenarios := Presets()
	names := make([]string, len(scenarios))
	for i, scenario := range scenarios {
		names[i] = scenario.Name
	}
	sort.Strings(names)
	return names
}

// DefaultObservation returns the canned starting point for custom input:
// 1000 visitors per arm, 100 conversions against 120.
func DefaultObservation() Observation {
	return MustObservation(1000, 100, 1000, 120)
}
