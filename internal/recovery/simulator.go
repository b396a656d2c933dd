// Package recovery implements the Recovery Simulator: discrete logistic
// biomass projections per protection-expansion scenario, with a livelihood
// model translating biomass trajectories into fishing-community outcomes.
package recovery

import (
	"fmt"
	"log/slog"
	"math"

	"medguard/internal/config"
	"medguard/internal/types"
)

// Scenario is one expansion scenario's projected trajectory. Biomass holds
// HorizonYears+1 annual values starting at the initial biomass. BreakevenYear
// is the first year biomass reaches the recovery fraction of carrying
// capacity, or -1 if it never does within the horizon.
type Scenario struct {
	Name             string            `json:"name"`
	ExpansionPercent float64           `json:"expansion_percent"`
	Biomass          []float64         `json:"biomass"`
	BreakevenYear    int               `json:"breakeven_year"`
	Livelihood       *LivelihoodImpact `json:"livelihood,omitempty"`
}

// Simulator projects biomass recovery under protection-expansion scenarios.
type Simulator struct {
	cfg    config.RecoveryConfig
	logger *slog.Logger
}

// NewSimulator creates a simulator with the given configuration.
func NewSimulator(cfg config.RecoveryConfig, logger *slog.Logger) *Simulator {
	return &Simulator{cfg: cfg, logger: logger}
}

// Simulate projects one scenario from initial biomass under the given
// protected fraction of the domain. Carrying capacity is CapacityMultiple
// times the initial biomass; the intrinsic rate is boosted by
// ProtectionBoost scaled by the protected fraction. Parameters are
// validated before any stepping so a bad configuration never yields a
// partial trajectory.
func (s *Simulator) Simulate(name string, expansionPercent, initialBiomass, protectedFraction float64) (*Scenario, error) {
	if initialBiomass <= 0 {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeInvalidCapacity,
			"initial biomass must be positive",
			nil,
			map[string]any{"initial_biomass": initialBiomass},
		)
	}
	capacity := s.cfg.CapacityMultiple * initialBiomass
	if capacity <= 0 {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeInvalidCapacity,
			"carrying capacity must be positive",
			nil,
			map[string]any{"capacity": capacity},
		)
	}

	rate := s.cfg.GrowthRate * (1 + s.cfg.ProtectionBoost*protectedFraction)
	if rate <= -1 || rate >= 1 {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeInvalidCapacity,
			"effective growth rate outside the stable range (-1, 1)",
			nil,
			map[string]any{"rate": rate},
		)
	}

	target := s.cfg.RecoveryFraction * capacity

	biomass := make([]float64, s.cfg.HorizonYears+1)
	biomass[0] = math.Min(initialBiomass, capacity)
	breakeven := -1
	if biomass[0] >= target {
		breakeven = 0
	}

	for year := 1; year <= s.cfg.HorizonYears; year++ {
		b := biomass[year-1]
		b += rate * b * (1 - b/capacity)
		if b < 0 {
			b = 0
		}
		if b > capacity {
			b = capacity
		}
		biomass[year] = b
		if breakeven < 0 && b >= target {
			breakeven = year
		}
	}

	sc := &Scenario{
		Name:             name,
		ExpansionPercent: expansionPercent,
		Biomass:          biomass,
		BreakevenYear:    breakeven,
	}

	s.logger.Info("recovery scenario simulated",
		"scenario", name,
		"expansion_percent", expansionPercent,
		"effective_rate", rate,
		"final_biomass", biomass[len(biomass)-1],
		"breakeven_year", breakeven,
	)

	return sc, nil
}

// SimulateAll runs one independent scenario per expansion percentage.
// protectedFractionFor maps an expansion percentage to the resulting
// protected fraction of the domain; effortHours is the current annual
// fishing effort used by the livelihood model.
func (s *Simulator) SimulateAll(expansionPercents []float64, initialBiomass float64, protectedFractionFor func(float64) float64, effortHours float64) ([]Scenario, error) {
	out := make([]Scenario, 0, len(expansionPercents))
	for _, pct := range expansionPercents {
		name := fmt.Sprintf("expansion_%g_percent", pct)
		frac := protectedFractionFor(pct)

		sc, err := s.Simulate(name, pct, initialBiomass, frac)
		if err != nil {
			return nil, err
		}
		impact := s.LivelihoodImpact(pct, frac, effortHours, sc.BreakevenYear)
		sc.Livelihood = &impact
		out = append(out, *sc)
	}
	return out, nil
}
