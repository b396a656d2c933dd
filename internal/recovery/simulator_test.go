package recovery

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medguard/internal/config"
	"medguard/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		GrowthRate:       0.07,
		CapacityMultiple: 1.5,
		ProtectionBoost:  0.5,
		HorizonYears:     25,
		RecoveryFraction: 0.9,
		HoursPerJob:      2000,
		ClosureJobShare:  0.6,
		SpilloverFactor:  1.3,
		IncomePerJobUSD:  30000,
		YearsToSpillover: 7,
	}
}

func TestSimulateLogisticGrowth(t *testing.T) {
	sim := NewSimulator(testRecoveryConfig(), testLogger())

	sc, err := sim.Simulate("baseline", 0, 100, 0)
	require.NoError(t, err)
	require.Len(t, sc.Biomass, 26)

	assert.Equal(t, 100.0, sc.Biomass[0])

	// First step: B += r*B*(1 - B/K) with K = 150.
	want := 100 + 0.07*100*(1-100.0/150.0)
	assert.InDelta(t, want, sc.Biomass[1], 1e-9)

	// Strictly increasing below capacity, never exceeding it.
	for year := 1; year < len(sc.Biomass); year++ {
		assert.Greater(t, sc.Biomass[year], sc.Biomass[year-1])
		assert.LessOrEqual(t, sc.Biomass[year], 150.0)
	}
}

func TestSimulateProtectionBoostsRecovery(t *testing.T) {
	sim := NewSimulator(testRecoveryConfig(), testLogger())

	unprotected, err := sim.Simulate("open", 0, 100, 0)
	require.NoError(t, err)
	protected, err := sim.Simulate("closed", 30, 100, 0.5)
	require.NoError(t, err)

	// The boosted rate reaches every milestone sooner.
	assert.Greater(t, protected.Biomass[10], unprotected.Biomass[10])
	if protected.BreakevenYear >= 0 && unprotected.BreakevenYear >= 0 {
		assert.LessOrEqual(t, protected.BreakevenYear, unprotected.BreakevenYear)
	}
}

func TestSimulateBreakeven(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.GrowthRate = 0.5
	cfg.HorizonYears = 40
	sim := NewSimulator(cfg, testLogger())

	sc, err := sim.Simulate("fast", 0, 100, 0)
	require.NoError(t, err)

	require.GreaterOrEqual(t, sc.BreakevenYear, 1)
	target := 0.9 * 150.0
	assert.GreaterOrEqual(t, sc.Biomass[sc.BreakevenYear], target)
	assert.Less(t, sc.Biomass[sc.BreakevenYear-1], target)
}

func TestSimulateNeverReachesTarget(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.GrowthRate = 0.001
	cfg.HorizonYears = 5
	sim := NewSimulator(cfg, testLogger())

	sc, err := sim.Simulate("slow", 0, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, -1, sc.BreakevenYear)
}

func TestSimulateValidatesParameters(t *testing.T) {
	assertInvalid := func(t *testing.T, err error) {
		t.Helper()
		var perr *types.PipelineError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, types.ErrCodeInvalidCapacity, perr.Code)
	}

	t.Run("non-positive biomass", func(t *testing.T) {
		sim := NewSimulator(testRecoveryConfig(), testLogger())
		_, err := sim.Simulate("bad", 0, 0, 0)
		assertInvalid(t, err)
	})

	t.Run("effective rate out of range", func(t *testing.T) {
		cfg := testRecoveryConfig()
		cfg.GrowthRate = 0.8
		cfg.ProtectionBoost = 0.5
		sim := NewSimulator(cfg, testLogger())

		// 0.8 * (1 + 0.5) = 1.2 is outside the stable range.
		_, err := sim.Simulate("bad", 0, 100, 1)
		assertInvalid(t, err)
	})
}

func TestSimulateAllRunsIndependentScenarios(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.GrowthRate = 0.3
	sim := NewSimulator(cfg, testLogger())

	scenarios, err := sim.SimulateAll([]float64{10, 20, 30, 50}, 100,
		func(pct float64) float64 { return pct / 200 }, 200000)
	require.NoError(t, err)
	require.Len(t, scenarios, 4)

	assert.Equal(t, "expansion_10_percent", scenarios[0].Name)
	assert.Equal(t, "expansion_50_percent", scenarios[3].Name)

	// More protection, faster recovery.
	assert.GreaterOrEqual(t, scenarios[3].Biomass[10], scenarios[0].Biomass[10])
	for _, sc := range scenarios {
		require.NotNil(t, sc.Livelihood)
	}
}

// --- Livelihood model ---

func TestLivelihoodImpact(t *testing.T) {
	sim := NewSimulator(testRecoveryConfig(), testLogger())

	// 200k effort-hours supports 100 jobs. A 20% closure displaces
	// 100 * 0.2 * 0.6 = 12 jobs short term.
	t.Run("breakeven within spillover lag", func(t *testing.T) {
		impact := sim.LivelihoodImpact(20, 0.2, 200000, 5)

		assert.InDelta(t, 100, impact.CurrentJobs, 1e-9)
		assert.InDelta(t, 12, impact.JobsDisplaced, 1e-9)
		assert.InDelta(t, 15.6, impact.JobsFromSpillover, 1e-9)
		assert.InDelta(t, 3.6, impact.NetJobs, 1e-9)
		assert.InDelta(t, 108000, impact.EconomicValueUSD, 1e-6)
	})

	t.Run("no breakeven means no spillover", func(t *testing.T) {
		impact := sim.LivelihoodImpact(20, 0.2, 200000, -1)

		assert.Zero(t, impact.JobsFromSpillover)
		assert.InDelta(t, -12, impact.NetJobs, 1e-9)
		assert.Negative(t, impact.EconomicValueUSD)
	})

	t.Run("breakeven after spillover lag", func(t *testing.T) {
		impact := sim.LivelihoodImpact(20, 0.2, 200000, 12)
		assert.Zero(t, impact.JobsFromSpillover)
	})
}
