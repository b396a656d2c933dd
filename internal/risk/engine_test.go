package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medguard/internal/config"
	"medguard/internal/grid"
	"medguard/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func defaultRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		WeightEnvironmentalStress: 0.3,
		WeightFishingPressure:     0.4,
		WeightFrontalZone:         0.3,
		FrontQuantile:             0.9,
	}
}

// testSnapshot builds a snapshot with the given layers on a rows x cols grid.
func testSnapshot(rows, cols int, steps []time.Time, layers map[string][][]float64) *grid.Snapshot {
	g := &types.SpatialGrid{
		Rows: rows, Cols: cols,
		LatMin: 40, LatMax: 40 + float64(rows)*0.5,
		LonMin: 5, LonMax: 5 + float64(cols)*0.5,
		CellSizeDeg: 0.5,
		Missing:     make([]bool, rows*cols),
	}
	snap := &grid.Snapshot{
		Grid:   g,
		Layers: make(map[string]*types.FieldLayer, len(layers)),
	}
	for name, values := range layers {
		snap.Layers[name] = &types.FieldLayer{Name: name, Steps: steps, Values: values}
	}
	return snap
}

func daySteps(n int) []time.Time {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(i) * 24 * time.Hour)
	}
	return out
}

func constantField(steps, cells int, v float64) [][]float64 {
	out := make([][]float64, steps)
	for t := range out {
		row := make([]float64, cells)
		for i := range row {
			row[i] = v
		}
		out[t] = row
	}
	return out
}

// --- Compute ---

func TestComputeRequiresFactors(t *testing.T) {
	engine := NewEngine(defaultRiskConfig(), testLogger())

	t.Run("missing sst", func(t *testing.T) {
		snap := testSnapshot(2, 2, daySteps(3), map[string][][]float64{
			types.LayerFishingEffort: constantField(3, 4, 10),
		})
		_, _, err := engine.Compute(snap)

		var perr *types.PipelineError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, types.ErrCodeMissingFactor, perr.Code)
		assert.Equal(t, types.LayerSST, perr.Details["layer"])
	})

	t.Run("missing effort", func(t *testing.T) {
		snap := testSnapshot(2, 2, daySteps(3), map[string][][]float64{
			types.LayerSST: constantField(3, 4, 18),
		})
		_, _, err := engine.Compute(snap)

		var perr *types.PipelineError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, types.ErrCodeMissingFactor, perr.Code)
	})
}

func TestComputeRejectsZeroWeights(t *testing.T) {
	cfg := config.RiskConfig{FrontQuantile: 0.9}
	engine := NewEngine(cfg, testLogger())

	snap := testSnapshot(2, 2, daySteps(3), map[string][][]float64{
		types.LayerSST:           constantField(3, 4, 18),
		types.LayerFishingEffort: constantField(3, 4, 10),
	})

	_, _, err := engine.Compute(snap)

	var perr *types.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrCodeInvalidWeights, perr.Code)
}

// One cell carries the extreme of every factor at the final step, so its
// combined risk reaches exactly 1.0 and the high tier.
func TestComputeMaxFactorsYieldUnitRisk(t *testing.T) {
	engine := NewEngine(defaultRiskConfig(), testLogger())

	steps := daySteps(4)
	const cells = 11 // 1x11 transect

	// SST: flat history, then a warm front at the final step peaking so the
	// spatial gradient is strictly largest at cell 5. A lone outlier over a
	// flat three-step history standardizes to exactly z = 1.5, so every
	// front cell shares the anomaly maximum; cell 1 gets a varied history
	// to anchor the anomaly minimum at 0.
	front := []float64{0, 0, 0, 1, 3, 7, 11, 13, 14, 14, 14}
	sst := make([][]float64, 4)
	for st := 0; st < 3; st++ {
		row := make([]float64, cells)
		for i := range row {
			row[i] = 18
		}
		sst[st] = row
	}
	sst[0][1], sst[1][1], sst[2][1] = 17, 19, 18
	last := make([]float64, cells)
	for i := range last {
		last[i] = 18 + front[i]
	}
	sst[3] = last

	// Effort: cell 5 fishes hardest at every step.
	effort := make([][]float64, 4)
	for st := range effort {
		row := make([]float64, cells)
		for i := range row {
			row[i] = 10
		}
		row[5] = 500
		effort[st] = row
	}

	snap := testSnapshot(1, cells, steps, map[string][][]float64{
		types.LayerSST:           sst,
		types.LayerFishingEffort: effort,
	})

	surface, _, err := engine.Compute(snap)
	require.NoError(t, err)
	require.Len(t, surface.Scalar, 4)

	assert.InDelta(t, 1.0, surface.Scalar[3][5], 1e-9)
	assert.Equal(t, types.TierHigh, surface.Tiers[3][5])

	// Every defined value stays inside [0,1].
	for _, step := range surface.Scalar {
		for _, v := range step {
			if types.IsMissing(v) {
				continue
			}
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestComputeMonotoneInFishingPressure(t *testing.T) {
	engine := NewEngine(defaultRiskConfig(), testLogger())
	steps := daySteps(3)

	// Uniform SST trend keeps the temperature-derived factors identical
	// across runs and cells; only the fishing-pressure factor moves.
	sst := [][]float64{
		constantField(1, 4, 18)[0],
		constantField(1, 4, 18.2)[0],
		constantField(1, 4, 18.4)[0],
	}
	effortAt := func(raised float64) [][]float64 {
		return [][]float64{
			{0, 100, 200, 500},
			{0, 100, 200, 500},
			{0, raised, 200, 500},
		}
	}

	compute := func(raised float64) *types.RiskSurface {
		snap := testSnapshot(1, 4, steps, map[string][][]float64{
			types.LayerSST:           sst,
			types.LayerFishingEffort: effortAt(raised),
		})
		surface, _, err := engine.Compute(snap)
		require.NoError(t, err)
		return surface
	}

	// Raising cell 1's effort below the shared maximum leaves every other
	// normalized value untouched.
	base := compute(100)
	raised := compute(300)

	last := len(steps) - 1
	assert.Greater(t, raised.Scalar[last][1], base.Scalar[last][1])
	for _, cell := range []int{0, 2, 3} {
		assert.InDelta(t, base.Scalar[last][cell], raised.Scalar[last][cell], 1e-12)
	}

	// The shared warming trend makes the anomaly factor exactly 1 at the
	// last step while the frontal factor stays 0, so the maximum-effort
	// cell carries the environmental plus fishing weights.
	assert.InDelta(t, 0.7, base.Scalar[last][3], 1e-9)
}

func TestComputeWarnsOnExcludedCells(t *testing.T) {
	engine := NewEngine(defaultRiskConfig(), testLogger())

	// Constant SST gives zero variance: anomaly standardization is
	// impossible everywhere, which must warn rather than fail.
	snap := testSnapshot(2, 2, daySteps(3), map[string][][]float64{
		types.LayerSST:           constantField(3, 4, 18),
		types.LayerFishingEffort: constantField(3, 4, 10),
	})

	surface, warnings, err := engine.Compute(snap)
	require.NoError(t, err)
	require.NotNil(t, surface)

	require.NotEmpty(t, warnings)
	assert.Equal(t, "risk", warnings[0].Component)
}

func TestComputeSkipsMaskedCells(t *testing.T) {
	engine := NewEngine(defaultRiskConfig(), testLogger())

	snap := testSnapshot(2, 2, daySteps(3), map[string][][]float64{
		types.LayerSST:           constantField(3, 4, 18),
		types.LayerFishingEffort: constantField(3, 4, 10),
	})
	snap.Grid.Missing[2] = true

	surface, _, err := engine.Compute(snap)
	require.NoError(t, err)

	for _, step := range surface.Scalar {
		assert.True(t, types.IsMissing(step[2]))
	}
}

// --- Normalization primitives ---

func TestMinMaxNormalize(t *testing.T) {
	series := [][]float64{{2, 4, types.MissingValue}, {6, 2, 4}}
	minMaxNormalize(series)

	assert.InDelta(t, 0, series[0][0], 1e-9)
	assert.InDelta(t, 0.5, series[0][1], 1e-9)
	assert.True(t, types.IsMissing(series[0][2]))
	assert.InDelta(t, 1, series[1][0], 1e-9)

	t.Run("zero variance maps to zeros", func(t *testing.T) {
		flat := [][]float64{{3, 3}, {3, 3}}
		minMaxNormalize(flat)
		assert.Equal(t, [][]float64{{0, 0}, {0, 0}}, flat)
	})
}

func TestRollingAnomaly(t *testing.T) {
	layer := &types.FieldLayer{
		Name:   types.LayerSST,
		Values: [][]float64{{10}, {12}, {20}},
	}

	anom, excluded := rollingAnomaly(layer, 0)
	require.Len(t, anom, 3)

	// First step has a single history point: excluded.
	assert.True(t, types.IsMissing(anom[0][0]))
	assert.Positive(t, excluded)

	// Third step: mean 14, sd(10,12,20) -> anomaly is positive.
	assert.Positive(t, anom[2][0])
}

func TestGradientMagnitude(t *testing.T) {
	g := &types.SpatialGrid{
		Rows: 1, Cols: 3,
		LatMin: 40, LatMax: 40.5,
		LonMin: 5, LonMax: 6.5,
		CellSizeDeg: 0.5,
		Missing:     make([]bool, 3),
	}

	// Linear eastward ramp of 2 per cell: gradient 4 per degree everywhere.
	grad := gradientMagnitude(g, []float64{0, 2, 4})
	for _, v := range grad {
		assert.InDelta(t, 4, v, 1e-9)
	}
}

// --- Habitat quality ---

func TestHabitatQuality(t *testing.T) {
	steps := daySteps(2)

	t.Run("ideal conditions score near one", func(t *testing.T) {
		snap := testSnapshot(1, 2, steps, map[string][][]float64{
			types.LayerSST: constantField(2, 2, 18.5),
		})
		quality, warnings, err := HabitatQuality(snap)
		require.NoError(t, err)

		// Without chlorophyll the productivity component is skipped with a
		// warning; temperature and stability are both ideal.
		require.NotEmpty(t, warnings)
		assert.InDelta(t, 1.0, quality[0], 1e-9)
	})

	t.Run("out-of-band temperature scores zero suitability", func(t *testing.T) {
		snap := testSnapshot(1, 2, steps, map[string][][]float64{
			types.LayerSST: constantField(2, 2, 28),
		})
		quality, _, err := HabitatQuality(snap)
		require.NoError(t, err)
		assert.Less(t, quality[0], 0.6)
	})

	t.Run("requires sst", func(t *testing.T) {
		snap := testSnapshot(1, 2, steps, map[string][][]float64{})
		_, _, err := HabitatQuality(snap)

		var perr *types.PipelineError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, types.ErrCodeMissingFactor, perr.Code)
	})
}
