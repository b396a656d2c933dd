package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medguard/internal/config"
	"medguard/internal/grid"
	"medguard/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testPipelineConfig covers a 2x3 half-degree grid near the equator, sized
// so a full run finishes in milliseconds.
func testPipelineConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		LogLevel:    "error",
		Grid: config.GridConfig{
			LatMin:              0,
			LatMax:              1,
			LonMin:              0,
			LonMax:              1.5,
			CellSizeDeg:         0.5,
			AcceptanceRadiusDeg: 0.5,
			MaxMissingFraction:  0.5,
		},
		Risk: config.RiskConfig{
			WeightEnvironmentalStress: 0.3,
			WeightFishingPressure:     0.4,
			WeightFrontalZone:         0.3,
			FrontQuantile:             0.9,
		},
		Connectivity: config.ConnectivityConfig{
			HorizonDays:         1,
			StepDuration:        time.Hour,
			ParticlesPerSource:  4,
			StagnationSpeedMS:   0.01,
			StagnationPatience:  5,
			Seed:                42,
			SpawningTempMinC:    15,
			SpawningTempMaxC:    22,
			NurseryChlQuantile:  0.6,
			NurseryMaxCurrentMS: 0.1,
			Parallelism:         2,
		},
		Anomaly: config.AnomalyConfig{
			GapThreshold:        2 * time.Hour,
			EpsDegrees:          0.1,
			MinClusterSize:      5,
			HoursPerEps:         1,
			BoundaryProximityKm: 5.5,
		},
		Optimizer: config.OptimizerConfig{
			ExpansionPercents:   []float64{50, 120},
			CostPenalty:         1e-6,
			CentralityMaxIter:   100,
			CentralityTolerance: 1e-9,
		},
		Recovery: config.RecoveryConfig{
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
		},
	}
}

// testRaster builds a source raster aligned with the reference grid.
func testRaster(name string, steps []time.Time, perStep ...[]float64) grid.SourceRaster {
	return grid.SourceRaster{
		Name:        name,
		Units:       "test",
		LatMin:      0,
		LonMin:      0,
		CellSizeDeg: 0.5,
		Rows:        2,
		Cols:        3,
		Steps:       steps,
		Values:      perStep,
		Policy:      types.ResampleBilinear,
	}
}

func testRunSteps() []time.Time {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return []time.Time{t0, t0.Add(24 * time.Hour), t0.Add(48 * time.Hour)}
}

func uniformCells(v float64) []float64 {
	out := make([]float64, 6)
	for i := range out {
		out[i] = v
	}
	return out
}

// testInput assembles a complete run: spawning-range SST with a slow trend,
// spatially varied fishing effort, a weak eastward current, and a burst of
// gap events dense enough to cluster.
func testInput() Input {
	steps := testRunSteps()
	effort := []float64{5, 10, 20, 30, 40, 100}

	rasters := []grid.SourceRaster{
		testRaster(types.LayerSST, steps, uniformCells(18), uniformCells(18.2), uniformCells(18.4)),
		testRaster(types.LayerFishingEffort, steps, effort, effort, effort),
		testRaster(types.LayerCurrentU, steps, uniformCells(0.05), uniformCells(0.05), uniformCells(0.05)),
		testRaster(types.LayerCurrentV, steps, uniformCells(0), uniformCells(0), uniformCells(0)),
	}

	records := make([]types.ActivityRecord, 10)
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	for i := range records {
		records[i] = types.ActivityRecord{
			VesselID:    fmt.Sprintf("vessel-%02d", i),
			Timestamp:   start.Add(time.Duration(i) * 6 * time.Minute),
			Lat:         0.25 + float64(i)*0.002,
			Lon:         0.75,
			GapDuration: 3 * time.Hour,
		}
	}

	boundaries := grid.NewBoundarySet([]*grid.Boundary{{
		ID:          "mpa-1",
		Name:        "Test Reserve",
		Designation: "marine reserve",
		Polygon: geom.Polygon{{
			{X: 0, Y: 0},
			{X: 0.5, Y: 0},
			{X: 0.5, Y: 0.5},
			{X: 0, Y: 0.5},
			{X: 0, Y: 0},
		}},
	}})

	return Input{Rasters: rasters, Boundaries: boundaries, Records: records}
}

func TestRunEndToEnd(t *testing.T) {
	runner := NewRunner(testPipelineConfig(), testLogger())

	res, err := runner.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.StageErrors)

	// --- Risk ---
	require.NotNil(t, res.Risk)
	require.Len(t, res.Risk.Tiers, 3)
	require.Len(t, res.Risk.Tiers[0], 6)

	// --- Connectivity ---
	require.NotNil(t, res.Connectivity)
	// The whole domain sits in the spawning temperature band, and the weak
	// current keeps every particle in its source cell.
	assert.Len(t, res.Connectivity.Spawning, 6)
	for _, src := range res.Connectivity.Matrix.Sources() {
		assert.InDelta(t, 1.0, res.Connectivity.Matrix.RowSum(src), 1e-9)
	}

	// --- Anomaly ---
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, 10, res.Clusters[0].Size())

	// --- Scenarios ---
	require.Len(t, res.Scenarios, 2)

	// A 50% expansion of one protected cell cannot afford any whole cell.
	infeasible := res.Scenarios[0]
	assert.Equal(t, 50.0, infeasible.ExpansionPercent)
	require.Error(t, infeasible.Err)
	var perr *types.PipelineError
	require.ErrorAs(t, infeasible.Err, &perr)
	assert.Equal(t, types.ErrCodeInfeasibleBudget, perr.Code)
	assert.Nil(t, infeasible.Network)

	// The 120% budget covers exactly one new cell.
	feasible := res.Scenarios[1]
	assert.Equal(t, 120.0, feasible.ExpansionPercent)
	require.NoError(t, feasible.Err)
	require.NotNil(t, feasible.Network)
	assert.Len(t, feasible.Network.Sites, 1)
	assert.Positive(t, feasible.Network.TotalCost)
	require.NotNil(t, feasible.Recovery)
	assert.Len(t, feasible.Recovery.Biomass, 26)
	require.NotNil(t, feasible.Recovery.Livelihood)
}

func TestRunWithoutBoundaries(t *testing.T) {
	runner := NewRunner(testPipelineConfig(), testLogger())

	in := testInput()
	in.Boundaries = nil

	res, err := runner.Run(context.Background(), in)
	require.NoError(t, err)

	// No protected area means every expansion budget is zero: scenarios
	// still run, selecting nothing.
	require.Len(t, res.Scenarios, 2)
	for _, sc := range res.Scenarios {
		require.NoError(t, sc.Err)
		require.NotNil(t, sc.Network)
		assert.Empty(t, sc.Network.Sites)
		assert.Zero(t, sc.Network.TotalCost)
		require.NotNil(t, sc.Recovery)
	}
}

func TestRunIsolatesAnomalyFailure(t *testing.T) {
	runner := NewRunner(testPipelineConfig(), testLogger())

	in := testInput()
	in.Records = nil

	res, err := runner.Run(context.Background(), in)
	require.NoError(t, err)

	// The anomaly stage fails on an empty window without taking the run down.
	require.Contains(t, res.StageErrors, "anomaly")
	var perr *types.PipelineError
	require.ErrorAs(t, res.StageErrors["anomaly"], &perr)
	assert.Equal(t, types.ErrCodeEmptyActivityWindow, perr.Code)

	assert.Nil(t, res.Clusters)
	assert.NotNil(t, res.Risk)
	assert.NotNil(t, res.Connectivity)
	require.Len(t, res.Scenarios, 2)
}

func TestRunCanceledContext(t *testing.T) {
	runner := NewRunner(testPipelineConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, testInput())
	require.Error(t, err)

	var perr *types.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrCodeRunCanceled, perr.Code)
}
