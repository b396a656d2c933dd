package connectivity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medguard/internal/types"
)

func testField(rows, cols int, u, v [][]float64, steps []time.Time) *velocityField {
	g := &types.SpatialGrid{
		Rows: rows, Cols: cols,
		LatMin: 0, LatMax: float64(rows) * 0.25,
		LonMin: 0, LonMax: float64(cols) * 0.25,
		CellSizeDeg: 0.25,
		Missing:     make([]bool, rows*cols),
	}
	return &velocityField{
		grid: g,
		u:    &types.FieldLayer{Name: types.LayerCurrentU, Steps: steps, Values: u},
		v:    &types.FieldLayer{Name: types.LayerCurrentV, Steps: steps, Values: v},
	}
}

func twoSteps() []time.Time {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return []time.Time{t0, t0.Add(24 * time.Hour)}
}

func uniform(steps, cells int, val float64) [][]float64 {
	out := make([][]float64, steps)
	for t := range out {
		row := make([]float64, cells)
		for i := range row {
			row[i] = val
		}
		out[t] = row
	}
	return out
}

func TestSampleInterpolatesInTime(t *testing.T) {
	steps := twoSteps()
	u := [][]float64{{0, 0, 0, 0}, {1, 1, 1, 1}}
	f := testField(2, 2, u, uniform(2, 4, 0), steps)

	// Halfway between the two steps the component is halfway too.
	got, _, ok := f.sample(steps[0].Add(12*time.Hour), 0.25, 0.25)
	require.True(t, ok)
	assert.InDelta(t, 0.5, got, 1e-9)

	// Beyond the axis the boundary value holds.
	got, _, ok = f.sample(steps[1].Add(6*time.Hour), 0.25, 0.25)
	require.True(t, ok)
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestSampleDropsMissingCorners(t *testing.T) {
	steps := twoSteps()
	nan := types.MissingValue
	u := [][]float64{{2, nan, 4, nan}, {2, nan, 4, nan}}
	f := testField(2, 2, u, uniform(2, 4, 0), steps)

	// Center of the 2x2 grid: two valid corners with equal residual weight.
	got, _, ok := f.sample(steps[0], 0.25, 0.25)
	require.True(t, ok)
	assert.InDelta(t, 3, got, 1e-9)

	// All corners missing: sampling fails rather than fabricating zero.
	allNan := testField(2, 2, uniform(2, 4, nan), uniform(2, 4, nan), steps)
	_, _, ok = allNan.sample(steps[0], 0.25, 0.25)
	assert.False(t, ok)
}

func TestAdvectStagnation(t *testing.T) {
	steps := twoSteps()
	f := testField(2, 2, uniform(2, 4, 0.001), uniform(2, 4, 0), steps)

	traj := advect(f, 0, 0.125, 0.125, advectParams{
		start:              steps[0],
		step:               time.Hour,
		numSteps:           24,
		stagnationSpeed:    0.01,
		stagnationPatience: 5,
	})

	assert.True(t, traj.Stagnated)
	assert.False(t, traj.ExitedDomain)
	// Terminated at the patience limit, well before the horizon.
	assert.Less(t, len(traj.Points), 10)
}

func TestAdvectDomainExit(t *testing.T) {
	steps := twoSteps()
	f := testField(2, 2, uniform(2, 4, 5.0), uniform(2, 4, 0), steps)

	traj := advect(f, 0, 0.125, 0.125, advectParams{
		start:              steps[0],
		step:               time.Hour,
		numSteps:           24,
		stagnationSpeed:    0.01,
		stagnationPatience: 20,
	})

	assert.True(t, traj.ExitedDomain)
}

func TestAdvectHoldsLastVelocity(t *testing.T) {
	steps := twoSteps()
	nan := types.MissingValue

	// Valid velocity on the west column only; once the particle crosses
	// into the gap it keeps its last sampled velocity.
	u := [][]float64{{1.0, nan, 1.0, nan}, {1.0, nan, 1.0, nan}}
	f := testField(2, 2, u, uniform(2, 4, 0), steps)

	traj := advect(f, 0, 0.125, 0.05, advectParams{
		start:              steps[0],
		step:               time.Hour,
		numSteps:           12,
		stagnationSpeed:    0.01,
		stagnationPatience: 20,
	})

	assert.Positive(t, traj.HeldVelocitySteps)
	assert.False(t, traj.Stagnated)
}
