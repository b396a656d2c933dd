// normalize.go holds the factor-normalization primitives: global min-max
// scaling, rolling z-score anomalies, spatial gradients, and quantiles.
// Every factor is independently normalized over the active time window
// before weighting so weight semantics stay stable across datasets with
// different native units.
package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"medguard/internal/types"
)

// minMaxNormalize rescales all non-missing values across the whole series
// into [0,1] in place. A zero-variance series maps to all zeros.
func minMaxNormalize(series [][]float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, step := range series {
		for _, v := range step {
			if types.IsMissing(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) || hi == lo {
		for _, step := range series {
			for i, v := range step {
				if !types.IsMissing(v) {
					step[i] = 0
				}
			}
		}
		return
	}
	scale := 1 / (hi - lo)
	for _, step := range series {
		for i, v := range step {
			if types.IsMissing(v) {
				continue
			}
			step[i] = (v - lo) * scale
		}
	}
}

// rollingAnomaly computes the standardized anomaly of a layer:
// (current − rolling mean) / rolling stddev over a trailing window of the
// given length (0 = full available history). Cells with fewer than two
// valid history points, or zero variance, cannot be standardized; these are
// excluded (left missing) and counted so the caller can attach a warning.
func rollingAnomaly(layer *types.FieldLayer, window int) (anom [][]float64, excluded int) {
	steps := layer.NumSteps()
	anom = make([][]float64, steps)

	for t := 0; t < steps; t++ {
		start := 0
		if window > 0 && t+1 > window {
			start = t + 1 - window
		}
		out := make([]float64, len(layer.Values[t]))
		for cell := range out {
			cur := layer.Values[t][cell]
			if types.IsMissing(cur) {
				out[cell] = types.MissingValue
				continue
			}
			history := make([]float64, 0, t+1-start)
			for h := start; h <= t; h++ {
				if v := layer.Values[h][cell]; !types.IsMissing(v) {
					history = append(history, v)
				}
			}
			if len(history) < 2 {
				out[cell] = types.MissingValue
				excluded++
				continue
			}
			mean := stat.Mean(history, nil)
			sd := stat.StdDev(history, nil)
			if sd == 0 {
				out[cell] = types.MissingValue
				excluded++
				continue
			}
			out[cell] = (cur - mean) / sd
		}
		anom[t] = out
	}

	return anom, excluded
}

// gradientMagnitude computes the spatial gradient magnitude of a single
// time-step field by central differences, falling back to one-sided
// differences at edges and next to missing cells. Cells with no usable
// neighbor in either direction are missing.
func gradientMagnitude(g *types.SpatialGrid, vals []float64) []float64 {
	out := make([]float64, len(vals))
	for cell := range vals {
		if types.IsMissing(vals[cell]) {
			out[cell] = types.MissingValue
			continue
		}
		row, col := g.RowCol(types.CellID(cell))

		gx, okX := directionalDiff(g, vals, row, col, 0, 1)
		gy, okY := directionalDiff(g, vals, row, col, 1, 0)
		switch {
		case okX && okY:
			out[cell] = math.Hypot(gx, gy)
		case okX:
			out[cell] = math.Abs(gx)
		case okY:
			out[cell] = math.Abs(gy)
		default:
			out[cell] = types.MissingValue
		}
	}
	return out
}

// directionalDiff estimates the derivative at (row, col) along one axis,
// using central differences when both neighbors hold data.
func directionalDiff(g *types.SpatialGrid, vals []float64, row, col, dRow, dCol int) (float64, bool) {
	get := func(r, c int) (float64, bool) {
		if r < 0 || r >= g.Rows || c < 0 || c >= g.Cols {
			return 0, false
		}
		v := vals[int(g.ID(r, c))]
		return v, !types.IsMissing(v)
	}

	prev, okPrev := get(row-dRow, col-dCol)
	next, okNext := get(row+dRow, col+dCol)
	cur := vals[int(g.ID(row, col))]

	switch {
	case okPrev && okNext:
		return (next - prev) / (2 * g.CellSizeDeg), true
	case okNext:
		return (next - cur) / g.CellSizeDeg, true
	case okPrev:
		return (cur - prev) / g.CellSizeDeg, true
	default:
		return 0, false
	}
}

// quantile returns the q-th empirical quantile of the non-missing values.
func quantile(vals []float64, q float64) (float64, bool) {
	clean := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !types.IsMissing(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0, false
	}
	sort.Float64s(clean)
	return stat.Quantile(q, stat.Empirical, clean, nil), true
}
