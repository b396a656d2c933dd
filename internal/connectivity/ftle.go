package connectivity

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"medguard/internal/grid"
	"medguard/internal/types"
)

// stretchingRate computes the instantaneous strain-rate magnitude of the
// time-mean current field per cell,
//
//	sqrt((du/dx)^2 + (dv/dy)^2 + 0.5*(du/dy + dv/dx)^2)
//
// in 1/s. High values flag flow structures that stretch nearby particles
// apart, acting as dispersal barriers between spawning and nursery regions.
// Cells where the gradient is undefined hold the missing marker.
func (e *Engine) stretchingRate(snap *grid.Snapshot, u, v *types.FieldLayer) []float64 {
	g := snap.Grid
	uMean := temporalMean(u)
	vMean := temporalMean(v)

	out := make([]float64, g.NumCells())
	for cell := range out {
		out[cell] = types.MissingValue
	}

	dyMeters := g.CellSizeDeg * metersPerDegLat

	for row := 0; row < g.Rows; row++ {
		lat := g.LatMin + (float64(row)+0.5)*g.CellSizeDeg
		dxMeters := g.CellSizeDeg * metersPerDegLat * math.Cos(lat*math.Pi/180)
		for col := 0; col < g.Cols; col++ {
			cell := row*g.Cols + col
			if g.Missing[cell] || types.IsMissing(uMean[cell]) || types.IsMissing(vMean[cell]) {
				continue
			}

			dudx, ok1 := zonalDeriv(g, uMean, row, col, dxMeters)
			dvdx, ok2 := zonalDeriv(g, vMean, row, col, dxMeters)
			dudy, ok3 := meridionalDeriv(g, uMean, row, col, dyMeters)
			dvdy, ok4 := meridionalDeriv(g, vMean, row, col, dyMeters)
			if !ok1 || !ok2 || !ok3 || !ok4 {
				continue
			}

			shear := dudy + dvdx
			out[cell] = math.Sqrt(dudx*dudx + dvdy*dvdy + 0.5*shear*shear)
		}
	}
	return out
}

// zonalDeriv estimates d(field)/dx at (row, col) with central differences,
// falling back to one-sided differences where a neighbor is missing or off
// the grid. Returns false when no valid neighbor exists on either side.
func zonalDeriv(g *types.SpatialGrid, field []float64, row, col int, dxMeters float64) (float64, bool) {
	center := field[row*g.Cols+col]
	left, okL := neighborValue(g, field, row, col-1)
	right, okR := neighborValue(g, field, row, col+1)
	switch {
	case okL && okR:
		return (right - left) / (2 * dxMeters), true
	case okR:
		return (right - center) / dxMeters, true
	case okL:
		return (center - left) / dxMeters, true
	default:
		return 0, false
	}
}

func meridionalDeriv(g *types.SpatialGrid, field []float64, row, col int, dyMeters float64) (float64, bool) {
	center := field[row*g.Cols+col]
	south, okS := neighborValue(g, field, row-1, col)
	north, okN := neighborValue(g, field, row+1, col)
	switch {
	case okS && okN:
		return (north - south) / (2 * dyMeters), true
	case okN:
		return (north - center) / dyMeters, true
	case okS:
		return (center - south) / dyMeters, true
	default:
		return 0, false
	}
}

func neighborValue(g *types.SpatialGrid, field []float64, row, col int) (float64, bool) {
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return 0, false
	}
	cell := row*g.Cols + col
	if g.Missing[cell] {
		return 0, false
	}
	v := field[cell]
	if types.IsMissing(v) {
		return 0, false
	}
	return v, true
}

// quantileOf computes the empirical q-quantile over the non-missing values
// of a field. Returns false when no valid values exist.
func quantileOf(field []float64, q float64) (float64, bool) {
	valid := make([]float64, 0, len(field))
	for _, v := range field {
		if !types.IsMissing(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return 0, false
	}
	sort.Float64s(valid)
	return stat.Quantile(q, stat.Empirical, valid, nil), true
}
