// Package grid implements the Grid & Geometry Adapter: it normalizes
// heterogeneous raster and vector inputs onto one common spatial-temporal
// reference grid, resolves missing cells, and exposes the result as an
// immutable Snapshot consumed by every downstream engine.
//
// Resampling policy: nearest-neighbor for categorical layers, bilinear for
// continuous physical fields. Cells with no source data within the acceptance
// radius receive the explicit missing marker, never a fabricated value.
package grid

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"medguard/internal/config"
	"medguard/internal/types"
)

// SourceRaster is a gridded numeric array as delivered by the data-acquisition
// collaborator: native resolution, one timestamp axis, declared units, and
// NaN as the explicit missing-value encoding.
type SourceRaster struct {
	Name  string
	Units string

	// Geometry of cell centroids, degrees; latitude ascending with row,
	// longitude ascending with column.
	LatMin, LonMin float64
	CellSizeDeg    float64
	Rows, Cols     int

	Steps  []time.Time
	Values [][]float64 // [step][row*Cols+col]

	Policy types.ResamplePolicy
}

// latMax returns the upper latitude edge of the raster's centroid lattice.
func (r *SourceRaster) latMax() float64 { return r.LatMin + float64(r.Rows)*r.CellSizeDeg }

// lonMax returns the upper longitude edge of the raster's centroid lattice.
func (r *SourceRaster) lonMax() float64 { return r.LonMin + float64(r.Cols)*r.CellSizeDeg }

// Snapshot is the fully materialized, immutable input set for one pipeline
// run: the reference grid, the resampled layers keyed by name, the protected
// boundary set, and any warnings recorded during adaptation.
type Snapshot struct {
	Grid       *types.SpatialGrid
	Layers     map[string]*types.FieldLayer
	Boundaries *BoundarySet
	Warnings   []types.Warning
}

// Layer returns the named layer and whether it is present.
func (s *Snapshot) Layer(name string) (*types.FieldLayer, bool) {
	l, ok := s.Layers[name]
	return l, ok
}

// Adapter builds Snapshots from heterogeneous source inputs.
type Adapter struct {
	cfg    config.GridConfig
	logger *slog.Logger
}

// NewAdapter creates an Adapter with the given grid configuration.
func NewAdapter(cfg config.GridConfig, logger *slog.Logger) *Adapter {
	return &Adapter{cfg: cfg, logger: logger}
}

// Build normalizes the given rasters and boundary set onto the configured
// reference grid. It fails with input_incompatible_domain when a raster's
// bounding box does not intersect the reference domain, and with
// input_insufficient_coverage when a layer's missing-cell fraction exceeds
// the configured ceiling after resampling.
func (a *Adapter) Build(rasters []SourceRaster, boundaries *BoundarySet) (*Snapshot, error) {
	grid := &types.SpatialGrid{
		Rows:        int(math.Round((a.cfg.LatMax - a.cfg.LatMin) / a.cfg.CellSizeDeg)),
		Cols:        int(math.Round((a.cfg.LonMax - a.cfg.LonMin) / a.cfg.CellSizeDeg)),
		LatMin:      a.cfg.LatMin,
		LatMax:      a.cfg.LatMax,
		LonMin:      a.cfg.LonMin,
		LonMax:      a.cfg.LonMax,
		CellSizeDeg: a.cfg.CellSizeDeg,
	}
	grid.Missing = make([]bool, grid.NumCells())

	snap := &Snapshot{
		Grid:       grid,
		Layers:     make(map[string]*types.FieldLayer, len(rasters)+1),
		Boundaries: boundaries,
	}

	refSteps := referenceSteps(rasters)

	for i := range rasters {
		src := &rasters[i]
		if len(src.Steps) == 0 || len(src.Values) != len(src.Steps) {
			return nil, types.NewErrorWithDetails(
				types.ErrCodeMalformedLayer,
				fmt.Sprintf("layer %q has an inconsistent time axis", src.Name),
				nil,
				map[string]any{
					"layer":  src.Name,
					"steps":  len(src.Steps),
					"values": len(src.Values),
				},
			)
		}
		if err := a.checkDomain(grid, src); err != nil {
			return nil, err
		}

		layer, missingFrac := a.resample(grid, src, refSteps)
		if missingFrac > a.cfg.MaxMissingFraction {
			return nil, types.NewErrorWithDetails(
				types.ErrCodeInsufficientCoverage,
				fmt.Sprintf("layer %q covers too little of the reference grid", src.Name),
				nil,
				map[string]any{
					"layer":            src.Name,
					"missing_fraction": missingFrac,
					"ceiling":          a.cfg.MaxMissingFraction,
				},
			)
		}
		snap.Layers[src.Name] = layer
		a.logger.Info("layer resampled",
			"layer", src.Name,
			"policy", string(src.Policy),
			"missing_fraction", missingFrac,
		)
	}

	// The shared missing mask marks cells absent from any continuous layer
	// at the first reference step, so every derived product agrees on
	// usable domain coverage.
	for name, layer := range snap.Layers {
		if name == types.LayerHabitatClass {
			continue
		}
		for cell, v := range layer.Values[0] {
			if types.IsMissing(v) {
				grid.Missing[cell] = true
			}
		}
	}

	a.deriveCurrentSpeed(snap, refSteps)

	return snap, nil
}

// checkDomain verifies the raster bounding box intersects the reference grid.
func (a *Adapter) checkDomain(grid *types.SpatialGrid, src *SourceRaster) error {
	if src.latMax() <= grid.LatMin || src.LatMin >= grid.LatMax ||
		src.lonMax() <= grid.LonMin || src.LonMin >= grid.LonMax {
		return types.NewErrorWithDetails(
			types.ErrCodeIncompatibleDomain,
			fmt.Sprintf("layer %q does not intersect the reference domain", src.Name),
			nil,
			map[string]any{
				"layer":       src.Name,
				"layer_lat":   [2]float64{src.LatMin, src.latMax()},
				"layer_lon":   [2]float64{src.LonMin, src.lonMax()},
				"domain_lat":  [2]float64{grid.LatMin, grid.LatMax},
				"domain_lon":  [2]float64{grid.LonMin, grid.LonMax},
			},
		)
	}
	return nil
}

// referenceSteps picks the shared time axis for the snapshot: the axis of
// the raster with the most steps. Other rasters are matched onto it by
// nearest timestamp during resampling.
func referenceSteps(rasters []SourceRaster) []time.Time {
	var ref []time.Time
	for i := range rasters {
		if len(rasters[i].Steps) > len(ref) {
			ref = rasters[i].Steps
		}
	}
	return ref
}

// resample interpolates one source raster onto the reference grid and time
// axis, returning the layer and its missing-cell fraction.
func (a *Adapter) resample(grid *types.SpatialGrid, src *SourceRaster, refSteps []time.Time) (*types.FieldLayer, float64) {
	layer := &types.FieldLayer{
		Name:   src.Name,
		Units:  src.Units,
		Steps:  refSteps,
		Values: make([][]float64, len(refSteps)),
	}

	var missing, total int
	for t, ts := range refSteps {
		srcStep := nearestStep(src.Steps, ts)
		vals := make([]float64, grid.NumCells())
		for cell := range vals {
			lat, lon := grid.Centroid(types.CellID(cell))
			var v float64
			if src.Policy == types.ResampleNearest {
				v = src.sampleNearest(srcStep, lat, lon, a.cfg.AcceptanceRadiusDeg)
			} else {
				v = src.sampleBilinear(srcStep, lat, lon, a.cfg.AcceptanceRadiusDeg)
			}
			vals[cell] = v
			if types.IsMissing(v) {
				missing++
			}
			total++
		}
		layer.Values[t] = vals
	}

	return layer, float64(missing) / float64(total)
}

// nearestStep returns the index of the source step closest to ts.
func nearestStep(steps []time.Time, ts time.Time) int {
	best, bestDiff := 0, time.Duration(math.MaxInt64)
	for i, s := range steps {
		d := ts.Sub(s)
		if d < 0 {
			d = -d
		}
		if d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}

// fractionalIndex maps a lat/lon to fractional row/col indices into the
// source lattice of cell centroids.
func (r *SourceRaster) fractionalIndex(lat, lon float64) (fracRow, fracCol float64) {
	fracRow = (lat-r.LatMin)/r.CellSizeDeg - 0.5
	fracCol = (lon-r.LonMin)/r.CellSizeDeg - 0.5
	return fracRow, fracCol
}

// sampleNearest returns the nearest source value, or the missing marker when
// the nearest centroid lies beyond the acceptance radius or holds no data.
func (r *SourceRaster) sampleNearest(step int, lat, lon, acceptDeg float64) float64 {
	fracRow, fracCol := r.fractionalIndex(lat, lon)
	row := clampIndex(int(math.Round(fracRow)), r.Rows)
	col := clampIndex(int(math.Round(fracCol)), r.Cols)

	cLat := r.LatMin + (float64(row)+0.5)*r.CellSizeDeg
	cLon := r.LonMin + (float64(col)+0.5)*r.CellSizeDeg
	if math.Abs(cLat-lat) > acceptDeg || math.Abs(cLon-lon) > acceptDeg {
		return types.MissingValue
	}
	return r.Values[step][row*r.Cols+col]
}

// sampleBilinear interpolates the four surrounding source centroids. Corners
// holding no data are dropped and the remaining weights renormalized; when
// every corner is empty or out of acceptance range the cell is missing.
func (r *SourceRaster) sampleBilinear(step int, lat, lon, acceptDeg float64) float64 {
	fracRow, fracCol := r.fractionalIndex(lat, lon)

	row0 := clampIndex(int(math.Floor(fracRow)), r.Rows)
	row1 := clampIndex(row0+1, r.Rows)
	col0 := clampIndex(int(math.Floor(fracCol)), r.Cols)
	col1 := clampIndex(col0+1, r.Cols)

	rowFrac := fracRow - math.Floor(fracRow)
	colFrac := fracCol - math.Floor(fracCol)
	if row0 == row1 {
		rowFrac = 0
	}
	if col0 == col1 {
		colFrac = 0
	}

	// Acceptance check against the nearest centroid.
	nLat := r.LatMin + (float64(clampIndex(int(math.Round(fracRow)), r.Rows))+0.5)*r.CellSizeDeg
	nLon := r.LonMin + (float64(clampIndex(int(math.Round(fracCol)), r.Cols))+0.5)*r.CellSizeDeg
	if math.Abs(nLat-lat) > acceptDeg || math.Abs(nLon-lon) > acceptDeg {
		return types.MissingValue
	}

	corners := [4]struct {
		row, col int
		weight   float64
	}{
		{row0, col0, (1 - rowFrac) * (1 - colFrac)},
		{row0, col1, (1 - rowFrac) * colFrac},
		{row1, col0, rowFrac * (1 - colFrac)},
		{row1, col1, rowFrac * colFrac},
	}

	var sum, wsum float64
	for _, c := range corners {
		v := r.Values[step][c.row*r.Cols+c.col]
		if types.IsMissing(v) || c.weight == 0 {
			continue
		}
		sum += v * c.weight
		wsum += c.weight
	}
	if wsum == 0 {
		return types.MissingValue
	}
	return sum / wsum
}

// clampIndex ensures a grid index is within valid bounds.
func clampIndex(idx, max int) int {
	if idx < 0 {
		return 0
	}
	if idx >= max {
		return max - 1
	}
	return idx
}

// deriveCurrentSpeed adds a current-speed magnitude layer when both velocity
// components are present.
func (a *Adapter) deriveCurrentSpeed(snap *Snapshot, refSteps []time.Time) {
	u, okU := snap.Layers[types.LayerCurrentU]
	v, okV := snap.Layers[types.LayerCurrentV]
	if !okU || !okV {
		return
	}

	speed := &types.FieldLayer{
		Name:   types.LayerCurrentSpeed,
		Units:  "m s-1",
		Steps:  refSteps,
		Values: make([][]float64, len(refSteps)),
	}
	for t := range refSteps {
		vals := make([]float64, snap.Grid.NumCells())
		for cell := range vals {
			uv, vv := u.Values[t][cell], v.Values[t][cell]
			if types.IsMissing(uv) || types.IsMissing(vv) {
				vals[cell] = types.MissingValue
				continue
			}
			vals[cell] = math.Hypot(uv, vv)
		}
		speed.Values[t] = vals
	}
	snap.Layers[types.LayerCurrentSpeed] = speed
}
