// Package types defines the shared domain model for the MedGuard pipeline:
// the spatial reference grid, field layers sampled on it, vessel activity
// records, candidate protection sites, and the error and warning types used
// across every stage.
//
// All types here are value-oriented snapshots. A SpatialGrid and its layers
// are created once by the grid adapter and treated as immutable by every
// downstream engine; engines return new values rather than mutating inputs.
package types

import (
	"math"
	"time"
)

// MissingValue marks a grid cell with no usable source data. Engines must
// check IsMissing rather than comparing against NaN directly.
var MissingValue = math.NaN()

// IsMissing reports whether a cell value is the explicit missing marker.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// CellID is a stable integer identifier for a grid cell, row-major:
// id = row*Cols + col.
type CellID int

// SpatialGrid is the common spatial reference lattice shared by all derived
// layers. It is created once by the grid adapter and never modified after.
type SpatialGrid struct {
	Rows, Cols int

	// Bounding box of cell centroids, degrees.
	LatMin, LatMax float64
	LonMin, LonMax float64

	// Cell spacing in degrees. Latitude is ascending with row index,
	// longitude ascending with column index.
	CellSizeDeg float64

	// Missing marks cells that received no source data within the
	// acceptance radius in any required layer. Shared by every derived
	// layer so all engines agree on domain coverage.
	Missing []bool
}

// NumCells returns the total cell count of the grid.
func (g *SpatialGrid) NumCells() int {
	return g.Rows * g.Cols
}

// ID returns the cell ID for a (row, col) pair.
func (g *SpatialGrid) ID(row, col int) CellID {
	return CellID(row*g.Cols + col)
}

// RowCol returns the (row, col) pair for a cell ID.
func (g *SpatialGrid) RowCol(id CellID) (row, col int) {
	return int(id) / g.Cols, int(id) % g.Cols
}

// Centroid returns the latitude/longitude of a cell's center.
func (g *SpatialGrid) Centroid(id CellID) (lat, lon float64) {
	row, col := g.RowCol(id)
	lat = g.LatMin + (float64(row)+0.5)*g.CellSizeDeg
	lon = g.LonMin + (float64(col)+0.5)*g.CellSizeDeg
	return lat, lon
}

// CellAt returns the cell containing the given position, and whether the
// position falls inside the grid domain.
func (g *SpatialGrid) CellAt(lat, lon float64) (CellID, bool) {
	if lat < g.LatMin || lat >= g.LatMax || lon < g.LonMin || lon >= g.LonMax {
		return 0, false
	}
	row := int((lat - g.LatMin) / g.CellSizeDeg)
	col := int((lon - g.LonMin) / g.CellSizeDeg)
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return 0, false
	}
	return g.ID(row, col), true
}

// Well-known layer names. The adapter produces layers under these names and
// engines look them up by name; a required layer absent from a snapshot is an
// input-integrity failure, never silently defaulted.
const (
	LayerSST           = "sst"
	LayerCurrentU      = "current_u"
	LayerCurrentV      = "current_v"
	LayerCurrentSpeed  = "current_speed"
	LayerChlorophyll   = "chlorophyll"
	LayerFishingEffort = "fishing_effort"
	LayerDepth         = "depth"
	LayerHabitatClass  = "habitat_class"
)

// ResamplePolicy selects how a source layer is interpolated onto the
// reference grid.
type ResamplePolicy string

const (
	// ResampleBilinear is used for continuous physical fields.
	ResampleBilinear ResamplePolicy = "bilinear"
	// ResampleNearest is used for categorical layers such as habitat class.
	ResampleNearest ResamplePolicy = "nearest"
)

// FieldLayer is a named scalar quantity sampled on the reference grid at a
// sequence of strictly increasing time steps. Values[t][cell] is NaN where
// the cell has no data at that step. Layers are owned by the adapter and
// consumed read-only by engines.
type FieldLayer struct {
	Name  string
	Units string

	// Steps are the shared time axis, strictly increasing.
	Steps []time.Time

	// Values holds one slice per time step, each of length grid.NumCells().
	Values [][]float64
}

// NumSteps returns the number of time steps in the layer. Values is the
// canonical axis; every accessor indexes it.
func (l *FieldLayer) NumSteps() int {
	return len(l.Values)
}

// At returns the value for a cell at a time step.
func (l *FieldLayer) At(step int, cell CellID) float64 {
	return l.Values[step][cell]
}

// Latest returns the values at the most recent time step.
func (l *FieldLayer) Latest() []float64 {
	return l.Values[len(l.Values)-1]
}

// RiskTier is the discrete classification of a risk scalar.
type RiskTier string

const (
	TierLow    RiskTier = "low"
	TierMedium RiskTier = "medium"
	TierHigh   RiskTier = "high"
)

// Fixed tier thresholds. A scalar exactly at a threshold falls into the
// lower-risk tier.
const (
	TierThresholdMedium = 0.3
	TierThresholdHigh   = 0.6
)

// TierFor classifies a risk scalar under the fixed thresholds.
func TierFor(v float64) RiskTier {
	switch {
	case v <= TierThresholdMedium:
		return TierLow
	case v <= TierThresholdHigh:
		return TierMedium
	default:
		return TierHigh
	}
}

// RiskSurface is the per-cell, per-time overfishing risk output. Scalar
// values are in [0,1]; cells excluded for insufficient history carry the
// missing marker and no tier.
type RiskSurface struct {
	Steps  []time.Time
	Scalar [][]float64
	Tiers  [][]RiskTier
}

// ActivityRecord is one vessel-observation event. GapDuration is the length
// of the reporting gap that preceded this observation; zero means
// transmissions were continuous.
type ActivityRecord struct {
	VesselID    string
	Timestamp   time.Time
	Lat, Lon    float64
	GapDuration time.Duration
}

// CandidateSite is one location under consideration for new protection.
type CandidateSite struct {
	Cell           CellID
	Lat, Lon       float64
	HabitatQuality float64
	Centrality     float64
	// Cost is the economic cost of protecting this site, in the same units
	// as the expansion budget (km² of area or a monetary proxy).
	Cost float64
}

// Warning records a locally recovered numerical degeneracy: a condition that
// affects only a subset of the spatial domain and is handled in place
// (hold-last-value, exclude-from-average) rather than raised as a failure.
type Warning struct {
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// HaversineKm returns the great-circle distance in kilometers between two
// latitude/longitude points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
