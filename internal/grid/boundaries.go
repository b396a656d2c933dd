// boundaries.go loads protected-area boundary polygons from shapefiles,
// reprojects them onto the geographic reference system of the grid, and
// indexes them in an R-tree for nearest-boundary proximity queries.
package grid

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"

	"medguard/internal/types"
)

// gridProj is the geographic reference system every boundary is transformed
// into before indexing.
const gridProj = "+proj=longlat"

// Boundary is one protected area: a closed polygon with a unique identifier
// and designation attribute.
type Boundary struct {
	ID          string
	Name        string
	Designation string
	Polygon     geom.Polygon
}

// *Boundary satisfies geom.Geom by delegating to its polygon, so boundaries
// index directly into the R-tree and queries hand back the full record.
func (b *Boundary) Bounds() *geom.Bounds { return b.Polygon.Bounds() }

// Len returns the total number of points in the boundary polygon.
func (b *Boundary) Len() int { return b.Polygon.Len() }

// Points returns an iterator over the boundary polygon's points.
func (b *Boundary) Points() func() geom.Point { return b.Polygon.Points() }

// Similar reports whether the boundary polygon is similar to g within tol.
func (b *Boundary) Similar(g geom.Geom, tol float64) bool {
	return b.Polygon.Similar(g, tol)
}

// Transform applies t to the boundary polygon.
func (b *Boundary) Transform(t proj.Transformer) (geom.Geom, error) {
	return b.Polygon.Transform(t)
}

// BoundarySet holds the protected-area polygons and their spatial index.
type BoundarySet struct {
	boundaries []*Boundary
	index      *rtree.Rtree
}

// NewBoundarySet builds a set (and its index) from in-memory boundaries.
func NewBoundarySet(boundaries []*Boundary) *BoundarySet {
	tree := rtree.NewTree(25, 50)
	for _, b := range boundaries {
		tree.Insert(b)
	}
	return &BoundarySet{boundaries: boundaries, index: tree}
}

// LoadBoundaries reads protected-area polygons from a shapefile, transforming
// them into geographic coordinates. The id, name, and designation attribute
// columns are read from the attribute table.
func LoadBoundaries(path, idCol, nameCol, desigCol string) (*BoundarySet, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeMalformedBoundary,
			"failed to open boundary shapefile",
			err,
			map[string]any{"path": path},
		)
	}
	defer dec.Close()

	srcSR, err := dec.SR()
	if err != nil {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeMalformedBoundary,
			"failed to read boundary spatial reference",
			err,
			map[string]any{"path": path},
		)
	}
	dstSR, err := proj.Parse(gridProj)
	if err != nil {
		return nil, types.NewError(types.ErrCodeInternalUnexpected, "failed to parse grid projection", err)
	}
	trans, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeMalformedBoundary,
			"failed to build boundary reprojection",
			err,
			map[string]any{"path": path},
		)
	}

	var boundaries []*Boundary
	for {
		g, fields, more := dec.DecodeRowFields(idCol, nameCol, desigCol)
		if !more {
			break
		}
		gg, err := g.Transform(trans)
		if err != nil {
			return nil, types.NewErrorWithDetails(
				types.ErrCodeMalformedBoundary,
				"failed to reproject boundary geometry",
				err,
				map[string]any{"path": path, "id": fields[idCol]},
			)
		}
		poly, ok := polygonOf(gg)
		if !ok {
			return nil, types.NewErrorWithDetails(
				types.ErrCodeMalformedBoundary,
				fmt.Sprintf("boundary %q is not polygonal", fields[idCol]),
				nil,
				map[string]any{"path": path, "id": fields[idCol]},
			)
		}
		boundaries = append(boundaries, &Boundary{
			ID:          fields[idCol],
			Name:        fields[nameCol],
			Designation: fields[desigCol],
			Polygon:     poly,
		})
	}
	if err := dec.Error(); err != nil {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeMalformedBoundary,
			"error while decoding boundary shapefile",
			err,
			map[string]any{"path": path},
		)
	}

	return NewBoundarySet(boundaries), nil
}

// polygonOf extracts a single polygon from a decoded geometry.
func polygonOf(g geom.Geom) (geom.Polygon, bool) {
	switch t := g.(type) {
	case geom.Polygon:
		return t, true
	case *geom.Polygon:
		return *t, true
	case geom.Polygonal:
		polys := t.Polygons()
		if len(polys) == 0 {
			return nil, false
		}
		// Flatten a multi-polygon into one polygon of all rings.
		var out geom.Polygon
		for _, p := range polys {
			out = append(out, p...)
		}
		return out, true
	default:
		return nil, false
	}
}

// Count returns the number of protected areas in the set.
func (s *BoundarySet) Count() int {
	if s == nil {
		return 0
	}
	return len(s.boundaries)
}

// Contains reports whether the point lies inside any protected area.
func (s *BoundarySet) Contains(lat, lon float64) bool {
	if s == nil {
		return false
	}
	pt := geom.Point{X: lon, Y: lat}
	hits := s.index.SearchIntersect(&geom.Bounds{Min: pt, Max: pt})
	for _, h := range hits {
		if pointInPolygon(lon, lat, h.(*Boundary).Polygon) {
			return true
		}
	}
	return false
}

// NearestDistanceKm returns the distance from the point to the nearest
// protected boundary edge and the boundary's identifier. It searches the
// index in expanding rings up to maxKm; when nothing is found within maxKm
// it returns (math.Inf(1), ""). Points inside a polygon report the distance
// to that polygon's edge, not zero.
func (s *BoundarySet) NearestDistanceKm(lat, lon, maxKm float64) (float64, string) {
	if s == nil || len(s.boundaries) == 0 {
		return math.Inf(1), ""
	}

	// Degrees of latitude per km; the longitude span widens toward the
	// poles so candidate search stays conservative.
	latDelta := maxKm / 111.0
	lonDelta := latDelta / math.Max(0.1, math.Cos(lat*math.Pi/180))

	box := &geom.Bounds{
		Min: geom.Point{X: lon - lonDelta, Y: lat - latDelta},
		Max: geom.Point{X: lon + lonDelta, Y: lat + latDelta},
	}

	best := math.Inf(1)
	bestID := ""
	for _, h := range s.index.SearchIntersect(box) {
		b := h.(*Boundary)
		d := distanceToPolygonKm(lat, lon, b.Polygon)
		if d < best {
			best, bestID = d, b.ID
		}
	}
	if best > maxKm {
		return math.Inf(1), ""
	}
	return best, bestID
}

// CoverageFraction returns the fraction of non-missing grid cells whose
// centroid falls inside a protected area.
func (s *BoundarySet) CoverageFraction(g *types.SpatialGrid) float64 {
	if s == nil || g == nil {
		return 0
	}
	var inside, total int
	for cell := 0; cell < g.NumCells(); cell++ {
		if g.Missing[cell] {
			continue
		}
		total++
		lat, lon := g.Centroid(types.CellID(cell))
		if s.Contains(lat, lon) {
			inside++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(inside) / float64(total)
}

// pointInPolygon runs the even-odd ray-casting rule over all rings.
func pointInPolygon(x, y float64, poly geom.Polygon) bool {
	inside := false
	for _, ring := range poly {
		n := len(ring)
		if n < 3 {
			continue
		}
		j := n - 1
		for i := 0; i < n; i++ {
			xi, yi := ring[i].X, ring[i].Y
			xj, yj := ring[j].X, ring[j].Y
			if (yi > y) != (yj > y) &&
				x < (xj-xi)*(y-yi)/(yj-yi)+xi {
				inside = !inside
			}
			j = i
		}
	}
	return inside
}

// distanceToPolygonKm computes the minimum great-circle-approximate distance
// from a point to any edge of the polygon, using a local equirectangular
// projection about the query latitude.
func distanceToPolygonKm(lat, lon float64, poly geom.Polygon) float64 {
	const kmPerDegLat = 111.0
	kmPerDegLon := kmPerDegLat * math.Cos(lat*math.Pi/180)

	best := math.Inf(1)
	for _, ring := range poly {
		n := len(ring)
		for i := 0; i < n; i++ {
			a, b := ring[i], ring[(i+1)%n]
			d := pointSegmentDistance(
				lon*kmPerDegLon, lat*kmPerDegLat,
				a.X*kmPerDegLon, a.Y*kmPerDegLat,
				b.X*kmPerDegLon, b.Y*kmPerDegLat,
			)
			if d < best {
				best = d
			}
		}
	}
	return best
}

// pointSegmentDistance is the planar distance from (px,py) to segment
// (ax,ay)-(bx,by).
func pointSegmentDistance(px, py, ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}
