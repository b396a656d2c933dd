// advect.go implements passive particle transport through the discretized
// current field: bilinear interpolation of velocity in space, linear
// interpolation in time, forward integration at a fixed step, and the early
// termination rules (domain exit, sustained stagnation).
package connectivity

import (
	"math"
	"math/rand"
	"time"

	"medguard/internal/types"
)

// metersPerDegLat is the approximate meridional arc length of one degree.
const metersPerDegLat = 111000.0

// TrackPoint is one position sample along a trajectory.
type TrackPoint struct {
	Time time.Time
	Lat  float64
	Lon  float64
}

// Trajectory is the ordered position sequence of one simulated particle.
// It spans the full simulation horizon unless the particle exited the domain
// or stagnated, in which case it terminates early.
type Trajectory struct {
	Source types.CellID
	Points []TrackPoint

	// ExitedDomain is set when the particle left the grid before the
	// horizon ended.
	ExitedDomain bool

	// Stagnated is set when current speed stayed below the stagnation
	// threshold for the configured patience.
	Stagnated bool

	// HeldVelocitySteps counts integration steps where velocity was
	// undefined and the last valid velocity was held instead.
	HeldVelocitySteps int
}

// Terminal returns the trajectory's final position.
func (t *Trajectory) Terminal() TrackPoint {
	return t.Points[len(t.Points)-1]
}

// velocityField samples the u/v current layers at arbitrary positions and
// times. Spatial sampling is bilinear over cell centroids with missing
// corners dropped and weights renormalized; temporal sampling is linear
// between the two bracketing layer steps, held constant beyond the axis.
type velocityField struct {
	grid *types.SpatialGrid
	u, v *types.FieldLayer
}

// sample returns the interpolated (u, v) in m/s at the given position and
// absolute time. ok is false when no corner holds data for either component.
func (f *velocityField) sample(at time.Time, lat, lon float64) (u, v float64, ok bool) {
	i0, i1, frac := f.bracket(at)

	u0, okU0 := f.spatial(f.u.Values[i0], lat, lon)
	v0, okV0 := f.spatial(f.v.Values[i0], lat, lon)
	if !okU0 || !okV0 {
		return 0, 0, false
	}
	if i0 == i1 {
		return u0, v0, true
	}

	u1, okU1 := f.spatial(f.u.Values[i1], lat, lon)
	v1, okV1 := f.spatial(f.v.Values[i1], lat, lon)
	if !okU1 || !okV1 {
		return u0, v0, true
	}

	return u0 + (u1-u0)*frac, v0 + (v1-v0)*frac, true
}

// bracket finds the layer steps surrounding at, and the interpolation
// fraction between them.
func (f *velocityField) bracket(at time.Time) (i0, i1 int, frac float64) {
	steps := f.u.Steps
	if !at.After(steps[0]) {
		return 0, 0, 0
	}
	last := len(steps) - 1
	if !at.Before(steps[last]) {
		return last, last, 0
	}
	for i := 1; i <= last; i++ {
		if at.Before(steps[i]) {
			span := steps[i].Sub(steps[i-1])
			frac = float64(at.Sub(steps[i-1])) / float64(span)
			return i - 1, i, frac
		}
	}
	return last, last, 0
}

// spatial bilinearly interpolates one component field at a position.
func (f *velocityField) spatial(vals []float64, lat, lon float64) (float64, bool) {
	g := f.grid
	fracRow := (lat-g.LatMin)/g.CellSizeDeg - 0.5
	fracCol := (lon-g.LonMin)/g.CellSizeDeg - 0.5

	row0 := clamp(int(math.Floor(fracRow)), g.Rows)
	row1 := clamp(row0+1, g.Rows)
	col0 := clamp(int(math.Floor(fracCol)), g.Cols)
	col1 := clamp(col0+1, g.Cols)

	rowFrac := fracRow - math.Floor(fracRow)
	colFrac := fracCol - math.Floor(fracCol)
	if row0 == row1 {
		rowFrac = 0
	}
	if col0 == col1 {
		colFrac = 0
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
		v := vals[int(g.ID(c.row, c.col))]
		if types.IsMissing(v) || c.weight == 0 {
			continue
		}
		sum += v * c.weight
		wsum += c.weight
	}
	if wsum == 0 {
		return 0, false
	}
	return sum / wsum, true
}

func clamp(idx, max int) int {
	if idx < 0 {
		return 0
	}
	if idx >= max {
		return max - 1
	}
	return idx
}

// advectParams bundles the integration controls for one particle.
type advectParams struct {
	start              time.Time
	step               time.Duration
	numSteps           int
	stagnationSpeed    float64
	stagnationPatience int
	diffusionStd       float64
	rng                *rand.Rand // nil when diffusion is disabled
}

// advect integrates one particle forward from the given release position.
// Undefined velocity at a step holds the last valid velocity rather than
// aborting; a particle that never sees valid velocity drifts nowhere and
// terminates as stagnated.
func advect(f *velocityField, source types.CellID, lat, lon float64, p advectParams) *Trajectory {
	traj := &Trajectory{
		Source: source,
		Points: make([]TrackPoint, 0, p.numSteps+1),
	}
	traj.Points = append(traj.Points, TrackPoint{Time: p.start, Lat: lat, Lon: lon})

	var lastU, lastV float64
	haveVelocity := false
	slowSteps := 0

	dt := p.step.Seconds()
	now := p.start

	for i := 0; i < p.numSteps; i++ {
		u, v, ok := f.sample(now, lat, lon)
		if !ok {
			if !haveVelocity {
				// Never had a valid velocity; count as stagnant.
				slowSteps++
				if slowSteps >= p.stagnationPatience {
					traj.Stagnated = true
					return traj
				}
				now = now.Add(p.step)
				traj.Points = append(traj.Points, TrackPoint{Time: now, Lat: lat, Lon: lon})
				continue
			}
			u, v = lastU, lastV
			traj.HeldVelocitySteps++
		} else {
			lastU, lastV = u, v
			haveVelocity = true
		}

		if math.Hypot(u, v) < p.stagnationSpeed {
			slowSteps++
			if slowSteps >= p.stagnationPatience {
				traj.Stagnated = true
				return traj
			}
		} else {
			slowSteps = 0
		}

		lat += v * dt / metersPerDegLat
		lon += u * dt / (metersPerDegLat * math.Cos(lat*math.Pi/180))

		if p.diffusionStd > 0 && p.rng != nil {
			lat += p.rng.NormFloat64() * p.diffusionStd
			lon += p.rng.NormFloat64() * p.diffusionStd
		}

		now = now.Add(p.step)
		traj.Points = append(traj.Points, TrackPoint{Time: now, Lat: lat, Lon: lon})

		if _, inside := f.grid.CellAt(lat, lon); !inside {
			traj.ExitedDomain = true
			return traj
		}
	}

	return traj
}
