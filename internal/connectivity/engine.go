// Package connectivity implements the Connectivity Engine: it approximates
// larval dispersal by releasing passive particles from spawning cells,
// advecting them through the current field, and recording settlement in
// nursery cells as a source→destination transport-probability matrix. It
// also derives a finite-time stretching-rate field marking dispersal
// barriers and corridors, exposed as an auxiliary layer.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"medguard/internal/config"
	"medguard/internal/grid"
	"medguard/internal/types"
)

// Edge is one sparse entry of the connectivity matrix.
type Edge struct {
	Source types.CellID `json:"source"`
	Dest   types.CellID `json:"dest"`
	Weight float64      `json:"weight"`
}

// Matrix maps (source, destination) cell pairs to transport-probability
// weights. Weights from a single source sum to at most 1; the remainder is
// mass lost outside the domain or to non-nursery termination.
type Matrix struct {
	weights map[types.CellID]map[types.CellID]float64
}

// NewMatrix returns an empty connectivity matrix.
func NewMatrix() *Matrix {
	return &Matrix{weights: make(map[types.CellID]map[types.CellID]float64)}
}

// Add accumulates weight on the (src, dst) edge.
func (m *Matrix) Add(src, dst types.CellID, w float64) {
	row, ok := m.weights[src]
	if !ok {
		row = make(map[types.CellID]float64)
		m.weights[src] = row
	}
	row[dst] += w
}

// Weight returns the transport probability from src to dst.
func (m *Matrix) Weight(src, dst types.CellID) float64 {
	return m.weights[src][dst]
}

// RowSum returns the total settled mass released from src.
func (m *Matrix) RowSum(src types.CellID) float64 {
	var sum float64
	for _, w := range m.weights[src] {
		sum += w
	}
	return sum
}

// Sources returns the source cells with at least one edge, ascending.
func (m *Matrix) Sources() []types.CellID {
	out := make([]types.CellID, 0, len(m.weights))
	for src := range m.weights {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Edges returns the sparse edge list sorted by (source, dest) for
// deterministic export.
func (m *Matrix) Edges() []Edge {
	var out []Edge
	for src, row := range m.weights {
		for dst, w := range row {
			out = append(out, Edge{Source: src, Dest: dst, Weight: w})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Dest < out[j].Dest
	})
	return out
}

// Result is the full connectivity output for one run.
type Result struct {
	Matrix   *Matrix
	Spawning []types.CellID
	Nursery  []types.CellID

	// FTLE is the finite-time stretching-rate field: high values mark
	// dispersal barriers. Auxiliary output, not part of the matrix.
	FTLE []float64

	Warnings []types.Warning
}

// Engine simulates larval transport over adapter snapshots.
type Engine struct {
	cfg    config.ConnectivityConfig
	logger *slog.Logger
}

// NewEngine creates a connectivity engine with the given configuration.
func NewEngine(cfg config.ConnectivityConfig, logger *slog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Compute derives spawning and nursery cells from the snapshot's habitat
// layers and simulates transport between them. It fails with
// input_no_velocity_data when the current field is absent or empty, and
// with run_canceled when the context is canceled mid-simulation; a canceled
// run never returns partial results.
func (e *Engine) Compute(ctx context.Context, snap *grid.Snapshot) (*Result, error) {
	spawning, nursery, warnings, err := e.deriveSites(snap)
	if err != nil {
		return nil, err
	}
	res, err := e.ComputeWithSites(ctx, snap, spawning, nursery)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(warnings, res.Warnings...)
	return res, nil
}

// ComputeWithSites simulates transport between explicit spawning and nursery
// cell sets. Exposed separately so callers with externally designated sites
// (or tests) can bypass habitat-based derivation.
func (e *Engine) ComputeWithSites(ctx context.Context, snap *grid.Snapshot, spawning, nursery []types.CellID) (*Result, error) {
	u, okU := snap.Layer(types.LayerCurrentU)
	v, okV := snap.Layer(types.LayerCurrentV)
	if !okU || !okV || u.NumSteps() == 0 || v.NumSteps() == 0 {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeNoVelocityData,
			"current-velocity field has no coverage for the requested window",
			nil,
			map[string]any{
				"u_present": okU,
				"v_present": okV,
			},
		)
	}

	field := &velocityField{grid: snap.Grid, u: u, v: v}

	nurserySet := make(map[types.CellID]struct{}, len(nursery))
	for _, c := range nursery {
		nurserySet[c] = struct{}{}
	}

	horizon := time.Duration(e.cfg.HorizonDays) * 24 * time.Hour
	numSteps := int(horizon / e.cfg.StepDuration)
	if numSteps <= 0 {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeInvalidHorizon,
			"simulation horizon shorter than one integration step",
			nil,
			map[string]any{"horizon_days": e.cfg.HorizonDays, "step": e.cfg.StepDuration.String()},
		)
	}

	parallelism := e.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	matrix := NewMatrix()
	var mu sync.Mutex
	var heldSteps, exited, stagnated int

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	perParticle := 1.0 / float64(e.cfg.ParticlesPerSource)
	start := u.Steps[0]

	for srcIdx, src := range spawning {
		srcIdx, src := srcIdx, src
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			lat, lon := snap.Grid.Centroid(src)

			var localHeld, localExited, localStagnated int
			for p := 0; p < e.cfg.ParticlesPerSource; p++ {
				// Per-particle RNG keyed by source and particle index so
				// results are independent of goroutine scheduling.
				var rng *rand.Rand
				if e.cfg.DiffusionStdDegrees > 0 {
					rng = rand.New(rand.NewSource(e.cfg.Seed + int64(srcIdx)*1_000_003 + int64(p)))
				}

				traj := advect(field, src, lat, lon, advectParams{
					start:              start,
					step:               e.cfg.StepDuration,
					numSteps:           numSteps,
					stagnationSpeed:    e.cfg.StagnationSpeedMS,
					stagnationPatience: e.cfg.StagnationPatience,
					diffusionStd:       e.cfg.DiffusionStdDegrees,
					rng:                rng,
				})

				localHeld += traj.HeldVelocitySteps
				if traj.ExitedDomain {
					localExited++
					continue
				}
				if traj.Stagnated {
					localStagnated++
				}

				term := traj.Terminal()
				cell, inside := snap.Grid.CellAt(term.Lat, term.Lon)
				if !inside {
					localExited++
					continue
				}
				if _, isNursery := nurserySet[cell]; isNursery {
					mu.Lock()
					matrix.Add(src, cell, perParticle)
					mu.Unlock()
				}
			}

			mu.Lock()
			heldSteps += localHeld
			exited += localExited
			stagnated += localStagnated
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Cancellation surfaces as a failure, never a truncated success.
		return nil, types.NewError(
			types.ErrCodeRunCanceled,
			"connectivity simulation canceled before completion",
			err,
		)
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(
			types.ErrCodeRunCanceled,
			"connectivity simulation canceled before completion",
			err,
		)
	}

	res := &Result{
		Matrix:   matrix,
		Spawning: spawning,
		Nursery:  nursery,
		FTLE:     e.stretchingRate(snap, u, v),
	}
	if heldSteps > 0 {
		res.Warnings = append(res.Warnings, types.Warning{
			Component: "connectivity",
			Message:   "held last valid velocity over steps with undefined current",
			Details:   map[string]any{"held_steps": heldSteps},
		})
	}

	e.logger.Info("connectivity computed",
		"spawning_cells", len(spawning),
		"nursery_cells", len(nursery),
		"edges", len(matrix.Edges()),
		"exited_domain", exited,
		"stagnated", stagnated,
	)

	return res, nil
}

// deriveSites selects spawning cells (mean temperature inside the spawning
// band) and nursery cells (high productivity, weak currents) from the
// snapshot's habitat layers.
func (e *Engine) deriveSites(snap *grid.Snapshot) (spawning, nursery []types.CellID, warnings []types.Warning, err error) {
	sst, ok := snap.Layer(types.LayerSST)
	if !ok {
		return nil, nil, nil, types.NewErrorWithDetails(
			types.ErrCodeMissingFactor,
			fmt.Sprintf("required layer %q is absent from the input set", types.LayerSST),
			nil,
			map[string]any{"layer": types.LayerSST},
		)
	}

	tempMean := temporalMean(sst)

	var chlMean []float64
	var chlThreshold float64
	haveChl := false
	if chl, ok := snap.Layer(types.LayerChlorophyll); ok {
		chlMean = temporalMean(chl)
		if th, ok := quantileOf(chlMean, e.cfg.NurseryChlQuantile); ok {
			chlThreshold, haveChl = th, true
		}
	}
	if !haveChl {
		warnings = append(warnings, types.Warning{
			Component: "connectivity",
			Message:   "chlorophyll layer absent; nursery cells derived from current speed only",
		})
	}

	var speedMean []float64
	if speed, ok := snap.Layer(types.LayerCurrentSpeed); ok {
		speedMean = temporalMean(speed)
	}

	for cell := 0; cell < snap.Grid.NumCells(); cell++ {
		if snap.Grid.Missing[cell] {
			continue
		}
		id := types.CellID(cell)

		t := tempMean[cell]
		if !types.IsMissing(t) && t >= e.cfg.SpawningTempMinC && t <= e.cfg.SpawningTempMaxC {
			spawning = append(spawning, id)
		}

		lowCurrent := true
		if speedMean != nil {
			s := speedMean[cell]
			lowCurrent = !types.IsMissing(s) && s < e.cfg.NurseryMaxCurrentMS
		}
		productive := true
		if haveChl {
			c := chlMean[cell]
			productive = !types.IsMissing(c) && c > chlThreshold
		}
		if lowCurrent && productive {
			nursery = append(nursery, id)
		}
	}

	return spawning, nursery, warnings, nil
}

// temporalMean averages a layer over its time axis per cell, skipping
// missing samples.
func temporalMean(layer *types.FieldLayer) []float64 {
	numCells := len(layer.Values[0])
	out := make([]float64, numCells)
	for cell := 0; cell < numCells; cell++ {
		var sum float64
		var n int
		for t := 0; t < layer.NumSteps(); t++ {
			if v := layer.Values[t][cell]; !types.IsMissing(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			out[cell] = types.MissingValue
			continue
		}
		out[cell] = sum / float64(n)
	}
	return out
}
