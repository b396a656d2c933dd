// Package risk implements the Risk Index Engine: a pure transform combining
// independently normalized factor layers into a per-cell, per-time
// overfishing risk scalar in [0,1] with a fixed-threshold tier.
//
// Default factors and weights: environmental stress 0.3, fishing pressure
// 0.4, frontal-zone indicator 0.3. The extended variant adds
// habitat-degradation and protection-gap factors; weights are always
// re-normalized to sum to 1 over the factors active in a run.
package risk

import (
	"fmt"
	"log/slog"
	"math"

	"medguard/internal/config"
	"medguard/internal/grid"
	"medguard/internal/types"
)

// factor is one named, weighted risk component sampled on the shared grid
// and time axis.
type factor struct {
	name   string
	weight float64
	values [][]float64
}

// Engine computes risk surfaces from adapter snapshots. It holds no state
// across runs; Compute is a pure transform over the snapshot.
type Engine struct {
	cfg    config.RiskConfig
	logger *slog.Logger
}

// NewEngine creates a risk engine with the given configuration.
func NewEngine(cfg config.RiskConfig, logger *slog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Compute derives the risk surface for the snapshot's full time window.
// It fails with input_missing_factor when a required layer is absent and
// with param_invalid_weights when the configured weights sum to zero.
// Locally recovered degeneracies (cells with insufficient history for
// anomaly standardization) come back as warnings, not errors.
func (e *Engine) Compute(snap *grid.Snapshot) (*types.RiskSurface, []types.Warning, error) {
	var warnings []types.Warning

	sst, ok := snap.Layer(types.LayerSST)
	if !ok {
		return nil, nil, missingFactor(types.LayerSST)
	}
	effort, ok := snap.Layer(types.LayerFishingEffort)
	if !ok {
		return nil, nil, missingFactor(types.LayerFishingEffort)
	}

	steps := sst.NumSteps()

	// Environmental stress: magnitude of the standardized SST anomaly.
	anom, excluded := rollingAnomaly(sst, e.cfg.AnomalyWindow)
	if excluded > 0 {
		warnings = append(warnings, types.Warning{
			Component: "risk",
			Message:   "cells excluded from anomaly standardization for insufficient history or zero variance",
			Details:   map[string]any{"layer": types.LayerSST, "excluded_cells": excluded},
		})
	}
	for _, step := range anom {
		for i, v := range step {
			if !types.IsMissing(v) {
				step[i] = math.Abs(v)
			}
		}
	}

	factors := []factor{
		{name: "environmental_stress", weight: e.cfg.WeightEnvironmentalStress, values: anom},
		{name: "fishing_pressure", weight: e.cfg.WeightFishingPressure, values: copyValues(effort.Values)},
		{name: "frontal_zone", weight: e.cfg.WeightFrontalZone, values: e.frontalIndicator(snap.Grid, sst)},
	}

	if e.cfg.WeightHabitatDegradation > 0 {
		quality, hqWarnings, err := HabitatQuality(snap)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, hqWarnings...)
		degradation := make([]float64, len(quality))
		for i, q := range quality {
			if types.IsMissing(q) {
				degradation[i] = types.MissingValue
				continue
			}
			degradation[i] = 1 - q
		}
		factors = append(factors, factor{
			name:   "habitat_degradation",
			weight: e.cfg.WeightHabitatDegradation,
			values: broadcast(degradation, steps),
		})
	}

	if e.cfg.WeightProtectionGap > 0 {
		gap := protectionGap(snap.Grid, snap.Boundaries)
		factors = append(factors, factor{
			name:   "protection_gap",
			weight: e.cfg.WeightProtectionGap,
			values: broadcast(gap, steps),
		})
	}

	var weightSum float64
	for _, f := range factors {
		weightSum += f.weight
	}
	if weightSum <= 0 {
		return nil, nil, types.NewError(
			types.ErrCodeInvalidWeights,
			"risk factor weights sum to zero",
			nil,
		)
	}

	// Each factor is normalized over the active window before weighting.
	for _, f := range factors {
		minMaxNormalize(f.values)
	}

	surface := &types.RiskSurface{
		Steps:  sst.Steps,
		Scalar: make([][]float64, steps),
		Tiers:  make([][]types.RiskTier, steps),
	}

	numCells := snap.Grid.NumCells()
	for t := 0; t < steps; t++ {
		scalar := make([]float64, numCells)
		tiers := make([]types.RiskTier, numCells)
		for cell := 0; cell < numCells; cell++ {
			if snap.Grid.Missing[cell] {
				scalar[cell] = types.MissingValue
				continue
			}
			// Factors missing at a cell are excluded from the average,
			// not zero-filled; the remaining weights re-normalize.
			var sum, wsum float64
			for _, f := range factors {
				v := f.values[t][cell]
				if types.IsMissing(v) {
					continue
				}
				sum += v * f.weight
				wsum += f.weight
			}
			if wsum == 0 {
				scalar[cell] = types.MissingValue
				continue
			}
			v := sum / wsum
			scalar[cell] = v
			tiers[cell] = types.TierFor(v)
		}
		surface.Scalar[t] = scalar
		surface.Tiers[t] = tiers
	}

	e.logger.Info("risk surface computed",
		"steps", steps,
		"factors", len(factors),
		"warnings", len(warnings),
	)

	return surface, warnings, nil
}

// frontalIndicator marks cells whose SST spatial-gradient magnitude exceeds
// the configured quantile: oceanographic fronts concentrate fishing activity.
func (e *Engine) frontalIndicator(g *types.SpatialGrid, sst *types.FieldLayer) [][]float64 {
	out := make([][]float64, sst.NumSteps())
	for t := range out {
		grad := gradientMagnitude(g, sst.Values[t])
		threshold, ok := quantile(grad, e.cfg.FrontQuantile)
		vals := make([]float64, len(grad))
		for i, v := range grad {
			switch {
			case types.IsMissing(v):
				vals[i] = types.MissingValue
			case ok && v > threshold:
				vals[i] = 1
			default:
				vals[i] = 0
			}
		}
		out[t] = vals
	}
	return out
}

// protectionGap scores each cell by its distance to the nearest protected
// boundary; far cells approach 1. Without boundary data every cell is fully
// unprotected.
func protectionGap(g *types.SpatialGrid, boundaries *grid.BoundarySet) []float64 {
	// Cells beyond this distance from any boundary count as a full gap.
	const maxGapKm = 100.0

	out := make([]float64, g.NumCells())
	for cell := range out {
		if g.Missing[cell] {
			out[cell] = types.MissingValue
			continue
		}
		if boundaries.Count() == 0 {
			out[cell] = 1
			continue
		}
		lat, lon := g.Centroid(types.CellID(cell))
		d, _ := boundaries.NearestDistanceKm(lat, lon, maxGapKm)
		if math.IsInf(d, 1) {
			out[cell] = 1
			continue
		}
		out[cell] = d / maxGapKm
	}
	return out
}

// missingFactor builds the standard required-layer-absent error.
func missingFactor(layer string) *types.PipelineError {
	return types.NewErrorWithDetails(
		types.ErrCodeMissingFactor,
		fmt.Sprintf("required layer %q is absent from the input set", layer),
		nil,
		map[string]any{"layer": layer},
	)
}

// copyValues deep-copies a layer's value matrix so normalization never
// mutates the adapter's snapshot.
func copyValues(src [][]float64) [][]float64 {
	out := make([][]float64, len(src))
	for i, step := range src {
		out[i] = append([]float64(nil), step...)
	}
	return out
}

// broadcast repeats a single spatial field across every time step.
func broadcast(vals []float64, steps int) [][]float64 {
	out := make([][]float64, steps)
	for t := range out {
		out[t] = append([]float64(nil), vals...)
	}
	return out
}
