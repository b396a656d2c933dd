// Package pipeline orchestrates the decision pipeline: it builds one
// immutable snapshot through the grid adapter, runs the risk, connectivity,
// and anomaly engines over it, then evaluates protection-expansion scenarios
// with the optimizer and recovery simulator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"medguard/internal/anomaly"
	"medguard/internal/config"
	"medguard/internal/connectivity"
	"medguard/internal/grid"
	"medguard/internal/optimizer"
	"medguard/internal/recovery"
	"medguard/internal/risk"
	"medguard/internal/types"
)

// Input is everything one run consumes.
type Input struct {
	Rasters    []grid.SourceRaster
	Boundaries *grid.BoundarySet
	Records    []types.ActivityRecord

	// InitialBiomass seeds the recovery model; zero means a normalized
	// stock of 1.
	InitialBiomass float64
}

// ScenarioResult pairs one expansion scenario's optimizer and recovery
// outputs. Err is set when the scenario failed; other scenarios are
// unaffected.
type ScenarioResult struct {
	ExpansionPercent float64
	Network          *optimizer.ProtectionNetwork
	Recovery         *recovery.Scenario
	Err              error
}

// Result is the structured output of one pipeline run.
type Result struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	Risk         *types.RiskSurface
	Connectivity *connectivity.Result
	Clusters     []anomaly.Cluster
	Scenarios    []ScenarioResult

	Warnings []types.Warning

	// StageErrors records engine failures that did not abort the run; the
	// key is the stage name.
	StageErrors map[string]error
}

// Runner wires the engines together over a shared configuration.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger

	adapter   *grid.Adapter
	risk      *risk.Engine
	conn      *connectivity.Engine
	detector  *anomaly.Detector
	optimizer *optimizer.Optimizer
	simulator *recovery.Simulator
}

// NewRunner constructs a runner and its engines from the configuration.
func NewRunner(cfg *config.Config, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		logger:    logger,
		adapter:   grid.NewAdapter(cfg.Grid, logger),
		risk:      risk.NewEngine(cfg.Risk, logger),
		conn:      connectivity.NewEngine(cfg.Connectivity, logger),
		detector:  anomaly.NewDetector(cfg.Anomaly, logger),
		optimizer: optimizer.NewOptimizer(cfg.Optimizer, logger),
		simulator: recovery.NewSimulator(cfg.Recovery, logger),
	}
}

// Run executes the full pipeline. Engine failures of the input-integrity or
// parameter-validity classes disable the affected stage (and any stage
// depending on it) but let the rest of the run complete; cancellation and
// internal errors abort the whole run.
func (r *Runner) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	res := &Result{
		RunID:       uuid.NewString(),
		StartedAt:   start,
		StageErrors: make(map[string]error),
	}
	logger := r.logger.With("run_id", res.RunID)

	logger.Info("pipeline run started",
		"rasters", len(in.Rasters),
		"boundaries", boundaryCount(in.Boundaries),
		"activity_records", len(in.Records),
	)

	snap, err := r.adapter.Build(in.Rasters, in.Boundaries)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, snap.Warnings...)

	// The three analysis engines read the same immutable snapshot, so they
	// run concurrently. A recoverable failure in one does not stop the
	// others; each goroutine parks its outcome under the stage name.
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		surface, warnings, err := r.risk.Compute(snap)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			return r.recordStage(res, logger, "risk", err)
		}
		res.Risk = surface
		res.Warnings = append(res.Warnings, warnings...)
		return nil
	})

	g.Go(func() error {
		connRes, err := r.conn.Compute(gCtx, snap)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			return r.recordStage(res, logger, "connectivity", err)
		}
		res.Connectivity = connRes
		res.Warnings = append(res.Warnings, connRes.Warnings...)
		return nil
	})

	g.Go(func() error {
		clusters, warnings, err := r.detector.Detect(in.Records, in.Boundaries, snap)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			return r.recordStage(res, logger, "anomaly", err)
		}
		res.Clusters = clusters
		res.Warnings = append(res.Warnings, warnings...)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if res.Connectivity != nil {
		if err := r.runScenarios(ctx, snap, in, res, logger); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("skipping expansion scenarios: connectivity unavailable")
	}

	res.Duration = time.Since(start)
	logger.Info("pipeline run finished",
		"duration", res.Duration.String(),
		"stage_errors", len(res.StageErrors),
		"warnings", len(res.Warnings),
		"clusters", len(res.Clusters),
		"scenarios", len(res.Scenarios),
	)
	return res, nil
}

// recordStage classifies an engine failure: recoverable classes are stored
// against the stage name and the run continues, everything else propagates.
// Callers must hold the result mutex.
func (r *Runner) recordStage(res *Result, logger *slog.Logger, stage string, err error) error {
	var perr *types.PipelineError
	if errors.As(err, &perr) {
		switch perr.Class() {
		case types.ClassInputIntegrity, types.ClassParameterValidity:
			logger.Warn("stage failed, continuing run",
				"stage", stage,
				"code", string(perr.Code),
				"error", perr.Message,
			)
			res.StageErrors[stage] = err
			return nil
		}
	}
	return err
}

// runScenarios evaluates every configured expansion percentage
// independently: each scenario selects a network under its budget and
// projects recovery under its protected fraction. One infeasible scenario
// does not abort its siblings.
func (r *Runner) runScenarios(ctx context.Context, snap *grid.Snapshot, in Input, res *Result, logger *slog.Logger) error {
	candidates := r.candidateSites(snap, in.Boundaries)

	baseFraction := 0.0
	if in.Boundaries != nil {
		baseFraction = in.Boundaries.CoverageFraction(snap.Grid)
	}
	domainArea := domainAreaKm2(snap.Grid)
	protectedArea := baseFraction * domainArea

	initialBiomass := in.InitialBiomass
	if initialBiomass <= 0 {
		initialBiomass = 1
	}
	effortHours := totalEffortHours(snap)

	percents := r.cfg.Optimizer.ExpansionPercents
	res.Scenarios = make([]ScenarioResult, len(percents))

	g, gCtx := errgroup.WithContext(ctx)
	for i, pct := range percents {
		i, pct := i, pct
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return types.NewError(types.ErrCodeRunCanceled, "expansion scenarios canceled", err)
			}

			sc := ScenarioResult{ExpansionPercent: pct}
			budget := pct / 100 * protectedArea

			net, err := r.optimizer.Optimize(candidates, res.Connectivity.Matrix, budget)
			if err == nil {
				sc.Network = net
				fraction := baseFraction
				if domainArea > 0 {
					fraction += net.TotalCost / domainArea
				}
				name := fmt.Sprintf("expansion_%g_percent", pct)
				var rec *recovery.Scenario
				rec, err = r.simulator.Simulate(name, pct, initialBiomass, fraction)
				if err == nil {
					impact := r.simulator.LivelihoodImpact(pct, fraction, effortHours, rec.BreakevenYear)
					rec.Livelihood = &impact
					sc.Recovery = rec
				}
			}
			if err != nil {
				var perr *types.PipelineError
				if errors.As(err, &perr) && (perr.Class() == types.ClassInputIntegrity || perr.Class() == types.ClassParameterValidity) {
					logger.Warn("expansion scenario failed, continuing others",
						"expansion_percent", pct,
						"code", string(perr.Code),
						"error", perr.Message,
					)
					sc.Err = err
				} else {
					return err
				}
			}

			res.Scenarios[i] = sc
			return nil
		})
	}
	return g.Wait()
}

// candidateSites lists habitat-bearing unprotected cells as expansion
// candidates, costed by cell area in km².
func (r *Runner) candidateSites(snap *grid.Snapshot, boundaries *grid.BoundarySet) []types.CandidateSite {
	quality, _, err := risk.HabitatQuality(snap)
	if err != nil {
		return nil
	}

	g := snap.Grid
	var out []types.CandidateSite
	for cell := 0; cell < g.NumCells(); cell++ {
		if g.Missing[cell] {
			continue
		}
		q := quality[cell]
		if types.IsMissing(q) || q <= 0 {
			continue
		}
		lat, lon := g.Centroid(types.CellID(cell))
		if boundaries != nil && boundaries.Contains(lat, lon) {
			continue
		}
		out = append(out, types.CandidateSite{
			Cell:           types.CellID(cell),
			Lat:            lat,
			Lon:            lon,
			HabitatQuality: q,
			Cost:           cellAreaKm2(g, lat),
		})
	}
	return out
}

const kmPerDegLat = 111.0

// cellAreaKm2 approximates the area of one grid cell at the given latitude.
func cellAreaKm2(g *types.SpatialGrid, lat float64) float64 {
	side := g.CellSizeDeg * kmPerDegLat
	return side * side * math.Cos(lat*math.Pi/180)
}

// domainAreaKm2 sums the area of the non-missing cells.
func domainAreaKm2(g *types.SpatialGrid) float64 {
	var total float64
	for cell := 0; cell < g.NumCells(); cell++ {
		if g.Missing[cell] {
			continue
		}
		lat, _ := g.Centroid(types.CellID(cell))
		total += cellAreaKm2(g, lat)
	}
	return total
}

func boundaryCount(s *grid.BoundarySet) int {
	if s == nil {
		return 0
	}
	return s.Count()
}

// totalEffortHours sums the latest fishing-effort field, feeding the
// livelihood model's employment estimate.
func totalEffortHours(snap *grid.Snapshot) float64 {
	effort, ok := snap.Layer(types.LayerFishingEffort)
	if !ok {
		return 0
	}
	var sum float64
	for _, v := range effort.Latest() {
		if !types.IsMissing(v) {
			sum += v
		}
	}
	return sum
}
