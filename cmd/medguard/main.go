// Package main is the entrypoint for the MedGuard decision pipeline.
//
// One invocation performs one run: it reads the normalized raster datasets,
// protected-area boundaries, and vessel-activity records named on the command
// line, executes the full pipeline over a single immutable snapshot, and
// writes the resulting artifacts as JSON files.
//
// This file handles dependency wiring only; all pipeline logic lives in
// internal/pipeline and the engine packages it composes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"medguard/internal/anomaly"
	"medguard/internal/config"
	"medguard/internal/grid"
	"medguard/internal/pipeline"
	"medguard/internal/types"
)

func main() {
	dataDir := flag.String("data", "data", "directory of normalized raster datasets, one subdirectory per layer")
	boundaryPath := flag.String("boundaries", "", "protected-area boundary shapefile (optional)")
	activityPath := flag.String("activity", "", "vessel activity records CSV (optional)")
	outDir := flag.String("out", "artifacts", "artifact output directory")
	biomass := flag.Float64("biomass", 0, "initial stock biomass for recovery projection; 0 means normalized to 1")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	logger.Info("medguard starting",
		"environment", cfg.Environment,
		"data_dir", *dataDir,
	)

	rasters, datasets, err := loadRasters(*dataDir, logger)
	if err != nil {
		logger.Error("failed to load raster datasets", "error", err)
		os.Exit(1)
	}

	var boundaries *grid.BoundarySet
	if *boundaryPath != "" {
		boundaries, err = grid.LoadBoundaries(*boundaryPath, "SITE_ID", "NAME", "DESIG")
		if err != nil {
			logger.Error("failed to load boundaries", "path", *boundaryPath, "error", err)
			os.Exit(1)
		}
		logger.Info("boundaries loaded", "path", *boundaryPath, "count", boundaries.Count())
	}

	var records []types.ActivityRecord
	if *activityPath != "" {
		records, err = anomaly.LoadRecords(*activityPath)
		if err != nil {
			logger.Error("failed to load activity records", "path", *activityPath, "error", err)
			os.Exit(1)
		}
		logger.Info("activity records loaded", "path", *activityPath, "count", len(records))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(cfg, logger)
	result, err := runner.Run(ctx, pipeline.Input{
		Rasters:        rasters,
		Boundaries:     boundaries,
		Records:        records,
		InitialBiomass: *biomass,
	})
	if err != nil {
		logger.Error("pipeline run failed", "error", err)
		os.Exit(1)
	}

	exporter := pipeline.NewExporter(*outDir, logger)
	if err := exporter.Export(result, datasets); err != nil {
		logger.Error("artifact export failed", "error", err)
		os.Exit(1)
	}

	logger.Info("medguard finished",
		"run_id", result.RunID,
		"duration", result.Duration.String(),
		"artifact_dir", *outDir,
	)
}

// loadRasters reads every dataset under root: each subdirectory holding a
// manifest.json is one normalized raster.
func loadRasters(root string, logger *slog.Logger) ([]grid.SourceRaster, []string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, fmt.Errorf("read data directory: %w", err)
	}

	reader := grid.NewChunkReader(root)
	var rasters []grid.SourceRaster
	var datasets []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name(), "manifest.json")); err != nil {
			continue
		}
		raster, err := reader.ReadRaster(entry.Name())
		if err != nil {
			return nil, nil, err
		}
		rasters = append(rasters, *raster)
		datasets = append(datasets, raster.Name)
		logger.Info("raster loaded",
			"dataset", entry.Name(),
			"layer", raster.Name,
			"steps", len(raster.Steps),
			"shape", fmt.Sprintf("%dx%d", raster.Rows, raster.Cols),
		)
	}
	if len(rasters) == 0 {
		return nil, nil, fmt.Errorf("no raster datasets under %s", root)
	}
	return rasters, datasets, nil
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
