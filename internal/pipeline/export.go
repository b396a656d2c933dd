package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"medguard/internal/connectivity"
	"medguard/internal/types"
)

// Exporter writes a run's artifacts as JSON files into one directory.
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(dir string, logger *slog.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger}
}

type riskArtifact struct {
	Steps  []time.Time        `json:"steps"`
	Scalar [][]*float64       `json:"scalar"`
	Tiers  [][]types.RiskTier `json:"tiers"`
}

type connectivityArtifact struct {
	Edges    []connectivity.Edge `json:"edges"`
	Spawning []types.CellID      `json:"spawning_cells"`
	Nursery  []types.CellID      `json:"nursery_cells"`
	FTLE     []*float64          `json:"stretching_rate,omitempty"`
}

// nullable maps the missing-value marker to JSON null; NaN has no JSON
// representation.
func nullable(vals []float64) []*float64 {
	out := make([]*float64, len(vals))
	for i := range vals {
		if !types.IsMissing(vals[i]) {
			v := vals[i]
			out[i] = &v
		}
	}
	return out
}

func nullableSeries(series [][]float64) [][]*float64 {
	out := make([][]*float64, len(series))
	for i := range series {
		out[i] = nullable(series[i])
	}
	return out
}

type scenarioArtifact struct {
	ExpansionPercent float64 `json:"expansion_percent"`
	Network          any     `json:"network,omitempty"`
	Recovery         any     `json:"recovery,omitempty"`
	Error            string  `json:"error,omitempty"`
}

type runMetadata struct {
	RunID       string            `json:"run_id"`
	ProcessedAt time.Time         `json:"processed_at"`
	DurationMS  int64             `json:"duration_ms"`
	Datasets    []string          `json:"datasets"`
	Warnings    []types.Warning   `json:"warnings,omitempty"`
	StageErrors map[string]string `json:"stage_errors,omitempty"`
}

// Export writes every available artifact of the run; stages disabled by a
// recorded stage error are simply absent. datasets names the input rasters
// for the metadata record.
func (e *Exporter) Export(res *Result, datasets []string) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	if res.Risk != nil {
		art := riskArtifact{Steps: res.Risk.Steps, Scalar: nullableSeries(res.Risk.Scalar), Tiers: res.Risk.Tiers}
		if err := e.writeJSON("risk_surface.json", art); err != nil {
			return err
		}
	}

	if res.Connectivity != nil {
		art := connectivityArtifact{
			Edges:    res.Connectivity.Matrix.Edges(),
			Spawning: res.Connectivity.Spawning,
			Nursery:  res.Connectivity.Nursery,
			FTLE:     nullable(res.Connectivity.FTLE),
		}
		if err := e.writeJSON("connectivity.json", art); err != nil {
			return err
		}
	}

	if res.Clusters != nil {
		if err := e.writeJSON("anomaly_clusters.json", res.Clusters); err != nil {
			return err
		}
	}

	if len(res.Scenarios) > 0 {
		arts := make([]scenarioArtifact, 0, len(res.Scenarios))
		for _, sc := range res.Scenarios {
			a := scenarioArtifact{ExpansionPercent: sc.ExpansionPercent}
			if sc.Network != nil {
				a.Network = sc.Network
			}
			if sc.Recovery != nil {
				a.Recovery = sc.Recovery
			}
			if sc.Err != nil {
				a.Error = sc.Err.Error()
			}
			arts = append(arts, a)
		}
		if err := e.writeJSON("expansion_scenarios.json", arts); err != nil {
			return err
		}
	}

	meta := runMetadata{
		RunID:       res.RunID,
		ProcessedAt: res.StartedAt.UTC(),
		DurationMS:  res.Duration.Milliseconds(),
		Datasets:    datasets,
		Warnings:    res.Warnings,
	}
	if len(res.StageErrors) > 0 {
		meta.StageErrors = make(map[string]string, len(res.StageErrors))
		for stage, err := range res.StageErrors {
			meta.StageErrors[stage] = err.Error()
		}
	}
	if err := e.writeJSON("run_metadata.json", meta); err != nil {
		return err
	}

	e.logger.Info("artifacts exported", "dir", e.dir, "run_id", res.RunID)
	return nil
}

func (e *Exporter) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
