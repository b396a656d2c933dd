package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medguard/internal/types"
)

func readArtifact(t *testing.T, dir, name string, v any) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestExportWritesAllArtifacts(t *testing.T) {
	runner := NewRunner(testPipelineConfig(), testLogger())
	res, err := runner.Run(context.Background(), testInput())
	require.NoError(t, err)

	dir := t.TempDir()
	exporter := NewExporter(dir, testLogger())
	require.NoError(t, exporter.Export(res, []string{"sst", "fishing_effort", "current_u", "current_v"}))

	for _, name := range []string{
		"risk_surface.json",
		"connectivity.json",
		"anomaly_clusters.json",
		"expansion_scenarios.json",
		"run_metadata.json",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	var meta struct {
		RunID       string   `json:"run_id"`
		ProcessedAt string   `json:"processed_at"`
		DurationMS  int64    `json:"duration_ms"`
		Datasets    []string `json:"datasets"`
	}
	readArtifact(t, dir, "run_metadata.json", &meta)
	assert.Equal(t, res.RunID, meta.RunID)
	assert.Equal(t, []string{"sst", "fishing_effort", "current_u", "current_v"}, meta.Datasets)

	// Every artifact must survive strict JSON decoding; missing values are
	// nulls, never NaN.
	var risk struct {
		Steps  []time.Time  `json:"steps"`
		Scalar [][]*float64 `json:"scalar"`
	}
	readArtifact(t, dir, "risk_surface.json", &risk)
	require.Len(t, risk.Steps, 3)
	require.Len(t, risk.Scalar, 3)
	require.Len(t, risk.Scalar[0], 6)

	var conn struct {
		Edges []struct {
			Source types.CellID `json:"source"`
			Dest   types.CellID `json:"dest"`
			Weight float64      `json:"weight"`
		} `json:"edges"`
		Spawning []types.CellID `json:"spawning_cells"`
	}
	readArtifact(t, dir, "connectivity.json", &conn)
	assert.NotEmpty(t, conn.Edges)
	assert.Len(t, conn.Spawning, 6)

	var scenarios []struct {
		ExpansionPercent float64 `json:"expansion_percent"`
		Error            string  `json:"error"`
	}
	readArtifact(t, dir, "expansion_scenarios.json", &scenarios)
	require.Len(t, scenarios, 2)
	assert.NotEmpty(t, scenarios[0].Error)
	assert.Empty(t, scenarios[1].Error)
}

func TestExportOmitsDisabledStages(t *testing.T) {
	res := &Result{
		RunID:     "test-run",
		StartedAt: time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC),
		StageErrors: map[string]error{
			"risk": types.NewError(types.ErrCodeMissingFactor, "sst layer absent", nil),
		},
	}

	dir := t.TempDir()
	exporter := NewExporter(dir, testLogger())
	require.NoError(t, exporter.Export(res, []string{"fishing_effort"}))

	for _, name := range []string{
		"risk_surface.json",
		"connectivity.json",
		"anomaly_clusters.json",
		"expansion_scenarios.json",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}

	var meta struct {
		RunID       string            `json:"run_id"`
		StageErrors map[string]string `json:"stage_errors"`
	}
	readArtifact(t, dir, "run_metadata.json", &meta)
	assert.Equal(t, "test-run", meta.RunID)
	assert.Contains(t, meta.StageErrors, "risk")
}
