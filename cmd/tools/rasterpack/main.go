// Package main implements the rasterpack CLI tool for converting dense CSV
// time series into the chunked raster layout the pipeline ingests.
//
// This tool is intended for local development, test-fixture preparation, and
// backfilling small study areas from spreadsheet exports. It writes one
// raster directory containing a manifest.json plus zstd-compressed
// little-endian float32 chunk files.
//
// Usage:
//
//	go run ./cmd/tools/rasterpack --name=sst --units=degC \
//	    --lat-min=35.0 --lon-min=2.0 --cell-size=0.25 --rows=8 --cols=12 \
//	    --input=sst.csv --out=./data
//
// The input CSV has a header row followed by one row per time step: an
// RFC 3339 timestamp, then rows*cols values in row-major order. Empty value
// fields mark missing cells.
package main

import (
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"medguard/internal/grid"
	"medguard/internal/types"
)

func main() {
	var (
		name      = flag.String("name", "", "layer name (sst, fishing_effort, current_u, ...)")
		units     = flag.String("units", "", "unit label recorded in the manifest")
		latMin    = flag.Float64("lat-min", 0, "southern centroid latitude, degrees")
		lonMin    = flag.Float64("lon-min", 0, "western centroid longitude, degrees")
		cellSize  = flag.Float64("cell-size", 0.25, "cell size, degrees")
		rows      = flag.Int("rows", 0, "raster rows")
		cols      = flag.Int("cols", 0, "raster columns")
		chunkRows = flag.Int("chunk-rows", 0, "rows per chunk (0 = whole axis)")
		chunkCols = flag.Int("chunk-cols", 0, "columns per chunk (0 = whole axis)")
		policy    = flag.String("policy", string(types.ResampleBilinear), "resampling policy (bilinear or nearest)")
		input     = flag.String("input", "", "input CSV path")
		out       = flag.String("out", ".", "output root; the raster directory is created beneath it")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if *name == "" || *input == "" || *rows <= 0 || *cols <= 0 {
		fmt.Fprintln(os.Stderr, "rasterpack: --name, --input, --rows, and --cols are required")
		flag.Usage()
		os.Exit(2)
	}

	steps, values, err := readSeries(*input, *rows, *cols)
	if err != nil {
		logger.Error("failed to read input series", "path", *input, "error", err)
		os.Exit(1)
	}

	cr, cc := *chunkRows, *chunkCols
	if cr <= 0 || cr > *rows {
		cr = *rows
	}
	if cc <= 0 || cc > *cols {
		cc = *cols
	}

	m := grid.RasterManifest{
		Name:        *name,
		Units:       *units,
		Shape:       []int{len(steps), *rows, *cols},
		Chunks:      []int{len(steps), cr, cc},
		LatMin:      *latMin,
		LonMin:      *lonMin,
		CellSizeDeg: *cellSize,
		Policy:      *policy,
		Steps:       steps,
	}

	dir := filepath.Join(*out, *name)
	if err := writeRaster(dir, m, values); err != nil {
		logger.Error("failed to write raster", "dir", dir, "error", err)
		os.Exit(1)
	}

	logger.Info("raster packed",
		"layer", *name,
		"dir", dir,
		"steps", len(steps),
		"rows", *rows,
		"cols", *cols,
	)
}

// readSeries parses the dense CSV: a header row, then one row per time step
// holding a timestamp and rows*cols values in row-major order.
func readSeries(path string, rows, cols int) ([]string, [][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 1 + rows*cols

	if _, err := r.Read(); err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	var steps []string
	var values [][]float64
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", line, err)
		}

		if _, err := time.Parse(time.RFC3339, row[0]); err != nil {
			return nil, nil, fmt.Errorf("row %d: bad timestamp: %w", line, err)
		}
		steps = append(steps, row[0])

		vals := make([]float64, rows*cols)
		for i, field := range row[1:] {
			if field == "" {
				vals[i] = types.MissingValue
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("row %d: bad value in column %d: %w", line, i+2, err)
			}
			vals[i] = v
		}
		values = append(values, vals)
	}

	if len(steps) == 0 {
		return nil, nil, fmt.Errorf("input has no time steps")
	}
	return steps, values, nil
}

// writeRaster lays the manifest and chunk files out under dir. Chunks are
// [time, chunkRows, chunkCols] in C order, NaN-padded at ragged edges.
func writeRaster(dir string, m grid.RasterManifest, values [][]float64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifest, 0o644); err != nil {
		return err
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	defer encoder.Close()

	timeSteps, rows, cols := m.Shape[0], m.Shape[1], m.Shape[2]
	chunkRows, chunkCols := m.Chunks[1], m.Chunks[2]
	nRowChunks := (rows + chunkRows - 1) / chunkRows
	nColChunks := (cols + chunkCols - 1) / chunkCols

	for rc := 0; rc < nRowChunks; rc++ {
		for cc := 0; cc < nColChunks; cc++ {
			raw := make([]byte, 0, timeSteps*chunkRows*chunkCols*4)
			var buf [4]byte
			for t := 0; t < timeSteps; t++ {
				for lr := 0; lr < chunkRows; lr++ {
					for lc := 0; lc < chunkCols; lc++ {
						row, col := rc*chunkRows+lr, cc*chunkCols+lc
						v := math.NaN()
						if row < rows && col < cols {
							v = values[t][row*cols+col]
						}
						binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(v)))
						raw = append(raw, buf[:]...)
					}
				}
			}

			key := fmt.Sprintf("0.%d.%d", rc, cc)
			compressed := encoder.EncodeAll(raw, nil)
			if err := os.WriteFile(filepath.Join(dir, key), compressed, 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}
