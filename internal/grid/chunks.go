// chunks.go implements the chunked-array ingestion boundary: source rasters
// arrive as directories of zstd-compressed little-endian float32 chunk files
// plus a JSON manifest describing shape, chunking, and geometry. Loading
// happens once at the adapter boundary; no engine performs I/O mid-run.
package grid

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"medguard/internal/types"
)

// float32ByteSize is the number of bytes per float32 value.
const float32ByteSize = 4

// RasterManifest is the JSON metadata file accompanying a chunked raster.
// Shape and Chunks are [time, rows, cols]; chunk files are laid out
// row-major under the raster directory as "0.<rowChunk>.<colChunk>".
type RasterManifest struct {
	Name        string   `json:"name"`
	Units       string   `json:"units"`
	Shape       []int    `json:"shape"`
	Chunks      []int    `json:"chunks"`
	FillValue   *float64 `json:"fill_value"`
	LatMin      float64  `json:"lat_min"`
	LonMin      float64  `json:"lon_min"`
	CellSizeDeg float64  `json:"cell_size_deg"`
	Policy      string   `json:"policy"`
	Steps       []string `json:"steps"`
}

// ChunkReader reads chunked rasters from a directory tree. Decoders are
// pooled to avoid repeated allocations across layers.
type ChunkReader struct {
	root string

	decoderPool sync.Pool
}

// NewChunkReader creates a reader rooted at the given directory.
func NewChunkReader(root string) *ChunkReader {
	return &ChunkReader{
		root: root,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					// Never fails with nil input and default options.
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

// ReadRaster loads one named raster: its manifest plus every chunk file,
// assembled into a SourceRaster with NaN marking missing cells.
func (r *ChunkReader) ReadRaster(name string) (*SourceRaster, error) {
	manifestPath := filepath.Join(r.root, name, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeMalformedLayer,
			fmt.Sprintf("failed to read manifest for layer %q", name),
			err,
			map[string]any{"layer": name, "path": manifestPath},
		)
	}

	var m RasterManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeMalformedLayer,
			fmt.Sprintf("failed to parse manifest for layer %q", name),
			err,
			map[string]any{"layer": name},
		)
	}
	if len(m.Shape) != 3 || len(m.Chunks) != 3 {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeMalformedLayer,
			fmt.Sprintf("layer %q has unexpected dimensions", name),
			nil,
			map[string]any{"layer": name, "shape": m.Shape, "chunks": m.Chunks},
		)
	}

	steps, err := parseSteps(m.Steps)
	if err != nil {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeMalformedLayer,
			fmt.Sprintf("layer %q has a malformed time axis", name),
			err,
			map[string]any{"layer": name},
		)
	}

	timeSteps, rows, cols := m.Shape[0], m.Shape[1], m.Shape[2]
	chunkRows, chunkCols := m.Chunks[1], m.Chunks[2]

	raster := &SourceRaster{
		Name:        m.Name,
		Units:       m.Units,
		LatMin:      m.LatMin,
		LonMin:      m.LonMin,
		CellSizeDeg: m.CellSizeDeg,
		Rows:        rows,
		Cols:        cols,
		Steps:       steps,
		Policy:      types.ResamplePolicy(m.Policy),
	}
	raster.Values = make([][]float64, timeSteps)
	for t := range raster.Values {
		raster.Values[t] = make([]float64, rows*cols)
		for i := range raster.Values[t] {
			raster.Values[t][i] = types.MissingValue
		}
	}

	nRowChunks := (rows + chunkRows - 1) / chunkRows
	nColChunks := (cols + chunkCols - 1) / chunkCols
	for rc := 0; rc < nRowChunks; rc++ {
		for cc := 0; cc < nColChunks; cc++ {
			if err := r.readChunk(raster, &m, rc, cc); err != nil {
				return nil, err
			}
		}
	}

	return raster, nil
}

// readChunk loads one chunk file and scatters its values into the raster.
// The chunk layout is [time, chunkRows, chunkCols], C order, matching the
// manifest's chunk dimensions even at ragged edges (padded with fill).
func (r *ChunkReader) readChunk(raster *SourceRaster, m *RasterManifest, rowChunk, colChunk int) error {
	key := fmt.Sprintf("0.%d.%d", rowChunk, colChunk)
	path := filepath.Join(r.root, m.Name, key)

	compressed, err := os.ReadFile(path)
	if err != nil {
		return types.NewErrorWithDetails(
			types.ErrCodeMalformedLayer,
			fmt.Sprintf("failed to read chunk %s of layer %q", key, m.Name),
			err,
			map[string]any{"layer": m.Name, "chunk": key},
		)
	}

	decoder := r.decoderPool.Get().(*zstd.Decoder)
	raw, err := decoder.DecodeAll(compressed, nil)
	r.decoderPool.Put(decoder)
	if err != nil {
		return types.NewErrorWithDetails(
			types.ErrCodeMalformedLayer,
			fmt.Sprintf("failed to decompress chunk %s of layer %q", key, m.Name),
			err,
			map[string]any{"layer": m.Name, "chunk": key},
		)
	}

	vals, err := parseFloat32s(raw)
	if err != nil {
		return types.NewErrorWithDetails(
			types.ErrCodeMalformedLayer,
			fmt.Sprintf("failed to parse chunk %s of layer %q", key, m.Name),
			err,
			map[string]any{"layer": m.Name, "chunk": key},
		)
	}

	timeSteps := m.Shape[0]
	chunkRows, chunkCols := m.Chunks[1], m.Chunks[2]
	if len(vals) != timeSteps*chunkRows*chunkCols {
		return types.NewErrorWithDetails(
			types.ErrCodeMalformedLayer,
			fmt.Sprintf("chunk %s of layer %q has unexpected length", key, m.Name),
			nil,
			map[string]any{"layer": m.Name, "chunk": key, "length": len(vals)},
		)
	}

	for t := 0; t < timeSteps; t++ {
		for lr := 0; lr < chunkRows; lr++ {
			row := rowChunk*chunkRows + lr
			if row >= raster.Rows {
				break
			}
			for lc := 0; lc < chunkCols; lc++ {
				col := colChunk*chunkCols + lc
				if col >= raster.Cols {
					break
				}
				v := vals[t*chunkRows*chunkCols+lr*chunkCols+lc]
				if m.FillValue != nil && v == *m.FillValue {
					continue // stays missing
				}
				if math.IsNaN(v) {
					continue
				}
				raster.Values[t][row*raster.Cols+col] = v
			}
		}
	}

	return nil
}

// parseFloat32s converts raw little-endian bytes into float64 values.
func parseFloat32s(data []byte) ([]float64, error) {
	if len(data)%float32ByteSize != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of %d bytes", len(data), float32ByteSize)
	}

	count := len(data) / float32ByteSize
	result := make([]float64, count)
	for i := 0; i < count; i++ {
		bits := binary.LittleEndian.Uint32(data[i*float32ByteSize : (i+1)*float32ByteSize])
		result[i] = float64(math.Float32frombits(bits))
	}

	return result, nil
}

// parseSteps parses an RFC3339 time axis and enforces strict ordering.
func parseSteps(raw []string) ([]time.Time, error) {
	steps := make([]time.Time, len(raw))
	for i, s := range raw {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if i > 0 && !t.After(steps[i-1]) {
			return nil, fmt.Errorf("step %d (%s) is not after step %d", i, s, i-1)
		}
		steps[i] = t
	}
	return steps, nil
}
