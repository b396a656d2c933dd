package anomaly

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"medguard/internal/types"
)

// LoadRecords reads tabular activity records from a CSV file with a header
// row of vessel_id, timestamp (RFC 3339), lat, lon, gap_hours. gap_hours may
// be empty for continuous transmission. Malformed rows fail the whole load;
// a partially read activity window would silently skew clustering.
func LoadRecords(path string) ([]types.ActivityRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open activity records: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 5

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read activity header: %w", err)
	}
	if header[0] != "vessel_id" {
		return nil, fmt.Errorf("unexpected activity header %q", header[0])
	}

	var out []types.ActivityRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read activity row %d: %w", line, err)
		}

		ts, err := time.Parse(time.RFC3339, row[1])
		if err != nil {
			return nil, fmt.Errorf("activity row %d: bad timestamp: %w", line, err)
		}
		lat, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("activity row %d: bad lat: %w", line, err)
		}
		lon, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, fmt.Errorf("activity row %d: bad lon: %w", line, err)
		}

		var gap time.Duration
		if row[4] != "" {
			hours, err := strconv.ParseFloat(row[4], 64)
			if err != nil {
				return nil, fmt.Errorf("activity row %d: bad gap_hours: %w", line, err)
			}
			if hours < 0 {
				return nil, fmt.Errorf("activity row %d: negative gap_hours", line)
			}
			gap = time.Duration(hours * float64(time.Hour))
		}

		out = append(out, types.ActivityRecord{
			VesselID:    row[0],
			Timestamp:   ts,
			Lat:         lat,
			Lon:         lon,
			GapDuration: gap,
		})
	}
	return out, nil
}
