package anomaly

import (
	"encoding/json"
	"log/slog"
	"math"
	"sort"

	"medguard/internal/config"
	"medguard/internal/grid"
	"medguard/internal/types"
)

// Cluster is one group of suspicious reporting gaps with its composite risk
// score. MinBoundaryKm is +Inf when no protected boundary lies within the
// proximity threshold.
type Cluster struct {
	ID            int                    `json:"id"`
	Members       []types.ActivityRecord `json:"members"`
	Score         float64                `json:"score"`
	CentroidLat   float64                `json:"centroid_lat"`
	CentroidLon   float64                `json:"centroid_lon"`
	MinBoundaryKm float64                `json:"min_boundary_km"`
	NearestSite   string                 `json:"nearest_site,omitempty"`
}

// Size returns the member count.
func (c *Cluster) Size() int { return len(c.Members) }

// MarshalJSON emits an infinite boundary distance as null; JSON has no
// representation for +Inf.
func (c Cluster) MarshalJSON() ([]byte, error) {
	type alias Cluster
	out := struct {
		alias
		MinBoundaryKm *float64 `json:"min_boundary_km"`
	}{alias: alias(c)}
	if !math.IsInf(c.MinBoundaryKm, 1) {
		out.MinBoundaryKm = &c.MinBoundaryKm
	}
	return json.Marshal(out)
}

// Detector finds spatially and temporally clustered AIS reporting gaps and
// scores them against protected-area boundaries and the environmental state.
type Detector struct {
	cfg    config.AnomalyConfig
	logger *slog.Logger
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg config.AnomalyConfig, logger *slog.Logger) *Detector {
	return &Detector{cfg: cfg, logger: logger}
}

// Detect extracts gap events from the activity records, clusters them, and
// returns clusters ranked by descending score. An empty record set fails
// with input_empty_activity_window so a data outage is never mistaken for a
// clean result. The snapshot and boundary set may be nil; the corresponding
// score components are then zero and a warning is recorded.
func (d *Detector) Detect(records []types.ActivityRecord, boundaries *grid.BoundarySet, snap *grid.Snapshot) ([]Cluster, []types.Warning, error) {
	if len(records) == 0 {
		return nil, nil, types.NewError(
			types.ErrCodeEmptyActivityWindow,
			"no activity records in the requested window",
			nil,
		)
	}

	events := d.gapEvents(records)
	if len(events) == 0 {
		d.logger.Info("no reporting gaps above threshold",
			"records", len(records),
			"gap_threshold", d.cfg.GapThreshold.String(),
		)
		return nil, nil, nil
	}

	// Fixed ordering before clustering makes label assignment, and thus the
	// whole output, a pure function of the input.
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Time.Equal(events[j].Time) {
			return events[i].Time.Before(events[j].Time)
		}
		return events[i].VesselID < events[j].VesselID
	})

	labels, numClusters := dbscan(events, d.cfg.EpsDegrees, d.cfg.MinClusterSize, d.cfg.HoursPerEps)

	var warnings []types.Warning
	if boundaries == nil || boundaries.Count() == 0 {
		warnings = append(warnings, types.Warning{
			Component: "anomaly",
			Message:   "no protected boundaries available; proximity score component is zero",
		})
	}

	effortMean, effortMax := effortStatistics(snap)
	if math.IsNaN(effortMean) {
		warnings = append(warnings, types.Warning{
			Component: "anomaly",
			Message:   "fishing-effort layer absent; environmental-deviation score component is zero",
		})
	}

	clusters := make([]Cluster, 0, numClusters)
	for id := 1; id <= numClusters; id++ {
		var members []types.ActivityRecord
		var sumLat, sumLon float64
		for i, label := range labels {
			if label != id {
				continue
			}
			e := events[i]
			members = append(members, types.ActivityRecord{
				VesselID:    e.VesselID,
				Timestamp:   e.Time,
				Lat:         e.Lat,
				Lon:         e.Lon,
				GapDuration: e.Gap,
			})
			sumLat += e.Lat
			sumLon += e.Lon
		}

		c := Cluster{
			ID:            id,
			Members:       members,
			CentroidLat:   sumLat / float64(len(members)),
			CentroidLon:   sumLon / float64(len(members)),
			MinBoundaryKm: math.Inf(1),
		}

		if boundaries != nil && boundaries.Count() > 0 {
			dist, site := boundaries.NearestDistanceKm(c.CentroidLat, c.CentroidLon, d.cfg.BoundaryProximityKm)
			c.MinBoundaryKm = dist
			c.NearestSite = site
		}

		c.Score = d.score(&c, len(events), effortMean, effortMax, snap)
		clusters = append(clusters, c)
	}

	sort.Slice(clusters, func(i, j int) bool {
		a, b := &clusters[i], &clusters[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Size() != b.Size() {
			return a.Size() > b.Size()
		}
		return a.MinBoundaryKm < b.MinBoundaryKm
	})

	d.logger.Info("anomaly clusters detected",
		"records", len(records),
		"gap_events", len(events),
		"clusters", len(clusters),
	)

	return clusters, warnings, nil
}

// gapEvents keeps the records whose reporting gap exceeds the configured
// threshold.
func (d *Detector) gapEvents(records []types.ActivityRecord) []gapEvent {
	var out []gapEvent
	for _, r := range records {
		if r.GapDuration > d.cfg.GapThreshold {
			out = append(out, gapEvent{
				VesselID: r.VesselID,
				Time:     r.Timestamp,
				Lat:      r.Lat,
				Lon:      r.Lon,
				Gap:      r.GapDuration,
			})
		}
	}
	return out
}

// score combines three components, each in [0, 1]:
//   - density: the cluster's share of all gap events in the window.
//   - boundary proximity: linear ramp from 0 at the proximity threshold to 1
//     at a boundary; zero beyond the threshold.
//   - environmental deviation: excess of local fishing effort over the
//     domain mean at the cluster centroid, relative to the domain maximum.
func (d *Detector) score(c *Cluster, totalEvents int, effortMean, effortMax float64, snap *grid.Snapshot) float64 {
	density := float64(c.Size()) / float64(totalEvents)

	var proximity float64
	if !math.IsInf(c.MinBoundaryKm, 1) {
		proximity = 1 - c.MinBoundaryKm/d.cfg.BoundaryProximityKm
		proximity = math.Max(0, math.Min(1, proximity))
	}

	var deviation float64
	if snap != nil && !math.IsNaN(effortMean) && effortMax > effortMean {
		if effort, ok := snap.Layer(types.LayerFishingEffort); ok {
			cell, inside := snap.Grid.CellAt(c.CentroidLat, c.CentroidLon)
			if inside {
				obs := effort.Latest()[cell]
				if !types.IsMissing(obs) && obs > effortMean {
					deviation = (obs - effortMean) / (effortMax - effortMean)
				}
			}
		}
	}

	return density + proximity + deviation
}

// effortStatistics returns the mean and maximum of the latest fishing-effort
// field, or NaN when the layer is absent or has no valid cells.
func effortStatistics(snap *grid.Snapshot) (mean, max float64) {
	mean, max = math.NaN(), math.NaN()
	if snap == nil {
		return mean, max
	}
	effort, ok := snap.Layer(types.LayerFishingEffort)
	if !ok {
		return mean, max
	}
	var sum, best float64
	var n int
	for _, v := range effort.Latest() {
		if types.IsMissing(v) {
			continue
		}
		sum += v
		if n == 0 || v > best {
			best = v
		}
		n++
	}
	if n == 0 {
		return mean, max
	}
	return sum / float64(n), best
}
