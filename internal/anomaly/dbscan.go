// Package anomaly implements the Anomaly Detector: it extracts AIS
// reporting-gap events from vessel activity records, clusters them with
// density-based clustering, and scores clusters by density, proximity to
// protected-area boundaries, and environmental deviation.
package anomaly

import (
	"math"
	"time"
)

// gapEvent is one reporting gap projected into clustering space. Position is
// in degrees; the temporal axis is scaled into degree-equivalent units so a
// single radius covers both dimensions.
type gapEvent struct {
	VesselID string
	Time     time.Time
	Lat      float64
	Lon      float64
	Gap      time.Duration
}

const (
	clusterNoise      = -1
	clusterUnassigned = 0
)

// dbscan assigns cluster labels to events with classic density-based
// clustering. Events must be pre-sorted so label assignment is
// deterministic. Distance mixes space and time: degrees of spatial
// separation, with hoursPerEps hours of temporal separation counting as one
// eps radius. Returns per-event labels (1-based cluster IDs, clusterNoise
// for noise) and the cluster count.
func dbscan(events []gapEvent, eps float64, minPts int, hoursPerEps float64) ([]int, int) {
	labels := make([]int, len(events))
	timeScale := eps / hoursPerEps
	next := 0

	for i := range events {
		if labels[i] != clusterUnassigned {
			continue
		}
		neighbors := regionQuery(events, i, eps, timeScale)
		if len(neighbors) < minPts {
			labels[i] = clusterNoise
			continue
		}

		next++
		labels[i] = next

		// Expand the cluster breadth-first from the seed's neighborhood.
		queue := append([]int(nil), neighbors...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == clusterNoise {
				labels[j] = next
			}
			if labels[j] != clusterUnassigned {
				continue
			}
			labels[j] = next
			jNeighbors := regionQuery(events, j, eps, timeScale)
			if len(jNeighbors) >= minPts {
				queue = append(queue, jNeighbors...)
			}
		}
	}

	return labels, next
}

// regionQuery returns indices of all events within eps of event i,
// including i itself.
func regionQuery(events []gapEvent, i int, eps, timeScale float64) []int {
	var out []int
	for j := range events {
		if eventDistance(&events[i], &events[j], timeScale) <= eps {
			out = append(out, j)
		}
	}
	return out
}

// eventDistance is the Euclidean distance in (lat, lon, scaled-time) space,
// with timeScale converting hours of separation into degrees.
func eventDistance(a, b *gapEvent, timeScale float64) float64 {
	dLat := a.Lat - b.Lat
	dLon := a.Lon - b.Lon
	dT := a.Time.Sub(b.Time).Hours() * timeScale
	return math.Sqrt(dLat*dLat + dLon*dLon + dT*dT)
}
