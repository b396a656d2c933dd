// habitat.go computes the integrated habitat-quality index: temperature
// suitability, chlorophyll productivity, and thermal stability, averaged per
// cell. The index feeds the extended risk variant (as habitat degradation)
// and the optimizer's candidate-site quality.
package risk

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"medguard/internal/grid"
	"medguard/internal/types"
)

// Optimal thermal band for Mediterranean demersal species; suitability decays
// linearly away from the band midpoint and is zero outside the band.
const (
	habitatTempMinC = 15.0
	habitatTempMaxC = 22.0
	habitatTempMidC = (habitatTempMinC + habitatTempMaxC) / 2
)

// productivityCapQuantile caps the chlorophyll score so a few extreme blooms
// do not compress the rest of the range.
const productivityCapQuantile = 0.95

// HabitatQuality returns a per-cell quality score in [0,1] built from the
// snapshot's SST and (when present) chlorophyll layers. Cells without
// temperature data are missing. It fails with input_missing_factor when the
// SST layer is absent.
func HabitatQuality(snap *grid.Snapshot) ([]float64, []types.Warning, error) {
	sst, ok := snap.Layer(types.LayerSST)
	if !ok {
		return nil, nil, missingFactor(types.LayerSST)
	}

	var warnings []types.Warning
	numCells := snap.Grid.NumCells()

	tempMean, tempStd := temporalMoments(sst)

	chlScore := make([]float64, 0)
	if chl, ok := snap.Layer(types.LayerChlorophyll); ok {
		chlMean, _ := temporalMoments(chl)
		cap, capOK := quantile(chlMean, productivityCapQuantile)
		chlScore = make([]float64, numCells)
		for i, v := range chlMean {
			switch {
			case types.IsMissing(v) || !capOK || cap == 0:
				chlScore[i] = types.MissingValue
			case v >= cap:
				chlScore[i] = 1
			default:
				chlScore[i] = v / cap
			}
		}
	} else {
		warnings = append(warnings, types.Warning{
			Component: "risk",
			Message:   "chlorophyll layer absent; habitat quality computed without productivity",
		})
	}

	quality := make([]float64, numCells)
	for cell := 0; cell < numCells; cell++ {
		mean := tempMean[cell]
		if types.IsMissing(mean) || snap.Grid.Missing[cell] {
			quality[cell] = types.MissingValue
			continue
		}

		var sum float64
		var n int

		// Temperature suitability.
		var tempScore float64
		if mean >= habitatTempMinC && mean <= habitatTempMaxC {
			tempScore = 1 - math.Abs(mean-habitatTempMidC)/habitatTempMidC
		}
		sum += tempScore
		n++

		// Productivity.
		if len(chlScore) > 0 && !types.IsMissing(chlScore[cell]) {
			sum += chlScore[cell]
			n++
		}

		// Thermal stability: low variance relative to the mean.
		if sd := tempStd[cell]; !types.IsMissing(sd) && mean != 0 {
			sum += 1 / (1 + sd/mean)
			n++
		}

		quality[cell] = sum / float64(n)
	}

	return quality, warnings, nil
}

// temporalMoments returns the per-cell mean and standard deviation over the
// layer's time axis, skipping missing samples. Cells with no samples are
// missing; cells with one sample have missing stddev.
func temporalMoments(layer *types.FieldLayer) (mean, std []float64) {
	numCells := len(layer.Values[0])
	mean = make([]float64, numCells)
	std = make([]float64, numCells)

	series := make([]float64, 0, layer.NumSteps())
	for cell := 0; cell < numCells; cell++ {
		series = series[:0]
		for t := 0; t < layer.NumSteps(); t++ {
			if v := layer.Values[t][cell]; !types.IsMissing(v) {
				series = append(series, v)
			}
		}
		switch len(series) {
		case 0:
			mean[cell] = types.MissingValue
			std[cell] = types.MissingValue
		case 1:
			mean[cell] = series[0]
			std[cell] = types.MissingValue
		default:
			mean[cell] = stat.Mean(series, nil)
			std[cell] = stat.StdDev(series, nil)
		}
	}
	return mean, std
}
