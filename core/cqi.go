package core

import (
	"fmt"
	"math"
)

// QualityClass is a discrete channel-quality tier (CQI) derived from the
// signal strength a station reports for an access point.
type QualityClass int

// BestQualityClass is returned for signals stronger than every threshold.
const BestQualityClass QualityClass = 15

// DefaultPerUnitCapacityMbps applies to classes missing from the capacity table.
const DefaultPerUnitCapacityMbps = 1.0

// qualityThresholds is ordered weakest first. A signal maps to the class of
// the first threshold it falls below.
var qualityThresholds = []struct {
	belowDBm float64
	class    QualityClass
}{
	{-100, 1},
	{-90, 3},
	{-80, 5},
	{-70, 7},
	{-60, 10},
	{-50, 12},
}

// perUnitCapacityMbps is the throughput one resource block carries per class.
var perUnitCapacityMbps = map[QualityClass]float64{
	5:  0.3,
	7:  0.6,
	9:  0.9,
	10: 1.0,
	12: 1.2,
	15: 1.4,
}

// ceilTolerance absorbs float error in the division so that exact multiples
// such as 15/0.6 do not round up to an extra block.
const ceilTolerance = 1e-9

// QualityClassFor maps a signal strength in dBm to its quality class.
func QualityClassFor(signalDBm float64) QualityClass {
	for _, th := range qualityThresholds {
		if signalDBm < th.belowDBm {
			return th.class
		}
	}
	return BestQualityClass
}

// PerUnitCapacity returns the per-RB throughput for class in Mbps.
func PerUnitCapacity(class QualityClass) float64 {
	if c, ok := perUnitCapacityMbps[class]; ok {
		return c
	}
	return DefaultPerUnitCapacityMbps
}

// RequiredUnits returns ceil(bandwidthMbps / PerUnitCapacity(class)), never
// less than one block.
func RequiredUnits(bandwidthMbps float64, class QualityClass) (int, error) {
	if math.IsNaN(bandwidthMbps) || math.IsInf(bandwidthMbps, 0) || bandwidthMbps <= 0 {
		return 0, fmt.Errorf("%w: bandwidth must be positive, got %v", ErrInvalidRequest, bandwidthMbps)
	}
	units := math.Ceil(bandwidthMbps/PerUnitCapacity(class) - ceilTolerance)
	if units < 1 {
		units = 1
	}
	if units > math.MaxInt32 {
		return 0, fmt.Errorf("%w: bandwidth %v Mbps exceeds any pool", ErrInvalidRequest, bandwidthMbps)
	}
	return int(units), nil
}
