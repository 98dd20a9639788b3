package report

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/rb-admission/model"
)

// Summary aggregates a batch of run results.
type Summary struct {
	Runs          int
	Admitted      int
	Denied        int
	Expired       int
	AdmissionRate float64

	// Unit statistics are over admitted runs only.
	MeanUnits   float64
	StdDevUnits float64
	MedianUnits float64
	MaxUnits    int

	MeanAttempts float64
	// PerAccessPoint counts admissions by selected access point.
	PerAccessPoint map[string]int
}

// Summarize computes a Summary. An empty batch yields a zero Summary with
// an empty PerAccessPoint map.
func Summarize(results []model.RunResult) Summary {
	s := Summary{Runs: len(results), PerAccessPoint: map[string]int{}}
	if len(results) == 0 {
		return s
	}

	var units, attempts []float64
	for _, r := range results {
		attempts = append(attempts, float64(len(r.Attempts)))
		if !r.Success {
			s.Denied++
			continue
		}
		s.Admitted++
		s.PerAccessPoint[r.AccessPointID]++
		if r.Ending == model.EndingExpired {
			s.Expired++
		}
		units = append(units, float64(r.RequiredUnits))
		if r.RequiredUnits > s.MaxUnits {
			s.MaxUnits = r.RequiredUnits
		}
	}

	s.AdmissionRate = float64(s.Admitted) / float64(s.Runs)
	s.MeanAttempts = stat.Mean(attempts, nil)
	if len(units) > 0 {
		s.MeanUnits = stat.Mean(units, nil)
		if len(units) > 1 {
			s.StdDevUnits = stat.StdDev(units, nil)
		}
		sort.Float64s(units)
		s.MedianUnits = stat.Quantile(0.5, stat.Empirical, units, nil)
	}
	return s
}

// Utilization is the peak and mean fraction of an access point's capacity
// that was reserved, read from its journal.
type Utilization struct {
	AccessPointID string
	Peak          float64
	Mean          float64
}

// JournalUtilization derives utilization from the remaining units recorded
// on every journal entry. totalUnits must be positive.
func JournalUtilization(accessPointID string, totalUnits int, entries []model.JournalEntry) Utilization {
	u := Utilization{AccessPointID: accessPointID}
	if totalUnits <= 0 || len(entries) == 0 {
		return u
	}
	used := make([]float64, 0, len(entries))
	for _, e := range entries {
		frac := float64(totalUnits-e.RemainingUnits) / float64(totalUnits)
		used = append(used, frac)
		if frac > u.Peak {
			u.Peak = frac
		}
	}
	u.Mean = stat.Mean(used, nil)
	return u
}
