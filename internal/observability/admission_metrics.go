package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/rb-admission/model"
)

// AdmissionCollector exposes pool, admission and sweeper metrics. It
// implements the recorder interfaces of core.Pool, admission.Controller and
// sweeper.Sweeper; a nil collector records nothing.
type AdmissionCollector struct {
	gatherer prometheus.Gatherer

	PoolEvents         *prometheus.CounterVec
	PoolUnits          *prometheus.CounterVec
	AvailableUnits     *prometheus.GaugeVec
	TotalUnits         *prometheus.GaugeVec
	ActiveReservations *prometheus.GaugeVec
	AttachDuration     *prometheus.HistogramVec
	Admissions         *prometheus.CounterVec
	AdmissionAttempts  prometheus.Histogram
	AdmissionDuration  prometheus.Histogram
	SweepDuration      prometheus.Histogram
	SweepFreed         prometheus.Counter
}

// NewAdmissionCollector registers the engine metrics against reg.
func NewAdmissionCollector(reg prometheus.Registerer) (*AdmissionCollector, error) {
	reg, gatherer := resolveRegistry(reg)
	c := &AdmissionCollector{gatherer: gatherer}
	var err error

	if c.PoolEvents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rb_pool_events_total",
		Help: "Journal events per access point, labeled by event kind.",
	}, []string{"access_point", "event"}), "rb_pool_events_total"); err != nil {
		return nil, err
	}
	if c.PoolUnits, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rb_pool_event_units_total",
		Help: "Resource blocks moved by journal events, labeled by event kind.",
	}, []string{"access_point", "event"}), "rb_pool_event_units_total"); err != nil {
		return nil, err
	}
	if c.AvailableUnits, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rb_pool_available_units",
		Help: "Currently unreserved resource blocks per access point.",
	}, []string{"access_point"}), "rb_pool_available_units"); err != nil {
		return nil, err
	}
	if c.TotalUnits, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rb_pool_total_units",
		Help: "Fixed resource block capacity per access point.",
	}, []string{"access_point"}), "rb_pool_total_units"); err != nil {
		return nil, err
	}
	if c.ActiveReservations, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rb_pool_active_reservations",
		Help: "Active leases per access point.",
	}, []string{"access_point"}), "rb_pool_active_reservations"); err != nil {
		return nil, err
	}
	if c.AttachDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rb_path_attach_duration_seconds",
		Help:    "Capacity path attach latency, labeled by result.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"access_point", "result"}), "rb_path_attach_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Admissions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rb_admissions_total",
		Help: "Admission requests by outcome (admitted, denied, abandoned).",
	}, []string{"outcome"}), "rb_admissions_total"); err != nil {
		return nil, err
	}
	if c.AdmissionAttempts, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rb_admission_attempts",
		Help:    "Candidate access points tried per admission request.",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8},
	}), "rb_admission_attempts"); err != nil {
		return nil, err
	}
	if c.AdmissionDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rb_admission_duration_seconds",
		Help:    "End-to-end admission latency including capacity path attach.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}), "rb_admission_duration_seconds"); err != nil {
		return nil, err
	}
	if c.SweepDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rb_sweep_duration_seconds",
		Help:    "Duration of one expiry sweep pass over all access points.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "rb_sweep_duration_seconds"); err != nil {
		return nil, err
	}
	if c.SweepFreed, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rb_sweep_freed_total",
		Help: "Leases freed by the expiry sweeper.",
	}), "rb_sweep_freed_total"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *AdmissionCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RecordPoolEvent counts one journal event.
func (c *AdmissionCollector) RecordPoolEvent(accessPointID string, kind model.EventKind, units int) {
	if c == nil {
		return
	}
	event := kind.String()
	c.PoolEvents.WithLabelValues(accessPointID, event).Inc()
	if units > 0 {
		c.PoolUnits.WithLabelValues(accessPointID, event).Add(float64(units))
	}
}

// SetPoolUnits mirrors a pool's capacity after a change.
func (c *AdmissionCollector) SetPoolUnits(accessPointID string, available, total, activeReservations int) {
	if c == nil {
		return
	}
	c.AvailableUnits.WithLabelValues(accessPointID).Set(float64(available))
	c.TotalUnits.WithLabelValues(accessPointID).Set(float64(total))
	c.ActiveReservations.WithLabelValues(accessPointID).Set(float64(activeReservations))
}

// ObservePathAttach records one attach call.
func (c *AdmissionCollector) ObservePathAttach(accessPointID string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.AttachDuration.WithLabelValues(accessPointID, result).Observe(d.Seconds())
}

// ObserveAdmission records one controller decision.
func (c *AdmissionCollector) ObserveAdmission(outcome string, attempts int, d time.Duration) {
	if c == nil {
		return
	}
	c.Admissions.WithLabelValues(outcome).Inc()
	c.AdmissionAttempts.Observe(float64(attempts))
	c.AdmissionDuration.Observe(d.Seconds())
}

// ObserveSweep records one sweep pass.
func (c *AdmissionCollector) ObserveSweep(d time.Duration, freed int) {
	if c == nil {
		return
	}
	c.SweepDuration.Observe(d.Seconds())
	if freed > 0 {
		c.SweepFreed.Add(float64(freed))
	}
}
