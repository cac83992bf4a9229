package metrics

import (
	"database/sql"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "parking_"

	resultSuccess  = "success"
	resultError    = "error"
	resultRejected = "rejected"
)

var (
	registerOnce sync.Once

	vehicleEvents *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	feesCharged   *prometheus.HistogramVec
	stayMinutes   prometheus.Histogram

	lotOccupancy     *prometheus.GaugeVec
	lotClosed        *prometheus.GaugeVec
	lotClosedMinutes *prometheus.GaugeVec
	lotRevenue       *prometheus.GaugeVec

	districtOccupancy     prometheus.Gauge
	districtCapacity      prometheus.Gauge
	districtClosed        prometheus.Gauge
	districtClosedMinutes prometheus.Gauge
	districtRevenue       prometheus.Gauge

	closureTransitions *prometheus.CounterVec

	journalAppendTotal   *prometheus.CounterVec
	journalAppendLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	streamClients prometheus.Gauge
)

// Init registers parking metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		vehicleEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "vehicle_events_total",
				Help: "Total vehicle entry/exit calls by kind and result",
			},
			[]string{"kind", "result"},
		)
		rejections = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rejections_total",
				Help: "Total rejected vehicle events by kind and reason",
			},
			[]string{"kind", "reason"},
		)
		feesCharged = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "fee_charged",
				Help:    "Fee charged per exit",
				Buckets: []float64{0, 0.5, 1, 2, 5, 10, 20, 50},
			},
			[]string{"lot"},
		)
		stayMinutes = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "stay_minutes",
				Help:    "Stay length in minutes per exit",
				Buckets: []float64{15, 30, 60, 120, 240, 480, 960},
			},
		)

		lotOccupancy = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "lot_occupancy",
				Help: "Vehicles currently parked per lot",
			},
			[]string{"lot", "index"},
		)
		lotClosed = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "lot_closed",
				Help: "1 when the lot is at or above the closed threshold",
			},
			[]string{"lot", "index"},
		)
		lotClosedMinutes = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "lot_closed_minutes",
				Help: "Accrued closed minutes per lot",
			},
			[]string{"lot", "index"},
		)
		lotRevenue = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "lot_revenue",
				Help: "Fees collected per lot",
			},
			[]string{"lot", "index"},
		)

		districtOccupancy = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "district_occupancy",
			Help: "Vehicles currently parked in the district",
		})
		districtCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "district_capacity",
			Help: "Summed capacity of all lots",
		})
		districtClosed = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "district_closed",
			Help: "1 when every lot is closed",
		})
		districtClosedMinutes = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "district_closed_minutes",
			Help: "Accrued district closed minutes",
		})
		districtRevenue = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "district_revenue",
			Help: "Fees collected across the district",
		})

		closureTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "closure_transitions_total",
				Help: "Closed/reopened transitions by scope",
			},
			[]string{"scope", "transition"},
		)

		journalAppendTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "journal_append_total",
				Help: "Total journal appends by result",
			},
			[]string{"result"},
		)
		journalAppendLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "journal_append_latency_seconds",
				Help:    "Journal append latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total district report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "District report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		streamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "stream_clients",
			Help: "Connected event stream clients",
		})

		prometheus.MustRegister(
			vehicleEvents,
			rejections,
			feesCharged,
			stayMinutes,
			lotOccupancy,
			lotClosed,
			lotClosedMinutes,
			lotRevenue,
			districtOccupancy,
			districtCapacity,
			districtClosed,
			districtClosedMinutes,
			districtRevenue,
			closureTransitions,
			journalAppendTotal,
			journalAppendLatency,
			exportTotal,
			exportLatency,
			streamClients,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncVehicleEvent counts an accepted vehicle event.
func IncVehicleEvent(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if vehicleEvents != nil {
		vehicleEvents.WithLabelValues(kind, resultSuccess).Inc()
	}
}

// IncRejection counts a rejected vehicle event.
func IncRejection(kind, reason string) {
	if kind == "" {
		kind = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	if vehicleEvents != nil {
		vehicleEvents.WithLabelValues(kind, resultRejected).Inc()
	}
	if rejections != nil {
		rejections.WithLabelValues(kind, reason).Inc()
	}
}

// ObserveExit records fee and stay length of an accepted exit.
func ObserveExit(lot string, fee float64, stay int) {
	if feesCharged != nil {
		feesCharged.WithLabelValues(lot).Observe(fee)
	}
	if stayMinutes != nil {
		stayMinutes.Observe(float64(stay))
	}
}

// SetLotState publishes the current state of one lot.
func SetLotState(index int, lot string, occupancy int, closed bool, closedMinutes int, revenue float64) {
	idx := strconv.Itoa(index)
	if lotOccupancy != nil {
		lotOccupancy.WithLabelValues(lot, idx).Set(float64(occupancy))
	}
	if lotClosed != nil {
		lotClosed.WithLabelValues(lot, idx).Set(boolGauge(closed))
	}
	if lotClosedMinutes != nil {
		lotClosedMinutes.WithLabelValues(lot, idx).Set(float64(closedMinutes))
	}
	if lotRevenue != nil {
		lotRevenue.WithLabelValues(lot, idx).Set(revenue)
	}
}

// SetDistrictState publishes district aggregates.
func SetDistrictState(occupancy, capacity int, closed bool, closedMinutes int, revenue float64) {
	if districtOccupancy != nil {
		districtOccupancy.Set(float64(occupancy))
	}
	if districtCapacity != nil {
		districtCapacity.Set(float64(capacity))
	}
	if districtClosed != nil {
		districtClosed.Set(boolGauge(closed))
	}
	if districtClosedMinutes != nil {
		districtClosedMinutes.Set(float64(closedMinutes))
	}
	if districtRevenue != nil {
		districtRevenue.Set(revenue)
	}
}

// IncClosureTransition counts closed/reopened edges for a lot or the district.
func IncClosureTransition(scope, transition string) {
	if closureTransitions != nil {
		closureTransitions.WithLabelValues(scope, transition).Inc()
	}
}

// ObserveJournalAppend records journal append latency and result.
func ObserveJournalAppend(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if journalAppendTotal != nil {
		journalAppendTotal.WithLabelValues(result).Inc()
	}
	if journalAppendLatency != nil {
		journalAppendLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// SetStreamClients publishes the number of connected stream clients.
func SetStreamClients(count int) {
	if streamClients != nil {
		streamClients.Set(float64(count))
	}
}

func boolGauge(value bool) float64 {
	if value {
		return 1
	}
	return 0
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
