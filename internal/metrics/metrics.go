package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scanOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_scan_outcomes_total",
			Help: "Total scans by outcome",
		},
		[]string{"outcome"},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticket_scan_duration_seconds",
			Help:    "Duration of scan verification",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	ticketOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_operations_total",
			Help: "Total ticket lifecycle operations",
		},
		[]string{"operation", "status"},
	)

	bulkOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_bulk_outcomes_total",
			Help: "Participants processed by bulk attendance, by outcome",
		},
		[]string{"outcome"},
	)

	bulkBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticket_bulk_batch_size",
			Help:    "Number of participants per bulk attendance request",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	attendancePublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_events_published_total",
			Help: "Attendance recorded events handed to the queue",
		},
		[]string{"status"},
	)
)

// ObserveScan 記錄一次驗票
func ObserveScan(outcome string, duration time.Duration) {
	scanOutcomes.WithLabelValues(outcome).Inc()
	scanDuration.Observe(duration.Seconds())
}

// TrackTicketOperation operation: issue | regenerate | revoke | download
func TrackTicketOperation(operation, status string) {
	ticketOperations.WithLabelValues(operation, status).Inc()
}

func ObserveBulk(batchSize int, outcomes map[string]int) {
	bulkBatchSize.Observe(float64(batchSize))
	for outcome, n := range outcomes {
		bulkOutcomes.WithLabelValues(outcome).Add(float64(n))
	}
}

func TrackPublish(status string) {
	attendancePublished.WithLabelValues(status).Inc()
}
