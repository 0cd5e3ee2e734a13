package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StockMetrics records inventory ledger and purchase-limit activity.
type StockMetrics struct {
	mutations        *prometheus.CounterVec
	stockConflicts   *prometheus.CounterVec
	limitRejections  *prometheus.CounterVec
	dispenseDuration *prometheus.HistogramVec
}

// NewStockMetrics registers the inventory metrics on the provided registerer.
func NewStockMetrics(reg prometheus.Registerer) *StockMetrics {
	if reg == nil {
		return &StockMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_mutations_total",
		Help: "Committed stock batch mutations by adjustment reason.",
	}, []string{"reason"})
	stockConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_conflicts_total",
		Help: "Stock mutations rejected by the quantity guard.",
	}, []string{"operation"})
	limitRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_limit_rejections_total",
		Help: "Cart lines rejected by the purchase limit engine.",
	}, []string{"code"})
	dispenseDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "order_dispense_duration_seconds",
		Help:    "Duration of full-order dispense calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"delivery_method"})
	reg.MustRegister(mutations, stockConflicts, limitRejections, dispenseDuration)
	return &StockMetrics{
		mutations:        mutations,
		stockConflicts:   stockConflicts,
		limitRejections:  limitRejections,
		dispenseDuration: dispenseDuration,
	}
}

// IncMutation increments the committed-mutation counter for the reason.
func (s *StockMetrics) IncMutation(reason string) {
	if s == nil || s.mutations == nil {
		return
	}
	s.mutations.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncConflict increments the guard-rejection counter for the operation.
func (s *StockMetrics) IncConflict(operation string) {
	if s == nil || s.stockConflicts == nil {
		return
	}
	s.stockConflicts.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncLimitRejection increments the purchase-limit counter for the issue code.
func (s *StockMetrics) IncLimitRejection(code string) {
	if s == nil || s.limitRejections == nil {
		return
	}
	s.limitRejections.WithLabelValues(normalizeLabel(code)).Inc()
}

// ObserveDispense records the duration of one dispense call.
func (s *StockMetrics) ObserveDispense(deliveryMethod string, duration time.Duration) {
	if s == nil || s.dispenseDuration == nil {
		return
	}
	s.dispenseDuration.WithLabelValues(normalizeLabel(deliveryMethod)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
