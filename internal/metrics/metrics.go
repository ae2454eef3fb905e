// Package metrics exposes Prometheus collectors for pair activity.
package metrics

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pairLedger/internal/amm"
)

const outcomeOK = "ok"

// PairMetrics records pair operation outcomes and reserves. It implements
// amm.Observer.
type PairMetrics struct {
	Operations  *prometheus.CounterVec
	Reserves    *prometheus.GaugeVec
	Steps       *prometheus.CounterVec
	StepLatency prometheus.Histogram
}

var _ amm.Observer = (*PairMetrics)(nil)

// NewPairMetrics registers the collectors on reg.
func NewPairMetrics(reg prometheus.Registerer, namespace string) *PairMetrics {
	factory := promauto.With(reg)
	return &PairMetrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_operations_total",
			Help:      "Pair operations by outcome; failures are labelled with their error category",
		}, []string{"pair", "op", "outcome"}),
		Reserves: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pair_reserve",
			Help:      "Recorded pair reserve in raw token units",
		}, []string{"pair", "token"}),
		Steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenario_steps_total",
			Help:      "Scenario steps by action and outcome",
		}, []string{"action", "outcome"}),
		StepLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scenario_step_seconds",
			Help:      "Scenario step execution time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
}

// ObserveOperation counts one pair operation.
func (m *PairMetrics) ObserveOperation(pair common.Address, op string, err error) {
	m.Operations.WithLabelValues(pair.Hex(), op, outcome(err)).Inc()
}

// ObserveReserves sets the reserve gauges of a pair.
func (m *PairMetrics) ObserveReserves(pair common.Address, reserve0, reserve1 *uint256.Int) {
	m.Reserves.WithLabelValues(pair.Hex(), "0").Set(toFloat(reserve0))
	m.Reserves.WithLabelValues(pair.Hex(), "1").Set(toFloat(reserve1))
}

// ObserveStep counts one scenario step and its duration.
func (m *PairMetrics) ObserveStep(action string, err error, elapsed time.Duration) {
	m.Steps.WithLabelValues(action, outcome(err)).Inc()
	m.StepLatency.Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	return string(amm.Category(err))
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
