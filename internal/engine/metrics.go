package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка
// ============================================================

// ============ Метрики цикла ============

// CycleDuration - длительность полного цикла стратегии
var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "fundarb",
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Full strategy cycle duration in seconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	},
)

// CyclesTotal - количество циклов по результату
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundarb",
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Total number of strategy cycles",
	},
	[]string{"result"}, // success, failed, skipped
)

// OpportunitiesEvaluated - оценённые возможности
var OpportunitiesEvaluated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundarb",
		Subsystem: "engine",
		Name:      "opportunities_evaluated_total",
		Help:      "Number of funding opportunities evaluated",
	},
	[]string{"symbol", "verdict"}, // executed, rejected, excluded
)

// ============ Метрики спредов ============

// FundingSpreadObserved - наблюдаемые спреды ставок за период
var FundingSpreadObserved = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "fundarb",
		Subsystem: "engine",
		Name:      "funding_spread_per_period",
		Help:      "Observed funding rate spread per 8h period",
		Buckets:   []float64{-0.001, -0.0005, 0, 0.0001, 0.0002, 0.0005, 0.001, 0.002, 0.005},
	},
	[]string{"symbol", "venue_pair"},
)

// ============ Метрики исполнения ============

// PairsOpened - открытые связки по исходу попытки
var PairsOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundarb",
		Subsystem: "executor",
		Name:      "pairs_opened_total",
		Help:      "Pair open attempts by terminal state",
	},
	[]string{"symbol", "state"}, // both_filled, partial_both_filled, asymmetric, both_failed
)

// PairsClosed - закрытые связки по причине
var PairsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundarb",
		Subsystem: "executor",
		Name:      "pairs_closed_total",
		Help:      "Pairs closed by reason",
	},
	[]string{"symbol", "reason"}, // decayed, stop_loss, replaced
)

// LegRepairs - попытки восстановления недостающей ноги
var LegRepairs = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundarb",
		Subsystem: "executor",
		Name:      "leg_repairs_total",
		Help:      "Missing leg repair attempts by outcome",
	},
	[]string{"symbol", "outcome"}, // repaired, retried, flattened
)

// AsymmetricOpen - незакрытые асимметрии в данный момент
var AsymmetricOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "fundarb",
		Subsystem: "executor",
		Name:      "asymmetric_fills_open",
		Help:      "Currently unresolved asymmetric fills",
	},
)

// PairsExcluded - постоянно исключённые ключи
var PairsExcluded = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "fundarb",
		Subsystem: "executor",
		Name:      "pairs_excluded",
		Help:      "Permanently excluded (symbol, venue-pair) keys",
	},
)

// ============ Метрики капитала ============

// VenueBalance - доступный залог на бирже
var VenueBalance = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "fundarb",
		Subsystem: "capital",
		Name:      "venue_balance_usd",
		Help:      "Available collateral per venue in USD",
	},
	[]string{"venue"},
)

// CapitalDeployed - суммарный номинал открытых связок
var CapitalDeployed = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "fundarb",
		Subsystem: "capital",
		Name:      "deployed_notional_usd",
		Help:      "Total notional of open position pairs in USD",
	},
)

// TransfersTotal - переводы залога между биржами
var TransfersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundarb",
		Subsystem: "capital",
		Name:      "transfers_total",
		Help:      "Collateral transfers between venues",
	},
	[]string{"from", "to", "result"},
)

// ============ Вспомогательные функции ============

// RecordCycle записывает итог цикла
func RecordCycle(result string, seconds float64) {
	CyclesTotal.WithLabelValues(result).Inc()
	CycleDuration.Observe(seconds)
}

// RecordSpread записывает наблюдаемый спред пары
func RecordSpread(symbol, venuePair string, spread float64) {
	FundingSpreadObserved.WithLabelValues(symbol, venuePair).Observe(spread)
}

// RecordAttempt записывает терминальное состояние попытки открытия
func RecordAttempt(symbol, state string) {
	PairsOpened.WithLabelValues(symbol, state).Inc()
}

// UpdateLegState обновляет gauge-метрики учёта ног
func UpdateLegState(book *LegStateBook) {
	AsymmetricOpen.Set(float64(book.AsymmetricCount()))
	PairsExcluded.Set(float64(len(book.Exclusions())))
}
