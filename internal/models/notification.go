package models

import "time"

// Notification - событие для журнала и real-time рассылки клиентам
type Notification struct {
	ID        int       `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Severity  string    `json:"severity" db:"severity"` // info, warning, critical
	Type      string    `json:"type" db:"type"`
	Symbol    string    `json:"symbol,omitempty" db:"symbol"`
	VenuePair string    `json:"venue_pair,omitempty" db:"venue_pair"`
	Message   string    `json:"message" db:"message"`
}

// Уровни важности
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	// Critical - неустранённый риск направленной экспозиции,
	// требуется ручное вмешательство
	SeverityCritical = "critical"
)

// Типы событий
const (
	NotifyPairOpened     = "PAIR_OPENED"
	NotifyPairClosed     = "PAIR_CLOSED"
	NotifyPairToppedUp   = "PAIR_TOPPED_UP"
	NotifyAsymmetricFill = "ASYMMETRIC_FILL"
	NotifyLegRepaired    = "LEG_REPAIRED"
	NotifyLegFlattened   = "LEG_FLATTENED"
	NotifyFlattenFailed  = "FLATTEN_FAILED"
	NotifyPairExcluded   = "PAIR_EXCLUDED"
	NotifyRebalance      = "REBALANCE"
	NotifyCycleError     = "CYCLE_ERROR"
)
