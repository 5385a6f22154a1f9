package models

import "time"

// FundingSample - одно наблюдение ставки финансирования,
// сохраняется каждым циклом сканера для исторической статистики
type FundingSample struct {
	ID        int64     `json:"id"`
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Rate      float64   `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

// Типы событий торгового журнала
const (
	TradeEventPairOpened   = "PAIR_OPENED"
	TradeEventPairClosed   = "PAIR_CLOSED"
	TradeEventPairToppedUp = "PAIR_TOPPED_UP"
	TradeEventLegRepaired  = "LEG_REPAIRED"
	TradeEventLegFlattened = "LEG_FLATTENED"
	TradeEventPairExcluded = "PAIR_EXCLUDED"
)

// TradeRecord - запись торгового журнала.
// Журнал хранит жизненный цикл позиций для аудита и выгрузки в API.
type TradeRecord struct {
	ID          int64     `json:"id"`
	EventType   string    `json:"event_type"`
	Symbol      string    `json:"symbol"`
	LongVenue   string    `json:"long_venue"`
	ShortVenue  string    `json:"short_venue"`
	Notional    float64   `json:"notional"`
	ExpectedAPY float64   `json:"expected_apy"`
	Details     string    `json:"details,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
