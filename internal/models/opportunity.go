package models

import "time"

// Opportunity представляет арбитражную возможность по ставкам финансирования
//
// Создаётся агрегатором заново на каждом цикле из свежих данных бирж.
// Неизменяемая, никогда не сохраняется в БД.
//
// Конвенция знаков: ставки указаны за один период финансирования
// (8 часов). LongRate - ставка, получаемая длинной ногой; ShortRate -
// ставка, уплачиваемая короткой (отрицательная означает, что короткая
// нога получает). Spread = LongRate - ShortRate; положительный
// спред = прибыль пары за период.
type Opportunity struct {
	Symbol     string `json:"symbol"`      // ETH, BTC и т.д.
	LongVenue  string `json:"long_venue"`  // биржа для лонга
	ShortVenue string `json:"short_venue"` // биржа для шорта

	// Ставки финансирования за период (8 часов)
	LongRate  float64 `json:"long_rate"`
	ShortRate float64 `json:"short_rate"`
	Spread    float64 `json:"spread"` // LongRate - ShortRate

	// Годовая доходность спреда без учёта издержек
	ExpectedAPY float64 `json:"expected_apy"`

	// Маркет-цены на каждой бирже
	LongMarkPrice  float64 `json:"long_mark_price"`
	ShortMarkPrice float64 `json:"short_mark_price"`

	// Открытый интерес - прокси ликвидности
	LongOpenInterest  float64 `json:"long_open_interest"`
	ShortOpenInterest float64 `json:"short_open_interest"`

	Timestamp time.Time `json:"timestamp"`
}

// FundingPeriodsPerDay - количество периодов финансирования в сутках (8-часовые периоды)
const FundingPeriodsPerDay = 3

// AnnualizeSpread переводит спред за период финансирования в годовую доходность
func AnnualizeSpread(spreadPerPeriod float64) float64 {
	return spreadPerPeriod * FundingPeriodsPerDay * 365
}

// VenuePair возвращает каноничный ключ связки бирж для этой возможности
func (o *Opportunity) VenuePair() string {
	return o.LongVenue + "-" + o.ShortVenue
}

// Key возвращает ключ (символ, связка бирж) - единица учёта для retry и исключений
func (o *Opportunity) Key() string {
	return o.Symbol + ":" + o.VenuePair()
}
