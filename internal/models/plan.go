package models

import "time"

// OrderIntent - намерение разместить один ордер (одна нога плана)
type OrderIntent struct {
	Venue       string  `json:"venue"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"` // buy, sell
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`          // в базовых единицах
	TimeInForce string  `json:"time_in_force"` // GTC
	ReduceOnly  bool    `json:"reduce_only"`
}

// Time-in-force ордеров
const (
	TIFGoodTillCancelled = "GTC"
)

// CostBreakdown - оценка одноразовых издержек входа
type CostBreakdown struct {
	EntryFees float64 `json:"entry_fees"` // комиссии мейкера обеих ног
	Slippage  float64 `json:"slippage"`   // проскальзывание обеих ног
	Total     float64 `json:"total"`
}

// ExecutionPlan - конкретный план парного входа для одной возможности
//
// Создаётся на каждом цикле для каждой выбранной возможности и сразу
// потребляется исполнителем. Никогда не сохраняется.
type ExecutionPlan struct {
	Opportunity *Opportunity `json:"opportunity"`

	LongOrder  OrderIntent `json:"long_order"`
	ShortOrder OrderIntent `json:"short_order"`

	// Размер позиции в базовых единицах (одинаковый на обеих ногах)
	BaseSize float64 `json:"base_size"`
	// Номинал позиции в USD
	Notional float64 `json:"notional"`

	Costs CostBreakdown `json:"costs"`

	// Ожидаемый чистый доход за один период финансирования
	// после амортизации одноразовых издержек
	NetReturnPerPeriod float64 `json:"net_return_per_period"`

	CreatedAt time.Time `json:"created_at"`
}
