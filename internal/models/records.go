package models

import "time"

// AsymmetricFillRecord - запись об асимметричном исполнении связки:
// одна нога только что отправленной пары исполнилась, вторая - нет.
//
// Создаётся в момент обнаружения; удаляется при разрешении
// (недостающая нога дооткрыта или исполненная нога закрыта).
// Живёт только в памяти процесса.
type AsymmetricFillRecord struct {
	Symbol       string       `json:"symbol"`
	FilledSide   string       `json:"filled_side"` // long, short
	FilledVenue  string       `json:"filled_venue"`
	OtherVenue   string       `json:"other_venue"`
	LongOrderID  string       `json:"long_order_id"`
	ShortOrderID string       `json:"short_order_id"`
	IntendedSize float64      `json:"intended_size"` // в базовых единицах
	FilledSize   float64      `json:"filled_size"`
	Opportunity  *Opportunity `json:"opportunity"`
	DetectedAt   time.Time    `json:"detected_at"`
	// Действие откладывается до этого момента: даём отдыхающему
	// лимитному ордеру время исполниться естественным путём
	ActAfter time.Time `json:"act_after"`
}

// Key возвращает ключ (символ, связка бирж)
func (r *AsymmetricFillRecord) Key() string {
	if r.FilledSide == SideLong {
		return r.Symbol + ":" + r.FilledVenue + "-" + r.OtherVenue
	}
	return r.Symbol + ":" + r.OtherVenue + "-" + r.FilledVenue
}

// SingleLegRetryRecord - счётчик попыток восстановления одноногой позиции
// по ключу (символ, связка бирж).
//
// Создаётся при выборе возможности для исполнения; инкрементируется при
// каждой неудачной попытке ремонта; удаляется при успехе. Достижение
// потолка (SingleLegRetryCeiling) навсегда исключает ключ из отбора
// до перезапуска процесса.
type SingleLegRetryRecord struct {
	Symbol      string       `json:"symbol"`
	VenuePair   string       `json:"venue_pair"`
	RetryCount  int          `json:"retry_count"`
	LastRetryAt time.Time    `json:"last_retry_at"`
	Opportunity *Opportunity `json:"opportunity"`
}

// SingleLegRetryCeiling - потолок попыток восстановления недостающей ноги
const SingleLegRetryCeiling = 5

// LadderAllocation - результат лестничного распределения капитала
// для одной возможности. Вычисляется заново на каждом цикле.
type LadderAllocation struct {
	Opportunity *Opportunity `json:"opportunity"`
	// Выделенный потолок номинала в USD
	Notional float64 `json:"notional"`
	// true = доливка существующей связки, false = новая связка
	TopUp bool `json:"top_up"`
	// Дополнительный залог, требуемый на каждой бирже
	CollateralNeeded map[string]float64 `json:"collateral_needed"`
}
