package models

import "time"

// Position - открытая позиция на бирже
//
// Владелец данных - биржа: движок только читает позиции через API
// и изменяет их размещением ордеров.
type Position struct {
	Venue         string    `json:"venue"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // long, short
	Size          float64   `json:"size"` // в базовых единицах
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	Margin        float64   `json:"margin"` // используемая маржа
	OpenedAt      time.Time `json:"opened_at"`
}

// Notional возвращает номинал позиции в USD по текущей маркет-цене
func (p *Position) Notional() float64 {
	return p.Size * p.MarkPrice
}

// Направления позиций
const (
	SideLong  = "long"
	SideShort = "short"
)

// PositionPair - дельта-нейтральная связка: лонг и шорт одного символа
// на разных биржах. Единица учёта движка.
type PositionPair struct {
	Symbol string    `json:"symbol"`
	Long   *Position `json:"long"`
	Short  *Position `json:"short"`
}

// VenuePair возвращает каноничный ключ связки бирж
func (pp *PositionPair) VenuePair() string {
	return pp.Long.Venue + "-" + pp.Short.Venue
}

// Key возвращает ключ (символ, связка бирж)
func (pp *PositionPair) Key() string {
	return pp.Symbol + ":" + pp.VenuePair()
}

// Notional возвращает номинал связки (меньшая из двух ног)
func (pp *PositionPair) Notional() float64 {
	ln := pp.Long.Notional()
	sn := pp.Short.Notional()
	if ln < sn {
		return ln
	}
	return sn
}

// OpenedAt возвращает время открытия связки (более ранняя из ног)
func (pp *PositionPair) OpenedAt() time.Time {
	if pp.Long.OpenedAt.Before(pp.Short.OpenedAt) {
		return pp.Long.OpenedAt
	}
	return pp.Short.OpenedAt
}

// MatchPositionPairs группирует позиции в дельта-нейтральные связки.
//
// Возвращает найденные связки и позиции, оставшиеся без второй ноги
// (одноногие - кандидаты на восстановление или закрытие).
func MatchPositionPairs(positions []*Position) (pairs []*PositionPair, orphans []*Position) {
	bySymbol := make(map[string][]*Position)
	for _, p := range positions {
		if p == nil || p.Size <= 0 {
			continue
		}
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}

	for symbol, ps := range bySymbol {
		var longs, shorts []*Position
		for _, p := range ps {
			if p.Side == SideLong {
				longs = append(longs, p)
			} else {
				shorts = append(shorts, p)
			}
		}

		// Парное сопоставление: каждому лонгу - шорт на ДРУГОЙ бирже
		usedShorts := make(map[int]bool)
		for _, lp := range longs {
			matched := false
			for i, sp := range shorts {
				if usedShorts[i] || sp.Venue == lp.Venue {
					continue
				}
				pairs = append(pairs, &PositionPair{Symbol: symbol, Long: lp, Short: sp})
				usedShorts[i] = true
				matched = true
				break
			}
			if !matched {
				orphans = append(orphans, lp)
			}
		}
		for i, sp := range shorts {
			if !usedShorts[i] {
				orphans = append(orphans, sp)
			}
		}
	}

	return pairs, orphans
}
