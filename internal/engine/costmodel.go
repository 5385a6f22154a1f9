package engine

import (
	"math"

	"fundarb/internal/models"
)

// Модель издержек - чистые функции без I/O.
//
// Оценки консервативны: при отсутствии данных о ликвидности
// используются фиксированные доли, а не нулевые издержки.

const (
	// limitBaseFraction - базовое проскальзывание отдыхающего
	// лимитного ордера (недобор цены из-за частичного исполнения)
	limitBaseFraction = 0.0001

	// fallbackSpreadFraction - оценка спреда стакана, когда
	// лучшие цены недоступны
	fallbackSpreadFraction = 0.0005

	// slippageCapFraction - потолок суммарного проскальзывания
	slippageCapFraction = 0.02

	// selfImpactScale и selfImpactCap - параметры влияния
	// собственной позиции на ставку финансирования
	selfImpactScale = 0.1
	selfImpactCap   = 0.1
)

// SlippageCost оценивает долларовую стоимость проскальзывания
// для ордера объёмом notional (USD).
//
// База: половина котируемого спреда для рыночного ордера,
// малая фиксированная доля для отдыхающего лимитного.
// Импакт растёт как sqrt(доля от открытого интереса) и вместе
// с базой ограничен потолком 2% от объёма.
//
// Неизвестный открытый интерес даёт консервативную фиксированную
// оценку вместо нулевой.
func SlippageCost(notional, bestBid, bestAsk, openInterest float64, isMarketOrder bool) float64 {
	if notional <= 0 {
		return 0
	}

	spreadFrac := fallbackSpreadFraction
	if bestBid > 0 && bestAsk > bestBid {
		mid := (bestBid + bestAsk) / 2
		spreadFrac = (bestAsk - bestBid) / mid
	}

	var baseFrac float64
	if isMarketOrder {
		baseFrac = spreadFrac / 2
	} else {
		baseFrac = limitBaseFraction
	}

	if openInterest <= 0 {
		// Нет данных о глубине: фиксированная консервативная доля
		return notional * math.Min(baseFrac+fallbackSpreadFraction, slippageCapFraction)
	}

	impactFrac := math.Sqrt(math.Min(notional/openInterest, 1)) * spreadFrac * 2

	totalFrac := math.Min(baseFrac+impactFrac, slippageCapFraction)
	return notional * totalFrac
}

// FundingRateSelfImpact корректирует ставку финансирования с учётом
// сдвига, который внесёт собственная позиция объёмом notional.
//
// Фактор = min(sqrt(notional/OI) * 0.1, 0.1). Длинная позиция
// толкает ставку вверх, короткая - вниз. Неизвестный открытый
// интерес означает нулевой импакт; NaN не возвращается никогда.
func FundingRateSelfImpact(notional, openInterest, currentRate float64, side string) float64 {
	if openInterest <= 0 || notional <= 0 {
		return currentRate
	}

	factor := math.Sqrt(notional/openInterest) * selfImpactScale
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return currentRate
	}
	if factor > selfImpactCap {
		factor = selfImpactCap
	}

	var adjusted float64
	if side == models.SideLong {
		adjusted = currentRate * (1 + factor)
	} else {
		adjusted = currentRate * (1 - factor)
	}

	if math.IsNaN(adjusted) || math.IsInf(adjusted, 0) {
		return currentRate
	}
	return adjusted
}

// AdjustedSpread возвращает спред пары после учёта self-impact
// обеих ног: ставка длинной ноги получается нами, короткой - платится.
func AdjustedSpread(opp *models.Opportunity, notional float64) float64 {
	adjLong := FundingRateSelfImpact(notional, opp.LongOpenInterest, opp.LongRate, models.SideLong)
	adjShort := FundingRateSelfImpact(notional, opp.ShortOpenInterest, opp.ShortRate, models.SideShort)
	return adjLong - adjShort
}
