package utils

import (
	"math"
)

// math.go - математические утилиты для funding-арбитража
//
// Назначение:
// Вспомогательные математические функции для расчёта ставок,
// объёмов и статистики. Все функции являются чистыми
// (pure functions) без побочных эффектов.

// FundingPeriodsPerDay - число периодов финансирования в сутки
// (стандартный 8-часовой цикл)
const FundingPeriodsPerDay = 3.0

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления объёма ордера до минимального шага биржи.
// Округление вниз гарантирует, что мы не превысим доступные средства.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Floor(value/lotSize) * lotSize
}

// RoundToLotSizeUp округляет значение ВВЕРХ до ближайшего кратного lotSize.
//
// Используется когда нужно гарантировать минимальный объём (minQty).
func RoundToLotSizeUp(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Ceil(value/lotSize) * lotSize
}

// AnnualizeRate переводит ставку за один период финансирования
// в годовую доходность (APY, в долях).
//
// Формула:
//
//	APY = rate × PeriodsPerDay × 365
//
// Примеры:
//   - AnnualizeRate(0.0001) = 0.1095 (10.95% годовых)
func AnnualizeRate(ratePerPeriod float64) float64 {
	return ratePerPeriod * FundingPeriodsPerDay * 365
}

// BreakEvenPeriods возвращает число периодов финансирования,
// необходимое чтобы доход покрыл разовые издержки входа.
//
// Параметры:
//   - oneTimeCost: суммарные издержки входа в USD
//   - returnPerPeriod: доход за период в USD
//
// Возвращает:
//   - Число периодов (может быть дробным)
//   - +Inf если доход за период не положителен
func BreakEvenPeriods(oneTimeCost, returnPerPeriod float64) float64 {
	if returnPerPeriod <= 0 {
		return math.Inf(1)
	}
	return oneTimeCost / returnPerPeriod
}

// WeightedAverage вычисляет средневзвешенное значение.
//
// Используется для расчёта взвешенного по времени спреда
// по историческим выборкам ставок.
//
// Возвращает 0 если входные данные некорректны.
func WeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}

	var sumWeighted, sumWeights float64
	for i := range values {
		if weights[i] < 0 {
			continue
		}
		sumWeighted += values[i] * weights[i]
		sumWeights += weights[i]
	}

	if sumWeights == 0 {
		return 0
	}
	return sumWeighted / sumWeights
}

// Mean возвращает среднее арифметическое выборки
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev возвращает стандартное отклонение выборки.
//
// Используется при оценке стабильности исторического спреда.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// SafeDiv делит a на b, возвращая 0 при нулевом знаменателе
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// IsFinite возвращает true для конечных чисел (не NaN, не Inf)
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
