// Package stats - историческая статистика спредов финансирования.
//
// Источник данных - наблюдения ставок, накопленные сканером.
// Статистика служит для консервативной оценки будущей доходности:
// едва появившийся спред не должен получать полную аллокацию.
package stats

import (
	"time"

	"fundarb/internal/models"
	"fundarb/pkg/utils"
)

// SampleWindow - окно исторической выборки
const SampleWindow = 7 * 24 * time.Hour

// SampleSource - источник исторических наблюдений ставок
type SampleSource interface {
	GetSamples(venue, symbol string, since time.Time) ([]*models.FundingSample, error)
	CountSamples(venue, symbol string, since time.Time) (int, error)
}

// Service - расчёт статистики спреда между парой бирж
type Service struct {
	source SampleSource
}

// NewService создаёт сервис статистики
func NewService(source SampleSource) *Service {
	return &Service{source: source}
}

// pairSpreads строит ряд исторических спредов long-short.
// Наблюдения двух бирж сопоставляются по ближайшему времени:
// для каждого наблюдения длинной ноги берётся последнее
// не более позднее наблюдение короткой.
func (s *Service) pairSpreads(longVenue, shortVenue, symbol string) ([]float64, error) {
	since := time.Now().Add(-SampleWindow)

	longSamples, err := s.source.GetSamples(longVenue, symbol, since)
	if err != nil {
		return nil, err
	}
	shortSamples, err := s.source.GetSamples(shortVenue, symbol, since)
	if err != nil {
		return nil, err
	}
	if len(longSamples) == 0 || len(shortSamples) == 0 {
		return nil, nil
	}

	spreads := make([]float64, 0, len(longSamples))
	j := 0
	for _, ls := range longSamples {
		for j+1 < len(shortSamples) && !shortSamples[j+1].Timestamp.After(ls.Timestamp) {
			j++
		}
		if shortSamples[j].Timestamp.After(ls.Timestamp) {
			continue
		}
		// История хранит сырые ставки бирж. Лонг получает минус ставку
		// своей биржи, шорт платит минус ставку своей, поэтому спред
		// пары = (-longRaw) - (-shortRaw) = shortRaw - longRaw
		spreads = append(spreads, shortSamples[j].Rate-ls.Rate)
	}
	return spreads, nil
}

// WeightedSpread возвращает средний исторический спред пары бирж
// за окно выборки. Недавние наблюдения весят больше: вес растёт
// линейно от старых к новым.
//
// Возвращает (0, false, nil) если истории нет.
func (s *Service) WeightedSpread(longVenue, shortVenue, symbol string) (float64, bool, error) {
	spreads, err := s.pairSpreads(longVenue, shortVenue, symbol)
	if err != nil {
		return 0, false, err
	}
	if len(spreads) == 0 {
		return 0, false, nil
	}

	weights := make([]float64, len(spreads))
	for i := range weights {
		weights[i] = float64(i + 1)
	}
	return utils.WeightedAverage(spreads, weights), true, nil
}

// StabilityScore оценивает устойчивость исторического спреда
// в диапазоне [0, 1]: 1 - стабильный спред, 0 - шум.
//
// Оценка - отношение |среднего| к |среднему| + отклонению.
// Пустая история даёт 0.
func (s *Service) StabilityScore(longVenue, shortVenue, symbol string) (float64, error) {
	spreads, err := s.pairSpreads(longVenue, shortVenue, symbol)
	if err != nil {
		return 0, err
	}
	if len(spreads) == 0 {
		return 0, nil
	}

	mean := utils.Abs(utils.Mean(spreads))
	dev := utils.StdDev(spreads)
	if mean == 0 && dev == 0 {
		return 0, nil
	}
	return mean / (mean + dev), nil
}

// SampleCount возвращает число наблюдений пары за окно выборки.
// Берётся минимум по двум биржам: статистика пары не лучше
// более бедной из ног.
func (s *Service) SampleCount(longVenue, shortVenue, symbol string) (int, error) {
	since := time.Now().Add(-SampleWindow)

	longCount, err := s.source.CountSamples(longVenue, symbol, since)
	if err != nil {
		return 0, err
	}
	shortCount, err := s.source.CountSamples(shortVenue, symbol, since)
	if err != nil {
		return 0, err
	}

	if longCount < shortCount {
		return longCount, nil
	}
	return shortCount, nil
}
