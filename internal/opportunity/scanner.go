// Package opportunity находит расхождения ставок финансирования
// между биржами и превращает их в кандидатов для движка.
package opportunity

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"fundarb/internal/models"
	"fundarb/internal/venue"
	"fundarb/pkg/ratelimit"
	"fundarb/pkg/utils"
)

// SampleRecorder складывает наблюдения ставок в историю.
// Реализуется репозиторием; nil отключает запись.
type SampleRecorder interface {
	Record(sample *models.FundingSample) error
}

// snapshot - снимок одного символа на одной бирже
type snapshot struct {
	venue        string
	fundingRate  float64
	markPrice    float64
	openInterest float64
}

// Scanner опрашивает биржи и строит возможности по всем парам бирж.
//
// Знак ставки следует соглашению бессрочных фьючерсов: положительная
// ставка платится лонгами шортам. Нога-лонг получает минус ставку
// своей биржи, нога-шорт платит минус ставку своей.
type Scanner struct {
	adapters map[string]venue.Adapter
	limits   *ratelimit.Policy
	recorder SampleRecorder
	log      *utils.Logger
}

// NewScanner создаёт сканер; recorder может быть nil
func NewScanner(adapters map[string]venue.Adapter, limits *ratelimit.Policy, recorder SampleRecorder, log *utils.Logger) *Scanner {
	return &Scanner{
		adapters: adapters,
		limits:   limits,
		recorder: recorder,
		log:      log.WithComponent("scanner"),
	}
}

// FindOpportunities возвращает все пары бирж с положительным спредом
// не ниже minSpread, отсортированные по убыванию спреда.
//
// Недоступность одной биржи не прерывает сканирование: она просто
// выпадает из пар этого цикла.
func (s *Scanner) FindOpportunities(ctx context.Context, symbols []string, minSpread float64) ([]*models.Opportunity, error) {
	var opps []*models.Opportunity
	for _, symbol := range symbols {
		snaps := s.snapshotVenues(ctx, symbol)
		opps = append(opps, s.pairUp(symbol, snaps, minSpread)...)
	}

	sort.Slice(opps, func(i, j int) bool {
		return opps[i].Spread > opps[j].Spread
	})
	return opps, nil
}

// snapshotVenues опрашивает все биржи по символу одновременно
func (s *Scanner) snapshotVenues(ctx context.Context, symbol string) []snapshot {
	results := make(chan *snapshot, len(s.adapters))
	for name, adapter := range s.adapters {
		go func(name string, a venue.Adapter) {
			snap, err := s.snapshotOne(ctx, name, a, symbol)
			if err != nil {
				s.log.Warn("биржа выпала из сканирования",
					zap.String("venue", name),
					zap.String("symbol", symbol),
					zap.Error(err))
				results <- nil
				return
			}
			results <- snap
		}(name, adapter)
	}

	var snaps []snapshot
	for range s.adapters {
		if snap := <-results; snap != nil {
			snaps = append(snaps, *snap)
		}
	}
	// Детерминированный порядок пар от цикла к циклу
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].venue < snaps[j].venue })
	return snaps
}

func (s *Scanner) snapshotOne(ctx context.Context, name string, a venue.Adapter, symbol string) (*snapshot, error) {
	if err := s.limits.Wait(ctx, name); err != nil {
		return nil, err
	}
	rate, err := a.GetFundingRate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if err := s.limits.Wait(ctx, name); err != nil {
		return nil, err
	}
	mark, err := a.GetMarkPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if err := s.limits.Wait(ctx, name); err != nil {
		return nil, err
	}
	oi, err := a.GetOpenInterest(ctx, symbol)
	if err != nil {
		// Открытый интерес опционален: без него возможность
		// отбрасывается позже, на построении плана
		s.log.Debug("открытый интерес недоступен",
			zap.String("venue", name),
			zap.String("symbol", symbol),
			zap.Error(err))
		oi = 0
	}

	s.recordSample(name, symbol, rate)
	return &snapshot{venue: name, fundingRate: rate, markPrice: mark, openInterest: oi}, nil
}

func (s *Scanner) recordSample(venueName, symbol string, rate float64) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.Record(&models.FundingSample{
		Venue:     venueName,
		Symbol:    symbol,
		Rate:      rate,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.log.Warn("наблюдение ставки не записано",
			zap.String("venue", venueName),
			zap.String("symbol", symbol),
			zap.Error(err))
	}
}

// pairUp строит возможности из снимков: для каждой неупорядоченной
// пары бирж лонг встаёт на бирже с меньшей ставкой
func (s *Scanner) pairUp(symbol string, snaps []snapshot, minSpread float64) []*models.Opportunity {
	var opps []*models.Opportunity
	for i := 0; i < len(snaps); i++ {
		for j := i + 1; j < len(snaps); j++ {
			longSnap, shortSnap := snaps[i], snaps[j]
			if shortSnap.fundingRate < longSnap.fundingRate {
				longSnap, shortSnap = shortSnap, longSnap
			}

			// Лонг получает минус ставку своей биржи, шорт платит
			// минус ставку своей
			longRate := -longSnap.fundingRate
			shortRate := -shortSnap.fundingRate
			spread := longRate - shortRate
			if spread < minSpread {
				continue
			}

			opps = append(opps, &models.Opportunity{
				Symbol:            symbol,
				LongVenue:         longSnap.venue,
				ShortVenue:        shortSnap.venue,
				LongRate:          longRate,
				ShortRate:         shortRate,
				Spread:            spread,
				ExpectedAPY:       models.AnnualizeSpread(spread),
				LongMarkPrice:     longSnap.markPrice,
				ShortMarkPrice:    shortSnap.markPrice,
				LongOpenInterest:  longSnap.openInterest,
				ShortOpenInterest: shortSnap.openInterest,
				Timestamp:         time.Now(),
			})
		}
	}
	return opps
}
