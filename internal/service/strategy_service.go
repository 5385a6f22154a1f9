// Package service связывает движок стратегии с внешними потребителями:
// планировщик циклов, статус и история результатов для API.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fundarb/internal/engine"
	"fundarb/internal/models"
	"fundarb/internal/stats"
	"fundarb/internal/venue"
	"fundarb/pkg/utils"
)

// CycleRunner запускает один цикл стратегии.
// Реализуется engine.Orchestrator; сам следит за взаимным
// исключением циклов.
type CycleRunner interface {
	RunCycle(ctx context.Context) *models.ExecutionResult
}

// Проверяем, что оркестратор реализует интерфейс
var _ CycleRunner = (*engine.Orchestrator)(nil)

// HistoryPruner чистит историю наблюдений ставок от устаревших записей
type HistoryPruner interface {
	Prune(cutoff time.Time) (int64, error)
}

// maxStoredResults - глубина истории циклов, отдаваемой через API
const maxStoredResults = 50

// historyRetention - сколько наблюдений ставок держим; совпадает с
// окном выборки статистики, старше ничего не читается
const historyRetention = stats.SampleWindow

// pruneEvery - минимальный промежуток между чистками истории
const pruneEvery = 6 * time.Hour

// StrategyStatus - снимок состояния стратегии для dashboard
type StrategyStatus struct {
	Running         bool          `json:"running"`
	CycleInterval   time.Duration `json:"cycle_interval"`
	CyclesCompleted int           `json:"cycles_completed"`
	LastCycleAt     time.Time     `json:"last_cycle_at"`
	LastSuccess     bool          `json:"last_success"`
	OpenExclusions  int           `json:"open_exclusions"`
}

// StrategyService управляет жизненным циклом стратегии: тикер
// запускает циклы оркестратора, результаты копятся для API.
//
// Сервис не добавляет собственной защиты от перезапуска цикла -
// оркестратор сам отбрасывает триггер, пришедший во время
// работающего цикла.
type StrategyService struct {
	runner   CycleRunner
	adapters map[string]venue.Adapter
	book     *engine.LegStateBook
	interval time.Duration
	log      *utils.Logger

	pruner HistoryPruner

	mu        sync.RWMutex
	results   []*models.ExecutionResult // свежие в начале
	cycles    int
	started   bool
	stop      chan struct{}
	done      chan struct{}
	lastPrune time.Time
}

// NewStrategyService создает сервис стратегии
func NewStrategyService(runner CycleRunner, adapters map[string]venue.Adapter, book *engine.LegStateBook, interval time.Duration, log *utils.Logger) *StrategyService {
	return &StrategyService{
		runner:   runner,
		adapters: adapters,
		book:     book,
		interval: interval,
		log:      log.WithComponent("strategy_service"),
	}
}

// Start запускает планировщик: первый цикл сразу, далее по тикеру.
// Повторный Start без Stop ничего не делает.
func (s *StrategyService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	s.log.Info("стратегия запущена", zap.Duration("interval", s.interval))

	go func() {
		defer close(done)
		s.runOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop останавливает планировщик и дожидается завершения текущего
// цикла
func (s *StrategyService) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.log.Info("стратегия остановлена")
}

// TriggerCycle запускает цикл вне расписания (ручной запуск из API).
// Если цикл уже идет, оркестратор вернет результат-отказ.
func (s *StrategyService) TriggerCycle(ctx context.Context) *models.ExecutionResult {
	return s.runOnce(ctx)
}

func (s *StrategyService) runOnce(ctx context.Context) *models.ExecutionResult {
	result := s.runner.RunCycle(ctx)

	s.mu.Lock()
	s.cycles++
	s.results = append([]*models.ExecutionResult{result}, s.results...)
	if len(s.results) > maxStoredResults {
		s.results = s.results[:maxStoredResults]
	}
	s.mu.Unlock()

	s.pruneHistory()
	return result
}

// SetHistoryPruner подключает чистку истории наблюдений; вызывается
// до Start
func (s *StrategyService) SetHistoryPruner(p HistoryPruner) {
	s.pruner = p
}

// pruneHistory удаляет наблюдения старше окна статистики, не чаще
// pruneEvery
func (s *StrategyService) pruneHistory() {
	if s.pruner == nil {
		return
	}

	s.mu.Lock()
	if time.Since(s.lastPrune) < pruneEvery {
		s.mu.Unlock()
		return
	}
	s.lastPrune = time.Now()
	s.mu.Unlock()

	removed, err := s.pruner.Prune(time.Now().Add(-historyRetention))
	if err != nil {
		s.log.Warn("чистка истории наблюдений не удалась", zap.Error(err))
		return
	}
	if removed > 0 {
		s.log.Info("история наблюдений почищена", zap.Int64("removed", removed))
	}
}

// RecentResults возвращает последние результаты циклов, свежие первыми
func (s *StrategyService) RecentResults(limit int) []*models.ExecutionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.results) {
		limit = len(s.results)
	}
	out := make([]*models.ExecutionResult, limit)
	copy(out, s.results[:limit])
	return out
}

// Status возвращает снимок состояния стратегии
func (s *StrategyService) Status() *StrategyStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &StrategyStatus{
		Running:         s.started,
		CycleInterval:   s.interval,
		CyclesCompleted: s.cycles,
	}
	if len(s.results) > 0 {
		last := s.results[0]
		status.LastCycleAt = last.FinishedAt
		status.LastSuccess = last.Success
	}
	if s.book != nil {
		status.OpenExclusions = len(s.book.Exclusions())
	}
	return status
}

// Positions возвращает открытые позиции со всех бирж.
// Сбойная биржа пропускается: частичная картина для dashboard
// полезнее ошибки.
func (s *StrategyService) Positions(ctx context.Context) map[string][]*models.Position {
	out := make(map[string][]*models.Position, len(s.adapters))
	for name, adapter := range s.adapters {
		positions, err := adapter.GetPositions(ctx)
		if err != nil {
			s.log.Warn("позиции биржи недоступны",
				zap.String("venue", name),
				zap.Error(err))
			continue
		}
		out[name] = positions
	}
	return out
}

// Exclusions возвращает исключенные пары (symbol:long-short -> время)
func (s *StrategyService) Exclusions() map[string]time.Time {
	if s.book == nil {
		return map[string]time.Time{}
	}
	return s.book.Exclusions()
}
