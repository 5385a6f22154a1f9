package engine

import (
	"fmt"
	"sync"
	"time"

	"fundarb/internal/models"
)

// Состояния попытки открытия связки. Каждая попытка проходит машину
// целиком за один цикл; записи о незавершённых состояниях
// (асимметрия, повторы) переживают попытку и обрабатываются
// следующими циклами.
const (
	StatePlanned           = "planned"
	StateOrdersSubmitted   = "orders_submitted"
	StateBothFilled        = "both_filled"
	StatePartialBothFilled = "partial_both_filled"
	StateAsymmetric        = "asymmetric"
	StateBothFailed        = "both_failed"
)

// validTransitions - допустимые переходы машины состояний попытки
var validTransitions = map[string][]string{
	StatePlanned:         {StateOrdersSubmitted},
	StateOrdersSubmitted: {StateBothFilled, StatePartialBothFilled, StateAsymmetric, StateBothFailed},
	// Терминальные состояния
	StateBothFilled:        {},
	StatePartialBothFilled: {},
	StateAsymmetric:        {},
	StateBothFailed:        {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalState сообщает, завершает ли состояние попытку
func IsTerminalState(state string) bool {
	return len(validTransitions[state]) == 0
}

// PairAttempt - одна попытка открытия связки, с явным состоянием
type PairAttempt struct {
	Plan      *models.ExecutionPlan
	State     string
	StartedAt time.Time
	UpdatedAt time.Time
}

// NewPairAttempt создаёт попытку в начальном состоянии
func NewPairAttempt(plan *models.ExecutionPlan) *PairAttempt {
	now := time.Now()
	return &PairAttempt{Plan: plan, State: StatePlanned, StartedAt: now, UpdatedAt: now}
}

// Advance переводит попытку в состояние to; недопустимый переход -
// ошибка программиста, не рынка
func (a *PairAttempt) Advance(to string) error {
	if !CanTransition(a.State, to) {
		return fmt.Errorf("invalid attempt transition %s -> %s", a.State, to)
	}
	a.State = to
	a.UpdatedAt = time.Now()
	return nil
}

// LegStateBook - учёт незавершённых состояний ног между циклами:
// асимметричные исполнения, счётчики повторов, постоянные исключения.
// Живёт в памяти процесса, безопасен для конкурентного доступа.
type LegStateBook struct {
	mu         sync.RWMutex
	asymmetric map[string]*models.AsymmetricFillRecord
	retries    map[string]*models.SingleLegRetryRecord
	excluded   map[string]time.Time
}

// NewLegStateBook создаёт пустой учёт
func NewLegStateBook() *LegStateBook {
	return &LegStateBook{
		asymmetric: make(map[string]*models.AsymmetricFillRecord),
		retries:    make(map[string]*models.SingleLegRetryRecord),
		excluded:   make(map[string]time.Time),
	}
}

// ============================================================
// Асимметричные исполнения
// ============================================================

// RecordAsymmetric регистрирует асимметричное исполнение; повторная
// регистрация того же ключа сохраняет исходный дедлайн
func (b *LegStateBook) RecordAsymmetric(rec *models.AsymmetricFillRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.asymmetric[rec.Key()]; exists {
		return
	}
	b.asymmetric[rec.Key()] = rec
	AsymmetricOpen.Set(float64(len(b.asymmetric)))
}

// DueAsymmetric возвращает записи, у которых истёк срок ожидания
// естественного исполнения
func (b *LegStateBook) DueAsymmetric(now time.Time) []*models.AsymmetricFillRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var due []*models.AsymmetricFillRecord
	for _, rec := range b.asymmetric {
		if !now.Before(rec.ActAfter) {
			due = append(due, rec)
		}
	}
	return due
}

// ResolveAsymmetric удаляет запись после ремонта или закрытия ноги
func (b *LegStateBook) ResolveAsymmetric(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.asymmetric, key)
	AsymmetricOpen.Set(float64(len(b.asymmetric)))
}

// AsymmetricCount возвращает число незакрытых асимметрий
func (b *LegStateBook) AsymmetricCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.asymmetric)
}

// ============================================================
// Повторы восстановления ноги
// ============================================================

// RegisterRetry увеличивает счётчик попыток ключа и возвращает
// обновлённую запись. Первая регистрация создаёт запись со счётчиком 1.
func (b *LegStateBook) RegisterRetry(symbol, venuePair string, opp *models.Opportunity) *models.SingleLegRetryRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := symbol + ":" + venuePair
	rec, ok := b.retries[key]
	if !ok {
		rec = &models.SingleLegRetryRecord{Symbol: symbol, VenuePair: venuePair, Opportunity: opp}
		b.retries[key] = rec
	}
	rec.RetryCount++
	rec.LastRetryAt = time.Now()
	return rec
}

// RetryCount возвращает текущее число попыток ключа
func (b *LegStateBook) RetryCount(symbol, venuePair string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.retries[symbol+":"+venuePair]
	if !ok {
		return 0
	}
	return rec.RetryCount
}

// ClearRetry удаляет счётчик после успешного восстановления
func (b *LegStateBook) ClearRetry(symbol, venuePair string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.retries, symbol+":"+venuePair)
}

// ============================================================
// Постоянные исключения
// ============================================================

// Exclude навсегда (до перезапуска) убирает ключ из отбора
func (b *LegStateBook) Exclude(symbol, venuePair string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.excluded[symbol+":"+venuePair] = time.Now()
	PairsExcluded.Set(float64(len(b.excluded)))
}

// IsExcluded проверяет исключение ключа
func (b *LegStateBook) IsExcluded(symbol, venuePair string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.excluded[symbol+":"+venuePair]
	return ok
}

// Exclusions возвращает снимок исключений для отчётности
func (b *LegStateBook) Exclusions() map[string]time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]time.Time, len(b.excluded))
	for k, v := range b.excluded {
		out[k] = v
	}
	return out
}
