// Package ratelimit реализует Token Bucket ограничитель частоты
// запросов к API бирж и политику лимитов по биржам.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter - Token Bucket ограничитель.
//
// Ведро наполняется со скоростью rate токенов/сек до ёмкости burst,
// каждый запрос потребляет один токен. Burst позволяет короткие
// всплески, важные для параллельной постановки парных ордеров.
type Limiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewLimiter создаёт ограничитель.
//
// rate - запросов в секунду, burst - ёмкость ведра (обычно 1.5-2x rate).
// Некорректные параметры заменяются разумными значениями по умолчанию.
func NewLimiter(rate, burst float64) *Limiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill пополняет токены по прошедшему времени, вызывается под lock'ом
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		waitTime := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Allow проверяет доступность токена без блокировки
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Tokens возвращает текущее количество токенов, для мониторинга
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// Rate возвращает скорость пополнения
func (l *Limiter) Rate() float64 {
	return l.rate
}

// SetRate изменяет скорость пополнения. Потокобезопасно.
func (l *Limiter) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	l.rate = rate
}

// ============================================================
// Policy - лимиты по биржам
// ============================================================

// VenueLimit - лимит одной биржи
type VenueLimit struct {
	Rate  float64
	Burst float64
}

// Policy хранит ограничители по именам бирж.
//
/// Политика передаётся в исполняющий код извне: движок не знает
// лимитов конкретных бирж, он лишь запрашивает токен перед вызовом.
type Policy struct {
	limiters map[string]*Limiter
	fallback *Limiter
	mu       sync.RWMutex
}

// NewPolicy создаёт политику с лимитом по умолчанию для бирж,
// не указанных явно
func NewPolicy(defaultLimit VenueLimit) *Policy {
	return &Policy{
		limiters: make(map[string]*Limiter),
		fallback: NewLimiter(defaultLimit.Rate, defaultLimit.Burst),
	}
}

// Set задаёт лимит для биржи
func (p *Policy) Set(venue string, limit VenueLimit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiters[venue] = NewLimiter(limit.Rate, limit.Burst)
}

// Wait ожидает токен для биржи
func (p *Policy) Wait(ctx context.Context, venue string) error {
	return p.limiter(venue).Wait(ctx)
}

// Allow проверяет доступность токена для биржи без блокировки
func (p *Policy) Allow(venue string) bool {
	return p.limiter(venue).Allow()
}

// Get возвращает ограничитель биржи (fallback если не задан явно)
func (p *Policy) Get(venue string) *Limiter {
	return p.limiter(venue)
}

func (p *Policy) limiter(venue string) *Limiter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if l, ok := p.limiters[venue]; ok {
		return l
	}
	return p.fallback
}
