// Package ratelimit - token bucket ограничитель частоты запросов к API биржи.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter - token bucket: ведро наполняется rate токенов/сек до burst,
// каждый запрос потребляет один токен
//
// Bitget: 10 req/sec на приватные эндпоинты, burst 20 на всплески
// параллельных ордеров.
type Limiter struct {
	rate  float64
	burst float64

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// New создаёт Limiter. Ведро стартует полным.
func New(rate, burst float64) *Limiter {
	if rate <= 0 {
		rate = 10
	}
	if burst < rate {
		burst = rate * 2
	}
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill вызывается под локом
func (l *Limiter) refill() {
	now := time.Now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
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
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Allow отдаёт токен без блокировки; false когда ведро пустое
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

// Tokens возвращает текущее количество токенов (для мониторинга)
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}
