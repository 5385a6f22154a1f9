package models

import "time"

// ExecutionResult - итог одного цикла исполнения стратегии
//
// Единственный выходной контракт оркестратора для внешних потребителей
// (API, websocket, журнал).
type ExecutionResult struct {
	Success                bool      `json:"success"`
	OpportunitiesEvaluated int       `json:"opportunities_evaluated"`
	OpportunitiesExecuted  int       `json:"opportunities_executed"`
	TotalExpectedReturn    float64   `json:"total_expected_return"` // за период финансирования
	OrdersPlaced           int       `json:"orders_placed"`
	Errors                 []string  `json:"errors"`
	StartedAt              time.Time `json:"started_at"`
	FinishedAt             time.Time `json:"finished_at"`
}

// AddError добавляет ошибку в список цикла (не прерывая цикл)
func (r *ExecutionResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}
