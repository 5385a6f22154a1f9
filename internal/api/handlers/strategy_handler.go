package handlers

import (
	"net/http"
	"strconv"

	"fundarb/internal/models"
	"fundarb/internal/service"
)

// StrategyHandler обрабатывает запросы о состоянии стратегии.
//
// Endpoints:
// - GET /api/v1/status - статус планировщика и последнего цикла
// - GET /api/v1/results?limit=N - результаты последних циклов
// - POST /api/v1/cycles - внеочередной запуск цикла
// - GET /api/v1/positions - открытые позиции по биржам
// - GET /api/v1/exclusions - исключённые пары (потолок ретраев)
type StrategyHandler struct {
	strategy *service.StrategyService
}

// NewStrategyHandler создает новый StrategyHandler
func NewStrategyHandler(strategy *service.StrategyService) *StrategyHandler {
	return &StrategyHandler{strategy: strategy}
}

// GetStatus возвращает статус стратегии
func (h *StrategyHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.strategy == nil {
		respondError(w, http.StatusInternalServerError, "strategy service not initialized", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.strategy.Status())
}

// GetResults возвращает результаты последних циклов, свежие первыми
func (h *StrategyHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	if h.strategy == nil {
		respondError(w, http.StatusInternalServerError, "strategy service not initialized", nil)
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	results := h.strategy.RecentResults(limit)
	if results == nil {
		results = []*models.ExecutionResult{}
	}
	respondJSON(w, http.StatusOK, results)
}

// TriggerCycle запускает цикл вне расписания.
// Если цикл уже идёт, оркестратор вернёт результат-отказ.
func (h *StrategyHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	if h.strategy == nil {
		respondError(w, http.StatusInternalServerError, "strategy service not initialized", nil)
		return
	}
	result := h.strategy.TriggerCycle(r.Context())
	respondJSON(w, http.StatusOK, result)
}

// GetPositions возвращает открытые позиции по биржам
func (h *StrategyHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	if h.strategy == nil {
		respondError(w, http.StatusInternalServerError, "strategy service not initialized", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.strategy.Positions(r.Context()))
}

// GetExclusions возвращает исключённые пары с временем исключения
func (h *StrategyHandler) GetExclusions(w http.ResponseWriter, r *http.Request) {
	if h.strategy == nil {
		respondError(w, http.StatusInternalServerError, "strategy service not initialized", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.strategy.Exclusions())
}
