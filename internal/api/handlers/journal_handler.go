package handlers

import (
	"net/http"
	"strconv"

	"fundarb/internal/models"
)

// JournalReader - срез журнала сделок, нужный API
type JournalReader interface {
	GetRecent(limit int) ([]*models.TradeRecord, error)
	GetBySymbol(symbol string, limit int) ([]*models.TradeRecord, error)
}

// JournalHandler отдаёт журнал событий пар.
//
// Endpoints:
// - GET /api/v1/journal?symbol=ETH&limit=N - события, свежие первыми
type JournalHandler struct {
	journal JournalReader
}

// NewJournalHandler создает новый JournalHandler
func NewJournalHandler(journal JournalReader) *JournalHandler {
	return &JournalHandler{journal: journal}
}

// GetJournal возвращает последние события, опционально по символу
func (h *JournalHandler) GetJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		respondError(w, http.StatusInternalServerError, "trade journal not initialized", nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	var (
		records []*models.TradeRecord
		err     error
	)
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		records, err = h.journal.GetBySymbol(symbol, limit)
	} else {
		records, err = h.journal.GetRecent(limit)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read trade journal", err)
		return
	}

	if records == nil {
		records = []*models.TradeRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}
