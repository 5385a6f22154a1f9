package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fundarb/internal/models"
)

// fakeJournal отдает заготовленные записи
type fakeJournal struct {
	records  []*models.TradeRecord
	err      error
	bySymbol string // последний запрошенный символ
}

func (j *fakeJournal) GetRecent(limit int) ([]*models.TradeRecord, error) {
	if j.err != nil {
		return nil, j.err
	}
	if limit < len(j.records) {
		return j.records[:limit], nil
	}
	return j.records, nil
}

func (j *fakeJournal) GetBySymbol(symbol string, limit int) ([]*models.TradeRecord, error) {
	j.bySymbol = symbol
	return j.GetRecent(limit)
}

func journalRecord(symbol string) *models.TradeRecord {
	return &models.TradeRecord{
		EventType:  models.TradeEventPairOpened,
		Symbol:     symbol,
		LongVenue:  "bybit",
		ShortVenue: "okx",
		Notional:   15000,
		CreatedAt:  time.Now(),
	}
}

func TestJournalHandler_GetJournal(t *testing.T) {
	t.Run("отдает записи", func(t *testing.T) {
		journal := &fakeJournal{records: []*models.TradeRecord{journalRecord("ETH"), journalRecord("BTC")}}
		handler := NewJournalHandler(journal)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/journal", nil)
		w := httptest.NewRecorder()
		handler.GetJournal(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}

		var records []*models.TradeRecord
		if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
			t.Fatalf("ответ не разбирается: %v", err)
		}
		if len(records) != 2 {
			t.Errorf("записей %d, want 2", len(records))
		}
	})

	t.Run("фильтр по символу", func(t *testing.T) {
		journal := &fakeJournal{records: []*models.TradeRecord{journalRecord("ETH")}}
		handler := NewJournalHandler(journal)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/journal?symbol=ETH", nil)
		w := httptest.NewRecorder()
		handler.GetJournal(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if journal.bySymbol != "ETH" {
			t.Errorf("запрошен символ %q, want ETH", journal.bySymbol)
		}
	})

	t.Run("400 на кривой лимит", func(t *testing.T) {
		handler := NewJournalHandler(&fakeJournal{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/journal?limit=nope", nil)
		w := httptest.NewRecorder()
		handler.GetJournal(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("500 при ошибке журнала", func(t *testing.T) {
		handler := NewJournalHandler(&fakeJournal{err: errors.New("db down")})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/journal", nil)
		w := httptest.NewRecorder()
		handler.GetJournal(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})

	t.Run("пустой журнал это [] а не null", func(t *testing.T) {
		handler := NewJournalHandler(&fakeJournal{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/journal", nil)
		w := httptest.NewRecorder()
		handler.GetJournal(w, req)

		if got := w.Body.String(); got == "null\n" || got == "null" {
			t.Error("пустой журнал сериализован как null")
		}
	})
}
