package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"fundarb/internal/models"
)

// ============================================================
// FundingRepository Tests
// ============================================================

func TestNewFundingRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewFundingRepository(db)
	if repo == nil {
		t.Fatal("NewFundingRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestFundingRepositoryRecord(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		sample      *models.FundingSample
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			sample: &models.FundingSample{
				Venue:     "bybit",
				Symbol:    "ETH",
				Rate:      0.0001,
				Timestamp: ts,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO funding_samples`).
					WithArgs("bybit", "ETH", 0.0001, ts).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
			},
			expectError: false,
		},
		{
			name: "нулевое время заменяется текущим",
			sample: &models.FundingSample{
				Venue:  "okx",
				Symbol: "BTC",
				Rate:   -0.0002,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO funding_samples`).
					WithArgs("okx", "BTC", -0.0002, sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
			},
			expectError: false,
		},
		{
			name: "database error",
			sample: &models.FundingSample{
				Venue:     "bybit",
				Symbol:    "ETH",
				Timestamp: ts,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO funding_samples`).
					WithArgs("bybit", "ETH", float64(0), ts).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewFundingRepository(db)
			err = repo.Record(tt.sample)

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.sample.ID == 0 {
					t.Error("ID was not set")
				}
				if tt.sample.Timestamp.IsZero() {
					t.Error("Timestamp was not set")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestFundingRepositoryGetSamples(t *testing.T) {
	since := time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC)
	ts1 := since.Add(8 * time.Hour)
	ts2 := since.Add(16 * time.Hour)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "venue", "symbol", "rate", "ts"}).
		AddRow(1, "bybit", "ETH", 0.0001, ts1).
		AddRow(2, "bybit", "ETH", 0.00015, ts2)

	mock.ExpectQuery(`SELECT id, venue, symbol, rate, ts FROM funding_samples`).
		WithArgs("bybit", "ETH", since).
		WillReturnRows(rows)

	repo := NewFundingRepository(db)
	samples, err := repo.GetSamples("bybit", "ETH", since)
	if err != nil {
		t.Fatalf("GetSamples() error: %v", err)
	}

	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if samples[0].Rate != 0.0001 || samples[1].Rate != 0.00015 {
		t.Errorf("rates = %v, %v", samples[0].Rate, samples[1].Rate)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFundingRepositoryCountSamples(t *testing.T) {
	since := time.Now().Add(-7 * 24 * time.Hour)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("okx", "BTC", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))

	repo := NewFundingRepository(db)
	count, err := repo.CountSamples("okx", "BTC", since)
	if err != nil {
		t.Fatalf("CountSamples() error: %v", err)
	}
	if count != 21 {
		t.Errorf("count = %d, want 21", count)
	}
}

func TestFundingRepositoryPrune(t *testing.T) {
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM funding_samples`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 120))

	repo := NewFundingRepository(db)
	deleted, err := repo.Prune(cutoff)
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if deleted != 120 {
		t.Errorf("deleted = %d, want 120", deleted)
	}
}
