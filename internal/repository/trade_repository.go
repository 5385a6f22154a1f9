package repository

import (
	"database/sql"
	"errors"
	"time"

	"fundarb/internal/models"
)

// Ошибки торгового журнала
var (
	ErrTradeNotFound = errors.New("trade record not found")
)

// TradeRepository - работа с таблицей trade_journal
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create записывает событие журнала
func (r *TradeRepository) Create(record *models.TradeRecord) error {
	query := `
		INSERT INTO trade_journal (event_type, symbol, long_venue, short_venue, notional, expected_apy, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	return r.db.QueryRow(
		query,
		record.EventType,
		record.Symbol,
		record.LongVenue,
		record.ShortVenue,
		record.Notional,
		record.ExpectedAPY,
		record.Details,
		record.CreatedAt,
	).Scan(&record.ID)
}

// GetByID возвращает запись журнала по ID
func (r *TradeRepository) GetByID(id int64) (*models.TradeRecord, error) {
	query := `
		SELECT id, event_type, symbol, long_venue, short_venue, notional, expected_apy, details, created_at
		FROM trade_journal
		WHERE id = $1`

	record := &models.TradeRecord{}
	err := r.db.QueryRow(query, id).Scan(
		&record.ID,
		&record.EventType,
		&record.Symbol,
		&record.LongVenue,
		&record.ShortVenue,
		&record.Notional,
		&record.ExpectedAPY,
		&record.Details,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	return record, nil
}

// GetRecent возвращает последние N записей журнала
func (r *TradeRepository) GetRecent(limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, event_type, symbol, long_venue, short_venue, notional, expected_apy, details, created_at
		FROM trade_journal
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TradeRecord
	for rows.Next() {
		record := &models.TradeRecord{}
		err := rows.Scan(
			&record.ID,
			&record.EventType,
			&record.Symbol,
			&record.LongVenue,
			&record.ShortVenue,
			&record.Notional,
			&record.ExpectedAPY,
			&record.Details,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// GetBySymbol возвращает записи журнала по символу
func (r *TradeRepository) GetBySymbol(symbol string, limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, event_type, symbol, long_venue, short_venue, notional, expected_apy, details, created_at
		FROM trade_journal
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TradeRecord
	for rows.Next() {
		record := &models.TradeRecord{}
		err := rows.Scan(
			&record.ID,
			&record.EventType,
			&record.Symbol,
			&record.LongVenue,
			&record.ShortVenue,
			&record.Notional,
			&record.ExpectedAPY,
			&record.Details,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
