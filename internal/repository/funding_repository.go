// Package repository - доступ к PostgreSQL через database/sql.
package repository

import (
	"database/sql"
	"errors"
	"time"

	"fundarb/internal/models"
)

// Ошибки репозитория ставок
var (
	ErrNoSamples = errors.New("no funding samples for symbol")
)

// FundingRepository - работа с таблицей funding_samples.
// Таблица наполняется сканером каждый цикл и служит источником
// исторической статистики спредов.
type FundingRepository struct {
	db *sql.DB
}

// NewFundingRepository создает новый экземпляр репозитория
func NewFundingRepository(db *sql.DB) *FundingRepository {
	return &FundingRepository{db: db}
}

// Record сохраняет наблюдение ставки финансирования
func (r *FundingRepository) Record(sample *models.FundingSample) error {
	query := `
		INSERT INTO funding_samples (venue, symbol, rate, ts)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	return r.db.QueryRow(
		query,
		sample.Venue,
		sample.Symbol,
		sample.Rate,
		sample.Timestamp,
	).Scan(&sample.ID)
}

// GetSamples возвращает наблюдения по бирже и символу не старше since,
// упорядоченные по времени
func (r *FundingRepository) GetSamples(venue, symbol string, since time.Time) ([]*models.FundingSample, error) {
	query := `
		SELECT id, venue, symbol, rate, ts
		FROM funding_samples
		WHERE venue = $1 AND symbol = $2 AND ts >= $3
		ORDER BY ts ASC`

	rows, err := r.db.Query(query, venue, symbol, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*models.FundingSample
	for rows.Next() {
		s := &models.FundingSample{}
		if err := rows.Scan(&s.ID, &s.Venue, &s.Symbol, &s.Rate, &s.Timestamp); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// CountSamples возвращает число наблюдений по бирже и символу
// не старше since
func (r *FundingRepository) CountSamples(venue, symbol string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM funding_samples
		WHERE venue = $1 AND symbol = $2 AND ts >= $3`

	var count int
	if err := r.db.QueryRow(query, venue, symbol, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Prune удаляет наблюдения старше cutoff, возвращает число удалённых
func (r *FundingRepository) Prune(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM funding_samples WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
