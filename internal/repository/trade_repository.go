package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"signaltrader/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeRepository - работа с таблицей trades
//
// Хранит снапшоты позиций: открытие, прогресс (SL, TP, защёлки),
// закрытие. Источник истины по живой позиции - TradeState в памяти
// монитора; БД нужна для рестарта и истории.
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// SaveOpen сохраняет только что открытую позицию
func (r *TradeRepository) SaveOpen(ts *models.TradeState) (int, error) {
	query := `
		INSERT INTO trades (symbol, side, entry, stop_loss, quantity, leverage, initial_margin, take_profits, state, pol, tp_hit, pyramid_steps, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	var id int
	err := r.db.QueryRow(
		query,
		ts.Symbol,
		ts.Side,
		ts.Entry,
		ts.StopLoss,
		ts.Quantity,
		ts.Leverage,
		ts.InitialMargin,
		pq.Array(ts.TakeProfits),
		ts.State,
		ts.Pol,
		ts.TPHit,
		ts.PyramidSteps,
		ts.OpenedAt,
		time.Now(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// UpdateProgress обновляет изменяемую часть открытой позиции
func (r *TradeRepository) UpdateProgress(ts *models.TradeState) error {
	query := `
		UPDATE trades
		SET stop_loss = $1, state = $2, pol = $3, tp_hit = $4, pyramid_steps = $5, initial_margin = $6, updated_at = $7
		WHERE symbol = $8 AND state != $9`

	result, err := r.db.Exec(
		query,
		ts.StopLoss,
		ts.State,
		ts.Pol,
		ts.TPHit,
		ts.PyramidSteps,
		ts.InitialMargin,
		time.Now(),
		ts.Symbol,
		models.StateClosed,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrTradeNotFound
	}

	return nil
}

// MarkClosed переводит открытую запись символа в CLOSED
func (r *TradeRepository) MarkClosed(symbol string, exitPrice, pol float64) error {
	query := `
		UPDATE trades
		SET state = $1, exit_price = $2, pol = $3, closed_at = $4, updated_at = $4
		WHERE symbol = $5 AND state != $1`

	result, err := r.db.Exec(query, models.StateClosed, exitPrice, pol, time.Now(), symbol)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrTradeNotFound
	}

	return nil
}

// GetOpen возвращает все незакрытые позиции (для восстановления после рестарта)
func (r *TradeRepository) GetOpen() ([]*models.TradeState, error) {
	query := `
		SELECT symbol, side, entry, stop_loss, quantity, leverage, initial_margin, take_profits, state, pol, tp_hit, pyramid_steps, opened_at
		FROM trades
		WHERE state != $1
		ORDER BY opened_at`

	rows, err := r.db.Query(query, models.StateClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeState
	for rows.Next() {
		ts := &models.TradeState{}
		var tps pq.Float64Array
		err := rows.Scan(
			&ts.Symbol,
			&ts.Side,
			&ts.Entry,
			&ts.StopLoss,
			&ts.Quantity,
			&ts.Leverage,
			&ts.InitialMargin,
			&tps,
			&ts.State,
			&ts.Pol,
			&ts.TPHit,
			&ts.PyramidSteps,
			&ts.OpenedAt,
		)
		if err != nil {
			return nil, err
		}
		ts.TakeProfits = []float64(tps)
		ts.PositionActive = ts.State == models.StateActive
		trades = append(trades, ts)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// GetBySymbolOpen возвращает незакрытую позицию символа
func (r *TradeRepository) GetBySymbolOpen(symbol string) (*models.TradeState, error) {
	query := `
		SELECT symbol, side, entry, stop_loss, quantity, leverage, initial_margin, take_profits, state, pol, tp_hit, pyramid_steps, opened_at
		FROM trades
		WHERE symbol = $1 AND state != $2`

	ts := &models.TradeState{}
	var tps pq.Float64Array
	err := r.db.QueryRow(query, symbol, models.StateClosed).Scan(
		&ts.Symbol,
		&ts.Side,
		&ts.Entry,
		&ts.StopLoss,
		&ts.Quantity,
		&ts.Leverage,
		&ts.InitialMargin,
		&tps,
		&ts.State,
		&ts.Pol,
		&ts.TPHit,
		&ts.PyramidSteps,
		&ts.OpenedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	ts.TakeProfits = []float64(tps)
	ts.PositionActive = ts.State == models.StateActive
	return ts, nil
}

// CountOpen возвращает количество незакрытых позиций
func (r *TradeRepository) CountOpen() (int, error) {
	query := `SELECT COUNT(*) FROM trades WHERE state != $1`

	var count int
	err := r.db.QueryRow(query, models.StateClosed).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}
