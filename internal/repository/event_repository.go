package repository

import (
	"context"
	"database/sql"
	"time"

	"signaltrader/internal/models"
)

// EventRepository - работа с таблицей trade_events
//
// Журнал фактов жизненного цикла (входы, переносы SL, TP, хеджи,
// закрытия) для внешней отчётности. Только запись и чтение, никакой
// агрегации - аналитика живёт на стороне потребителя.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает новый экземпляр репозитория
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// RecordTradeEvent сохраняет событие жизненного цикла
func (r *EventRepository) RecordTradeEvent(ctx context.Context, ev *models.TradeEvent) error {
	query := `
		INSERT INTO trade_events (symbol, side, type, price, old_sl, new_sl, pol, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	return r.db.QueryRowContext(
		ctx,
		query,
		ev.Symbol,
		ev.Side,
		ev.Type,
		ev.Price,
		ev.OldSL,
		ev.NewSL,
		ev.Pol,
		ev.Timestamp,
	).Scan(&ev.ID)
}

// GetRecent возвращает последние limit событий
func (r *EventRepository) GetRecent(limit int) ([]*models.TradeEvent, error) {
	query := `
		SELECT id, symbol, side, type, price, old_sl, new_sl, pol, timestamp
		FROM trade_events
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetBySymbol возвращает последние limit событий по символу
func (r *EventRepository) GetBySymbol(symbol string, limit int) ([]*models.TradeEvent, error) {
	query := `
		SELECT id, symbol, side, type, price, old_sl, new_sl, pol, timestamp
		FROM trade_events
		WHERE symbol = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.Query(query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DeleteOlderThan удаляет события старше указанного возраста
func (r *EventRepository) DeleteOlderThan(age time.Duration) (int64, error) {
	query := `DELETE FROM trade_events WHERE timestamp < $1`

	result, err := r.db.Exec(query, time.Now().Add(-age))
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]*models.TradeEvent, error) {
	var events []*models.TradeEvent
	for rows.Next() {
		ev := &models.TradeEvent{}
		err := rows.Scan(
			&ev.ID,
			&ev.Symbol,
			&ev.Side,
			&ev.Type,
			&ev.Price,
			&ev.OldSL,
			&ev.NewSL,
			&ev.Pol,
			&ev.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
