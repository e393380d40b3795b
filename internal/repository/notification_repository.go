package repository

import (
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"

	"signaltrader/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NotificationRepository - работа с таблицей notifications
//
// Журнал уведомлений для UI. Meta сериализуется в jsonb.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create сохраняет уведомление
func (r *NotificationRepository) Create(n *models.Notification) error {
	query := `
		INSERT INTO notifications (timestamp, type, severity, symbol, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var meta []byte
	if n.Meta != nil {
		b, err := json.Marshal(n.Meta)
		if err != nil {
			return err
		}
		meta = b
	}

	return r.db.QueryRow(
		query,
		n.Timestamp,
		n.Type,
		n.Severity,
		n.Symbol,
		n.Message,
		meta,
	).Scan(&n.ID)
}

// GetRecent возвращает последние limit уведомлений
func (r *NotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, symbol, message, meta
		FROM notifications
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var meta sql.NullString
		err := rows.Scan(&n.ID, &n.Timestamp, &n.Type, &n.Severity, &n.Symbol, &n.Message, &meta)
		if err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			if err := json.UnmarshalFromString(meta.String, &n.Meta); err != nil {
				return nil, err
			}
		}
		items = append(items, n)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// DeleteOlderThan удаляет уведомления старше указанного возраста
func (r *NotificationRepository) DeleteOlderThan(age time.Duration) (int64, error) {
	query := `DELETE FROM notifications WHERE timestamp < $1`

	result, err := r.db.Exec(query, time.Now().Add(-age))
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
