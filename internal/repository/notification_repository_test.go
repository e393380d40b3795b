package repository

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"signaltrader/internal/models"
)

// ============================================================
// NotificationRepository Tests
// ============================================================

func TestNotificationRepositoryCreate(t *testing.T) {
	tests := []struct {
		name      string
		notif     *models.Notification
		mockSetup func(mock sqlmock.Sqlmock)
	}{
		{
			name: "without meta",
			notif: &models.Notification{
				Type:     models.NotificationTypeEntry,
				Severity: models.SeverityInfo,
				Symbol:   "BTCUSDT",
				Message:  "entry order submitted",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO notifications`).
					WithArgs(sqlmock.AnyArg(), models.NotificationTypeEntry, models.SeverityInfo,
						"BTCUSDT", "entry order submitted", []byte(nil)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
			},
		},
		{
			name: "with meta",
			notif: &models.Notification{
				Type:     models.NotificationTypeSLMove,
				Severity: models.SeverityInfo,
				Symbol:   "BTCUSDT",
				Message:  "stop-loss moved",
				Meta:     map[string]interface{}{"reason": "breakeven"},
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO notifications`).
					WithArgs(sqlmock.AnyArg(), models.NotificationTypeSLMove, models.SeverityInfo,
						"BTCUSDT", "stop-loss moved", []byte(`{"reason":"breakeven"}`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
			},
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

			repo := NewNotificationRepository(db)
			if err := repo.Create(tt.notif); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.notif.ID == 0 {
				t.Error("expected id to be set")
			}
			if tt.notif.Timestamp.IsZero() {
				t.Error("expected timestamp to be filled")
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestNotificationRepositoryGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewNotificationRepository(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "timestamp", "type", "severity", "symbol", "message", "meta"}).
		AddRow(2, now, models.NotificationTypeTPHit, models.SeverityInfo, "BTCUSDT", "tp reached", `{"level":1}`).
		AddRow(1, now.Add(-time.Minute), models.NotificationTypeEntry, models.SeverityInfo, "BTCUSDT", "entered", nil)

	mock.ExpectQuery(`SELECT (.+) FROM notifications`).
		WithArgs(20).
		WillReturnRows(rows)

	items, err := repo.GetRecent(20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(items))
	}
	if items[0].Meta == nil {
		t.Error("expected meta unmarshalled for first row")
	}
	if items[1].Meta != nil {
		t.Error("expected nil meta for row without meta")
	}
}

func TestNotificationRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewNotificationRepository(db)

	mock.ExpectExec(`DELETE FROM notifications`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := repo.DeleteOlderThan(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 4 {
		t.Errorf("expected 4 deleted, got %d", deleted)
	}
}
