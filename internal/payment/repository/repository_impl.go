package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carehub/internal/payment/domain"
	"gorm.io/gorm"
)

const intentColumns = `id, integration_type, provider, payment_method, amount, status, status_detail,
	correlation_id, external_reference, order_id, invoice_id, account_id, cash_session_id,
	terminal_id, sent_to_terminal_at, attempts, qr_code, checkout_url, effect_applied_at,
	approved_at, finalized_at, metadata, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_intents (`+intentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID,
		intent.IntegrationType,
		intent.Provider,
		intent.PaymentMethod,
		intent.Amount,
		intent.Status,
		intent.StatusDetail,
		intent.CorrelationID,
		intent.ExternalReference,
		intent.OrderID,
		intent.InvoiceID,
		intent.AccountID,
		intent.CashSessionID,
		intent.TerminalID,
		intent.SentToTerminalAt,
		intent.Attempts,
		intent.QRCode,
		intent.CheckoutURL,
		intent.EffectAppliedAt,
		intent.ApprovedAt,
		intent.FinalizedAt,
		intent.Metadata,
		intent.CreatedAt,
		intent.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	return r.findOne(ctx, db, `SELECT `+intentColumns+` FROM payment_intents WHERE id = ?`, id)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	return r.findOne(ctx, db, `SELECT `+intentColumns+` FROM payment_intents WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) FindByCorrelation(ctx context.Context, db *gorm.DB, correlationID string) (*domain.PaymentIntent, error) {
	return r.findOne(ctx, db,
		`SELECT `+intentColumns+` FROM payment_intents WHERE correlation_id = ? LIMIT 1`,
		correlationID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.PaymentIntent, error) {
	var item domain.PaymentIntent
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET status = ?, status_detail = ?, correlation_id = ?, sent_to_terminal_at = ?,
			attempts = ?, qr_code = ?, checkout_url = ?, effect_applied_at = ?,
			approved_at = ?, finalized_at = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		intent.Status,
		intent.StatusDetail,
		intent.CorrelationID,
		intent.SentToTerminalAt,
		intent.Attempts,
		intent.QRCode,
		intent.CheckoutURL,
		intent.EffectAppliedAt,
		intent.ApprovedAt,
		intent.FinalizedAt,
		intent.Metadata,
		intent.UpdatedAt,
		intent.ID,
	).Error
}

func (r *repo) ListTerminalTimedOut(ctx context.Context, db *gorm.DB, sentBefore time.Time, limit int) ([]*domain.PaymentIntent, error) {
	var items []*domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+`
		 FROM payment_intents
		 WHERE status = ? AND integration_type IN (?, ?) AND sent_to_terminal_at < ?
		 ORDER BY sent_to_terminal_at ASC
		 LIMIT ?`,
		domain.StatusProcessing,
		domain.IntegrationPointTEF,
		domain.IntegrationGetnetCloud,
		sentBefore,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertNotification(ctx context.Context, db *gorm.DB, notification *domain.PaymentNotification) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_notifications (
			id, provider, notification_id, correlation_id, status, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, notification_id) DO NOTHING`,
		notification.ID,
		notification.Provider,
		notification.NotificationID,
		notification.CorrelationID,
		notification.Status,
		notification.Payload,
		notification.ReceivedAt,
		notification.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindNotification(ctx context.Context, db *gorm.DB, provider, notificationID string) (*domain.PaymentNotification, error) {
	var item domain.PaymentNotification
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, notification_id, correlation_id, status, payload, received_at, processed_at
		 FROM payment_notifications
		 WHERE provider = ? AND notification_id = ?
		 LIMIT 1`,
		provider,
		notificationID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkNotificationProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_notifications
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
