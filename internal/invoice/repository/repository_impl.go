package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carehub/internal/invoice/domain"
	"gorm.io/gorm"
)

const invoiceColumns = `id, number, type, account_id, subscription_id, period_start, period_end, status,
	subtotal, discount_amount, late_fee, interest, total_amount, paid_amount, penalty_applied,
	issued_at, due_date, overdue_at, paid_at, cancelled_at, cancel_reason, created_at, updated_at`

const paymentColumns = `id, invoice_id, amount, method, reference, payment_intent_id, actor_id, paid_at, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.Number,
		invoice.Type,
		invoice.AccountID,
		invoice.SubscriptionID,
		invoice.PeriodStart,
		invoice.PeriodEnd,
		invoice.Status,
		invoice.Subtotal,
		invoice.DiscountAmount,
		invoice.LateFee,
		invoice.Interest,
		invoice.TotalAmount,
		invoice.PaidAmount,
		invoice.PenaltyApplied,
		invoice.IssuedAt,
		invoice.DueDate,
		invoice.OverdueAt,
		invoice.PaidAt,
		invoice.CancelledAt,
		invoice.CancelReason,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.InvoiceItem) error {
	for _, item := range items {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO invoice_items (id, invoice_id, position, order_id, order_item_id, subscription_id,
			 description, quantity, unit_price, amount, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.InvoiceID,
			item.Position,
			item.OrderID,
			item.OrderItemID,
			item.SubscriptionID,
			item.Description,
			item.Quantity,
			item.UnitPrice,
			item.Amount,
			item.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.find(ctx, db, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.find(ctx, db, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) FindBySubscriptionPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*domain.Invoice, error) {
	return r.find(ctx, db,
		`SELECT `+invoiceColumns+` FROM invoices WHERE subscription_id = ? AND period_start = ?`,
		subscriptionID, periodStart.UTC())
}

func (r *repo) find(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoiceItem, error) {
	var items []domain.InvoiceItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, position, order_id, order_item_id, subscription_id, description,
		        quantity, unit_price, amount, created_at
		 FROM invoice_items WHERE invoice_id = ? ORDER BY position ASC`,
		invoiceID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, subtotal = ?, discount_amount = ?, late_fee = ?, interest = ?, total_amount = ?,
		     paid_amount = ?, penalty_applied = ?, issued_at = ?, due_date = ?, overdue_at = ?, paid_at = ?,
		     cancelled_at = ?, cancel_reason = ?, updated_at = ?
		 WHERE id = ?`,
		invoice.Status,
		invoice.Subtotal,
		invoice.DiscountAmount,
		invoice.LateFee,
		invoice.Interest,
		invoice.TotalAmount,
		invoice.PaidAmount,
		invoice.PenaltyApplied,
		invoice.IssuedAt,
		invoice.DueDate,
		invoice.OverdueAt,
		invoice.PaidAt,
		invoice.CancelledAt,
		invoice.CancelReason,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.AccountID != nil {
		stmt = stmt.Where("account_id = ?", *filter.AccountID)
	}
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.Type != nil {
		stmt = stmt.Where("type = ?", *filter.Type)
	}
	if filter.AfterID != nil {
		stmt = stmt.Where("id < ?", *filter.AfterID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var items []*domain.Invoice
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListOverdueCandidates(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM invoices
		 WHERE status IN (?, ?, ?) AND due_date < ? AND total_amount > paid_amount
		 ORDER BY due_date ASC, id ASC
		 LIMIT ?`,
		domain.StatusPending,
		domain.StatusPartial,
		domain.StatusFailed,
		now.UTC(),
		limit,
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) CountOverdue(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoices WHERE account_id = ? AND status = ?`,
		accountID,
		domain.StatusOverdue,
	).Scan(&count).Error
	return count, err
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.InvoicePayment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoice_payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.InvoiceID,
		payment.Amount,
		payment.Method,
		payment.Reference,
		payment.PaymentIntentID,
		payment.ActorID,
		payment.PaidAt,
		payment.CreatedAt,
	).Error
}

func (r *repo) FindPaymentByReference(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, reference string) (*domain.InvoicePayment, error) {
	var payment domain.InvoicePayment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM invoice_payments WHERE invoice_id = ? AND reference = ?`,
		invoiceID,
		reference,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoicePayment, error) {
	var payments []domain.InvoicePayment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM invoice_payments WHERE invoice_id = ? ORDER BY id ASC`,
		invoiceID,
	).Scan(&payments).Error
	return payments, err
}
