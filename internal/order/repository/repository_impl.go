package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carehub/internal/order/domain"
	"gorm.io/gorm"
)

const orderColumns = `id, account_id, status, payment_method, payment_status, total, is_invoiced,
	invoice_id, origin, cash_session_id, device_id, local_id, notes, placed_at, paid_at,
	cancelled_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.AccountID,
		order.Status,
		order.PaymentMethod,
		order.PaymentStatus,
		order.Total,
		order.IsInvoiced,
		order.InvoiceID,
		order.Origin,
		order.CashSessionID,
		order.DeviceID,
		order.LocalID,
		order.Notes,
		order.PlacedAt,
		order.PaidAt,
		order.CancelledAt,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.OrderItem) error {
	for _, item := range items {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO order_items (id, order_id, position, product_ref, description, quantity, unit_price, amount)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.OrderID,
			item.Position,
			item.ProductRef,
			item.Description,
			item.Quantity,
			item.UnitPrice,
			item.Amount,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.find(ctx, db, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.find(ctx, db, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, query string, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	if err := db.WithContext(ctx).Raw(query, id).Scan(&order).Error; err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID) ([]domain.OrderItem, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var items []domain.OrderItem
	if err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, position, product_ref, description, quantity, unit_price, amount
		 FROM order_items WHERE order_id IN ? ORDER BY order_id ASC, position ASC`,
		orderIDs,
	).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateSettlement(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, payment_status = ?, paid_at = ?, cancelled_at = ?, notes = ?, updated_at = ?
		 WHERE id = ?`,
		order.Status,
		order.PaymentStatus,
		order.PaidAt,
		order.CancelledAt,
		order.Notes,
		order.UpdatedAt,
		order.ID,
	).Error
}

func (r *repo) LockInvoiceable(ctx context.Context, db *gorm.DB, filter domain.InvoiceableFilter) ([]*domain.Order, error) {
	var orders []*domain.Order
	if err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders
		 WHERE account_id = ?
		   AND placed_at >= ? AND placed_at < ?
		   AND is_invoiced = ?
		   AND payment_method = ?
		   AND status = ?
		 ORDER BY placed_at ASC, id ASC
		 FOR UPDATE`,
		filter.AccountID,
		filter.PeriodStart.UTC(),
		filter.PeriodEnd.UTC(),
		false,
		domain.MethodWallet,
		domain.StatusCompleted,
	).Scan(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) MarkInvoiced(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID, invoiceID snowflake.ID, now time.Time) error {
	if len(orderIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET is_invoiced = ?, invoice_id = ?, updated_at = ? WHERE id IN ?`,
		true,
		invoiceID,
		now,
		orderIDs,
	).Error
}

func (r *repo) ReleaseInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET is_invoiced = ?, invoice_id = NULL, updated_at = ? WHERE invoice_id = ?`,
		false,
		now,
		invoiceID,
	)
	return result.RowsAffected, result.Error
}
