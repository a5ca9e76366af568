package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carehub/internal/cashsession/domain"
	"gorm.io/gorm"
)

const sessionColumns = `id, user_id, device_id, opening_balance, calculated_balance, counted_balance,
	difference, status, notes, opened_at, closed_at, audited_at, audited_by, audit_notes,
	created_at, updated_at`

const movementColumns = `id, session_id, type, amount, payment_method, order_id, payment_intent_id,
	description, actor_id, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSession(ctx context.Context, db *gorm.DB, session *domain.CashSession) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO cash_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.DeviceID,
		session.OpeningBalance,
		session.CalculatedBalance,
		session.CountedBalance,
		session.Difference,
		session.Status,
		session.Notes,
		session.OpenedAt,
		session.ClosedAt,
		session.AuditedAt,
		session.AuditedBy,
		session.AuditNotes,
		session.CreatedAt,
		session.UpdatedAt,
	).Error
}

func (r *repo) FindSession(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CashSession, error) {
	return r.findSession(ctx, db, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = ?`, id)
}

func (r *repo) FindSessionForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CashSession, error) {
	return r.findSession(ctx, db, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) FindOpenByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.CashSession, error) {
	return r.findSession(ctx, db,
		`SELECT `+sessionColumns+` FROM cash_sessions WHERE user_id = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		userID, domain.StatusOpen,
	)
}

func (r *repo) findSession(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.CashSession, error) {
	var session domain.CashSession
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&session).Error; err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, nil
	}
	return &session, nil
}

func (r *repo) UpdateSession(ctx context.Context, db *gorm.DB, session *domain.CashSession) error {
	return db.WithContext(ctx).Exec(
		`UPDATE cash_sessions
		 SET calculated_balance = ?, counted_balance = ?, difference = ?, status = ?, notes = ?,
		     closed_at = ?, audited_at = ?, audited_by = ?, audit_notes = ?, updated_at = ?
		 WHERE id = ?`,
		session.CalculatedBalance,
		session.CountedBalance,
		session.Difference,
		session.Status,
		session.Notes,
		session.ClosedAt,
		session.AuditedAt,
		session.AuditedBy,
		session.AuditNotes,
		session.UpdatedAt,
		session.ID,
	).Error
}

func (r *repo) InsertMovement(ctx context.Context, db *gorm.DB, movement *domain.CashMovement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO cash_movements (`+movementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		movement.ID,
		movement.SessionID,
		movement.Type,
		movement.Amount,
		movement.PaymentMethod,
		movement.OrderID,
		movement.PaymentIntentID,
		movement.Description,
		movement.ActorID,
		movement.CreatedAt,
	).Error
}

func (r *repo) ListMovements(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]*domain.CashMovement, error) {
	var items []*domain.CashMovement
	if err := db.WithContext(ctx).Raw(
		`SELECT `+movementColumns+` FROM cash_movements WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertCount(ctx context.Context, db *gorm.DB, count *domain.CashSessionCount) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO cash_session_counts (
			id, session_id, payment_method, expected, counted, difference, attributable, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		count.ID,
		count.SessionID,
		count.PaymentMethod,
		count.Expected,
		count.Counted,
		count.Difference,
		count.Attributable,
		count.CreatedAt,
	).Error
}

func (r *repo) ListCounts(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]domain.CashSessionCount, error) {
	var items []domain.CashSessionCount
	if err := db.WithContext(ctx).Raw(
		`SELECT id, session_id, payment_method, expected, counted, difference, attributable, created_at
		 FROM cash_session_counts WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
