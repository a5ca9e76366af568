package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carehub/internal/account/domain"
	"gorm.io/gorm"
)

const accountColumns = `id, name, external_ref, credit_limit, credit_used, is_blocked, blocked_reason,
	status, retired_at, created_at, updated_at`

const transactionColumns = `id, account_id, type, amount, balance_before, balance_after, reason,
	order_id, invoice_id, external_ref, correlation_ref, actor_type, actor_id, metadata, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Name,
		account.ExternalRef,
		account.CreditLimit,
		account.CreditUsed,
		account.IsBlocked,
		account.BlockedReason,
		account.Status,
		account.RetiredAt,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	return r.find(ctx, db, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	return r.find(ctx, db, `SELECT `+accountColumns+` FROM accounts WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, query string, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	if err := db.WithContext(ctx).Raw(query, id).Scan(&account).Error; err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	account.CreditAvailable = account.Available()
	return &account, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET credit_limit = ?, credit_used = ?, is_blocked = ?, blocked_reason = ?,
		     status = ?, retired_at = ?, updated_at = ?
		 WHERE id = ?`,
		account.CreditLimit,
		account.CreditUsed,
		account.IsBlocked,
		account.BlockedReason,
		account.Status,
		account.RetiredAt,
		account.UpdatedAt,
		account.ID,
	).Error
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.LedgerTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.AccountID,
		txn.Type,
		txn.Amount,
		txn.BalanceBefore,
		txn.BalanceAfter,
		txn.Reason,
		txn.OrderID,
		txn.InvoiceID,
		txn.ExternalRef,
		txn.CorrelationRef,
		txn.ActorType,
		txn.ActorID,
		txn.Metadata,
		txn.CreatedAt,
	).Error
}

func (r *repo) FindTransactionByCorrelation(ctx context.Context, db *gorm.DB, accountID snowflake.ID, ref string) (*domain.LedgerTransaction, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	var txn domain.LedgerTransaction
	if err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM ledger_transactions
		 WHERE account_id = ? AND correlation_ref = ?`,
		accountID,
		ref,
	).Scan(&txn).Error; err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, filter domain.TransactionFilter) ([]*domain.LedgerTransaction, error) {
	stmt := db.WithContext(ctx).Model(&domain.LedgerTransaction{}).
		Where("account_id = ?", filter.AccountID)
	if txType := strings.TrimSpace(string(filter.Type)); txType != "" {
		stmt = stmt.Where("type = ?", txType)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("id < ?", filter.Cursor.ID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var items []*domain.LedgerTransaction
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListAllTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]*domain.LedgerTransaction, error) {
	var items []*domain.LedgerTransaction
	if err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM ledger_transactions WHERE account_id = ? ORDER BY id ASC`,
		accountID,
	).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
