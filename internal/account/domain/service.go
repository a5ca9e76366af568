package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"github.com/smallbiznis/carehub/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateAccountRequest struct {
	Name        string
	ExternalRef string
	CreditLimit decimal.Decimal
	Actor       auditdomain.Actor
}

type DebitRequest struct {
	AccountID      snowflake.ID
	Amount         decimal.Decimal
	Reason         string
	CorrelationRef string
	Kind           TransactionType
	OrderID        *snowflake.ID
	InvoiceID      *snowflake.ID
	ExternalRef    string
	Actor          auditdomain.Actor
}

type CreditRequest struct {
	AccountID      snowflake.ID
	Amount         decimal.Decimal
	Reason         string
	CorrelationRef string
	Kind           TransactionType
	OrderID        *snowflake.ID
	InvoiceID      *snowflake.ID
	ExternalRef    string
	Actor          auditdomain.Actor
}

type AdjustLimitRequest struct {
	AccountID snowflake.ID
	NewLimit  decimal.Decimal
	Reason    string
	Actor     auditdomain.Actor
}

// AdjustRequest is an administrative override of credit_used; Amount is signed and may exceed the limit.
type AdjustRequest struct {
	AccountID      snowflake.ID
	Amount         decimal.Decimal
	Reason         string
	CorrelationRef string
	InvoiceID      *snowflake.ID
	Actor          auditdomain.Actor
}

type ListTransactionsRequest struct {
	pagination.Pagination
	AccountID snowflake.ID
	Type      TransactionType
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []LedgerTransaction `json:"transactions"`
}

// VerifyResult is the outcome of replaying an account's ledger from zero.
type VerifyResult struct {
	AccountID    snowflake.ID    `json:"account_id"`
	Transactions int             `json:"transactions"`
	Replayed     decimal.Decimal `json:"replayed"`
	CreditUsed   decimal.Decimal `json:"credit_used"`
	Consistent   bool            `json:"consistent"`
	BrokenAt     *snowflake.ID   `json:"broken_at,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateAccountRequest) (*Account, error)
	Get(ctx context.Context, id snowflake.ID) (*Account, error)
	Retire(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*Account, error)

	Debit(ctx context.Context, req DebitRequest) (*LedgerTransaction, error)
	Credit(ctx context.Context, req CreditRequest) (*LedgerTransaction, error)
	AdjustLimit(ctx context.Context, req AdjustLimitRequest) (*LedgerTransaction, error)
	Adjust(ctx context.Context, req AdjustRequest) (*LedgerTransaction, error)
	Block(ctx context.Context, id snowflake.ID, reason string, actor auditdomain.Actor) (*Account, error)
	Unblock(ctx context.Context, id snowflake.ID, reason string, actor auditdomain.Actor) (*Account, error)

	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	VerifyLedger(ctx context.Context, id snowflake.ID) (VerifyResult, error)

	// Transaction-scoped variants. The caller owns tx and is responsible for auditing.
	DebitTx(ctx context.Context, tx *gorm.DB, req DebitRequest) (*LedgerTransaction, error)
	CreditTx(ctx context.Context, tx *gorm.DB, req CreditRequest) (*LedgerTransaction, error)
	AdjustTx(ctx context.Context, tx *gorm.DB, req AdjustRequest) (*LedgerTransaction, error)
	BlockTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string, actor auditdomain.Actor) (bool, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	Update(ctx context.Context, db *gorm.DB, account *Account) error

	InsertTransaction(ctx context.Context, db *gorm.DB, txn *LedgerTransaction) error
	FindTransactionByCorrelation(ctx context.Context, db *gorm.DB, accountID snowflake.ID, ref string) (*LedgerTransaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, filter TransactionFilter) ([]*LedgerTransaction, error)
	ListAllTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]*LedgerTransaction, error)
}
