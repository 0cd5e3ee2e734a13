package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// MovementInput describes one wallet debit or credit.
type MovementInput struct {
	UserID    uuid.UUID
	Amount    decimal.Decimal
	OrderID   *uuid.UUID
	Reference string
}

// Service moves funds on patient wallets. Every movement writes a
// transaction row carrying the balance after the movement, so the
// history doubles as an audit trail.
type Service interface {
	// Debit withdraws funds. When tx is non-nil the movement joins the
	// caller's transaction, which is how order payments keep the wallet
	// draw and the order state change atomic.
	Debit(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error)
	// Refund returns funds to the wallet, typically on cancellation of
	// a paid order.
	Refund(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error)
	// TopUp adds funds outside any order.
	TopUp(ctx context.Context, input MovementInput) (*models.WalletTransaction, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	GetHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)
}

type service struct {
	repo *Repository
	tx   txRunner
}

// NewService builds the wallet service.
func NewService(repo *Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet: repository is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("wallet: transaction runner is required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error) {
	return s.move(ctx, tx, enums.WalletTransactionTypePurchase, input)
}

func (s *service) Refund(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.WalletTransaction, error) {
	return s.move(ctx, tx, enums.WalletTransactionTypeRefund, input)
}

func (s *service) TopUp(ctx context.Context, input MovementInput) (*models.WalletTransaction, error) {
	return s.move(ctx, nil, enums.WalletTransactionTypeTopUp, input)
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if userID == uuid.Nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.Balance(ctx, userID)
}

func (s *service) GetHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.repo.ListTransactions(ctx, userID, limit)
}

func (s *service) move(ctx context.Context, tx *gorm.DB, kind enums.WalletTransactionType, input MovementInput) (*models.WalletTransaction, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	var txn *models.WalletTransaction
	apply := func(dbtx *gorm.DB) error {
		repo := s.repo.WithTx(dbtx)
		var err error
		if kind == enums.WalletTransactionTypePurchase {
			err = repo.Debit(ctx, input.UserID, input.Amount)
		} else {
			err = repo.Credit(ctx, input.UserID, input.Amount)
		}
		if err != nil {
			return err
		}
		balance, err := repo.Balance(ctx, input.UserID)
		if err != nil {
			return err
		}
		txn = &models.WalletTransaction{
			ID:           uuid.New(),
			UserID:       input.UserID,
			Type:         kind,
			Amount:       input.Amount,
			BalanceAfter: balance,
			OrderID:      input.OrderID,
			Reference:    input.Reference,
		}
		return repo.CreateTransaction(ctx, txn)
	}

	if tx != nil {
		if err := apply(tx); err != nil {
			return nil, err
		}
		return txn, nil
	}
	if err := s.tx.WithTx(ctx, apply); err != nil {
		return nil, err
	}
	return txn, nil
}
