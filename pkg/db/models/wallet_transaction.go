package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medmarkethq/medmarket-backend/pkg/enums"
)

// WalletTransaction records one movement on a patient wallet with the
// order it settles, when applicable.
type WalletTransaction struct {
	ID           uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index"`
	Type         enums.WalletTransactionType `gorm:"column:type;type:wallet_transaction_type;not null"`
	Amount       decimal.Decimal             `gorm:"column:amount;type:decimal(12,2);not null"`
	BalanceAfter decimal.Decimal             `gorm:"column:balance_after;type:decimal(12,2);not null"`
	OrderID      *uuid.UUID                  `gorm:"column:order_id;type:uuid;index"`
	Reference    string                      `gorm:"column:reference;not null"`
	CreatedAt    time.Time                   `gorm:"column:created_at;autoCreateTime"`
}
