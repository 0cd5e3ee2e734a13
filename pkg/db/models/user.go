package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is a patient or pharmacy staff identity. Orders and purchase
// limits only need the date of birth and the wallet balance.
type User struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email         string          `gorm:"column:email;uniqueIndex;not null"`
	FirstName     string          `gorm:"column:first_name;not null"`
	LastName      string          `gorm:"column:last_name;not null"`
	Phone         *string         `gorm:"column:phone"`
	DateOfBirth   *time.Time      `gorm:"column:date_of_birth;type:date"`
	WalletBalance decimal.Decimal `gorm:"column:wallet_balance;type:decimal(12,2);not null;default:0"`
	IsActive      bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Age returns the patient's age in full years at the reference time, or
// zero when the date of birth is unknown.
func (u *User) Age(at time.Time) int {
	if u == nil || u.DateOfBirth == nil {
		return 0
	}
	dob := *u.DateOfBirth
	years := at.Year() - dob.Year()
	anniversary := dob.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
