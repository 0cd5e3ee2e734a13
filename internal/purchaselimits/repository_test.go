package purchaselimits

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupHistoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:limits_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  patient_id TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at DATETIME NOT NULL
);`
	items := `
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  drug_id TEXT NOT NULL,
  quantity INTEGER NOT NULL
);`
	require.NoError(t, db.Exec(orders).Error)
	require.NoError(t, db.Exec(items).Error)
	return db
}

func seedOrderWithItem(t *testing.T, db *gorm.DB, patientID, drugID uuid.UUID, status string, createdAt time.Time, qty int) {
	t.Helper()
	orderID := uuid.New()
	require.NoError(t, db.Exec(
		`INSERT INTO orders (id, patient_id, status, created_at) VALUES (?, ?, ?, ?)`,
		orderID, patientID, status, createdAt,
	).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO order_items (id, order_id, drug_id, quantity) VALUES (?, ?, ?, ?)`,
		uuid.New(), orderID, drugID, qty,
	).Error)
}

func TestSumPurchasedWindowAndStatusFilter(t *testing.T) {
	t.Parallel()

	db := setupHistoryTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	patientID := uuid.New()
	drugID := uuid.New()
	now := time.Now()

	seedOrderWithItem(t, db, patientID, drugID, "completed", now.AddDate(0, 0, -5), 2)
	seedOrderWithItem(t, db, patientID, drugID, "pending", now.AddDate(0, 0, -1), 1)
	seedOrderWithItem(t, db, patientID, drugID, "cancelled", now.AddDate(0, 0, -2), 4)
	seedOrderWithItem(t, db, patientID, drugID, "refunded", now.AddDate(0, 0, -3), 4)
	seedOrderWithItem(t, db, patientID, drugID, "completed", now.AddDate(0, 0, -40), 9)
	seedOrderWithItem(t, db, patientID, uuid.New(), "completed", now.AddDate(0, 0, -1), 7)
	seedOrderWithItem(t, db, uuid.New(), drugID, "completed", now.AddDate(0, 0, -1), 7)

	total, err := repo.SumPurchased(ctx, patientID, drugID, now.AddDate(0, 0, -30))
	require.NoError(t, err)

	// Only the completed and pending orders inside the window count.
	assert.Equal(t, 3, total)
}

func TestSumPurchasedEmpty(t *testing.T) {
	t.Parallel()

	db := setupHistoryTestDB(t)
	repo := NewRepository(db)

	total, err := repo.SumPurchased(context.Background(), uuid.New(), uuid.New(), time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Zero(t, total)
}
