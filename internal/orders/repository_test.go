package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
	"github.com/medmarkethq/medmarket-backend/pkg/pagination"
)

func setupOrdersRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_repo_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	for _, ddl := range ordersTestSchema {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, patientID, pharmacyID uuid.UUID, status enums.OrderStatus, paymentStatus enums.PaymentStatus, total int64, createdAt time.Time) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-SEED-" + uuid.NewString()[:8],
		PatientID:     patientID,
		PharmacyID:    pharmacyID,
		OrderType:     enums.OrderTypeOTC,
		Status:        status,
		PaymentStatus: paymentStatus,
		Subtotal:      decimal.NewFromInt(total),
		TotalAmount:   decimal.NewFromInt(total),
		CreatedAt:     createdAt,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestNextOrderNumberSequence(t *testing.T) {
	t.Parallel()

	db := setupOrdersRepoDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	first, err := repo.NextOrderNumber(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260314-0001", first)

	patientID, pharmacyID := uuid.New(), uuid.New()
	seedOrder(t, db, patientID, pharmacyID, enums.OrderStatusPending, enums.PaymentStatusUnpaid, 10, at)
	seedOrder(t, db, patientID, pharmacyID, enums.OrderStatusPending, enums.PaymentStatusUnpaid, 10, at.Add(2*time.Hour))

	third, err := repo.NextOrderNumber(ctx, at.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260314-0003", third)

	// The counter resets at midnight.
	nextDay, err := repo.NextOrderNumber(ctx, at.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260315-0001", nextDay)
}

func TestTransitionStatusGuard(t *testing.T) {
	t.Parallel()

	db := setupOrdersRepoDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	order := seedOrder(t, db, uuid.New(), uuid.New(), enums.OrderStatusPending, enums.PaymentStatusUnpaid, 25, time.Now())

	err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusConfirmed, map[string]any{
		"payment_status": enums.PaymentStatusPaid,
	})
	require.NoError(t, err)

	// A second writer still holding the pending snapshot loses the race.
	err = repo.TransitionStatus(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusCancelled, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	reloaded, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, reloaded.Status)
	assert.Equal(t, enums.PaymentStatusPaid, reloaded.PaymentStatus)
}

func TestSettleReservationGuard(t *testing.T) {
	t.Parallel()

	db := setupOrdersRepoDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	order := seedOrder(t, db, uuid.New(), uuid.New(), enums.OrderStatusPending, enums.PaymentStatusUnpaid, 25, time.Now())

	reservation := models.StockReservation{
		ID:       uuid.New(),
		OrderID:  order.ID,
		BatchID:  uuid.New(),
		DrugID:   uuid.New(),
		Quantity: 3,
		Status:   enums.ReservationStatusActive,
	}
	require.NoError(t, repo.CreateReservations(ctx, []models.StockReservation{reservation}))

	active, err := repo.ListActiveReservations(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, repo.SettleReservation(ctx, reservation.ID, enums.ReservationStatusConsumed))

	// Settling twice is a conflict, whichever terminal state is asked for.
	err = repo.SettleReservation(ctx, reservation.ID, enums.ReservationStatusReleased)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	active, err = repo.ListActiveReservations(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestListByPatientPagination(t *testing.T) {
	t.Parallel()

	db := setupOrdersRepoDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	patientID, pharmacyID := uuid.New(), uuid.New()

	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedOrder(t, db, patientID, pharmacyID, enums.OrderStatusPending, enums.PaymentStatusUnpaid, int64(10+i), base.Add(time.Duration(i)*time.Hour))
	}
	seedOrder(t, db, uuid.New(), pharmacyID, enums.OrderStatusPending, enums.PaymentStatusUnpaid, 99, base)

	page, err := repo.ListByPatient(ctx, patientID, pagination.Params{Limit: 2}, OrderSearchFilters{})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	last := page[1]
	cursor := pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	rest, err := repo.ListByPatient(ctx, patientID, pagination.Params{Limit: 10, Cursor: cursor}, OrderSearchFilters{})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	for _, order := range rest {
		assert.True(t, order.CreatedAt.Before(last.CreatedAt))
		assert.Equal(t, patientID, order.PatientID)
	}
}

func TestListByPharmacyFilters(t *testing.T) {
	t.Parallel()

	db := setupOrdersRepoDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	pharmacyID := uuid.New()

	now := time.Now()
	seedOrder(t, db, uuid.New(), pharmacyID, enums.OrderStatusPending, enums.PaymentStatusUnpaid, 10, now.Add(-3*time.Hour))
	seedOrder(t, db, uuid.New(), pharmacyID, enums.OrderStatusConfirmed, enums.PaymentStatusPaid, 20, now.Add(-2*time.Hour))
	seedOrder(t, db, uuid.New(), pharmacyID, enums.OrderStatusConfirmed, enums.PaymentStatusPaid, 30, now.Add(-1*time.Hour))

	page, err := repo.ListByPharmacy(ctx, pharmacyID, pagination.Params{Limit: 10}, OrderSearchFilters{Status: enums.OrderStatusConfirmed})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	cutoff := now.Add(-90 * time.Minute)
	page, err = repo.ListByPharmacy(ctx, pharmacyID, pagination.Params{Limit: 10}, OrderSearchFilters{CreatedAfter: &cutoff})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].TotalAmount.Equal(decimal.NewFromInt(30)))
}

func TestAggregateStatistics(t *testing.T) {
	t.Parallel()

	db := setupOrdersRepoDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	pharmacyID := uuid.New()
	now := time.Now()

	seedOrder(t, db, uuid.New(), pharmacyID, enums.OrderStatusCompleted, enums.PaymentStatusPaid, 40, now.Add(-time.Hour))
	seedOrder(t, db, uuid.New(), pharmacyID, enums.OrderStatusCompleted, enums.PaymentStatusPaid, 60, now.Add(-time.Hour))
	seedOrder(t, db, uuid.New(), pharmacyID, enums.OrderStatusPending, enums.PaymentStatusUnpaid, 15, now.Add(-time.Hour))
	// Cancelled orders never count toward revenue even when paid.
	seedOrder(t, db, uuid.New(), pharmacyID, enums.OrderStatusCancelled, enums.PaymentStatusPaid, 500, now.Add(-time.Hour))
	// Outside the window.
	seedOrder(t, db, uuid.New(), pharmacyID, enums.OrderStatusCompleted, enums.PaymentStatusPaid, 1000, now.Add(-48*time.Hour))

	stats, err := repo.Aggregate(ctx, pharmacyID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Counts[enums.OrderStatusCompleted])
	assert.Equal(t, int64(1), stats.Counts[enums.OrderStatusPending])
	assert.Equal(t, int64(1), stats.Counts[enums.OrderStatusCancelled])
	assert.Equal(t, int64(4), stats.Total)
	assert.True(t, stats.Revenue.Equal(decimal.NewFromInt(100)), fmt.Sprintf("revenue: %s", stats.Revenue))
}
