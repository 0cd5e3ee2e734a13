package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
	"github.com/medmarkethq/medmarket-backend/pkg/pagination"
)

// Repository owns persistence for orders, their items and the status
// history audit.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create persists the order together with its items.
func (r *Repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// FindByID loads one order with its items and status history.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByOrderNumber loads one order by its human-facing number.
func (r *Repository) FindByOrderNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&order, "order_number = ?", number).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// TransitionStatus moves an order between statuses with the expected
// current status folded into the WHERE clause. A concurrent transition
// makes the guard miss and surfaces as a state conflict instead of a
// lost update. Extra column updates ride along in the same statement.
func (r *Repository) TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, extra map[string]any) error {
	updates := map[string]any{"status": to}
	for column, value := range extra {
		updates[column] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition order status")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order was modified concurrently").
			WithDetails(map[string]any{"expected": from.String(), "target": to.String()})
	}
	return nil
}

// UpdateFields applies column updates without a status guard.
func (r *Repository) UpdateFields(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

// UpdateItemFields applies column updates to one order item.
func (r *Repository) UpdateItemFields(ctx context.Context, itemID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ?", itemID).
		Updates(updates).Error
}

// MarkItemsVerified flips the prescription flag on every line that
// requires one.
func (r *Repository) MarkItemsVerified(ctx context.Context, orderID uuid.UUID, verified bool) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND requires_prescription = ?", orderID, true).
		Update("prescription_verified", verified).Error
}

// AppendStatusHistory writes one audit row for a status change.
func (r *Repository) AppendStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// NextOrderNumber produces the date-scoped sequence number for a new
// order, e.g. ORD-20260831-0007. Callers run it inside the creation
// transaction; the unique index on order_number backstops the rare
// same-millisecond collision.
func (r *Repository) NextOrderNumber(ctx context.Context, at time.Time) (string, error) {
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("created_at >= ? AND created_at < ?", dayStart, dayStart.AddDate(0, 0, 1)).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%04d", at.Format("20060102"), count+1), nil
}

// ListStalePending returns pending unpaid orders created before the
// cutoff, oldest first. The cron worker cancels these.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_status = ? AND created_at < ?",
			enums.OrderStatusPending, enums.PaymentStatusUnpaid, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// OrderSearchFilters narrow list queries.
type OrderSearchFilters struct {
	Status        enums.OrderStatus
	PaymentStatus enums.PaymentStatus
	OrderType     enums.OrderType
	CreatedAfter  *time.Time
}

func (r *Repository) applyFilters(query *gorm.DB, filters OrderSearchFilters) *gorm.DB {
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.PaymentStatus != "" {
		query = query.Where("payment_status = ?", filters.PaymentStatus)
	}
	if filters.OrderType != "" {
		query = query.Where("order_type = ?", filters.OrderType)
	}
	if filters.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filters.CreatedAfter)
	}
	return query
}

// ListByPatient returns a patient's orders, newest first.
func (r *Repository) ListByPatient(ctx context.Context, patientID uuid.UUID, params pagination.Params, filters OrderSearchFilters) ([]models.Order, error) {
	query := r.applyFilters(r.db.WithContext(ctx).Where("patient_id = ?", patientID), filters)
	return r.list(query, params)
}

// ListByPharmacy returns a pharmacy's orders, newest first.
func (r *Repository) ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID, params pagination.Params, filters OrderSearchFilters) ([]models.Order, error) {
	query := r.applyFilters(r.db.WithContext(ctx).Where("pharmacy_id = ?", pharmacyID), filters)
	return r.list(query, params)
}

func (r *Repository) list(query *gorm.DB, params pagination.Params) ([]models.Order, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}
	var rows []models.Order
	err := query.
		Preload("Items").
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CreateReservations persists the batch holds taken for an order.
func (r *Repository) CreateReservations(ctx context.Context, reservations []models.StockReservation) error {
	if len(reservations) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&reservations).Error
}

// ListActiveReservations returns the outstanding batch holds for an
// order in the order they were taken.
func (r *Repository) ListActiveReservations(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	var rows []models.StockReservation
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.ReservationStatusActive).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// SettleReservation marks one hold consumed or released. The status
// guard makes settling idempotent under concurrent cancel and dispense.
func (r *Repository) SettleReservation(ctx context.Context, reservationID uuid.UUID, to enums.ReservationStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND status = ?", reservationID, enums.ReservationStatusActive).
		Update("status", to)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "settle reservation")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already settled")
	}
	return nil
}

// Statistics aggregates order counts per status and paid revenue for
// one pharmacy since the given time.
type Statistics struct {
	Counts  map[enums.OrderStatus]int64 `json:"counts"`
	Total   int64                       `json:"total"`
	Revenue decimal.Decimal             `json:"revenue"`
}

// Aggregate computes order statistics with two plain read queries.
func (r *Repository) Aggregate(ctx context.Context, pharmacyID uuid.UUID, since time.Time) (*Statistics, error) {
	type statusCount struct {
		Status enums.OrderStatus
		Count  int64
	}
	var counts []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Where("pharmacy_id = ? AND created_at >= ?", pharmacyID, since).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	stats := &Statistics{Counts: make(map[enums.OrderStatus]int64, len(counts))}
	for _, row := range counts {
		stats.Counts[row.Status] = row.Count
		stats.Total += row.Count
	}

	var revenue struct {
		Revenue decimal.Decimal
	}
	err = r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COALESCE(SUM(total_amount), 0) AS revenue").
		Where("pharmacy_id = ? AND created_at >= ?", pharmacyID, since).
		Where("payment_status = ?", enums.PaymentStatusPaid).
		Where("status NOT IN ?", []enums.OrderStatus{enums.OrderStatusCancelled, enums.OrderStatusRefunded}).
		Scan(&revenue).Error
	if err != nil {
		return nil, err
	}
	stats.Revenue = revenue.Revenue
	return stats, nil
}
