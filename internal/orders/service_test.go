package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/internal/availability"
	"github.com/medmarkethq/medmarket-backend/internal/drugs"
	"github.com/medmarkethq/medmarket-backend/internal/inventory"
	"github.com/medmarkethq/medmarket-backend/internal/notifications"
	"github.com/medmarkethq/medmarket-backend/internal/pharmacies"
	"github.com/medmarkethq/medmarket-backend/internal/prescriptions"
	"github.com/medmarkethq/medmarket-backend/internal/purchaselimits"
	"github.com/medmarkethq/medmarket-backend/internal/users"
	"github.com/medmarkethq/medmarket-backend/internal/wallet"
	"github.com/medmarkethq/medmarket-backend/pkg/config"
	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
	"github.com/medmarkethq/medmarket-backend/pkg/logger"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubNotifier struct {
	sent []notifications.NotifyInput
}

func (s *stubNotifier) Notify(ctx context.Context, input notifications.NotifyInput) error {
	s.sent = append(s.sent, input)
	return nil
}

func (s *stubNotifier) byType(kind enums.NotificationType) []notifications.NotifyInput {
	var matched []notifications.NotifyInput
	for _, n := range s.sent {
		if n.Type == kind {
			matched = append(matched, n)
		}
	}
	return matched
}

type noopCache struct{}

func (noopCache) Get(ctx context.Context, key string) (string, error) {
	return "", gorm.ErrRecordNotFound
}

func (noopCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return nil
}

func (noopCache) PurchaseHistoryKey(patientID, drugID string, days int) string {
	return "ph:" + patientID + ":" + drugID
}

var ordersTestSchema = []string{
	`CREATE TABLE IF NOT EXISTS pharmacies (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  license_number TEXT NOT NULL UNIQUE,
  address_line TEXT,
  city TEXT,
  phone TEXT,
  delivery_fee NUMERIC NOT NULL DEFAULT 0,
  average_rating REAL NOT NULL DEFAULT 0,
  total_ratings INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  phone TEXT,
  date_of_birth DATETIME,
  wallet_balance NUMERIC NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS drugs (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  generic_name TEXT,
  strength TEXT,
  manufacturer TEXT,
  purchase_type TEXT NOT NULL DEFAULT 'general_otc',
  schedule_class TEXT NOT NULL DEFAULT 'otc',
  max_quantity_per_order INTEGER NOT NULL DEFAULT 0,
  max_quantity_per_period INTEGER NOT NULL DEFAULT 0,
  period_days INTEGER NOT NULL DEFAULT 0,
  min_age INTEGER NOT NULL DEFAULT 0,
  requires_prescription INTEGER NOT NULL DEFAULT 0,
  selling_price NUMERIC NOT NULL DEFAULT 0,
  cost_price NUMERIC NOT NULL DEFAULT 0,
  stock_quantity INTEGER NOT NULL DEFAULT 0,
  symptoms TEXT,
  tags TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  is_available INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS stock_batches (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  pharmacy_id TEXT NOT NULL,
  drug_id TEXT NOT NULL,
  batch_number TEXT NOT NULL,
  quantity_on_hand INTEGER NOT NULL DEFAULT 0,
  quantity_reserved INTEGER NOT NULL DEFAULT 0,
  quantity_damaged INTEGER NOT NULL DEFAULT 0,
  cost_price NUMERIC NOT NULL DEFAULT 0,
  selling_price NUMERIC NOT NULL DEFAULT 0,
  discount_percent NUMERIC NOT NULL DEFAULT 0,
  reorder_level INTEGER NOT NULL DEFAULT 0,
  reorder_quantity INTEGER NOT NULL DEFAULT 0,
  max_stock_level INTEGER NOT NULL DEFAULT 0,
  expiry_date DATETIME,
  manufacture_date DATETIME,
  storage_condition TEXT NOT NULL DEFAULT 'room_temperature',
  dispensing_method TEXT NOT NULL DEFAULT 'oldest_expiry_first',
  is_active INTEGER NOT NULL DEFAULT 1,
  available_for_sale INTEGER NOT NULL DEFAULT 1,
  last_counted_at DATETIME,
  last_counted_by TEXT,
  created_by TEXT NOT NULL,
  updated_by TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (pharmacy_id, drug_id, batch_number)
);`,
	`CREATE TABLE IF NOT EXISTS inventory_adjustments (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  batch_id TEXT NOT NULL,
  pharmacy_id TEXT NOT NULL,
  drug_id TEXT NOT NULL,
  batch_number TEXT NOT NULL,
  reason TEXT NOT NULL,
  quantity_change INTEGER NOT NULL,
  quantity_before INTEGER NOT NULL,
  quantity_after INTEGER NOT NULL,
  reference_type TEXT,
  reference_id TEXT,
  unit_cost NUMERIC NOT NULL DEFAULT 0,
  total_value NUMERIC NOT NULL DEFAULT 0,
  notes TEXT,
  performed_by TEXT NOT NULL,
  performed_at DATETIME NOT NULL,
  approved_by TEXT,
  approved_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS drug_batches (
  id TEXT PRIMARY KEY,
  pharmacy_id TEXT NOT NULL,
  drug_id TEXT NOT NULL,
  batch_number TEXT NOT NULL,
  quantity_available INTEGER NOT NULL DEFAULT 0,
  quantity_reserved INTEGER NOT NULL DEFAULT 0,
  unit_price NUMERIC NOT NULL DEFAULT 0,
  discount_percent NUMERIC NOT NULL DEFAULT 0,
  expiry_date DATETIME,
  no_expiry INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  patient_id TEXT NOT NULL,
  pharmacy_id TEXT NOT NULL,
  prescription_id TEXT,
  prescription_file TEXT,
  order_type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  payment_method TEXT,
  subtotal NUMERIC NOT NULL DEFAULT 0,
  delivery_fee NUMERIC NOT NULL DEFAULT 0,
  total_amount NUMERIC NOT NULL DEFAULT 0,
  amount_paid NUMERIC NOT NULL DEFAULT 0,
  wallet_amount NUMERIC NOT NULL DEFAULT 0,
  card_amount NUMERIC NOT NULL DEFAULT 0,
  wallet_reference TEXT,
  card_reference TEXT,
  delivery_method TEXT NOT NULL DEFAULT 'pickup',
  delivery_address TEXT,
  courier_reference TEXT,
  verification_status TEXT NOT NULL DEFAULT 'not_required',
  verified_by TEXT,
  verified_at DATETIME,
  pickup_code TEXT,
  rating INTEGER,
  review TEXT,
  cancel_reason TEXT,
  cancelled_by TEXT,
  cancelled_at DATETIME,
  dispensed_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  drug_id TEXT NOT NULL,
  drug_name TEXT NOT NULL,
  strength TEXT,
  unit_price NUMERIC NOT NULL,
  quantity INTEGER NOT NULL,
  discount_percent NUMERIC NOT NULL DEFAULT 0,
  total_price NUMERIC NOT NULL,
  requires_prescription INTEGER NOT NULL DEFAULT 0,
  prescription_verified INTEGER NOT NULL DEFAULT 0,
  stock_source TEXT NOT NULL DEFAULT 'ledger',
  dispensed_batch_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS order_status_histories (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  actor_id TEXT,
  note TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS stock_reservations (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  batch_id TEXT NOT NULL,
  drug_id TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  balance_after NUMERIC NOT NULL,
  order_id TEXT,
  reference TEXT NOT NULL DEFAULT '',
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
  id TEXT PRIMARY KEY,
  patient_id TEXT NOT NULL,
  clinician_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'issued',
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  order_id TEXT,
  issued_at DATETIME NOT NULL,
  expires_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
}

type ordersEnv struct {
	db        *gorm.DB
	svc       Service
	inventory inventory.Service
	notifier  *stubNotifier

	pharmacy *models.Pharmacy
	patient  *models.User
}

func setupOrdersEnv(t *testing.T) *ordersEnv {
	t.Helper()

	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	for _, ddl := range ordersTestSchema {
		require.NoError(t, db.Exec(ddl).Error)
	}

	runner := gormTxRunner{db: db}
	drugRepo := drugs.NewRepository(db)
	inventoryRepo := inventory.NewRepository(db)

	inventorySvc, err := inventory.NewService(inventoryRepo, runner, config.InventoryConfig{ExpiryAlertDays: 90, AutoSelectBatch: true}, nil)
	require.NoError(t, err)

	selector, err := availability.NewService(availability.NewRepository(db), inventoryRepo, drugRepo)
	require.NoError(t, err)

	limits, err := purchaselimits.NewService(drugRepo, purchaselimits.NewRepository(db), noopCache{}, config.PurchaseLimitsConfig{
		DefaultPeriodDays: 30,
		WarningThreshold:  0.8,
		HistoryCacheTTL:   time.Minute,
	}, nil)
	require.NoError(t, err)

	walletSvc, err := wallet.NewService(wallet.NewRepository(db), runner)
	require.NoError(t, err)

	notifier := &stubNotifier{}
	svc, err := NewService(ServiceParams{
		Repo:          NewRepository(db),
		Tx:            runner,
		Limits:        limits,
		Selector:      selector,
		Ledger:        inventorySvc,
		BatchStore:    availability.NewRepository(db),
		Drugs:         drugRepo,
		Pharmacies:    pharmacies.NewRepository(db),
		Users:         users.NewRepository(db),
		Prescriptions: prescriptions.NewRepository(db),
		Wallet:        walletSvc,
		Notifier:      notifier,
		Logger:        logger.New(logger.Options{Output: io.Discard}),
		Orders:        config.OrdersConfig{PickupCodeLength: 6},
		Inventory:     config.InventoryConfig{AutoSelectBatch: true},
	})
	require.NoError(t, err)

	pharmacy := &models.Pharmacy{
		ID:            uuid.New(),
		Name:          "Central Pharmacy",
		LicenseNumber: "PH-" + uuid.NewString(),
		DeliveryFee:   decimal.NewFromInt(5),
		AverageRating: 4.0,
		TotalRatings:  9,
		IsActive:      true,
	}
	require.NoError(t, db.Create(pharmacy).Error)

	dob := time.Now().AddDate(-30, 0, 0)
	patient := &models.User{
		ID:            uuid.New(),
		Email:         uuid.NewString() + "@example.test",
		FirstName:     "Ngozi",
		LastName:      "Eze",
		DateOfBirth:   &dob,
		WalletBalance: decimal.NewFromInt(200),
		IsActive:      true,
	}
	require.NoError(t, db.Create(patient).Error)

	return &ordersEnv{
		db:        db,
		svc:       svc,
		inventory: inventorySvc,
		notifier:  notifier,
		pharmacy:  pharmacy,
		patient:   patient,
	}
}

func (env *ordersEnv) seedDrug(t *testing.T, name string, price int64, rx bool) *models.Drug {
	t.Helper()
	drug := &models.Drug{
		ID:                   uuid.New(),
		Name:                 name,
		Strength:             "500mg",
		PurchaseType:         enums.PurchaseTypeGeneralOTC,
		ScheduleClass:        enums.ScheduleClassOTC,
		RequiresPrescription: rx,
		SellingPrice:         decimal.NewFromInt(price),
		CostPrice:            decimal.NewFromInt(price / 2),
		IsActive:             true,
		IsAvailable:          true,
	}
	if rx {
		drug.PurchaseType = enums.PurchaseTypePharmacyOnly
		drug.ScheduleClass = enums.ScheduleClassRxOnly
	}
	require.NoError(t, env.db.Create(drug).Error)
	return drug
}

func (env *ordersEnv) seedBatch(t *testing.T, drugID uuid.UUID, qty int, daysToExpiry int) *models.StockBatch {
	t.Helper()
	expiry := time.Now().AddDate(0, 0, daysToExpiry)
	batch, err := env.inventory.CreateBatch(context.Background(), inventory.CreateBatchInput{
		PharmacyID:   env.pharmacy.ID,
		DrugID:       drugID,
		BatchNumber:  "BN-" + uuid.NewString()[:8],
		Quantity:     qty,
		CostPrice:    decimal.NewFromInt(3),
		SellingPrice: decimal.NewFromInt(8),
		ExpiryDate:   &expiry,
		PerformedBy:  uuid.New(),
	})
	require.NoError(t, err)
	return batch
}

func (env *ordersEnv) reloadBatch(t *testing.T, id uuid.UUID) *models.StockBatch {
	t.Helper()
	var batch models.StockBatch
	require.NoError(t, env.db.First(&batch, "id = ?", id).Error)
	return &batch
}

func (env *ordersEnv) createPickupOrder(t *testing.T, drugID uuid.UUID, qty int) *models.Order {
	t.Helper()
	order, err := env.svc.CreateOrder(context.Background(), CreateOrderInput{
		PatientID:      env.patient.ID,
		PharmacyID:     env.pharmacy.ID,
		Items:          []OrderLineInput{{DrugID: drugID, Quantity: qty}},
		DeliveryMethod: enums.DeliveryMethodPickup,
	})
	require.NoError(t, err)
	return order
}

func (env *ordersEnv) payCash(t *testing.T, orderID uuid.UUID, amount decimal.Decimal) *models.Order {
	t.Helper()
	order, err := env.svc.ProcessPayment(context.Background(), PaymentInput{
		OrderID: orderID,
		Amount:  amount,
		Method:  enums.PaymentMethodCash,
	})
	require.NoError(t, err)
	return order
}

func TestCreateOrderReservesLedgerStock(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	batch := env.seedBatch(t, drug.ID, 20, 120)

	order := env.createPickupOrder(t, drug.ID, 6)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.OrderTypeOTC, order.OrderType)
	assert.Contains(t, order.OrderNumber, "ORD-")
	require.NotNil(t, order.PickupCode)
	assert.Len(t, *order.PickupCode, 6)
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(48)), "subtotal: %s", order.Subtotal)
	assert.True(t, order.DeliveryFee.IsZero())
	require.Len(t, order.Items, 1)
	assert.Equal(t, enums.StockSourceLedger, order.Items[0].StockSource)

	reloaded := env.reloadBatch(t, batch.ID)
	assert.Equal(t, 20, reloaded.QuantityOnHand)
	assert.Equal(t, 6, reloaded.QuantityReserved)

	var reservations []models.StockReservation
	require.NoError(t, env.db.Where("order_id = ?", order.ID).Find(&reservations).Error)
	require.Len(t, reservations, 1)
	assert.Equal(t, enums.ReservationStatusActive, reservations[0].Status)
	assert.Equal(t, 6, reservations[0].Quantity)

	var entries []models.InventoryAdjustment
	require.NoError(t, env.db.Where("reference_id = ?", order.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.AdjustmentReasonReserved, entries[0].Reason)
}

func TestCreateOrderMixedWithoutPrescriptionReference(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	otc := env.seedDrug(t, "Paracetamol", 8, false)
	rx := env.seedDrug(t, "Amoxicillin", 12, true)
	otcBatch := env.seedBatch(t, otc.ID, 20, 120)
	env.seedBatch(t, rx.ID, 20, 120)

	_, err := env.svc.CreateOrder(context.Background(), CreateOrderInput{
		PatientID:  env.patient.ID,
		PharmacyID: env.pharmacy.ID,
		Items: []OrderLineInput{
			{DrugID: otc.ID, Quantity: 2},
			{DrugID: rx.ID, Quantity: 1},
		},
		DeliveryMethod: enums.DeliveryMethodPickup,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	// Creation failed before anything was reserved or persisted.
	var count int64
	require.NoError(t, env.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, 0, env.reloadBatch(t, otcBatch.ID).QuantityReserved)
}

func TestCreateOrderBlockedByPurchaseLimit(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Codeine Syrup", 15, true)
	drug.PurchaseType = enums.PurchaseTypePrescriptionOnly
	require.NoError(t, env.db.Save(drug).Error)
	env.seedBatch(t, drug.ID, 20, 120)

	file := "rx-upload.pdf"
	_, err := env.svc.CreateOrder(context.Background(), CreateOrderInput{
		PatientID:        env.patient.ID,
		PharmacyID:       env.pharmacy.ID,
		Items:            []OrderLineInput{{DrugID: drug.ID, Quantity: 2}},
		DeliveryMethod:   enums.DeliveryMethodPickup,
		PrescriptionFile: &file,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePurchaseLimit))
}

func TestProcessPaymentConfirmsAndLinksPrescription(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Amoxicillin", 12, true)
	env.seedBatch(t, drug.ID, 20, 120)

	prescription := &models.Prescription{
		ID:          uuid.New(),
		PatientID:   env.patient.ID,
		ClinicianID: uuid.New(),
		IssuedAt:    time.Now(),
	}
	require.NoError(t, env.db.Create(prescription).Error)

	order, err := env.svc.CreatePrescriptionOrder(context.Background(), CreateOrderInput{
		PatientID:      env.patient.ID,
		PharmacyID:     env.pharmacy.ID,
		Items:          []OrderLineInput{{DrugID: drug.ID, Quantity: 1}},
		DeliveryMethod: enums.DeliveryMethodPickup,
		PrescriptionID: &prescription.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderTypePrescription, order.OrderType)
	assert.Equal(t, enums.VerificationStatusPending, order.VerificationStatus)

	_, err = env.svc.ProcessPayment(context.Background(), PaymentInput{
		OrderID: order.ID,
		Amount:  order.TotalAmount.Sub(decimal.NewFromInt(1)),
		Method:  enums.PaymentMethodCash,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	paid := env.payCash(t, order.ID, order.TotalAmount)
	assert.Equal(t, enums.OrderStatusConfirmed, paid.Status)
	assert.Equal(t, enums.PaymentStatusPaid, paid.PaymentStatus)

	var linked models.Prescription
	require.NoError(t, env.db.First(&linked, "id = ?", prescription.ID).Error)
	assert.Equal(t, enums.PaymentStatusPaid, linked.PaymentStatus)
	require.NotNil(t, linked.OrderID)
	assert.Equal(t, order.ID, *linked.OrderID)

	_, err = env.svc.ProcessPayment(context.Background(), PaymentInput{
		OrderID: order.ID,
		Amount:  order.TotalAmount,
		Method:  enums.PaymentMethodCash,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestPayWithWalletDebitsBalance(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	env.seedBatch(t, drug.ID, 20, 120)

	order := env.createPickupOrder(t, drug.ID, 4)
	paid, err := env.svc.PayWithWallet(context.Background(), order.ID, env.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, paid.PaymentStatus)
	require.NotNil(t, paid.PaymentMethod)
	assert.Equal(t, enums.PaymentMethodWallet, *paid.PaymentMethod)
	assert.NotNil(t, paid.WalletReference)

	var patient models.User
	require.NoError(t, env.db.First(&patient, "id = ?", env.patient.ID).Error)
	assert.True(t, patient.WalletBalance.Equal(decimal.NewFromInt(200).Sub(order.TotalAmount)))

	var txns []models.WalletTransaction
	require.NoError(t, env.db.Where("order_id = ?", order.ID).Find(&txns).Error)
	require.Len(t, txns, 1)
	assert.Equal(t, enums.WalletTransactionTypePurchase, txns[0].Type)
}

func TestPayWithWalletInsufficientBalanceLeavesOrderPending(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	require.NoError(t, env.db.Model(&models.User{}).
		Where("id = ?", env.patient.ID).
		Update("wallet_balance", decimal.NewFromInt(1)).Error)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	env.seedBatch(t, drug.ID, 20, 120)

	order := env.createPickupOrder(t, drug.ID, 4)
	_, err := env.svc.PayWithWallet(context.Background(), order.ID, env.patient.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	reloaded, err := env.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, reloaded.Status)
	assert.Equal(t, enums.PaymentStatusUnpaid, reloaded.PaymentStatus)
}

func TestProcessSplitPayment(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	env.seedBatch(t, drug.ID, 20, 120)

	order := env.createPickupOrder(t, drug.ID, 5)
	walletPart := decimal.NewFromInt(10)
	cardPart := order.TotalAmount.Sub(walletPart)

	_, err := env.svc.ProcessSplitPayment(context.Background(), SplitPaymentInput{
		OrderID:       order.ID,
		PatientID:     env.patient.ID,
		WalletAmount:  walletPart,
		CardAmount:    cardPart.Sub(decimal.NewFromInt(1)),
		CardReference: "card-ref-1",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	paid, err := env.svc.ProcessSplitPayment(context.Background(), SplitPaymentInput{
		OrderID:       order.ID,
		PatientID:     env.patient.ID,
		WalletAmount:  walletPart,
		CardAmount:    cardPart,
		CardReference: "card-ref-1",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, paid.PaymentStatus)
	assert.True(t, paid.WalletAmount.Equal(walletPart))
	assert.True(t, paid.CardAmount.Equal(cardPart))
	require.NotNil(t, paid.CardReference)
	assert.Equal(t, "card-ref-1", *paid.CardReference)
	assert.NotNil(t, paid.WalletReference)
}

func TestDispenseOrderConsumesReservations(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	batch := env.seedBatch(t, drug.ID, 20, 120)

	order := env.createPickupOrder(t, drug.ID, 6)
	env.payCash(t, order.ID, order.TotalAmount)

	dispensed, err := env.svc.DispenseOrder(context.Background(), DispenseInput{
		OrderID:     order.ID,
		PerformedBy: uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReadyForPickup, dispensed.Status)
	assert.NotNil(t, dispensed.DispensedAt)
	require.Len(t, dispensed.Items, 1)
	require.NotNil(t, dispensed.Items[0].DispensedBatchID)
	assert.Equal(t, batch.ID, *dispensed.Items[0].DispensedBatchID)

	reloaded := env.reloadBatch(t, batch.ID)
	assert.Equal(t, 14, reloaded.QuantityOnHand)
	assert.Equal(t, 0, reloaded.QuantityReserved)

	var reservation models.StockReservation
	require.NoError(t, env.db.First(&reservation, "order_id = ?", order.ID).Error)
	assert.Equal(t, enums.ReservationStatusConsumed, reservation.Status)

	ready := env.notifier.byType(enums.NotificationTypeOrderReady)
	require.Len(t, ready, 1)
	assert.Contains(t, ready[0].Message, *dispensed.PickupCode)
}

func TestDispenseRequiresPaymentAndVerification(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Amoxicillin", 12, true)
	env.seedBatch(t, drug.ID, 20, 120)

	file := "rx-upload.pdf"
	order, err := env.svc.CreateOrder(context.Background(), CreateOrderInput{
		PatientID:        env.patient.ID,
		PharmacyID:       env.pharmacy.ID,
		Items:            []OrderLineInput{{DrugID: drug.ID, Quantity: 1}},
		DeliveryMethod:   enums.DeliveryMethodPickup,
		PrescriptionFile: &file,
	})
	require.NoError(t, err)
	actor := uuid.New()

	_, err = env.svc.DispenseOrder(context.Background(), DispenseInput{OrderID: order.ID, PerformedBy: actor})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	env.payCash(t, order.ID, order.TotalAmount)

	_, err = env.svc.DispenseOrder(context.Background(), DispenseInput{OrderID: order.ID, PerformedBy: actor})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = env.svc.VerifyPrescription(context.Background(), VerifyPrescriptionInput{
		OrderID:    order.ID,
		VerifierID: actor,
		Approve:    true,
	})
	require.NoError(t, err)

	dispensed, err := env.svc.DispenseOrder(context.Background(), DispenseInput{OrderID: order.ID, PerformedBy: actor})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReadyForPickup, dispensed.Status)
	require.Len(t, dispensed.Items, 1)
	assert.True(t, dispensed.Items[0].PrescriptionVerified)
}

func TestCancelOrderReleasesReservations(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	batch := env.seedBatch(t, drug.ID, 20, 120)

	order := env.createPickupOrder(t, drug.ID, 6)
	assert.Equal(t, 6, env.reloadBatch(t, batch.ID).QuantityReserved)

	actor := env.patient.ID
	cancelled, err := env.svc.CancelOrder(context.Background(), CancelOrderInput{
		OrderID: order.ID,
		ActorID: actor,
		Reason:  "changed my mind",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "changed my mind", *cancelled.CancelReason)
	assert.NotNil(t, cancelled.CancelledAt)

	reloaded := env.reloadBatch(t, batch.ID)
	assert.Equal(t, 20, reloaded.QuantityOnHand)
	assert.Equal(t, 0, reloaded.QuantityReserved)

	var reservation models.StockReservation
	require.NoError(t, env.db.First(&reservation, "order_id = ?", order.ID).Error)
	assert.Equal(t, enums.ReservationStatusReleased, reservation.Status)

	_, err = env.svc.CancelOrder(context.Background(), CancelOrderInput{
		OrderID: order.ID,
		ActorID: actor,
		Reason:  "again",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCancelPaidWalletOrderRefunds(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	env.seedBatch(t, drug.ID, 20, 120)

	order := env.createPickupOrder(t, drug.ID, 4)
	_, err := env.svc.PayWithWallet(context.Background(), order.ID, env.patient.ID)
	require.NoError(t, err)

	cancelled, err := env.svc.CancelOrder(context.Background(), CancelOrderInput{
		OrderID: order.ID,
		ActorID: env.patient.ID,
		Reason:  "pharmacy out of reach",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, cancelled.PaymentStatus)

	var patient models.User
	require.NoError(t, env.db.First(&patient, "id = ?", env.patient.ID).Error)
	assert.True(t, patient.WalletBalance.Equal(decimal.NewFromInt(200)))

	var txns []models.WalletTransaction
	require.NoError(t, env.db.Where("order_id = ?", order.ID).Order("created_at ASC").Find(&txns).Error)
	require.Len(t, txns, 2)
	assert.Equal(t, enums.WalletTransactionTypeRefund, txns[1].Type)
}

func TestCompletePickupValidatesCode(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	env.seedBatch(t, drug.ID, 20, 120)

	order := env.createPickupOrder(t, drug.ID, 2)
	env.payCash(t, order.ID, order.TotalAmount)
	dispensed, err := env.svc.DispenseOrder(context.Background(), DispenseInput{OrderID: order.ID, PerformedBy: uuid.New()})
	require.NoError(t, err)

	actor := uuid.New()
	_, err = env.svc.CompletePickup(context.Background(), order.ID, "000000x", actor)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	completed, err := env.svc.CompletePickup(context.Background(), order.ID, *dispensed.PickupCode, actor)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	prompts := env.notifier.byType(enums.NotificationTypeRatingPrompt)
	require.Len(t, prompts, 1)
}

func TestDeliveryFlow(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	env.seedBatch(t, drug.ID, 20, 120)

	address := "14 Marina Road, Lagos"
	order, err := env.svc.CreateOrder(context.Background(), CreateOrderInput{
		PatientID:       env.patient.ID,
		PharmacyID:      env.pharmacy.ID,
		Items:           []OrderLineInput{{DrugID: drug.ID, Quantity: 3}},
		DeliveryMethod:  enums.DeliveryMethodDelivery,
		DeliveryAddress: &address,
	})
	require.NoError(t, err)
	assert.True(t, order.DeliveryFee.Equal(decimal.NewFromInt(5)))
	assert.True(t, order.TotalAmount.Equal(order.Subtotal.Add(decimal.NewFromInt(5))))
	assert.Nil(t, order.PickupCode)

	env.payCash(t, order.ID, order.TotalAmount)
	actor := uuid.New()

	dispensed, err := env.svc.DispenseOrder(context.Background(), DispenseInput{OrderID: order.ID, PerformedBy: actor})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusOutForDelivery, dispensed.Status)

	require.NoError(t, env.svc.AssignDelivery(context.Background(), order.ID, "courier-77", actor))

	delivered, err := env.svc.MarkDelivered(context.Background(), order.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, delivered.Status)
	assert.Len(t, env.notifier.byType(enums.NotificationTypeOrderDelivered), 1)

	completed, err := env.svc.UpdateStatus(context.Background(), UpdateStatusInput{
		OrderID: order.ID,
		To:      enums.OrderStatusCompleted,
		ActorID: actor,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, completed.Status)

	// Completed is terminal except for refunds.
	_, err = env.svc.UpdateStatus(context.Background(), UpdateStatusInput{
		OrderID: order.ID,
		To:      enums.OrderStatusProcessing,
		ActorID: actor,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestRateOrderAppliesRunningAverage(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	env.seedBatch(t, drug.ID, 20, 120)

	order := env.createPickupOrder(t, drug.ID, 2)
	env.payCash(t, order.ID, order.TotalAmount)
	dispensed, err := env.svc.DispenseOrder(context.Background(), DispenseInput{OrderID: order.ID, PerformedBy: uuid.New()})
	require.NoError(t, err)
	_, err = env.svc.CompletePickup(context.Background(), order.ID, *dispensed.PickupCode, uuid.New())
	require.NoError(t, err)

	_, err = env.svc.RateOrder(context.Background(), RateOrderInput{
		OrderID:   order.ID,
		PatientID: uuid.New(),
		Rating:    5,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	rated, err := env.svc.RateOrder(context.Background(), RateOrderInput{
		OrderID:   order.ID,
		PatientID: env.patient.ID,
		Rating:    5,
	})
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, 5, *rated.Rating)

	var pharmacy models.Pharmacy
	require.NoError(t, env.db.First(&pharmacy, "id = ?", env.pharmacy.ID).Error)
	assert.InDelta(t, 4.1, pharmacy.AverageRating, 0.001)
	assert.Equal(t, 10, pharmacy.TotalRatings)

	_, err = env.svc.RateOrder(context.Background(), RateOrderInput{
		OrderID:   order.ID,
		PatientID: env.patient.ID,
		Rating:    4,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestStatusHistoryAudit(t *testing.T) {
	t.Parallel()

	env := setupOrdersEnv(t)
	drug := env.seedDrug(t, "Paracetamol", 8, false)
	env.seedBatch(t, drug.ID, 20, 120)

	order := env.createPickupOrder(t, drug.ID, 2)
	env.payCash(t, order.ID, order.TotalAmount)
	_, err := env.svc.DispenseOrder(context.Background(), DispenseInput{OrderID: order.ID, PerformedBy: uuid.New()})
	require.NoError(t, err)

	reloaded, err := env.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)

	var seen []enums.OrderStatus
	for _, entry := range reloaded.StatusHistory {
		seen = append(seen, entry.ToStatus)
	}
	assert.Equal(t, []enums.OrderStatus{
		enums.OrderStatusPending,
		enums.OrderStatusConfirmed,
		enums.OrderStatusProcessing,
		enums.OrderStatusReadyForPickup,
	}, seen)
}
