package orders

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/internal/availability"
	"github.com/medmarkethq/medmarket-backend/internal/drugs"
	"github.com/medmarkethq/medmarket-backend/internal/inventory"
	"github.com/medmarkethq/medmarket-backend/internal/notifications"
	"github.com/medmarkethq/medmarket-backend/internal/pharmacies"
	"github.com/medmarkethq/medmarket-backend/internal/purchaselimits"
	"github.com/medmarkethq/medmarket-backend/internal/users"
	"github.com/medmarkethq/medmarket-backend/internal/wallet"
	"github.com/medmarkethq/medmarket-backend/pkg/config"
	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
	"github.com/medmarkethq/medmarket-backend/pkg/logger"
	"github.com/medmarkethq/medmarket-backend/pkg/metrics"
	"github.com/medmarkethq/medmarket-backend/pkg/pagination"
	"github.com/medmarkethq/medmarket-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type limitChecker interface {
	ValidateBeforeOrder(ctx context.Context, input purchaselimits.ValidateCartInput) error
}

type stockSelector interface {
	SelectForQuantity(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int, batchID *uuid.UUID) (*availability.Selection, error)
}

type ledgerMover interface {
	ReserveStock(ctx context.Context, tx *gorm.DB, input inventory.MovementInput) error
	ReleaseStock(ctx context.Context, tx *gorm.DB, input inventory.MovementInput) error
	DispenseStock(ctx context.Context, tx *gorm.DB, input inventory.MovementInput) error
}

type walletPayer interface {
	Debit(ctx context.Context, tx *gorm.DB, input wallet.MovementInput) (*models.WalletTransaction, error)
	Refund(ctx context.Context, tx *gorm.DB, input wallet.MovementInput) (*models.WalletTransaction, error)
}

type prescriptionLinker interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Prescription, error)
	MarkPaidAndLink(ctx context.Context, prescriptionID, orderID uuid.UUID) error
}

type notifier interface {
	Notify(ctx context.Context, input notifications.NotifyInput) error
}

// Service owns the order fulfillment lifecycle from creation through
// payment, verification, dispensing, hand-over and rating.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	CreateOTCOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	CreatePrescriptionOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	ProcessPayment(ctx context.Context, input PaymentInput) (*models.Order, error)
	PayWithWallet(ctx context.Context, orderID, patientID uuid.UUID) (*models.Order, error)
	ProcessSplitPayment(ctx context.Context, input SplitPaymentInput) (*models.Order, error)
	VerifyPrescription(ctx context.Context, input VerifyPrescriptionInput) (*models.Order, error)
	DispenseOrder(ctx context.Context, input DispenseInput) (*models.Order, error)
	CompletePickup(ctx context.Context, orderID uuid.UUID, code string, actorID uuid.UUID) (*models.Order, error)
	AssignDelivery(ctx context.Context, orderID uuid.UUID, courierReference string, actorID uuid.UUID) error
	MarkDelivered(ctx context.Context, orderID, actorID uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	CancelOrder(ctx context.Context, input CancelOrderInput) (*models.Order, error)
	RateOrder(ctx context.Context, input RateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	ListPatientOrders(ctx context.Context, patientID uuid.UUID, params pagination.Params, filters OrderSearchFilters) ([]models.Order, error)
	ListPharmacyOrders(ctx context.Context, pharmacyID uuid.UUID, params pagination.Params, filters OrderSearchFilters) ([]models.Order, error)
	GetStatistics(ctx context.Context, pharmacyID uuid.UUID, since time.Time) (*Statistics, error)
}

// ServiceParams collects the collaborators the fulfillment service
// coordinates.
type ServiceParams struct {
	Repo          *Repository
	Tx            txRunner
	Limits        limitChecker
	Selector      stockSelector
	Ledger        ledgerMover
	BatchStore    *availability.Repository
	Drugs         *drugs.Repository
	Pharmacies    *pharmacies.Repository
	Users         *users.Repository
	Prescriptions prescriptionLinker
	Wallet        walletPayer
	Notifier      notifier
	Logger        *logger.Logger
	Metrics       *metrics.StockMetrics
	Orders        config.OrdersConfig
	Inventory     config.InventoryConfig
	Now           func() time.Time
}

type service struct {
	repo          *Repository
	tx            txRunner
	limits        limitChecker
	selector      stockSelector
	ledger        ledgerMover
	batchStore    *availability.Repository
	drugs         *drugs.Repository
	pharmacies    *pharmacies.Repository
	users         *users.Repository
	prescriptions prescriptionLinker
	wallet        walletPayer
	notifier      notifier
	log           *logger.Logger
	metrics       *metrics.StockMetrics
	cfg           config.OrdersConfig
	autoSelect    bool
	now           func() time.Time
}

// NewService builds the order fulfillment service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders: repository is required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("orders: transaction runner is required")
	}
	if params.Limits == nil {
		return nil, fmt.Errorf("orders: purchase limit checker is required")
	}
	if params.Selector == nil {
		return nil, fmt.Errorf("orders: stock selector is required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("orders: inventory ledger is required")
	}
	if params.BatchStore == nil {
		return nil, fmt.Errorf("orders: batch store repository is required")
	}
	if params.Drugs == nil {
		return nil, fmt.Errorf("orders: drug repository is required")
	}
	if params.Pharmacies == nil {
		return nil, fmt.Errorf("orders: pharmacy repository is required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("orders: user repository is required")
	}
	if params.Prescriptions == nil {
		return nil, fmt.Errorf("orders: prescription store is required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("orders: wallet service is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("orders: logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:          params.Repo,
		tx:            params.Tx,
		limits:        params.Limits,
		selector:      params.Selector,
		ledger:        params.Ledger,
		batchStore:    params.BatchStore,
		drugs:         params.Drugs,
		pharmacies:    params.Pharmacies,
		users:         params.Users,
		prescriptions: params.Prescriptions,
		wallet:        params.Wallet,
		notifier:      params.Notifier,
		log:           params.Logger,
		metrics:       params.Metrics,
		cfg:           params.Orders,
		autoSelect:    params.Inventory.AutoSelectBatch,
		now:           now,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	patient, err := s.users.FindByID(ctx, input.PatientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "patient not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load patient")
	}
	pharmacy, err := s.pharmacies.FindByID(ctx, input.PharmacyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pharmacy not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pharmacy")
	}

	catalog, err := s.loadCatalog(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	// The abuse-prevention gate runs before anything is priced or
	// reserved. Blocking findings abort the whole creation.
	lines := make([]purchaselimits.CartLine, 0, len(input.Items))
	for _, line := range input.Items {
		lines = append(lines, purchaselimits.CartLine{DrugID: line.DrugID, Quantity: line.Quantity})
	}
	var patientAge *int
	if patient.DateOfBirth != nil {
		age := patient.Age(s.now())
		patientAge = &age
	}
	if err := s.limits.ValidateBeforeOrder(ctx, purchaselimits.ValidateCartInput{
		PatientID:  input.PatientID,
		Lines:      lines,
		PatientAge: patientAge,
	}); err != nil {
		return nil, err
	}

	orderType, rxLines := classifyOrder(input.Items, catalog)
	if rxLines > 0 && input.PrescriptionID == nil && input.PrescriptionFile == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prescription reference is required for prescription items")
	}
	if input.PrescriptionID != nil {
		prescription, err := s.prescriptions.FindByID(ctx, *input.PrescriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "prescription not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load prescription")
		}
		if prescription.PatientID != input.PatientID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "prescription belongs to another patient")
		}
	}

	selections := make([]*availability.Selection, len(input.Items))
	subtotal := decimal.Zero
	for i, line := range input.Items {
		selection, err := s.selector.SelectForQuantity(ctx, input.PharmacyID, line.DrugID, line.Quantity, line.BatchID)
		if err != nil {
			return nil, err
		}
		selections[i] = selection
		subtotal = subtotal.Add(selection.LineTotal)
	}

	deliveryFee := decimal.Zero
	if input.DeliveryMethod == enums.DeliveryMethodDelivery {
		deliveryFee = pharmacy.DeliveryFee
	}
	total := subtotal.Add(deliveryFee)

	verification := enums.VerificationStatusNotRequired
	if rxLines > 0 {
		verification = enums.VerificationStatusPending
	}

	var created uuid.UUID
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		number, err := repo.NextOrderNumber(ctx, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
		}

		order := &models.Order{
			ID:                 uuid.New(),
			OrderNumber:        number,
			PatientID:          input.PatientID,
			PharmacyID:         input.PharmacyID,
			PrescriptionID:     input.PrescriptionID,
			PrescriptionFile:   input.PrescriptionFile,
			OrderType:          orderType,
			Status:             enums.OrderStatusPending,
			PaymentStatus:      enums.PaymentStatusUnpaid,
			Subtotal:           subtotal,
			DeliveryFee:        deliveryFee,
			TotalAmount:        total,
			DeliveryMethod:     input.DeliveryMethod,
			DeliveryAddress:    input.DeliveryAddress,
			VerificationStatus: verification,
		}
		if input.DeliveryMethod == enums.DeliveryMethodPickup {
			code, err := s.newPickupCode()
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate pickup code")
			}
			order.PickupCode = &code
		}
		for i, line := range input.Items {
			drug := catalog[line.DrugID]
			selection := selections[i]
			order.Items = append(order.Items, models.OrderItem{
				ID:                   uuid.New(),
				OrderID:              order.ID,
				DrugID:               line.DrugID,
				DrugName:             drug.Name,
				Strength:             drug.Strength,
				UnitPrice:            selection.UnitPrice,
				Quantity:             line.Quantity,
				DiscountPercent:      selection.DiscountPercent,
				TotalPrice:           selection.LineTotal,
				RequiresPrescription: drug.RequiresPrescription,
				StockSource:          selection.Source,
			})
		}
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		// Hold the selected ledger batches inside the creation
		// transaction. A concurrent checkout that won the race makes the
		// guarded reserve miss and rolls the whole order back.
		var reservations []models.StockReservation
		for i, selection := range selections {
			if selection.Source != enums.StockSourceLedger {
				continue
			}
			for _, allocation := range selection.Allocations {
				if allocation.BatchID == nil {
					continue
				}
				if err := s.ledger.ReserveStock(ctx, tx, inventory.MovementInput{
					BatchID:       *allocation.BatchID,
					Quantity:      allocation.Quantity,
					ReferenceType: enums.ReferenceTypeOrder,
					ReferenceID:   order.ID,
					PerformedBy:   input.PatientID,
				}); err != nil {
					return err
				}
				reservations = append(reservations, models.StockReservation{
					ID:       uuid.New(),
					OrderID:  order.ID,
					BatchID:  *allocation.BatchID,
					DrugID:   input.Items[i].DrugID,
					Quantity: allocation.Quantity,
					Status:   enums.ReservationStatusActive,
				})
			}
		}
		if err := repo.CreateReservations(ctx, reservations); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist reservations")
		}

		actor := input.PatientID
		if err := repo.AppendStatusHistory(ctx, historyEntry(order.ID, enums.OrderStatusPending, enums.OrderStatusPending, &actor, strPtr("order created"))); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order creation")
		}
		created = order.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, created)
}

// CreateOTCOrder rejects carts containing prescription items before
// delegating to the common creation path.
func (s *service) CreateOTCOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}
	catalog, err := s.loadCatalog(ctx, input.Items)
	if err != nil {
		return nil, err
	}
	for _, line := range input.Items {
		if catalog[line.DrugID].RequiresPrescription {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart contains prescription items, use a prescription order")
		}
	}
	return s.CreateOrder(ctx, input)
}

// CreatePrescriptionOrder requires the prescription reference up front
// so the failure happens before anything is priced or reserved.
func (s *service) CreatePrescriptionOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.PrescriptionID == nil && input.PrescriptionFile == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prescription reference is required")
	}
	return s.CreateOrder(ctx, input)
}

func (s *service) ProcessPayment(ctx context.Context, input PaymentInput) (*models.Order, error) {
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already paid")
	}
	if input.Amount.LessThan(order.TotalAmount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount below order total").
			WithDetails(map[string]any{"total": order.TotalAmount, "paid": input.Amount})
	}
	if err := guardTransition(order.Status, enums.OrderStatusConfirmed); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		extra := map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"payment_method": input.Method,
			"amount_paid":    input.Amount,
		}
		if input.Reference != nil {
			extra["card_reference"] = *input.Reference
		}
		if err := repo.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusConfirmed, extra); err != nil {
			return err
		}
		return repo.AppendStatusHistory(ctx, historyEntry(order.ID, order.Status, enums.OrderStatusConfirmed, nil, strPtr("payment recorded")))
	})
	if err != nil {
		return nil, err
	}

	s.linkPrescriptionPayment(ctx, order)
	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) PayWithWallet(ctx context.Context, orderID, patientID uuid.UUID) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PatientID != patientID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another patient")
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already paid")
	}
	if err := guardTransition(order.Status, enums.OrderStatusConfirmed); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := s.wallet.Debit(ctx, tx, wallet.MovementInput{
			UserID:    patientID,
			Amount:    order.TotalAmount,
			OrderID:   &order.ID,
			Reference: order.OrderNumber,
		})
		if err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		extra := map[string]any{
			"payment_status":   enums.PaymentStatusPaid,
			"payment_method":   enums.PaymentMethodWallet,
			"amount_paid":      order.TotalAmount,
			"wallet_amount":    order.TotalAmount,
			"wallet_reference": txn.ID.String(),
		}
		if err := repo.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusConfirmed, extra); err != nil {
			return err
		}
		return repo.AppendStatusHistory(ctx, historyEntry(order.ID, order.Status, enums.OrderStatusConfirmed, &patientID, strPtr("paid from wallet")))
	})
	if err != nil {
		return nil, err
	}

	s.linkPrescriptionPayment(ctx, order)
	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) ProcessSplitPayment(ctx context.Context, input SplitPaymentInput) (*models.Order, error) {
	if input.WalletAmount.IsNegative() || input.CardAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "split amounts must not be negative")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PatientID != input.PatientID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another patient")
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already paid")
	}
	combined := input.WalletAmount.Add(input.CardAmount)
	if combined.LessThan(order.TotalAmount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "combined payment below order total").
			WithDetails(map[string]any{"total": order.TotalAmount, "paid": combined})
	}
	if err := guardTransition(order.Status, enums.OrderStatusConfirmed); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		extra := map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"payment_method": enums.PaymentMethodSplit,
			"amount_paid":    combined,
			"wallet_amount":  input.WalletAmount,
			"card_amount":    input.CardAmount,
			"card_reference": input.CardReference,
		}
		if input.WalletAmount.IsPositive() {
			txn, err := s.wallet.Debit(ctx, tx, wallet.MovementInput{
				UserID:    input.PatientID,
				Amount:    input.WalletAmount,
				OrderID:   &order.ID,
				Reference: order.OrderNumber,
			})
			if err != nil {
				return err
			}
			extra["wallet_reference"] = txn.ID.String()
		}
		repo := s.repo.WithTx(tx)
		if err := repo.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusConfirmed, extra); err != nil {
			return err
		}
		return repo.AppendStatusHistory(ctx, historyEntry(order.ID, order.Status, enums.OrderStatusConfirmed, &input.PatientID, strPtr("split payment recorded")))
	})
	if err != nil {
		return nil, err
	}

	s.linkPrescriptionPayment(ctx, order)
	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) VerifyPrescription(ctx context.Context, input VerifyPrescriptionInput) (*models.Order, error) {
	if input.VerifierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "verifier id is required")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.VerificationStatus == enums.VerificationStatusNotRequired {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order does not require prescription verification")
	}
	if order.VerificationStatus != enums.VerificationStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "prescription already reviewed")
	}

	status := enums.VerificationStatusRejected
	if input.Approve {
		status = enums.VerificationStatusVerified
	}
	verifiedAt := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateFields(ctx, order.ID, map[string]any{
			"verification_status": status,
			"verified_by":         input.VerifierID,
			"verified_at":         verifiedAt,
		}); err != nil {
			return err
		}
		return repo.MarkItemsVerified(ctx, order.ID, input.Approve)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) DispenseOrder(ctx context.Context, input DispenseInput) (*models.Order, error) {
	if input.PerformedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "performed by is required")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid")
	}
	if order.HasPrescriptionItems() && order.VerificationStatus != enums.VerificationStatusVerified {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "prescription verification is not complete")
	}
	if order.Status != enums.OrderStatusConfirmed && order.Status != enums.OrderStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be dispensed in its current status")
	}

	target := enums.OrderStatusReadyForPickup
	if order.DeliveryMethod == enums.DeliveryMethodDelivery {
		target = enums.OrderStatusOutForDelivery
	}

	reservations, err := s.repo.ListActiveReservations(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order reservations")
	}
	reservedByDrug := make(map[uuid.UUID][]models.StockReservation)
	for _, reservation := range reservations {
		reservedByDrug[reservation.DrugID] = append(reservedByDrug[reservation.DrugID], reservation)
	}

	started := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current := order.Status
		if current == enums.OrderStatusConfirmed {
			if err := repo.TransitionStatus(ctx, order.ID, current, enums.OrderStatusProcessing, nil); err != nil {
				return err
			}
			if err := repo.AppendStatusHistory(ctx, historyEntry(order.ID, current, enums.OrderStatusProcessing, &input.PerformedBy, strPtr("dispensing started"))); err != nil {
				return err
			}
			current = enums.OrderStatusProcessing
		}

		for i := range order.Items {
			if err := s.dispenseItem(ctx, tx, repo, order, &order.Items[i], input, reservedByDrug); err != nil {
				return err
			}
		}

		dispensedAt := s.now()
		if err := repo.TransitionStatus(ctx, order.ID, current, target, map[string]any{"dispensed_at": dispensedAt}); err != nil {
			return err
		}
		return repo.AppendStatusHistory(ctx, historyEntry(order.ID, current, target, &input.PerformedBy, strPtr("stock dispensed")))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveDispense(order.DeliveryMethod.String(), s.now().Sub(started))
	if target == enums.OrderStatusReadyForPickup {
		message := fmt.Sprintf("Order %s is ready for pickup.", order.OrderNumber)
		if order.PickupCode != nil {
			message = fmt.Sprintf("Order %s is ready for pickup. Your pickup code is %s.", order.OrderNumber, *order.PickupCode)
		}
		s.notify(ctx, order.PatientID, enums.NotificationTypeOrderReady, "Order ready", message)
	}
	return s.repo.FindByID(ctx, order.ID)
}

// dispenseItem draws one line's quantity from whichever stock tier the
// item was priced against. All lines run in the caller's transaction;
// any failure rolls the entire dispense back.
func (s *service) dispenseItem(ctx context.Context, tx *gorm.DB, repo *Repository, order *models.Order, item *models.OrderItem, input DispenseInput, reservedByDrug map[uuid.UUID][]models.StockReservation) error {
	override, hasOverride := input.BatchOverrides[item.ID]

	switch item.StockSource {
	case enums.StockSourceLedger:
		held := reservedByDrug[item.DrugID]
		if hasOverride {
			// An explicit batch supersedes the reservation plan. Hand the
			// held quantities back first so they return to the pool.
			for _, reservation := range held {
				if err := s.releaseReservation(ctx, tx, repo, order, reservation, input.PerformedBy); err != nil {
					return err
				}
			}
			delete(reservedByDrug, item.DrugID)
			if err := s.ledger.DispenseStock(ctx, tx, inventory.MovementInput{
				BatchID:       override,
				Quantity:      item.Quantity,
				ReferenceType: enums.ReferenceTypeOrder,
				ReferenceID:   order.ID,
				PerformedBy:   input.PerformedBy,
			}); err != nil {
				return err
			}
			return repo.UpdateItemFields(ctx, item.ID, map[string]any{"dispensed_batch_id": override})
		}
		if len(held) > 0 {
			for _, reservation := range held {
				if err := s.ledger.DispenseStock(ctx, tx, inventory.MovementInput{
					BatchID:       reservation.BatchID,
					Quantity:      reservation.Quantity,
					ReferenceType: enums.ReferenceTypeOrder,
					ReferenceID:   order.ID,
					PerformedBy:   input.PerformedBy,
				}); err != nil {
					return err
				}
				if err := repo.SettleReservation(ctx, reservation.ID, enums.ReservationStatusConsumed); err != nil {
					return err
				}
			}
			first := held[0].BatchID
			return repo.UpdateItemFields(ctx, item.ID, map[string]any{"dispensed_batch_id": first})
		}
		return s.dispenseFresh(ctx, tx, repo, order, item, input.PerformedBy)
	case enums.StockSourceBatchStore:
		if hasOverride {
			if err := s.batchStore.WithTx(tx).DecrementDrugBatch(ctx, override, item.Quantity); err != nil {
				return err
			}
			return repo.UpdateItemFields(ctx, item.ID, map[string]any{"dispensed_batch_id": override})
		}
		return s.dispenseFresh(ctx, tx, repo, order, item, input.PerformedBy)
	case enums.StockSourceLegacyQuantity:
		return s.drugs.WithTx(tx).DecrementLegacyQuantity(ctx, item.DrugID, item.Quantity)
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, "unknown stock source on order item")
	}
}

// dispenseFresh runs a fresh oldest-expiry-first selection at dispense
// time, for lines with no reservation plan.
func (s *service) dispenseFresh(ctx context.Context, tx *gorm.DB, repo *Repository, order *models.Order, item *models.OrderItem, performedBy uuid.UUID) error {
	if !s.autoSelect {
		return pkgerrors.New(pkgerrors.CodeValidation, "batch auto-selection is disabled, specify a batch for the line").
			WithDetails(map[string]any{"item_id": item.ID})
	}
	selection, err := s.selector.SelectForQuantity(ctx, order.PharmacyID, item.DrugID, item.Quantity, nil)
	if err != nil {
		return err
	}
	var firstBatch *uuid.UUID
	for _, allocation := range selection.Allocations {
		switch allocation.Source {
		case enums.StockSourceLedger:
			if allocation.BatchID == nil {
				continue
			}
			if err := s.ledger.DispenseStock(ctx, tx, inventory.MovementInput{
				BatchID:       *allocation.BatchID,
				Quantity:      allocation.Quantity,
				ReferenceType: enums.ReferenceTypeOrder,
				ReferenceID:   order.ID,
				PerformedBy:   performedBy,
			}); err != nil {
				return err
			}
		case enums.StockSourceBatchStore:
			if allocation.BatchID == nil {
				continue
			}
			if err := s.batchStore.WithTx(tx).DecrementDrugBatch(ctx, *allocation.BatchID, allocation.Quantity); err != nil {
				return err
			}
		case enums.StockSourceLegacyQuantity:
			if err := s.drugs.WithTx(tx).DecrementLegacyQuantity(ctx, item.DrugID, allocation.Quantity); err != nil {
				return err
			}
		}
		if firstBatch == nil && allocation.BatchID != nil {
			firstBatch = allocation.BatchID
		}
	}
	if firstBatch != nil {
		return repo.UpdateItemFields(ctx, item.ID, map[string]any{"dispensed_batch_id": *firstBatch})
	}
	return nil
}

func (s *service) releaseReservation(ctx context.Context, tx *gorm.DB, repo *Repository, order *models.Order, reservation models.StockReservation, actorID uuid.UUID) error {
	if err := s.ledger.ReleaseStock(ctx, tx, inventory.MovementInput{
		BatchID:       reservation.BatchID,
		Quantity:      reservation.Quantity,
		ReferenceType: enums.ReferenceTypeOrder,
		ReferenceID:   order.ID,
		PerformedBy:   actorID,
	}); err != nil {
		return err
	}
	return repo.SettleReservation(ctx, reservation.ID, enums.ReservationStatusReleased)
}

func (s *service) CompletePickup(ctx context.Context, orderID uuid.UUID, code string, actorID uuid.UUID) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := guardTransition(order.Status, enums.OrderStatusCompleted); err != nil {
		return nil, err
	}
	if order.PickupCode == nil || *order.PickupCode != code {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "pickup code does not match")
	}

	completedAt := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusCompleted, map[string]any{"completed_at": completedAt}); err != nil {
			return err
		}
		return repo.AppendStatusHistory(ctx, historyEntry(order.ID, order.Status, enums.OrderStatusCompleted, &actorID, strPtr("picked up")))
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, order.PatientID, enums.NotificationTypeRatingPrompt, "How was your order?",
		fmt.Sprintf("Order %s is complete. Rate your experience with the pharmacy.", order.OrderNumber))
	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) AssignDelivery(ctx context.Context, orderID uuid.UUID, courierReference string, actorID uuid.UUID) error {
	if courierReference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "courier reference is required")
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != enums.OrderStatusOutForDelivery {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not out for delivery")
	}
	return s.repo.UpdateFields(ctx, order.ID, map[string]any{"courier_reference": courierReference})
}

func (s *service) MarkDelivered(ctx context.Context, orderID, actorID uuid.UUID) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := guardTransition(order.Status, enums.OrderStatusDelivered); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusDelivered, nil); err != nil {
			return err
		}
		return repo.AppendStatusHistory(ctx, historyEntry(order.ID, order.Status, enums.OrderStatusDelivered, &actorID, strPtr("delivered")))
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, order.PatientID, enums.NotificationTypeOrderDelivered, "Order delivered",
		fmt.Sprintf("Order %s was delivered.", order.OrderNumber))
	s.notify(ctx, order.PatientID, enums.NotificationTypeRatingPrompt, "How was your order?",
		fmt.Sprintf("Rate your experience with order %s.", order.OrderNumber))
	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.To == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "use order cancellation instead of a direct status update")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if err := guardTransition(order.Status, input.To); err != nil {
		return nil, err
	}

	extra := map[string]any{}
	if input.To == enums.OrderStatusCompleted {
		extra["completed_at"] = s.now()
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.TransitionStatus(ctx, order.ID, order.Status, input.To, extra); err != nil {
			return err
		}
		return repo.AppendStatusHistory(ctx, historyEntry(order.ID, order.Status, input.To, &input.ActorID, input.Note))
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) CancelOrder(ctx context.Context, input CancelOrderInput) (*models.Order, error) {
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason is required")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if !Cancellable(order.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled")
	}

	reservations, err := s.repo.ListActiveReservations(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order reservations")
	}

	cancelledAt := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		// Cancellation hands every outstanding hold back in the same
		// transaction, so a cancelled order never strands reserved stock.
		for _, reservation := range reservations {
			if err := s.releaseReservation(ctx, tx, repo, order, reservation, input.ActorID); err != nil {
				return err
			}
		}

		extra := map[string]any{
			"cancel_reason": input.Reason,
			"cancelled_by":  input.ActorID,
			"cancelled_at":  cancelledAt,
		}
		if order.PaymentStatus == enums.PaymentStatusPaid && order.WalletAmount.IsPositive() {
			if _, err := s.wallet.Refund(ctx, tx, wallet.MovementInput{
				UserID:    order.PatientID,
				Amount:    order.WalletAmount,
				OrderID:   &order.ID,
				Reference: "refund " + order.OrderNumber,
			}); err != nil {
				return err
			}
			extra["payment_status"] = enums.PaymentStatusRefunded
		}
		if err := repo.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusCancelled, extra); err != nil {
			return err
		}
		return repo.AppendStatusHistory(ctx, historyEntry(order.ID, order.Status, enums.OrderStatusCancelled, &input.ActorID, strPtr(input.Reason)))
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, order.PatientID, enums.NotificationTypeOrderCancelled, "Order cancelled",
		fmt.Sprintf("Order %s was cancelled: %s", order.OrderNumber, input.Reason))
	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) RateOrder(ctx context.Context, input RateOrderInput) (*models.Order, error) {
	if input.Rating < 1 || input.Rating > 5 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 1 and 5")
	}
	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PatientID != input.PatientID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another patient")
	}
	if order.Status != enums.OrderStatusCompleted && order.Status != enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be rated yet")
	}
	if order.Rating != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already rated")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateFields(ctx, order.ID, map[string]any{
			"rating": input.Rating,
			"review": input.Review,
		}); err != nil {
			return err
		}
		return s.pharmacies.WithTx(tx).ApplyRating(ctx, order.PharmacyID, input.Rating)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.loadOrder(ctx, id)
}

func (s *service) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	order, err := s.repo.FindByOrderNumber(ctx, number)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) ListPatientOrders(ctx context.Context, patientID uuid.UUID, params pagination.Params, filters OrderSearchFilters) ([]models.Order, error) {
	if patientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "patient id is required")
	}
	return s.repo.ListByPatient(ctx, patientID, params, filters)
}

func (s *service) ListPharmacyOrders(ctx context.Context, pharmacyID uuid.UUID, params pagination.Params, filters OrderSearchFilters) ([]models.Order, error) {
	if pharmacyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacy id is required")
	}
	return s.repo.ListByPharmacy(ctx, pharmacyID, params, filters)
}

func (s *service) GetStatistics(ctx context.Context, pharmacyID uuid.UUID, since time.Time) (*Statistics, error) {
	if pharmacyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacy id is required")
	}
	return s.repo.Aggregate(ctx, pharmacyID, since)
}

func (s *service) loadOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) loadCatalog(ctx context.Context, items []OrderLineInput) (map[uuid.UUID]*models.Drug, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, line := range items {
		ids = append(ids, line.DrugID)
	}
	catalog, err := s.drugs.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load drugs")
	}
	for _, line := range items {
		if _, ok := catalog[line.DrugID]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "drug not found").
				WithDetails(map[string]any{"drug_id": line.DrugID})
		}
	}
	return catalog, nil
}

// linkPrescriptionPayment synchronizes the upstream prescription record
// after a successful payment. Failures are logged and swallowed; the
// payment itself already committed.
func (s *service) linkPrescriptionPayment(ctx context.Context, order *models.Order) {
	if order.PrescriptionID == nil {
		return
	}
	if err := s.prescriptions.MarkPaidAndLink(ctx, *order.PrescriptionID, order.ID); err != nil {
		s.log.Error(ctx, "link prescription payment", err)
	}
}

func (s *service) notify(ctx context.Context, userID uuid.UUID, kind enums.NotificationType, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, notifications.NotifyInput{
		UserID:  userID,
		Type:    kind,
		Title:   title,
		Message: message,
	}); err != nil {
		s.log.Error(ctx, "dispatch order notification", err)
	}
}

func (s *service) newPickupCode() (string, error) {
	length := s.cfg.PickupCodeLength
	if length <= 0 {
		length = 6
	}
	digits := make([]byte, length)
	if _, err := rand.Read(digits); err != nil {
		return "", err
	}
	for i := range digits {
		digits[i] = '0' + digits[i]%10
	}
	return string(digits), nil
}

func validateCreateInput(input CreateOrderInput) error {
	if err := validate.Struct(input); err != nil {
		return err
	}
	if !input.DeliveryMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery method")
	}
	if input.DeliveryMethod == enums.DeliveryMethodDelivery && (input.DeliveryAddress == nil || *input.DeliveryAddress == "") {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery address is required for delivery orders")
	}
	return nil
}

func classifyOrder(items []OrderLineInput, catalog map[uuid.UUID]*models.Drug) (enums.OrderType, int) {
	rx := 0
	for _, line := range items {
		if catalog[line.DrugID].RequiresPrescription {
			rx++
		}
	}
	switch {
	case rx == 0:
		return enums.OrderTypeOTC, 0
	case rx == len(items):
		return enums.OrderTypePrescription, rx
	default:
		return enums.OrderTypeMixed, rx
	}
}

func historyEntry(orderID uuid.UUID, from, to enums.OrderStatus, actorID *uuid.UUID, note *string) *models.OrderStatusHistory {
	return &models.OrderStatusHistory{
		ID:         uuid.New(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
		Note:       note,
	}
}

func strPtr(value string) *string {
	return &value
}
