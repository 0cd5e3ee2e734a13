package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
)

type drugFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Drug, error)
}

type ledgerBatchLister interface {
	ListSellableBatches(ctx context.Context, pharmacyID, drugID uuid.UUID, at time.Time) ([]models.StockBatch, error)
	FindBatchByID(ctx context.Context, id uuid.UUID) (*models.StockBatch, error)
}

// StockAvailability is the resolved stock picture for one
// (pharmacy, drug) pair. Exactly one tier backs it; Source names which.
type StockAvailability struct {
	PharmacyID     uuid.UUID          `json:"pharmacy_id"`
	DrugID         uuid.UUID          `json:"drug_id"`
	Source         enums.StockSource  `json:"source"`
	TotalAvailable int                `json:"total_available"`
	DrugBatches    []models.DrugBatch `json:"drug_batches,omitempty"`
	StockBatches   []models.StockBatch `json:"stock_batches,omitempty"`
	Drug           *models.Drug       `json:"-"`
}

// Allocation is one batch's contribution to a selected line.
type Allocation struct {
	Source          enums.StockSource `json:"source"`
	BatchID         *uuid.UUID        `json:"batch_id,omitempty"`
	BatchNumber     string            `json:"batch_number,omitempty"`
	Quantity        int               `json:"quantity"`
	UnitPrice       decimal.Decimal   `json:"unit_price"`
	DiscountPercent decimal.Decimal   `json:"discount_percent"`
}

// Selection is the priced, oldest-expiry-first allocation of a
// requested quantity.
type Selection struct {
	Source          enums.StockSource `json:"source"`
	Allocations     []Allocation      `json:"allocations"`
	UnitPrice       decimal.Decimal   `json:"unit_price"`
	DiscountPercent decimal.Decimal   `json:"discount_percent"`
	LineTotal       decimal.Decimal   `json:"line_total"`
}

// Service resolves sellable stock through the three-tier fallback and
// prices order lines from it.
type Service interface {
	Resolve(ctx context.Context, pharmacyID, drugID uuid.UUID) (*StockAvailability, error)
	SelectForQuantity(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int, batchID *uuid.UUID) (*Selection, error)
}

type service struct {
	repo   *Repository
	ledger ledgerBatchLister
	drugs  drugFinder
	now    func() time.Time
}

// NewService wires the batch selector with its three stock tiers.
func NewService(repo *Repository, ledger ledgerBatchLister, drugs drugFinder) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("availability repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger batch lister required")
	}
	if drugs == nil {
		return nil, fmt.Errorf("drug finder required")
	}
	return &service{repo: repo, ledger: ledger, drugs: drugs, now: time.Now}, nil
}

// Resolve walks the tiers in order and stops at the first one holding
// positive quantity: dedicated drug batches, then the batch ledger,
// then the legacy flat quantity on the catalog record.
func (s *service) Resolve(ctx context.Context, pharmacyID, drugID uuid.UUID) (*StockAvailability, error) {
	if pharmacyID == uuid.Nil || drugID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacy id and drug id are required")
	}

	drug, err := s.drugs.FindByID(ctx, drugID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "drug not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup drug")
	}

	result := &StockAvailability{
		PharmacyID: pharmacyID,
		DrugID:     drugID,
		Drug:       drug,
	}
	now := s.now()

	drugBatches, err := s.repo.ListUsableDrugBatches(ctx, pharmacyID, drugID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list drug batches")
	}
	total := 0
	for i := range drugBatches {
		total += drugBatches[i].Residual()
	}
	if total > 0 {
		result.Source = enums.StockSourceBatchStore
		result.TotalAvailable = total
		result.DrugBatches = drugBatches
		return result, nil
	}

	stockBatches, err := s.ledger.ListSellableBatches(ctx, pharmacyID, drugID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger batches")
	}
	total = 0
	for i := range stockBatches {
		total += stockBatches[i].QuantityAvailable()
	}
	if total > 0 {
		result.Source = enums.StockSourceLedger
		result.TotalAvailable = total
		result.StockBatches = stockBatches
		return result, nil
	}

	result.Source = enums.StockSourceLegacyQuantity
	if drug.StockQuantity > 0 {
		result.TotalAvailable = drug.StockQuantity
	}
	return result, nil
}

// SelectForQuantity allocates qty units oldest expiry first, or against
// the explicitly requested batch when one is given and eligible, and
// prices the line from the first chosen batch.
func (s *service) SelectForQuantity(ctx context.Context, pharmacyID, drugID uuid.UUID, qty int, batchID *uuid.UUID) (*Selection, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requested quantity must be positive")
	}

	availability, err := s.Resolve(ctx, pharmacyID, drugID)
	if err != nil {
		return nil, err
	}
	if availability.TotalAvailable < qty {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock,
			fmt.Sprintf("requested %d units, %d available", qty, availability.TotalAvailable)).
			WithDetails(map[string]any{
				"drug_id":   drugID,
				"requested": qty,
				"available": availability.TotalAvailable,
			})
	}

	if batchID != nil {
		return s.selectExplicit(availability, qty, *batchID)
	}

	switch availability.Source {
	case enums.StockSourceBatchStore:
		return s.allocateDrugBatches(availability, qty)
	case enums.StockSourceLedger:
		return s.allocateStockBatches(availability, qty)
	default:
		return s.legacySelection(availability, qty), nil
	}
}

func (s *service) selectExplicit(availability *StockAvailability, qty int, batchID uuid.UUID) (*Selection, error) {
	switch availability.Source {
	case enums.StockSourceBatchStore:
		for i := range availability.DrugBatches {
			batch := &availability.DrugBatches[i]
			if batch.ID != batchID {
				continue
			}
			if batch.Residual() < qty {
				return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "requested batch cannot cover the quantity")
			}
			return s.buildSelection(availability.Source, []Allocation{{
				Source:          availability.Source,
				BatchID:         &batch.ID,
				BatchNumber:     batch.BatchNumber,
				Quantity:        qty,
				UnitPrice:       batch.UnitPrice,
				DiscountPercent: batch.DiscountPercent,
			}}, qty), nil
		}
	case enums.StockSourceLedger:
		for i := range availability.StockBatches {
			batch := &availability.StockBatches[i]
			if batch.ID != batchID {
				continue
			}
			if batch.QuantityAvailable() < qty {
				return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "requested batch cannot cover the quantity")
			}
			return s.buildSelection(availability.Source, []Allocation{{
				Source:          availability.Source,
				BatchID:         &batch.ID,
				BatchNumber:     batch.BatchNumber,
				Quantity:        qty,
				UnitPrice:       batch.SellingPrice,
				DiscountPercent: batch.DiscountPercent,
			}}, qty), nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "requested batch is not eligible for this drug")
}

func (s *service) allocateDrugBatches(availability *StockAvailability, qty int) (*Selection, error) {
	remaining := qty
	var allocations []Allocation
	for i := range availability.DrugBatches {
		if remaining == 0 {
			break
		}
		batch := &availability.DrugBatches[i]
		take := batch.Residual()
		if take > remaining {
			take = remaining
		}
		if take == 0 {
			continue
		}
		allocations = append(allocations, Allocation{
			Source:          enums.StockSourceBatchStore,
			BatchID:         &batch.ID,
			BatchNumber:     batch.BatchNumber,
			Quantity:        take,
			UnitPrice:       batch.UnitPrice,
			DiscountPercent: batch.DiscountPercent,
		})
		remaining -= take
	}
	if remaining > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "drug batches cannot cover the quantity")
	}
	return s.buildSelection(enums.StockSourceBatchStore, allocations, qty), nil
}

func (s *service) allocateStockBatches(availability *StockAvailability, qty int) (*Selection, error) {
	remaining := qty
	var allocations []Allocation
	for i := range availability.StockBatches {
		if remaining == 0 {
			break
		}
		batch := &availability.StockBatches[i]
		take := batch.QuantityAvailable()
		if take > remaining {
			take = remaining
		}
		if take == 0 {
			continue
		}
		allocations = append(allocations, Allocation{
			Source:          enums.StockSourceLedger,
			BatchID:         &batch.ID,
			BatchNumber:     batch.BatchNumber,
			Quantity:        take,
			UnitPrice:       batch.SellingPrice,
			DiscountPercent: batch.DiscountPercent,
		})
		remaining -= take
	}
	if remaining > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "ledger batches cannot cover the quantity")
	}
	return s.buildSelection(enums.StockSourceLedger, allocations, qty), nil
}

func (s *service) legacySelection(availability *StockAvailability, qty int) *Selection {
	allocation := Allocation{
		Source:    enums.StockSourceLegacyQuantity,
		Quantity:  qty,
		UnitPrice: availability.Drug.SellingPrice,
	}
	return s.buildSelection(enums.StockSourceLegacyQuantity, []Allocation{allocation}, qty)
}

// buildSelection prices the line from the first allocation, which is
// the oldest-expiry batch by construction.
func (s *service) buildSelection(source enums.StockSource, allocations []Allocation, qty int) *Selection {
	first := allocations[0]
	unit := first.UnitPrice
	discount := first.DiscountPercent

	effective := unit
	if discount.GreaterThan(decimal.Zero) {
		factor := decimal.NewFromInt(1).Sub(discount.Div(decimal.NewFromInt(100)))
		effective = unit.Mul(factor)
	}
	total := effective.Mul(decimal.NewFromInt(int64(qty))).Round(2)

	return &Selection{
		Source:          source,
		Allocations:     allocations,
		UnitPrice:       unit,
		DiscountPercent: discount,
		LineTotal:       total,
	}
}
