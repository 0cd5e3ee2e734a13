package purchaselimits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/medmarkethq/medmarket-backend/pkg/config"
	"github.com/medmarkethq/medmarket-backend/pkg/db/models"
	"github.com/medmarkethq/medmarket-backend/pkg/enums"
	pkgerrors "github.com/medmarkethq/medmarket-backend/pkg/errors"
	"github.com/medmarkethq/medmarket-backend/pkg/metrics"
)

type drugFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Drug, error)
}

type historySource interface {
	SumPurchased(ctx context.Context, patientID, drugID uuid.UUID, since time.Time) (int, error)
}

type historyCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	PurchaseHistoryKey(patientID, drugID string, days int) string
}

// CartLine is one requested (drug, quantity) pair.
type CartLine struct {
	DrugID   uuid.UUID `json:"drug_id"`
	Quantity int       `json:"quantity"`
}

// Issue is one machine-readable validation finding. Blocking issues
// land in CartValidationResult.Issues, informational ones in Warnings.
type Issue struct {
	Code      enums.IssueCode     `json:"code"`
	Severity  enums.IssueSeverity `json:"severity"`
	DrugID    uuid.UUID           `json:"drug_id"`
	DrugName  string              `json:"drug_name,omitempty"`
	Message   string              `json:"message"`
	Requested int                 `json:"requested,omitempty"`
	Limit     int                 `json:"limit,omitempty"`
	Remaining int                 `json:"remaining,omitempty"`
}

// CartValidationResult aggregates findings across every cart line so a
// caller sees the whole picture at once.
type CartValidationResult struct {
	Valid    bool    `json:"valid"`
	Issues   []Issue `json:"issues"`
	Warnings []Issue `json:"warnings"`
	Summary  string  `json:"summary"`
}

// Allowance reports how much of a drug the patient may still purchase.
type Allowance struct {
	DrugID            uuid.UUID `json:"drug_id"`
	PerOrderLimit     int       `json:"per_order_limit"`
	PeriodLimit       int       `json:"period_limit"`
	PeriodDays        int       `json:"period_days"`
	PurchasedInPeriod int       `json:"purchased_in_period"`
	Remaining         int       `json:"remaining"`
}

// ValidateCartInput carries the patient context for one validation run.
type ValidateCartInput struct {
	PatientID  uuid.UUID
	Lines      []CartLine
	PatientAge *int
}

// Service is the abuse-prevention engine gating every checkout.
type Service interface {
	ValidateCart(ctx context.Context, input ValidateCartInput) (*CartValidationResult, error)
	ValidateBeforeOrder(ctx context.Context, input ValidateCartInput) error
	GetPatientPurchaseHistory(ctx context.Context, patientID, drugID uuid.UUID, days int) (int, error)
	GetRemainingAllowance(ctx context.Context, patientID, drugID uuid.UUID) (*Allowance, error)
}

type service struct {
	drugs   drugFinder
	history historySource
	cache   historyCache
	cfg     config.PurchaseLimitsConfig
	metrics *metrics.StockMetrics
	now     func() time.Time
}

// NewService wires the engine. The cache is optional; when nil every
// history read goes to the database.
func NewService(drugs drugFinder, history historySource, cache historyCache, cfg config.PurchaseLimitsConfig, stockMetrics *metrics.StockMetrics) (Service, error) {
	if drugs == nil {
		return nil, fmt.Errorf("drug finder required")
	}
	if history == nil {
		return nil, fmt.Errorf("history source required")
	}
	return &service{
		drugs:   drugs,
		history: history,
		cache:   cache,
		cfg:     cfg,
		metrics: stockMetrics,
		now:     time.Now,
	}, nil
}

func (s *service) ValidateCart(ctx context.Context, input ValidateCartInput) (*CartValidationResult, error) {
	if input.PatientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "patient id is required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart must contain at least one line")
	}

	result := &CartValidationResult{}
	for _, line := range input.Lines {
		if err := s.validateLine(ctx, input, line, result); err != nil {
			return nil, err
		}
	}

	result.Valid = len(result.Issues) == 0
	if result.Valid {
		result.Summary = fmt.Sprintf("%d line(s) passed purchase limit checks", len(input.Lines))
	} else {
		result.Summary = fmt.Sprintf("%d blocking issue(s) across %d line(s)", len(result.Issues), len(input.Lines))
	}

	for _, issue := range result.Issues {
		s.metrics.IncLimitRejection(issue.Code.String())
	}
	return result, nil
}

// validateLine appends findings for one line. Failures are collected,
// never returned early, so the caller sees every failing line at once.
func (s *service) validateLine(ctx context.Context, input ValidateCartInput, line CartLine, result *CartValidationResult) error {
	if line.Quantity <= 0 {
		result.Issues = append(result.Issues, Issue{
			Code:     enums.IssueCodeDrugUnavailable,
			Severity: enums.IssueSeverityHigh,
			DrugID:   line.DrugID,
			Message:  "requested quantity must be positive",
		})
		return nil
	}

	drug, err := s.drugs.FindByID(ctx, line.DrugID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result.Issues = append(result.Issues, Issue{
				Code:     enums.IssueCodeDrugNotFound,
				Severity: enums.IssueSeverityHigh,
				DrugID:   line.DrugID,
				Message:  "drug not found",
			})
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup drug")
	}

	if !drug.IsActive || !drug.IsAvailable {
		result.Issues = append(result.Issues, Issue{
			Code:     enums.IssueCodeDrugUnavailable,
			Severity: enums.IssueSeverityHigh,
			DrugID:   drug.ID,
			DrugName: drug.Name,
			Message:  fmt.Sprintf("%s is not available for purchase", drug.Name),
		})
		return nil
	}

	if drug.MinAge > 0 && input.PatientAge != nil && *input.PatientAge < drug.MinAge {
		result.Issues = append(result.Issues, Issue{
			Code:     enums.IssueCodeMinAgeRequired,
			Severity: enums.IssueSeverityHigh,
			DrugID:   drug.ID,
			DrugName: drug.Name,
			Message:  fmt.Sprintf("%s requires a minimum age of %d", drug.Name, drug.MinAge),
			Limit:    drug.MinAge,
		})
	}

	limits := resolveLimits(drug.PurchaseType, drug.ScheduleClass,
		drug.MaxQuantityPerOrder, drug.MaxQuantityPerPeriod, drug.PeriodDays, drug.IsControlled())

	if limits.PerOrder > 0 && line.Quantity > limits.PerOrder {
		severity := enums.IssueSeverityHigh
		if limits.Controlled {
			severity = enums.IssueSeverityCritical
		}
		result.Issues = append(result.Issues, Issue{
			Code:      enums.IssueCodeExceedsOrderLimit,
			Severity:  severity,
			DrugID:    drug.ID,
			DrugName:  drug.Name,
			Message:   fmt.Sprintf("%s is limited to %d unit(s) per order", drug.Name, limits.PerOrder),
			Requested: line.Quantity,
			Limit:     limits.PerOrder,
		})
	}

	if limits.PerPeriod > 0 {
		purchased, err := s.GetPatientPurchaseHistory(ctx, input.PatientID, drug.ID, limits.PeriodDays)
		if err != nil {
			return err
		}

		threshold := s.cfg.WarningThreshold
		if threshold <= 0 {
			threshold = warningThreshold
		}

		projected := purchased + line.Quantity
		switch {
		case projected > limits.PerPeriod:
			remaining := limits.PerPeriod - purchased
			if remaining < 0 {
				remaining = 0
			}
			result.Issues = append(result.Issues, Issue{
				Code:      enums.IssueCodeExceedsPeriodLimit,
				Severity:  enums.IssueSeverityHigh,
				DrugID:    drug.ID,
				DrugName:  drug.Name,
				Message:   fmt.Sprintf("%s is limited to %d unit(s) per %d days, %d remaining", drug.Name, limits.PerPeriod, limits.PeriodDays, remaining),
				Requested: line.Quantity,
				Limit:     limits.PerPeriod,
				Remaining: remaining,
			})
		case float64(projected) > threshold*float64(limits.PerPeriod):
			result.Warnings = append(result.Warnings, Issue{
				Code:      enums.IssueCodeExceedsPeriodLimit,
				Severity:  enums.IssueSeverityLow,
				DrugID:    drug.ID,
				DrugName:  drug.Name,
				Message:   fmt.Sprintf("%s purchases are nearing the %d-day cap of %d unit(s)", drug.Name, limits.PeriodDays, limits.PerPeriod),
				Requested: line.Quantity,
				Limit:     limits.PerPeriod,
				Remaining: limits.PerPeriod - projected,
			})
		}
	}

	if limits.Controlled {
		result.Warnings = append(result.Warnings, Issue{
			Code:     enums.IssueCodeControlledSubstance,
			Severity: enums.IssueSeverityMedium,
			DrugID:   drug.ID,
			DrugName: drug.Name,
			Message:  fmt.Sprintf("%s is a controlled substance and is dispensed under pharmacist supervision", drug.Name),
		})
	}
	if drug.RequiresPrescription {
		result.Warnings = append(result.Warnings, Issue{
			Code:     enums.IssueCodePrescriptionRequired,
			Severity: enums.IssueSeverityMedium,
			DrugID:   drug.ID,
			DrugName: drug.Name,
			Message:  fmt.Sprintf("%s requires a valid prescription", drug.Name),
		})
	}
	return nil
}

// ValidateBeforeOrder rejects the cart when any finding is critical or
// high, concatenating every blocking message into one error.
func (s *service) ValidateBeforeOrder(ctx context.Context, input ValidateCartInput) error {
	result, err := s.ValidateCart(ctx, input)
	if err != nil {
		return err
	}

	var blocking error
	for _, issue := range result.Issues {
		if issue.Severity.Blocks() {
			blocking = multierr.Append(blocking, errors.New(issue.Message))
		}
	}
	if blocking != nil {
		return pkgerrors.Wrap(pkgerrors.CodePurchaseLimit, blocking, "purchase limits exceeded").
			WithDetails(result.Issues)
	}
	return nil
}

// GetPatientPurchaseHistory returns the quantity purchased in the
// trailing window, serving from the cache when possible. Cache traffic
// is best-effort; on any cache error the database answers.
func (s *service) GetPatientPurchaseHistory(ctx context.Context, patientID, drugID uuid.UUID, days int) (int, error) {
	if days <= 0 {
		days = s.cfg.DefaultPeriodDays
	}
	if days <= 0 {
		days = defaultPeriodDays
	}

	var cacheKey string
	if s.cache != nil {
		cacheKey = s.cache.PurchaseHistoryKey(patientID.String(), drugID.String(), days)
		if raw, err := s.cache.Get(ctx, cacheKey); err == nil {
			if cached, convErr := strconv.Atoi(raw); convErr == nil {
				return cached, nil
			}
		}
	}

	since := s.now().AddDate(0, 0, -days)
	purchased, err := s.history.SumPurchased(ctx, patientID, drugID, since)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate purchase history")
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, strconv.Itoa(purchased), s.cfg.HistoryCacheTTL)
	}
	return purchased, nil
}

func (s *service) GetRemainingAllowance(ctx context.Context, patientID, drugID uuid.UUID) (*Allowance, error) {
	drug, err := s.drugs.FindByID(ctx, drugID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "drug not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup drug")
	}

	limits := resolveLimits(drug.PurchaseType, drug.ScheduleClass,
		drug.MaxQuantityPerOrder, drug.MaxQuantityPerPeriod, drug.PeriodDays, drug.IsControlled())

	purchased, err := s.GetPatientPurchaseHistory(ctx, patientID, drugID, limits.PeriodDays)
	if err != nil {
		return nil, err
	}

	remaining := limits.PerPeriod - purchased
	if remaining < 0 {
		remaining = 0
	}
	return &Allowance{
		DrugID:            drugID,
		PerOrderLimit:     limits.PerOrder,
		PeriodLimit:       limits.PerPeriod,
		PeriodDays:        limits.PeriodDays,
		PurchasedInPeriod: purchased,
		Remaining:         remaining,
	}, nil
}
