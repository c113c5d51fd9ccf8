package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"motopay/internal/models"
)

type CatalogStore interface {
	List(ctx context.Context, category models.VehicleCategory) ([]models.ComplianceItem, error)
	GetByID(ctx context.Context, id string) (models.ComplianceItem, error)
	UpdatePrice(ctx context.Context, change models.PriceChange) (models.ComplianceItem, error)
	ListPriceHistory(ctx context.Context, itemID string) ([]models.PriceChange, error)
}

type LedgerReader interface {
	ListByVehicle(ctx context.Context, vehicleID string) ([]models.VehicleComplianceRecord, error)
}

// ComplianceService owns the catalog and evaluates a vehicle's standing
// against it.
type ComplianceService struct {
	vehicles VehicleStore
	catalog  CatalogStore
	ledger   LedgerReader
	logger   *slog.Logger
	now      func() time.Time

	expiringWithin time.Duration
}

func NewComplianceService(vehicles VehicleStore, catalog CatalogStore, ledger LedgerReader, logger *slog.Logger) *ComplianceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComplianceService{
		vehicles:       vehicles,
		catalog:        catalog,
		ledger:         ledger,
		logger:         logger,
		now:            time.Now,
		expiringWithin: 30 * 24 * time.Hour,
	}
}

func (s *ComplianceService) ListItems(ctx context.Context, category string) ([]models.ComplianceItem, error) {
	var cat models.VehicleCategory
	if strings.TrimSpace(category) != "" {
		var err error
		if cat, err = models.ParseVehicleCategory(category); err != nil {
			return nil, err
		}
	}
	items, err := s.catalog.List(ctx, cat)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.ComplianceItem{}
	}
	return items, nil
}

func (s *ComplianceService) GetItem(ctx context.Context, id string) (models.ComplianceItem, error) {
	return s.catalog.GetByID(ctx, id)
}

// UpdatePrice reprices a catalog item. Transactions already initiated keep
// their snapshotted price.
func (s *ComplianceService) UpdatePrice(ctx context.Context, id string, req models.UpdatePriceRequest, actor models.Actor) (models.ComplianceItem, error) {
	if !actor.IsAdmin() {
		return models.ComplianceItem{}, fmt.Errorf("%w: admin access required", models.ErrForbidden)
	}
	if err := req.Validate(); err != nil {
		return models.ComplianceItem{}, err
	}
	item, err := s.catalog.UpdatePrice(ctx, models.PriceChange{
		ID:               uuid.NewString(),
		ComplianceItemID: id,
		NewPrice:         req.Price.Round(2),
		ChangedBy:        actor.UserID,
		Reason:           req.Reason,
		CreatedAt:        s.now().UTC(),
	})
	if err != nil {
		return models.ComplianceItem{}, err
	}
	s.logger.Info("compliance price updated", "op", "UpdatePrice", "item_id", id, "price", item.Price.StringFixed(2), "changed_by", actor.UserID)
	return item, nil
}

func (s *ComplianceService) PriceHistory(ctx context.Context, id string, actor models.Actor) ([]models.PriceChange, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: admin access required", models.ErrForbidden)
	}
	if _, err := s.catalog.GetByID(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.catalog.ListPriceHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []models.PriceChange{}
	}
	return history, nil
}

// EvaluateRequirements reports which catalog items a vehicle must hold,
// which it holds and which are missing. Records replaced by a later renewal
// of the same item are history and do not count as expired coverage.
func (s *ComplianceService) EvaluateRequirements(ctx context.Context, vehicleID string) (models.RequirementReport, error) {
	vehicle, err := s.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		return models.RequirementReport{}, err
	}
	items, err := s.catalog.List(ctx, vehicle.VehicleType)
	if err != nil {
		return models.RequirementReport{}, fmt.Errorf("load catalog: %w", err)
	}
	records, err := s.ledger.ListByVehicle(ctx, vehicle.ID)
	if err != nil {
		return models.RequirementReport{}, fmt.Errorf("load ledger: %w", err)
	}
	return Evaluate(vehicle, items, records, s.now()), nil
}

// Evaluate is the pure part of EvaluateRequirements.
func Evaluate(vehicle models.Vehicle, items []models.ComplianceItem, records []models.VehicleComplianceRecord, now time.Time) models.RequirementReport {
	report := models.RequirementReport{
		Vehicle:          vehicle,
		Mandatory:        []models.ComplianceItem{},
		Optional:         []models.ComplianceItem{},
		Active:           []models.VehicleComplianceRecord{},
		Expired:          []models.VehicleComplianceRecord{},
		MissingMandatory: []models.ComplianceItem{},
	}
	for _, it := range items {
		if it.IsMandatory {
			report.Mandatory = append(report.Mandatory, it)
		} else {
			report.Optional = append(report.Optional, it)
		}
	}

	held := make(map[string]struct{}, len(records))
	for _, r := range records {
		held[r.ComplianceItemID] = struct{}{}
		switch {
		case r.ActiveAt(now):
			report.Active = append(report.Active, r)
		case r.ExpiredAt(now) && !superseded(r, records):
			report.Expired = append(report.Expired, r)
		}
	}
	for _, it := range report.Mandatory {
		if _, ok := held[it.ID]; !ok {
			report.MissingMandatory = append(report.MissingMandatory, it)
		}
	}
	report.IsCompliant = len(report.MissingMandatory) == 0 && len(report.Expired) == 0
	return report
}

// superseded reports whether a later record exists for the same item.
func superseded(r models.VehicleComplianceRecord, all []models.VehicleComplianceRecord) bool {
	return slices.ContainsFunc(all, func(o models.VehicleComplianceRecord) bool {
		return o.ID != r.ID && o.ComplianceItemID == r.ComplianceItemID && o.IssueDate.After(r.IssueDate)
	})
}

// Summary groups every ledger record of a vehicle by status, history
// included.
func (s *ComplianceService) Summary(ctx context.Context, vehicleID string) (models.ComplianceSummary, error) {
	vehicle, err := s.vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		return models.ComplianceSummary{}, err
	}
	records, err := s.ledger.ListByVehicle(ctx, vehicle.ID)
	if err != nil {
		return models.ComplianceSummary{}, err
	}
	now := s.now()
	sum := models.ComplianceSummary{
		Vehicle: vehicle,
		Active:  []models.VehicleComplianceRecord{},
		Expired: []models.VehicleComplianceRecord{},
		Pending: []models.VehicleComplianceRecord{},
	}
	for _, r := range records {
		switch {
		case r.Status == models.CompliancePending:
			sum.Pending = append(sum.Pending, r)
		case r.ActiveAt(now):
			sum.Active = append(sum.Active, r)
		default:
			sum.Expired = append(sum.Expired, r)
		}
	}
	sum.Totals.Items = len(records)
	sum.Totals.Active = len(sum.Active)
	sum.Totals.Expired = len(sum.Expired)
	sum.Totals.Pending = len(sum.Pending)
	return sum, nil
}

// Recommendations lists mandatory items the vehicle lacks valid cover for
// and active items that run out within the reminder window.
func (s *ComplianceService) Recommendations(ctx context.Context, vehicleID string) ([]models.Recommendation, error) {
	report, err := s.EvaluateRequirements(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	activeByItem := make(map[string]models.VehicleComplianceRecord, len(report.Active))
	for _, r := range report.Active {
		if cur, ok := activeByItem[r.ComplianceItemID]; !ok || r.ExpiryDate.After(cur.ExpiryDate) {
			activeByItem[r.ComplianceItemID] = r
		}
	}

	out := []models.Recommendation{}
	for _, it := range append(append([]models.ComplianceItem{}, report.Mandatory...), report.Optional...) {
		rec, ok := activeByItem[it.ID]
		switch {
		case !ok && it.IsMandatory:
			out = append(out, models.Recommendation{
				ComplianceItemID: it.ID,
				ComplianceItem:   it.Name,
				Price:            it.Price,
				Status:           models.RecommendationRequired,
				Reason:           "mandatory item without valid cover",
			})
		case ok && rec.ExpiryDate.Sub(now) <= s.expiringWithin:
			out = append(out, models.Recommendation{
				ComplianceItemID: it.ID,
				ComplianceItem:   it.Name,
				Price:            it.Price,
				Status:           models.RecommendationExpiringSoon,
				Reason:           "expires within 30 days",
				DaysRemaining:    DaysUntil(now, rec.ExpiryDate),
			})
		}
	}
	return out, nil
}

// DaysUntil rounds the time left up to whole days.
func DaysUntil(now, t time.Time) int {
	d := t.Sub(now).Hours() / 24
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d))
}
