package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ComplianceItem is a catalog entry: a licensable requirement priced per
// vehicle category.
type ComplianceItem struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	VehicleCategory    VehicleCategory `json:"vehicle_category"`
	Price              decimal.Decimal `json:"price"`
	IsMandatory        bool            `json:"is_mandatory"`
	ValidityPeriodDays int             `json:"validity_period_days"`
	IsLocked           bool            `json:"is_locked"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type ComplianceStatus string

const (
	CompliancePending ComplianceStatus = "PENDING"
	ComplianceActive  ComplianceStatus = "ACTIVE"
	ComplianceExpired ComplianceStatus = "EXPIRED"
)

// VehicleComplianceRecord is one ledger entry: a vehicle holding (or having
// held) a compliance item for a validity window.
type VehicleComplianceRecord struct {
	ID               string           `json:"id"`
	VehicleID        string           `json:"vehicle_id"`
	ComplianceItemID string           `json:"compliance_item_id"`
	ComplianceItem   string           `json:"compliance_item,omitempty"`
	TransactionID    *string          `json:"transaction_id,omitempty"`
	Status           ComplianceStatus `json:"status"`
	IssueDate        time.Time        `json:"issue_date"`
	ExpiryDate       time.Time        `json:"expiry_date"`
	CreatedAt        time.Time        `json:"created_at"`
}

// ActiveAt reports whether the record grants compliance at now. A record past
// its expiry date is treated as expired even if the sweep has not flipped its
// status yet.
func (r VehicleComplianceRecord) ActiveAt(now time.Time) bool {
	return r.Status == ComplianceActive && r.ExpiryDate.After(now)
}

func (r VehicleComplianceRecord) ExpiredAt(now time.Time) bool {
	return r.Status == ComplianceExpired || !r.ExpiryDate.After(now)
}

// NewGrant builds the ledger entry issued when an item is paid for.
func NewGrant(id, vehicleID, transactionID string, item TransactionItem, now time.Time) (VehicleComplianceRecord, error) {
	if item.ValidityPeriodDays <= 0 {
		return VehicleComplianceRecord{}, fmt.Errorf("%w: item %s has no validity period", ErrInvalidState, item.ComplianceItemID)
	}
	now = now.UTC()
	txID := transactionID
	return VehicleComplianceRecord{
		ID:               id,
		VehicleID:        vehicleID,
		ComplianceItemID: item.ComplianceItemID,
		ComplianceItem:   item.Name,
		TransactionID:    &txID,
		Status:           ComplianceActive,
		IssueDate:        now,
		ExpiryDate:       now.AddDate(0, 0, item.ValidityPeriodDays),
		CreatedAt:        now,
	}, nil
}

// PriceChange is an audit row written whenever a catalog price moves.
type PriceChange struct {
	ID               string          `json:"id"`
	ComplianceItemID string          `json:"compliance_item_id"`
	OldPrice         decimal.Decimal `json:"old_price"`
	NewPrice         decimal.Decimal `json:"new_price"`
	ChangedBy        string          `json:"changed_by"`
	ApprovedBy       *string         `json:"approved_by,omitempty"`
	Reason           string          `json:"reason"`
	CreatedAt        time.Time       `json:"created_at"`
}

type UpdatePriceRequest struct {
	Price  decimal.Decimal `json:"price"`
	Reason string          `json:"reason"`
}

func (r *UpdatePriceRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if !r.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidRequest)
	}
	if r.Price.Exponent() < -2 {
		return fmt.Errorf("%w: price has more than two decimal places", ErrInvalidRequest)
	}
	if r.Reason == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	}
	return nil
}

// RequirementReport is the Requirement Evaluator output for one vehicle.
type RequirementReport struct {
	Vehicle          Vehicle                   `json:"vehicle"`
	Mandatory        []ComplianceItem          `json:"mandatory"`
	Optional         []ComplianceItem          `json:"optional"`
	Active           []VehicleComplianceRecord `json:"active"`
	Expired          []VehicleComplianceRecord `json:"expired"`
	MissingMandatory []ComplianceItem          `json:"missing_mandatory"`
	IsCompliant      bool                      `json:"is_compliant"`
}

type ComplianceSummary struct {
	Vehicle Vehicle                   `json:"vehicle"`
	Active  []VehicleComplianceRecord `json:"active"`
	Expired []VehicleComplianceRecord `json:"expired"`
	Pending []VehicleComplianceRecord `json:"pending"`
	Totals  struct {
		Items   int `json:"total_items"`
		Active  int `json:"active_count"`
		Expired int `json:"expired_count"`
		Pending int `json:"pending_count"`
	} `json:"summary"`
}

type RecommendationStatus string

const (
	RecommendationRequired     RecommendationStatus = "REQUIRED"
	RecommendationExpiringSoon RecommendationStatus = "EXPIRING_SOON"
)

type Recommendation struct {
	ComplianceItemID string               `json:"compliance_item_id"`
	ComplianceItem   string               `json:"compliance_item"`
	Price            decimal.Decimal      `json:"price"`
	Status           RecommendationStatus `json:"status"`
	Reason           string               `json:"reason,omitempty"`
	DaysRemaining    int                  `json:"days_remaining,omitempty"`
}

// ExpiringRecord joins a ledger entry with what a reminder needs to address
// the owner.
type ExpiringRecord struct {
	Record       VehicleComplianceRecord `json:"record"`
	PlateNumber  string                  `json:"plate_number"`
	OwnerContact string                  `json:"owner_contact"`
	OwnerUserID  *string                 `json:"owner_user_id,omitempty"`
	ItemName     string                  `json:"item_name"`
}
