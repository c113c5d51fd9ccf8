package models

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "PENDING"
	TransactionSuccess  TransactionStatus = "SUCCESS"
	TransactionFailed   TransactionStatus = "FAILED"
	TransactionRefunded TransactionStatus = "REFUNDED"
)

type PaymentChannel string

const (
	ChannelSelf  PaymentChannel = "SELF"
	ChannelAgent PaymentChannel = "AGENT"
)

// TransactionItem is the catalog snapshot captured at initiation. Later price
// changes never reach it.
type TransactionItem struct {
	TransactionID      string          `json:"-"`
	ComplianceItemID   string          `json:"compliance_item_id"`
	Name               string          `json:"name"`
	Price              decimal.Decimal `json:"price"`
	ValidityPeriodDays int             `json:"validity_period_days"`
}

type Transaction struct {
	ID              string            `json:"id"`
	Reference       string            `json:"reference"`
	VehicleID       string            `json:"vehicle_id"`
	UserID          *string           `json:"user_id,omitempty"`
	AgentID         *string           `json:"agent_id,omitempty"`
	Email           string            `json:"email"`
	Amount          decimal.Decimal   `json:"amount"`
	Fee             decimal.Decimal   `json:"fee"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	Status          TransactionStatus `json:"status"`
	Channel         PaymentChannel    `json:"channel"`
	PaymentMethod   string            `json:"payment_method"`
	PaymentGateway  string            `json:"payment_gateway"`
	GatewayResponse string            `json:"gateway_response,omitempty"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
	RefundReason    *string           `json:"refund_reason,omitempty"`
	RefundedAt      *time.Time        `json:"refunded_at,omitempty"`
	Items           []TransactionItem `json:"items"`
	Receipt         *Receipt          `json:"receipt,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// TotalMinorUnits is the charge in kobo as sent to and reported by the gateway.
func (t Transaction) TotalMinorUnits() int64 {
	return ToMinorUnits(t.TotalAmount)
}

func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

type Receipt struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	ReceiptNumber string    `json:"receipt_number"`
	IssuedAt      time.Time `json:"issued_at"`
}

type CommissionStatus string

const (
	CommissionPending CommissionStatus = "PENDING"
	CommissionPaid    CommissionStatus = "PAID"
)

type AgentCommission struct {
	ID            string           `json:"id"`
	AgentID       string           `json:"agent_id"`
	TransactionID string           `json:"transaction_id"`
	Percentage    decimal.Decimal  `json:"percentage"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        CommissionStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	PaidAt        *time.Time       `json:"paid_at,omitempty"`
}

// Settlement is everything a verified payment applies as one unit.
type Settlement struct {
	TransactionID   string
	GatewayResponse string
	PaidAt          time.Time
	VehicleID       string
	Grants          []VehicleComplianceRecord
	Receipt         Receipt
	Commission      *AgentCommission
}

type Role string

const (
	RolePublic     Role = "PUBLIC"
	RoleAgent      Role = "AGENT"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Actor is the authenticated caller, if any.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAgent() bool { return a.UserID != "" && a.Role == RoleAgent }
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin || a.Role == RoleSuperAdmin }

type InitializePaymentRequest struct {
	VehicleID         string   `json:"vehicle_id"`
	ComplianceItemIDs []string `json:"compliance_items"`
	Email             string   `json:"email"`
}

func (r *InitializePaymentRequest) Validate() error {
	r.VehicleID = strings.TrimSpace(r.VehicleID)
	r.Email = strings.TrimSpace(r.Email)
	if r.VehicleID == "" {
		return fmt.Errorf("%w: vehicle_id is required", ErrInvalidRequest)
	}
	if len(r.ComplianceItemIDs) == 0 {
		return fmt.Errorf("%w: at least one compliance item is required", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(r.ComplianceItemIDs))
	for i, id := range r.ComplianceItemIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("%w: empty compliance item id", ErrInvalidRequest)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate compliance item %s", ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}
		r.ComplianceItemIDs[i] = id
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: invalid email", ErrInvalidRequest)
	}
	return nil
}

type InitializePaymentResult struct {
	TransactionID    string          `json:"transaction_id"`
	Reference        string          `json:"reference"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	AccessCode       string          `json:"access_code,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Fee              decimal.Decimal `json:"fee"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
}

type VerifyResult struct {
	Transaction     Transaction `json:"transaction"`
	AlreadyVerified bool        `json:"already_verified"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

func (r *RefundRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return fmt.Errorf("%w: refund reason is required", ErrInvalidRequest)
	}
	return nil
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func NewPagination(page, limit, total int) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.TotalPages = (total + limit - 1) / limit
	}
	return p
}

type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Pagination   Pagination    `json:"pagination"`
}

type CommissionPage struct {
	Commissions []AgentCommission `json:"commissions"`
	Pagination  Pagination        `json:"pagination"`
}

type CommissionTotals struct {
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

type AgentSummary struct {
	TotalEarnings          decimal.Decimal  `json:"total_earnings"`
	PendingCommissions     CommissionTotals `json:"pending_commissions"`
	PaidCommissions        CommissionTotals `json:"paid_commissions"`
	TotalTransactions      int              `json:"total_transactions"`
	TotalCommissionRecords int              `json:"total_commission_records"`
}
