package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"motopay/internal/models"
)

var DefaultCommissionPercent = decimal.RequireFromString("2.5")

// CommissionCalculator computes an agent's cut of a transaction's base
// amount, fee excluded. A zero percent is honoured as no commission.
type CommissionCalculator struct {
	percent decimal.Decimal
}

func NewCommissionCalculator(percent decimal.Decimal) *CommissionCalculator {
	if percent.IsNegative() {
		percent = decimal.Zero
	}
	return &CommissionCalculator{percent: percent}
}

func (c *CommissionCalculator) Percent() decimal.Decimal { return c.percent }

func (c *CommissionCalculator) Compute(txn models.Transaction, agentID string, now time.Time) models.AgentCommission {
	return models.AgentCommission{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		TransactionID: txn.ID,
		Percentage:    c.percent,
		Amount:        percentOf(txn.Amount, c.percent),
		Status:        models.CommissionPending,
		CreatedAt:     now.UTC(),
	}
}

type CommissionStore interface {
	ListByAgent(ctx context.Context, agentID string, page, limit int) ([]models.AgentCommission, int, error)
	Summary(ctx context.Context, agentID string) (models.AgentSummary, error)
	MarkPaid(ctx context.Context, id string, at time.Time) (models.AgentCommission, error)
}

type AgentTransactionReader interface {
	ListByAgent(ctx context.Context, agentID string, page, limit int) ([]models.Transaction, int, error)
}

// AgentService backs the agent dashboard and commission payouts.
type AgentService struct {
	commissions  CommissionStore
	transactions AgentTransactionReader
	now          func() time.Time
}

func NewAgentService(commissions CommissionStore, transactions AgentTransactionReader) *AgentService {
	return &AgentService{commissions: commissions, transactions: transactions, now: time.Now}
}

func requireAgent(actor models.Actor) error {
	if actor.UserID == "" {
		return models.ErrUnauthorized
	}
	if actor.Role != models.RoleAgent {
		return fmt.Errorf("%w: agent access required", models.ErrForbidden)
	}
	return nil
}

func (s *AgentService) Commissions(ctx context.Context, actor models.Actor, page, limit int) (models.CommissionPage, error) {
	if err := requireAgent(actor); err != nil {
		return models.CommissionPage{}, err
	}
	page, limit = normalizePage(page, limit)
	items, total, err := s.commissions.ListByAgent(ctx, actor.UserID, page, limit)
	if err != nil {
		return models.CommissionPage{}, err
	}
	if items == nil {
		items = []models.AgentCommission{}
	}
	return models.CommissionPage{Commissions: items, Pagination: models.NewPagination(page, limit, total)}, nil
}

func (s *AgentService) Transactions(ctx context.Context, actor models.Actor, page, limit int) (models.TransactionPage, error) {
	if err := requireAgent(actor); err != nil {
		return models.TransactionPage{}, err
	}
	page, limit = normalizePage(page, limit)
	items, total, err := s.transactions.ListByAgent(ctx, actor.UserID, page, limit)
	if err != nil {
		return models.TransactionPage{}, err
	}
	if items == nil {
		items = []models.Transaction{}
	}
	return models.TransactionPage{Transactions: items, Pagination: models.NewPagination(page, limit, total)}, nil
}

func (s *AgentService) Summary(ctx context.Context, actor models.Actor) (models.AgentSummary, error) {
	if err := requireAgent(actor); err != nil {
		return models.AgentSummary{}, err
	}
	return s.commissions.Summary(ctx, actor.UserID)
}

// PayCommission records an admin payout of a PENDING commission.
func (s *AgentService) PayCommission(ctx context.Context, actor models.Actor, id string) (models.AgentCommission, error) {
	if !actor.IsAdmin() {
		return models.AgentCommission{}, fmt.Errorf("%w: admin access required", models.ErrForbidden)
	}
	return s.commissions.MarkPaid(ctx, id, s.now().UTC())
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}
