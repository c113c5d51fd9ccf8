package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"motopay/internal/models"
)

type CommissionRepository struct {
	DB      *sql.DB
	Dialect Dialect
}

const commissionColumns = `id, agent_id, transaction_id, percentage, amount, status, created_at, paid_at`

func scanCommission(s rowScanner) (models.AgentCommission, error) {
	var (
		c      models.AgentCommission
		status string
		paidAt sql.NullTime
	)
	if err := s.Scan(&c.ID, &c.AgentID, &c.TransactionID, &c.Percentage, &c.Amount, &status, &c.CreatedAt, &paidAt); err != nil {
		return models.AgentCommission{}, err
	}
	c.Status = models.CommissionStatus(status)
	if paidAt.Valid {
		t := paidAt.Time
		c.PaidAt = &t
	}
	return c, nil
}

func (r *CommissionRepository) GetByID(ctx context.Context, id string) (models.AgentCommission, error) {
	row := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT `+commissionColumns+` FROM agent_commissions WHERE id = ?`), id)
	c, err := scanCommission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AgentCommission{}, models.ErrCommissionNotFound
	}
	return c, err
}

func (r *CommissionRepository) ListByAgent(ctx context.Context, agentID string, page, limit int) ([]models.AgentCommission, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT COUNT(*) FROM agent_commissions WHERE agent_id = ?`), agentID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`SELECT `+commissionColumns+` FROM agent_commissions WHERE agent_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`),
		agentID, limit, offset(page, limit))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.AgentCommission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Summary aggregates an agent's commissions by status along with the number
// of transactions the agent initiated.
func (r *CommissionRepository) Summary(ctx context.Context, agentID string) (models.AgentSummary, error) {
	sum := models.AgentSummary{
		TotalEarnings:      decimal.Zero,
		PendingCommissions: models.CommissionTotals{Amount: decimal.Zero},
		PaidCommissions:    models.CommissionTotals{Amount: decimal.Zero},
	}
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`SELECT status, COUNT(*), COALESCE(SUM(amount), 0) FROM agent_commissions WHERE agent_id = ? GROUP BY status`), agentID)
	if err != nil {
		return sum, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
			amount decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &amount); err != nil {
			return sum, err
		}
		switch models.CommissionStatus(status) {
		case models.CommissionPending:
			sum.PendingCommissions = models.CommissionTotals{Amount: amount, Count: count}
		case models.CommissionPaid:
			sum.PaidCommissions = models.CommissionTotals{Amount: amount, Count: count}
		}
		sum.TotalEarnings = sum.TotalEarnings.Add(amount)
		sum.TotalCommissionRecords += count
	}
	if err := rows.Err(); err != nil {
		return sum, err
	}

	err = r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT COUNT(*) FROM transactions WHERE agent_id = ?`), agentID).Scan(&sum.TotalTransactions)
	return sum, err
}

// MarkPaid settles a PENDING commission. Paying an already paid commission is
// an invalid state.
func (r *CommissionRepository) MarkPaid(ctx context.Context, id string, at time.Time) (models.AgentCommission, error) {
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`UPDATE agent_commissions SET status = ?, paid_at = ? WHERE id = ? AND status = ?`),
		string(models.CommissionPaid), at, id, string(models.CommissionPending))
	if err != nil {
		return models.AgentCommission{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.AgentCommission{}, err
	}
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return models.AgentCommission{}, err
	}
	if n == 0 {
		return c, fmt.Errorf("%w: commission already %s", models.ErrInvalidState, c.Status)
	}
	return c, nil
}
