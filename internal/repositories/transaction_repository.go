package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"motopay/internal/fsm"
	"motopay/internal/models"
)

type TransactionRepository struct {
	DB      *sql.DB
	Dialect Dialect
}

const transactionColumns = `id, reference, vehicle_id, user_id, agent_id, email, amount, fee, total_amount, status, channel, payment_method, payment_gateway, gateway_response, paid_at, refund_reason, refunded_at, created_at, updated_at`

func scanTransaction(s rowScanner) (models.Transaction, error) {
	var (
		t          models.Transaction
		userID     sql.NullString
		agentID    sql.NullString
		status     string
		channel    string
		gwResp     sql.NullString
		paidAt     sql.NullTime
		reason     sql.NullString
		refundedAt sql.NullTime
	)
	err := s.Scan(&t.ID, &t.Reference, &t.VehicleID, &userID, &agentID, &t.Email, &t.Amount, &t.Fee, &t.TotalAmount, &status, &channel,
		&t.PaymentMethod, &t.PaymentGateway, &gwResp, &paidAt, &reason, &refundedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	t.Status = models.TransactionStatus(status)
	t.Channel = models.PaymentChannel(channel)
	t.GatewayResponse = gwResp.String
	if userID.Valid {
		t.UserID = &userID.String
	}
	if agentID.Valid {
		t.AgentID = &agentID.String
	}
	if paidAt.Valid {
		v := paidAt.Time
		t.PaidAt = &v
	}
	if reason.Valid {
		t.RefundReason = &reason.String
	}
	if refundedAt.Valid {
		v := refundedAt.Time
		t.RefundedAt = &v
	}
	return t, nil
}

// Create stores a PENDING transaction with its item snapshot.
func (r *TransactionRepository) Create(ctx context.Context, t models.Transaction) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	_, err = tx.ExecContext(ctx, r.Dialect.Rebind(`INSERT INTO transactions (id, reference, vehicle_id, user_id, agent_id, email, amount, fee, total_amount, status, channel, payment_method, payment_gateway, gateway_response, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Reference, t.VehicleID, nullString(t.UserID), nullString(t.AgentID), t.Email, t.Amount, t.Fee, t.TotalAmount,
		string(t.Status), string(t.Channel), t.PaymentMethod, t.PaymentGateway, t.GatewayResponse, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			err = models.ErrDuplicateReference
		}
		return err
	}
	for _, it := range t.Items {
		if _, err = tx.ExecContext(ctx, r.Dialect.Rebind(`INSERT INTO transaction_items (transaction_id, compliance_item_id, name, price, validity_period_days) VALUES (?, ?, ?, ?, ?)`),
			t.ID, it.ComplianceItemID, it.Name, it.Price, it.ValidityPeriodDays); err != nil {
			return err
		}
	}
	return nil
}

func (r *TransactionRepository) get(ctx context.Context, where string, arg any) (models.Transaction, error) {
	row := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT `+transactionColumns+` FROM transactions WHERE `+where), arg)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, models.ErrTransactionNotFound
	}
	if err != nil {
		return models.Transaction{}, err
	}
	if t.Items, err = r.items(ctx, t.ID); err != nil {
		return models.Transaction{}, err
	}
	if t.Receipt, err = r.receipt(ctx, t.ID); err != nil {
		return models.Transaction{}, err
	}
	return t, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return r.get(ctx, "id = ?", id)
}

func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (models.Transaction, error) {
	return r.get(ctx, "reference = ?", reference)
}

func (r *TransactionRepository) items(ctx context.Context, txID string) ([]models.TransactionItem, error) {
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`SELECT transaction_id, compliance_item_id, name, price, validity_period_days FROM transaction_items WHERE transaction_id = ? ORDER BY name`), txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TransactionItem
	for rows.Next() {
		var it models.TransactionItem
		if err := rows.Scan(&it.TransactionID, &it.ComplianceItemID, &it.Name, &it.Price, &it.ValidityPeriodDays); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *TransactionRepository) receipt(ctx context.Context, txID string) (*models.Receipt, error) {
	var rc models.Receipt
	err := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT id, transaction_id, receipt_number, issued_at FROM receipts WHERE transaction_id = ?`), txID).
		Scan(&rc.ID, &rc.TransactionID, &rc.ReceiptNumber, &rc.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// ApplySettlement applies a verified payment as one unit: the conditional
// PENDING to SUCCESS move, the ledger grants, the vehicle renewal date, the
// receipt and the agent commission. It reports false without error when the
// transaction was no longer PENDING, i.e. another caller settled it first.
func (r *TransactionRepository) ApplySettlement(ctx context.Context, s models.Settlement) (applied bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !applied {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
		if err != nil {
			applied = false
		}
	}()

	err = fsm.Apply(ctx, tx, r.Dialect.Rebind, s.TransactionID, models.TransactionPending, models.TransactionSuccess,
		"paid_at = ?, gateway_response = ?", s.PaidAt, s.GatewayResponse)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, g := range s.Grants {
		if err = insertGrant(ctx, tx, r.Dialect, g); err != nil {
			return false, err
		}
	}
	if _, err = tx.ExecContext(ctx, r.Dialect.Rebind(`UPDATE vehicles SET last_renewal_date = ?, updated_at = ? WHERE id = ?`),
		s.PaidAt, s.PaidAt, s.VehicleID); err != nil {
		return false, err
	}
	if _, err = tx.ExecContext(ctx, r.Dialect.Rebind(`INSERT INTO receipts (id, transaction_id, receipt_number, issued_at) VALUES (?, ?, ?, ?)`),
		s.Receipt.ID, s.TransactionID, s.Receipt.ReceiptNumber, s.Receipt.IssuedAt); err != nil {
		return false, err
	}
	if c := s.Commission; c != nil {
		if _, err = tx.ExecContext(ctx, r.Dialect.Rebind(`INSERT INTO agent_commissions (id, agent_id, transaction_id, percentage, amount, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			c.ID, c.AgentID, s.TransactionID, c.Percentage, c.Amount, string(c.Status), c.CreatedAt); err != nil {
			return false, err
		}
	}
	return true, nil
}

// MarkFailed moves a PENDING transaction to FAILED. It returns sql.ErrNoRows
// when the transaction had already left PENDING.
func (r *TransactionRepository) MarkFailed(ctx context.Context, id, gatewayResponse string) error {
	return fsm.Apply(ctx, r.DB, r.Dialect.Rebind, id, models.TransactionPending, models.TransactionFailed,
		"gateway_response = ?", gatewayResponse)
}

// MarkReconciled stamps a reconciliation attempt on a PENDING transaction.
func (r *TransactionRepository) MarkReconciled(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`UPDATE transactions SET reconciled_at = ? WHERE id = ? AND status = ?`),
		at, id, string(models.TransactionPending))
	return err
}

// MarkRefunded moves a SUCCESS transaction to REFUNDED.
func (r *TransactionRepository) MarkRefunded(ctx context.Context, id, reason string, at time.Time) error {
	return fsm.Apply(ctx, r.DB, r.Dialect.Rebind, id, models.TransactionSuccess, models.TransactionRefunded,
		"refund_reason = ?, refunded_at = ?", reason, at)
}

func (r *TransactionRepository) list(ctx context.Context, where string, arg any, page, limit int) ([]models.Transaction, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT COUNT(*) FROM transactions WHERE `+where), arg).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`SELECT `+transactionColumns+` FROM transactions WHERE `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`),
		arg, limit, offset(page, limit))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *TransactionRepository) ListByVehicle(ctx context.Context, vehicleID string, page, limit int) ([]models.Transaction, int, error) {
	return r.list(ctx, "vehicle_id = ?", vehicleID, page, limit)
}

func (r *TransactionRepository) ListByAgent(ctx context.Context, agentID string, page, limit int) ([]models.Transaction, int, error) {
	return r.list(ctx, "agent_id = ?", agentID, page, limit)
}

// ListStalePending returns PENDING transactions created before cutoff. Rows
// never attempted come first, then the least recently attempted, so
// references the gateway cannot resolve do not monopolise the batch.
func (r *TransactionRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`SELECT `+transactionColumns+` FROM transactions WHERE status = ? AND created_at < ? ORDER BY COALESCE(reconciled_at, created_at), created_at LIMIT ?`),
		string(models.TransactionPending), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
