package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"motopay/internal/models"
)

// ComplianceRepository reads and maintains the compliance item catalog.
type ComplianceRepository struct {
	DB      *sql.DB
	Dialect Dialect
}

const complianceItemColumns = `id, name, description, vehicle_category, price, is_mandatory, validity_period_days, is_locked, created_at, updated_at`

func scanComplianceItem(s rowScanner) (models.ComplianceItem, error) {
	var (
		it   models.ComplianceItem
		cat  string
		desc sql.NullString
	)
	if err := s.Scan(&it.ID, &it.Name, &desc, &cat, &it.Price, &it.IsMandatory, &it.ValidityPeriodDays, &it.IsLocked, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return models.ComplianceItem{}, err
	}
	it.Description = desc.String
	it.VehicleCategory = models.VehicleCategory(cat)
	return it, nil
}

func (r *ComplianceRepository) queryItems(ctx context.Context, query string, args ...any) ([]models.ComplianceItem, error) {
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ComplianceItem
	for rows.Next() {
		it, err := scanComplianceItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// List returns the catalog, optionally restricted to one vehicle category.
func (r *ComplianceRepository) List(ctx context.Context, category models.VehicleCategory) ([]models.ComplianceItem, error) {
	if category == "" {
		return r.queryItems(ctx, `SELECT `+complianceItemColumns+` FROM compliance_items ORDER BY vehicle_category, is_mandatory DESC, name`)
	}
	return r.queryItems(ctx, `SELECT `+complianceItemColumns+` FROM compliance_items WHERE vehicle_category = ? ORDER BY is_mandatory DESC, name`, string(category))
}

func (r *ComplianceRepository) GetByID(ctx context.Context, id string) (models.ComplianceItem, error) {
	row := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT `+complianceItemColumns+` FROM compliance_items WHERE id = ?`), id)
	it, err := scanComplianceItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ComplianceItem{}, models.ErrComplianceItemNotFound
	}
	return it, err
}

// GetByIDs returns the items that exist among ids, in no particular order.
func (r *ComplianceRepository) GetByIDs(ctx context.Context, ids []string) ([]models.ComplianceItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.queryItems(ctx, `SELECT `+complianceItemColumns+` FROM compliance_items WHERE id IN (`+ph+`)`, args...)
}

// UpdatePrice changes a catalog price and writes the audit row in the same
// transaction. Locked items are refused.
func (r *ComplianceRepository) UpdatePrice(ctx context.Context, change models.PriceChange) (item models.ComplianceItem, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.ComplianceItem{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	row := tx.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT `+complianceItemColumns+` FROM compliance_items WHERE id = ? FOR UPDATE`), change.ComplianceItemID)
	item, err = scanComplianceItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ComplianceItem{}, models.ErrComplianceItemNotFound
	}
	if err != nil {
		return models.ComplianceItem{}, err
	}
	if item.IsLocked {
		return models.ComplianceItem{}, models.ErrPriceLocked
	}

	now := change.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if _, err = tx.ExecContext(ctx, r.Dialect.Rebind(`UPDATE compliance_items SET price = ?, updated_at = ? WHERE id = ?`),
		change.NewPrice, now, item.ID); err != nil {
		return models.ComplianceItem{}, err
	}
	if _, err = tx.ExecContext(ctx, r.Dialect.Rebind(`INSERT INTO price_history (id, compliance_item_id, old_price, new_price, changed_by, approved_by, reason, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		change.ID, item.ID, item.Price, change.NewPrice, change.ChangedBy, nullString(change.ApprovedBy), change.Reason, now); err != nil {
		return models.ComplianceItem{}, err
	}

	item.Price = change.NewPrice
	item.UpdatedAt = now
	return item, nil
}

func (r *ComplianceRepository) ListPriceHistory(ctx context.Context, itemID string) ([]models.PriceChange, error) {
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`SELECT id, compliance_item_id, old_price, new_price, changed_by, approved_by, reason, created_at
		FROM price_history WHERE compliance_item_id = ? ORDER BY created_at DESC`), itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PriceChange
	for rows.Next() {
		var (
			pc       models.PriceChange
			approved sql.NullString
			oldP     decimal.Decimal
			newP     decimal.Decimal
		)
		if err := rows.Scan(&pc.ID, &pc.ComplianceItemID, &oldP, &newP, &pc.ChangedBy, &approved, &pc.Reason, &pc.CreatedAt); err != nil {
			return nil, err
		}
		pc.OldPrice, pc.NewPrice = oldP, newP
		if approved.Valid {
			pc.ApprovedBy = &approved.String
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
