package repositories

import (
	"context"
	"database/sql"
	"time"

	"motopay/internal/models"
)

// LedgerRepository holds the vehicle compliance ledger: which item a vehicle
// held, from when, until when.
type LedgerRepository struct {
	DB      *sql.DB
	Dialect Dialect
}

const ledgerColumns = `vc.id, vc.vehicle_id, vc.compliance_item_id, ci.name, vc.transaction_id, vc.status, vc.issue_date, vc.expiry_date, vc.created_at`

func scanLedgerRecord(s rowScanner) (models.VehicleComplianceRecord, error) {
	var (
		rec    models.VehicleComplianceRecord
		name   sql.NullString
		txID   sql.NullString
		status string
	)
	if err := s.Scan(&rec.ID, &rec.VehicleID, &rec.ComplianceItemID, &name, &txID, &status, &rec.IssueDate, &rec.ExpiryDate, &rec.CreatedAt); err != nil {
		return models.VehicleComplianceRecord{}, err
	}
	rec.ComplianceItem = name.String
	rec.Status = models.ComplianceStatus(status)
	if txID.Valid {
		rec.TransactionID = &txID.String
	}
	return rec, nil
}

// ListByVehicle returns every ledger entry of a vehicle, newest first.
func (r *LedgerRepository) ListByVehicle(ctx context.Context, vehicleID string) ([]models.VehicleComplianceRecord, error) {
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`SELECT `+ledgerColumns+`
		FROM vehicle_compliance vc LEFT JOIN compliance_items ci ON ci.id = vc.compliance_item_id
		WHERE vc.vehicle_id = ? ORDER BY vc.issue_date DESC`), vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VehicleComplianceRecord
	for rows.Next() {
		rec, err := scanLedgerRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ExpireOverdue flips ACTIVE records whose expiry date has passed to EXPIRED.
func (r *LedgerRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`UPDATE vehicle_compliance SET status = ? WHERE status = ? AND expiry_date <= ?`),
		string(models.ComplianceExpired), string(models.ComplianceActive), now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListExpiring returns ACTIVE records expiring in [from, to) with the owner
// details a reminder needs.
func (r *LedgerRepository) ListExpiring(ctx context.Context, from, to time.Time) ([]models.ExpiringRecord, error) {
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`SELECT `+ledgerColumns+`, v.plate_number, v.owner_contact, v.owner_user_id
		FROM vehicle_compliance vc
		JOIN vehicles v ON v.id = vc.vehicle_id
		LEFT JOIN compliance_items ci ON ci.id = vc.compliance_item_id
		WHERE vc.status = ? AND vc.expiry_date >= ? AND vc.expiry_date < ?
		ORDER BY vc.expiry_date`), string(models.ComplianceActive), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ExpiringRecord
	for rows.Next() {
		var (
			er      models.ExpiringRecord
			name    sql.NullString
			txID    sql.NullString
			status  string
			ownerID sql.NullString
		)
		rec := &er.Record
		if err := rows.Scan(&rec.ID, &rec.VehicleID, &rec.ComplianceItemID, &name, &txID, &status, &rec.IssueDate, &rec.ExpiryDate, &rec.CreatedAt,
			&er.PlateNumber, &er.OwnerContact, &ownerID); err != nil {
			return nil, err
		}
		rec.ComplianceItem = name.String
		rec.Status = models.ComplianceStatus(status)
		if txID.Valid {
			rec.TransactionID = &txID.String
		}
		if ownerID.Valid {
			er.OwnerUserID = &ownerID.String
		}
		er.ItemName = name.String
		out = append(out, er)
	}
	return out, rows.Err()
}

// insertGrant supersedes any ACTIVE record of the same item for the vehicle
// and writes the new one. Runs inside the settlement transaction.
func insertGrant(ctx context.Context, tx *sql.Tx, d Dialect, g models.VehicleComplianceRecord) error {
	if _, err := tx.ExecContext(ctx, d.Rebind(`UPDATE vehicle_compliance SET status = ? WHERE vehicle_id = ? AND compliance_item_id = ? AND status = ?`),
		string(models.ComplianceExpired), g.VehicleID, g.ComplianceItemID, string(models.ComplianceActive)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, d.Rebind(`INSERT INTO vehicle_compliance (id, vehicle_id, compliance_item_id, transaction_id, status, issue_date, expiry_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		g.ID, g.VehicleID, g.ComplianceItemID, nullString(g.TransactionID), string(g.Status), g.IssueDate, g.ExpiryDate, g.CreatedAt)
	return err
}
