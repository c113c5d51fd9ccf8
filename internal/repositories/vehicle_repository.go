package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"motopay/internal/models"
)

type VehicleRepository struct {
	DB      *sql.DB
	Dialect Dialect
}

const vehicleColumns = `id, plate_number, chassis_number, tin, tin_verified, vehicle_type, make, model, year, color, owner_name, owner_contact, owner_user_id, last_renewal_date, created_at, updated_at`

func scanVehicle(s rowScanner) (models.Vehicle, error) {
	var (
		v       models.Vehicle
		vtype   string
		tin     sql.NullString
		ownerID sql.NullString
		renewal sql.NullTime
		color   sql.NullString
	)
	err := s.Scan(&v.ID, &v.PlateNumber, &v.ChassisNumber, &tin, &v.TINVerified, &vtype, &v.Make, &v.Model, &v.Year, &color,
		&v.OwnerName, &v.OwnerContact, &ownerID, &renewal, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return models.Vehicle{}, err
	}
	v.VehicleType = models.VehicleCategory(vtype)
	v.Color = color.String
	if tin.Valid {
		v.TIN = &tin.String
	}
	if ownerID.Valid {
		v.OwnerUserID = &ownerID.String
	}
	if renewal.Valid {
		t := renewal.Time
		v.LastRenewalDate = &t
	}
	return v, nil
}

func (r *VehicleRepository) GetByID(ctx context.Context, id string) (models.Vehicle, error) {
	row := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT `+vehicleColumns+` FROM vehicles WHERE id = ?`), id)
	v, err := scanVehicle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vehicle{}, models.ErrVehicleNotFound
	}
	return v, err
}

// FindByLookup resolves a validated lookup. A TIN may own several vehicles;
// the most recently registered one is returned.
func (r *VehicleRepository) FindByLookup(ctx context.Context, q models.VehicleLookup) (models.Vehicle, error) {
	var (
		where string
		arg   string
	)
	switch {
	case q.TIN != "":
		where, arg = "tin = ?", q.TIN
	case q.PlateNumber != "":
		where, arg = "plate_number = ?", q.PlateNumber
	case q.ChassisNumber != "":
		where, arg = "chassis_number = ?", q.ChassisNumber
	default:
		return models.Vehicle{}, fmt.Errorf("%w: empty lookup", models.ErrInvalidRequest)
	}
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE ` + where + ` ORDER BY created_at DESC LIMIT 1`
	v, err := scanVehicle(r.DB.QueryRowContext(ctx, r.Dialect.Rebind(query), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Vehicle{}, models.ErrVehicleNotFound
	}
	return v, err
}

func (r *VehicleRepository) Create(ctx context.Context, v models.Vehicle) error {
	query := `INSERT INTO vehicles (id, plate_number, chassis_number, tin, tin_verified, vehicle_type, make, model, year, color, owner_name, owner_contact, owner_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(query),
		v.ID, v.PlateNumber, v.ChassisNumber, nullString(v.TIN), v.TINVerified, string(v.VehicleType), v.Make, v.Model, v.Year, v.Color,
		v.OwnerName, v.OwnerContact, nullString(v.OwnerUserID), v.CreatedAt, v.UpdatedAt)
	if isDuplicateKey(err) {
		return models.ErrDuplicateVehicle
	}
	return err
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (r *VehicleRepository) Update(ctx context.Context, v models.Vehicle) error {
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`UPDATE vehicles SET color = ?, owner_name = ?, owner_contact = ?, updated_at = ? WHERE id = ?`),
		v.Color, v.OwnerName, v.OwnerContact, v.UpdatedAt, v.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrVehicleNotFound
	}
	return nil
}
