package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// VehicleCategory is the licensing class of a vehicle.
type VehicleCategory string

const (
	CategoryPrivate    VehicleCategory = "PRIVATE"
	CategoryCommercial VehicleCategory = "COMMERCIAL"
	CategoryTruck      VehicleCategory = "TRUCK"
	CategoryMotorcycle VehicleCategory = "MOTORCYCLE"
	CategoryTricycle   VehicleCategory = "TRICYCLE"
)

func (c VehicleCategory) Valid() bool {
	switch c {
	case CategoryPrivate, CategoryCommercial, CategoryTruck, CategoryMotorcycle, CategoryTricycle:
		return true
	}
	return false
}

func ParseVehicleCategory(raw string) (VehicleCategory, error) {
	c := VehicleCategory(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown vehicle category %q", ErrInvalidRequest, raw)
	}
	return c, nil
}

type Vehicle struct {
	ID              string          `json:"id"`
	PlateNumber     string          `json:"plate_number"`
	ChassisNumber   string          `json:"chassis_number"`
	TIN             *string         `json:"tin,omitempty"`
	TINVerified     bool            `json:"tin_verified"`
	VehicleType     VehicleCategory `json:"vehicle_type"`
	Make            string          `json:"make"`
	Model           string          `json:"model"`
	Year            int             `json:"year"`
	Color           string          `json:"color,omitempty"`
	OwnerName       string          `json:"owner_name"`
	OwnerContact    string          `json:"owner_contact"`
	OwnerUserID     *string         `json:"owner_user_id,omitempty"`
	LastRenewalDate *time.Time      `json:"last_renewal_date,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

var (
	platePattern = regexp.MustCompile(`^[A-Z]{2,3}-\d{2,3}-[A-Z]{2,3}$`)
	vinPattern   = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
	tinPattern   = regexp.MustCompile(`^\d{10}$`)
)

func ValidPlateNumber(s string) bool   { return platePattern.MatchString(strings.ToUpper(s)) }
func ValidChassisNumber(s string) bool { return vinPattern.MatchString(strings.ToUpper(s)) }
func ValidTIN(s string) bool           { return tinPattern.MatchString(s) }

// VehicleLookup selects a vehicle by exactly one identifier. TIN wins over
// plate number, plate number over chassis number.
type VehicleLookup struct {
	TIN           string `json:"tin"`
	PlateNumber   string `json:"plate_number"`
	ChassisNumber string `json:"chassis_number"`
}

func (q *VehicleLookup) Validate() error {
	q.TIN = strings.TrimSpace(q.TIN)
	q.PlateNumber = strings.ToUpper(strings.TrimSpace(q.PlateNumber))
	q.ChassisNumber = strings.ToUpper(strings.TrimSpace(q.ChassisNumber))
	switch {
	case q.TIN != "":
		if !ValidTIN(q.TIN) {
			return fmt.Errorf("%w: invalid TIN format", ErrInvalidRequest)
		}
		q.PlateNumber, q.ChassisNumber = "", ""
	case q.PlateNumber != "":
		if !ValidPlateNumber(q.PlateNumber) {
			return fmt.Errorf("%w: invalid plate number format", ErrInvalidRequest)
		}
		q.ChassisNumber = ""
	case q.ChassisNumber != "":
		if !ValidChassisNumber(q.ChassisNumber) {
			return fmt.Errorf("%w: invalid chassis number format", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: provide TIN, plate number, or chassis number", ErrInvalidRequest)
	}
	return nil
}

type RegisterVehicleRequest struct {
	PlateNumber   string          `json:"plate_number"`
	ChassisNumber string          `json:"chassis_number"`
	TIN           string          `json:"tin"`
	VehicleType   VehicleCategory `json:"vehicle_type"`
	Make          string          `json:"make"`
	Model         string          `json:"model"`
	Year          int             `json:"year"`
	Color         string          `json:"color"`
	OwnerName     string          `json:"owner_name"`
	OwnerContact  string          `json:"owner_contact"`
}

func (r *RegisterVehicleRequest) Validate(now time.Time) error {
	r.PlateNumber = strings.ToUpper(strings.TrimSpace(r.PlateNumber))
	r.ChassisNumber = strings.ToUpper(strings.TrimSpace(r.ChassisNumber))
	r.TIN = strings.TrimSpace(r.TIN)
	r.VehicleType = VehicleCategory(strings.ToUpper(string(r.VehicleType)))

	if !ValidPlateNumber(r.PlateNumber) {
		return fmt.Errorf("%w: invalid plate number format", ErrInvalidRequest)
	}
	if !ValidChassisNumber(r.ChassisNumber) {
		return fmt.Errorf("%w: invalid chassis number format", ErrInvalidRequest)
	}
	if r.TIN != "" && !ValidTIN(r.TIN) {
		return fmt.Errorf("%w: invalid TIN format", ErrInvalidRequest)
	}
	if !r.VehicleType.Valid() {
		return fmt.Errorf("%w: unknown vehicle type %q", ErrInvalidRequest, r.VehicleType)
	}
	if strings.TrimSpace(r.Make) == "" || strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("%w: make and model are required", ErrInvalidRequest)
	}
	if r.Year < 1900 || r.Year > now.Year()+1 {
		return fmt.Errorf("%w: invalid year %d", ErrInvalidRequest, r.Year)
	}
	if strings.TrimSpace(r.OwnerName) == "" || strings.TrimSpace(r.OwnerContact) == "" {
		return fmt.Errorf("%w: owner name and contact are required", ErrInvalidRequest)
	}
	return nil
}

// UpdateVehicleRequest changes the mutable owner-facing fields. Identifiers
// and category are fixed at registration.
type UpdateVehicleRequest struct {
	Color        *string `json:"color"`
	OwnerName    *string `json:"owner_name"`
	OwnerContact *string `json:"owner_contact"`
}

func (r *UpdateVehicleRequest) Apply(v *Vehicle) error {
	if r.Color == nil && r.OwnerName == nil && r.OwnerContact == nil {
		return fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}
	if r.Color != nil {
		v.Color = strings.TrimSpace(*r.Color)
	}
	if r.OwnerName != nil {
		if strings.TrimSpace(*r.OwnerName) == "" {
			return fmt.Errorf("%w: owner name must not be empty", ErrInvalidRequest)
		}
		v.OwnerName = strings.TrimSpace(*r.OwnerName)
	}
	if r.OwnerContact != nil {
		if strings.TrimSpace(*r.OwnerContact) == "" {
			return fmt.Errorf("%w: owner contact must not be empty", ErrInvalidRequest)
		}
		v.OwnerContact = strings.TrimSpace(*r.OwnerContact)
	}
	return nil
}

type VehicleHistory struct {
	Vehicle      Vehicle       `json:"vehicle"`
	Transactions []Transaction `json:"transactions"`
	Pagination   Pagination    `json:"pagination"`
}
