package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"motopay/internal/models"
)

type VehicleRepository interface {
	GetByID(ctx context.Context, id string) (models.Vehicle, error)
	FindByLookup(ctx context.Context, q models.VehicleLookup) (models.Vehicle, error)
	Create(ctx context.Context, v models.Vehicle) error
	Update(ctx context.Context, v models.Vehicle) error
}

type VehicleTransactionReader interface {
	ListByVehicle(ctx context.Context, vehicleID string, page, limit int) ([]models.Transaction, int, error)
}

type VehicleService struct {
	vehicles     VehicleRepository
	transactions VehicleTransactionReader
	logger       *slog.Logger
	now          func() time.Time
}

func NewVehicleService(vehicles VehicleRepository, transactions VehicleTransactionReader, logger *slog.Logger) *VehicleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &VehicleService{vehicles: vehicles, transactions: transactions, logger: logger, now: time.Now}
}

func (s *VehicleService) Lookup(ctx context.Context, q models.VehicleLookup) (models.Vehicle, error) {
	if err := q.Validate(); err != nil {
		return models.Vehicle{}, err
	}
	return s.vehicles.FindByLookup(ctx, q)
}

func (s *VehicleService) Get(ctx context.Context, id string) (models.Vehicle, error) {
	return s.vehicles.GetByID(ctx, id)
}

func (s *VehicleService) Register(ctx context.Context, req models.RegisterVehicleRequest, actor models.Actor) (models.Vehicle, error) {
	if actor.UserID == "" {
		return models.Vehicle{}, models.ErrUnauthorized
	}
	now := s.now().UTC()
	if err := req.Validate(now); err != nil {
		return models.Vehicle{}, err
	}
	v := models.Vehicle{
		ID:            uuid.NewString(),
		PlateNumber:   req.PlateNumber,
		ChassisNumber: req.ChassisNumber,
		VehicleType:   req.VehicleType,
		Make:          req.Make,
		Model:         req.Model,
		Year:          req.Year,
		Color:         req.Color,
		OwnerName:     req.OwnerName,
		OwnerContact:  req.OwnerContact,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.TIN != "" {
		tin := req.TIN
		v.TIN = &tin
	}
	if actor.Role == models.RolePublic || actor.Role == "" {
		owner := actor.UserID
		v.OwnerUserID = &owner
	}
	if err := s.vehicles.Create(ctx, v); err != nil {
		return models.Vehicle{}, err
	}
	s.logger.Info("vehicle registered", "op", "Register", "vehicle_id", v.ID, "plate", v.PlateNumber, "by", actor.UserID)
	return v, nil
}

func (s *VehicleService) Update(ctx context.Context, id string, req models.UpdateVehicleRequest, actor models.Actor) (models.Vehicle, error) {
	v, err := s.vehicles.GetByID(ctx, id)
	if err != nil {
		return models.Vehicle{}, err
	}
	owns := v.OwnerUserID != nil && *v.OwnerUserID == actor.UserID
	if !owns && !actor.IsAdmin() {
		return models.Vehicle{}, fmt.Errorf("%w: not the vehicle owner", models.ErrForbidden)
	}
	if err := req.Apply(&v); err != nil {
		return models.Vehicle{}, err
	}
	v.UpdatedAt = s.now().UTC()
	if err := s.vehicles.Update(ctx, v); err != nil {
		return models.Vehicle{}, err
	}
	return v, nil
}

// History pages through a vehicle's transactions, newest first. Only the
// owner and admins see it since rows carry payer emails.
func (s *VehicleService) History(ctx context.Context, id string, page, limit int, actor models.Actor) (models.VehicleHistory, error) {
	v, err := s.vehicles.GetByID(ctx, id)
	if err != nil {
		return models.VehicleHistory{}, err
	}
	owns := v.OwnerUserID != nil && *v.OwnerUserID == actor.UserID
	if !owns && !actor.IsAdmin() {
		return models.VehicleHistory{}, fmt.Errorf("%w: not the vehicle owner", models.ErrForbidden)
	}
	page, limit = normalizePage(page, limit)
	txns, total, err := s.transactions.ListByVehicle(ctx, id, page, limit)
	if err != nil {
		return models.VehicleHistory{}, err
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	return models.VehicleHistory{Vehicle: v, Transactions: txns, Pagination: models.NewPagination(page, limit, total)}, nil
}
