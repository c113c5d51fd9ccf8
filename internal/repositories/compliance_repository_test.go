package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"motopay/internal/models"
)

var itemCols = []string{"id", "name", "description", "vehicle_category", "price", "is_mandatory", "validity_period_days", "is_locked", "created_at", "updated_at"}

func TestUpdatePriceWritesHistory(t *testing.T) {
	db, mock := newMock(t)
	repo := &ComplianceRepository{DB: db, Dialect: MySQL}
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FROM compliance_items WHERE id = ? FOR UPDATE`)).WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows(itemCols).AddRow("item-1", "Vehicle License", "", "PRIVATE", "3000.00", true, 365, false, now, now))
	mock.ExpectExec(q(`UPDATE compliance_items SET price = ?`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`INSERT INTO price_history`)).
		WithArgs("ph-1", "item-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "admin-1", nil, "annual review", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	item, err := repo.UpdatePrice(context.Background(), models.PriceChange{
		ID: "ph-1", ComplianceItemID: "item-1", NewPrice: decimal.RequireFromString("3500"), ChangedBy: "admin-1", Reason: "annual review", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpdatePrice: %v", err)
	}
	if !item.Price.Equal(decimal.RequireFromString("3500")) {
		t.Fatalf("expected new price 3500, got %s", item.Price)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdatePriceLockedItem(t *testing.T) {
	db, mock := newMock(t)
	repo := &ComplianceRepository{DB: db, Dialect: MySQL}
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).
		WillReturnRows(sqlmock.NewRows(itemCols).AddRow("item-1", "Vehicle License", "", "PRIVATE", "3000.00", true, 365, true, now, now))
	mock.ExpectRollback()

	_, err := repo.UpdatePrice(context.Background(), models.PriceChange{ID: "ph-1", ComplianceItemID: "item-1", NewPrice: decimal.RequireFromString("1"), ChangedBy: "admin-1", Reason: "x"})
	if !errors.Is(err, models.ErrPriceLocked) || !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrPriceLocked, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetByIDsBuildsInClause(t *testing.T) {
	db, mock := newMock(t)
	repo := &ComplianceRepository{DB: db, Dialect: Postgres}
	now := time.Now().UTC()

	mock.ExpectQuery(q(`WHERE id IN ($1, $2)`)).WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows(itemCols).AddRow("a", "Insurance", "", "PRIVATE", "5000", true, 365, false, now, now))

	items, err := repo.GetByIDs(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a" {
		t.Fatalf("unexpected items %+v", items)
	}
}
