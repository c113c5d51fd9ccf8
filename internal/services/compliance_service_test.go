package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"motopay/internal/models"
)

func record(id, itemID string, status models.ComplianceStatus, issued time.Time, days int) models.VehicleComplianceRecord {
	return models.VehicleComplianceRecord{
		ID: id, VehicleID: "veh-1", ComplianceItemID: itemID, Status: status,
		IssueDate: issued, ExpiryDate: issued.AddDate(0, 0, days),
	}
}

func newTestComplianceService(m *memStore) *ComplianceService {
	svc := NewComplianceService(m, catalogStore{m}, catalogStore{m}, nil)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestEvaluateMissingMandatory(t *testing.T) {
	v := models.Vehicle{ID: "veh-1", VehicleType: models.CategoryPrivate}
	items := []models.ComplianceItem{
		{ID: "lic", Name: "Vehicle License", IsMandatory: true},
		{ID: "ins", Name: "Insurance", IsMandatory: true},
		{ID: "tint", Name: "Tinted Glass Permit"},
	}
	records := []models.VehicleComplianceRecord{
		record("r1", "lic", models.ComplianceActive, testNow.AddDate(0, -1, 0), 365),
	}

	report := Evaluate(v, items, records, testNow)
	if report.IsCompliant {
		t.Fatal("vehicle missing a mandatory item must not be compliant")
	}
	if len(report.Mandatory) != 2 || len(report.Optional) != 1 {
		t.Fatalf("unexpected partition %d/%d", len(report.Mandatory), len(report.Optional))
	}
	if len(report.MissingMandatory) != 1 || report.MissingMandatory[0].ID != "ins" {
		t.Fatalf("unexpected missing %+v", report.MissingMandatory)
	}
	if len(report.Active) != 1 {
		t.Fatalf("expected one active record, got %d", len(report.Active))
	}
}

func TestEvaluateCompliant(t *testing.T) {
	v := models.Vehicle{ID: "veh-1", VehicleType: models.CategoryPrivate}
	items := []models.ComplianceItem{{ID: "lic", IsMandatory: true}, {ID: "tint"}}
	records := []models.VehicleComplianceRecord{
		record("r1", "lic", models.ComplianceActive, testNow.AddDate(0, -1, 0), 365),
	}
	if report := Evaluate(v, items, records, testNow); !report.IsCompliant {
		t.Fatalf("expected compliant, got %+v", report)
	}
}

func TestEvaluateRecognisesExpiryByDate(t *testing.T) {
	v := models.Vehicle{ID: "veh-1", VehicleType: models.CategoryPrivate}
	items := []models.ComplianceItem{{ID: "lic", IsMandatory: true}}
	records := []models.VehicleComplianceRecord{
		record("r1", "lic", models.ComplianceActive, testNow.AddDate(-1, 0, -1), 365),
	}
	report := Evaluate(v, items, records, testNow)
	if report.IsCompliant || len(report.Expired) != 1 || len(report.Active) != 0 {
		t.Fatalf("record past expiry must count as expired before the sweep runs: %+v", report)
	}
	if len(report.MissingMandatory) != 0 {
		t.Fatal("an expired record is not a missing item")
	}
}

func TestEvaluateIgnoresSupersededHistory(t *testing.T) {
	v := models.Vehicle{ID: "veh-1", VehicleType: models.CategoryPrivate}
	items := []models.ComplianceItem{{ID: "lic", IsMandatory: true}}
	records := []models.VehicleComplianceRecord{
		record("old", "lic", models.ComplianceExpired, testNow.AddDate(-1, -2, 0), 365),
		record("new", "lic", models.ComplianceActive, testNow.AddDate(0, -2, 0), 365),
	}
	report := Evaluate(v, items, records, testNow)
	if !report.IsCompliant || len(report.Expired) != 0 || len(report.Active) != 1 {
		t.Fatalf("renewed item must be compliant: %+v", report)
	}
}

func TestEvaluateRequirementsUnknownVehicle(t *testing.T) {
	svc := newTestComplianceService(newMemStore())
	if _, err := svc.EvaluateRequirements(context.Background(), "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvaluateRequirementsAfterPayment(t *testing.T) {
	m := newMemStore()
	seedVehicle(m)
	seedItem(m, "item-1", "Vehicle License", "3000", 365, true)
	seedItem(m, "item-2", "Tinted Glass Permit", "1500", 365, false)
	gw := &fakeGateway{}
	payments := newTestPaymentService(m, gw)
	comp := newTestComplianceService(m)
	ctx := context.Background()

	before, err := comp.EvaluateRequirements(ctx, "veh-1")
	if err != nil || before.IsCompliant {
		t.Fatalf("expected non-compliant before payment: %+v %v", before, err)
	}

	res := initialize(t, payments, models.Actor{}, "item-1")
	gw.succeedWith(304500)
	if _, err := payments.VerifyPayment(ctx, res.Reference); err != nil {
		t.Fatal(err)
	}
	after, err := comp.EvaluateRequirements(ctx, "veh-1")
	if err != nil || !after.IsCompliant {
		t.Fatalf("expected compliant after payment: %+v %v", after, err)
	}
}

func TestComplianceSummary(t *testing.T) {
	m := newMemStore()
	seedVehicle(m)
	m.ledger = []models.VehicleComplianceRecord{
		record("a", "lic", models.ComplianceActive, testNow.AddDate(0, -1, 0), 365),
		record("b", "ins", models.ComplianceExpired, testNow.AddDate(-2, 0, 0), 365),
		record("c", "rw", models.CompliancePending, testNow, 180),
	}
	sum, err := newTestComplianceService(m).Summary(context.Background(), "veh-1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Totals.Items != 3 || sum.Totals.Active != 1 || sum.Totals.Expired != 1 || sum.Totals.Pending != 1 {
		t.Fatalf("unexpected totals %+v", sum.Totals)
	}
}

func TestRecommendations(t *testing.T) {
	m := newMemStore()
	seedVehicle(m)
	seedItem(m, "lic", "Vehicle License", "3000", 365, true)
	seedItem(m, "ins", "Insurance", "5000", 365, true)
	seedItem(m, "tint", "Tinted Glass Permit", "1500", 365, false)
	m.ledger = []models.VehicleComplianceRecord{
		record("a", "lic", models.ComplianceActive, testNow.AddDate(0, 0, -355), 365),
		record("b", "tint", models.ComplianceActive, testNow.AddDate(0, -1, 0), 365),
	}

	recs, err := newTestComplianceService(m).Recommendations(context.Background(), "veh-1")
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]models.Recommendation{}
	for _, r := range recs {
		got[r.ComplianceItemID] = r
	}
	if len(recs) != 2 {
		t.Fatalf("expected two recommendations, got %+v", recs)
	}
	if got["ins"].Status != models.RecommendationRequired {
		t.Fatalf("insurance should be REQUIRED, got %+v", got["ins"])
	}
	if got["lic"].Status != models.RecommendationExpiringSoon || got["lic"].DaysRemaining != 10 {
		t.Fatalf("license should expire in 10 days, got %+v", got["lic"])
	}
}

func TestUpdatePrice(t *testing.T) {
	m := newMemStore()
	seedItem(m, "lic", "Vehicle License", "3000", 365, true)
	locked := seedItem(m, "plate", "Number Plate", "15000", 3650, true)
	locked.IsLocked = true
	m.addItem(locked)
	svc := newTestComplianceService(m)
	ctx := context.Background()
	admin := models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
	req := models.UpdatePriceRequest{Price: dec("3500"), Reason: "annual review"}

	if _, err := svc.UpdatePrice(ctx, "lic", req, models.Actor{UserID: "u", Role: models.RolePublic}); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-admin must be forbidden, got %v", err)
	}
	item, err := svc.UpdatePrice(ctx, "lic", req, admin)
	if err != nil || !item.Price.Equal(dec("3500")) {
		t.Fatalf("UpdatePrice: %+v %v", item, err)
	}
	history, err := svc.PriceHistory(ctx, "lic", admin)
	if err != nil || len(history) != 1 || !history[0].OldPrice.Equal(dec("3000")) || history[0].ChangedBy != "admin-1" {
		t.Fatalf("unexpected history %+v %v", history, err)
	}

	if _, err := svc.UpdatePrice(ctx, "plate", models.UpdatePriceRequest{Price: dec("1"), Reason: "x"}, admin); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("locked item must be forbidden, got %v", err)
	}
	still, _ := catalogStore{m}.GetByID(ctx, "plate")
	if !still.Price.Equal(dec("15000")) {
		t.Fatalf("locked price changed to %s", still.Price)
	}

	if _, err := svc.UpdatePrice(ctx, "lic", models.UpdatePriceRequest{Price: dec("-5"), Reason: "x"}, admin); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("negative price must be invalid, got %v", err)
	}
}

func TestListItemsFiltersCategory(t *testing.T) {
	m := newMemStore()
	seedItem(m, "lic", "Vehicle License", "3000", 365, true)
	m.addItem(models.ComplianceItem{ID: "hack", Name: "Hackney Permit", VehicleCategory: models.CategoryCommercial, Price: dec("2000"), ValidityPeriodDays: 365})
	svc := newTestComplianceService(m)

	items, err := svc.ListItems(context.Background(), "commercial")
	if err != nil || len(items) != 1 || items[0].ID != "hack" {
		t.Fatalf("unexpected items %+v %v", items, err)
	}
	if _, err := svc.ListItems(context.Background(), "spaceship"); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("unknown category must be invalid, got %v", err)
	}
}
