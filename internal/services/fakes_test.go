package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"motopay/internal/models"
	"motopay/internal/notify"
	"motopay/internal/pay"
)

// memStore is an in-memory stand-in for the repositories. ApplySettlement
// and the Mark* methods keep the conditional-update semantics of the SQL
// versions.
type memStore struct {
	mu          sync.Mutex
	vehicles    map[string]models.Vehicle
	items       map[string]models.ComplianceItem
	history     []models.PriceChange
	txns        map[string]models.Transaction
	byRef       map[string]string
	ledger      []models.VehicleComplianceRecord
	receipts    map[string]models.Receipt
	commissions []models.AgentCommission
	createErrs  []error
	reconciled  map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		vehicles:   map[string]models.Vehicle{},
		items:      map[string]models.ComplianceItem{},
		txns:       map[string]models.Transaction{},
		byRef:      map[string]string{},
		receipts:   map[string]models.Receipt{},
		reconciled: map[string]time.Time{},
	}
}

func (m *memStore) addVehicle(v models.Vehicle) models.Vehicle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.ID] = v
	return v
}

func (m *memStore) addItem(it models.ComplianceItem) models.ComplianceItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it
	return it
}

func (m *memStore) GetByID(_ context.Context, id string) (models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return models.Vehicle{}, models.ErrVehicleNotFound
	}
	return v, nil
}

func (m *memStore) GetByIDs(_ context.Context, ids []string) ([]models.ComplianceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ComplianceItem
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) Create(_ context.Context, t models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		return err
	}
	if _, dup := m.byRef[t.Reference]; dup {
		return models.ErrDuplicateReference
	}
	t.Items = append([]models.TransactionItem(nil), t.Items...)
	m.txns[t.ID] = t
	m.byRef[t.Reference] = t.ID
	return nil
}

func (m *memStore) withReceipt(t models.Transaction) models.Transaction {
	if rc, ok := m.receipts[t.ID]; ok {
		t.Receipt = &rc
	}
	return t
}

// txnStore exposes the transaction view of memStore, whose own GetByID
// serves vehicles.
type txnStore struct{ *memStore }

func (t txnStore) GetByID(_ context.Context, id string) (models.Transaction, error) {
	return t.getTxn(id)
}

func (m *memStore) getTxn(id string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return models.Transaction{}, models.ErrTransactionNotFound
	}
	return m.withReceipt(t), nil
}

func (m *memStore) GetByReference(_ context.Context, ref string) (models.Transaction, error) {
	m.mu.Lock()
	id, ok := m.byRef[ref]
	m.mu.Unlock()
	if !ok {
		return models.Transaction{}, models.ErrTransactionNotFound
	}
	return m.getTxn(id)
}

func (m *memStore) ApplySettlement(_ context.Context, s models.Settlement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[s.TransactionID]
	if !ok || t.Status != models.TransactionPending {
		return false, nil
	}
	if _, dup := m.receipts[s.TransactionID]; dup {
		return false, errors.New("duplicate receipt")
	}
	for _, g := range s.Grants {
		for i := range m.ledger {
			r := &m.ledger[i]
			if r.VehicleID == g.VehicleID && r.ComplianceItemID == g.ComplianceItemID && r.Status == models.ComplianceActive {
				r.Status = models.ComplianceExpired
			}
		}
		m.ledger = append(m.ledger, g)
	}
	v := m.vehicles[s.VehicleID]
	paid := s.PaidAt
	v.LastRenewalDate = &paid
	m.vehicles[s.VehicleID] = v
	m.receipts[s.TransactionID] = s.Receipt
	if s.Commission != nil {
		m.commissions = append(m.commissions, *s.Commission)
	}
	t.Status = models.TransactionSuccess
	t.PaidAt = &paid
	t.GatewayResponse = s.GatewayResponse
	m.txns[t.ID] = t
	return true, nil
}

func (m *memStore) transition(id string, from, to models.TransactionStatus, mutate func(*models.Transaction)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok || t.Status != from {
		return sql.ErrNoRows
	}
	t.Status = to
	mutate(&t)
	m.txns[id] = t
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id, resp string) error {
	return m.transition(id, models.TransactionPending, models.TransactionFailed, func(t *models.Transaction) { t.GatewayResponse = resp })
}

func (m *memStore) MarkRefunded(_ context.Context, id, reason string, at time.Time) error {
	return m.transition(id, models.TransactionSuccess, models.TransactionRefunded, func(t *models.Transaction) {
		t.RefundReason = &reason
		t.RefundedAt = &at
	})
}

func (m *memStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.txns {
		if t.Status == models.TransactionPending && t.CreatedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	lastTry := func(t models.Transaction) time.Time {
		if at, ok := m.reconciled[t.ID]; ok {
			return at
		}
		return t.CreatedAt
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := lastTry(out[i]), lastTry(out[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkReconciled(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.txns[id]; ok && t.Status == models.TransactionPending {
		m.reconciled[id] = at
	}
	return nil
}

func (m *memStore) ledgerFor(vehicleID string) []models.VehicleComplianceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VehicleComplianceRecord
	for _, r := range m.ledger {
		if r.VehicleID == vehicleID {
			out = append(out, r)
		}
	}
	return out
}

func (m *memStore) receiptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.receipts)
}

// catalogStore adapts memStore to CatalogStore and LedgerReader.
type catalogStore struct{ *memStore }

func (c catalogStore) List(_ context.Context, cat models.VehicleCategory) ([]models.ComplianceItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.ComplianceItem
	for _, it := range c.items {
		if cat == "" || it.VehicleCategory == cat {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c catalogStore) GetByID(_ context.Context, id string) (models.ComplianceItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[id]
	if !ok {
		return models.ComplianceItem{}, models.ErrComplianceItemNotFound
	}
	return it, nil
}

func (c catalogStore) UpdatePrice(_ context.Context, pc models.PriceChange) (models.ComplianceItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[pc.ComplianceItemID]
	if !ok {
		return models.ComplianceItem{}, models.ErrComplianceItemNotFound
	}
	if it.IsLocked {
		return models.ComplianceItem{}, models.ErrPriceLocked
	}
	pc.OldPrice = it.Price
	it.Price = pc.NewPrice
	c.items[it.ID] = it
	c.history = append(c.history, pc)
	return it, nil
}

func (c catalogStore) ListPriceHistory(_ context.Context, id string) ([]models.PriceChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.PriceChange
	for _, pc := range c.history {
		if pc.ComplianceItemID == id {
			out = append(out, pc)
		}
	}
	return out, nil
}

func (c catalogStore) ListByVehicle(_ context.Context, vehicleID string) ([]models.VehicleComplianceRecord, error) {
	return c.ledgerFor(vehicleID), nil
}

type fakeGateway struct {
	mu           sync.Mutex
	initErr      error
	verifyErr    error
	verification pay.Verification
	// refErrs fails Verify for specific references, as the gateway does
	// for references it never saw.
	refErrs     map[string]error
	initialized []pay.InitializeRequest
	verifyCalls int
	delay       time.Duration
}

func (g *fakeGateway) Initialize(_ context.Context, req pay.InitializeRequest) (pay.InitializeResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialized = append(g.initialized, req)
	if g.initErr != nil {
		return pay.InitializeResponse{}, g.initErr
	}
	return pay.InitializeResponse{
		AuthorizationURL: "https://checkout.example/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, ref string) (pay.Verification, error) {
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if err, ok := g.refErrs[ref]; ok {
		return pay.Verification{}, err
	}
	if g.verifyErr != nil {
		return pay.Verification{}, g.verifyErr
	}
	v := g.verification
	v.Reference = ref
	return v, nil
}

func (g *fakeGateway) succeedWith(minor int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verification = pay.Verification{Status: pay.StatusSuccess, AmountMinor: minor, GatewayResponse: "Approved", Currency: "NGN"}
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Kind
	}
	return out
}

// nopLocker lets every caller through so tests can exercise the storage-level
// guard on its own.
type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedVehicle(m *memStore) models.Vehicle {
	owner := "user-1"
	return m.addVehicle(models.Vehicle{
		ID: "veh-1", PlateNumber: "ABC-123-XY", ChassisNumber: "1HGCM82633A004352",
		VehicleType: models.CategoryPrivate, Make: "Toyota", Model: "Corolla", Year: 2019,
		OwnerName: "Ada Obi", OwnerContact: "+2348012345678", OwnerUserID: &owner,
	})
}

func seedItem(m *memStore, id, name, price string, days int, mandatory bool) models.ComplianceItem {
	return m.addItem(models.ComplianceItem{
		ID: id, Name: name, VehicleCategory: models.CategoryPrivate,
		Price: dec(price), IsMandatory: mandatory, ValidityPeriodDays: days,
	})
}

func newTestPaymentService(m *memStore, gw *fakeGateway, opts ...func(*PaymentConfig)) *PaymentService {
	cfg := PaymentConfig{
		FeePercent:    dec("1.5"),
		WebhookSecret: "sk_test_secret",
		Commission:    NewCommissionCalculator(dec("2.5")),
		Now:           func() time.Time { return testNow },
	}
	for _, o := range opts {
		o(&cfg)
	}
	svc, err := NewPaymentService(m, m, txnStore{m}, gw, cfg)
	if err != nil {
		panic(fmt.Sprintf("NewPaymentService: %v", err))
	}
	return svc
}
