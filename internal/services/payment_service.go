package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"motopay/internal/locks"
	"motopay/internal/models"
	"motopay/internal/notify"
	"motopay/internal/pay"
)

// Gateway is the payment processor the orchestrator delegates to.
type Gateway interface {
	Initialize(ctx context.Context, req pay.InitializeRequest) (pay.InitializeResponse, error)
	Verify(ctx context.Context, reference string) (pay.Verification, error)
}

type VehicleStore interface {
	GetByID(ctx context.Context, id string) (models.Vehicle, error)
}

type CatalogReader interface {
	GetByIDs(ctx context.Context, ids []string) ([]models.ComplianceItem, error)
}

type TransactionStore interface {
	Create(ctx context.Context, t models.Transaction) error
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	GetByReference(ctx context.Context, reference string) (models.Transaction, error)
	ApplySettlement(ctx context.Context, s models.Settlement) (bool, error)
	MarkFailed(ctx context.Context, id, gatewayResponse string) error
	MarkRefunded(ctx context.Context, id, reason string, at time.Time) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
	MarkReconciled(ctx context.Context, id string, at time.Time) error
}

type PaymentConfig struct {
	FeePercent    decimal.Decimal
	WebhookSecret string
	// GatewayName and PaymentMethod are stamped on every transaction.
	GatewayName   string
	PaymentMethod string

	Commission *CommissionCalculator
	Locker     locks.Locker
	Notifier   notify.Notifier
	ReceiptIDs *snowflake.Node
	Logger     *slog.Logger
	Now        func() time.Time
}

// PaymentService is the payment orchestrator: it prices a renewal, opens the
// gateway session and applies a verified payment exactly once.
type PaymentService struct {
	vehicles     VehicleStore
	catalog      CatalogReader
	transactions TransactionStore
	gateway      Gateway

	feePercent    decimal.Decimal
	webhookSecret string
	gatewayName   string
	paymentMethod string

	commission *CommissionCalculator
	locker     locks.Locker
	notifier   notify.Notifier
	receiptIDs *snowflake.Node
	logger     *slog.Logger
	now        func() time.Time
}

const referenceAttempts = 5

func NewPaymentService(vehicles VehicleStore, catalog CatalogReader, transactions TransactionStore, gateway Gateway, cfg PaymentConfig) (*PaymentService, error) {
	if cfg.ReceiptIDs == nil {
		node, err := snowflake.NewNode(1)
		if err != nil {
			return nil, fmt.Errorf("receipt id node: %w", err)
		}
		cfg.ReceiptIDs = node
	}
	if cfg.FeePercent.IsNegative() {
		return nil, fmt.Errorf("fee percent must not be negative")
	}
	if cfg.Commission == nil {
		cfg.Commission = NewCommissionCalculator(DefaultCommissionPercent)
	}
	if cfg.Locker == nil {
		cfg.Locker = locks.NewLocal()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.GatewayName == "" {
		cfg.GatewayName = "PAYSTACK"
	}
	if cfg.PaymentMethod == "" {
		cfg.PaymentMethod = "CARD"
	}
	return &PaymentService{
		vehicles:      vehicles,
		catalog:       catalog,
		transactions:  transactions,
		gateway:       gateway,
		feePercent:    cfg.FeePercent,
		webhookSecret: cfg.WebhookSecret,
		gatewayName:   cfg.GatewayName,
		paymentMethod: cfg.PaymentMethod,
		commission:    cfg.Commission,
		locker:        cfg.Locker,
		notifier:      cfg.Notifier,
		receiptIDs:    cfg.ReceiptIDs,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}, nil
}

// Fee is amount × feePercent / 100 rounded half-up to two decimals.
func (s *PaymentService) Fee(amount decimal.Decimal) decimal.Decimal {
	return percentOf(amount, s.feePercent)
}

func percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(decimal.NewFromInt(100)).Round(2)
}

func (s *PaymentService) InitializePayment(ctx context.Context, req models.InitializePaymentRequest, actor models.Actor) (models.InitializePaymentResult, error) {
	logger := s.logger.With("op", "InitializePayment", "vehicle_id", req.VehicleID)

	if err := req.Validate(); err != nil {
		return models.InitializePaymentResult{}, err
	}
	vehicle, err := s.vehicles.GetByID(ctx, req.VehicleID)
	if err != nil {
		return models.InitializePaymentResult{}, err
	}
	items, err := s.catalog.GetByIDs(ctx, req.ComplianceItemIDs)
	if err != nil {
		return models.InitializePaymentResult{}, fmt.Errorf("load compliance items: %w", err)
	}
	if len(items) != len(req.ComplianceItemIDs) {
		return models.InitializePaymentResult{}, fmt.Errorf("%w: some compliance items not found", models.ErrInvalidRequest)
	}

	now := s.now().UTC()
	txn := models.Transaction{
		ID:             uuid.NewString(),
		VehicleID:      vehicle.ID,
		Email:          req.Email,
		Amount:         decimal.Zero,
		Status:         models.TransactionPending,
		Channel:        models.ChannelSelf,
		PaymentMethod:  s.paymentMethod,
		PaymentGateway: s.gatewayName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if actor.IsAgent() {
		agentID := actor.UserID
		txn.AgentID = &agentID
		txn.Channel = models.ChannelAgent
	} else if actor.UserID != "" {
		userID := actor.UserID
		txn.UserID = &userID
	}
	for _, it := range items {
		txn.Amount = txn.Amount.Add(it.Price)
		txn.Items = append(txn.Items, models.TransactionItem{
			TransactionID:      txn.ID,
			ComplianceItemID:   it.ID,
			Name:               it.Name,
			Price:              it.Price,
			ValidityPeriodDays: it.ValidityPeriodDays,
		})
	}
	txn.Fee = s.Fee(txn.Amount)
	txn.TotalAmount = txn.Amount.Add(txn.Fee)

	for attempt := 1; ; attempt++ {
		txn.Reference = NewReference("TXN", now)
		err = s.transactions.Create(ctx, txn)
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrDuplicateReference) || attempt == referenceAttempts {
			return models.InitializePaymentResult{}, fmt.Errorf("create transaction: %w", err)
		}
		logger.Warn("reference collision, regenerating", "reference", txn.Reference, "attempt", attempt)
	}

	result := models.InitializePaymentResult{
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		Amount:        txn.Amount,
		Fee:           txn.Fee,
		TotalAmount:   txn.TotalAmount,
	}

	session, err := s.gateway.Initialize(ctx, pay.InitializeRequest{
		Email:       txn.Email,
		AmountMinor: txn.TotalMinorUnits(),
		Reference:   txn.Reference,
		Metadata: map[string]any{
			"transaction_id": txn.ID,
			"vehicle_id":     vehicle.ID,
			"plate_number":   vehicle.PlateNumber,
		},
	})
	if err != nil {
		logger.Error("gateway initialize failed, transaction left pending", "reference", txn.Reference, "error", err)
		return result, fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
	}
	result.AuthorizationURL = session.AuthorizationURL
	result.AccessCode = session.AccessCode

	logger.Info("payment initialized", "reference", txn.Reference, "total", txn.TotalAmount.StringFixed(2), "channel", txn.Channel)
	return result, nil
}

// VerifyPayment settles a transaction against the gateway's authoritative
// status. It is safe to call repeatedly and concurrently for one reference:
// the settlement side effects are applied at most once.
func (s *PaymentService) VerifyPayment(ctx context.Context, reference string) (models.VerifyResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return models.VerifyResult{}, fmt.Errorf("%w: reference is required", models.ErrInvalidRequest)
	}
	logger := s.logger.With("op", "VerifyPayment", "reference", reference)

	txn, err := s.transactions.GetByReference(ctx, reference)
	if err != nil {
		return models.VerifyResult{}, err
	}
	if res, done, err := settledResult(txn); done {
		return res, err
	}

	unlock, err := s.locker.Lock(ctx, "verify:"+reference)
	if err != nil {
		return models.VerifyResult{}, fmt.Errorf("acquire verify lock: %w", err)
	}
	defer unlock()

	// Another caller may have finished while this one waited for the lock.
	if txn, err = s.transactions.GetByReference(ctx, reference); err != nil {
		return models.VerifyResult{}, err
	}
	if res, done, err := settledResult(txn); done {
		return res, err
	}

	v, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		logger.Warn("gateway verify failed, transaction left pending", "error", err)
		return models.VerifyResult{Transaction: txn}, fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, err)
	}

	switch {
	case v.Succeeded() && v.AmountMinor == txn.TotalMinorUnits():
		return s.settle(ctx, logger, txn, v)
	case v.Succeeded():
		logger.Warn("amount mismatch", "expected_minor", txn.TotalMinorUnits(), "paid_minor", v.AmountMinor)
		return s.fail(ctx, logger, txn, fmt.Sprintf("amount mismatch: expected %d, paid %d", txn.TotalMinorUnits(), v.AmountMinor))
	case v.Failed():
		return s.fail(ctx, logger, txn, nonEmpty(v.GatewayResponse, v.Status))
	default:
		logger.Info("payment still in progress at gateway", "gateway_status", v.Status)
		return models.VerifyResult{Transaction: txn}, fmt.Errorf("%w: gateway status %q", models.ErrPaymentPending, v.Status)
	}
}

// settledResult short-circuits transactions that no longer need the gateway.
func settledResult(txn models.Transaction) (models.VerifyResult, bool, error) {
	switch txn.Status {
	case models.TransactionSuccess, models.TransactionRefunded:
		return models.VerifyResult{Transaction: txn, AlreadyVerified: true}, true, nil
	case models.TransactionFailed:
		return models.VerifyResult{Transaction: txn}, true, fmt.Errorf("%w: transaction %s already failed", models.ErrPaymentVerificationFailed, txn.Reference)
	}
	return models.VerifyResult{}, false, nil
}

func (s *PaymentService) settle(ctx context.Context, logger *slog.Logger, txn models.Transaction, v pay.Verification) (models.VerifyResult, error) {
	now := s.now().UTC()
	paidAt := now
	if v.PaidAt != nil && !v.PaidAt.IsZero() {
		paidAt = v.PaidAt.UTC()
	}

	settlement := models.Settlement{
		TransactionID:   txn.ID,
		GatewayResponse: nonEmpty(v.GatewayResponse, v.Status),
		PaidAt:          paidAt,
		VehicleID:       txn.VehicleID,
		Receipt: models.Receipt{
			ID:            uuid.NewString(),
			TransactionID: txn.ID,
			ReceiptNumber: "RCP-" + s.receiptIDs.Generate().String(),
			IssuedAt:      now,
		},
	}
	for _, item := range txn.Items {
		grant, err := models.NewGrant(uuid.NewString(), txn.VehicleID, txn.ID, item, now)
		if err != nil {
			return models.VerifyResult{}, err
		}
		settlement.Grants = append(settlement.Grants, grant)
	}
	if txn.AgentID != nil {
		c := s.commission.Compute(txn, *txn.AgentID, now)
		settlement.Commission = &c
	}

	applied, err := s.transactions.ApplySettlement(ctx, settlement)
	if err != nil {
		logger.Error("settlement failed", "error", err)
		return models.VerifyResult{}, fmt.Errorf("apply settlement: %w", err)
	}

	updated, err := s.transactions.GetByReference(ctx, txn.Reference)
	if err != nil {
		return models.VerifyResult{}, err
	}
	if !applied {
		logger.Info("settlement already applied by a concurrent caller", "status", updated.Status)
		res, _, err := settledResult(updated)
		return res, err
	}

	logger.Info("payment verified", "transaction_id", txn.ID, "items", len(settlement.Grants), "receipt", settlement.Receipt.ReceiptNumber)
	s.notifyPayment(ctx, notify.PaymentSucceeded, updated, "Payment received",
		fmt.Sprintf("Payment %s of NGN %s confirmed. Receipt %s.", updated.Reference, updated.TotalAmount.StringFixed(2), settlement.Receipt.ReceiptNumber))
	return models.VerifyResult{Transaction: updated}, nil
}

func (s *PaymentService) fail(ctx context.Context, logger *slog.Logger, txn models.Transaction, reason string) (models.VerifyResult, error) {
	err := s.transactions.MarkFailed(ctx, txn.ID, reason)
	if errors.Is(err, sql.ErrNoRows) {
		updated, gerr := s.transactions.GetByReference(ctx, txn.Reference)
		if gerr != nil {
			return models.VerifyResult{}, gerr
		}
		res, _, serr := settledResult(updated)
		return res, serr
	}
	if err != nil {
		return models.VerifyResult{}, fmt.Errorf("mark failed: %w", err)
	}

	logger.Warn("payment verification failed", "reason", reason)
	txn.Status = models.TransactionFailed
	txn.GatewayResponse = reason
	s.notifyPayment(ctx, notify.PaymentFailed, txn, "Payment failed",
		fmt.Sprintf("Payment %s could not be confirmed: %s", txn.Reference, reason))
	return models.VerifyResult{Transaction: txn}, fmt.Errorf("%w: %s", models.ErrPaymentVerificationFailed, reason)
}

// HandleWebhook authenticates a gateway event and, for successful charges,
// runs the same verification as the client-facing call.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (*models.VerifyResult, error) {
	if !pay.VerifyHMAC(body, signature, s.webhookSecret) {
		return nil, fmt.Errorf("%w: invalid webhook signature", models.ErrUnauthorized)
	}
	ev, err := pay.ParseEvent(body)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed webhook payload", models.ErrInvalidRequest)
	}
	logger := s.logger.With("op", "HandleWebhook", "event", ev.Event, "reference", ev.Data.Reference)
	if ev.Event != pay.EventChargeSuccess {
		logger.Info("webhook event ignored")
		return nil, nil
	}
	if ev.Data.Reference == "" {
		return nil, fmt.Errorf("%w: webhook without reference", models.ErrInvalidRequest)
	}
	res, err := s.VerifyPayment(ctx, ev.Data.Reference)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *PaymentService) GetTransaction(ctx context.Context, id string, actor models.Actor) (models.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if actor.IsAdmin() {
		return txn, nil
	}
	if (txn.UserID != nil && *txn.UserID == actor.UserID) || (txn.AgentID != nil && *txn.AgentID == actor.UserID) {
		return txn, nil
	}
	return models.Transaction{}, models.ErrTransactionNotFound
}

// ProcessRefund marks a successful transaction refunded. Compliance already
// granted by the payment stays in the ledger.
func (s *PaymentService) ProcessRefund(ctx context.Context, id string, req models.RefundRequest) (models.Transaction, error) {
	if err := req.Validate(); err != nil {
		return models.Transaction{}, err
	}
	txn, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if txn.Status != models.TransactionSuccess {
		return models.Transaction{}, fmt.Errorf("%w: only successful transactions can be refunded, status is %s", models.ErrInvalidState, txn.Status)
	}

	at := s.now().UTC()
	err = s.transactions.MarkRefunded(ctx, txn.ID, req.Reason, at)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("%w: transaction changed status concurrently", models.ErrInvalidState)
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("mark refunded: %w", err)
	}
	txn.Status = models.TransactionRefunded
	txn.RefundReason = &req.Reason
	txn.RefundedAt = &at

	s.logger.Info("transaction refunded", "op", "ProcessRefund", "reference", txn.Reference)
	s.notifyPayment(ctx, notify.PaymentRefunded, txn, "Payment refunded",
		fmt.Sprintf("Payment %s has been refunded.", txn.Reference))
	return txn, nil
}

// ReconcileStale re-verifies PENDING transactions older than maxAge. Every
// attempt is stamped so the next run starts with rows not tried recently.
// A single failure does not stop the batch.
func (s *PaymentService) ReconcileStale(ctx context.Context, maxAge time.Duration, limit int) (settled, failed int, err error) {
	logger := s.logger.With("op", "ReconcileStale")
	stale, err := s.transactions.ListStalePending(ctx, s.now().UTC().Add(-maxAge), limit)
	if err != nil {
		return 0, 0, err
	}
	for _, txn := range stale {
		if ctx.Err() != nil {
			return settled, failed, ctx.Err()
		}
		if err := s.transactions.MarkReconciled(ctx, txn.ID, s.now().UTC()); err != nil {
			logger.Warn("stamp reconcile attempt", "reference", txn.Reference, "error", err)
		}
		res, verr := s.VerifyPayment(ctx, txn.Reference)
		switch {
		case verr == nil && res.Transaction.Status == models.TransactionSuccess:
			settled++
		case errors.Is(verr, models.ErrPaymentVerificationFailed):
			failed++
		case verr != nil && !models.Retryable(verr):
			logger.Warn("reconcile failed", "reference", txn.Reference, "error", verr)
		}
	}
	return settled, failed, nil
}

func (s *PaymentService) notifyPayment(ctx context.Context, kind notify.Kind, txn models.Transaction, title, body string) {
	ev := notify.Event{
		Kind:          kind,
		Reference:     txn.Reference,
		TransactionID: txn.ID,
		VehicleID:     txn.VehicleID,
		UserID:        txn.UserID,
		Title:         title,
		Body:          body,
		Transaction:   &txn,
		OccurredAt:    s.now().UTC(),
	}
	if v, err := s.vehicles.GetByID(ctx, txn.VehicleID); err == nil {
		ev.PlateNumber = v.PlateNumber
		ev.Contact = v.OwnerContact
		if ev.UserID == nil {
			ev.UserID = v.OwnerUserID
		}
	}
	s.notifier.Publish(ev)
}

// NewReference builds "<PREFIX>-<base36 millis>-<5 random>" in upper case.
func NewReference(prefix string, now time.Time) string {
	return strings.ToUpper(prefix + "-" + strconv.FormatInt(now.UnixMilli(), 36) + "-" + randomSuffix(5))
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomSuffix(n int) string {
	b := uuid.New()
	out := make([]byte, n)
	for i := range out {
		out[i] = base36[int(b[i])%len(base36)]
	}
	return string(out)
}

func nonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
