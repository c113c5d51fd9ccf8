package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/exp/slices"

	"motopay/internal/models"
	"motopay/internal/notify"
)

type LedgerMaintainer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	ListExpiring(ctx context.Context, from, to time.Time) ([]models.ExpiringRecord, error)
}

var DefaultReminderDays = []int{30, 14, 7, 1}

// RenewalService runs the periodic ledger upkeep: flipping overdue records to
// EXPIRED and reminding owners ahead of expiry.
type RenewalService struct {
	ledger       LedgerMaintainer
	notifier     notify.Notifier
	reminderDays []int
	logger       *slog.Logger
	now          func() time.Time
}

func NewRenewalService(ledger LedgerMaintainer, notifier notify.Notifier, reminderDays []int, logger *slog.Logger) *RenewalService {
	if len(reminderDays) == 0 {
		reminderDays = DefaultReminderDays
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RenewalService{ledger: ledger, notifier: notifier, reminderDays: reminderDays, logger: logger, now: time.Now}
}

func (s *RenewalService) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.ledger.ExpireOverdue(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("compliance records expired", "op", "ExpireOverdue", "count", n)
	}
	return n, nil
}

// SendReminders notifies owners whose cover ends in exactly one of the
// reminder day counts. It is meant to run once a day.
func (s *RenewalService) SendReminders(ctx context.Context) (int, error) {
	now := s.now().UTC()
	maxDays := slices.Max(s.reminderDays)
	expiring, err := s.ledger.ListExpiring(ctx, now, now.AddDate(0, 0, maxDays+1))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, er := range expiring {
		days := DaysUntil(now, er.Record.ExpiryDate)
		if !slices.Contains(s.reminderDays, days) {
			continue
		}
		s.notifier.Publish(notify.Event{
			Kind:        notify.ComplianceExpiring,
			VehicleID:   er.Record.VehicleID,
			PlateNumber: er.PlateNumber,
			UserID:      er.OwnerUserID,
			Contact:     er.OwnerContact,
			Title:       "Renewal reminder",
			Body:        fmt.Sprintf("%s for %s expires in %d day(s) on %s.", er.ItemName, er.PlateNumber, days, er.Record.ExpiryDate.Format("2006-01-02")),
			Expiring:    &er,
			OccurredAt:  now,
		})
		sent++
	}
	s.logger.Info("renewal reminders processed", "op", "SendReminders", "expiring", len(expiring), "sent", sent)
	return sent, nil
}
