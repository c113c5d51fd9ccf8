package main

import (
	"context"
	"time"

	"motopay/internal/config"
)

const workerTimeout = time.Minute

// startWorker runs fn once immediately and then on every tick until ctx ends.
func (app *application) startWorker(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		run := func() {
			runCtx, cancel := context.WithTimeout(ctx, workerTimeout)
			defer cancel()
			if err := fn(runCtx); err != nil {
				app.errorLog.Printf("%s: %v", name, err)
			}
		}

		run()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

func (app *application) startWorkers(ctx context.Context, cfg config.Config) {
	app.startWorker(ctx, "expiry sweep", cfg.Workers.ExpiryInterval, func(ctx context.Context) error {
		n, err := app.renewalService.ExpireOverdue(ctx)
		if err == nil && n > 0 {
			app.infoLog.Printf("expiry sweep: expired %d compliance records", n)
		}
		return err
	})

	app.startWorker(ctx, "renewal reminders", cfg.Workers.ReminderInterval, func(ctx context.Context) error {
		sent, err := app.renewalService.SendReminders(ctx)
		if err == nil && sent > 0 {
			app.infoLog.Printf("renewal reminders: queued %d reminders", sent)
		}
		return err
	})

	app.startWorker(ctx, "payment reconciliation", cfg.Workers.ReconcileInterval, func(ctx context.Context) error {
		settled, failed, err := app.paymentService.ReconcileStale(ctx, cfg.Workers.ReconcileAfter, cfg.Workers.ReconcileBatch)
		if err == nil && settled+failed > 0 {
			app.infoLog.Printf("payment reconciliation: settled %d, failed %d", settled, failed)
		}
		return err
	})
}
