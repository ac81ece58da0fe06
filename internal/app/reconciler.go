/**
 * @description
 * Cron-driven reconciliation for the payment ledger. Card payment cycles
 * whose payer abandoned checkout leave pending ledger entries behind; the
 * sweep fails them once they exceed their time-to-live so the job can open a
 * fresh cycle.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Reconciler runs the stale-payment sweep on a cron schedule.
type Reconciler struct {
	cron       *cron.Cron
	service    *Service
	schedule   string
	pendingTTL time.Duration
}

// NewReconciler creates a reconciler sweeping pending card payments older
// than pendingTTL on the given cron schedule.
func NewReconciler(service *Service, schedule string, pendingTTL time.Duration) *Reconciler {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))))
	return &Reconciler{
		cron:       c,
		service:    service,
		schedule:   schedule,
		pendingTTL: pendingTTL,
	}
}

// Start registers the sweep and starts the cron scheduler.
func (r *Reconciler) Start() {
	if _, err := r.cron.AddFunc(r.schedule, r.sweep); err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to schedule stale payment sweep\" schedule=%q err=%v", r.schedule, err)
		return
	}
	log.Printf("level=info component=reconciler msg=\"scheduled stale payment sweep\" schedule=%q ttl=%s", r.schedule, r.pendingTTL)
	r.cron.Start()
}

// Stop gracefully stops the scheduler, returning a context that is done once
// any running sweep has finished.
func (r *Reconciler) Stop() context.Context {
	return r.cron.Stop()
}

func (r *Reconciler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	count, err := r.service.ExpireStalePendingPayments(ctx, r.pendingTTL)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"stale payment sweep failed\" err=%v", err)
		return
	}
	if count > 0 {
		log.Printf("level=info component=reconciler msg=\"stale payment sweep completed\" expired=%d", count)
	}
}
