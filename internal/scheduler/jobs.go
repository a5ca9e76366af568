package scheduler

import (
	"context"

	"go.uber.org/zap"
)

func (s *Scheduler) TrialConversionJob(ctx context.Context, run *jobRun) (JobResult, error) {
	activated, err := s.subscriptionSvc.ActivateEndedTrials(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.trial_conversion.failed", err)
	}
	return JobResult{Processed: activated}, err
}

// SubscriptionInvoicesJob bills every active subscription whose next billing date has passed,
// catching up missed periods one at a time.
func (s *Scheduler) SubscriptionInvoicesJob(ctx context.Context, run *jobRun) (JobResult, error) {
	sweep, err := s.invoiceSvc.GenerateDueSubscriptions(ctx, s.clock.Now())
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.subscription_invoices.failed", err)
	}
	result := JobResult{Processed: sweep.Processed, Skipped: sweep.Skipped, Blocked: sweep.Blocked}
	if len(sweep.Blocked) > 0 {
		s.logger(ctx).Info("scheduler.subscription_invoices.blocked_accounts",
			zap.Int("count", len(sweep.Blocked)),
		)
	}
	return result, err
}

func (s *Scheduler) OverdueSweepJob(ctx context.Context, run *jobRun) (JobResult, error) {
	sweep, err := s.invoiceSvc.MarkOverdue(ctx, s.clock.Now())
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.overdue_sweep.failed", err)
	}
	return JobResult{Processed: sweep.Processed, Skipped: sweep.Skipped, Blocked: sweep.Blocked}, err
}

// TerminalTimeoutsJob re-dispatches or errors terminal intents that stayed in processing too long.
func (s *Scheduler) TerminalTimeoutsJob(ctx context.Context, run *jobRun) (JobResult, error) {
	sweep, err := s.paymentSvc.SweepTerminalTimeouts(ctx, s.clock.Now())
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.terminal_timeouts.failed", err)
	}
	return JobResult{Processed: sweep.Processed, Redispatched: sweep.Redispatched, Failed: sweep.Failed}, err
}

func (s *Scheduler) EventDispatchJob(ctx context.Context, run *jobRun) (JobResult, error) {
	published, err := s.dispatcher.DispatchPending(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.event_dispatch.failed", err)
	}
	return JobResult{Processed: published}, err
}
