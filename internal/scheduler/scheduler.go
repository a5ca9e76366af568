package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/events"
	invoicedomain "github.com/smallbiznis/carehub/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/carehub/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/smallbiznis/carehub/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/carehub/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobTrialConversion      = "trial_conversion"
	JobSubscriptionInvoices = "subscription_invoices"
	JobOverdueSweep         = "overdue_sweep"
	JobTerminalTimeouts     = "terminal_timeouts"
	JobEventDispatch        = "event_dispatch"
)

// Jobs lists every job in the order a tick runs them. Event dispatch goes last so
// events recorded by the sweeps leave in the same tick.
var Jobs = []string{
	JobTrialConversion,
	JobSubscriptionInvoices,
	JobOverdueSweep,
	JobTerminalTimeouts,
	JobEventDispatch,
}

var (
	ErrInvalidConfig  = errors.New("scheduler_invalid_config")
	ErrUnknownJob     = errors.New("scheduler_unknown_job")
	ErrJobUnavailable = errors.New("scheduler_job_unavailable")
)

type Params struct {
	fx.In

	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	InvoiceSvc      invoicedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	PaymentSvc      paymentdomain.Service
	Dispatcher      *events.Dispatcher `optional:"true"`
	Locker          *ratelimit.Locker  `optional:"true"`
	Config          Config             `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	invoiceSvc      invoicedomain.Service
	subscriptionSvc subscriptiondomain.Service
	paymentSvc      paymentdomain.Service
	dispatcher      *events.Dispatcher
	locker          *ratelimit.Locker
}

// JobResult summarises one job run.
type JobResult struct {
	Job          string         `json:"job"`
	RunID        string         `json:"run_id,omitempty"`
	Processed    int            `json:"processed"`
	Skipped      int            `json:"skipped"`
	Failed       int            `json:"failed"`
	Redispatched int            `json:"redispatched,omitempty"`
	LockSkipped  bool           `json:"lock_skipped,omitempty"`
	Blocked      []snowflake.ID `json:"blocked,omitempty"`
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.InvoiceSvc == nil || p.SubscriptionSvc == nil || p.PaymentSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		invoiceSvc:      p.InvoiceSvc,
		subscriptionSvc: p.SubscriptionSvc,
		paymentSvc:      p.PaymentSvc,
		dispatcher:      p.Dispatcher,
		locker:          p.Locker,
	}, nil
}

// RunJob runs a single job by name regardless of EnabledJobs.
func (s *Scheduler) RunJob(ctx context.Context, name string) (JobResult, error) {
	fn, err := s.jobFunc(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return JobResult{Job: name}, err
	}
	return s.runJob(ctx, strings.ToLower(strings.TrimSpace(name)), fn)
}

func (s *Scheduler) jobFunc(name string) (func(context.Context, *jobRun) (JobResult, error), error) {
	switch name {
	case JobTrialConversion:
		return s.TrialConversionJob, nil
	case JobSubscriptionInvoices:
		return s.SubscriptionInvoicesJob, nil
	case JobOverdueSweep:
		return s.OverdueSweepJob, nil
	case JobTerminalTimeouts:
		return s.TerminalTimeoutsJob, nil
	case JobEventDispatch:
		if s.dispatcher == nil {
			return nil, ErrJobUnavailable
		}
		return s.EventDispatchJob, nil
	default:
		return nil, ErrUnknownJob
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	fn func(ctx context.Context, run *jobRun) (JobResult, error),
) (JobResult, error) {
	schedMetrics := obsmetrics.Scheduler()

	release, acquired := s.acquireJobLock(parent, name)
	if !acquired {
		schedMetrics.IncJobLockSkipped(name)
		s.log.Debug("scheduler.job.lock_skipped", zap.String("job", name))
		return JobResult{Job: name, LockSkipped: true}, nil
	}
	defer release()

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	schedMetrics.IncJobRun(name)

	result, err := fn(ctx, run)
	result.Job = name
	result.RunID = run.runID
	run.AddProcessed(result.Processed)
	schedMetrics.AddBatchProcessed(name, resourceFor(name), result.Processed)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return result, nil
	}

	// deadlines are soft: the next tick picks up the remainder
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return result, nil
	}
	return result, fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once, in order, and joins their errors.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, name := range Jobs {
		if !s.isJobEnabled(name) {
			continue
		}
		fn, jobErr := s.jobFunc(name)
		if errors.Is(jobErr, ErrJobUnavailable) {
			continue
		}
		if jobErr != nil {
			err = errors.Join(err, jobErr)
			continue
		}
		if _, jobErr := s.runJob(parent, name, fn); jobErr != nil {
			err = errors.Join(err, jobErr)
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

func resourceFor(job string) string {
	switch job {
	case JobTrialConversion:
		return "subscriptions"
	case JobSubscriptionInvoices, JobOverdueSweep:
		return "invoices"
	case JobTerminalTimeouts:
		return "payment_intents"
	case JobEventDispatch:
		return "domain_events"
	default:
		return "unknown"
	}
}
