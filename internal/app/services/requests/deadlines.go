package requests

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/audit"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/request"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/metrics"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/notify"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/services/auditlog"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/storage"
	"github.com/kaykluz/kiisha-dev-sub002/internal/app/system"
	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// DeadlineSweeper reminds recipients about issued requests whose deadline
// is inside the warning window or already past. Each request is reminded
// at most once per process lifetime.
type DeadlineSweeper struct {
	store    storage.RequestStore
	service  *Service
	recorder *auditlog.Service
	notifier notify.Notifier
	schedule string
	window   time.Duration
	log      *logger.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	reminded map[string]bool
	running  bool
}

var _ system.Service = (*DeadlineSweeper)(nil)

// NewDeadlineSweeper builds a sweeper. Schedule uses cron syntax and
// defaults to an hourly run; window defaults to 48 hours.
func NewDeadlineSweeper(store storage.RequestStore, service *Service, recorder *auditlog.Service, notifier notify.Notifier, schedule string, window time.Duration, log *logger.Logger) *DeadlineSweeper {
	if log == nil {
		log = logger.NewDefault("request-deadlines")
	}
	if schedule == "" {
		schedule = "@hourly"
	}
	if window <= 0 {
		window = 48 * time.Hour
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	return &DeadlineSweeper{
		store:    store,
		service:  service,
		recorder: recorder,
		notifier: notifier,
		schedule: schedule,
		window:   window,
		log:      log,
		reminded: make(map[string]bool),
	}
}

func (d *DeadlineSweeper) Name() string { return "request-deadlines" }

// Start begins the cron schedule.
func (d *DeadlineSweeper) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	runner := cron.New()
	if _, err := runner.AddFunc(d.schedule, func() { d.Sweep(context.Background()) }); err != nil {
		return err
	}
	runner.Start()

	d.cron = runner
	d.running = true
	d.log.Infof("deadline sweeper started on schedule %s", d.schedule)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (d *DeadlineSweeper) Stop(ctx context.Context) error {
	d.mu.Lock()
	runner := d.cron
	d.cron = nil
	d.running = false
	d.mu.Unlock()

	if runner == nil {
		return nil
	}
	stopCtx := runner.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one pass. Exported so tests and operators can trigger it
// directly.
func (d *DeadlineSweeper) Sweep(ctx context.Context) {
	issued, err := d.store.ListRequestsByStatus(ctx, request.StatusIssued)
	if err != nil {
		d.log.WithError(err).Warn("deadline sweep: listing issued requests failed")
		return
	}

	now := time.Now().UTC()
	for _, req := range issued {
		if req.DeadlineAt == nil {
			continue
		}
		if req.DeadlineAt.After(now.Add(d.window)) {
			continue
		}

		d.mu.Lock()
		already := d.reminded[req.ID]
		if !already {
			d.reminded[req.ID] = true
		}
		d.mu.Unlock()
		if already {
			continue
		}

		d.service.notifyRecipients(ctx, req, "Request deadline approaching", req.Title)
		metrics.RecordDeadlineReminder()
		d.recorder.Record(ctx, audit.Event{
			RequestID:   req.ID,
			EventType:   audit.EventDeadlineReminderSent,
			ActorUserID: "system",
			TargetType:  "request",
			TargetID:    req.ID,
			Details:     map[string]interface{}{"deadline_at": req.DeadlineAt.Format(time.RFC3339)},
		})
	}
}
