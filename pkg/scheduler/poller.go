package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 100
)

// Poller publishes a timer event for every due timer. A timer is deleted only after its
// event was published, so a crash between the two delivers the event again.
type Poller struct {
	timers    persistence.TimerRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
	cron      *cron.Cron
}

type PollerOption func(*Poller)

func WithInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

func WithBatchSize(size int) PollerOption {
	return func(p *Poller) {
		if size > 0 {
			p.batchSize = size
		}
	}
}

func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		p.now = now
	}
}

func NewPoller(timers persistence.TimerRepository, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		timers:    timers,
		publisher: publisher,
		logger:    logger.With("module", "timer_poller"),
		interval:  DefaultPollInterval,
		batchSize: DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start runs Poll on a cron schedule until Stop is called or ctx is cancelled.
// Overlapping ticks are skipped.
func (p *Poller) Start(ctx context.Context) error {
	logger := cronLogger{logger: p.logger}
	p.cron = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	_, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.interval), func() {
		if _, err := p.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.ErrorContext(ctx, "Timer poll failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule timer poller: %w", err)
	}

	p.cron.Start()
	p.logger.InfoContext(ctx, "Timer poller started", "interval", p.interval)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	return nil
}

// Stop waits for a running poll to finish.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}

	<-p.cron.Stop().Done()
}

// Poll delivers one batch of due timers and returns how many were delivered.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	now := p.now()

	due, err := p.timers.Due(ctx, now, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load due timers: %w", err)
	}

	delivered := 0

	for _, timer := range due {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		received := events.NewEventReceived(models.Event{
			Type:        models.EventTimer,
			ExecutionID: timer.ExecutionID,
			JobID:       timer.JobID,
			Data:        map[string]any{"fire_at": timer.FireAt.Format(time.RFC3339)},
			ReceivedAt:  now,
		})

		if err := p.publisher.Publish(ctx, received.Key(), received); err != nil {
			p.logger.ErrorContext(ctx, "Failed to publish timer event", "job_id", timer.JobID, "execution_id", timer.ExecutionID, "error", err)

			continue
		}

		if err := p.timers.Delete(ctx, timer.JobID); err != nil {
			p.logger.WarnContext(ctx, "Failed to delete delivered timer", "job_id", timer.JobID, "error", err)
		}

		delivered++
	}

	if delivered > 0 {
		p.logger.InfoContext(ctx, "Delivered due timers", "count", delivered)
	}

	return delivered, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
