package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const DefaultRefreshInterval = time.Minute

// scheduleKey identifies one schedule trigger of one published flow version.
type scheduleKey struct {
	flowID    string
	version   int
	triggerID string
	spec      string
}

// Schedules fires the schedule triggers of the latest published flows. Each tick publishes
// a schedule event addressed to the flow and carrying the trigger id, which starts a new execution.
type Schedules struct {
	flows     persistence.FlowRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	refresh   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[scheduleKey]cron.EntryID
}

type SchedulesOption func(*Schedules)

func WithRefreshInterval(interval time.Duration) SchedulesOption {
	return func(s *Schedules) {
		if interval > 0 {
			s.refresh = interval
		}
	}
}

func NewSchedules(flows persistence.FlowRepository, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...SchedulesOption) *Schedules {
	s := &Schedules{
		flows:     flows,
		publisher: publisher,
		logger:    logger.With("module", "schedules"),
		refresh:   DefaultRefreshInterval,
		now:       func() time.Time { return time.Now().UTC() },
		entries:   make(map[scheduleKey]cron.EntryID),
	}

	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start loads the schedules, then keeps them in sync with newly published versions.
func (s *Schedules) Start(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.refresh), func() {
		if err := s.Sync(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Failed to refresh schedules", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Schedules started", "refresh", s.refresh)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Schedules) Stop() {
	<-s.cron.Stop().Done()
}

// Sync registers a cron entry per schedule trigger of every latest flow version and removes
// entries of superseded versions. Triggers with an unparsable expression are skipped.
func (s *Schedules) Sync(ctx context.Context) error {
	flows, err := s.flows.ListLatest(ctx)
	if err != nil {
		return fmt.Errorf("failed to list flows: %w", err)
	}

	wanted := make(map[scheduleKey]*models.FlowDefinition)

	for _, flow := range flows {
		for _, trigger := range flow.Triggers() {
			if trigger.Subtype != models.TriggerSchedule {
				continue
			}

			wanted[scheduleKey{flowID: flow.ID, version: flow.Version, triggerID: trigger.ID, spec: trigger.Matcher}] = flow
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, id := range s.entries {
		if _, ok := wanted[key]; !ok {
			s.cron.Remove(id)
			delete(s.entries, key)
		}
	}

	for key, flow := range wanted {
		if _, ok := s.entries[key]; ok {
			continue
		}

		id, err := s.cron.AddFunc(key.spec, s.emitter(ctx, flow.ProjectID, key))
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping schedule trigger with invalid expression",
				"flow_id", key.flowID, "trigger_id", key.triggerID, "cron", key.spec, "error", err)

			continue
		}

		s.entries[key] = id
		s.logger.InfoContext(ctx, "Schedule registered", "flow_id", key.flowID, "flow_version", key.version, "trigger_id", key.triggerID, "cron", key.spec)
	}

	return nil
}

// Len is the number of registered schedule triggers.
func (s *Schedules) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Schedules) emitter(ctx context.Context, projectID string, key scheduleKey) func() {
	return func() {
		if err := s.emit(ctx, projectID, key); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish schedule event", "flow_id", key.flowID, "trigger_id", key.triggerID, "error", err)
		}
	}
}

func (s *Schedules) emit(ctx context.Context, projectID string, key scheduleKey) error {
	now := s.now()

	received := events.NewEventReceived(models.Event{
		Type:       models.EventSchedule,
		ProjectID:  projectID,
		FlowID:     key.flowID,
		Data:       map[string]any{"trigger_id": key.triggerID, "fired_at": now.Format(time.RFC3339)},
		ReceivedAt: now,
	})

	return s.publisher.Publish(ctx, received.Key(), received)
}
