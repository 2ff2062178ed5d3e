// Package engine drives executions: it routes an incoming event to an execution, then steps
// through the flow graph one node at a time, persisting the state after every step, until the
// execution suspends or terminates.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/registry"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxStepsPerEvent   = 100
	DefaultStaleAfter         = 2 * time.Minute
	DefaultMaxConflictRetries = 5
)

var (
	// ErrExecutionBusy is returned when another invocation is stepping the execution.
	// The event should be redelivered later.
	ErrExecutionBusy = errors.New("execution is busy")

	ErrInvalidEvent    = errors.New("invalid event")
	ErrProjectMismatch = errors.New("event project does not own the flow")
)

var validate = validator.New()

type Config struct {
	// MaxStepsPerEvent bounds the steps a single invocation may take.
	MaxStepsPerEvent int

	// StaleAfter is how long a persisted running execution is considered owned by
	// another invocation. Older running executions are resumed as crashed.
	StaleAfter time.Duration

	// MaxConflictRetries is how many times an event is replayed from a fresh load after losing a save race.
	MaxConflictRetries int
}

func DefaultConfig() Config {
	return Config{
		MaxStepsPerEvent:   DefaultMaxStepsPerEvent,
		StaleAfter:         DefaultStaleAfter,
		MaxConflictRetries: DefaultMaxConflictRetries,
	}
}

// Disposition says what an invocation did with its event.
type Disposition string

const (
	// Applied means at least one step ran.
	Applied Disposition = "applied"

	// Ignored means the event matched neither the waiting node nor any entry trigger.
	Ignored Disposition = "ignored"

	// AlreadyFinished means the execution was terminal; nothing changed.
	AlreadyFinished Disposition = "already_finished"
)

type Result struct {
	ExecutionID string
	Status      models.ExecutionStatus
	Disposition Disposition
	Created     bool

	// Steps is the number of steps taken by this invocation.
	Steps int
}

type Dependencies struct {
	Registry   *registry.Registry
	Flows      persistence.FlowRepository
	Executions persistence.ExecutionRepository
	Logs       persistence.LogRepository
	Tenants    protocol.TenantResolver

	// Publisher receives ExecutionSuspended and ExecutionFinished notifications. Optional.
	Publisher eventbus.EventPublisher
}

type Engine struct {
	registry   *registry.Registry
	flows      *flowCache
	executions persistence.ExecutionRepository
	logs       persistence.LogRepository
	tenants    protocol.TenantResolver
	publisher  eventbus.EventPublisher

	config Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Engine)

func WithConfig(config Config) Option {
	return func(e *Engine) {
		defaults := DefaultConfig()

		if config.MaxStepsPerEvent <= 0 {
			config.MaxStepsPerEvent = defaults.MaxStepsPerEvent
		}

		if config.StaleAfter <= 0 {
			config.StaleAfter = defaults.StaleAfter
		}

		if config.MaxConflictRetries < 0 {
			config.MaxConflictRetries = defaults.MaxConflictRetries
		}

		e.config = config
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(deps Dependencies, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry:   deps.Registry,
		flows:      newFlowCache(deps.Flows),
		executions: deps.Executions,
		logs:       deps.Logs,
		tenants:    deps.Tenants,
		publisher:  deps.Publisher,
		config:     DefaultConfig(),
		logger:     logger.With("module", "engine"),
		tracer:     otelhelper.NoopTracer(),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// HandleEvent applies one external event. A lost save race replays the whole event from a
// fresh load; when the retries run out persistence.ErrVersionConflict is returned.
func (e *Engine) HandleEvent(ctx context.Context, event models.Event) (Result, error) {
	if err := validate.Struct(event); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.handle_event",
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.EventTypeKey, string(event.Type)),
		attribute.String(otelhelper.FlowIDKey, event.FlowID),
		attribute.String(otelhelper.ExecutionIDKey, event.ExecutionID),
	)
	defer span.End()

	logger := e.logger.With("event_id", event.ID, "event_type", event.Type)

	var lastErr error

	for attempt := 0; attempt <= e.config.MaxConflictRetries; attempt++ {
		result, err := e.handleOnce(ctx, event, logger)
		if err == nil {
			span.SetAttributes(
				attribute.String(otelhelper.ExecutionIDKey, result.ExecutionID),
				attribute.Int(otelhelper.StepKey, result.Steps),
			)

			return result, nil
		}

		if !errors.Is(err, persistence.ErrVersionConflict) {
			otelhelper.SetError(span, err)

			return Result{}, err
		}

		lastErr = err

		logger.InfoContext(ctx, "Lost execution save race, replaying event", "attempt", attempt+1, "error", err)
	}

	err := fmt.Errorf("event %s gave up after %d conflicts: %w", event.ID, e.config.MaxConflictRetries+1, lastErr)
	otelhelper.SetError(span, err)

	return Result{}, err
}
