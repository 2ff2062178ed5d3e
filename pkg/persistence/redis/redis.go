// Package redis provides the Redis persistence implementation.
//
// Key layout, under a configurable prefix:
//
//	<prefix>flow:<id>:<version>        => JSON flow definition
//	<prefix>flow:versions:<id>         => ZSET of published versions
//	<prefix>flows                      => SET of flow ids
//	<prefix>exec:<id>                  => JSON {version, state}
//	<prefix>active:<flow id>:<chat id> => ZSET of non-terminal execution ids by update time
//	<prefix>logs:<execution id>        => LIST of JSON log entries
//	<prefix>timer:<job id>             => JSON timer
//	<prefix>timers                     => ZSET of job ids by fire time
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/convoflow/pkg/persistence"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultPrefix = "convoflow:"

type Persistence struct {
	client *goredis.Client
	logger *slog.Logger
	keys   keys

	flowRepo      *FlowRepository
	executionRepo *ExecutionRepository
	logRepo       *LogRepository
	timerRepo     *TimerRepository
}

// NewPersistence connects to the Redis server named by a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := goredis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewPersistenceWithClient(logger, client, DefaultPrefix), nil
}

// NewPersistenceWithClient builds a Persistence over an existing client.
func NewPersistenceWithClient(logger *slog.Logger, client *goredis.Client, prefix string) *Persistence {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	k := keys{prefix: prefix}

	return &Persistence{
		client:        client,
		logger:        logger,
		keys:          k,
		flowRepo:      &FlowRepository{client: client, keys: k},
		executionRepo: &ExecutionRepository{client: client, keys: k, logger: logger},
		logRepo:       &LogRepository{client: client, keys: k},
		timerRepo:     &TimerRepository{client: client, keys: k},
	}
}

func (p *Persistence) Close(_ context.Context) error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) LogRepository() persistence.LogRepository {
	return p.logRepo
}

func (p *Persistence) TimerRepository() persistence.TimerRepository {
	return p.timerRepo
}

type keys struct {
	prefix string
}

func (k keys) join(parts ...string) string {
	return k.prefix + strings.Join(parts, ":")
}

func (k keys) flow(id string, version int) string {
	return k.join("flow", id, fmt.Sprint(version))
}

func (k keys) flowVersions(id string) string { return k.join("flow", "versions", id) }
func (k keys) flows() string                 { return k.join("flows") }
func (k keys) execution(id string) string    { return k.join("exec", id) }

func (k keys) active(flowID, chatID string) string {
	return k.join("active", flowID, chatID)
}

func (k keys) logs(executionID string) string { return k.join("logs", executionID) }
func (k keys) timer(jobID string) string      { return k.join("timer", jobID) }
func (k keys) timers() string                 { return k.join("timers") }
