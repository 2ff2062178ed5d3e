package redis

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/persistencetest"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

const testPrefix = "convoflow:test:"

func TestPersistence_Conformance(t *testing.T) {
	addr := testutil.RedisAddress(t)

	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		client := goredis.NewClient(&goredis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })

		return NewPersistenceWithClient(slog.Default(), client, testPrefix+uuid.New().String()+":")
	})
}

type RedisPersistenceTestSuite struct {
	suite.Suite
	client *goredis.Client
	store  *Persistence
	ctx    context.Context
}

func TestRedisPersistenceSuite(t *testing.T) {
	s := new(RedisPersistenceTestSuite)

	s.client = goredis.NewClient(&goredis.Options{Addr: testutil.RedisAddress(t)})
	t.Cleanup(func() { _ = s.client.Close() })

	s.ctx = context.Background()
	if err := s.client.Ping(s.ctx).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}

	s.store = NewPersistenceWithClient(slog.Default(), s.client, testPrefix)

	suite.Run(t, s)
}

func (s *RedisPersistenceTestSuite) SetupTest() {
	iter := s.client.Scan(s.ctx, 0, testPrefix+"*", 0).Iterator()
	for iter.Next(s.ctx) {
		err := s.client.Del(s.ctx, iter.Val()).Err()
		s.NoErrorf(err, "redis DEL %q failed: %v", iter.Val(), err)
	}

	s.NoError(iter.Err(), "redis SCAN failed")
}

func (s *RedisPersistenceTestSuite) TestConcurrentSavesConflict() {
	repo := s.store.ExecutionRepository()

	state, version, err := repo.Create(s.ctx, models.NewExecution{FlowID: "f", EntryNodeID: "start", ChatID: "1"})
	s.Require().NoError(err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)

	for i := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			copyState := state.Clone()
			copyState.StepCount = i + 1
			copyState.UpdatedAt = time.Now().UTC()

			_, err := repo.Save(s.ctx, copyState, version)

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				succeeded++
			} else if persistence.IsVersionConflict(err) {
				conflicts++
			}
		}()
	}

	wg.Wait()

	s.Equal(1, succeeded)
	s.Equal(7, conflicts)
}

func (s *RedisPersistenceTestSuite) TestTerminalSaveLeavesActiveIndex() {
	repo := s.store.ExecutionRepository()

	state, version, err := repo.Create(s.ctx, models.NewExecution{FlowID: "f", EntryNodeID: "start", ChatID: "1"})
	s.Require().NoError(err)

	state.Finish(models.ExecutionCompleted, nil, time.Now().UTC())
	_, err = repo.Save(s.ctx, state, version)
	s.Require().NoError(err)

	members, err := s.client.ZRange(s.ctx, s.store.keys.active("f", "1"), 0, -1).Result()
	s.Require().NoError(err)
	s.Empty(members)
}
