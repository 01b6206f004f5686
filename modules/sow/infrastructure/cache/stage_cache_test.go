package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/sowflow/sowflow/modules/sow/domain/stage"
)

type memKV struct {
	data   map[string]string
	getErr error
	sets   int
	ttl    time.Duration
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (m *memKV) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.getErr != nil {
		return redis.NewStringResult("", m.getErr)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memKV) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.sets++
	m.ttl = expiration
	m.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (m *memKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(m.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

type countingRepo struct {
	stages []stage.Stage
	calls  int
}

func (c *countingRepo) ListActive(ctx context.Context) ([]stage.Stage, error) {
	c.calls++
	return c.stages, nil
}
func (c *countingRepo) ListAll(ctx context.Context) ([]stage.Stage, error) { return c.stages, nil }
func (c *countingRepo) UpsertByName(ctx context.Context, s *stage.Stage) (*stage.Stage, error) {
	return s, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestStageRepository_CachesActiveStages(t *testing.T) {
	inner := &countingRepo{stages: []stage.Stage{{ID: uuid.New(), Name: "Legal", SortOrder: 1, Active: true}}}
	kv := newMemKV()
	repo := NewStageRepository(inner, kv, time.Minute, quietLogger())

	first, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	second, err := repo.ListActive(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, inner.calls)
	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, time.Minute, kv.ttl)
}

func TestStageRepository_UpsertInvalidates(t *testing.T) {
	inner := &countingRepo{stages: []stage.Stage{{ID: uuid.New(), Name: "Legal", SortOrder: 1, Active: true}}}
	kv := newMemKV()
	repo := NewStageRepository(inner, kv, time.Minute, quietLogger())

	_, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	_, err = repo.UpsertByName(context.Background(), &stage.Stage{Name: "Finance"})
	require.NoError(t, err)
	_, err = repo.ListActive(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, inner.calls)
}

func TestStageRepository_FallsBackOnRedisError(t *testing.T) {
	inner := &countingRepo{stages: []stage.Stage{{ID: uuid.New(), Name: "Legal"}}}
	kv := newMemKV()
	kv.getErr = errors.New("connection refused")
	repo := NewStageRepository(inner, kv, 0, quietLogger())

	stages, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, stages, 1)
	require.Equal(t, 5*time.Minute, kv.ttl)
}

func TestStageRepository_IgnoresCorruptEntry(t *testing.T) {
	inner := &countingRepo{stages: []stage.Stage{{ID: uuid.New(), Name: "Legal"}}}
	kv := newMemKV()
	kv.data[activeStagesKey] = "not json"
	repo := NewStageRepository(inner, kv, time.Minute, quietLogger())

	stages, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, stages, 1)

	var cached []stage.Stage
	require.NoError(t, json.Unmarshal([]byte(kv.data[activeStagesKey]), &cached))
	require.Equal(t, "Legal", cached[0].Name)
}
