package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/bloom/pipeline"
	"github.com/c360studio/bloom/task"
)

var _ pipeline.RunSink = (*RunStore)(nil)

// memKV is an in-memory stand-in for the KV methods RunStore uses.
type memKV struct {
	jetstream.KeyValue

	mu      sync.Mutex
	entries map[string][]byte
	putErr  error
}

func newMemKV() *memKV {
	return &memKV{entries: make(map[string][]byte)}
}

func (m *memKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return 0, m.putErr
	}
	m.entries[key] = append([]byte(nil), value...)
	return uint64(len(m.entries)), nil
}

func (m *memKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return memEntry{key: key, value: v}, nil
}

func (m *memKV) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

type memEntry struct {
	jetstream.KeyValueEntry
	key   string
	value []byte
}

func (e memEntry) Key() string   { return e.key }
func (e memEntry) Value() []byte { return e.value }

func record(id string, started time.Time) *pipeline.RunRecord {
	return &pipeline.RunRecord{
		RunID:     id,
		Route:     &pipeline.Route{Pillar: task.PillarMind, Action: "mood_checkin"},
		Steps:     []string{"router", "mind"},
		Outcome:   pipeline.OutcomeSuccess,
		StartedAt: started,
	}
}

func TestRunStore_RecordAndGet(t *testing.T) {
	s := newRunStore(newMemKV(), nil)
	ctx := context.Background()
	started := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, record("3f0c6a2e-1111-4c3b-9a55-000000000001", started)))

	got, err := s.Get(ctx, "3f0c6a2e-1111-4c3b-9a55-000000000001")
	require.NoError(t, err)
	assert.Equal(t, "mind.mood_checkin", got.Route.Name())
	assert.Equal(t, []string{"router", "mind"}, got.Steps)
	assert.True(t, got.StartedAt.Equal(started))
}

func TestRunStore_NotFound(t *testing.T) {
	s := newRunStore(newMemKV(), nil)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunStore_InvalidID(t *testing.T) {
	s := newRunStore(newMemKV(), nil)
	ctx := context.Background()

	_, err := s.Get(ctx, "has space")
	assert.ErrorIs(t, err, ErrInvalidID)

	err = s.Record(ctx, record("", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestRunStore_PutError(t *testing.T) {
	kv := newMemKV()
	kv.putErr = errors.New("bucket gone")
	s := newRunStore(kv, nil)

	err := s.Record(context.Background(), record("run-1", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestRunStore_List(t *testing.T) {
	kv := newMemKV()
	s := newRunStore(kv, nil)
	ctx := context.Background()

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(ctx, record("run-a", base)))
	require.NoError(t, s.Record(ctx, record("run-c", base.Add(2*time.Minute))))
	require.NoError(t, s.Record(ctx, record("run-b", base.Add(time.Minute))))
	kv.entries["garbage"] = []byte("{not json")

	runs, err = s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-b", runs[1].RunID)
	assert.Equal(t, "run-a", runs[2].RunID)

	runs, err = s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
