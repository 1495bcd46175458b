// Package storage keeps finished run records in a NATS KV bucket so they
// can be looked up by run ID after the stream has closed.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/bloom/pipeline"
)

// DefaultRunBucket is the KV bucket run records are stored in.
const DefaultRunBucket = "BLOOM_RUNS"

// DefaultRunTTL bounds how long a run record is kept.
const DefaultRunTTL = 7 * 24 * time.Hour

// validKey matches the characters NATS allows in KV keys.
var validKey = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

// RunStore stores run records keyed by run ID.
type RunStore struct {
	kv     jetstream.KeyValue
	logger *slog.Logger
}

// Option configures a RunStore.
type Option func(*options)

type options struct {
	bucket string
	ttl    time.Duration
	logger *slog.Logger
}

// WithBucket overrides the bucket name.
func WithBucket(name string) Option {
	return func(o *options) {
		if name != "" {
			o.bucket = name
		}
	}
}

// WithTTL overrides the record lifetime. Zero keeps records forever.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		o.ttl = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewRunStore opens the run bucket, creating it if it doesn't exist.
func NewRunStore(ctx context.Context, js jetstream.JetStream, opts ...Option) (*RunStore, error) {
	o := options{bucket: DefaultRunBucket, ttl: DefaultRunTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	kv, err := getOrCreateBucket(ctx, js, o.bucket, o.ttl)
	if err != nil {
		return nil, fmt.Errorf("open run bucket %s: %w", o.bucket, err)
	}
	return newRunStore(kv, o.logger), nil
}

func newRunStore(kv jetstream.KeyValue, logger *slog.Logger) *RunStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunStore{kv: kv, logger: logger}
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Bloom pipeline run records",
		History:     1,
		TTL:         ttl,
	})
}

// Record stores rec under its run ID. It satisfies pipeline.RunSink.
func (s *RunStore) Record(ctx context.Context, rec *pipeline.RunRecord) error {
	if !validKey.MatchString(rec.RunID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, rec.RunID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	if _, err := s.kv.Put(ctx, rec.RunID, data); err != nil {
		return fmt.Errorf("store run record: %w", err)
	}
	s.logger.Debug("Run record stored", "run_id", rec.RunID)
	return nil
}

// Get retrieves a run record by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*pipeline.RunRecord, error) {
	if !validKey.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run record: %w", err)
	}

	var rec pipeline.RunRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("decode run record: %w", err)
	}
	return &rec, nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns all of them.
func (s *RunStore) List(ctx context.Context, limit int) ([]*pipeline.RunRecord, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []*pipeline.RunRecord{}, nil
		}
		return nil, fmt.Errorf("list run keys: %w", err)
	}

	runs := make([]*pipeline.RunRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := s.Get(ctx, key)
		if err != nil {
			s.logger.Debug("Skipping unreadable run record", "key", key, "error", err)
			continue
		}
		runs = append(runs, rec)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
