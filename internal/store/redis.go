package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by the Redis store.
const DefaultRedisPrefix = "solace"

// maxApplyAttempts bounds optimistic-lock retries when two writers race on
// the same user's statistics key.
const maxApplyAttempts = 8

// Redis stores each per-user log as a list of JSON records and the derived
// statistics as a JSON string. Keys:
//
//	{prefix}:users                          set of known user ids
//	{prefix}:user:{id}:interactions         list
//	{prefix}:user:{id}:emotions             list
//	{prefix}:user:{id}:stages               list
//	{prefix}:user:{id}:densities            list
//	{prefix}:user:{id}:alerts               list
//	{prefix}:user:{id}:stats                string
type Redis struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing client. The caller keeps ownership of it.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// OpenRedis dials addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	r := NewRedis(client, prefix)
	r.owned = true
	return r, nil
}

func (r *Redis) usersKey() string { return r.prefix + ":users" }

func (r *Redis) key(userID, kind string) string {
	return fmt.Sprintf("%s:user:%s:%s", r.prefix, userID, kind)
}

// Apply appends the batch records and rewrites the statistics under WATCH,
// so a concurrent writer for the same user forces a retry instead of a lost
// update.
func (r *Redis) Apply(ctx context.Context, userID string, b Batch) error {
	if b.Empty() {
		return nil
	}

	statsKey := r.key(userID, "stats")
	txf := func(tx *redis.Tx) error {
		stats, err := r.readStats(ctx, tx, statsKey)
		if err != nil {
			return err
		}
		stats.Apply(b)
		encoded, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("encode statistics: %w", err)
		}

		pushes := make(map[string]any, 5)
		if b.Interaction != nil {
			rec := *b.Interaction
			rec.BatchID = b.ID
			pushes["interactions"] = rec
		}
		if b.Emotion != nil {
			rec := *b.Emotion
			rec.BatchID = b.ID
			if rec.Source == "" {
				rec.Source = SourceMessage
			}
			pushes["emotions"] = rec
		}
		if b.Stage != nil {
			rec := *b.Stage
			rec.BatchID = b.ID
			pushes["stages"] = rec
		}
		if b.Density != nil {
			rec := *b.Density
			rec.BatchID = b.ID
			pushes["densities"] = rec
		}
		if b.Alert != nil {
			rec := *b.Alert
			rec.BatchID = b.ID
			pushes["alerts"] = rec
		}

		payloads := make(map[string][]byte, len(pushes))
		for kind, rec := range pushes {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode %s record: %w", kind, err)
			}
			payloads[kind] = data
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, r.usersKey(), userID)
			for kind, data := range payloads {
				pipe.RPush(ctx, r.key(userID, kind), data)
			}
			pipe.Set(ctx, statsKey, encoded, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, statsKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("apply batch: %w", err)
		}
	}
	return fmt.Errorf("apply batch: %w", redis.TxFailedErr)
}

func (r *Redis) readStats(ctx context.Context, c getter, statsKey string) (*Statistics, error) {
	raw, err := c.Get(ctx, statsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Statistics{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}
	return decodeStats(raw)
}

// getter is satisfied by clients and by *redis.Tx inside WATCH.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func decodeStats(raw []byte) (*Statistics, error) {
	var s Statistics
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode statistics: %w", err)
	}
	return &s, nil
}

// LoadUserState reads every list and the statistics in one MULTI/EXEC
// block.
func (r *Redis) LoadUserState(ctx context.Context, userID string) (*UserState, error) {
	var (
		interactions, emotions, stages, densities, alerts *redis.StringSliceCmd
		stats                                             *redis.StringCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		interactions = pipe.LRange(ctx, r.key(userID, "interactions"), 0, -1)
		emotions = pipe.LRange(ctx, r.key(userID, "emotions"), 0, -1)
		stages = pipe.LRange(ctx, r.key(userID, "stages"), 0, -1)
		densities = pipe.LRange(ctx, r.key(userID, "densities"), 0, -1)
		alerts = pipe.LRange(ctx, r.key(userID, "alerts"), 0, -1)
		stats = pipe.Get(ctx, r.key(userID, "stats"))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load user state: %w", err)
	}

	st := NewUserState(userID)
	if st.Interactions, err = decodeList[Interaction](interactions.Val()); err != nil {
		return nil, err
	}
	if st.Emotions, err = decodeList[EmotionSample](emotions.Val()); err != nil {
		return nil, err
	}
	if st.Stages, err = decodeList[StageSample](stages.Val()); err != nil {
		return nil, err
	}
	if st.Densities, err = decodeList[DensitySample](densities.Val()); err != nil {
		return nil, err
	}
	if st.Alerts, err = decodeList[Alert](alerts.Val()); err != nil {
		return nil, err
	}

	if raw := stats.Val(); raw != "" {
		s, err := decodeStats([]byte(raw))
		if err != nil {
			return nil, err
		}
		st.Statistics = *s
	}
	st.Statistics.RecentStageCounts = CountStages(st.RecentStages())
	return st, nil
}

// Statistics reads the counters and the recent stage window atomically.
func (r *Redis) Statistics(ctx context.Context, userID string) (*Statistics, error) {
	w, err := r.StageWindow(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &w.Statistics, nil
}

// StageWindow reads the statistics and the last RecentWindow stage samples
// in one MULTI/EXEC block.
func (r *Redis) StageWindow(ctx context.Context, userID string) (*StageWindow, error) {
	var (
		stats  *redis.StringCmd
		recent *redis.StringSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		stats = pipe.Get(ctx, r.key(userID, "stats"))
		recent = pipe.LRange(ctx, r.key(userID, "stages"), -RecentWindow, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load statistics: %w", err)
	}

	s := &Statistics{}
	if raw := stats.Val(); raw != "" {
		if s, err = decodeStats([]byte(raw)); err != nil {
			return nil, err
		}
	}
	samples, err := decodeList[StageSample](recent.Val())
	if err != nil {
		return nil, err
	}
	s.RecentStageCounts = CountStages(samples)
	return &StageWindow{Statistics: *s, Recent: samples}, nil
}

// EmotionHistory returns emotion samples recorded at or after since.
func (r *Redis) EmotionHistory(ctx context.Context, userID string, since time.Time) ([]EmotionSample, error) {
	all, err := r.tail(ctx, r.key(userID, "emotions"), 0)
	if err != nil {
		return nil, err
	}
	samples, err := decodeList[EmotionSample](all)
	if err != nil {
		return nil, err
	}
	out := samples[:0]
	for _, s := range samples {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

// StageTrajectory returns the last limit stage samples, oldest first.
func (r *Redis) StageTrajectory(ctx context.Context, userID string, limit int) ([]StageSample, error) {
	raw, err := r.tail(ctx, r.key(userID, "stages"), limit)
	if err != nil {
		return nil, err
	}
	return decodeList[StageSample](raw)
}

// RecentInteractions returns the last limit interactions, oldest first.
func (r *Redis) RecentInteractions(ctx context.Context, userID string, limit int) ([]Interaction, error) {
	raw, err := r.tail(ctx, r.key(userID, "interactions"), limit)
	if err != nil {
		return nil, err
	}
	return decodeList[Interaction](raw)
}

// LatestEmotion returns the newest emotion sample, or nil.
func (r *Redis) LatestEmotion(ctx context.Context, userID string) (*EmotionSample, error) {
	raw, err := r.client.LIndex(ctx, r.key(userID, "emotions"), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest emotion: %w", err)
	}
	var e EmotionSample
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode emotion sample: %w", err)
	}
	return &e, nil
}

// CountUsers returns the number of users with at least one record.
func (r *Redis) CountUsers(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.usersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return int(n), nil
}

// Ping verifies the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Kind names the backend.
func (r *Redis) Kind() string { return "redis" }

// Close closes the client if the store opened it.
func (r *Redis) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}

func (r *Redis) tail(ctx context.Context, key string, limit int) ([]string, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	vals, err := r.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return vals, nil
}

func decodeList[T any](raw []string) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, s := range raw {
		var v T
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
