package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/adaptivefw/adaptivefw/internal/core"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore keeps the active rules in a hash (source_id -> record) and the
// audit log in a list. Each cycle is applied in one MULTI/EXEC block.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

type redisRule struct {
	Seq  int64     `json:"seq"`
	Rule core.Rule `json:"rule"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, db int, prefix string, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	s := &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}
	s.logger.Info().Str("addr", addr).Int("db", db).Msg("redis store connected")
	return s, nil
}

func (s *RedisStore) rulesKey() string { return s.prefix + ":rules" }
func (s *RedisStore) auditKey() string { return s.prefix + ":audit" }

// Commit applies one cycle's entries atomically. Insertion sequence numbers
// come from the audit list length, so a replaced rule keeps its original seq.
func (s *RedisStore) Commit(ctx context.Context, entries []core.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	base, err := s.client.LLen(ctx, s.auditKey()).Result()
	if err != nil {
		return fmt.Errorf("read audit length: %w", err)
	}
	existing, err := s.existingSeqs(ctx, entries)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, e := range entries {
			mut, err := mutationFor(e.Kind)
			if err != nil {
				return err
			}

			switch mut {
			case mutUpsert:
				seq, ok := existing[e.Rule.SourceID]
				if !ok {
					seq = base + int64(i) + 1
					existing[e.Rule.SourceID] = seq
				}
				data, err := json.Marshal(redisRule{Seq: seq, Rule: e.Rule})
				if err != nil {
					return fmt.Errorf("marshal rule %s: %w", e.Rule.SourceID, err)
				}
				pipe.HSet(ctx, s.rulesKey(), e.Rule.SourceID, data)
			case mutDelete:
				delete(existing, e.Rule.SourceID)
				pipe.HDel(ctx, s.rulesKey(), e.Rule.SourceID)
			}

			data, err := e.Marshal()
			if err != nil {
				return fmt.Errorf("marshal audit entry %s: %w", e.ID, err)
			}
			pipe.RPush(ctx, s.auditKey(), data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis cycle transaction: %w", err)
	}

	s.logger.Debug().Int("entries", len(entries)).Msg("cycle committed")
	return nil
}

func (s *RedisStore) existingSeqs(ctx context.Context, entries []core.AuditEntry) (map[string]int64, error) {
	fields := make([]string, 0, len(entries))
	for _, e := range entries {
		fields = append(fields, e.Rule.SourceID)
	}
	vals, err := s.client.HMGet(ctx, s.rulesKey(), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("read existing rules: %w", err)
	}

	seqs := make(map[string]int64, len(fields))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec redisRule
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode rule %s: %w", fields[i], err)
		}
		seqs[fields[i]] = rec.Seq
	}
	return seqs, nil
}

// Load returns the persisted rules in insertion order and the full audit log.
func (s *RedisStore) Load(ctx context.Context) ([]core.Rule, []core.AuditEntry, error) {
	raw, err := s.client.HGetAll(ctx, s.rulesKey()).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("load rules: %w", err)
	}
	records := make([]redisRule, 0, len(raw))
	for id, data := range raw {
		var rec redisRule
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, nil, fmt.Errorf("decode rule %s: %w", id, err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	rules := make([]core.Rule, 0, len(records))
	for _, rec := range records {
		rules = append(rules, rec.Rule)
	}

	items, err := s.client.LRange(ctx, s.auditKey(), 0, -1).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("load audit log: %w", err)
	}
	entries := make([]core.AuditEntry, 0, len(items))
	for _, data := range items {
		var e core.AuditEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return rules, entries, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
