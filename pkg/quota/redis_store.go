package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// consumeRetryAttempts bounds the optimistic retry loop before surfacing
// ErrConcurrentUpdate to the caller.
const consumeRetryAttempts = 3

var (
	errRedisNoEntry      = errors.New("no entry")
	errRedisInsufficient = errors.New("insufficient balance")
)

// redisStore implements Store on Redis hashes. Each entry is a hash keyed by
// subscription and code; an index set per subscription supports List.
// Consume uses WATCH-based optimistic concurrency: a concurrent writer aborts
// the transaction and the withdrawal is retried against the fresh balance.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore returns a quota Store backed by Redis.
// Panics if client is nil to fail fast during initialization.
func NewRedisStore(client *redis.Client) Store {
	if client == nil {
		panic("quota: redis client is required")
	}
	return &redisStore{client: client}
}

func entryRedisKey(subscriptionID uuid.UUID, code string) string {
	return "quota:" + subscriptionID.String() + ":" + code
}

func indexRedisKey(subscriptionID uuid.UUID) string {
	return "quota:" + subscriptionID.String()
}

func (s *redisStore) Create(ctx context.Context, entry *Entry) error {
	key := entryRedisKey(entry.SubscriptionID, entry.Code)

	// HSetNX on the id field doubles as the existence check.
	created, err := s.client.HSetNX(ctx, key, "id", entry.ID.String()).Result()
	if err != nil {
		return fmt.Errorf("failed to create quota entry: %w", err)
	}
	if !created {
		return ErrEntryExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "available", entry.Available, "used", entry.Used)
		pipe.SAdd(ctx, indexRedisKey(entry.SubscriptionID), entry.Code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store quota entry: %w", err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, subscriptionID uuid.UUID, code string) (*Entry, error) {
	fields, err := s.client.HGetAll(ctx, entryRedisKey(subscriptionID, code)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load quota entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrEntryNotFound
	}
	return parseEntry(subscriptionID, code, fields)
}

func (s *redisStore) List(ctx context.Context, subscriptionID uuid.UUID) ([]Entry, error) {
	codes, err := s.client.SMembers(ctx, indexRedisKey(subscriptionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list quota entries: %w", err)
	}

	var entries []Entry
	for _, code := range codes {
		entry, err := s.Get(ctx, subscriptionID, code)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (s *redisStore) Consume(ctx context.Context, subscriptionID uuid.UUID, code string, qty int64) (bool, error) {
	key := entryRedisKey(subscriptionID, code)

	withdraw := func(tx *redis.Tx) error {
		available, err := tx.HGet(ctx, key, "available").Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return errRedisNoEntry
			}
			return err
		}
		if qty > available {
			return errRedisInsufficient
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "available", -qty)
			pipe.HIncrBy(ctx, key, "used", qty)
			return nil
		})
		return err
	}

	for i := 0; i < consumeRetryAttempts; i++ {
		err := s.client.Watch(ctx, withdraw, key)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, errRedisNoEntry), errors.Is(err, errRedisInsufficient):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			continue // contended, re-read the balance
		default:
			return false, fmt.Errorf("failed to consume quota: %w", err)
		}
	}
	return false, ErrConcurrentUpdate
}

func parseEntry(subscriptionID uuid.UUID, code string, fields map[string]string) (*Entry, error) {
	entry := &Entry{SubscriptionID: subscriptionID, Code: code}

	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse quota entry id: %w", err)
	}
	entry.ID = id

	if entry.Available, err = strconv.ParseInt(fields["available"], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse quota balance: %w", err)
	}
	if entry.Used, err = strconv.ParseInt(fields["used"], 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse quota usage: %w", err)
	}
	return entry, nil
}
