package behavior

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
)

// RedisKeyPrefix namespaces behavior buckets. Keys are formatted as
// "behavior:{userID}:{signal}".
const RedisKeyPrefix = "behavior:"

// RedisStore is a Store shared between instances. Each bucket is a sorted set
// scored by event time in milliseconds and expires with its window.
type RedisStore struct {
	client rueidis.Client
}

// NewRedisStore creates a store on the given client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func bucketKey(userID string, signal Signal) string {
	return fmt.Sprintf("%s%s:%s", RedisKeyPrefix, userID, signal)
}

// Append records an event and trims the bucket to its window.
func (s *RedisStore) Append(ctx context.Context, userID string, signal Signal, at time.Time, window time.Duration) error {
	key := bucketKey(userID, signal)
	cutoff := at.Add(-window).UnixMilli()

	cmds := make(rueidis.Commands, 0, 3)
	cmds = append(cmds,
		s.client.B().Zadd().Key(key).ScoreMember().
			ScoreMember(float64(at.UnixMilli()), uuid.NewString()).Build(),
		s.client.B().Zremrangebyscore().Key(key).
			Min("-inf").Max("("+strconv.FormatInt(cutoff, 10)).Build(),
		s.client.B().Pexpire().Key(key).Milliseconds(window.Milliseconds()).Build(),
	)

	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to append behavior event: %w", err)
		}
	}

	return nil
}

// Count returns the events scored at or after since.
func (s *RedisStore) Count(ctx context.Context, userID string, signal Signal, since time.Time) (int, error) {
	count, err := s.client.Do(ctx, s.client.B().Zcount().
		Key(bucketKey(userID, signal)).
		Min(strconv.FormatInt(since.UnixMilli(), 10)).
		Max("+inf").
		Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to count behavior events: %w", err)
	}

	return int(count), nil
}

// Evict trims every bucket to its cutoff. Empty sorted sets are deleted by
// Redis itself, so a bucket counts as removed when nothing is left.
func (s *RedisStore) Evict(ctx context.Context, cutoffs map[Signal]time.Time) (int, error) {
	var (
		cursor  uint64
		removed int
	)

	for {
		entry, err := s.client.Do(ctx, s.client.B().Scan().
			Cursor(cursor).
			Match(RedisKeyPrefix+"*").
			Count(100).
			Build()).AsScanEntry()
		if err != nil {
			return removed, fmt.Errorf("failed to scan behavior keys: %w", err)
		}

		for _, key := range entry.Elements {
			signal := Signal(key[strings.LastIndex(key, ":")+1:])

			cutoff, ok := cutoffs[signal]
			if !ok {
				continue
			}

			resps := s.client.DoMulti(ctx,
				s.client.B().Zremrangebyscore().Key(key).
					Min("-inf").Max("("+strconv.FormatInt(cutoff.UnixMilli(), 10)).Build(),
				s.client.B().Zcard().Key(key).Build(),
			)

			if err := resps[0].Error(); err != nil {
				return removed, fmt.Errorf("failed to trim behavior key %s: %w", key, err)
			}

			left, err := resps[1].AsInt64()
			if err != nil {
				return removed, fmt.Errorf("failed to evict behavior key %s: %w", key, err)
			}

			if left == 0 {
				removed++
			}
		}

		cursor = entry.Cursor
		if cursor == 0 {
			return removed, nil
		}
	}
}
