package scorestore

import (
	"context"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

// DefaultTempTTL bounds how long a union result can outlive a crashed reader.
const DefaultTempTTL = 30 * time.Second

type redisStore struct {
	rdb     goredis.UniversalClient
	log     *logger.Logger
	tempTTL time.Duration
}

func NewRedisStore(rdb goredis.UniversalClient, baseLog *logger.Logger, tempTTL time.Duration) Store {
	if tempTTL <= 0 {
		tempTTL = DefaultTempTTL
	}
	return &redisStore{
		rdb:     rdb,
		log:     baseLog.With("service", "RedisScoreStore"),
		tempTTL: tempTTL,
	}
}

func (s *redisStore) Increment(ctx context.Context, key string, member string, delta float64) error {
	if err := s.rdb.ZIncrBy(ctx, key, delta, member).Err(); err != nil {
		return unavailable("zincrby", key, err)
	}
	return nil
}

func (s *redisStore) RangeDescending(ctx context.Context, key string, offset int, limit int) ([]Entry, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, int64(offset), stop).Result()
	if err != nil {
		return nil, unavailable("zrevrange", key, err)
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, Entry{Member: member, Score: z.Score})
	}
	return out, nil
}

// UnionInto runs ZUNIONSTORE with SUM aggregation and an expiry on dest in one
// MULTI block, so a reader that dies before Delete never leaks the key.
func (s *redisStore) UnionInto(ctx context.Context, dest string, sources ...string) error {
	if len(sources) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZUnionStore(ctx, dest, &goredis.ZStore{Keys: sources, Aggregate: "SUM"})
		pipe.Expire(ctx, dest, s.tempTTL)
		return nil
	})
	if err != nil {
		return unavailable("zunionstore", dest+" <- "+strings.Join(sources, ","), err)
	}
	s.log.Debug("Union stored", "dest", dest, "sources", len(sources), "ttl", s.tempTTL)
	return nil
}

func (s *redisStore) RemoveMembers(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(members))
	for _, m := range members {
		args = append(args, m)
	}
	if err := s.rdb.ZRem(ctx, key, args...).Err(); err != nil {
		return unavailable("zrem", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return unavailable("del", strings.Join(keys, ","), err)
	}
	return nil
}
