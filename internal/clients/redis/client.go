package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/myshop-backend/internal/platform/logger"
)

type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ErrUnreachable marks a startup ping failure. The client returned alongside
// it is still usable; go-redis redials on the next command.
var ErrUnreachable = errors.New("redis unreachable")

// NewClient builds a client and pings it once. On a failed ping the client is
// returned together with an error wrapping ErrUnreachable so the caller can
// decide whether Redis is optional.
func NewClient(log *logger.Logger, cfg Config) (*goredis.Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return rdb, fmt.Errorf("%w: ping %s: %v", ErrUnreachable, addr, err)
	}

	log.With("service", "Redis").Info("Connected to Redis", "addr", addr, "db", cfg.DB)
	return rdb, nil
}
