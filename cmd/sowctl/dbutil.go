package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sowflow/sowflow/modules/sow"
	"github.com/sowflow/sowflow/modules/sow/infrastructure/cache"
	"github.com/sowflow/sowflow/pkg/composables"
	"github.com/sowflow/sowflow/pkg/configuration"
)

// session is an open pool plus the services built over it.
type session struct {
	ctx      context.Context
	services *sow.Services
	close    func()
}

func connect(ctx context.Context) (*session, error) {
	conf := configuration.Use()

	connectCtx, cancel := context.WithTimeout(ctx, conf.Database.Timeout)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db connect failed: %w", err)
	}

	closers := []func(){pool.Close, conf.Unload}
	// Stage edits must invalidate the same cache the server reads.
	var kv cache.KV
	if conf.RedisURL != "" {
		opts, err := redis.ParseURL(conf.RedisURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		kv = client
		closers = append(closers, func() { _ = client.Close() })
	}

	return &session{
		ctx:      composables.WithPool(ctx, pool),
		services: sow.BuildServices(conf, conf.Logger(), kv, nil),
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}
