package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/sowflow/sowflow/pkg/httpapi"
)

type RateLimitConfig struct {
	RequestsPerPeriod int
	Period            time.Duration
	Store             limiter.Store
	// KeyHeader identifies the client; the remote address is used when empty.
	KeyHeader string
}

func NewMemoryStore() limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "sowflow_rl",
		CleanUpInterval: time.Minute,
	})
}

func NewRedisStore(redisURL string) (limiter.Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return sredis.NewStoreWithOptions(redis.NewClient(opts), limiter.StoreOptions{
		Prefix: "sowflow_rl",
	})
}

// RateLimit caps requests per client per period and answers 429 with the
// standard error envelope.
func RateLimit(cfg RateLimitConfig) mux.MiddlewareFunc {
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	lim := limiter.New(cfg.Store, limiter.Rate{Period: cfg.Period, Limit: int64(cfg.RequestsPerPeriod)})

	options := []stdlib.Option{
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			_ = httpapi.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
		}),
	}
	if cfg.KeyHeader != "" {
		header := cfg.KeyHeader
		options = append(options, stdlib.WithKeyGetter(func(r *http.Request) string {
			if v := r.Header.Get(header); v != "" {
				return v
			}
			return lim.GetIPKey(r)
		}))
	}
	return stdlib.NewMiddleware(lim, options...).Handler
}
