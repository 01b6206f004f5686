package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/sowflow/sowflow/pkg/application"
	"github.com/sowflow/sowflow/pkg/composables"
	"github.com/sowflow/sowflow/pkg/configuration"
	"github.com/sowflow/sowflow/pkg/constants"
	"github.com/sowflow/sowflow/pkg/httpapi"
	"github.com/sowflow/sowflow/pkg/middleware"
	"github.com/sowflow/sowflow/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Application   application.Application
	Pool          *pgxpool.Pool
}

func Default(options *DefaultOptions) (*server.HTTPServer, error) {
	app := options.Application
	conf := options.Configuration

	loggerOpts := middleware.DefaultLoggerOptions()
	loggerOpts.RequestIDHeader = conf.RequestIDHeader
	loggerOpts.RealIPHeader = conf.RealIPHeader

	middlewares := []mux.MiddlewareFunc{
		// Creates the root span for each request.
		middleware.WithLogger(options.Logger, loggerOpts),

		middleware.TracedMiddleware("database"),
		middleware.Provide(constants.AppKey, app),
		middleware.Provide(constants.PoolKey, options.Pool),

		middleware.TracedMiddleware("cors"),
		middleware.Cors(conf.AllowedOrigins()...),

		middleware.TracedMiddleware("actor"),
		middleware.WithActor(conf.ActorHeader),
	}

	if conf.RateLimit.Enabled {
		var store limiter.Store
		var err error

		switch conf.RateLimit.Storage {
		case "redis":
			store, err = middleware.NewRedisStore(conf.RateLimit.RedisURL)
			if err != nil {
				options.Logger.WithError(err).Warn("Failed to create Redis store for rate limiting, falling back to memory")
				store = middleware.NewMemoryStore()
			}
		default:
			store = middleware.NewMemoryStore()
		}

		middlewares = append(middlewares,
			middleware.TracedMiddleware("rateLimit"),
			middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerPeriod: conf.RateLimit.GlobalRPS,
				Store:             store,
				KeyHeader:         conf.RealIPHeader,
			}),
		)
	}

	app.RegisterMiddleware(middlewares...)

	return server.NewHTTPServer(app, NotFound(), MethodNotAllowed()), nil
}

func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, http.StatusNotFound, "NOT_FOUND", "not found")
	})
}

func MethodNotAllowed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
}

func writeRouteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	meta := map[string]string{"path": r.URL.Path, "method": r.Method}
	if id := composables.UseRequestID(r.Context()); id != "" {
		meta["request_id"] = id
	}
	_ = httpapi.WriteError(w, status, code, message, meta)
}
