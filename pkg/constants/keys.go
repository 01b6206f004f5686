package constants

type ContextKey string

const (
	TxKey        ContextKey = "tx"
	PoolKey      ContextKey = "pool"
	LoggerKey    ContextKey = "logger"
	RequestStart ContextKey = "request_start"
	RequestIDKey ContextKey = "request_id"
	ActorKey     ContextKey = "actor"
	AppKey       ContextKey = "app"
)
