package types

type RunMode string

const (
	// ModeLocal is the mode for running the API server locally
	ModeLocal RunMode = "local"
	// ModeAPI is the mode for running the API server in a deployed environment
	ModeAPI RunMode = "api"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// CacheBackend selects where exchange rates are cached
type CacheBackend string

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

// SideEffectMode controls whether side effects finish before the response is returned
type SideEffectMode string

const (
	SideEffectModeSync  SideEffectMode = "sync"
	SideEffectModeAsync SideEffectMode = "async"
)
