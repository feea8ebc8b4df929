package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Dependency classes. Each has default breaker settings overridable through
// CB_<CLASS>_* environment variables.
const (
	ServiceSessionStore = "session-store"
	ServiceDatabase     = "database"
	ServiceGenerator    = "generator"
)

var envPrefixes = map[string]string{
	ServiceSessionStore: "CB_REDIS",
	ServiceDatabase:     "CB_DB",
	ServiceGenerator:    "CB_LLM",
}

var defaultSettings = map[string]Config{
	ServiceSessionStore: {
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	},
	ServiceDatabase: {
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	},
	// Generator calls are slow; stay open longer before probing.
	ServiceGenerator: {
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	},
}

// ConfigFor returns the breaker settings for a dependency class with env
// overrides applied. Unknown classes get DefaultConfig under CB_<CLASS>.
func ConfigFor(service string) Config {
	def, ok := defaultSettings[service]
	if !ok {
		def = DefaultConfig()
	}
	prefix, ok := envPrefixes[service]
	if !ok {
		prefix = "CB_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(service))
	}

	def.MaxRequests = envUint32(prefix+"_MAX_REQUESTS", def.MaxRequests)
	def.Interval = envDuration(prefix+"_INTERVAL", def.Interval)
	def.Timeout = envDuration(prefix+"_TIMEOUT", def.Timeout)
	def.FailureThreshold = envUint32(prefix+"_FAILURE_THRESHOLD", def.FailureThreshold)
	def.SuccessThreshold = envUint32(prefix+"_SUCCESS_THRESHOLD", def.SuccessThreshold)
	return def
}

func envUint32(key string, fallback uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
