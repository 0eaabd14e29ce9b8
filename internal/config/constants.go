package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = time.Minute

// Websocket limits for the telemetry transport. Live client payloads
// (roster plus active player) stay well under this.
const (
	TelemetryReadLimit    = 512 * 1024
	TelemetryWriteTimeout = 5 * time.Second
)

// Default rate limiting
const DefaultRateLimitPerMin = 60

// Upper bound on a single analyzer, tip source or renderer webhook call
const CollaboratorTimeout = 30 * time.Second

// Largest accepted bot command body
const CommandBodyLimit = 64 * 1024
