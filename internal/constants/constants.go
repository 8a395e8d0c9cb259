package constants

import "time"

const (
	SnapshotTTL = 30 * time.Minute
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	PollerInitialDelay = 2 * time.Second
	PollerMaxDelay     = 8 * time.Second
	PollerBudget       = 60 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// Original backend capped a lobby request at two full teams.
	MaxBatchNicknames = 10
)
