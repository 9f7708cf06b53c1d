package usecase

import "time"

const (
	// MaxEntriesPerCommit caps one push transaction: that many entry puts
	// plus the balance write stay within a 100-op transaction ceiling.
	MaxEntriesPerCommit = 99

	// MaxDeletesPerCommit caps one delete transaction: each delete spends
	// three ops (delete, archive, revert) plus the shared balance write.
	MaxDeletesPerCommit = 33

	// DefaultParallelism bounds how many account groups are processed
	// concurrently within one request.
	DefaultParallelism = 32

	// DefaultMaxAttempts caps optimistic-lock retries per account chunk.
	DefaultMaxAttempts = 8

	// DefaultRequestTimeout caps one push or delete request end to end.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultQueryLimit applies when a listing request names no limit.
	DefaultQueryLimit = 100

	// MaxQueryLimit is the largest accepted page size.
	MaxQueryLimit = 255

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour
)
