package models

import "time"

// ProviderRateLimit records a provider-wide backoff window. While
// IsLimited and RetryAfter is in the future, every model of that
// provider is excluded from candidate selection. Expired rows are
// lazily cleared before each selection pass.
type ProviderRateLimit struct {
	Provider     string
	IsLimited    bool
	LimitedSince *time.Time
	RetryAfter   *time.Time
	RPM          int
	TPM          int
}
