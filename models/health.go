package models

import "time"

// UnhealthyThreshold is the number of consecutive probe failures after
// which a model's healthy flag is flipped off.
const UnhealthyThreshold = 3

// HealthLog is one append-only probe outcome row. The model record's
// healthy flag is derived from the consecutive-failure counter carried
// here: any success resets it to 0, and reaching UnhealthyThreshold
// flips the model unhealthy.
type HealthLog struct {
	ID                  int64
	ModelID             string
	CheckedAt           time.Time
	IsHealthy           bool
	LatencyMs           *int64
	Error               string
	ConsecutiveFailures int
}
