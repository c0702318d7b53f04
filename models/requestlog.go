package models

import "time"

// RequestLog is one row per completed gateway request. RequestPreview
// is stored for debugging only and must not surface on aggregate
// endpoints.
type RequestLog struct {
	ID             string
	CreatedAt      time.Time
	Source         string
	Channel        string
	RoutingTier    int
	RuleID         *int64
	Complexity     string
	TaskType       string
	SelectedModel  string
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
	LatencyMs      int64
	Success        bool
	Error          string
	RequestPreview string
}
