package models

import "time"

// GrievanceStats is the quick dashboard aggregate.
type GrievanceStats struct {
	Total                  int                       `json:"total"`
	ByStatus               map[GrievanceStatus]int   `json:"byStatus"`
	ByCategory             map[GrievanceCategory]int `json:"byCategory"`
	ResolvedCount          int                       `json:"resolvedCount"`
	OpenCount              int                       `json:"openCount"`
	AvgResolutionTimeHours float64                   `json:"avgResolutionTimeHours"`
	OpenByStage            *StageCounts              `json:"openByStage,omitempty"`
}

// StageCounts is the admin-only breakdown of open cases.
type StageCounts struct {
	Submitted  int `json:"submitted"`
	InReview   int `json:"in_review"`
	InProgress int `json:"in_progress"`
}

// AnalyticsRecord carries derived timing metrics for one case.
type AnalyticsRecord struct {
	ID                   string            `json:"id"`
	CaseNumber           string            `json:"caseNumber"`
	Title                string            `json:"title"`
	Category             GrievanceCategory `json:"category"`
	Status               GrievanceStatus   `json:"status"`
	ClosedStatus         *GrievanceStatus  `json:"closedStatus"`
	AssignedTo           *string           `json:"assignedTo"`
	Anonymous            bool              `json:"anonymous"`
	EscalationLevel      int               `json:"escalationLevel"`
	CreatedAt            time.Time         `json:"createdAt"`
	ClosedAt             *time.Time        `json:"closedAt"`
	ResolutionHours      *float64          `json:"resolutionHours"`
	ResolutionDays       *float64          `json:"resolutionDays"`
	CurrentDurationHours *float64          `json:"currentDurationHours"`
	CurrentDurationDays  *float64          `json:"currentDurationDays"`
}

// CohortSummary aggregates resolution hours across closed cases.
type CohortSummary struct {
	Total             int      `json:"total"`
	ClosedCount       int      `json:"closedCount"`
	AverageResolution *float64 `json:"averageResolution"`
	MedianResolution  *float64 `json:"medianResolution"`
	Percentile90      *float64 `json:"percentile90"`
	Fastest           *float64 `json:"fastest"`
	Slowest           *float64 `json:"slowest"`
}

// GrievanceAnalytics is the admin analytics payload.
type GrievanceAnalytics struct {
	Records     []AnalyticsRecord `json:"analytics"`
	Summary     CohortSummary     `json:"summary"`
	GeneratedAt time.Time         `json:"generatedAt"`
}

// SystemMetrics is a point-in-time snapshot of process instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	DBQueryCount             uint64    `json:"dbQueryCount"`
	AverageDBQueryDurationMs float64   `json:"averageDbQueryDurationMs"`
	NotificationsSent        uint64    `json:"notificationsSent"`
	EmailFailures            uint64    `json:"emailFailures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
