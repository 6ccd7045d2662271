package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/grievance-api/internal/models"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
	"github.com/noah-isme/grievance-api/pkg/export"
)

// nonAdminStatsLimit caps the scan behind a non-admin's dashboard stats.
const nonAdminStatsLimit = 500

type analyticsSource interface {
	ListForAnalytics(ctx context.Context, creatorID string, limit int) ([]models.Grievance, error)
}

type datasetRenderer interface {
	ContentType() string
	Extension() string
	Render(data export.Dataset) ([]byte, error)
}

// ExportFile is a rendered analytics export.
type ExportFile struct {
	FileName    string
	ContentType string
	Content     []byte
}

// AnalyticsService derives dashboard stats and resolution analytics from case history.
type AnalyticsService struct {
	repo      analyticsSource
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
	ttl       time.Duration
	now       func() time.Time
	renderers map[string]datasetRenderer
}

// NewAnalyticsService constructs an analytics service.
func NewAnalyticsService(repo analyticsSource, cache *CacheService, metrics *MetricsService, logger *zap.Logger, ttl time.Duration) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{
		repo:    repo,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		renderers: map[string]datasetRenderer{
			"csv": export.NewCSVExporter(),
			"pdf": export.NewPDFExporter(),
		},
	}
}

// Stats returns the quick dashboard aggregate scoped to actor. The boolean
// reports whether the value came from cache.
func (s *AnalyticsService) Stats(ctx context.Context, actor *models.Actor) (*models.GrievanceStats, bool, error) {
	if actor == nil {
		return nil, false, appErrors.Clone(appErrors.ErrUnauthorized, "Authentication required")
	}
	scope, limit := actor.ID, nonAdminStatsLimit
	if actor.IsAdmin() {
		scope, limit = "", 0
	}
	cacheKey := "grievances:stats:" + actor.ID
	if actor.IsAdmin() {
		cacheKey = "grievances:stats:all"
	}

	var cached models.GrievanceStats
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, true, nil
	}

	cases, err := s.scan(ctx, "analytics_stats", scope, limit)
	if err != nil {
		return nil, false, err
	}
	stats := ComputeStats(cases, actor.IsAdmin())
	s.store(ctx, cacheKey, stats)
	return &stats, false, nil
}

// Analytics returns per-case timing records and the cohort summary. Admin only.
func (s *AnalyticsService) Analytics(ctx context.Context, actor *models.Actor) (*models.GrievanceAnalytics, bool, error) {
	if !actor.IsAdmin() {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "Insufficient permissions")
	}
	const cacheKey = "grievances:analytics"

	var cached models.GrievanceAnalytics
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, true, nil
	}

	cases, err := s.scan(ctx, "analytics_full", "", 0)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	records := make([]models.AnalyticsRecord, 0, len(cases))
	for i := range cases {
		records = append(records, BuildRecord(&cases[i], now))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	result := models.GrievanceAnalytics{Records: records, Summary: Summarize(records), GeneratedAt: now}
	s.store(ctx, cacheKey, result)
	return &result, false, nil
}

// Export renders the analytics view as csv or pdf.
func (s *AnalyticsService) Export(ctx context.Context, actor *models.Actor, format string) (*ExportFile, error) {
	renderer, ok := s.renderers[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Unsupported export format")
	}
	analytics, _, err := s.Analytics(ctx, actor)
	if err != nil {
		return nil, err
	}
	content, err := renderer.Render(analyticsDataset(analytics))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportFile{
		FileName:    fmt.Sprintf("grievance-analytics-%s.%s", analytics.GeneratedAt.Format("20060102-150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Content:     content,
	}, nil
}

func (s *AnalyticsService) scan(ctx context.Context, label, creatorID string, limit int) ([]models.Grievance, error) {
	start := time.Now()
	cases, err := s.repo.ListForAnalytics(ctx, creatorID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievances")
	}
	s.metrics.ObserveDBQuery(label, time.Since(start))
	return cases, nil
}

func (s *AnalyticsService) store(ctx context.Context, key string, value interface{}) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("cache analytics", zap.String("key", key), zap.Error(err))
	}
}

// ComputeStats builds the dashboard aggregate. Average resolution time covers
// resolved cases only, measured to their last update.
func ComputeStats(cases []models.Grievance, admin bool) models.GrievanceStats {
	stats := models.GrievanceStats{
		Total:      len(cases),
		ByStatus:   make(map[models.GrievanceStatus]int, len(models.AllStatuses)),
		ByCategory: make(map[models.GrievanceCategory]int, len(models.AllCategories)),
	}
	for _, status := range models.AllStatuses {
		stats.ByStatus[status] = 0
	}
	for _, category := range models.AllCategories {
		stats.ByCategory[category] = 0
	}
	var totalHours float64
	for _, g := range cases {
		stats.ByStatus[g.Status]++
		stats.ByCategory[g.Category]++
		if g.Status == models.StatusResolved {
			stats.ResolvedCount++
			// negative durations are skipped but the case still counts as resolved
			if hours := g.UpdatedAt.Sub(g.CreatedAt).Hours(); hours >= 0 {
				totalHours += hours
			}
		}
	}
	stats.OpenCount = stats.Total - stats.ResolvedCount - stats.ByStatus[models.StatusRejected]
	if stats.ResolvedCount > 0 {
		stats.AvgResolutionTimeHours = round(totalHours/float64(stats.ResolvedCount), 1)
	}
	if admin {
		stats.OpenByStage = &models.StageCounts{
			Submitted:  stats.ByStatus[models.StatusSubmitted],
			InReview:   stats.ByStatus[models.StatusInReview],
			InProgress: stats.ByStatus[models.StatusInProgress],
		}
	}
	return stats
}

// ClosedAt is the earliest closing status event, falling back to the last
// update when the case is closed but its history holds no closing event.
func ClosedAt(g *models.Grievance) (*time.Time, *models.GrievanceStatus) {
	var (
		closedAt *time.Time
		status   *models.GrievanceStatus
	)
	for i := range g.History {
		event := g.History[i]
		if event.Type != models.EventStatus || event.Status == nil || !event.Status.Closed() {
			continue
		}
		if closedAt == nil || event.UpdatedAt.Before(*closedAt) {
			ts, st := event.UpdatedAt, *event.Status
			closedAt, status = &ts, &st
		}
	}
	if closedAt == nil && g.Status.Closed() {
		ts, st := g.UpdatedAt, g.Status
		closedAt, status = &ts, &st
	}
	return closedAt, status
}

// ResolutionHours is the time from creation to closure, or nil when the case
// is open or its timestamps are inconsistent.
func ResolutionHours(g *models.Grievance) *float64 {
	closedAt, _ := ClosedAt(g)
	if closedAt == nil {
		return nil
	}
	return hoursBetween(g.CreatedAt, *closedAt)
}

// BuildRecord derives the analytics row for one case.
func BuildRecord(g *models.Grievance, now time.Time) models.AnalyticsRecord {
	closedAt, closedStatus := ClosedAt(g)
	record := models.AnalyticsRecord{
		ID:              g.ID,
		CaseNumber:      g.CaseNumber,
		Title:           g.Title,
		Category:        g.Category,
		Status:          g.Status,
		ClosedStatus:    closedStatus,
		AssignedTo:      g.AssignedTo,
		Anonymous:       g.Anonymous,
		EscalationLevel: g.EscalationLevel,
		CreatedAt:       g.CreatedAt,
		ClosedAt:        closedAt,
	}
	if record.Title == "" {
		record.Title = "Untitled grievance"
	}
	if record.Category == "" {
		record.Category = "Uncategorized"
	}
	end := now
	if closedAt != nil {
		record.ResolutionHours = hoursBetween(g.CreatedAt, *closedAt)
		record.ResolutionDays = toDays(record.ResolutionHours)
		end = *closedAt
	}
	record.CurrentDurationHours = hoursBetween(g.CreatedAt, end)
	record.CurrentDurationDays = toDays(record.CurrentDurationHours)
	return record
}

// Summarize aggregates resolution hours over records that have them.
func Summarize(records []models.AnalyticsRecord) models.CohortSummary {
	summary := models.CohortSummary{Total: len(records)}
	values := make([]float64, 0, len(records))
	for _, r := range records {
		if r.ResolutionHours != nil {
			values = append(values, *r.ResolutionHours)
		}
	}
	summary.ClosedCount = len(values)
	if len(values) == 0 {
		return summary
	}
	sort.Float64s(values)
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := round(sum/float64(len(values)), 2)
	fastest, slowest := values[0], values[len(values)-1]
	summary.AverageResolution = &avg
	summary.MedianResolution = Percentile(values, 50)
	summary.Percentile90 = Percentile(values, 90)
	summary.Fastest = &fastest
	summary.Slowest = &slowest
	return summary
}

// Percentile interpolates linearly at index p/100*(n-1) of the sorted values.
func Percentile(values []float64, p float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := p / 100 * float64(len(sorted)-1)
	lower, upper := int(math.Floor(idx)), int(math.Ceil(idx))
	value := sorted[lower]
	if upper != lower {
		value += (sorted[upper] - sorted[lower]) * (idx - float64(lower))
	}
	value = round(value, 2)
	return &value
}

func analyticsDataset(a *models.GrievanceAnalytics) export.Dataset {
	headers := []string{"Case Number", "Title", "Category", "Status", "Assigned To", "Escalation", "Created At", "Closed At", "Resolution Hours"}
	rows := make([]map[string]string, 0, len(a.Records))
	for _, r := range a.Records {
		rows = append(rows, map[string]string{
			"Case Number":      r.CaseNumber,
			"Title":            r.Title,
			"Category":         string(r.Category),
			"Status":           string(r.Status),
			"Assigned To":      derefString(r.AssignedTo),
			"Escalation":       strconv.Itoa(r.EscalationLevel),
			"Created At":       r.CreatedAt.Format(time.RFC3339),
			"Closed At":        formatTimePtr(r.ClosedAt),
			"Resolution Hours": formatFloatPtr(r.ResolutionHours),
		})
	}
	return export.Dataset{
		Title: "Grievance Analytics",
		Notes: []string{
			fmt.Sprintf("Generated %s", a.GeneratedAt.Format(time.RFC1123)),
			fmt.Sprintf("Cases: %d, closed: %d", a.Summary.Total, a.Summary.ClosedCount),
			fmt.Sprintf("Average resolution: %s h, median: %s h, p90: %s h",
				formatFloatPtr(a.Summary.AverageResolution), formatFloatPtr(a.Summary.MedianResolution), formatFloatPtr(a.Summary.Percentile90)),
		},
		Headers: headers,
		Rows:    rows,
	}
}

func hoursBetween(from, to time.Time) *float64 {
	hours := to.Sub(from).Hours()
	if hours < 0 {
		return nil
	}
	hours = round(hours, 2)
	return &hours
}

func toDays(hours *float64) *float64 {
	if hours == nil {
		return nil
	}
	days := round(*hours/24, 2)
	return &days
}

func round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
