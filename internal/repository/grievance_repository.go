package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/grievance-api/internal/models"
)

// ErrStaleCase is returned when a guarded update matched no row because the
// case left the state the change was decided against.
var ErrStaleCase = errors.New("grievance state changed")

// isMalformedID reports SQLSTATE 22P02, raised when a uuid column is compared
// against text that does not parse as a uuid.
func isMalformedID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

const grievanceColumns = `id, case_number, category, title, description, creator_id, anonymous, tracking_hash,
       status, assigned_to, escalation_level, feedback_rating, feedback_comment, feedback_submitted_at,
       created_at, updated_at`

// GrievanceRepository persists grievances, their attachments and history.
type GrievanceRepository struct {
	db *sqlx.DB
}

// NewGrievanceRepository constructs the repository.
func NewGrievanceRepository(db *sqlx.DB) *GrievanceRepository {
	return &GrievanceRepository{db: db}
}

type grievanceRow struct {
	ID                  string     `db:"id"`
	CaseNumber          string     `db:"case_number"`
	Category            string     `db:"category"`
	Title               string     `db:"title"`
	Description         string     `db:"description"`
	CreatorID           *string    `db:"creator_id"`
	Anonymous           bool       `db:"anonymous"`
	TrackingHash        *string    `db:"tracking_hash"`
	Status              string     `db:"status"`
	AssignedTo          *string    `db:"assigned_to"`
	EscalationLevel     int        `db:"escalation_level"`
	FeedbackRating      *int       `db:"feedback_rating"`
	FeedbackComment     *string    `db:"feedback_comment"`
	FeedbackSubmittedAt *time.Time `db:"feedback_submitted_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

func rowFromGrievance(g *models.Grievance) grievanceRow {
	row := grievanceRow{
		ID:              g.ID,
		CaseNumber:      g.CaseNumber,
		Category:        string(g.Category),
		Title:           g.Title,
		Description:     g.Description,
		CreatorID:       g.CreatorID,
		Anonymous:       g.Anonymous,
		TrackingHash:    g.TrackingHash,
		Status:          string(g.Status),
		AssignedTo:      g.AssignedTo,
		EscalationLevel: g.EscalationLevel,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
	if fb := g.ResolutionFeedback; fb != nil {
		rating, comment, at := fb.Rating, fb.Comment, fb.SubmittedAt
		row.FeedbackRating, row.FeedbackComment, row.FeedbackSubmittedAt = &rating, &comment, &at
	}
	return row
}

func (r grievanceRow) toModel() models.Grievance {
	g := models.Grievance{
		ID:              r.ID,
		CaseNumber:      r.CaseNumber,
		Category:        models.GrievanceCategory(r.Category),
		Title:           r.Title,
		Description:     r.Description,
		CreatorID:       r.CreatorID,
		Anonymous:       r.Anonymous,
		TrackingHash:    r.TrackingHash,
		Status:          models.GrievanceStatus(r.Status),
		AssignedTo:      r.AssignedTo,
		EscalationLevel: r.EscalationLevel,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.FeedbackRating != nil {
		fb := &models.ResolutionFeedback{Rating: *r.FeedbackRating}
		if r.FeedbackComment != nil {
			fb.Comment = *r.FeedbackComment
		}
		if r.FeedbackSubmittedAt != nil {
			fb.SubmittedAt = *r.FeedbackSubmittedAt
		}
		g.ResolutionFeedback = fb
	}
	return g
}

// Create assigns the next case number for the creation year and inserts the
// grievance, its attachments and the initial history event in one transaction.
func (r *GrievanceRepository) Create(ctx context.Context, g *models.Grievance, initial models.HistoryEvent) (err error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = g.CreatedAt
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create grievance: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	year := g.CreatedAt.Year()
	var seq int
	const counterQuery = `INSERT INTO grievance_counters (year, count) VALUES ($1, 1)
	ON CONFLICT (year) DO UPDATE SET count = grievance_counters.count + 1
	RETURNING count`
	if err = tx.QueryRowxContext(ctx, counterQuery, year).Scan(&seq); err != nil {
		return fmt.Errorf("next case number: %w", err)
	}
	g.CaseNumber = models.FormatCaseNumber(year, seq)

	const insertGrievance = `INSERT INTO grievances (` + grievanceColumns + `)
	VALUES (:id, :case_number, :category, :title, :description, :creator_id, :anonymous, :tracking_hash,
	        :status, :assigned_to, :escalation_level, :feedback_rating, :feedback_comment, :feedback_submitted_at,
	        :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertGrievance, rowFromGrievance(g)); err != nil {
		return fmt.Errorf("insert grievance: %w", err)
	}

	const insertAttachment = `INSERT INTO grievance_attachments
	(grievance_id, position, file_name, content_type, size_bytes, storage_key, uploaded_at)
	VALUES (:grievance_id, :position, :file_name, :content_type, :size_bytes, :storage_key, :uploaded_at)`
	for i := range g.Attachments {
		g.Attachments[i].GrievanceID = g.ID
		g.Attachments[i].Position = i
		if g.Attachments[i].UploadedAt.IsZero() {
			g.Attachments[i].UploadedAt = g.CreatedAt
		}
		if _, err = tx.NamedExecContext(ctx, insertAttachment, g.Attachments[i]); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}

	initial.GrievanceID = g.ID
	if initial.UpdatedAt.IsZero() {
		initial.UpdatedAt = g.CreatedAt
	}
	if initial.Seq, err = insertHistory(ctx, tx, initial); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create grievance: %w", err)
	}
	g.History = []models.HistoryEvent{initial}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, event models.HistoryEvent) (int64, error) {
	const query = `INSERT INTO grievance_history (grievance_id, type, status, comment, updated_by, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`
	var seq int64
	if err := tx.QueryRowxContext(ctx, query,
		event.GrievanceID, event.Type, event.Status, event.Comment, event.UpdatedBy, event.UpdatedAt,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("insert history: %w", err)
	}
	return seq, nil
}

// AppendHistory adds one event and refreshes updated_at in a single statement.
// It returns sql.ErrNoRows when the grievance does not exist.
func (r *GrievanceRepository) AppendHistory(ctx context.Context, grievanceID string, event models.HistoryEvent) (*models.HistoryEvent, error) {
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = time.Now().UTC()
	}
	event.GrievanceID = grievanceID
	const query = `WITH touched AS (
		UPDATE grievances SET updated_at = $6 WHERE id = $1 RETURNING id
	)
	INSERT INTO grievance_history (grievance_id, type, status, comment, updated_by, updated_at)
	SELECT id, $2, $3, $4, $5, $6 FROM touched
	RETURNING seq`
	if err := r.db.QueryRowxContext(ctx, query,
		grievanceID, event.Type, event.Status, event.Comment, event.UpdatedBy, event.UpdatedAt,
	).Scan(&event.Seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("append history: %w", err)
	}
	return &event, nil
}

// CaseChange describes a guarded partial update paired with its history event.
type CaseChange struct {
	GrievanceID string
	Status      *models.GrievanceStatus
	// SetAssignee applies AssignedTo, which may be nil to clear the assignment.
	SetAssignee bool
	AssignedTo  *string
	Escalate    bool
	Feedback    *models.ResolutionFeedback
	Event       models.HistoryEvent
}

// ApplyChange performs the field update and history append in one transaction.
// Field updates on closed cases, and feedback on cases that are not resolved or
// already rated, match no row and yield ErrStaleCase.
func (r *GrievanceRepository) ApplyChange(ctx context.Context, change CaseChange) (_ *models.HistoryEvent, err error) {
	event := change.Event
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = time.Now().UTC()
	}
	event.GrievanceID = change.GrievanceID

	args := []interface{}{change.GrievanceID, event.UpdatedAt}
	setParts := []string{"updated_at = $2"}
	guard := fmt.Sprintf("status NOT IN ('%s', '%s')", models.StatusResolved, models.StatusRejected)

	if change.Status != nil {
		args = append(args, *change.Status)
		setParts = append(setParts, fmt.Sprintf("status = $%d", len(args)))
	}
	if change.SetAssignee {
		args = append(args, change.AssignedTo)
		setParts = append(setParts, fmt.Sprintf("assigned_to = $%d", len(args)))
	}
	if change.Escalate {
		setParts = append(setParts, "escalation_level = escalation_level + 1")
	}
	if fb := change.Feedback; fb != nil {
		args = append(args, fb.Rating, fb.Comment, fb.SubmittedAt)
		setParts = append(setParts, fmt.Sprintf("feedback_rating = $%d, feedback_comment = $%d, feedback_submitted_at = $%d",
			len(args)-2, len(args)-1, len(args)))
		guard = fmt.Sprintf("status = '%s' AND feedback_rating IS NULL", models.StatusResolved)
	}
	if len(setParts) == 1 {
		return nil, fmt.Errorf("apply change: no fields to update")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin apply change: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf("UPDATE grievances SET %s WHERE id = $1 AND %s", strings.Join(setParts, ", "), guard)
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update grievance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check grievance update rows: %w", err)
	}
	if rows == 0 {
		err = ErrStaleCase
		return nil, err
	}

	if event.Seq, err = insertHistory(ctx, tx, event); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit apply change: %w", err)
	}
	return &event, nil
}

// GetByID loads a grievance with attachments and full history. Ids that are
// not uuids yield sql.ErrNoRows.
func (r *GrievanceRepository) GetByID(ctx context.Context, id string) (*models.Grievance, error) {
	var row grievanceRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+grievanceColumns+` FROM grievances WHERE id = $1`, id); err != nil {
		if isMalformedID(err) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	g := row.toModel()

	const attachmentQuery = `SELECT grievance_id, position, file_name, content_type, size_bytes, storage_key, uploaded_at
	FROM grievance_attachments WHERE grievance_id = $1 ORDER BY position`
	if err := r.db.SelectContext(ctx, &g.Attachments, attachmentQuery, id); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}

	const historyQuery = `SELECT seq, grievance_id, type, status, comment, updated_by, updated_at
	FROM grievance_history WHERE grievance_id = $1 ORDER BY seq`
	if err := r.db.SelectContext(ctx, &g.History, historyQuery, id); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return &g, nil
}

// FindByTrackingHash loads the anonymous grievance bound to a tracking hash.
func (r *GrievanceRepository) FindByTrackingHash(ctx context.Context, hash string) (*models.Grievance, error) {
	var id string
	if err := r.db.GetContext(ctx, &id, `SELECT id FROM grievances WHERE tracking_hash = $1`, hash); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// List returns grievances matching the filter, newest first, without history.
func (r *GrievanceRepository) List(ctx context.Context, filter models.GrievanceFilter) ([]models.Grievance, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + grievanceColumns + ` FROM grievances`)

	conditions := make([]string, 0, 5)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		conditions = append(conditions, fmt.Sprintf("assigned_to = $%d", len(args)))
	}
	if filter.CreatorID != "" {
		args = append(args, filter.CreatorID)
		conditions = append(conditions, fmt.Sprintf("creator_id = $%d", len(args)))
	}
	if !filter.IncludeAnonymous {
		conditions = append(conditions, "anonymous = FALSE")
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d", limit))

	var rows []grievanceRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list grievances: %w", err)
	}
	result := make([]models.Grievance, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toModel())
	}
	return result, nil
}

// ListForAnalytics scans grievances with their status history. An empty
// creatorID scans every case; limit <= 0 means unbounded.
func (r *GrievanceRepository) ListForAnalytics(ctx context.Context, creatorID string, limit int) ([]models.Grievance, error) {
	query := `SELECT ` + grievanceColumns + ` FROM grievances`
	args := make([]interface{}, 0, 1)
	if creatorID != "" {
		args = append(args, creatorID)
		query += " WHERE creator_id = $1"
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []grievanceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("scan grievances: %w", err)
	}
	if len(rows) == 0 {
		return []models.Grievance{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	const historyQuery = `SELECT seq, grievance_id, type, status, comment, updated_by, updated_at
	FROM grievance_history WHERE type = $1 AND grievance_id = ANY($2) ORDER BY seq`
	var events []models.HistoryEvent
	if err := r.db.SelectContext(ctx, &events, historyQuery, models.EventStatus, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("scan status history: %w", err)
	}
	byGrievance := make(map[string][]models.HistoryEvent, len(rows))
	for _, event := range events {
		byGrievance[event.GrievanceID] = append(byGrievance[event.GrievanceID], event)
	}

	result := make([]models.Grievance, 0, len(rows))
	for _, row := range rows {
		g := row.toModel()
		g.History = byGrievance[g.ID]
		result = append(result, g)
	}
	return result, nil
}
