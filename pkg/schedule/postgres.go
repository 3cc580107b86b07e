package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const itemColumns = `id, user_id, activity_type, title, instructions, window_start_local,
	window_end_local, display_order, active, created_at, updated_at`

const reportColumns = `id, user_id, schedule_item_id, report_date_local, activity_type, status,
	followed_plan, COALESCE(changes_made, ''), COALESCE(felt_after, ''), COALESCE(symptoms, ''),
	COALESCE(notes, ''), alert_level, summary, reported_at, COALESCE(conversation_turn_id, ''),
	COALESCE(session_id, ''), created_at`

func (s *PostgresStore) ActiveItems(ctx context.Context, userID string) ([]Item, error) {
	rows, err := s.db.Query(ctx, `SELECT `+itemColumns+`
		FROM schedule_items
		WHERE user_id = $1 AND active
		ORDER BY display_order, window_start_local, id`, strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("query schedule items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) { return scanItem(row) })
	if err != nil {
		return nil, fmt.Errorf("scan schedule items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Item(ctx context.Context, userID, itemID string) (Item, error) {
	row := s.db.QueryRow(ctx, `SELECT `+itemColumns+`
		FROM schedule_items
		WHERE user_id = $1 AND id = $2`, strings.TrimSpace(userID), strings.TrimSpace(itemID))
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("query schedule item: %w", err)
	}
	return it, nil
}

func (s *PostgresStore) ReportsByDate(ctx context.Context, userID, date string) ([]Report, error) {
	return s.queryReports(ctx, `SELECT `+reportColumns+`
		FROM adherence_reports
		WHERE user_id = $1 AND report_date_local = $2
		ORDER BY reported_at, created_at, id`, userID, date)
}

func (s *PostgresStore) ReportsForItem(ctx context.Context, userID, itemID, date string) ([]Report, error) {
	return s.queryReports(ctx, `SELECT `+reportColumns+`
		FROM adherence_reports
		WHERE user_id = $1 AND schedule_item_id = $2 AND ($3::text = '' OR report_date_local = $3)
		ORDER BY reported_at, created_at`, userID, itemID, date)
}

func (s *PostgresStore) FindDuplicate(ctx context.Context, userID, itemID, sessionID, turnID string) (Report, bool, error) {
	if sessionID == "" || turnID == "" {
		return Report{}, false, nil
	}
	row := s.db.QueryRow(ctx, `SELECT `+reportColumns+`
		FROM adherence_reports
		WHERE user_id = $1 AND schedule_item_id = $2 AND session_id = $3 AND conversation_turn_id = $4
		LIMIT 1`, userID, itemID, sessionID, turnID)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, fmt.Errorf("query duplicate report: %w", err)
	}
	return r, true, nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, r Report) (Report, error) {
	if r.ID == "" {
		r.ID = newReportID()
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO adherence_reports (id, user_id, schedule_item_id, report_date_local, activity_type, status,
			followed_plan, changes_made, felt_after, symptoms, notes, alert_level, summary, reported_at,
			conversation_turn_id, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING `+reportColumns,
		r.ID, r.UserID, r.ScheduleItemID, r.ReportDate, string(r.ActivityType), string(r.Status),
		r.FollowedPlan, nullable(r.ChangesMade), nullable(r.FeltAfter), nullable(r.Symptoms), nullable(r.Notes),
		string(r.AlertLevel), r.Summary, r.ReportedAt, nullable(r.ConversationTurnID), nullable(r.SessionID))
	saved, err := scanReport(row)
	if err != nil {
		return Report{}, fmt.Errorf("insert adherence report: %w", err)
	}
	return saved, nil
}

// SaveItems upserts plan items.
func (s *PostgresStore) SaveItems(ctx context.Context, items []Item) error {
	for _, it := range items {
		instructions := it.Instructions
		if instructions == nil {
			instructions = []string{}
		}
		_, err := s.db.Exec(ctx, `
			INSERT INTO schedule_items (id, user_id, activity_type, title, instructions, window_start_local,
				window_end_local, display_order, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				activity_type = EXCLUDED.activity_type,
				title = EXCLUDED.title,
				instructions = EXCLUDED.instructions,
				window_start_local = EXCLUDED.window_start_local,
				window_end_local = EXCLUDED.window_end_local,
				display_order = EXCLUDED.display_order,
				active = EXCLUDED.active,
				updated_at = now()`,
			it.ID, it.UserID, string(it.ActivityType), it.Title, instructions, it.WindowStart,
			it.WindowEnd, it.DisplayOrder, it.Active)
		if err != nil {
			return fmt.Errorf("upsert schedule item %s: %w", it.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) queryReports(ctx context.Context, sql string, args ...any) ([]Report, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query adherence reports: %w", err)
	}
	reports, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Report, error) { return scanReport(row) })
	if err != nil {
		return nil, fmt.Errorf("scan adherence reports: %w", err)
	}
	return reports, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (Item, error) {
	var it Item
	var activityType string
	err := row.Scan(&it.ID, &it.UserID, &activityType, &it.Title, &it.Instructions, &it.WindowStart,
		&it.WindowEnd, &it.DisplayOrder, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	it.ActivityType = ActivityType(activityType)
	return it, err
}

func scanReport(row scanner) (Report, error) {
	var r Report
	var activityType, status, alertLevel string
	err := row.Scan(&r.ID, &r.UserID, &r.ScheduleItemID, &r.ReportDate, &activityType, &status,
		&r.FollowedPlan, &r.ChangesMade, &r.FeltAfter, &r.Symptoms, &r.Notes, &alertLevel, &r.Summary,
		&r.ReportedAt, &r.ConversationTurnID, &r.SessionID, &r.CreatedAt)
	r.ActivityType = ActivityType(activityType)
	r.Status = Status(status)
	r.AlertLevel = AlertLevel(alertLevel)
	return r, err
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
