package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository reads the patient_profiles table. List columns are
// JSONB and decode straight into the model slices.
type PostgresRepository struct {
	db DB
}

func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrNotFound
	}
	var (
		p        Profile
		fullName *string
		age      *int32
		sex      *string
		notes    *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT user_id, full_name, age, sex, conditions, treatments, allergies,
		       contraindications, family_history, biomarker_targets, notes, updated_at
		FROM patient_profiles
		WHERE user_id = $1
	`, userID).Scan(
		&p.UserID, &fullName, &age, &sex, &p.Conditions, &p.Treatments, &p.Allergies,
		&p.Contraindications, &p.FamilyHistory, &p.BiomarkerTargets, &notes, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("query patient profile: %w", err)
	}
	p.FullName = deref(fullName)
	p.Sex = deref(sex)
	p.Notes = deref(notes)
	if age != nil {
		p.Age = int(*age)
	}
	return p, nil
}

// Save upserts a profile.
func (r *PostgresRepository) Save(ctx context.Context, p Profile) error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO patient_profiles (user_id, full_name, age, sex, conditions, treatments, allergies,
		                              contraindications, family_history, biomarker_targets, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (user_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			age = EXCLUDED.age,
			sex = EXCLUDED.sex,
			conditions = EXCLUDED.conditions,
			treatments = EXCLUDED.treatments,
			allergies = EXCLUDED.allergies,
			contraindications = EXCLUDED.contraindications,
			family_history = EXCLUDED.family_history,
			biomarker_targets = EXCLUDED.biomarker_targets,
			notes = EXCLUDED.notes,
			updated_at = now()
	`, p.UserID, nullable(p.FullName), nullableInt(p.Age), nullable(p.Sex),
		orEmpty(p.Conditions), orEmpty(p.Treatments), orEmpty(p.Allergies),
		orEmpty(p.Contraindications), orEmpty(p.FamilyHistory), orEmpty(p.BiomarkerTargets),
		nullable(p.Notes))
	if err != nil {
		return fmt.Errorf("upsert patient profile: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func nullableInt(n int) *int32 {
	if n <= 0 {
		return nil
	}
	v := int32(n)
	return &v
}
