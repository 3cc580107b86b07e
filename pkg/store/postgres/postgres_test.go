package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestMigrationNames(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("MigrationNames() error: %v", err)
	}
	want := []string{"00001_patient_profiles.sql", "00002_schedule.sql"}
	if len(names) != len(want) {
		t.Fatalf("names=%v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d]=%q, want %q", i, names[i], want[i])
		}
	}
	for _, name := range names {
		body, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(body), "-- +goose Up") || !strings.Contains(string(body), "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", name)
		}
	}
}

func TestOpenRequiresURL(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := Open(context.Background(), Config{URL: "   "}); err == nil {
		t.Fatal("expected error for blank url")
	}
}

func TestMigrateIntegration(t *testing.T) {
	url := os.Getenv("RAKSHA_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RAKSHA_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := Open(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer pool.Close()

	if err := Migrate(ctx, pool, nil); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	// A second run is a no-op.
	if err := Migrate(ctx, pool, nil); err != nil {
		t.Fatalf("second Migrate() error: %v", err)
	}
	var n int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM adherence_reports`).Scan(&n); err != nil {
		t.Fatalf("query adherence_reports: %v", err)
	}
}
