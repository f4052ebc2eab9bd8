package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/launchdarkly-labs/ld-toolkit/internal/domain"
	"github.com/launchdarkly-labs/ld-toolkit/internal/repository"
)

func TestTranslate(t *testing.T) {
	cases := map[string]error{
		"23503": repository.ErrNotFound,
		"23514": repository.ErrInvalidArgument,
		"23505": repository.ErrInvalidArgument,
	}
	for code, want := range cases {
		if got := translate(&pgconn.PgError{Code: code}); !errors.Is(got, want) {
			t.Fatalf("code %s: expected %v, got %v", code, want, got)
		}
	}
	other := errors.New("boom")
	if got := translate(other); got != other {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestSaveScanValidates(t *testing.T) {
	repo := New(nil)
	if err := repo.SaveScan(context.Background(), nil, nil); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for nil run, got %v", err)
	}
	run := &domain.ScanRun{ContextKind: "user"}
	if err := repo.SaveScan(context.Background(), run, nil); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for missing key, got %v", err)
	}
	run = &domain.ScanRun{ID: "not-a-uuid", ContextKind: "user", ContextKey: "u1"}
	if err := repo.SaveScan(context.Background(), run, nil); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for bad id, got %v", err)
	}
}

// TestRoundTrip runs against a migrated database when TEST_DATABASE_URL is set.
func TestRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	repo := New(pool)
	now := time.Now().UTC().Truncate(time.Millisecond)
	key := "round-trip-" + now.Format("150405.000")
	run := &domain.ScanRun{
		ContextKind:  "user",
		ContextKey:   key,
		WindowAfter:  now.Add(-time.Hour),
		WindowBefore: now,
		StartedAt:    now,
	}
	changes := []domain.ChangeRecord{{
		EntryID:     "entry-1",
		Date:        now,
		Project:     "web",
		Environment: "production",
		Flag:        "new-checkout",
		Actor:       "Ada Lovelace (ada@example.com)",
		Action:      domain.ChangeActionAdded,
		Variations:  domain.VariationDelta{Current: []int{1}},
	}}
	if err := repo.SaveScan(ctx, run, changes); err != nil {
		t.Fatalf("save scan: %v", err)
	}
	if run.ID == "" || run.ChangesFound != 1 {
		t.Fatalf("expected saved run with 1 change, got %+v", run)
	}
	listed, err := repo.ListChanges(ctx, "user", key, 10)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(listed) != 1 || listed[0].Action != domain.ChangeActionAdded || len(listed[0].Variations.Previous) != 0 {
		t.Fatalf("unexpected changes %+v", listed)
	}

	// A later scan over an overlapping window sees the same entry again.
	overlap := &domain.ScanRun{
		ContextKind:  "user",
		ContextKey:   key,
		WindowAfter:  now.Add(-30 * time.Minute),
		WindowBefore: now.Add(time.Minute),
		StartedAt:    now.Add(time.Minute),
		CompletedAt:  now.Add(time.Minute),
	}
	if err := repo.SaveScan(ctx, overlap, changes); err != nil {
		t.Fatalf("save overlapping scan: %v", err)
	}
	listed, err = repo.ListChanges(ctx, "user", key, 10)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(listed) != 1 || listed[0].EntryID != "entry-1" {
		t.Fatalf("expected the repeated change once, got %+v", listed)
	}
}

func TestChangeSelectCollapsesRepeatedChanges(t *testing.T) {
	for _, fragment := range []string{
		"DISTINCT ON (c.entry_id, c.environment_key)",
		"s.completed_at DESC",
		"ORDER BY occurred_at DESC",
	} {
		if !strings.Contains(changeSelect, fragment) {
			t.Fatalf("expected change query to contain %q", fragment)
		}
	}
}
