package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/launchdarkly-labs/ld-toolkit/internal/domain"
	"github.com/launchdarkly-labs/ld-toolkit/internal/repository"
)

// Repository implements the change store on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var _ repository.ChangeRepository = (*Repository)(nil)

const (
	scanInsert = `INSERT INTO scan_runs (
		id,
		context_kind,
		context_key,
		window_after,
		window_before,
		entries_scanned,
		pages_fetched,
		changes_found,
		started_at,
		completed_at
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)`
	changeInsert = `INSERT INTO context_target_changes (
		run_id,
		entry_id,
		occurred_at,
		project_key,
		environment_key,
		flag_key,
		flag_name,
		actor,
		action,
		previous_variations,
		current_variations
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	) ON CONFLICT (run_id, entry_id, environment_key) DO NOTHING`
	// Overlapping scans store the same change more than once; the latest run wins.
	changeSelect = `SELECT entry_id, occurred_at, project_key, environment_key, flag_key, flag_name, actor, action, previous_variations, current_variations
		FROM (
			SELECT DISTINCT ON (c.entry_id, c.environment_key)
				c.entry_id, c.occurred_at, c.project_key, c.environment_key, c.flag_key, c.flag_name, c.actor, c.action, c.previous_variations, c.current_variations
			FROM context_target_changes c
			JOIN scan_runs s ON s.id = c.run_id
			WHERE s.context_kind = $1 AND s.context_key = $2
			ORDER BY c.entry_id, c.environment_key, s.completed_at DESC
		) latest
		ORDER BY occurred_at DESC, environment_key
		LIMIT $3`
)

// SaveScan stores a completed scan and its changes in one transaction.
// An empty run ID is replaced with a new UUID.
func (r *Repository) SaveScan(ctx context.Context, run *domain.ScanRun, changes []domain.ChangeRecord) error {
	if run == nil {
		return repository.ErrInvalidArgument
	}
	if strings.TrimSpace(run.ContextKind) == "" || strings.TrimSpace(run.ContextKey) == "" {
		return repository.ErrInvalidArgument
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	} else if _, err := uuid.Parse(run.ID); err != nil {
		return repository.ErrInvalidArgument
	}
	if run.CompletedAt.IsZero() {
		run.CompletedAt = time.Now().UTC()
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, scanInsert,
		run.ID,
		run.ContextKind,
		run.ContextKey,
		run.WindowAfter.UTC(),
		run.WindowBefore.UTC(),
		run.EntriesScanned,
		run.PagesFetched,
		len(changes),
		run.StartedAt.UTC(),
		run.CompletedAt.UTC(),
	); err != nil {
		return translate(err)
	}

	if len(changes) > 0 {
		batch := &pgx.Batch{}
		for _, change := range changes {
			batch.Queue(changeInsert,
				run.ID,
				change.EntryID,
				change.Date.UTC(),
				change.Project,
				change.Environment,
				change.Flag,
				nilIfEmpty(change.FlagName),
				change.Actor,
				string(change.Action),
				intsOrEmpty(change.Variations.Previous),
				intsOrEmpty(change.Variations.Current),
			)
		}
		br := tx.SendBatch(ctx, batch)
		for range changes {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return translate(err)
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	run.ChangesFound = len(changes)
	return nil
}

// ListChanges returns stored changes for a context across all scans, newest
// first. A change seen by several scans is returned once.
func (r *Repository) ListChanges(ctx context.Context, contextKind, contextKey string, limit int) ([]domain.ChangeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, changeSelect, contextKind, contextKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := make([]domain.ChangeRecord, 0)
	for rows.Next() {
		var (
			change   domain.ChangeRecord
			flagName *string
			action   string
		)
		if err := rows.Scan(
			&change.EntryID,
			&change.Date,
			&change.Project,
			&change.Environment,
			&change.Flag,
			&flagName,
			&change.Actor,
			&action,
			&change.Variations.Previous,
			&change.Variations.Current,
		); err != nil {
			return nil, err
		}
		if flagName != nil {
			change.FlagName = *flagName
		}
		change.Action = domain.ChangeAction(action)
		if !change.Action.Valid() {
			return nil, fmt.Errorf("unexpected stored action %q", action)
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02", "23505":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func intsOrEmpty(values []int) []int {
	if values == nil {
		return []int{}
	}
	return values
}
