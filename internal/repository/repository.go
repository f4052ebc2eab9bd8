package repository

import (
	"context"

	"github.com/launchdarkly-labs/ld-toolkit/internal/domain"
)

// ChangeRepository persists completed scans and the changes they found.
type ChangeRepository interface {
	SaveScan(ctx context.Context, run *domain.ScanRun, changes []domain.ChangeRecord) error
	ListChanges(ctx context.Context, contextKind, contextKey string, limit int) ([]domain.ChangeRecord, error)
}
