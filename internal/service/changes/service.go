package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/launchdarkly-labs/ld-toolkit/internal/domain"
	"github.com/launchdarkly-labs/ld-toolkit/internal/repository"
	"github.com/launchdarkly-labs/ld-toolkit/pkg/ldapi"
)

var (
	errMissingContextKind = errors.New("context kind required")
	errMissingContextKey  = errors.New("context key required")
	errInvalidWindow      = errors.New("window start must not be after its end")
)

// PageReader yields audit log pages until exhausted.
type PageReader interface {
	HasMore() bool
	Next(ctx context.Context) ([]ldapi.AuditLogEntry, error)
	Pages() int
}

// Source lists and fetches audit log entries.
type Source interface {
	Entries(q ldapi.AuditLogQuery) PageReader
	GetAuditLogEntry(ctx context.Context, id string) (ldapi.AuditLogEntry, error)
}

// EntryCache memoises detailed entries.
type EntryCache interface {
	Get(ctx context.Context, id string) (ldapi.AuditLogEntry, bool)
	Put(ctx context.Context, entry ldapi.AuditLogEntry)
}

// Recorder receives scan progress counters.
type Recorder interface {
	ObservePage()
	ObserveEntry()
	ObserveChange(action string)
}

type clientSource struct {
	client *ldapi.Client
}

// NewSource adapts an API client to Source.
func NewSource(client *ldapi.Client) Source {
	return clientSource{client: client}
}

func (s clientSource) Entries(q ldapi.AuditLogQuery) PageReader {
	return s.client.NewAuditLogReader(q)
}

func (s clientSource) GetAuditLogEntry(ctx context.Context, id string) (ldapi.AuditLogEntry, error) {
	return s.client.GetAuditLogEntry(ctx, id)
}

// Config tunes a scan.
type Config struct {
	PageSize int
}

// Query selects the context and window to scan.
type Query struct {
	ContextKind string
	ContextKey  string
	After       time.Time
	Before      time.Time
}

// Result is a completed scan.
type Result struct {
	Run     domain.ScanRun
	Changes []domain.ChangeRecord
}

// Service finds targeting changes for a context in the audit log.
type Service struct {
	source  Source
	cache   EntryCache
	store   repository.ChangeRepository
	metrics Recorder
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithCache fronts detail fetches with c.
func WithCache(c EntryCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithStore persists every completed scan.
func WithStore(store repository.ChangeRepository) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithRecorder reports scan progress to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.metrics = r
	}
}

// New constructs a change finding service.
func New(source Source, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	s := &Service{source: source, logger: logger, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Find walks the audit log window in order, fetches every entry's detail and
// collects the targeting changes for the context. Any error aborts the scan
// and no changes are returned.
func (s *Service) Find(ctx context.Context, q Query) (Result, error) {
	// Kind and key are matched exactly as given; blank input is rejected.
	if strings.TrimSpace(q.ContextKind) == "" {
		return Result{}, errMissingContextKind
	}
	if strings.TrimSpace(q.ContextKey) == "" {
		return Result{}, errMissingContextKey
	}
	if !q.After.IsZero() && !q.Before.IsZero() && q.After.After(q.Before) {
		return Result{}, errInvalidWindow
	}

	run := domain.ScanRun{
		ID:           uuid.NewString(),
		ContextKind:  q.ContextKind,
		ContextKey:   q.ContextKey,
		WindowAfter:  q.After,
		WindowBefore: q.Before,
		StartedAt:    s.now().UTC(),
	}
	log := s.logger.With("run_id", run.ID, "context_kind", q.ContextKind)
	log.Info("scanning audit log", "after", q.After, "before", q.Before)

	reader := s.source.Entries(ldapi.AuditLogQuery{
		After:      q.After,
		Before:     q.Before,
		Limit:      s.cfg.PageSize,
		Statements: ldapi.TargetUpdates,
	})

	var found []domain.ChangeRecord
	for reader.HasMore() {
		batch, err := reader.Next(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("read audit log page %d: %w", reader.Pages()+1, err)
		}
		s.observePage()
		log.Debug("fetched audit log page", "page", reader.Pages(), "entries", len(batch))

		for _, entry := range batch {
			detail, err := s.detail(ctx, entry.ID)
			if err != nil {
				return Result{}, err
			}
			run.EntriesScanned++
			s.observeEntry()

			records := BuildRecords(entry, detail, q.ContextKind, q.ContextKey)
			for _, record := range records {
				s.observeChange(record.Action)
				log.Debug("targeting change",
					"entry_id", record.EntryID,
					"flag", record.Flag,
					"environment", record.Environment,
					"action", string(record.Action),
				)
			}
			found = append(found, records...)
		}
	}

	run.PagesFetched = reader.Pages()
	run.ChangesFound = len(found)
	run.CompletedAt = s.now().UTC()

	if s.store != nil {
		if err := s.store.SaveScan(ctx, &run, found); err != nil {
			return Result{}, fmt.Errorf("persist scan: %w", err)
		}
	}

	log.Info("scan complete",
		"pages", run.PagesFetched,
		"entries", run.EntriesScanned,
		"changes", run.ChangesFound,
		"duration", run.CompletedAt.Sub(run.StartedAt).String(),
	)
	return Result{Run: run, Changes: found}, nil
}

// History returns previously stored changes for a context.
func (s *Service) History(ctx context.Context, kind, key string, limit int) ([]domain.ChangeRecord, error) {
	if s.store == nil {
		return nil, errors.New("no change store configured")
	}
	if strings.TrimSpace(kind) == "" {
		return nil, errMissingContextKind
	}
	if strings.TrimSpace(key) == "" {
		return nil, errMissingContextKey
	}
	return s.store.ListChanges(ctx, kind, key, limit)
}

func (s *Service) detail(ctx context.Context, id string) (ldapi.AuditLogEntry, error) {
	if s.cache != nil {
		if entry, ok := s.cache.Get(ctx, id); ok {
			return entry, nil
		}
	}
	entry, err := s.source.GetAuditLogEntry(ctx, id)
	if err != nil {
		return ldapi.AuditLogEntry{}, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, entry)
	}
	return entry, nil
}

func (s *Service) observePage() {
	if s.metrics != nil {
		s.metrics.ObservePage()
	}
}

func (s *Service) observeEntry() {
	if s.metrics != nil {
		s.metrics.ObserveEntry()
	}
}

func (s *Service) observeChange(action domain.ChangeAction) {
	if s.metrics != nil {
		s.metrics.ObserveChange(string(action))
	}
}
