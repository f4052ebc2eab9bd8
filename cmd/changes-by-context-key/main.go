package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/term"

	"github.com/launchdarkly-labs/ld-toolkit/internal/app/migrate"
	"github.com/launchdarkly-labs/ld-toolkit/internal/cache"
	"github.com/launchdarkly-labs/ld-toolkit/internal/domain"
	"github.com/launchdarkly-labs/ld-toolkit/internal/metrics"
	"github.com/launchdarkly-labs/ld-toolkit/internal/report"
	"github.com/launchdarkly-labs/ld-toolkit/internal/repository/postgres"
	"github.com/launchdarkly-labs/ld-toolkit/internal/service/changes"
	"github.com/launchdarkly-labs/ld-toolkit/pkg/config"
	"github.com/launchdarkly-labs/ld-toolkit/pkg/ldapi"
	"github.com/launchdarkly-labs/ld-toolkit/pkg/logger"
)

const serviceName = "changes-by-context-key"

var buildVersion = "dev"

var errUsage = errors.New("usage")

type options struct {
	days      int
	after     string
	before    string
	pageSize  int
	format    string
	promptKey bool
	history   bool
	limit     int
	version   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseArgs(args []string, stderr io.Writer) (options, []string, error) {
	var opts options
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&opts.days, "days", 0, "Window length in days ending now (default LD_WINDOW_DAYS or 30)")
	fs.StringVar(&opts.after, "after", "", "Window start, RFC 3339")
	fs.StringVar(&opts.before, "before", "", "Window end, RFC 3339 (default now)")
	fs.IntVar(&opts.pageSize, "page-size", 0, "Audit log page size (default LD_PAGE_SIZE or 20)")
	fs.StringVar(&opts.format, "format", "tsv", "Output format: tsv or text")
	fs.BoolVar(&opts.promptKey, "prompt-key", false, "Prompt for the API key when LD_API_KEY is unset")
	fs.BoolVar(&opts.history, "history", false, "Print changes stored by earlier scans instead of scanning")
	fs.IntVar(&opts.limit, "limit", 100, "Maximum stored changes printed with -history")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")
	fs.Usage = func() { printUsage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	if opts.version {
		return opts, nil, nil
	}
	if fs.NArg() != 2 {
		printUsage(stderr, fs)
		return opts, nil, errUsage
	}
	return opts, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, positional, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}
	if opts.version {
		fmt.Fprintln(stdout, strings.TrimSpace(buildVersion))
		return 0
	}
	contextKind, contextKey := positional[0], positional[1]

	format, err := report.ParseFormat(opts.format)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	cfg := config.LoadAuditConfig()
	log := logger.NewWithWriter(stderr, serviceName, logger.ParseLevel(cfg.LogLevel))

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && opts.promptKey {
		apiKey, err = promptAPIKey(stderr)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	}
	if apiKey == "" && !opts.history {
		fmt.Fprintln(stderr, "Please set LD_API_KEY environment variable")
		return 1
	}

	after, before, err := resolveWindow(opts, cfg, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if opts.pageSize > 0 {
		cfg.PageSize = opts.pageSize
	}

	recorder := metrics.New()
	svcOpts := []changes.Option{changes.WithRecorder(recorder)}

	if cfg.CacheRedisAddr != "" {
		entryCache, err := cache.NewRedisEntryCache(cfg.CacheRedisAddr, cfg.CacheRedisPass, cfg.CacheRedisDB, cfg.CacheTTL, log)
		if err != nil {
			log.Warn("audit entry cache unavailable, fetching every entry", "error", err)
		} else {
			defer entryCache.Close()
			svcOpts = append(svcOpts, changes.WithCache(entryCache))
		}
	}

	if cfg.DatabaseURL != "" {
		pool, err := openStore(ctx, cfg, log)
		if err != nil {
			log.Error("change store unavailable", "error", err)
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer pool.Close()
		svcOpts = append(svcOpts, changes.WithStore(postgres.New(pool)))
	}

	var source changes.Source
	if apiKey != "" {
		client, err := ldapi.New(cfg.APIEndpoint, apiKey,
			ldapi.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
			ldapi.WithLogger(log),
			ldapi.WithRetryPolicy(ldapi.RetryPolicy{
				RateLimitWait:    cfg.RateLimitDefaultWait,
				RateLimitMaxWait: cfg.RateLimitMaxWait,
				ServerRetryDelay: cfg.ServerRetryDelay,
				MaxAttempts:      cfg.MaxAttempts,
			}),
			ldapi.WithRequestsPerSecond(cfg.RequestsPerSecond),
			ldapi.WithObserver(recorder),
		)
		if err != nil {
			log.Error("failed to configure launchdarkly client", "error", err)
			return 1
		}
		log.Debug("launchdarkly client configured", "base_url", client.BaseURL())
		source = changes.NewSource(client)
	}
	svc := changes.New(source, log, changes.Config{PageSize: cfg.PageSize}, svcOpts...)

	var records []domain.ChangeRecord
	if opts.history {
		records, err = svc.History(ctx, contextKind, contextKey, opts.limit)
	} else {
		var result changes.Result
		result, err = svc.Find(ctx, changes.Query{
			ContextKind: contextKind,
			ContextKey:  contextKey,
			After:       after,
			Before:      before,
		})
		records = result.Changes
	}
	if err != nil {
		logFailure(log, err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := report.Write(stdout, format, records); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if err := recorder.WriteTextfile(cfg.MetricsTextfile); err != nil {
		log.Warn("failed to write metrics", "path", cfg.MetricsTextfile, "error", err)
	}
	return 0
}

// openStore connects to the change store and brings its schema up to date
// before any audit log request is made.
func openStore(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("configure migrations: %w", err)
	}
	if err := runner.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}

func resolveWindow(opts options, cfg config.AuditConfig, now time.Time) (time.Time, time.Time, error) {
	if opts.days > 0 {
		cfg.WindowDays = opts.days
	}
	after, before := cfg.Window(now)
	if opts.before != "" {
		parsed, err := time.Parse(time.RFC3339, opts.before)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -before: %w", err)
		}
		before = parsed
		if opts.after == "" {
			after = before.Add(after.Sub(now))
		}
	}
	if opts.after != "" {
		parsed, err := time.Parse(time.RFC3339, opts.after)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -after: %w", err)
		}
		after = parsed
	}
	if after.After(before) {
		return time.Time{}, time.Time{}, errors.New("-after must not be later than -before")
	}
	return after, before, nil
}

func promptAPIKey(stderr io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("-prompt-key requires an interactive terminal")
	}
	fmt.Fprint(stderr, "LaunchDarkly API key: ")
	bytes, err := term.ReadPassword(fd)
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(string(bytes)), nil
}

func logFailure(log *slog.Logger, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		log.Warn("scan interrupted")
	case errors.Is(err, ldapi.ErrUnauthorized):
		log.Error("launchdarkly rejected the api key", "error", err)
	case errors.Is(err, ldapi.ErrRetriesExhausted):
		log.Error("launchdarkly kept failing, giving up", "error", err)
	default:
		log.Error("scan failed", "error", err)
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "%s %s\n\n", serviceName, buildVersion)
	fmt.Fprintf(w, "Usage:\n  %s [flags] <contextKind> <contextKey>\n\n", serviceName)
	fmt.Fprintln(w, "Lists targeting changes for one context recorded in the LaunchDarkly audit log.")
	fmt.Fprintln(w, "The API key is read from LD_API_KEY.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}
