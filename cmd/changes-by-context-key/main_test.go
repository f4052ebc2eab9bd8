package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly-labs/ld-toolkit/pkg/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"LD_API_KEY", "LD_API_ENDPOINT", "DATABASE_URL", "DB_MIGRATIONS_DIR", "DB_AUTO_MIGRATE", "CACHE_REDIS_ADDR", "METRICS_TEXTFILE", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

func TestRunRequiresAPIKey(t *testing.T) {
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"user", "u1"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "LD_API_KEY") {
		t.Fatalf("expected credential hint, got %q", stderr.String())
	}
}

func TestRunRequiresTwoArguments(t *testing.T) {
	clearEnv(t)
	t.Setenv("LD_API_KEY", "api-key")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"user"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "<contextKind> <contextKey>") {
		t.Fatalf("expected usage, got %q", stderr.String())
	}
}

func TestRunPrintsChanges(t *testing.T) {
	clearEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "api-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v2/auditlog":
			fmt.Fprint(w, `{"items":[{"_id":"e1","date":1700000000000,"name":"New checkout",
				"member":{"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com"}}],"_links":{}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v2/auditlog/e1":
			fmt.Fprint(w, `{"_id":"e1","_links":{"canonical":{"href":"/api/v2/flags/web/new-checkout"}},
				"previousVersion":{"environments":{"production":{"contextTargets":[]}}},
				"currentVersion":{"environments":{"production":{"contextTargets":[
					{"contextKind":"user","values":["u1"],"variation":1}]}}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Setenv("LD_API_KEY", "api-key")
	t.Setenv("LD_API_ENDPOINT", srv.URL)
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"user", "u1"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	want := "date\tproject\tenvironment\tflag\tprevious variations\tcurrent variations\n" +
		"2023-11-14T22:13:20.000Z\tweb\tproduction\tnew-checkout\t-\t1\n"
	if stdout.String() != want {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestRunNoChanges(t *testing.T) {
	clearEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[],"_links":{}}`)
	}))
	defer srv.Close()

	t.Setenv("LD_API_KEY", "api-key")
	t.Setenv("LD_API_ENDPOINT", srv.URL)
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"user", "u1"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	if stdout.String() != "No changes found\n" {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestRunFatalStatusExits(t *testing.T) {
	clearEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"forbidden"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	t.Setenv("LD_API_KEY", "api-key")
	t.Setenv("LD_API_ENDPOINT", srv.URL)
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"user", "u1"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected no output on failure, got %q", stdout.String())
	}
}

func TestRunUnreachableStoreFailsBeforeScanning(t *testing.T) {
	clearEnv(t)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"items":[],"_links":{}}`)
	}))
	defer srv.Close()

	t.Setenv("LD_API_KEY", "api-key")
	t.Setenv("LD_API_ENDPOINT", srv.URL)
	t.Setenv("DATABASE_URL", "postgres://scanner@127.0.0.1:1/changes?sslmode=disable&connect_timeout=1")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"user", "u1"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if calls != 0 {
		t.Fatalf("expected no audit log requests, got %d", calls)
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected no output, got %q", stdout.String())
	}
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if strings.TrimSpace(stdout.String()) != buildVersion {
		t.Fatalf("unexpected version output %q", stdout.String())
	}
}

func TestResolveWindow(t *testing.T) {
	now := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	cfg := config.AuditConfig{WindowDays: 30}

	after, before, err := resolveWindow(options{}, cfg, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !before.Equal(now) || !after.Equal(now.AddDate(0, 0, -30)) {
		t.Fatalf("unexpected default window %s..%s", after, before)
	}

	after, _, err = resolveWindow(options{days: 7}, cfg, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !after.Equal(now.AddDate(0, 0, -7)) {
		t.Fatalf("expected 7 day window, got %s", after)
	}

	after, before, err = resolveWindow(options{before: "2024-04-10T00:00:00Z"}, cfg, now)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !before.Equal(time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)) || !after.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected shifted window %s..%s", after, before)
	}

	if _, _, err := resolveWindow(options{after: "2024-05-01T00:00:00Z"}, cfg, now); err == nil {
		t.Fatal("expected error when after is later than before")
	}
	if _, _, err := resolveWindow(options{after: "yesterday"}, cfg, now); err == nil {
		t.Fatal("expected parse error")
	}
}
