package ldapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const auditLogPath = "api/v2/auditlog"

// Link is a HAL style hyperlink.
type Link struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// EntryLinks are the links attached to an audit log entry.
type EntryLinks struct {
	Self      *Link `json:"self,omitempty"`
	Parent    *Link `json:"parent,omitempty"`
	Canonical *Link `json:"canonical,omitempty"`
}

// Member identifies the account that made a change.
type Member struct {
	ID        string `json:"_id,omitempty"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ContextTarget is one individual-targeting rule of a flag environment.
type ContextTarget struct {
	ContextKind string   `json:"contextKind"`
	Values      []string `json:"values"`
	Variation   int      `json:"variation"`
}

// FlagEnvironment holds the targeting of a flag in one environment.
type FlagEnvironment struct {
	ContextTargets []ContextTarget `json:"contextTargets"`
}

// FlagVersion is a snapshot of a flag attached to a detailed audit entry.
type FlagVersion struct {
	Environments map[string]FlagEnvironment `json:"environments"`
}

// AuditLogEntry is one recorded change. Listing responses omit the versions.
type AuditLogEntry struct {
	ID              string       `json:"_id"`
	Date            int64        `json:"date"`
	Kind            string       `json:"kind"`
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	Member          *Member      `json:"member,omitempty"`
	Links           EntryLinks   `json:"_links"`
	PreviousVersion *FlagVersion `json:"previousVersion,omitempty"`
	CurrentVersion  *FlagVersion `json:"currentVersion,omitempty"`
}

// OccurredAt converts the epoch millisecond date to a UTC time.
func (e AuditLogEntry) OccurredAt() time.Time {
	return time.UnixMilli(e.Date).UTC()
}

// CanonicalPath returns the canonical resource path or an empty string.
func (e AuditLogEntry) CanonicalPath() string {
	if e.Links.Canonical == nil {
		return ""
	}
	return e.Links.Canonical.Href
}

// AuditLogPage is one page of the audit log listing.
type AuditLogPage struct {
	Items []AuditLogEntry `json:"items"`
	Links struct {
		Next *Link `json:"next,omitempty"`
		Self *Link `json:"self,omitempty"`
	} `json:"_links"`
}

// NextHref returns the continuation link, empty on the last page.
func (p AuditLogPage) NextHref() string {
	if p.Links.Next == nil {
		return ""
	}
	return strings.TrimSpace(p.Links.Next.Href)
}

// Statement is a policy statement used to filter the audit log.
type Statement struct {
	Resources []string `json:"resources"`
	Actions   []string `json:"actions"`
	Effect    string   `json:"effect"`
}

// TargetUpdates matches targeting changes on every flag of every project and environment.
var TargetUpdates = []Statement{{
	Resources: []string{"proj/*:env/*:flag/*"},
	Actions:   []string{"updateTargets"},
	Effect:    "allow",
}}

// AuditLogQuery bounds an audit log listing.
type AuditLogQuery struct {
	After      time.Time
	Before     time.Time
	Limit      int
	Statements []Statement
}

func (q AuditLogQuery) path() string {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	values := url.Values{}
	values.Set("limit", strconv.Itoa(limit))
	if !q.After.IsZero() {
		values.Set("after", strconv.FormatInt(q.After.UnixMilli(), 10))
	}
	if !q.Before.IsZero() {
		values.Set("before", strconv.FormatInt(q.Before.UnixMilli(), 10))
	}
	return auditLogPath + "?" + values.Encode()
}

// ListAuditLogPage fetches the page at path, filtered by the policy statements.
// The listing endpoint takes the filter as a POST body.
func (c *Client) ListAuditLogPage(ctx context.Context, path string, statements []Statement) (AuditLogPage, error) {
	var page AuditLogPage
	if statements == nil {
		statements = TargetUpdates
	}
	body, err := json.Marshal(statements)
	if err != nil {
		return page, fmt.Errorf("encode audit log filter: %w", err)
	}
	if err := c.doJSON(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, &page); err != nil {
		return AuditLogPage{}, fmt.Errorf("list audit log: %w", err)
	}
	return page, nil
}

// GetAuditLogEntry fetches one entry with its previous and current versions.
func (c *Client) GetAuditLogEntry(ctx context.Context, id string) (AuditLogEntry, error) {
	var entry AuditLogEntry
	id = strings.TrimSpace(id)
	if id == "" {
		return entry, errors.New("audit log entry id required")
	}
	path := auditLogPath + "/" + url.PathEscape(id)
	if err := c.doJSON(ctx, Request{Method: http.MethodGet, Path: path}, &entry); err != nil {
		return AuditLogEntry{}, fmt.Errorf("get audit log entry %s: %w", id, err)
	}
	return entry, nil
}

// AuditLogReader walks an audit log listing one page at a time.
// It is not safe for concurrent use.
type AuditLogReader struct {
	client     *Client
	cursor     string
	statements []Statement
	done       bool
	pages      int
}

// NewAuditLogReader returns a reader positioned at the first page of q.
func (c *Client) NewAuditLogReader(q AuditLogQuery) *AuditLogReader {
	return &AuditLogReader{
		client:     c,
		cursor:     q.path(),
		statements: q.Statements,
	}
}

// HasMore reports whether another page may be fetched.
func (r *AuditLogReader) HasMore() bool {
	return !r.done
}

// Pages returns the number of pages fetched so far.
func (r *AuditLogReader) Pages() int {
	return r.pages
}

// Next fetches the page under the cursor and advances to the continuation link.
// A failed fetch leaves the cursor unchanged. A continuation equal to the
// current cursor ends the walk.
func (r *AuditLogReader) Next(ctx context.Context) ([]AuditLogEntry, error) {
	if r.done {
		return nil, ErrReaderExhausted
	}
	page, err := r.client.ListAuditLogPage(ctx, r.cursor, r.statements)
	if err != nil {
		return nil, err
	}
	r.pages++
	if next := page.NextHref(); next != "" && next != r.cursor {
		r.cursor = next
	} else {
		r.done = true
	}
	return page.Items, nil
}
