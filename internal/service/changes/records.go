package changes

import (
	"fmt"
	"strings"

	"github.com/launchdarkly-labs/ld-toolkit/internal/domain"
	"github.com/launchdarkly-labs/ld-toolkit/internal/targeting"
	"github.com/launchdarkly-labs/ld-toolkit/pkg/ldapi"
)

const unknownActor = "unknown"

// SnapshotOf converts a flag version to the per-environment rules the diff inspects.
func SnapshotOf(version *ldapi.FlagVersion) targeting.Snapshot {
	if version == nil {
		return nil
	}
	snap := make(targeting.Snapshot, len(version.Environments))
	for env, settings := range version.Environments {
		rules := make([]targeting.Rule, 0, len(settings.ContextTargets))
		for _, target := range settings.ContextTargets {
			rules = append(rules, targeting.Rule{
				ContextKind: target.ContextKind,
				Values:      target.Values,
				Variation:   target.Variation,
			})
		}
		snap[env] = rules
	}
	return snap
}

// BuildRecords diffs a detailed entry for one context. listing is the entry as
// returned by the audit log listing and supplies date, name and actor; detail
// supplies the versions and canonical link.
func BuildRecords(listing, detail ldapi.AuditLogEntry, kind, key string) []domain.ChangeRecord {
	diffs := targeting.Diff(SnapshotOf(detail.PreviousVersion), SnapshotOf(detail.CurrentVersion), kind, key)
	if len(diffs) == 0 {
		return nil
	}

	project, flag := SplitCanonical(detail.CanonicalPath())
	date := listing.OccurredAt()
	if listing.Date == 0 {
		date = detail.OccurredAt()
	}
	name := listing.Name
	if name == "" {
		name = detail.Name
	}
	member := listing.Member
	if member == nil {
		member = detail.Member
	}
	entryID := listing.ID
	if entryID == "" {
		entryID = detail.ID
	}

	records := make([]domain.ChangeRecord, 0, len(diffs))
	for _, diff := range diffs {
		records = append(records, domain.ChangeRecord{
			EntryID:     entryID,
			Date:        date,
			Project:     project,
			Environment: diff.Environment,
			Flag:        flag,
			FlagName:    name,
			Actor:       Actor(member),
			Action:      diff.Action,
			Variations: domain.VariationDelta{
				Previous: diff.Previous,
				Current:  diff.Current,
			},
		})
	}
	return records
}

// SplitCanonical returns the last two segments of a canonical resource path
// such as /api/v2/flags/{project}/{flag}.
func SplitCanonical(href string) (project, flag string) {
	if i := strings.IndexByte(href, '?'); i >= 0 {
		href = href[:i]
	}
	parts := strings.Split(strings.TrimRight(href, "/"), "/")
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}

// Actor formats a member as "First Last (email)".
func Actor(m *ldapi.Member) string {
	if m == nil {
		return unknownActor
	}
	name := strings.TrimSpace(m.FirstName + " " + m.LastName)
	switch {
	case name == "" && m.Email == "":
		return unknownActor
	case name == "":
		return m.Email
	}
	return fmt.Sprintf("%s (%s)", name, m.Email)
}
