package domain

import "time"

// ChangeAction classifies how a context's targeting changed in one environment.
type ChangeAction string

const (
	ChangeActionAdded   ChangeAction = "added"
	ChangeActionRemoved ChangeAction = "removed"
	ChangeActionChanged ChangeAction = "changed"
)

// Phrase renders the action for human readable output.
func (a ChangeAction) Phrase() string {
	switch a {
	case ChangeActionAdded:
		return "added to"
	case ChangeActionRemoved:
		return "removed from"
	case ChangeActionChanged:
		return "variation changed in"
	default:
		return string(a)
	}
}

// Valid reports whether a is one of the known actions.
func (a ChangeAction) Valid() bool {
	switch a {
	case ChangeActionAdded, ChangeActionRemoved, ChangeActionChanged:
		return true
	}
	return false
}

// VariationDelta holds the sorted variation indices serving a context before and after a change.
type VariationDelta struct {
	Previous []int
	Current  []int
}

// ChangeRecord is one detected targeting change for a context in one environment.
type ChangeRecord struct {
	EntryID     string
	Date        time.Time
	Project     string
	Environment string
	Flag        string
	FlagName    string
	Actor       string
	Action      ChangeAction
	Variations  VariationDelta
}

// ScanRun summarises a completed scan of the audit log.
type ScanRun struct {
	ID             string
	ContextKind    string
	ContextKey     string
	WindowAfter    time.Time
	WindowBefore   time.Time
	EntriesScanned int
	PagesFetched   int
	ChangesFound   int
	StartedAt      time.Time
	CompletedAt    time.Time
}
