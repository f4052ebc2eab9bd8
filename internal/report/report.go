package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/launchdarkly-labs/ld-toolkit/internal/domain"
)

const (
	// DateLayout matches ISO 8601 with millisecond precision in UTC.
	DateLayout = "2006-01-02T15:04:05.000Z07:00"

	header    = "date\tproject\tenvironment\tflag\tprevious variations\tcurrent variations"
	noChanges = "No changes found"
)

// Format selects how records are printed.
type Format string

const (
	FormatTSV  Format = "tsv"
	FormatText Format = "text"
)

// ParseFormat validates a format name.
func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case "", FormatTSV:
		return FormatTSV, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want tsv or text)", value)
	}
}

// Write prints records to w in the given format.
func Write(w io.Writer, format Format, records []domain.ChangeRecord) error {
	bw := bufio.NewWriter(w)
	if len(records) == 0 {
		fmt.Fprintln(bw, noChanges)
		return bw.Flush()
	}
	if format == FormatText {
		for _, r := range records {
			fmt.Fprintf(bw, "%s %s: %s %s %s/%s (%s -> %s)\n",
				FormatDate(r.Date),
				r.Actor,
				r.Action.Phrase(),
				r.Environment,
				r.Project,
				r.Flag,
				Variations(r.Variations.Previous),
				Variations(r.Variations.Current),
			)
		}
		return bw.Flush()
	}

	fmt.Fprintln(bw, header)
	for _, r := range records {
		fmt.Fprintln(bw, strings.Join([]string{
			FormatDate(r.Date),
			r.Project,
			r.Environment,
			r.Flag,
			Variations(r.Variations.Previous),
			Variations(r.Variations.Current),
		}, "\t"))
	}
	return bw.Flush()
}

// Variations joins variation indices with commas, or "-" when empty.
func Variations(values []int) string {
	if len(values) == 0 {
		return "-"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// FormatDate renders t the way Write does.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
