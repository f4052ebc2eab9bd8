package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/launchdarkly-labs/ld-toolkit/internal/domain"
)

func sampleRecords() []domain.ChangeRecord {
	return []domain.ChangeRecord{
		{
			Date:        time.UnixMilli(1_700_000_000_123),
			Project:     "web",
			Environment: "production",
			Flag:        "new-checkout",
			Actor:       "Ada Lovelace (ada@example.com)",
			Action:      domain.ChangeActionAdded,
			Variations:  domain.VariationDelta{Current: []int{1}},
		},
		{
			Date:        time.UnixMilli(1_700_000_100_000),
			Project:     "mobile",
			Environment: "staging",
			Flag:        "banner",
			Actor:       "Ada Lovelace (ada@example.com)",
			Action:      domain.ChangeActionChanged,
			Variations:  domain.VariationDelta{Previous: []int{0, 2}, Current: []int{1}},
		},
	}
}

func TestWriteTSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatTSV, sampleRecords()); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "date\tproject\tenvironment\tflag\tprevious variations\tcurrent variations\n" +
		"2023-11-14T22:13:20.123Z\tweb\tproduction\tnew-checkout\t-\t1\n" +
		"2023-11-14T22:15:00.000Z\tmobile\tstaging\tbanner\t0,2\t1\n"
	if buf.String() != want {
		t.Fatalf("unexpected output:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatText, sampleRecords()[:1]); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "2023-11-14T22:13:20.123Z Ada Lovelace (ada@example.com): added to production web/new-checkout (- -> 1)\n"
	if buf.String() != want {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestWriteNoChanges(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatTSV, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "No changes found\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatTSV {
		t.Fatalf("expected tsv default, got %q %v", f, err)
	}
	if f, err := ParseFormat("TEXT"); err != nil || f != FormatText {
		t.Fatalf("expected text, got %q %v", f, err)
	}
	if _, err := ParseFormat("json"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
