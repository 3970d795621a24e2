package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/energum/leadwatch/lead"
)

// GenerateReadme writes a webhook integration guide to path, using example
// as the sample payload. Regenerated after each run that found leads so the
// documented fields always match what the portal currently exposes.
func GenerateReadme(example lead.Lead, path string) error {
	payload, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return fmt.Errorf("dispatch: marshal example lead: %w", err)
	}

	fields := make([]string, 0, len(example.Row))
	for k := range example.Row {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("# Webhook payload reference\n\n")
	fmt.Fprintf(&b, "Generated %s from a live extraction.\n\n",
		time.Now().UTC().Format("2006-01-02 15:04 UTC"))
	b.WriteString("Each new lead is delivered as a single HTTP POST with\n")
	b.WriteString("`Content-Type: application/json` and the body below.\n")
	b.WriteString("Delivery is at-least-once: duplicate posts for the same\n")
	b.WriteString("`key` are possible and must be ignored by the consumer.\n\n")
	b.WriteString("## Envelope\n\n")
	b.WriteString("| Field | Meaning |\n|---|---|\n")
	b.WriteString("| `source` | Table label the lead came from |\n")
	b.WriteString("| `key` | Stable dedup key, unique per lead |\n")
	b.WriteString("| `fetched_at` | Extraction time, RFC 3339 |\n")
	b.WriteString("| `url` | Portal page the lead was read from |\n")
	b.WriteString("| `row_index` | Position in the source table |\n")
	b.WriteString("| `row` | Raw table columns, normalized names |\n\n")
	b.WriteString("## Row fields currently seen\n\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	b.WriteString("\nColumn names are normalized (lowercase, accents stripped,\n")
	b.WriteString("separators collapsed to `_`), so they stay stable even when\n")
	b.WriteString("the portal tweaks display labels.\n\n")
	b.WriteString("## Example payload\n\n```json\n")
	b.Write(payload)
	b.WriteString("\n```\n")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("dispatch: mkdir readme dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("dispatch: write readme: %w", err)
	}
	return nil
}
