package dispatch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGenerateReadme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs", "README_webhook.md")
	example := mkLead("INS-7")
	example.FetchedAt = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	example.Row = map[string]string{"numero_d_installation": "INS-7", "nom": "Martin"}

	if err := GenerateReadme(example, path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{"`numero_d_installation`", "`nom`", "INS-7", "at-least-once"} {
		if !strings.Contains(text, want) {
			t.Errorf("readme missing %q", want)
		}
	}
}
