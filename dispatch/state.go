// Package dispatch deduplicates extracted leads against a persisted set of
// seen keys and forwards new ones to the notification sink.
//
// Delivery is at-least-once: a key joins the seen set only after its lead
// was delivered, so a failed delivery is retried on the next run. Duplicate
// deliveries are possible when the process dies between delivery and state
// save; consumers must tolerate replays.
package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SeenKeys is the set of lead keys already dispatched.
type SeenKeys map[string]struct{}

// stateFile is the on-disk shape of the dedup state.
type stateFile struct {
	SeenKeys []string `json:"seen_keys"`
}

// LoadState reads the seen-key set from path. A missing or unreadable file
// yields an empty set, never an error: worst case the next run re-notifies,
// which the at-least-once contract already allows.
func LoadState(path string) SeenKeys {
	seen := make(SeenKeys)
	data, err := os.ReadFile(path)
	if err != nil {
		return seen
	}
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return seen
	}
	for _, k := range sf.SeenKeys {
		seen[k] = struct{}{}
	}
	return seen
}

// SaveState writes the seen-key set to path atomically (temp file + rename)
// so a crash mid-write never leaves a truncated state file.
func SaveState(path string, seen SeenKeys) error {
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data, err := json.MarshalIndent(stateFile{SeenKeys: keys}, "", "  ")
	if err != nil {
		return fmt.Errorf("dispatch: marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("dispatch: mkdir state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("dispatch: temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("dispatch: write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("dispatch: close state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("dispatch: rename state: %w", err)
	}
	return nil
}
