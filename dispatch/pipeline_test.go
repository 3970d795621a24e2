package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/energum/leadwatch/lead"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSink records sent keys and fails the keys listed in fail.
type fakeSink struct {
	sent []string
	fail map[string]bool
}

func (f *fakeSink) Send(_ context.Context, l lead.Lead) error {
	if f.fail[l.Key] {
		return fmt.Errorf("%w: simulated outage", ErrNotification)
	}
	f.sent = append(f.sent, l.Key)
	return nil
}

func mkLead(key string) lead.Lead {
	return lead.Lead{
		Source:    "tesla.com",
		Key:       key,
		FetchedAt: time.Now(),
		Row:       map[string]string{"id": key},
	}
}

func TestPipeline_DedupAcrossRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	sink := &fakeSink{}
	p := NewPipeline(path, "", sink, discardLog())

	n, err := p.Process(ctx, []lead.Lead{mkLead("A"), mkLead("B")})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("first run delivered %d, want 2", n)
	}

	// Second run sees the same rows plus one new one.
	n, err = p.Process(ctx, []lead.Lead{mkLead("A"), mkLead("B"), mkLead("C")})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("second run delivered %d, want only the new lead", n)
	}
	if len(sink.sent) != 3 {
		t.Errorf("sink saw %v, want A B C exactly once each", sink.sent)
	}
}

func TestPipeline_FailedDeliveryRetriesNextRun(t *testing.T) {
	// WHY: at-least-once delivery. A failed key must stay out of the
	// seen set so the next run sends it again; the rest of the batch
	// is unaffected.
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	sink := &fakeSink{fail: map[string]bool{"B": true}}
	p := NewPipeline(path, "", sink, discardLog())

	n, err := p.Process(ctx, []lead.Lead{mkLead("A"), mkLead("B"), mkLead("C")})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("delivered %d, want 2 with B failing", n)
	}

	sink.fail = nil
	n, err = p.Process(ctx, []lead.Lead{mkLead("A"), mkLead("B"), mkLead("C")})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("retry run delivered %d, want only B", n)
	}
	if sink.sent[len(sink.sent)-1] != "B" {
		t.Errorf("sink saw %v, want B redelivered last", sink.sent)
	}
}

func TestPipeline_LeadLogRecordsEveryLead(t *testing.T) {
	// WHAT: the audit log gets one JSON line per observed lead, including
	// already-seen ones on later runs.
	ctx := context.Background()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "leads.log")
	p := NewPipeline(filepath.Join(dir, "state.json"), logPath, &fakeSink{}, discardLog())

	if _, err := p.Process(ctx, []lead.Lead{mkLead("A")}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Process(ctx, []lead.Lead{mkLead("A")}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(lines))
	}
	var logged lead.Lead
	if err := json.Unmarshal([]byte(lines[0]), &logged); err != nil {
		t.Fatal(err)
	}
	if logged.Key != "A" {
		t.Errorf("logged key = %q", logged.Key)
	}
}

func TestNotifier_PostsJSON(t *testing.T) {
	var gotCT string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewNotifier(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Send(context.Background(), mkLead("INS-42")); err != nil {
		t.Fatal(err)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if len(gotBody) == 0 {
		t.Error("empty body posted")
	}
}

func TestNotifier_Non2xxWrapsErrNotification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewNotifier(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	err = n.Send(context.Background(), mkLead("X"))
	if !errors.Is(err, ErrNotification) {
		t.Fatalf("err = %v, want ErrNotification", err)
	}
}

func TestNewNotifier_RequiresURL(t *testing.T) {
	if _, err := NewNotifier(""); err == nil {
		t.Fatal("empty URL should fail at construction")
	}
}
