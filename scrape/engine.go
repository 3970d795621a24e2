// Package scrape drives the browser through one extraction run: navigate,
// authenticate, wait for the client-side framework to settle, locate the
// lead tables and turn their rows into leads.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/energum/leadwatch/config"
	"github.com/energum/leadwatch/lead"
	"github.com/energum/leadwatch/runlog"
	"github.com/energum/leadwatch/scrape/internal/login"
	"github.com/energum/leadwatch/scrape/internal/table"
)

// ErrAuthentication is fatal: the run aborts and the process should exit
// with a distinct code. See login.ErrAuthentication.
var ErrAuthentication = login.ErrAuthentication

// tableSelectors, in priority order. The portal renders proper tables
// today; the ARIA fallbacks cover a framework swap.
var tableSelectors = []string{"table", `[role="grid"]`, `[role="table"]`}

// renderSettle is the pause after all readiness signals, absorbing the
// last async row fills.
const renderSettle = 2 * time.Second

// Engine runs extractions against one configured portal.
type Engine struct {
	cfg      *config.Config
	ledger   *runlog.Ledger
	progress *runlog.Progress
	resolver lead.Resolver
	log      *slog.Logger

	// open is the production browser; swapped in tests.
	open func(ctx context.Context) (portalSession, error)
}

// New wires an Engine. The ledger and progress feed receive phase updates
// as the run advances.
func New(cfg *config.Config, ledger *runlog.Ledger, progress *runlog.Progress, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		ledger:   ledger,
		progress: progress,
		resolver: lead.Resolver{HashLen: cfg.KeyHashLen},
		log:      log,
	}
	e.open = func(ctx context.Context) (portalSession, error) {
		return openRodSession(ctx, cfg, log, e.say)
	}
	return e
}

// Run performs one full extraction. The returned leads are every row the
// portal showed; deduplication happens downstream. A page with no lead
// tables is a successful run with zero leads. The run record is always
// finished exactly once, success or failed.
func (e *Engine) Run(ctx context.Context) (leads []lead.Lead, err error) {
	runID, err := e.ledger.StartRun(ctx)
	if err != nil {
		return nil, err
	}
	e.say("run %s started", runID)

	defer func() {
		if err != nil {
			e.say("run %s failed: %v", runID, err)
			if ferr := e.ledger.Finish(ctx, runID, runlog.StatusFailed, err.Error()); ferr != nil && !errors.Is(ferr, runlog.ErrNotPending) {
				e.log.Error("finish run record", "run", runID, "error", ferr)
			}
			return
		}
		details := fmt.Sprintf("%d leads", len(leads))
		e.say("run %s succeeded: %s", runID, details)
		if ferr := e.ledger.Finish(ctx, runID, runlog.StatusSuccess, details); ferr != nil && !errors.Is(ferr, runlog.ErrNotPending) {
			e.log.Error("finish run record", "run", runID, "error", ferr)
			err = ferr
		}
	}()

	session, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	// Connection: navigate then authenticate. Both fatal on failure.
	e.phaseConn(ctx, runID, runlog.PhaseNavigating)
	if err := session.Navigate(); err != nil {
		return nil, err
	}

	e.phaseConn(ctx, runID, runlog.PhaseAuthenticating)
	if err := session.Authenticate(ctx); err != nil {
		return nil, err
	}
	e.phaseConn(ctx, runID, runlog.PhaseConnected)

	// Evidence screenshot. Failure is logged, never fatal.
	if path, serr := e.screenshot(session, runID); serr != nil {
		e.log.Warn("screenshot failed", "run", runID, "error", serr)
	} else if uerr := e.ledger.SetScreenshot(ctx, runID, path); uerr != nil {
		e.log.Warn("record screenshot path", "run", runID, "error", uerr)
	}

	// Extraction.
	e.phaseExtr(ctx, runID, runlog.PhaseAwaitingRender)
	session.AwaitRender()

	e.phaseExtr(ctx, runID, runlog.PhaseLocatingTables)
	tables, err := session.Tables()
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		e.say("no lead tables on page, nothing to extract")
		e.phaseExtr(ctx, runID, runlog.PhaseDone)
		return nil, nil
	}
	e.say("found %d table(s)", len(tables))

	e.phaseExtr(ctx, runID, runlog.PhaseExtractingRows)
	leads, err = e.extract(session, tables)
	if err != nil {
		return nil, err
	}
	e.phaseExtr(ctx, runID, runlog.PhaseDone)
	return leads, nil
}

// extract parses each located table and labels its rows with the source
// configured for that table position. Extra unlabeled tables are skipped.
func (e *Engine) extract(session portalSession, tables []string) ([]lead.Lead, error) {
	pageURL, err := session.URL()
	if err != nil {
		return nil, err
	}
	fetchedAt := time.Now().UTC()

	var out []lead.Lead
	for i, html := range tables {
		if i >= len(e.cfg.Sources) {
			e.say("skipping table %d: no source label configured", i)
			break
		}
		source := e.cfg.Sources[i]

		grid, err := table.Parse(html)
		if err != nil {
			e.say("table %d (%s) unparseable, skipped: %v", i, source, err)
			continue
		}
		rows := e.leadsFromGrid(grid, source, pageURL, fetchedAt)
		e.say("table %d (%s): %d row(s)", i, source, len(rows))
		out = append(out, rows...)
	}
	return out, nil
}

// leadsFromGrid turns parsed rows into leads with resolved keys.
func (e *Engine) leadsFromGrid(g table.Grid, source, pageURL string, fetchedAt time.Time) []lead.Lead {
	leads := make([]lead.Lead, 0, len(g.Rows))
	for i, row := range g.Rows {
		leads = append(leads, lead.Lead{
			Source:    source,
			Key:       e.resolver.Key(row),
			FetchedAt: fetchedAt,
			URL:       pageURL,
			RowIndex:  i,
			Row:       row,
		})
	}
	return leads
}

// screenshot captures the full page under DataDir/screenshots and returns
// the path relative to DataDir, which is how the dashboard serves it.
func (e *Engine) screenshot(session portalSession, runID string) (string, error) {
	img, err := session.Screenshot()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(e.cfg.DataDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := runID + ".png"
	if err := os.WriteFile(filepath.Join(dir, name), img, 0o644); err != nil {
		return "", err
	}
	return filepath.Join("screenshots", name), nil
}

// say posts to both the structured log and the dashboard progress feed.
func (e *Engine) say(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.log.Info(msg)
	if e.progress != nil {
		e.progress.Add(msg)
	}
}

// phase updates are best-effort; a failed write must not abort the run.
func (e *Engine) phaseConn(ctx context.Context, runID, phase string) {
	e.say("phase: %s", phase)
	if err := e.ledger.SetConnectionPhase(ctx, runID, phase); err != nil {
		e.log.Warn("record connection phase", "run", runID, "error", err)
	}
}

func (e *Engine) phaseExtr(ctx context.Context, runID, phase string) {
	e.say("phase: %s", phase)
	if err := e.ledger.SetExtractionPhase(ctx, runID, phase); err != nil {
		e.log.Warn("record extraction phase", "run", runID, "error", err)
	}
}
