package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/energum/leadwatch/lead"
)

// Pipeline runs dedup and delivery over one run's extracted leads.
type Pipeline struct {
	statePath string
	// leadLogPath, when set, receives one JSON line per observed lead,
	// seen or not. This is the flat audit trail of everything the portal
	// ever showed.
	leadLogPath string
	sink        Sink
	log         *slog.Logger
}

// NewPipeline wires a pipeline around the state file and sink. leadLogPath
// may be empty to disable the lead audit log.
func NewPipeline(statePath, leadLogPath string, sink Sink, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{statePath: statePath, leadLogPath: leadLogPath, sink: sink, log: log}
}

// Process dedups leads against the persisted seen set, delivers the new
// ones, and saves the updated set. Returns the number delivered.
//
// Every lead is logged whether or not it is new, so the run log stays a
// complete record of what the portal showed. A delivery failure skips
// that key (retried next run) without aborting the rest of the batch.
func (p *Pipeline) Process(ctx context.Context, leads []lead.Lead) (int, error) {
	seen := LoadState(p.statePath)
	delivered := 0

	logFile := p.openLeadLog()
	if logFile != nil {
		defer logFile.Close()
	}

	for _, l := range leads {
		p.log.Info("lead observed",
			"key", l.Key, "source", l.Source, "row_index", l.RowIndex)
		p.appendLeadLog(logFile, l)

		if _, ok := seen[l.Key]; ok {
			continue
		}

		if err := p.sink.Send(ctx, l); err != nil {
			p.log.Error("lead delivery failed, will retry next run",
				"key", l.Key, "error", err)
			continue
		}
		seen[l.Key] = struct{}{}
		delivered++
		p.log.Info("lead delivered", "key", l.Key, "source", l.Source)
	}

	if err := SaveState(p.statePath, seen); err != nil {
		return delivered, err
	}
	return delivered, nil
}

func (p *Pipeline) openLeadLog() *os.File {
	if p.leadLogPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.leadLogPath), 0o755); err != nil {
		p.log.Warn("open lead log", "error", err)
		return nil
	}
	f, err := os.OpenFile(p.leadLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		p.log.Warn("open lead log", "error", err)
		return nil
	}
	return f
}

func (p *Pipeline) appendLeadLog(f *os.File, l lead.Lead) {
	if f == nil {
		return
	}
	line, err := json.Marshal(l)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
		p.log.Warn("write lead log", "error", err)
	}
}
