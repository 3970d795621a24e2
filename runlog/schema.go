package runlog

// Schema creates the runs table. Pass to dbopen.WithSchema at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id               TEXT PRIMARY KEY,
    started_at       INTEGER NOT NULL,
    connection_phase TEXT NOT NULL DEFAULT '',
    extraction_phase TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'pending',
    screenshot       TEXT NOT NULL DEFAULT '',
    details          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`
