/*
Copyright © 2026 the MIPConvert authors.
This file is part of MIPConvert.

MIPConvert is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

MIPConvert is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with MIPConvert.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package ledger records the outcome of every conversion request in a
// SQLite database so that an interrupted batch can be resumed without
// converting delivered variables again.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/mipconvert/pipeline"
	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode    = 5
	busyRetryAttempts = 5
	busyRetryBackoff  = 10 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	batch       TEXT NOT NULL,
	request_id  TEXT NOT NULL,
	table_id    TEXT NOT NULL,
	variable    TEXT NOT NULL,
	stream      TEXT NOT NULL,
	range_start TEXT NOT NULL,
	range_end   TEXT NOT NULL,
	state       TEXT NOT NULL,
	reached     TEXT NOT NULL,
	reason      TEXT NOT NULL,
	mapping     TEXT NOT NULL,
	path        TEXT NOT NULL,
	tracking_id TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS outcomes_request
	ON outcomes (table_id, variable, stream, range_start, range_end, state);
CREATE INDEX IF NOT EXISTS outcomes_batch ON outcomes (batch);
`

// Ledger is a SQLite record of request outcomes. It implements
// pipeline.Recorder and is safe for concurrent use.
type Ledger struct {
	db   *sql.DB
	path string

	Log logrus.FieldLogger
}

// Entry is one recorded outcome.
type Entry struct {
	Batch      string
	RequestID  string
	Table      string
	Variable   string
	Stream     string
	Range      pipeline.TimeRange
	State      string
	Reached    string
	Reason     string
	Mapping    string
	Path       string
	TrackingID string
	Duration   time.Duration
	Recorded   time.Time
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("mipconvert: opening ledger: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("mipconvert: ledger pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("mipconvert: creating ledger schema: %w", err)
	}
	return &Ledger{db: db, path: path}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) log() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

func isBusy(err error) bool {
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked")
}

func retryOnBusy(op func() error) error {
	delay := busyRetryBackoff
	var err error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		if err = op(); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

func dateString(r pipeline.TimeRange) (start, end string) {
	if !r.Start.IsZero() {
		start = r.Start.String()
	}
	if !r.End.IsZero() {
		end = r.End.String()
	}
	return start, end
}

// Record stores the outcome of a request in batch.
func (l *Ledger) Record(batch string, o pipeline.Outcome) error {
	start, end := dateString(o.Request.Range)
	return retryOnBusy(func() error {
		_, err := l.db.Exec(`INSERT INTO outcomes (batch, request_id, table_id, variable, stream,
			range_start, range_end, state, reached, reason, mapping, path, tracking_id,
			duration_ms, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			batch, o.Request.ID, o.Request.Table, o.Request.Variable, o.Request.Stream,
			start, end, o.State.String(), o.Reached.String(), o.Reason(), o.Mapping,
			o.Result.Path, o.Result.TrackingID, o.Duration.Milliseconds(),
			time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
}

// Delivered reports whether a request for the same variable, stream and
// time range has been delivered by any batch.
func (l *Ledger) Delivered(ctx context.Context, req pipeline.Request) (bool, error) {
	start, end := dateString(req.Range)
	var n int
	err := retryOnBusy(func() error {
		return l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes WHERE table_id = ? AND
			variable = ? AND stream = ? AND range_start = ? AND range_end = ? AND state = ?`,
			req.Table, req.Variable, req.Stream, start, end, pipeline.Delivered.String()).Scan(&n)
	})
	return n > 0, err
}

// Skip reports whether req has already been delivered, for use as
// pipeline.Pipeline.Skip. Lookup errors are logged and the request is
// converted again.
func (l *Ledger) Skip(req pipeline.Request) bool {
	ok, err := l.Delivered(context.Background(), req)
	if err != nil {
		l.log().WithError(err).WithField("request", req.String()).Warn("checking ledger")
		return false
	}
	return ok
}

// Batch returns the outcomes recorded for a batch, in the order they were
// recorded.
func (l *Ledger) Batch(ctx context.Context, batch string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT batch, request_id, table_id, variable, stream,
		range_start, range_end, state, reached, reason, mapping, path, tracking_id, duration_ms,
		recorded_at FROM outcomes WHERE batch = ? ORDER BY id`, batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			start, end string
			ms         int64
			recorded   string
		)
		if err := rows.Scan(&e.Batch, &e.RequestID, &e.Table, &e.Variable, &e.Stream, &start, &end,
			&e.State, &e.Reached, &e.Reason, &e.Mapping, &e.Path, &e.TrackingID, &ms, &recorded); err != nil {
			return nil, err
		}
		if e.Range, err = pipeline.ParseTimeRange(start + "," + end); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		if e.Recorded, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
