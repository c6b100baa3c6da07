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

package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spatialmodel/mipconvert"
)

// TimeRange is the half-open interval [Start, End). A zero bound is
// unbounded.
type TimeRange struct {
	Start, End mipconvert.DateTime
}

// Contains reports whether d falls within r.
func (r TimeRange) Contains(d mipconvert.DateTime) bool {
	if !r.Start.IsZero() && d.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !d.Before(r.End) {
		return false
	}
	return true
}

func (r TimeRange) String() string {
	if r.Start.IsZero() && r.End.IsZero() {
		return "all times"
	}
	s, e := "", ""
	if !r.Start.IsZero() {
		s = r.Start.String()
	}
	if !r.End.IsZero() {
		e = r.End.String()
	}
	return "[" + s + ", " + e + ")"
}

// ParseTimeRange parses "start,end" where either date may be empty.
func ParseTimeRange(s string) (TimeRange, error) {
	var r TimeRange
	if strings.TrimSpace(s) == "" {
		return r, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return r, fmt.Errorf("mipconvert: time range %q must be \"start,end\"", s)
	}
	var err error
	if p := strings.TrimSpace(parts[0]); p != "" {
		if r.Start, err = mipconvert.ParseDateTime(p); err != nil {
			return r, err
		}
	}
	if p := strings.TrimSpace(parts[1]); p != "" {
		if r.End, err = mipconvert.ParseDateTime(p); err != nil {
			return r, err
		}
	}
	if !r.Start.IsZero() && !r.End.IsZero() && !r.Start.Before(r.End) {
		return r, fmt.Errorf("mipconvert: time range %q is empty", s)
	}
	return r, nil
}

// Request asks for one MIP variable for one output stream and time range.
type Request struct {
	ID       string
	Table    string
	Variable string
	Stream   string
	Range    TimeRange
}

// NewRequest returns a request with a new unique identifier.
func NewRequest(table, variable, stream string, r TimeRange) Request {
	return Request{ID: uuid.New().String(), Table: table, Variable: variable, Stream: stream, Range: r}
}

func (r Request) String() string {
	s := r.Table + "/" + r.Variable
	if r.Stream != "" {
		s += " (" + r.Stream + ")"
	}
	return s
}

// SourceID returns the identifier passed to the Loader for a source field
// read from an output stream.
func SourceID(stream, source string) string {
	if stream == "" {
		return source
	}
	return stream + "/" + source
}

// SplitSourceID reverses SourceID.
func SplitSourceID(id string) (stream, source string) {
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// State is the progress of a request through the pipeline.
type State int

// Request states, in the order they are reached. Delivered, Failed and
// Skipped are terminal.
const (
	Pending State = iota
	Resolved
	Loaded
	Processed
	Corrected
	Validated
	Delivered
	Failed
	Skipped
)

var stateNames = [...]string{"pending", "resolved", "loaded", "processed", "corrected", "validated",
	"delivered", "failed", "skipped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// ErrAlreadyDelivered is the reason a request is skipped when a resumed
// batch has already delivered it.
var ErrAlreadyDelivered = errors.New("mipconvert: already delivered")

// WriteResult describes a delivered field.
type WriteResult struct {
	Path       string
	TrackingID string
}

// Outcome is the final state of a request.
type Outcome struct {
	Request Request
	// State is Delivered, Failed or Skipped.
	State State
	// Reached is the last state the request completed before it ended.
	Reached State
	// Err is the reason a request failed or was skipped.
	Err error
	// Mapping is the origin of the mapping record that was used.
	Mapping  string
	Result   WriteResult
	Duration time.Duration
}

// Reason returns the error message of a failed or skipped request.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
