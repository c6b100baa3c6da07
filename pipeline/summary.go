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
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spatialmodel/mipconvert"
)

// Summary reports the outcome of every request in a batch.
type Summary struct {
	BatchID  string
	Started  time.Time
	Finished time.Time
	// Outcomes are in request order.
	Outcomes []Outcome
	// Warnings are run-level problems, such as ambiguous mappings.
	Warnings []string

	mu sync.Mutex
	// ambiguous holds the table and variable of each ambiguous mapping
	// already warned about.
	ambiguous map[[2]string]bool
}

// NewSummary starts the summary of a new batch.
func NewSummary() *Summary {
	return &Summary{BatchID: uuid.New().String(), Started: time.Now()}
}

func (s *Summary) add(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Outcomes = append(s.Outcomes, o)
	var amb *mipconvert.AmbiguousMappingError
	if !errors.As(o.Err, &amb) {
		return
	}
	k := [2]string{amb.Table, amb.Variable}
	if s.ambiguous[k] {
		return
	}
	if s.ambiguous == nil {
		s.ambiguous = make(map[[2]string]bool)
	}
	s.ambiguous[k] = true
	s.Warnings = append(s.Warnings, amb.Error())
}

// Count returns the number of requests that ended in state st.
func (s *Summary) Count(st State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countLocked(s.Outcomes, st)
}

// ExitCode is 0 if no request failed and 1 otherwise.
func (s *Summary) ExitCode() int {
	if s.Count(Failed) > 0 {
		return 1
	}
	return 0
}

// Render writes the summary to w as a table. Colours are used only when
// w is a terminal.
func (s *Summary) Render(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	colour := isTerminal(w)

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Table", "Variable", "Stream", "State", "Detail"})
	for _, o := range s.Outcomes {
		state := o.State.String()
		if colour {
			state = stateColour(o.State).Sprint(state)
		}
		detail := o.Result.Path
		if o.State != Delivered {
			detail = o.Reason()
		}
		tw.AppendRow(table.Row{o.Request.Table, o.Request.Variable, o.Request.Stream, state, detail})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 5, WidthMax: 80},
	})

	if _, err := fmt.Fprintf(w, "batch %s (%s)\n", s.BatchID, s.Finished.Sub(s.Started).Round(time.Millisecond)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, tw.Render()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%d delivered, %d skipped, %d failed\n", countLocked(s.Outcomes, Delivered),
		countLocked(s.Outcomes, Skipped), countLocked(s.Outcomes, Failed)); err != nil {
		return err
	}
	for _, warn := range s.Warnings {
		if colour {
			warn = text.FgYellow.Sprint(warn)
		}
		if _, err := fmt.Fprintln(w, "warning:", warn); err != nil {
			return err
		}
	}
	return nil
}

func countLocked(outcomes []Outcome, st State) int {
	n := 0
	for _, o := range outcomes {
		if o.State == st {
			n++
		}
	}
	return n
}

func stateColour(st State) text.Color {
	switch st {
	case Delivered:
		return text.FgGreen
	case Failed:
		return text.FgRed
	default:
		return text.FgYellow
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
