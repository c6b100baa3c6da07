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

package mapping

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spatialmodel/mipconvert"
)

// A Validator checks the processor and fixer parameters of a record when
// it is loaded.
type Validator interface {
	Validate(r *Record) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(r *Record) error

// Validate calls f(r).
func (f ValidatorFunc) Validate(r *Record) error { return f(r) }

type key struct{ table, variable string }

// Table is a loaded set of mapping records. It is read-only after
// construction and safe for concurrent use.
type Table struct {
	records map[key][]*Record
	n       int
}

type mappingFile struct {
	Mapping []*Record `toml:"mapping"`
}

// Read reads the records in a TOML mapping file. origin names the file in
// diagnostics. Each record is checked and, if v is not nil, validated.
func Read(r io.Reader, origin string, consts *mipconvert.Constants, v Validator) ([]*Record, error) {
	var f mappingFile
	md, err := toml.DecodeReader(r, &f)
	if err != nil {
		return nil, fmt.Errorf("mipconvert: reading mappings from %s: %v", origin, err)
	}
	if u := md.Undecoded(); len(u) > 0 {
		keys := make([]string, len(u))
		for i, k := range u {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("mipconvert: reading mappings from %s: unknown keys %s", origin, strings.Join(keys, ", "))
	}
	for i, rec := range f.Mapping {
		rec.Origin = fmt.Sprintf("%s#%d", origin, i+1)
		if err := check(rec, consts, v); err != nil {
			return nil, err
		}
	}
	return f.Mapping, nil
}

// check prepares rec and, if v is not nil, validates it.
func check(rec *Record, consts *mipconvert.Constants, v Validator) error {
	if err := rec.prepare(consts); err != nil {
		return fmt.Errorf("mipconvert: %v", err)
	}
	if v == nil {
		return nil
	}
	if err := v.Validate(rec); err != nil {
		return fmt.Errorf("mipconvert: mapping %s: %v", rec, err)
	}
	return nil
}

// Load reads the mapping files in order and returns their combined table.
func Load(consts *mipconvert.Constants, v Validator, files ...string) (*Table, error) {
	var all []*Record
	for _, file := range files {
		f, err := os.Open(os.ExpandEnv(file))
		if err != nil {
			return nil, fmt.Errorf("mipconvert: opening mapping file: %v", err)
		}
		recs, err := Read(f, file, consts, nil)
		f.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return NewTable(consts, v, all...)
}

// NewTable creates a table from records. Each record is checked as Read
// checks it and, if v is not nil, validated.
func NewTable(consts *mipconvert.Constants, v Validator, records ...*Record) (*Table, error) {
	t := &Table{records: make(map[key][]*Record)}
	for _, r := range records {
		if err := check(r, consts, v); err != nil {
			return nil, err
		}
		k := key{r.Table, r.Variable}
		t.records[k] = append(t.records[k], r)
		t.n++
	}
	return t, nil
}

// Len returns the number of records.
func (t *Table) Len() int { return t.n }

// Resolve returns the single most specific record for the variable that
// applies to model m. It returns *mipconvert.UnmappedVariableError if no
// record applies and *mipconvert.AmbiguousMappingError if several records
// share the highest specificity.
func (t *Table) Resolve(table, variable string, m ModelConfig) (*Record, error) {
	var (
		best []*Record
		top  = -1
	)
	for _, r := range t.records[key{table, variable}] {
		if !r.Applies(m) {
			continue
		}
		switch s := r.Specificity(); {
		case s > top:
			top = s
			best = []*Record{r}
		case s == top:
			best = append(best, r)
		}
	}
	switch len(best) {
	case 0:
		return nil, &mipconvert.UnmappedVariableError{Table: table, Variable: variable, Model: m.String()}
	case 1:
		return best[0], nil
	default:
		c := make([]string, len(best))
		for i, r := range best {
			c[i] = r.String()
		}
		return nil, &mipconvert.AmbiguousMappingError{Table: table, Variable: variable, Model: m.String(), Candidates: c}
	}
}

// Records returns every record, ordered by table and variable.
func (t *Table) Records() []*Record {
	keys := make([]key, 0, len(t.records))
	for k := range t.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].table != keys[j].table {
			return keys[i].table < keys[j].table
		}
		return keys[i].variable < keys[j].variable
	})
	out := make([]*Record, 0, t.n)
	for _, k := range keys {
		out = append(out, t.records[k]...)
	}
	return out
}

// Lint returns the ambiguity errors that resolving every variable in the
// table for model m would produce.
func (t *Table) Lint(m ModelConfig) []error {
	var errs []error
	seen := make(map[key]bool)
	for _, r := range t.Records() {
		k := key{r.Table, r.Variable}
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, err := t.Resolve(r.Table, r.Variable, m); err != nil {
			if _, ok := err.(*mipconvert.AmbiguousMappingError); ok {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
