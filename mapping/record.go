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

// Package mapping holds the declarative records that describe how each
// MIP variable is derived from model output, and resolves the record that
// applies to a request.
package mapping

import (
	"fmt"

	"github.com/spatialmodel/mipconvert"
)

// Processor names implied by records that do not name one.
const (
	IdentityProcessor   = "identity"
	ExpressionProcessor = "expression"
)

// ModelConfig identifies the model configuration being converted.
type ModelConfig struct {
	ID      string
	Version string
}

func (m ModelConfig) String() string {
	if m.Version == "" {
		return m.ID
	}
	return m.ID + " " + m.Version
}

// FixerSpec names a metadata fixer and its parameters.
type FixerSpec struct {
	Name   string            `toml:"name"`
	Params mipconvert.Params `toml:"params"`
}

// Record describes how one MIP variable is derived for a model
// configuration. Records are immutable once loaded.
type Record struct {
	Table    string `toml:"table"`
	Variable string `toml:"variable"`
	// Model restricts the record to one model; empty means any model.
	Model string `toml:"model"`
	// Version restricts the record to model versions satisfying a
	// constraint such as ">=10.6"; empty means any version.
	Version string `toml:"version"`

	Sources    []string          `toml:"sources"`
	Processor  string            `toml:"processor"`
	Expression string            `toml:"expression"`
	Params     mipconvert.Params `toml:"params"`

	Units       string   `toml:"units"`
	CellMethods string   `toml:"cell_methods"`
	Positive    string   `toml:"positive"`
	Dimensions  []string `toml:"dimensions"`
	Comment     string   `toml:"comment"`

	PreFixers  []FixerSpec `toml:"pre_fixer"`
	PostFixers []FixerSpec `toml:"post_fixer"`

	// Origin records where the record was defined, for diagnostics.
	Origin string `toml:"-"`

	constraint Constraint
}

// ProcessorName returns the name of the processor that derives the
// variable: the named processor, "expression" for expression records and
// "identity" otherwise.
func (r *Record) ProcessorName() string {
	switch {
	case r.Processor != "":
		return r.Processor
	case r.Expression != "":
		return ExpressionProcessor
	default:
		return IdentityProcessor
	}
}

// Applies reports whether the record can be used for model m.
func (r *Record) Applies(m ModelConfig) bool {
	if r.Model != "" && r.Model != m.ID {
		return false
	}
	return r.constraint.Matches(m.Version)
}

// Specificity ranks applicable records: a model-qualified record beats a
// generic one and a version-qualified record beats an unqualified one.
func (r *Record) Specificity() int {
	s := 0
	if r.Model != "" {
		s += 2
	}
	if len(r.constraint) > 0 {
		s++
	}
	return s
}

func (r *Record) String() string {
	s := r.Table + "/" + r.Variable
	if r.Model != "" {
		s += "@" + r.Model
	}
	if r.Version != "" {
		s += "[" + r.Version + "]"
	}
	if r.Origin != "" {
		s += " (" + r.Origin + ")"
	}
	return s
}

// prepare checks the record for errors and fills in the sources of
// expression records.
func (r *Record) prepare(consts *mipconvert.Constants) error {
	if r.Table == "" || r.Variable == "" {
		return fmt.Errorf("mapping %s: table and variable are required", r)
	}
	if r.Units == "" {
		return fmt.Errorf("mapping %s: units are required", r)
	}
	if r.Units != mipconvert.UnknownUnits && !mipconvert.UnitsKnown(r.Units) {
		return fmt.Errorf("mapping %s: cannot parse units %q", r, r.Units)
	}
	switch r.Positive {
	case "", "up", "down":
	default:
		return fmt.Errorf("mapping %s: positive must be \"up\" or \"down\", not %q", r, r.Positive)
	}
	if _, err := mipconvert.ParseCellMethods(r.CellMethods); err != nil {
		return fmt.Errorf("mapping %s: %v", r, err)
	}
	c, err := ParseConstraint(r.Version)
	if err != nil {
		return fmt.Errorf("mapping %s: %v", r, err)
	}
	r.constraint = c
	if r.Expression != "" {
		e, err := mipconvert.ParseExpression(r.Expression, consts)
		if err != nil {
			return fmt.Errorf("mapping %s: %v", r, err)
		}
		if len(r.Sources) == 0 {
			r.Sources = e.Sources()
		}
	}
	if len(r.Sources) == 0 {
		return fmt.Errorf("mapping %s: no sources", r)
	}
	if r.ProcessorName() == IdentityProcessor && r.Processor == "" && len(r.Sources) != 1 {
		return fmt.Errorf("mapping %s: %d sources but no processor", r, len(r.Sources))
	}
	for _, f := range append(append([]FixerSpec(nil), r.PreFixers...), r.PostFixers...) {
		if f.Name == "" {
			return fmt.Errorf("mapping %s: fixer with no name", r)
		}
	}
	return nil
}

// TargetCellMethods returns the parsed cell methods of the record.
func (r *Record) TargetCellMethods() mipconvert.CellMethods {
	cm, err := mipconvert.ParseCellMethods(r.CellMethods)
	if err != nil {
		// Checked when the record was loaded.
		panic(err)
	}
	return cm
}
