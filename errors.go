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

package mipconvert

import (
	"fmt"
	"strings"
)

// UnmappedVariableError is returned when no mapping record applies to a
// requested variable. Requests that fail this way are skipped rather than
// failed.
type UnmappedVariableError struct {
	Table, Variable, Model string
}

func (e *UnmappedVariableError) Error() string {
	return fmt.Sprintf("mipconvert: no mapping for %s/%s (model %q)", e.Table, e.Variable, e.Model)
}

// AmbiguousMappingError is returned when two or more applicable mapping
// records share the highest specificity.
type AmbiguousMappingError struct {
	Table, Variable, Model string
	// Candidates holds the origins of the tied records.
	Candidates []string
}

func (e *AmbiguousMappingError) Error() string {
	return fmt.Sprintf("mipconvert: ambiguous mapping for %s/%s (model %q): %s",
		e.Table, e.Variable, e.Model, strings.Join(e.Candidates, ", "))
}

// MissingInputError is returned by loaders when a source field is absent
// for the requested range.
type MissingInputError struct {
	Source string
	Err    error
}

func (e *MissingInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mipconvert: missing input %q: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("mipconvert: missing input %q", e.Source)
}

func (e *MissingInputError) Unwrap() error { return e.Err }

// UnknownProcessorError is returned when a mapping names a processor that
// has not been registered.
type UnknownProcessorError struct {
	Name string
}

func (e *UnknownProcessorError) Error() string {
	return fmt.Sprintf("mipconvert: unknown processor %q", e.Name)
}

// IncompatibleGridError is returned when a processor's structural
// precondition is not met, such as a reduction with no weighting
// information or a field without the required axis.
type IncompatibleGridError struct {
	Processor string
	Reason    string
}

func (e *IncompatibleGridError) Error() string {
	return fmt.Sprintf("mipconvert: %s: incompatible grid: %s", e.Processor, e.Reason)
}

// GridMismatchError is returned when the operands of a combination are on
// different grids.
type GridMismatchError struct {
	Processor string
	Coord     string
	Reason    string
}

func (e *GridMismatchError) Error() string {
	if e.Coord == "" {
		return fmt.Sprintf("mipconvert: %s: grid mismatch: %s", e.Processor, e.Reason)
	}
	return fmt.Sprintf("mipconvert: %s: grid mismatch in coordinate %q: %s", e.Processor, e.Coord, e.Reason)
}

// FixerPreconditionError is returned when a fixer is applied to a field
// lacking the structure it corrects.
type FixerPreconditionError struct {
	Fixer  string
	Reason string
}

func (e *FixerPreconditionError) Error() string {
	return fmt.Sprintf("mipconvert: fixer %s: %s", e.Fixer, e.Reason)
}

// MetadataMismatchError is returned when a derived field cannot be
// reconciled with its target metadata.
type MetadataMismatchError struct {
	Variable string
	Reason   string
}

func (e *MetadataMismatchError) Error() string {
	return fmt.Sprintf("mipconvert: %s: metadata mismatch: %s", e.Variable, e.Reason)
}

// ParameterError reports an invalid processor or fixer parameter found
// while loading a mapping configuration.
type ParameterError struct {
	Owner string // processor or fixer name
	Param string
	Reason string
}

func (e *ParameterError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("mipconvert: %s: %s", e.Owner, e.Reason)
	}
	return fmt.Sprintf("mipconvert: %s: parameter %q: %s", e.Owner, e.Param, e.Reason)
}
