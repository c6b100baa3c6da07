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
	"fmt"
	"strings"

	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/mapping"
	"github.com/spatialmodel/mipconvert/process"
)

// processorParams returns the parameters passed to the processor of rec.
// A processor that sets the units of its result produces the target units
// of the record unless the record says otherwise.
func processorParams(procs *process.Registry, rec *mapping.Record) mipconvert.Params {
	p := process.RecordParams(rec)
	if rec.Units == "" || p.Has("units") {
		return p
	}
	proc, ok := procs.Lookup(rec.ProcessorName())
	if !ok {
		return p
	}
	for _, s := range proc.Params {
		if s.Name == "units" {
			o := make(mipconvert.Params, len(p)+1)
			for k, v := range p {
				o[k] = v
			}
			o["units"] = rec.Units
			return o
		}
	}
	return p
}

// Conform returns a copy of c with the target metadata of rec applied. The
// units of c are converted to the target units, or adopted when c has
// none. The dimensions of c must be those the record lists, where a
// dimension of length one may be held as a scalar coordinate. A record
// that lists no dimensions leaves the dimensions of c unchecked.
func Conform(rec *mapping.Record, c *mipconvert.Cube) (*mipconvert.Cube, error) {
	o, err := conformUnits(rec, c)
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(rec, o); err != nil {
		return nil, err
	}
	if rec.CellMethods != "" {
		o.CellMethods = rec.TargetCellMethods()
	}
	if rec.Positive != "" {
		o.Positive = rec.Positive
	}
	o.Name = rec.Variable
	if err := o.Validate(); err != nil {
		return nil, &mipconvert.MetadataMismatchError{Variable: rec.Variable, Reason: err.Error()}
	}
	return o, nil
}

func unknownUnits(u string) bool {
	u = strings.TrimSpace(u)
	return u == "" || u == mipconvert.UnknownUnits
}

func conformUnits(rec *mapping.Record, c *mipconvert.Cube) (*mipconvert.Cube, error) {
	target := rec.Units
	switch {
	case target == "":
		if unknownUnits(c.Units) {
			return nil, &mipconvert.MetadataMismatchError{Variable: rec.Variable,
				Reason: "field units are unknown and the mapping gives none"}
		}
		return c.Copy(), nil
	case unknownUnits(target):
		return nil, &mipconvert.MetadataMismatchError{Variable: rec.Variable,
			Reason: fmt.Sprintf("target units %q are unknown", target)}
	case unknownUnits(c.Units) || mipconvert.UnitsEqual(c.Units, target):
		o := c.Copy()
		o.Units = target
		return o, nil
	}
	factor, offset, err := process.Conversion(c.Units, target)
	if err != nil {
		return nil, &mipconvert.MetadataMismatchError{Variable: rec.Variable, Reason: err.Error()}
	}
	o := c.Map(func(v float64) float64 { return v*factor + offset })
	o.Units = target
	o.AddHistory("converted from %s to %s", c.Units, target)
	return o, nil
}

func checkDimensions(rec *mapping.Record, c *mipconvert.Cube) error {
	if len(rec.Dimensions) == 0 {
		return nil
	}
	matched := make([]bool, c.Rank())
	for _, name := range rec.Dimensions {
		if d, ok := c.DimIndex(name); ok {
			if matched[d] {
				return &mipconvert.MetadataMismatchError{Variable: rec.Variable,
					Reason: fmt.Sprintf("dimension %q is listed twice", name)}
			}
			matched[d] = true
			continue
		}
		if a, ok := c.AuxCoord(name); ok && a.IsScalar() {
			continue
		}
		return &mipconvert.MetadataMismatchError{Variable: rec.Variable,
			Reason: fmt.Sprintf("field %v has no dimension %q", c, name)}
	}
	for d, ok := range matched {
		if !ok {
			return &mipconvert.MetadataMismatchError{Variable: rec.Variable,
				Reason: fmt.Sprintf("dimension %q is not one of %s", c.Dims[d].ID(), strings.Join(rec.Dimensions, " "))}
		}
	}
	return nil
}
