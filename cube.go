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

// Package mipconvert converts climate model output into variables that
// conform to a Model Intercomparison Project data request. This package
// holds the labelled field type shared by the processors, fixers and
// pipeline, together with the constants store, unit handling and the
// error taxonomy.
package mipconvert

import (
	"fmt"

	"github.com/ctessum/sparse"
)

// DefaultFillValue is the fill value written for missing cells when none
// is given.
const DefaultFillValue = 1.0e20

// UMMissingDataIndicator is the value the Unified Model writes for missing
// data.
const UMMissingDataIndicator = -1073741824.0

// Metadata holds the descriptive attributes of a field.
type Metadata struct {
	Name         string
	StandardName string
	LongName     string
	Units        string
	CellMethods  CellMethods
	// Positive is "up", "down" or empty.
	Positive   string
	FillValue  float64
	Attributes map[string]string
	History    []string
}

func (m Metadata) copyMetadata() Metadata {
	o := m
	o.CellMethods = append(CellMethods(nil), m.CellMethods...)
	o.Attributes = copyAttributes(m.Attributes)
	o.History = append([]string(nil), m.History...)
	return o
}

// Cube is a labelled field: an n-dimensional array of values with one
// coordinate per dimension, optional auxiliary coordinates, a missing-data
// mask and metadata.
type Cube struct {
	Metadata

	Data *sparse.DenseArray
	// Mask marks missing cells. A nil mask means no cell is missing.
	Mask []bool
	Dims []*Coord
	Aux  []*AuxCoord
}

// New creates a cube holding data labelled by dims and checks that the
// result is consistent.
func New(md Metadata, data *sparse.DenseArray, dims ...*Coord) (*Cube, error) {
	c := &Cube{Metadata: md, Data: data, Dims: dims}
	if c.FillValue == 0 {
		c.FillValue = DefaultFillValue
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewLike returns a cube with the coordinates and metadata of c and the
// given data and mask, which must have the shape of c.
func (c *Cube) NewLike(data *sparse.DenseArray, mask []bool) *Cube {
	o := c.shallowCopy()
	o.Data = data
	o.Mask = mask
	return o
}

// Validate checks the structural invariants of the cube: the rank of the
// data equals the number of dimension coordinates, every dimension has the
// length of its coordinate and auxiliary coordinates match the dimensions
// they span.
func (c *Cube) Validate() error {
	if c.Data == nil {
		return fmt.Errorf("mipconvert: cube %q has no data", c.Name)
	}
	if len(c.Data.Shape) != len(c.Dims) {
		return fmt.Errorf("mipconvert: cube %q has rank %d but %d dimension coordinates",
			c.Name, len(c.Data.Shape), len(c.Dims))
	}
	for i, d := range c.Dims {
		if d == nil {
			return fmt.Errorf("mipconvert: cube %q: dimension %d has no coordinate", c.Name, i)
		}
		if d.Len() != c.Data.Shape[i] {
			return fmt.Errorf("mipconvert: cube %q: coordinate %q has length %d but dimension %d has length %d",
				c.Name, d.ID(), d.Len(), i, c.Data.Shape[i])
		}
		if d.HasBounds() && len(d.Bounds) != d.Len() {
			return fmt.Errorf("mipconvert: cube %q: coordinate %q has %d bounds for %d points",
				c.Name, d.ID(), len(d.Bounds), d.Len())
		}
	}
	for _, a := range c.Aux {
		n := 1
		for _, dim := range a.Dims {
			if dim < 0 || dim >= len(c.Dims) {
				return fmt.Errorf("mipconvert: cube %q: auxiliary coordinate %q spans missing dimension %d",
					c.Name, a.ID(), dim)
			}
			n *= c.Data.Shape[dim]
		}
		if a.Len() != n {
			return fmt.Errorf("mipconvert: cube %q: auxiliary coordinate %q has %d points, want %d",
				c.Name, a.ID(), a.Len(), n)
		}
	}
	if c.Mask != nil && len(c.Mask) != len(c.Data.Elements) {
		return fmt.Errorf("mipconvert: cube %q: mask has %d cells, data has %d",
			c.Name, len(c.Mask), len(c.Data.Elements))
	}
	return nil
}

// Shape returns the length of each dimension.
func (c *Cube) Shape() []int { return append([]int(nil), c.Data.Shape...) }

// Rank returns the number of dimensions.
func (c *Cube) Rank() int { return len(c.Data.Shape) }

// Len returns the number of cells.
func (c *Cube) Len() int { return len(c.Data.Elements) }

// Missing reports whether the cell at flat index i is missing.
func (c *Cube) Missing(i int) bool { return c.Mask != nil && c.Mask[i] }

// MissingCount returns the number of missing cells.
func (c *Cube) MissingCount() int {
	n := 0
	for _, m := range c.Mask {
		if m {
			n++
		}
	}
	return n
}

// shallowCopy copies the metadata and coordinates of c but shares the data
// and mask.
func (c *Cube) shallowCopy() *Cube {
	o := &Cube{
		Metadata: c.Metadata.copyMetadata(),
		Data:     c.Data,
		Mask:     c.Mask,
		Dims:     make([]*Coord, len(c.Dims)),
		Aux:      make([]*AuxCoord, len(c.Aux)),
	}
	for i, d := range c.Dims {
		o.Dims[i] = d.Copy()
	}
	for i, a := range c.Aux {
		o.Aux[i] = a.copyAux()
	}
	return o
}

// Copy returns a deep copy of c.
func (c *Cube) Copy() *Cube {
	o := c.shallowCopy()
	o.Data = newDense(c.Data.Shape)
	copy(o.Data.Elements, c.Data.Elements)
	if c.Mask != nil {
		o.Mask = append([]bool(nil), c.Mask...)
	}
	return o
}

// newDense allocates a dense array that does not alias shape.
func newDense(shape []int) *sparse.DenseArray {
	return sparse.ZerosDense(append([]int(nil), shape...)...)
}

// Map returns a copy of c with f applied to every cell that is not
// missing. Missing cells keep their value and stay missing.
func (c *Cube) Map(f func(float64) float64) *Cube {
	o := c.Copy()
	for i, v := range o.Data.Elements {
		if !c.Missing(i) {
			o.Data.Elements[i] = f(v)
		}
	}
	return o
}

// SetMissing marks the cell at flat index i as missing, allocating the
// mask if necessary.
func (c *Cube) SetMissing(i int) {
	if c.Mask == nil {
		c.Mask = make([]bool, c.Len())
	}
	c.Mask[i] = true
}

// Coord returns the coordinate identified by name. dim is the data
// dimension it labels, or -1 for an auxiliary coordinate.
func (c *Cube) Coord(name string) (coord *Coord, dim int, ok bool) {
	for i, d := range c.Dims {
		if d.Is(name) {
			return d, i, true
		}
	}
	for _, a := range c.Aux {
		if a.Is(name) {
			return a.Coord, -1, true
		}
	}
	return nil, -1, false
}

// DimIndex returns the data dimension labelled by the named coordinate.
func (c *Cube) DimIndex(name string) (int, bool) {
	for i, d := range c.Dims {
		if d.Is(name) {
			return i, true
		}
	}
	return -1, false
}

// AxisDims returns every data dimension whose coordinate has the given
// axis.
func (c *Cube) AxisDims(axis string) []int {
	var o []int
	for i, d := range c.Dims {
		if d.Axis == axis {
			o = append(o, i)
		}
	}
	return o
}

// AxisDim returns the single data dimension with the given axis. It is an
// error for there to be none or more than one.
func (c *Cube) AxisDim(axis string) (int, error) {
	dims := c.AxisDims(axis)
	switch len(dims) {
	case 1:
		return dims[0], nil
	case 0:
		return -1, fmt.Errorf("no %s axis", axis)
	default:
		return -1, fmt.Errorf("%d %s axes", len(dims), axis)
	}
}

// AuxCoord returns the auxiliary coordinate identified by name.
func (c *Cube) AuxCoord(name string) (*AuxCoord, bool) {
	for _, a := range c.Aux {
		if a.Is(name) {
			return a, true
		}
	}
	return nil, false
}

// AddAux adds an auxiliary coordinate spanning dims, replacing any
// existing auxiliary coordinate of the same name.
func (c *Cube) AddAux(coord *Coord, dims ...int) error {
	a := &AuxCoord{Coord: coord, Dims: dims}
	n := 1
	for _, d := range dims {
		if d < 0 || d >= c.Rank() {
			return fmt.Errorf("mipconvert: auxiliary coordinate %q: dimension %d out of range", coord.ID(), d)
		}
		n *= c.Data.Shape[d]
	}
	if coord.Len() != n {
		return fmt.Errorf("mipconvert: auxiliary coordinate %q has %d points, want %d", coord.ID(), coord.Len(), n)
	}
	c.RemoveAux(coord.ID())
	c.Aux = append(c.Aux, a)
	return nil
}

// RemoveAux removes the named auxiliary coordinate and reports whether it
// was present.
func (c *Cube) RemoveAux(name string) bool {
	for i, a := range c.Aux {
		if a.Is(name) {
			c.Aux = append(c.Aux[:i], c.Aux[i+1:]...)
			return true
		}
	}
	return false
}

// ScalarValue returns the point of the named scalar coordinate.
func (c *Cube) ScalarValue(name string) (float64, bool) {
	a, ok := c.AuxCoord(name)
	if !ok || !a.IsScalar() {
		return 0, false
	}
	return a.Points[0], true
}

// AddHistory appends an entry to the field history.
func (c *Cube) AddHistory(format string, args ...interface{}) {
	c.History = append(c.History, fmt.Sprintf(format, args...))
}

// SetAttribute sets a field attribute, allocating the map if necessary.
func (c *Cube) SetAttribute(key, value string) {
	if c.Attributes == nil {
		c.Attributes = make(map[string]string)
	}
	c.Attributes[key] = value
}

func (c *Cube) String() string {
	names := make([]string, len(c.Dims))
	for i, d := range c.Dims {
		names[i] = fmt.Sprintf("%s: %d", d.ID(), d.Len())
	}
	return fmt.Sprintf("%s / (%s) %v", c.Name, c.Units, names)
}
