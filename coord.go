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
	"math"
)

// Axis identifiers used in Coord.Axis.
const (
	AxisX = "X"
	AxisY = "Y"
	AxisZ = "Z"
	AxisT = "T"
)

// Coord is a one-dimensional coordinate. Dimension coordinates label a
// data dimension; auxiliary coordinates are wrapped in AuxCoord.
type Coord struct {
	Name         string
	StandardName string
	LongName     string
	Units        string
	Axis         string

	Points []float64
	// Bounds holds the cell boundaries of each point, or nil.
	Bounds [][2]float64
	// Labels holds string values for categorical coordinates such as
	// ocean basins or land-use classes. When set, it has the same
	// length as Points.
	Labels []string

	// Calendar is only meaningful for time coordinates.
	Calendar   string
	Attributes map[string]string
}

// Len returns the number of points in the coordinate.
func (c *Coord) Len() int { return len(c.Points) }

// HasBounds reports whether the coordinate has cell bounds.
func (c *Coord) HasBounds() bool { return len(c.Bounds) > 0 }

// Is reports whether the coordinate is identified by name, either through
// its variable name or its standard name.
func (c *Coord) Is(name string) bool {
	return name != "" && (c.Name == name || c.StandardName == name)
}

// ID returns the name used to identify the coordinate in messages and
// output files.
func (c *Coord) ID() string {
	if c.Name != "" {
		return c.Name
	}
	return c.StandardName
}

// Copy returns a deep copy of c.
func (c *Coord) Copy() *Coord {
	o := *c
	o.Points = append([]float64(nil), c.Points...)
	if c.Bounds != nil {
		o.Bounds = append([][2]float64(nil), c.Bounds...)
	}
	if c.Labels != nil {
		o.Labels = append([]string(nil), c.Labels...)
	}
	o.Attributes = copyAttributes(c.Attributes)
	return &o
}

// Subset returns a copy of c holding only the points at idx.
func (c *Coord) Subset(idx []int) *Coord {
	o := c.Copy()
	o.Points = make([]float64, len(idx))
	if c.Bounds != nil {
		o.Bounds = make([][2]float64, len(idx))
	}
	if c.Labels != nil {
		o.Labels = make([]string, len(idx))
	}
	for i, j := range idx {
		o.Points[i] = c.Points[j]
		if c.Bounds != nil {
			o.Bounds[i] = c.Bounds[j]
		}
		if c.Labels != nil {
			o.Labels[i] = c.Labels[j]
		}
	}
	return o
}

// Collapsed returns a scalar copy of c spanning all of its cells: the point
// is the midpoint of the total extent and the single bound covers it.
func (c *Coord) Collapsed() *Coord {
	lo, hi := c.Extent()
	o := c.Copy()
	o.Points = []float64{(lo + hi) / 2}
	o.Bounds = [][2]float64{{lo, hi}}
	o.Labels = nil
	return o
}

// Extent returns the minimum and maximum of the coordinate's bounds, or of
// its points if it has none.
func (c *Coord) Extent() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	if c.HasBounds() {
		for _, b := range c.Bounds {
			lo = math.Min(lo, math.Min(b[0], b[1]))
			hi = math.Max(hi, math.Max(b[0], b[1]))
		}
		return lo, hi
	}
	for _, p := range c.Points {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	return lo, hi
}

// Widths returns the width of every cell, computed from the bounds.
func (c *Coord) Widths() ([]float64, error) {
	if !c.HasBounds() {
		return nil, fmt.Errorf("mipconvert: coordinate %q has no bounds", c.ID())
	}
	w := make([]float64, len(c.Bounds))
	for i, b := range c.Bounds {
		w[i] = math.Abs(b[1] - b[0])
	}
	return w, nil
}

// GuessBounds sets contiguous bounds halfway between neighbouring points.
// The outer bounds are extrapolated by half of the adjacent spacing. A
// single point cannot be bounded and is left unchanged.
func (c *Coord) GuessBounds() {
	n := len(c.Points)
	if n < 2 {
		return
	}
	c.Bounds = make([][2]float64, n)
	for i := 0; i < n; i++ {
		var lo, hi float64
		if i == 0 {
			lo = c.Points[0] - (c.Points[1]-c.Points[0])/2
		} else {
			lo = (c.Points[i-1] + c.Points[i]) / 2
		}
		if i == n-1 {
			hi = c.Points[n-1] + (c.Points[n-1]-c.Points[n-2])/2
		} else {
			hi = (c.Points[i] + c.Points[i+1]) / 2
		}
		c.Bounds[i] = [2]float64{lo, hi}
	}
}

// Equal reports whether c and o have the same identity, length and point
// values within the relative tolerance tol.
func (c *Coord) Equal(o *Coord, tol float64) bool {
	if c.ID() != o.ID() || c.Len() != o.Len() {
		return false
	}
	for i := range c.Points {
		if !Close(c.Points[i], o.Points[i], tol) {
			return false
		}
	}
	return true
}

// Close reports whether a and b are equal within the relative tolerance
// tol. Values near zero are compared absolutely.
func Close(a, b, tol float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= tol*scale
}

// AuxCoord is an auxiliary coordinate spanning zero or more data
// dimensions. Points are stored flattened in row-major order over the
// spanned dimensions; a scalar coordinate spans none and has one point.
type AuxCoord struct {
	*Coord
	Dims []int
}

// IsScalar reports whether the coordinate spans no data dimension.
func (a *AuxCoord) IsScalar() bool { return len(a.Dims) == 0 }

func (a *AuxCoord) copyAux() *AuxCoord {
	return &AuxCoord{Coord: a.Coord.Copy(), Dims: append([]int(nil), a.Dims...)}
}

func copyAttributes(a map[string]string) map[string]string {
	if a == nil {
		return nil
	}
	o := make(map[string]string, len(a))
	for k, v := range a {
		o[k] = v
	}
	return o
}
