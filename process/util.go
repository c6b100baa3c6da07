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

package process

import (
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/mipconvert"
)

// DefaultTolerance is the relative tolerance used when matching the
// coordinates of operands.
const DefaultTolerance = 1e-6

// nanValue marks a combined cell as missing.
var nanValue = math.NaN()

var (
	toleranceParam = mipconvert.ParamSpec{Name: "tolerance", Kind: mipconvert.Float,
		Usage: "relative tolerance for matching operand coordinates"}
	unitsParam = mipconvert.ParamSpec{Name: "units", Kind: mipconvert.String,
		Usage: "units of the result"}
)

func incompatible(proc, format string, args ...interface{}) error {
	return &mipconvert.IncompatibleGridError{Processor: proc, Reason: fmt.Sprintf(format, args...)}
}

func tolerance(p mipconvert.Params, env Env) (float64, error) {
	return p.Float("tolerance", DefaultTolerance, env.constants())
}

// blank returns a field with the coordinates and metadata of c, zero
// data and no missing cells.
func blank(c *mipconvert.Cube) *mipconvert.Cube {
	return c.NewLike(sparse.ZerosDense(c.Shape()...), nil)
}

// withUnits sets the units of c from the "units" parameter if it is
// given, or to def otherwise. An empty def keeps the units of c.
func withUnits(c *mipconvert.Cube, p mipconvert.Params, def string) *mipconvert.Cube {
	if u := p.String("units", ""); u != "" {
		c.Units = u
	} else if def != "" {
		c.Units = def
	}
	return c
}

// zDim returns the single vertical dimension of c.
func zDim(proc string, c *mipconvert.Cube) (int, error) {
	d, err := c.AxisDim(mipconvert.AxisZ)
	if err != nil {
		return -1, incompatible(proc, "%q: %v", c.Name, err)
	}
	return d, nil
}

// timeDim returns the time dimension of c.
func timeDim(proc string, c *mipconvert.Cube) (int, error) {
	if d, ok := c.DimIndex("time"); ok {
		return d, nil
	}
	d, err := c.AxisDim(mipconvert.AxisT)
	if err != nil {
		return -1, incompatible(proc, "%q: %v", c.Name, err)
	}
	return d, nil
}

func horizontalDims(proc string, c *mipconvert.Cube) (lat, lon int, err error) {
	lat, lon, err = c.HorizontalDims()
	if err != nil {
		return -1, -1, incompatible(proc, "%q: %v", c.Name, err)
	}
	return lat, lon, nil
}

// strides returns the number of cells spanned by one step along each
// dimension of shape.
func strides(shape []int) []int {
	s := make([]int, len(shape))
	st := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = st
		st *= shape[i]
	}
	return s
}

// indexAlong returns the index along dim of every cell of c.
func indexAlong(c *mipconvert.Cube, dim int) []int {
	shape := c.Shape()
	inner := strides(shape)[dim]
	out := make([]int, c.Len())
	for i := range out {
		out[i] = (i / inner) % shape[dim]
	}
	return out
}

// alongDim expands w, which holds one value per index of dimension dim,
// to one value per cell of c.
func alongDim(c *mipconvert.Cube, dim int, w []float64) []float64 {
	idx := indexAlong(c, dim)
	out := make([]float64, len(idx))
	for i, k := range idx {
		out[i] = w[k]
	}
	return out
}

// auxValues expands the points of an auxiliary coordinate of c to one
// value per cell of c.
func auxValues(c *mipconvert.Cube, a *mipconvert.AuxCoord) []float64 {
	shape := c.Shape()
	st := strides(shape)
	ashape := make([]int, len(a.Dims))
	for i, d := range a.Dims {
		ashape[i] = shape[d]
	}
	ast := strides(ashape)
	out := make([]float64, c.Len())
	for i := range out {
		k := 0
		for j, d := range a.Dims {
			k += ((i / st[d]) % shape[d]) * ast[j]
		}
		out[i] = a.Points[k]
	}
	return out
}

// weightsOn broadcasts w onto the grid of c. Missing weights are zero.
func weightsOn(proc string, w, c *mipconvert.Cube, tol float64) ([]float64, error) {
	vals, mask, err := w.BroadcastTo(proc, c, tol)
	if err != nil {
		return nil, err
	}
	for i := range vals {
		if (mask != nil && mask[i]) || math.IsNaN(vals[i]) {
			vals[i] = 0
		}
	}
	return vals, nil
}

// collapseDims collapses several dimensions of c at once. For a weighted
// mean the result equals the mean over all collapsed cells weighted by
// weights, as if the dimensions had been collapsed together.
func collapseDims(c *mipconvert.Cube, dims []int, agg mipconvert.Aggregator, weights []float64) (*mipconvert.Cube, error) {
	dims = append([]int(nil), dims...)
	sort.Sort(sort.Reverse(sort.IntSlice(dims)))
	cur, w := c, weights
	for k, d := range dims {
		var next []float64
		if agg == mipconvert.Mean && w != nil && k < len(dims)-1 {
			wc := cur.NewLike(sparse.ZerosDense(cur.Shape()...), cur.Mask)
			copy(wc.Data.Elements, w)
			wsum, err := wc.Collapse(d, mipconvert.Sum, nil)
			if err != nil {
				return nil, err
			}
			next = append([]float64(nil), wsum.Data.Elements...)
			for i := range next {
				if wsum.Missing(i) {
					next[i] = 0
				}
			}
		}
		var err error
		cur, err = cur.Collapse(d, agg, w)
		if err != nil {
			return nil, err
		}
		if agg == mipconvert.Mean {
			w = next
		} else {
			w = nil
		}
	}
	return cur, nil
}

// combine evaluates f cell by cell over inputs on a shared grid. The grid
// is that of the input of highest rank; every other input is broadcast
// onto it and must match it within tol. A cell is missing when any operand
// is missing or f returns a value that is not finite.
func combine(proc string, in []*mipconvert.Cube, tol float64, f func(v []float64) (float64, error)) (*mipconvert.Cube, error) {
	target := in[0]
	for _, c := range in[1:] {
		if c.Rank() > target.Rank() {
			target = c
		}
	}
	vals := make([][]float64, len(in))
	masks := make([][]bool, len(in))
	for i, c := range in {
		if c == target {
			vals[i], masks[i] = c.Data.Elements, c.Mask
			continue
		}
		v, m, err := c.BroadcastTo(proc, target, tol)
		if err != nil {
			return nil, err
		}
		vals[i], masks[i] = v, m
	}
	out := blank(target)
	if target != in[0] {
		out.Metadata = in[0].Copy().Metadata
	}
	args := make([]float64, len(in))
cells:
	for j := range out.Data.Elements {
		for i := range in {
			if masks[i] != nil && masks[i][j] {
				out.SetMissing(j)
				continue cells
			}
			args[i] = vals[i][j]
		}
		v, err := f(args)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.SetMissing(j)
			continue
		}
		out.Data.Elements[j] = v
	}
	return out, nil
}

// mask returns a copy of c in which the cells selected by drop are
// missing.
func mask(c *mipconvert.Cube, drop func(i int, v float64) bool) *mipconvert.Cube {
	o := c.Copy()
	for i, v := range c.Data.Elements {
		if !c.Missing(i) && drop(i, v) {
			o.SetMissing(i)
		}
	}
	return o
}

// toHPa returns the points of a pressure coordinate in hPa, and the
// inverse conversion. Points without units are assumed to be in hPa.
func toHPa(proc string, c *mipconvert.Coord) (pts []float64, fromHPa func(float64) float64, err error) {
	if c.Units == "" {
		return append([]float64(nil), c.Points...), func(v float64) float64 { return v }, nil
	}
	from, err := mipconvert.ParseUnits(c.Units)
	if err != nil {
		return nil, nil, incompatible(proc, "pressure coordinate %q: %v", c.ID(), err)
	}
	hpa, err := mipconvert.ParseUnits("hPa")
	if err != nil {
		return nil, nil, err
	}
	f, o, err := from.ConversionTo(hpa)
	if err != nil {
		return nil, nil, incompatible(proc, "pressure coordinate %q: %v", c.ID(), err)
	}
	pts = make([]float64, c.Len())
	for i, p := range c.Points {
		pts[i] = p*f + o
	}
	return pts, func(v float64) float64 { return (v - o) / f }, nil
}

// pressureDim returns the pressure dimension of c.
func pressureDim(proc string, c *mipconvert.Cube) (int, error) {
	for _, name := range []string{"pressure", "air_pressure", "plev"} {
		if d, ok := c.DimIndex(name); ok {
			return d, nil
		}
	}
	return -1, incompatible(proc, "%q has no pressure coordinate", c.Name)
}
