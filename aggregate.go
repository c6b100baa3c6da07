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
	"sort"
)

// Aggregator specifies how cells are combined when a dimension is reduced.
type Aggregator int

// Aggregators. Weights multiply the values for Sum and weight the average
// for Mean; Max and Min ignore them.
const (
	Mean Aggregator = iota
	Sum
	Max
	Min
)

// CellMethod returns the CF cell method name of the aggregator.
func (a Aggregator) CellMethod() string {
	switch a {
	case Mean:
		return "mean"
	case Sum:
		return "sum"
	case Max:
		return "maximum"
	case Min:
		return "minimum"
	default:
		panic(fmt.Errorf("mipconvert: invalid aggregator %d", a))
	}
}

// splitShape returns the number of cells before, along and after dim.
func splitShape(shape []int, dim int) (outer, n, inner int) {
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner
}

// AggregateBy reduces dimension dim by combining the indices of each group
// into one cell. The result has len(groups) cells along dim. weights is
// either nil or holds one weight per cell of c. A result cell is missing
// when all of its contributing cells are missing or have zero weight.
func (c *Cube) AggregateBy(dim int, groups [][]int, agg Aggregator, weights []float64) (*Cube, error) {
	if dim < 0 || dim >= c.Rank() {
		return nil, fmt.Errorf("mipconvert: aggregate %q: dimension %d out of range", c.Name, dim)
	}
	if weights != nil && len(weights) != c.Len() {
		return nil, fmt.Errorf("mipconvert: aggregate %q: %d weights for %d cells", c.Name, len(weights), c.Len())
	}
	outer, n, inner := splitShape(c.Data.Shape, dim)
	for _, g := range groups {
		for _, k := range g {
			if k < 0 || k >= n {
				return nil, fmt.Errorf("mipconvert: aggregate %q: index %d out of range", c.Name, k)
			}
		}
	}
	shape := c.Shape()
	shape[dim] = len(groups)
	o := c.shallowCopy()
	o.Data = newDense(shape)
	o.Mask = nil
	for oi := 0; oi < outer; oi++ {
		for gi, g := range groups {
			for ii := 0; ii < inner; ii++ {
				var (
					acc, wsum float64
					count     int
				)
				switch agg {
				case Max:
					acc = math.Inf(-1)
				case Min:
					acc = math.Inf(1)
				}
				for _, k := range g {
					idx := (oi*n+k)*inner + ii
					if c.Missing(idx) {
						continue
					}
					v := c.Data.Elements[idx]
					w := 1.0
					if weights != nil {
						w = weights[idx]
					}
					switch agg {
					case Mean:
						if w == 0 {
							continue
						}
						acc += v * w
						wsum += w
					case Sum:
						acc += v * w
					case Max:
						acc = math.Max(acc, v)
					case Min:
						acc = math.Min(acc, v)
					}
					count++
				}
				out := (oi*len(groups)+gi)*inner + ii
				if count == 0 {
					o.SetMissing(out)
					continue
				}
				if agg == Mean {
					acc /= wsum
				}
				o.Data.Elements[out] = acc
			}
		}
	}
	o.Dims[dim] = groupCoord(c.Dims[dim], groups)
	var aux []*AuxCoord
	for _, a := range o.Aux {
		if !spans(a, dim) {
			aux = append(aux, a)
		} else if len(a.Dims) == 1 {
			aux = append(aux, &AuxCoord{Coord: groupCoord(a.Coord, groups), Dims: a.Dims})
		}
	}
	o.Aux = aux
	o.CellMethods = o.CellMethods.Add(agg.CellMethod(), c.Dims[dim].ID())
	return o, nil
}

// groupCoord returns a coordinate with one cell per group, each spanning
// the extent of its members.
func groupCoord(c *Coord, groups [][]int) *Coord {
	o := c.Copy()
	o.Points = make([]float64, len(groups))
	o.Bounds = make([][2]float64, len(groups))
	if c.Labels != nil {
		o.Labels = make([]string, len(groups))
	}
	for i, g := range groups {
		s := c.Subset(g).Collapsed()
		o.Points[i] = s.Points[0]
		o.Bounds[i] = s.Bounds[0]
		if c.Labels != nil && len(g) > 0 {
			o.Labels[i] = c.Labels[g[0]]
		}
	}
	return o
}

func spans(a *AuxCoord, dim int) bool {
	for _, d := range a.Dims {
		if d == dim {
			return true
		}
	}
	return false
}

// Collapse reduces dimension dim to nothing. The collapsed coordinate is
// kept as a scalar auxiliary coordinate.
func (c *Cube) Collapse(dim int, agg Aggregator, weights []float64) (*Cube, error) {
	if dim < 0 || dim >= c.Rank() {
		return nil, fmt.Errorf("mipconvert: collapse %q: dimension %d out of range", c.Name, dim)
	}
	all := make([]int, c.Data.Shape[dim])
	for i := range all {
		all[i] = i
	}
	o, err := c.AggregateBy(dim, [][]int{all}, agg, weights)
	if err != nil {
		return nil, err
	}
	return o.squeeze(dim), nil
}

// squeeze removes dimension dim, which must have length one, turning its
// coordinate into a scalar auxiliary coordinate.
func (c *Cube) squeeze(dim int) *Cube {
	shape := c.Shape()
	shape = append(shape[:dim], shape[dim+1:]...)
	o := c.shallowCopy()
	o.Data = newDense(shape)
	copy(o.Data.Elements, c.Data.Elements)
	scalar := &AuxCoord{Coord: o.Dims[dim]}
	o.Dims = append(o.Dims[:dim], o.Dims[dim+1:]...)
	var aux []*AuxCoord
	for _, a := range o.Aux {
		if spans(a, dim) {
			if len(a.Dims) == 1 {
				a.Dims = nil
				aux = append(aux, a)
			}
			continue
		}
		for i, d := range a.Dims {
			if d > dim {
				a.Dims[i] = d - 1
			}
		}
		aux = append(aux, a)
	}
	o.Aux = append(aux, scalar)
	return o
}

// gather returns, for every cell of the result of selecting idx along dim
// of an array with the given shape, the flat index of its source cell.
func gather(shape []int, dim int, idx []int) []int {
	outer, n, inner := splitShape(shape, dim)
	out := make([]int, 0, outer*len(idx)*inner)
	for oi := 0; oi < outer; oi++ {
		for _, k := range idx {
			for ii := 0; ii < inner; ii++ {
				out = append(out, (oi*n+k)*inner+ii)
			}
		}
	}
	return out
}

// Extract returns the cells at indices idx along dimension dim.
func (c *Cube) Extract(dim int, idx []int) (*Cube, error) {
	if dim < 0 || dim >= c.Rank() {
		return nil, fmt.Errorf("mipconvert: extract %q: dimension %d out of range", c.Name, dim)
	}
	for _, k := range idx {
		if k < 0 || k >= c.Data.Shape[dim] {
			return nil, fmt.Errorf("mipconvert: extract %q: index %d out of range", c.Name, k)
		}
	}
	src := gather(c.Data.Shape, dim, idx)
	shape := c.Shape()
	shape[dim] = len(idx)
	o := c.shallowCopy()
	o.Data = newDense(shape)
	o.Mask = nil
	for i, j := range src {
		o.Data.Elements[i] = c.Data.Elements[j]
		if c.Missing(j) {
			o.SetMissing(i)
		}
	}
	o.Dims[dim] = c.Dims[dim].Subset(idx)
	for _, a := range o.Aux {
		pos := -1
		for i, d := range a.Dims {
			if d == dim {
				pos = i
			}
		}
		if pos < 0 {
			continue
		}
		ashape := make([]int, len(a.Dims))
		for i, d := range a.Dims {
			ashape[i] = c.Data.Shape[d]
		}
		asrc := gather(ashape, pos, idx)
		pts := make([]float64, len(asrc))
		var bnds [][2]float64
		if a.HasBounds() {
			bnds = make([][2]float64, len(asrc))
		}
		var lbls []string
		if a.Labels != nil {
			lbls = make([]string, len(asrc))
		}
		for i, j := range asrc {
			pts[i] = a.Points[j]
			if bnds != nil {
				bnds[i] = a.Bounds[j]
			}
			if lbls != nil {
				lbls[i] = a.Labels[j]
			}
		}
		a.Points, a.Bounds, a.Labels = pts, bnds, lbls
	}
	return o, nil
}

// ExtractWhere returns the cells along dim whose coordinate point
// satisfies keep.
func (c *Cube) ExtractWhere(dim int, keep func(point float64) bool) (*Cube, error) {
	var idx []int
	for i, p := range c.Dims[dim].Points {
		if keep(p) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("mipconvert: extract %q: no %s points selected", c.Name, c.Dims[dim].ID())
	}
	return c.Extract(dim, idx)
}

// Transpose returns c with its dimensions reordered so that dimension i of
// the result is dimension order[i] of c.
func (c *Cube) Transpose(order []int) (*Cube, error) {
	if len(order) != c.Rank() {
		return nil, fmt.Errorf("mipconvert: transpose %q: order %v for rank %d", c.Name, order, c.Rank())
	}
	inv := make([]int, len(order))
	seen := make([]bool, len(order))
	for i, d := range order {
		if d < 0 || d >= len(order) || seen[d] {
			return nil, fmt.Errorf("mipconvert: transpose %q: invalid order %v", c.Name, order)
		}
		seen[d] = true
		inv[d] = i
	}
	src := permutation(c.Data.Shape, order)
	shape := make([]int, len(order))
	for i, d := range order {
		shape[i] = c.Data.Shape[d]
	}
	o := c.shallowCopy()
	o.Data = newDense(shape)
	o.Mask = nil
	for i, j := range src {
		o.Data.Elements[i] = c.Data.Elements[j]
		if c.Missing(j) {
			o.SetMissing(i)
		}
	}
	for i, d := range order {
		o.Dims[i] = c.Dims[d].Copy()
	}
	for _, a := range o.Aux {
		if len(a.Dims) == 0 {
			continue
		}
		newDims := make([]int, len(a.Dims))
		for i, d := range a.Dims {
			newDims[i] = inv[d]
		}
		// Keep the spanned dimensions in increasing order, permuting the
		// flattened points to match.
		aorder := make([]int, len(a.Dims))
		for i := range aorder {
			aorder[i] = i
		}
		sort.Slice(aorder, func(i, j int) bool { return newDims[aorder[i]] < newDims[aorder[j]] })
		ashape := make([]int, len(a.Dims))
		for i, d := range a.Dims {
			ashape[i] = c.Data.Shape[d]
		}
		asrc := permutation(ashape, aorder)
		pts := make([]float64, len(asrc))
		for i, j := range asrc {
			pts[i] = a.Points[j]
		}
		if a.HasBounds() {
			bnds := make([][2]float64, len(asrc))
			for i, j := range asrc {
				bnds[i] = a.Bounds[j]
			}
			a.Bounds = bnds
		}
		a.Points = pts
		sorted := make([]int, len(a.Dims))
		for i, k := range aorder {
			sorted[i] = newDims[k]
		}
		a.Dims = sorted
	}
	return o, nil
}

// permutation returns the source flat index of every cell of the array
// obtained by reordering the dimensions of shape.
func permutation(shape, order []int) []int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	strides := make([]int, len(shape))
	st := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = st
		st *= shape[i]
	}
	newShape := make([]int, len(order))
	for i, d := range order {
		newShape[i] = shape[d]
	}
	out := make([]int, n)
	idx := make([]int, len(order))
	for i := 0; i < n; i++ {
		src := 0
		for k, d := range order {
			src += idx[k] * strides[d]
		}
		out[i] = src
		for k := len(idx) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < newShape[k] {
				break
			}
			idx[k] = 0
		}
	}
	return out
}

// Concatenate joins cubes end to end along the dimension labelled by the
// named coordinate. Every other dimension must match.
func Concatenate(name string, tol float64, cubes ...*Cube) (*Cube, error) {
	if len(cubes) == 0 {
		return nil, fmt.Errorf("mipconvert: concatenate: no cubes")
	}
	first := cubes[0]
	dim, ok := first.DimIndex(name)
	if !ok {
		return nil, fmt.Errorf("mipconvert: concatenate: %q has no dimension %q", first.Name, name)
	}
	total := 0
	for _, c := range cubes {
		d, ok := c.DimIndex(name)
		if !ok || d != dim || c.Rank() != first.Rank() {
			return nil, fmt.Errorf("mipconvert: concatenate: %q does not have %q as dimension %d", c.Name, name, dim)
		}
		for i := range c.Dims {
			if i != dim && !c.Dims[i].Equal(first.Dims[i], tol) {
				return nil, &GridMismatchError{Processor: "concatenate", Coord: c.Dims[i].ID(), Reason: "coordinates differ"}
			}
		}
		total += c.Data.Shape[dim]
	}
	shape := first.Shape()
	shape[dim] = total
	o := first.shallowCopy()
	o.Data = newDense(shape)
	o.Mask = nil
	outer, _, inner := splitShape(shape, dim)
	coord := first.Dims[dim].Copy()
	coord.Points = nil
	coord.Bounds = nil
	coord.Labels = nil
	bounded := true
	labelled := true
	offset := 0
	for _, c := range cubes {
		_, n, _ := splitShape(c.Data.Shape, dim)
		for oi := 0; oi < outer; oi++ {
			for k := 0; k < n; k++ {
				for ii := 0; ii < inner; ii++ {
					src := (oi*n+k)*inner + ii
					dst := (oi*total+offset+k)*inner + ii
					o.Data.Elements[dst] = c.Data.Elements[src]
					if c.Missing(src) {
						o.SetMissing(dst)
					}
				}
			}
		}
		d := c.Dims[dim]
		coord.Points = append(coord.Points, d.Points...)
		bounded = bounded && d.HasBounds()
		labelled = labelled && d.Labels != nil
		if bounded {
			coord.Bounds = append(coord.Bounds, d.Bounds...)
		}
		if labelled {
			coord.Labels = append(coord.Labels, d.Labels...)
		}
		offset += n
	}
	if !bounded {
		coord.Bounds = nil
	}
	if !labelled {
		coord.Labels = nil
	}
	o.Dims[dim] = coord
	var aux []*AuxCoord
	for _, a := range o.Aux {
		if !spans(a, dim) {
			aux = append(aux, a)
		}
	}
	o.Aux = aux
	return o, nil
}

// Stack joins cubes on the same grid along a new leading dimension
// labelled by coord, which must have one point per cube.
func Stack(coord *Coord, tol float64, cubes ...*Cube) (*Cube, error) {
	if len(cubes) == 0 || coord.Len() != len(cubes) {
		return nil, fmt.Errorf("mipconvert: stack: coordinate %q has %d points for %d cubes", coord.ID(), coord.Len(), len(cubes))
	}
	first := cubes[0]
	for _, c := range cubes[1:] {
		if err := MatchGrid("stack", first, c, tol); err != nil {
			return nil, err
		}
	}
	shape := append([]int{len(cubes)}, first.Data.Shape...)
	o := first.shallowCopy()
	o.Data = newDense(shape)
	o.Mask = nil
	n := first.Len()
	for i, c := range cubes {
		copy(o.Data.Elements[i*n:(i+1)*n], c.Data.Elements)
		for j := 0; j < n; j++ {
			if c.Missing(j) {
				o.SetMissing(i*n + j)
			}
		}
	}
	o.Dims = append([]*Coord{coord}, o.Dims...)
	for _, a := range o.Aux {
		for i := range a.Dims {
			a.Dims[i]++
		}
	}
	return o, nil
}

// MatchGrid returns a *GridMismatchError if a and b do not have the same
// dimension coordinates within the relative tolerance tol.
func MatchGrid(proc string, a, b *Cube, tol float64) error {
	if a.Rank() != b.Rank() {
		return &GridMismatchError{Processor: proc, Reason: fmt.Sprintf("rank %d differs from rank %d", a.Rank(), b.Rank())}
	}
	for i := range a.Dims {
		if err := matchCoord(proc, a.Dims[i], b.Dims[i], tol); err != nil {
			return err
		}
	}
	return nil
}

func matchCoord(proc string, a, b *Coord, tol float64) error {
	if a.ID() != b.ID() {
		return &GridMismatchError{Processor: proc, Coord: a.ID(), Reason: fmt.Sprintf("does not match coordinate %q", b.ID())}
	}
	if a.Len() != b.Len() {
		return &GridMismatchError{Processor: proc, Coord: a.ID(), Reason: fmt.Sprintf("length %d differs from %d", a.Len(), b.Len())}
	}
	for j := range a.Points {
		if !Close(a.Points[j], b.Points[j], tol) {
			return &GridMismatchError{Processor: proc, Coord: a.ID(),
				Reason: fmt.Sprintf("point %d: %g differs from %g", j, a.Points[j], b.Points[j])}
		}
	}
	return nil
}

// BroadcastTo expands the values and mask of c onto the grid of target.
// Every dimension coordinate of c must also label a dimension of target
// with matching points. The returned mask is nil if c has no missing cells.
func (c *Cube) BroadcastTo(proc string, target *Cube, tol float64) ([]float64, []bool, error) {
	tdims := make([]int, c.Rank())
	for i, d := range c.Dims {
		j, ok := target.DimIndex(d.ID())
		if !ok {
			return nil, nil, &GridMismatchError{Processor: proc, Coord: d.ID(),
				Reason: fmt.Sprintf("not a dimension of %q", target.Name)}
		}
		if err := matchCoord(proc, d, target.Dims[j], tol); err != nil {
			return nil, nil, err
		}
		tdims[i] = j
	}
	strides := make([]int, c.Rank())
	st := 1
	for i := c.Rank() - 1; i >= 0; i-- {
		strides[i] = st
		st *= c.Data.Shape[i]
	}
	vals := make([]float64, target.Len())
	var mask []bool
	if c.Mask != nil {
		mask = make([]bool, target.Len())
	}
	idx := make([]int, target.Rank())
	for t := range vals {
		src := 0
		for i, j := range tdims {
			src += idx[j] * strides[i]
		}
		vals[t] = c.Data.Elements[src]
		if mask != nil {
			mask[t] = c.Mask[src]
		}
		for k := len(idx) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < target.Data.Shape[k] {
				break
			}
			idx[k] = 0
		}
	}
	return vals, mask, nil
}
