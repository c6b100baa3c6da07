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

	"github.com/spatialmodel/mipconvert"
)

// Basin names, in the order of the basin axis.
var basinNames = []string{"global_ocean", "atlantic_arctic_ocean", "indian_pacific_ocean"}

var coordProcessors = []*Processor{
	{
		Name: "hybrid-height", Family: Coordinates, MinInputs: 1, MaxInputs: 2,
		Doc: "add the altitude of hybrid height levels from the orography",
		Params: []mipconvert.ParamSpec{
			{Name: "a", Kind: mipconvert.Floats, Usage: "level heights in m, instead of the level_height coordinate"},
			{Name: "b", Kind: mipconvert.Floats, Usage: "sigma values, instead of the sigma coordinate"},
			{Name: "orography", Kind: mipconvert.Float, Usage: "surface altitude in m when no orography field is given"},
			toleranceParam,
		},
		Fn: hybridHeight,
	},
	{
		Name: "pseudo-level", Family: Coordinates, MinInputs: 1, MaxInputs: 1,
		Doc: "rename and relabel a pseudo-level axis",
		Params: []mipconvert.ParamSpec{
			{Name: "coord", Kind: mipconvert.String, Usage: "axis to change (default pseudo_level)"},
			{Name: "name", Kind: mipconvert.String, Usage: "new coordinate name"},
			{Name: "values", Kind: mipconvert.Floats, Usage: "new coordinate points"},
			{Name: "units", Kind: mipconvert.String, Usage: "new coordinate units"},
			{Name: "labels", Kind: mipconvert.Strings, Usage: "string values of the coordinate"},
		},
		Fn: pseudoLevel,
	},
	{
		Name: "basin-combine", Family: Coordinates, MinInputs: 3, MaxInputs: 6,
		Doc:    "stack global, Atlantic-Arctic and Indo-Pacific fields on a basin axis",
		Params: []mipconvert.ParamSpec{toleranceParam},
		Fn:     basinCombine,
	},
}

func hybridHeight(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	a, err := p.Floats("a", nil, env.constants())
	if err != nil {
		return nil, err
	}
	b, err := p.Floats("b", nil, env.constants())
	if err != nil {
		return nil, err
	}
	h := &HybridHeight{LevelHeight: a, Sigma: b, Tolerance: tol}
	if len(in) == 2 {
		h.Orography = in[1]
	} else if h.SurfaceAltitude, err = p.Float("orography", 0, env.constants()); err != nil {
		return nil, err
	}
	return h.Apply(in[0])
}

// HybridHeight adds the altitude of hybrid height levels to a field:
//
//	altitude = level_height + sigma * orography
//
// LevelHeight and Sigma default to the level_height and sigma coordinates
// of the vertical axis. Orography, when set, is a field on the horizontal
// grid; otherwise SurfaceAltitude is used everywhere.
type HybridHeight struct {
	LevelHeight, Sigma []float64
	Orography          *mipconvert.Cube
	SurfaceAltitude    float64
	Tolerance          float64
}

// Apply returns a copy of c with altitude and surface_altitude auxiliary
// coordinates.
func (h *HybridHeight) Apply(c *mipconvert.Cube) (*mipconvert.Cube, error) {
	const name = "hybrid-height"
	z, err := zDim(name, c)
	if err != nil {
		return nil, err
	}
	nz := c.Shape()[z]
	lh, err := levelValues(name, c, z, "level_height", h.LevelHeight)
	if err != nil {
		return nil, err
	}
	sigma, err := levelValues(name, c, z, "sigma", h.Sigma)
	if err != nil {
		return nil, err
	}
	if len(lh) != nz || len(sigma) != nz {
		return nil, incompatible(name, "%d level heights and %d sigma values for %d levels", len(lh), len(sigma), nz)
	}

	// The altitude spans the vertical axis and the axes of the orography.
	dims := []int{z}
	var orogDims []int
	if h.Orography != nil {
		for _, d := range h.Orography.Dims {
			j, ok := c.DimIndex(d.ID())
			if !ok {
				return nil, &mipconvert.GridMismatchError{Processor: name, Coord: d.ID(),
					Reason: fmt.Sprintf("not a dimension of %q", c.Name)}
			}
			if !d.Equal(c.Dims[j], h.Tolerance) {
				return nil, &mipconvert.GridMismatchError{Processor: name, Coord: d.ID(), Reason: "orography grid differs"}
			}
			orogDims = append(orogDims, j)
		}
		dims = append(dims, orogDims...)
	}
	sort.Ints(dims)
	shape := c.Shape()
	sub := make([]int, len(dims))
	zpos := 0
	for i, d := range dims {
		sub[i] = shape[d]
		if d == z {
			zpos = i
		}
	}
	st := strides(sub)
	n := 1
	for _, s := range sub {
		n *= s
	}
	var ost []int
	if h.Orography != nil {
		ost = strides(h.Orography.Shape())
	}
	alt := make([]float64, n)
	for k := range alt {
		k0 := (k / st[zpos]) % sub[zpos]
		orog := h.SurfaceAltitude
		if h.Orography != nil {
			oi := 0
			for j, cd := range orogDims {
				pos := sort.SearchInts(dims, cd)
				oi += ((k / st[pos]) % sub[pos]) * ost[j]
			}
			if h.Orography.Missing(oi) {
				alt[k] = math.NaN()
				continue
			}
			orog = h.Orography.Data.Elements[oi]
		}
		alt[k] = lh[k0] + sigma[k0]*orog
	}

	o := c.Copy()
	altitude := &mipconvert.Coord{Name: "altitude", StandardName: "altitude", LongName: "altitude",
		Units: "m", Points: alt, Attributes: map[string]string{"positive": "up"}}
	if err := o.AddAux(altitude, dims...); err != nil {
		return nil, err
	}
	surface := &mipconvert.Coord{Name: "surface_altitude", StandardName: "surface_altitude", Units: "m"}
	if h.Orography != nil {
		surface.Points = append([]float64(nil), h.Orography.Data.Elements...)
	} else {
		surface.Points = []float64{h.SurfaceAltitude}
		orogDims = nil
	}
	if err := o.AddAux(surface, orogDims...); err != nil {
		return nil, err
	}
	return o, nil
}

// levelValues returns override if it is set, or the values of the named
// coordinate of the vertical axis z of c.
func levelValues(proc string, c *mipconvert.Cube, z int, name string, override []float64) ([]float64, error) {
	if override != nil {
		return override, nil
	}
	coord, dim, ok := c.Coord(name)
	if !ok {
		return nil, incompatible(proc, "%q has no %s coordinate", c.Name, name)
	}
	if dim == z {
		return append([]float64(nil), coord.Points...), nil
	}
	a, _ := c.AuxCoord(name)
	if dim >= 0 || len(a.Dims) != 1 || a.Dims[0] != z {
		return nil, incompatible(proc, "%s coordinate of %q does not span the vertical axis", name, c.Name)
	}
	return append([]float64(nil), a.Points...), nil
}

func pseudoLevel(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "pseudo-level"
	o := in[0].Copy()
	d, ok := o.DimIndex(p.String("coord", "pseudo_level"))
	if !ok {
		return nil, incompatible(name, "%q has no %q axis", o.Name, p.String("coord", "pseudo_level"))
	}
	coord := o.Dims[d]
	n := coord.Len()
	if v := p.String("name", ""); v != "" {
		coord.Name = v
		coord.StandardName = ""
	}
	if v := p.String("units", ""); v != "" {
		coord.Units = v
	}
	values, err := p.Floats("values", nil, env.constants())
	if err != nil {
		return nil, err
	}
	if values != nil {
		if len(values) != n {
			return nil, &mipconvert.ParameterError{Owner: name, Param: "values",
				Reason: fmt.Sprintf("%d values for %d points", len(values), n)}
		}
		coord.Points = values
		coord.Bounds = nil
	}
	if labels := p.Strings("labels", nil); labels != nil {
		if len(labels) != n {
			return nil, &mipconvert.ParameterError{Owner: name, Param: "labels",
				Reason: fmt.Sprintf("%d labels for %d points", len(labels), n)}
		}
		coord.Labels = labels
	}
	return o, nil
}

// dropSingleLongitude removes a longitude axis of length one, which some
// ocean diagnostics carry on zonal fields.
func dropSingleLongitude(c *mipconvert.Cube) (*mipconvert.Cube, error) {
	d, ok := c.DimIndex("longitude")
	if !ok || c.Shape()[d] != 1 {
		return c, nil
	}
	o, err := c.Collapse(d, mipconvert.Max, nil)
	if err != nil {
		return nil, err
	}
	o.CellMethods = c.CellMethods
	o.RemoveAux("longitude")
	return o, nil
}

func basinCombine(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "basin-combine"
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	fields, masks := in[:3], in[3:]
	basins := make([]*mipconvert.Cube, len(fields))
	for i, f := range fields {
		c, err := dropSingleLongitude(f)
		if err != nil {
			return nil, err
		}
		if i < len(masks) {
			m, err := dropSingleLongitude(masks[i])
			if err != nil {
				return nil, err
			}
			if c, err = maskCopy([]*mipconvert.Cube{c, m}, p, env); err != nil {
				return nil, err
			}
		}
		if i > 0 {
			if c == f {
				c = c.Copy()
			}
			c.Name = basins[0].Name
			c.StandardName = basins[0].StandardName
			c.LongName = basins[0].LongName
		}
		basins[i] = c
	}
	basin := &mipconvert.Coord{Name: "basin", StandardName: "region", LongName: "ocean basin",
		Points: []float64{0, 1, 2}, Labels: append([]string(nil), basinNames...)}
	o, err := mipconvert.Stack(basin, tol, basins...)
	if err != nil {
		if gm, ok := err.(*mipconvert.GridMismatchError); ok {
			gm.Processor = name
		}
		return nil, err
	}
	return o, nil
}
