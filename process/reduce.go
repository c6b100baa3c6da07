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
	"math"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/mipconvert"
	"gonum.org/v1/gonum/floats"
)

const (
	// avogadro is the number of molecules in a mole.
	avogadro = 6.022e23
	// moleculesPerDU is the ozone column, in molecules m-2, of one Dobson
	// unit.
	moleculesPerDU = 2.685e20
)

var levelRangeParams = []mipconvert.ParamSpec{
	{Name: "min", Kind: mipconvert.Float, Usage: "lowest level value included"},
	{Name: "max", Kind: mipconvert.Float, Usage: "highest level value included"},
}

var reduceProcessors = []*Processor{
	{
		Name: "area-mean", Family: Reduction, MinInputs: 1, MaxInputs: 2,
		Doc:    "area-weighted mean over latitude and longitude",
		Params: []mipconvert.ParamSpec{toleranceParam},
		Fn:     func(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) { return areaReduce("area-mean", mipconvert.Mean, in, p, env) },
	},
	{
		Name: "area-sum", Family: Reduction, MinInputs: 1, MaxInputs: 2,
		Doc:    "area integral over latitude and longitude",
		Params: []mipconvert.ParamSpec{toleranceParam, unitsParam},
		Fn:     func(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) { return areaReduce("area-sum", mipconvert.Sum, in, p, env) },
	},
	{
		Name: "zonal-mean", Family: Reduction, MinInputs: 1, MaxInputs: 1,
		Doc: "mean over longitude weighted by cell width",
		Fn:  zonalMean,
	},
	{
		Name: "level-sum", Family: Reduction, MinInputs: 1, MaxInputs: 1,
		Doc:    "sum over the vertical axis",
		Params: levelRangeParams,
		Fn:     levelSum,
	},
	{
		Name: "level-mean", Family: Reduction, MinInputs: 2, MaxInputs: 2,
		Doc:    "mean over the vertical axis weighted by layer thickness",
		Params: append([]mipconvert.ParamSpec{toleranceParam}, levelRangeParams...),
		Fn:     levelMean,
	},
	{
		Name: "sum-over-depth", Family: Reduction, MinInputs: 1, MaxInputs: 1,
		Doc: "sum over the upper ocean, weighting the level that straddles the depth",
		Params: []mipconvert.ParamSpec{
			{Name: "depth", Kind: mipconvert.Float, Usage: "depth in m (default 100)"},
		},
		Fn: sumOverDepth,
	},
	{
		Name: "pressure-layer-mean", Family: Reduction, MinInputs: 1, MaxInputs: 1,
		Doc: "mean over a set of pressure levels",
		Params: []mipconvert.ParamSpec{
			{Name: "levels", Kind: mipconvert.Floats, Usage: "pressure levels in hPa or a level set name (default 600, 700, 850)"},
			{Name: "label", Kind: mipconvert.Float, Usage: "pressure in hPa labelling the layer (default 700)"},
		},
		Fn: pressureLayerMean,
	},
	{
		Name: "global-mole-fraction", Family: Reduction, MinInputs: 2, MaxInputs: 2,
		Doc: "air mass weighted global mean mole fraction from a mass mixing ratio",
		Params: []mipconvert.ParamSpec{
			{Name: "molar_mass", Kind: mipconvert.Float, Required: true, Usage: "molar mass of the species"},
			{Name: "air_molar_mass", Kind: mipconvert.Float, Usage: "molar mass of air (default MOLECULAR_MASS_OF_AIR)"},
			{Name: "climatology", Kind: mipconvert.Bool, Usage: "also average over time"},
			toleranceParam,
		},
		Fn: globalMoleFraction,
	},
	{
		Name: "ozone-column", Family: Reduction, MinInputs: 1, MaxInputs: 1,
		Doc: "ozone column in Dobson units from the ozone mass in each cell",
		Fn:  ozoneColumn,
	},
	{
		Name: "areacella", Family: Reduction, MinInputs: 1, MaxInputs: 1,
		Doc: "area of the cells of the horizontal grid",
		Fn:  areacella,
	},
	{
		Name: "div-by-area", Family: Reduction, MinInputs: 1, MaxInputs: 1,
		Doc: "divide by the grid cell area",
		Fn: func(in []*mipconvert.Cube, _ mipconvert.Params, _ Env) (*mipconvert.Cube, error) {
			return divideByArea("div-by-area", in[0])
		},
	},
}

// areaWeights returns the cell areas of c, taken from an area field or
// from a cell_area auxiliary coordinate.
func areaWeights(proc string, c *mipconvert.Cube, in []*mipconvert.Cube, tol float64) ([]float64, error) {
	if len(in) > 1 {
		return weightsOn(proc, in[1], c, tol)
	}
	if a, ok := c.AuxCoord("cell_area"); ok {
		return auxValues(c, a), nil
	}
	return nil, incompatible(proc, "%q has no cell area field or cell_area coordinate", c.Name)
}

func areaReduce(proc string, agg mipconvert.Aggregator, in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	c := in[0]
	lat, lon, err := horizontalDims(proc, c)
	if err != nil {
		return nil, err
	}
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	w, err := areaWeights(proc, c, in, tol)
	if err != nil {
		return nil, err
	}
	o, err := collapseDims(c, []int{lat, lon}, agg, w)
	if err != nil {
		return nil, err
	}
	o.CellMethods = c.CellMethods.Add(agg.CellMethod(), "area")
	o.RemoveAux("cell_area")
	if agg == mipconvert.Sum {
		o.Units = appendUnits(c.Units, "m2")
	}
	return withUnits(o, p, ""), nil
}

// appendUnits returns units multiplied by extra, or unknown units if the
// product cannot be written.
func appendUnits(units, extra string) string {
	switch {
	case units == "1" || units == "":
		return extra
	case units == mipconvert.UnknownUnits || strings.Contains(units, "/"):
		return mipconvert.UnknownUnits
	}
	return units + " " + extra
}

func zonalMean(in []*mipconvert.Cube, _ mipconvert.Params, _ Env) (*mipconvert.Cube, error) {
	const name = "zonal-mean"
	c := in[0]
	lon, err := c.AxisDim(mipconvert.AxisX)
	if err != nil {
		return nil, incompatible(name, "%q: %v", c.Name, err)
	}
	widths, err := c.Dims[lon].Widths()
	if err != nil {
		return nil, incompatible(name, "%v", err)
	}
	return c.Collapse(lon, mipconvert.Mean, alongDim(c, lon, widths))
}

// levelRange restricts dimension z of c to the levels within the min and
// max parameters.
func levelRange(proc string, c *mipconvert.Cube, z int, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	if !p.Has("min") && !p.Has("max") {
		return c, nil
	}
	lo, err := p.Float("min", math.Inf(-1), env.constants())
	if err != nil {
		return nil, err
	}
	hi, err := p.Float("max", math.Inf(1), env.constants())
	if err != nil {
		return nil, err
	}
	o, err := c.ExtractWhere(z, func(v float64) bool { return v >= lo && v <= hi })
	if err != nil {
		return nil, incompatible(proc, "%v", err)
	}
	return o, nil
}

func levelSum(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "level-sum"
	z, err := zDim(name, in[0])
	if err != nil {
		return nil, err
	}
	c, err := levelRange(name, in[0], z, p, env)
	if err != nil {
		return nil, err
	}
	return c.Collapse(z, mipconvert.Sum, nil)
}

func levelMean(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "level-mean"
	z, err := zDim(name, in[0])
	if err != nil {
		return nil, err
	}
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	c, err := levelRange(name, in[0], z, p, env)
	if err != nil {
		return nil, err
	}
	thick := in[1]
	if tz, ok := thick.DimIndex(in[0].Dims[z].ID()); ok {
		if thick, err = levelRange(name, thick, tz, p, env); err != nil {
			return nil, err
		}
	} else {
		return nil, incompatible(name, "thickness %q has no %s dimension", thick.Name, in[0].Dims[z].ID())
	}
	w, err := weightsOn(name, thick, c, tol)
	if err != nil {
		return nil, err
	}
	return c.Collapse(z, mipconvert.Mean, w)
}

func sumOverDepth(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "sum-over-depth"
	depth, err := p.Float("depth", 100, env.constants())
	if err != nil {
		return nil, err
	}
	c := in[0]
	z, err := zDim(name, c)
	if err != nil {
		return nil, err
	}
	zc := c.Dims[z]
	if !zc.HasBounds() {
		return nil, incompatible(name, "vertical coordinate %q has no bounds", zc.ID())
	}
	var (
		idx     []int
		weights []float64
	)
	for k, b := range zc.Bounds {
		top, bottom := math.Min(b[0], b[1]), math.Max(b[0], b[1])
		switch {
		case bottom <= depth:
			idx = append(idx, k)
			weights = append(weights, 1)
		case top < depth:
			idx = append(idx, k)
			weights = append(weights, (depth-top)/(bottom-top))
		}
	}
	if len(idx) == 0 {
		return nil, incompatible(name, "no levels above %g m", depth)
	}
	upper, err := c.Extract(z, idx)
	if err != nil {
		return nil, err
	}
	o, err := upper.Collapse(z, mipconvert.Sum, alongDim(upper, z, weights))
	if err != nil {
		return nil, err
	}
	if a, ok := o.AuxCoord(zc.ID()); ok {
		a.Points = []float64{depth / 2}
		a.Bounds = [][2]float64{{0, depth}}
	}
	return o, nil
}

func pressureLayerMean(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "pressure-layer-mean"
	levels, err := p.Floats("levels", []float64{600, 700, 850}, env.constants())
	if err != nil {
		return nil, err
	}
	label, err := p.Float("label", 700, env.constants())
	if err != nil {
		return nil, err
	}
	c := in[0]
	d, err := pressureDim(name, c)
	if err != nil {
		return nil, err
	}
	pts, fromHPa, err := toHPa(name, c.Dims[d])
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(levels))
	for i, l := range levels {
		idx[i] = -1
		for k, v := range pts {
			if mipconvert.Close(v, l, 1e-6) {
				idx[i] = k
				break
			}
		}
		if idx[i] < 0 {
			return nil, incompatible(name, "%q has no %g hPa level", c.Name, l)
		}
	}
	layer, err := c.Extract(d, idx)
	if err != nil {
		return nil, err
	}
	o, err := layer.Collapse(d, mipconvert.Mean, nil)
	if err != nil {
		return nil, err
	}
	if a, ok := o.AuxCoord(c.Dims[d].ID()); ok {
		a.Points = []float64{fromHPa(label)}
		a.Bounds = [][2]float64{{fromHPa(floats.Min(levels)), fromHPa(floats.Max(levels))}}
	}
	return o, nil
}

func globalMoleFraction(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "global-mole-fraction"
	mass, mmr := in[0], in[1]
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	if err := mipconvert.MatchGrid(name, mass, mmr, tol); err != nil {
		return nil, err
	}
	m, err := p.Float("molar_mass", 0, env.constants())
	if err != nil {
		return nil, err
	}
	air, err := env.constants().Value("MOLECULAR_MASS_OF_AIR")
	if p.Has("air_molar_mass") {
		air, err = p.Float("air_molar_mass", 0, env.constants())
	}
	if err != nil {
		return nil, err
	}
	lat, lon, err := horizontalDims(name, mmr)
	if err != nil {
		return nil, err
	}
	dims := append([]int{lat, lon}, mmr.AxisDims(mipconvert.AxisZ)...)
	if p.Bool("climatology", false) {
		t, err := timeDim(name, mmr)
		if err != nil {
			return nil, err
		}
		dims = append(dims, t)
	}
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = mmr.Dims[d].ID()
	}
	w := append([]float64(nil), mass.Data.Elements...)
	for i := range w {
		if mass.Missing(i) {
			w[i] = 0
		}
	}
	o, err := collapseDims(mmr, dims, mipconvert.Mean, w)
	if err != nil {
		return nil, err
	}
	o = o.Map(func(v float64) float64 { return v * air / m })
	o.CellMethods = mmr.CellMethods.Add("mean", names...)
	o.Units = "mol mol-1"
	return o, nil
}

func ozoneColumn(in []*mipconvert.Cube, _ mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "ozone-column"
	c := in[0]
	z, err := zDim(name, c)
	if err != nil {
		return nil, err
	}
	mo3, err := env.constants().Value("MOLECULAR_MASS_OF_O3")
	if err != nil {
		return nil, err
	}
	mo3 /= 1000 // kg mol-1
	col, err := c.Collapse(z, mipconvert.Sum, nil)
	if err != nil {
		return nil, err
	}
	areas, err := col.CellAreas()
	if err != nil {
		return nil, incompatible(name, "%v", err)
	}
	o := col.Copy()
	for i, v := range col.Data.Elements {
		if !col.Missing(i) {
			o.Data.Elements[i] = v / mo3 * avogadro / areas[i] / moleculesPerDU
		}
	}
	o.Units = "DU"
	return o, nil
}

func areacella(in []*mipconvert.Cube, _ mipconvert.Params, _ Env) (*mipconvert.Cube, error) {
	const name = "areacella"
	c := in[0]
	lat, lon, err := horizontalDims(name, c)
	if err != nil {
		return nil, err
	}
	latc, lonc := c.Dims[lat].Copy(), c.Dims[lon].Copy()
	for _, x := range []*mipconvert.Coord{latc, lonc} {
		if !x.HasBounds() {
			x.GuessBounds()
		}
		if !x.HasBounds() {
			return nil, incompatible(name, "cannot guess bounds of %q", x.ID())
		}
	}
	o, err := mipconvert.New(mipconvert.Metadata{Name: "areacella", StandardName: "cell_area", Units: "m2"},
		sparse.ZerosDense(latc.Len(), lonc.Len()), latc, lonc)
	if err != nil {
		return nil, err
	}
	areas, err := o.CellAreas()
	if err != nil {
		return nil, incompatible(name, "%v", err)
	}
	copy(o.Data.Elements, areas)
	return o, nil
}

func divideByArea(proc string, c *mipconvert.Cube) (*mipconvert.Cube, error) {
	areas, err := c.CellAreas()
	if err != nil {
		return nil, incompatible(proc, "%q: %v", c.Name, err)
	}
	o := c.Copy()
	for i, v := range c.Data.Elements {
		if !c.Missing(i) {
			o.Data.Elements[i] = v / areas[i]
		}
	}
	o.Units = appendUnits(c.Units, "m-2")
	return o, nil
}
