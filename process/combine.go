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
	"errors"
	"fmt"
	"math"

	"github.com/spatialmodel/mipconvert"
	"gonum.org/v1/gonum/floats"
)

var combineParams = []mipconvert.ParamSpec{toleranceParam, unitsParam}

var combineProcessors = []*Processor{
	{
		Name: "add", Family: Combination, MinInputs: 2, MaxInputs: Unlimited,
		Doc: "sum of the fields", Params: combineParams,
		Fn: arithmetic("add", func(v []float64) float64 { return floats.Sum(v) }, ""),
	},
	{
		Name: "subtract", Family: Combination, MinInputs: 2, MaxInputs: 2,
		Doc: "first field minus the second", Params: combineParams,
		Fn: arithmetic("subtract", func(v []float64) float64 { return v[0] - v[1] }, ""),
	},
	{
		Name: "multiply", Family: Combination, MinInputs: 2, MaxInputs: Unlimited,
		Doc: "product of the fields", Params: combineParams,
		Fn: arithmetic("multiply", func(v []float64) float64 { return floats.Prod(v) }, mipconvert.UnknownUnits),
	},
	{
		Name: "divide", Family: Combination, MinInputs: 2, MaxInputs: 2,
		Doc: "first field divided by the second; division by zero is missing", Params: combineParams,
		Fn: arithmetic("divide", func(v []float64) float64 {
			if v[1] == 0 {
				return nanValue
			}
			return v[0] / v[1]
		}, mipconvert.UnknownUnits),
	},
	{
		Name: "fix-packing-division", Family: Combination, MinInputs: 2, MaxInputs: 2,
		Doc:    "ratio of two fields with zeros from packing replaced by half the smallest positive value",
		Params: combineParams,
		Fn:     fixPackingDivision,
	},
	{
		Name: "sum-2d-3d", Family: Combination, MinInputs: 2, MaxInputs: 2,
		Doc:    "add a surface field to the lowest level of a multi-level field",
		Params: []mipconvert.ParamSpec{toleranceParam},
		Fn: func(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
			tol, err := tolerance(p, env)
			if err != nil {
				return nil, err
			}
			return addToFirstLevel("sum-2d-3d", in[0], in[1], tol)
		},
	},
	{
		Name: "volcello", Family: Combination, MinInputs: 2, MaxInputs: 2,
		Doc:    "ocean cell volume from cell thickness and area",
		Params: []mipconvert.ParamSpec{toleranceParam},
		Fn:     volcello,
	},
	{
		Name: "combine-bands", Family: Combination, MinInputs: 2, MaxInputs: 3,
		Doc: "join shortwave and longwave spectral bands on one pseudo-level axis",
		Params: []mipconvert.ParamSpec{
			{Name: "min", Kind: mipconvert.Float, Usage: "lower limit of the result"},
			{Name: "max", Kind: mipconvert.Float, Usage: "upper limit of the result"},
			toleranceParam,
		},
		Fn: combineBands,
	},
	{
		Name: "expression", Family: Combination, MinInputs: 1, MaxInputs: Unlimited,
		Doc: "evaluate an arithmetic expression of the source fields and constants",
		Params: []mipconvert.ParamSpec{
			{Name: "expression", Kind: mipconvert.String, Required: true, Usage: "expression text"},
			{Name: "sources", Kind: mipconvert.Strings, Usage: "identifiers bound to the inputs, in order"},
			toleranceParam,
			unitsParam,
		},
		Fn: expression,
	},
}

// arithmetic returns a processor combining its inputs cell by cell with
// f. The result has the units of the first input unless units is set.
func arithmetic(name string, f func(v []float64) float64, units string) Func {
	return func(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
		tol, err := tolerance(p, env)
		if err != nil {
			return nil, err
		}
		o, err := combine(name, in, tol, func(v []float64) (float64, error) { return f(v), nil })
		if err != nil {
			return nil, err
		}
		return withUnits(o, p, units), nil
	}
}

func fixPackingDivision(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	o, err := arithmetic("fix-packing-division", func(v []float64) float64 { return v[0] / v[1] }, mipconvert.UnknownUnits)(in, p, env)
	if err != nil {
		return nil, err
	}
	var positive []float64
	for i, v := range o.Data.Elements {
		if !o.Missing(i) && v > 0 {
			positive = append(positive, v)
		}
	}
	if len(positive) == 0 {
		return o, nil
	}
	fill := 0.5 * floats.Min(positive)
	for i, v := range o.Data.Elements {
		if !o.Missing(i) && v == 0 {
			o.Data.Elements[i] = fill
		}
	}
	return o, nil
}

// addToFirstLevel adds the single-level field surf to the first level of
// the vertical axis of field.
func addToFirstLevel(proc string, surf, field *mipconvert.Cube, tol float64) (*mipconvert.Cube, error) {
	z, err := zDim(proc, field)
	if err != nil {
		return nil, err
	}
	vals, m, err := surf.BroadcastTo(proc, field, tol)
	if err != nil {
		return nil, err
	}
	o := field.Copy()
	for i, k := range indexAlong(field, z) {
		if k != 0 || field.Missing(i) {
			continue
		}
		if m != nil && m[i] {
			o.SetMissing(i)
			continue
		}
		o.Data.Elements[i] += vals[i]
	}
	return o, nil
}

func volcello(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	o, err := combine("volcello", in, tol, func(v []float64) (float64, error) { return v[0] * v[1], nil })
	if err != nil {
		return nil, err
	}
	o.Name, o.StandardName, o.Units = "volcello", "ocean_volume", "m3"
	return o, nil
}

func combineBands(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "combine-bands"
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	sw, lw := in[0], in[1].Copy()
	swd, ok := sw.DimIndex("pseudo_level")
	if !ok {
		return nil, incompatible(name, "%q has no pseudo_level axis", sw.Name)
	}
	lwd, ok := lw.DimIndex("pseudo_level")
	if !ok {
		return nil, incompatible(name, "%q has no pseudo_level axis", lw.Name)
	}
	if len(in) == 3 {
		sw, err = combine(name, []*mipconvert.Cube{sw, in[2]}, tol, func(v []float64) (float64, error) {
			return v[0] / v[1], nil
		})
		if err != nil {
			return nil, err
		}
	}
	// Number the longwave bands after the shortwave ones.
	nsw := sw.Dims[swd].Len()
	band := lw.Dims[lwd]
	band.Bounds = nil
	for i := range band.Points {
		band.Points[i] = float64(nsw + i + 1)
	}
	sw = sw.Copy()
	sw.Dims[swd].Bounds = nil
	o, err := mipconvert.Concatenate("pseudo_level", tol, sw, lw)
	if err != nil {
		var gm *mipconvert.GridMismatchError
		if errors.As(err, &gm) {
			gm.Processor = name
		}
		return nil, err
	}
	o.Dims[swd].Units = "m-1"
	lo, err := p.Float("min", math.Inf(-1), env.constants())
	if err != nil {
		return nil, err
	}
	hi, err := p.Float("max", math.Inf(1), env.constants())
	if err != nil {
		return nil, err
	}
	return o.Map(func(v float64) float64 { return math.Min(math.Max(v, lo), hi) }), nil
}

func expression(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	e, err := mipconvert.ParseExpression(p.String("expression", ""), env.constants())
	if err != nil {
		return nil, err
	}
	sources := p.Strings("sources", e.Sources())
	if len(sources) != len(in) {
		return nil, fmt.Errorf("mipconvert: expression %q: %d sources for %d inputs", e, len(sources), len(in))
	}
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]float64, len(sources))
	o, err := combine("expression", in, tol, func(v []float64) (float64, error) {
		for i, s := range sources {
			vars[s] = v[i]
		}
		return e.Evaluate(vars)
	})
	if err != nil {
		return nil, err
	}
	units := mipconvert.UnknownUnits
	if len(in) == 1 && len(e.Sources()) == 1 && e.String() == e.Sources()[0] {
		units = ""
	}
	return withUnits(o, p, units), nil
}
