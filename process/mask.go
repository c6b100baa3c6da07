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
	"github.com/spatialmodel/mipconvert"
)

var thresholdParam = mipconvert.ParamSpec{Name: "threshold", Kind: mipconvert.Float,
	Usage: "cells where the mask is at or below this value are missing (default 0)"}

var maskProcessors = []*Processor{
	{
		Name: "mask-using-field", Family: Masking, MinInputs: 2, MaxInputs: 2,
		Doc:    "mask the first field where the second is at or below a threshold",
		Params: []mipconvert.ParamSpec{thresholdParam, toleranceParam},
		Fn:     maskUsingField,
	},
	{
		Name: "mask-copy", Family: Masking, MinInputs: 2, MaxInputs: 2,
		Doc:    "mask the first field where a time-invariant mask field is non-zero",
		Params: []mipconvert.ParamSpec{toleranceParam},
		Fn:     maskCopy,
	},
	{
		Name: "mask-zeros", Family: Masking, MinInputs: 1, MaxInputs: 1,
		Doc: "mask cells equal to zero",
		Fn: func(in []*mipconvert.Cube, _ mipconvert.Params, _ Env) (*mipconvert.Cube, error) {
			return mask(in[0], func(_ int, v float64) bool { return v == 0 }), nil
		},
	},
	{
		Name: "mask-pressure-range", Family: Masking, MinInputs: 1, MaxInputs: 1,
		Doc: "mask pressure levels within a range of hPa",
		Params: []mipconvert.ParamSpec{
			{Name: "min", Kind: mipconvert.Float, Usage: "lowest masked pressure in hPa (default 700)"},
			{Name: "max", Kind: mipconvert.Float, Usage: "highest masked pressure in hPa (default 1100)"},
		},
		Fn: maskPressureRange,
	},
	{
		Name: "divide-by-mask", Family: Masking, MinInputs: 2, MaxInputs: 2,
		Doc:    "divide by fractional weights, masking cells with no weight",
		Params: []mipconvert.ParamSpec{toleranceParam, unitsParam},
		Fn:     divideByMask,
	},
	{
		Name: "heaviside-divide", Family: Masking, MinInputs: 2, MaxInputs: 2,
		Doc:    "divide a pressure level field by the Heaviside function, masking levels below ground",
		Params: []mipconvert.ParamSpec{thresholdParam, toleranceParam},
		Fn:     heavisideDivide,
	},
}

func maskUsingField(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	threshold, err := p.Float("threshold", 0, env.constants())
	if err != nil {
		return nil, err
	}
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	m, mm, err := in[1].BroadcastTo("mask-using-field", in[0], tol)
	if err != nil {
		return nil, err
	}
	return mask(in[0], func(i int, _ float64) bool {
		return (mm != nil && mm[i]) || m[i] <= threshold
	}), nil
}

func maskCopy(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "mask-copy"
	if len(in[1].AxisDims(mipconvert.AxisT)) > 0 {
		return nil, incompatible(name, "mask %q has a time axis", in[1].Name)
	}
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	m, mm, err := in[1].BroadcastTo(name, in[0], tol)
	if err != nil {
		return nil, err
	}
	return mask(in[0], func(i int, _ float64) bool {
		return (mm != nil && mm[i]) || m[i] != 0
	}), nil
}

func maskPressureRange(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "mask-pressure-range"
	lo, err := p.Float("min", 700, env.constants())
	if err != nil {
		return nil, err
	}
	hi, err := p.Float("max", 1100, env.constants())
	if err != nil {
		return nil, err
	}
	c := in[0]
	d, err := pressureDim(name, c)
	if err != nil {
		return nil, err
	}
	pts, _, err := toHPa(name, c.Dims[d])
	if err != nil {
		return nil, err
	}
	idx := indexAlong(c, d)
	return mask(c, func(i int, _ float64) bool {
		v := pts[idx[i]]
		return v >= lo && v <= hi
	}), nil
}

func divideByMask(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	o, err := combine("divide-by-mask", in, tol, func(v []float64) (float64, error) {
		if v[1] <= 0 {
			return nanValue, nil
		}
		return v[0] / v[1], nil
	})
	if err != nil {
		return nil, err
	}
	return withUnits(o, p, ""), nil
}

func heavisideDivide(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	threshold, err := p.Float("threshold", 0, env.constants())
	if err != nil {
		return nil, err
	}
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	return combine("heaviside-divide", in, tol, func(v []float64) (float64, error) {
		if v[1] <= threshold {
			return nanValue, nil
		}
		return v[0] / v[1], nil
	})
}
