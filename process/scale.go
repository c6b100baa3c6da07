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

	"github.com/spatialmodel/mipconvert"
)

var scaleProcessors = []*Processor{
	{
		Name: "identity", Family: UnitScale, MinInputs: 1, MaxInputs: 1,
		Doc: "copy the single source field unchanged",
		Fn: func(in []*mipconvert.Cube, _ mipconvert.Params, _ Env) (*mipconvert.Cube, error) {
			return in[0].Copy(), nil
		},
	},
	{
		Name: "unit-scale", Family: UnitScale, MinInputs: 1, MaxInputs: 1,
		Doc: "multiply by a factor and add an offset",
		Params: []mipconvert.ParamSpec{
			{Name: "factor", Kind: mipconvert.Float, Required: true, Usage: "multiplier, a number or constant name"},
			{Name: "offset", Kind: mipconvert.Float, Usage: "value added after scaling"},
			unitsParam,
		},
		Fn: unitScale,
	},
	{
		Name: "unit-convert", Family: UnitScale, MinInputs: 1, MaxInputs: 1,
		Doc: "convert linearly to other units",
		Params: []mipconvert.ParamSpec{
			{Name: "units", Kind: mipconvert.String, Required: true, Usage: "target units"},
		},
		Fn: unitConvert,
	},
	{
		Name: "mmr-to-mole-fraction", Family: UnitScale, MinInputs: 1, MaxInputs: 1,
		Doc: "convert a mass mixing ratio to a mole fraction",
		Params: []mipconvert.ParamSpec{
			{Name: "molar_mass", Kind: mipconvert.Float, Required: true, Usage: "molar mass of the species"},
			{Name: "air_molar_mass", Kind: mipconvert.Float, Usage: "molar mass of air (default MOLECULAR_MASS_OF_AIR)"},
		},
		Fn: mmrToMoleFraction,
	},
	{
		Name: "mdi-to-zero", Family: UnitScale, MinInputs: 1, MaxInputs: 1,
		Doc: "replace missing cells with zero",
		Params: []mipconvert.ParamSpec{
			{Name: "mdi", Kind: mipconvert.Float, Usage: "value that also marks missing data"},
		},
		Fn: mdiToZero,
	},
	{
		Name: "emission-deposition", Family: UnitScale, MinInputs: 1, MaxInputs: 2,
		Doc: "convert an emission or deposition flux in moles to mass, optionally summing levels and dividing by area",
		Params: []mipconvert.ParamSpec{
			{Name: "molar_mass", Kind: mipconvert.Float, Required: true, Usage: "molar mass of the species"},
			{Name: "sum_levels", Kind: mipconvert.Bool, Usage: "sum over the vertical axis"},
			{Name: "divide_by_area", Kind: mipconvert.Bool, Usage: "divide by grid cell area"},
			toleranceParam,
			unitsParam,
		},
		Fn: emissionDeposition,
	},
	{
		Name: "clamp", Family: UnitScale, MinInputs: 1, MaxInputs: 1,
		Doc: "limit values to a range",
		Params: []mipconvert.ParamSpec{
			{Name: "min", Kind: mipconvert.Float, Usage: "lower limit"},
			{Name: "max", Kind: mipconvert.Float, Usage: "upper limit"},
		},
		Fn: clampFn,
	},
}

func unitScale(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	factor, err := p.Float("factor", 1, env.constants())
	if err != nil {
		return nil, err
	}
	offset, err := p.Float("offset", 0, env.constants())
	if err != nil {
		return nil, err
	}
	o := in[0].Map(func(v float64) float64 { return v*factor + offset })
	return withUnits(o, p, ""), nil
}

func unitConvert(in []*mipconvert.Cube, p mipconvert.Params, _ Env) (*mipconvert.Cube, error) {
	target := p.String("units", "")
	c := in[0]
	if mipconvert.UnitsEqual(c.Units, target) {
		o := c.Copy()
		o.Units = target
		return o, nil
	}
	factor, offset, err := Conversion(c.Units, target)
	if err != nil {
		return nil, &mipconvert.MetadataMismatchError{Variable: c.Name, Reason: err.Error()}
	}
	o := c.Map(func(v float64) float64 { return v*factor + offset })
	o.Units = target
	return o, nil
}

// Conversion returns the factor and offset that convert values in units
// from to units to.
func Conversion(from, to string) (factor, offset float64, err error) {
	f, err := mipconvert.ParseUnits(from)
	if err != nil {
		return 0, 0, err
	}
	t, err := mipconvert.ParseUnits(to)
	if err != nil {
		return 0, 0, err
	}
	return f.ConversionTo(t)
}

func mmrToMoleFraction(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	m, err := p.Float("molar_mass", 0, env.constants())
	if err != nil {
		return nil, err
	}
	air, err := p.Float("air_molar_mass", 0, env.constants())
	if err != nil {
		return nil, err
	}
	if !p.Has("air_molar_mass") {
		if air, err = env.constants().Value("MOLECULAR_MASS_OF_AIR"); err != nil {
			return nil, err
		}
	}
	if m <= 0 {
		return nil, &mipconvert.ParameterError{Owner: "mmr-to-mole-fraction", Param: "molar_mass", Reason: "must be positive"}
	}
	o := in[0].Map(func(v float64) float64 { return v * air / m })
	o.Units = "mol mol-1"
	return o, nil
}

func mdiToZero(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	mdi, err := p.Float("mdi", mipconvert.UMMissingDataIndicator, env.constants())
	if err != nil {
		return nil, err
	}
	c := in[0]
	o := c.Copy()
	o.Mask = nil
	for i, v := range c.Data.Elements {
		if c.Missing(i) || v == mdi {
			o.Data.Elements[i] = 0
		}
	}
	return o, nil
}

func emissionDeposition(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "emission-deposition"
	m, err := p.Float("molar_mass", 0, env.constants())
	if err != nil {
		return nil, err
	}
	c := in[0]
	if len(in) == 2 {
		tol, err := tolerance(p, env)
		if err != nil {
			return nil, err
		}
		if c, err = addToFirstLevel(name, in[1], c, tol); err != nil {
			return nil, err
		}
	}
	c = c.Map(func(v float64) float64 { return v * m })
	if p.Bool("sum_levels", false) {
		z, err := zDim(name, c)
		if err != nil {
			return nil, err
		}
		if c.Shape()[z] > 1 {
			if c, err = c.Collapse(z, mipconvert.Sum, nil); err != nil {
				return nil, err
			}
		}
	}
	if p.Bool("divide_by_area", false) {
		if c, err = divideByArea(name, c); err != nil {
			return nil, err
		}
	}
	return withUnits(c, p, ""), nil
}

func clampFn(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	lo, err := p.Float("min", math.Inf(-1), env.constants())
	if err != nil {
		return nil, err
	}
	hi, err := p.Float("max", math.Inf(1), env.constants())
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, &mipconvert.ParameterError{Owner: "clamp", Reason: fmt.Sprintf("min %g is greater than max %g", lo, hi)}
	}
	return in[0].Map(func(v float64) float64 { return math.Min(math.Max(v, lo), hi) }), nil
}
