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
	"math"
	"reflect"
	"testing"

	"github.com/kr/pretty"
	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/internal/cubetest"
	"github.com/spatialmodel/mipconvert/mapping"
)

var nan = math.NaN()

var env = Env{Constants: mipconvert.DefaultConstants()}

// run invokes the named processor from the default registry.
func run(t *testing.T, name string, p mipconvert.Params, in ...*mipconvert.Cube) *mipconvert.Cube {
	t.Helper()
	o, err := Default().Invoke(name, in, p, env)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Validate(); err != nil {
		t.Fatal(err)
	}
	return o
}

func grid(t *testing.T, name, units string, values ...float64) *mipconvert.Cube {
	return cubetest.Field(t, name, units, values, cubetest.Latitude(2, -90, 90), cubetest.Longitude(2, 0, 360))
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	want := []string{
		"identity", "unit-scale", "unit-convert", "mmr-to-mole-fraction", "mdi-to-zero",
		"emission-deposition", "clamp",
		"mask-using-field", "mask-copy", "mask-zeros", "mask-pressure-range", "divide-by-mask", "heaviside-divide",
		"area-mean", "area-sum", "zonal-mean", "level-sum", "level-mean", "sum-over-depth",
		"pressure-layer-mean", "land-class-mean", "land-class-sum", "land-class-area",
		"land-use-tile-mean", "land-use-tile-area", "land-use-tile-mean-difference",
		"snow-cover-fraction", "global-mole-fraction", "ozone-column", "areacella", "div-by-area",
		"add", "subtract", "multiply", "divide", "fix-packing-division", "sum-2d-3d", "volcello",
		"combine-bands", "expression",
		"day-max", "day-mean", "n-hourly-mean", "extract-n-hourly", "monthly-mean-from-daily",
		"annual-mean-from-monthly", "mean-diurnal-cycle",
		"hybrid-height", "pseudo-level", "basin-combine",
	}
	if len(r.Names()) != len(want) {
		t.Errorf("%d processors, want %d", len(r.Names()), len(want))
	}
	for _, name := range want {
		p, ok := r.Lookup(name)
		if !ok {
			t.Errorf("no processor %q", name)
			continue
		}
		if p.Doc == "" || p.Family == "" {
			t.Errorf("processor %q is not described", name)
		}
	}
	if err := r.Register(&Processor{Name: "add", Fn: scaleProcessors[0].Fn}); err == nil {
		t.Error("registering a duplicate should fail")
	}
}

func TestInvokeUnknown(t *testing.T) {
	_, err := Default().Invoke("no-such-processor", nil, nil, env)
	var u *mipconvert.UnknownProcessorError
	if !errors.As(err, &u) || u.Name != "no-such-processor" {
		t.Errorf("error %v", err)
	}
}

func TestInvokeChecks(t *testing.T) {
	c := grid(t, "x", "K", 1, 2, 3, 4)
	r := Default()
	if _, err := r.Invoke("subtract", []*mipconvert.Cube{c}, nil, env); err == nil {
		t.Error("subtract with one input should fail")
	}
	var pe *mipconvert.ParameterError
	if _, err := r.Invoke("unit-scale", []*mipconvert.Cube{c}, nil, env); !errors.As(err, &pe) || pe.Param != "factor" {
		t.Errorf("missing factor: %v", err)
	}
	_, err := r.Invoke("unit-scale", []*mipconvert.Cube{c}, mipconvert.Params{"factor": 2.0, "scale": 3.0}, env)
	if !errors.As(err, &pe) || pe.Param != "scale" {
		t.Errorf("unknown parameter: %v", err)
	}
	_, err = r.Invoke("day-max", []*mipconvert.Cube{c}, mipconvert.Params{"partial": "keep"}, env)
	if !errors.As(err, &pe) || pe.Param != "partial" {
		t.Errorf("bad choice: %v", err)
	}
}

func TestInvokeHistory(t *testing.T) {
	c := grid(t, "x", "K", 1, 2, 3, 4)
	o := run(t, "unit-scale", mipconvert.Params{"factor": "SECONDS_IN_DAY"}, c)
	if !reflect.DeepEqual(o.History, []string{"unit-scale"}) {
		t.Errorf("history %v", o.History)
	}
	if len(c.History) != 0 {
		t.Errorf("input history %v", c.History)
	}
	cubetest.Equal(t, o, []float64{86400, 172800, 259200, 345600})
}

func TestValidate(t *testing.T) {
	r := Default()
	for _, test := range []struct {
		name string
		rec  *mapping.Record
		ok   bool
	}{
		{name: "ok", rec: &mapping.Record{Processor: "add", Sources: []string{"a", "b"}}, ok: true},
		{name: "arity", rec: &mapping.Record{Processor: "subtract", Sources: []string{"a"}}},
		{name: "unknown processor", rec: &mapping.Record{Processor: "frobnicate", Sources: []string{"a"}}, ok: true},
		{name: "bad param", rec: &mapping.Record{Processor: "clamp", Sources: []string{"a"},
			Params: mipconvert.Params{"min": []string{"low"}}}},
		{name: "expression", rec: &mapping.Record{Expression: "a * 2 + b", Sources: []string{"a", "b"}}, ok: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := r.Validate(test.rec)
			if (err == nil) != test.ok {
				t.Errorf("error %v", err)
			}
		})
	}
	rec := &mapping.Record{Processor: "unit-scale", Sources: []string{"a"}, Params: mipconvert.Params{"factor": "NOT_A_CONSTANT"}}
	if err := r.Validate(rec); err != nil {
		t.Errorf("constants are not checked without a table: %v", err)
	}
	if err := r.Validator(env.Constants).Validate(rec); err == nil {
		t.Error("unknown constant should fail")
	}
}

type snapshot struct {
	Elements []float64
	Mask     []bool
	Points   [][]float64
	Units    string
	Aux      int
}

func snap(c *mipconvert.Cube) snapshot {
	s := snapshot{
		Elements: append([]float64(nil), c.Data.Elements...),
		Mask:     append([]bool(nil), c.Mask...),
		Units:    c.Units,
		Aux:      len(c.Aux),
	}
	for _, d := range c.Dims {
		s.Points = append(s.Points, append([]float64(nil), d.Points...))
	}
	return s
}

// Every processor must give bit-identical results when run twice and must
// leave its inputs alone.
func TestPurity(t *testing.T) {
	field := func() *mipconvert.Cube {
		c := grid(t, "x", "K", 1, 0, 3, 4)
		c.SetMissing(2)
		return c
	}
	area := grid(t, "area", "m2", 1, 1, 3, 3)
	for _, test := range []struct {
		name string
		p    mipconvert.Params
		in   []*mipconvert.Cube
	}{
		{name: "identity", in: []*mipconvert.Cube{field()}},
		{name: "unit-scale", p: mipconvert.Params{"factor": 2.0, "offset": 1.0}, in: []*mipconvert.Cube{field()}},
		{name: "unit-convert", p: mipconvert.Params{"units": "degC"}, in: []*mipconvert.Cube{field()}},
		{name: "mmr-to-mole-fraction", p: mipconvert.Params{"molar_mass": "MOLECULAR_MASS_OF_O3"}, in: []*mipconvert.Cube{field()}},
		{name: "mdi-to-zero", in: []*mipconvert.Cube{field()}},
		{name: "clamp", p: mipconvert.Params{"min": 1.0, "max": 3.5}, in: []*mipconvert.Cube{field()}},
		{name: "emission-deposition", p: mipconvert.Params{"molar_mass": 2.0, "divide_by_area": true}, in: []*mipconvert.Cube{field()}},
		{name: "mask-zeros", in: []*mipconvert.Cube{field()}},
		{name: "mask-using-field", in: []*mipconvert.Cube{field(), area}},
		{name: "area-mean", in: []*mipconvert.Cube{field(), area}},
		{name: "area-sum", in: []*mipconvert.Cube{field(), area}},
		{name: "zonal-mean", in: []*mipconvert.Cube{field()}},
		{name: "areacella", in: []*mipconvert.Cube{field()}},
		{name: "add", in: []*mipconvert.Cube{field(), area}},
		{name: "divide", in: []*mipconvert.Cube{field(), field()}},
		{name: "fix-packing-division", in: []*mipconvert.Cube{field(), area}},
		{name: "expression", p: mipconvert.Params{"expression": "exp(a) * b", "sources": []string{"a", "b"}},
			in: []*mipconvert.Cube{field(), area}},
	} {
		t.Run(test.name, func(t *testing.T) {
			before := make([]snapshot, len(test.in))
			for i, c := range test.in {
				before[i] = snap(c)
			}
			a := run(t, test.name, test.p, test.in...)
			b := run(t, test.name, test.p, test.in...)
			if !reflect.DeepEqual(snap(a), snap(b)) {
				t.Errorf("repeat invocation differs: %v", pretty.Diff(snap(a), snap(b)))
			}
			for i, c := range test.in {
				if !reflect.DeepEqual(snap(c), before[i]) {
					t.Errorf("input %d modified: %v", i, pretty.Diff(snap(c), before[i]))
				}
			}
		})
	}
}

func TestScale(t *testing.T) {
	c := grid(t, "x", "K", 273.15, 283.15, 0, 300)
	c.SetMissing(2)

	o := run(t, "unit-convert", mipconvert.Params{"units": "degC"}, c)
	cubetest.Equal(t, o, []float64{0, 10, nan, 26.85})
	if o.Units != "degC" {
		t.Errorf("units %q", o.Units)
	}
	_, err := Default().Invoke("unit-convert", []*mipconvert.Cube{c}, mipconvert.Params{"units": "m"}, env)
	var mm *mipconvert.MetadataMismatchError
	if !errors.As(err, &mm) {
		t.Errorf("inconvertible units: %v", err)
	}

	o = run(t, "mdi-to-zero", nil, c)
	cubetest.Equal(t, o, []float64{273.15, 283.15, 0, 300})

	mmr := grid(t, "o3", "kg kg-1", 48, 96, 0, 4.8)
	o = run(t, "mmr-to-mole-fraction", mipconvert.Params{"molar_mass": 48.0, "air_molar_mass": 29.0}, mmr)
	cubetest.Equal(t, o, []float64{29, 58, 0, 2.9})
	if o.Units != "mol mol-1" {
		t.Errorf("units %q", o.Units)
	}

	o = run(t, "clamp", mipconvert.Params{"max": 280.0}, c)
	cubetest.Equal(t, o, []float64{273.15, 280, nan, 280})
}

func TestEmissionDeposition(t *testing.T) {
	lat := cubetest.Latitude(2, -90, 90)
	z := cubetest.Levels("model_level_number", "1", 1, 2)
	emis := cubetest.Field(t, "emis", "mol s-1", []float64{1, 2, 3, 4}, z, lat)
	surf := cubetest.Field(t, "surf", "mol s-1", []float64{10, 20}, lat)
	o := run(t, "emission-deposition", mipconvert.Params{"molar_mass": 0.5, "sum_levels": true, "units": "kg s-1"}, emis, surf)
	cubetest.Equal(t, o, []float64{(11 + 3) * 0.5, (22 + 4) * 0.5})
	if o.Units != "kg s-1" {
		t.Errorf("units %q", o.Units)
	}
}
