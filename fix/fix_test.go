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

package fix

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

func multilevel(t *testing.T) *mipconvert.Cube {
	z := cubetest.Levels("model_level_number", "1", 1, 2)
	z.Bounds = [][2]float64{{0.5, 1.5}, {1.5, 2.5}}
	c := cubetest.Field(t, "rlu", "W m-2", []float64{1, 2, 3, 4}, z, cubetest.Latitude(2, -90, 90))
	lh := &mipconvert.Coord{Name: "level_height", Units: "m", Points: []float64{20, 100},
		Bounds: [][2]float64{{0, 60}, {60, 140}}}
	if err := c.AddAux(lh, 0); err != nil {
		t.Fatal(err)
	}
	sigma := &mipconvert.Coord{Name: "sigma", Units: "1", Points: []float64{0.9, 0.5}}
	if err := c.AddAux(sigma, 0); err != nil {
		t.Fatal(err)
	}
	return c
}

type fixerTest struct {
	name   string
	in     func(t *testing.T) *mipconvert.Cube
	params mipconvert.Params
	check  func(t *testing.T, o *mipconvert.Cube)
}

var fixerTests = []fixerTest{
	{
		name: "correct-multilevel-metadata",
		in:   multilevel,
		check: func(t *testing.T, o *mipconvert.Cube) {
			lh, _, _ := o.Coord("level_height")
			sigma, _, _ := o.Coord("sigma")
			if !reflect.DeepEqual(lh.Points, []float64{0, 100}) || !reflect.DeepEqual(sigma.Points, []float64{1, 0.5}) {
				t.Errorf("levels %v %v", lh.Points, sigma.Points)
			}
			if lh.HasBounds() || o.Dims[0].HasBounds() {
				t.Error("vertical bounds kept")
			}
		},
	},
	{
		name: "parasol-sza-axis",
		in: func(t *testing.T) *mipconvert.Cube {
			h := &mipconvert.Coord{Name: "height", StandardName: "height", Units: "m", Axis: mipconvert.AxisZ,
				Points: []float64{0.4, 9.6, 20.5}}
			return cubetest.Field(t, "parasolRefl", "1", []float64{1, 2, 3}, h)
		},
		check: func(t *testing.T, o *mipconvert.Cube) {
			d := o.Dims[0]
			if d.Name != "solar_zenith_angle" || d.Units != "degree" || !reflect.DeepEqual(d.Points, []float64{0, 10, 20}) {
				t.Errorf("axis %+v", d)
			}
		},
	},
	{
		name: "guess-bounds",
		in: func(t *testing.T) *mipconvert.Cube {
			lat := cubetest.Latitude(3, -120, 120)
			lat.Bounds = nil
			return cubetest.Field(t, "tas", "K", []float64{1, 2, 3}, lat)
		},
		params: mipconvert.Params{"coords": []string{"latitude"}},
		check: func(t *testing.T, o *mipconvert.Cube) {
			want := [][2]float64{{-90, -40}, {-40, 40}, {40, 90}}
			if !reflect.DeepEqual(o.Dims[0].Bounds, want) {
				t.Errorf("bounds %v, want %v", o.Dims[0].Bounds, want)
			}
		},
	},
	{
		name: "relabel-levels",
		in: func(t *testing.T) *mipconvert.Cube {
			return cubetest.Field(t, "ta", "K", []float64{1, 2, 3}, cubetest.Levels("model_level_number", "1", 1, 2, 3))
		},
		params: mipconvert.Params{"name": "plev", "standard_name": "air_pressure", "units": "hPa", "points": "PLEV3"},
		check: func(t *testing.T, o *mipconvert.Cube) {
			d := o.Dims[0]
			if d.Name != "plev" || d.StandardName != "air_pressure" || d.Units != "hPa" ||
				!reflect.DeepEqual(d.Points, []float64{850, 500, 250}) {
				t.Errorf("axis %+v", d)
			}
		},
	},
	{
		name: "remove-coords",
		in: func(t *testing.T) *mipconvert.Cube {
			c := cubetest.Field(t, "ta", "K", []float64{1, 2}, cubetest.Latitude(2, -90, 90))
			for _, name := range []string{"altitude", "surface_altitude", "height"} {
				if err := c.AddAux(&mipconvert.Coord{Name: name, Units: "m", Points: []float64{1}}); err != nil {
					t.Fatal(err)
				}
			}
			return c
		},
		check: func(t *testing.T, o *mipconvert.Cube) {
			if len(o.Aux) != 1 || o.Aux[0].Name != "height" {
				t.Errorf("aux %# v", pretty.Formatter(o.Aux))
			}
		},
	},
	{
		name: "longitude-range",
		in: func(t *testing.T) *mipconvert.Cube {
			return cubetest.Field(t, "tas", "K", []float64{1, 2, 3, 4}, cubetest.Longitude(4, -45, 315))
		},
		params: mipconvert.Params{"min": -180.0},
		check: func(t *testing.T, o *mipconvert.Cube) {
			cubetest.Equal(t, o, []float64{3, 4, 1, 2})
			lon := o.Dims[0]
			if !reflect.DeepEqual(lon.Points, []float64{-180, -90, 0, 90}) {
				t.Errorf("longitude %v", lon.Points)
			}
			if lon.Bounds[1] != [2]float64{-135, -45} {
				t.Errorf("bounds %v", lon.Bounds)
			}
		},
	},
	{
		name: "validate-latitudes",
		in: func(t *testing.T) *mipconvert.Cube {
			lat := &mipconvert.Coord{Name: "latitude", Units: "degrees_north", Axis: mipconvert.AxisY,
				Points: []float64{-90.001, 0, 90.0001}, Bounds: [][2]float64{{-90.5, -45}, {-45, 45}, {45, 90.5}}}
			return cubetest.Field(t, "tas", "K", []float64{1, 2, 3}, lat)
		},
		check: func(t *testing.T, o *mipconvert.Cube) {
			lat := o.Dims[0]
			if !reflect.DeepEqual(lat.Points, []float64{-90, 0, 90}) || lat.Bounds[0][0] != -90 || lat.Bounds[2][1] != 90 {
				t.Errorf("latitude %v %v", lat.Points, lat.Bounds)
			}
		},
	},
	{
		name: "remove-halo",
		in: func(t *testing.T) *mipconvert.Cube {
			return cubetest.Field(t, "tas", "K", cubetest.Seq(12, 0),
				cubetest.Latitude(4, -90, 90), cubetest.Longitude(3, 0, 360))
		},
		params: mipconvert.Params{"rows": 1, "columns": 1},
		check: func(t *testing.T, o *mipconvert.Cube) {
			cubetest.Equal(t, o, []float64{4, 7})
			if !reflect.DeepEqual(o.Shape(), []int{2, 1}) || o.Attributes[HaloAttribute] == "" {
				t.Errorf("result %s %v", o, o.Attributes)
			}
		},
	},
	{
		name:   "reconstruct-hybrid-height",
		in:     multilevel,
		params: mipconvert.Params{"orography": 10.0},
		check: func(t *testing.T, o *mipconvert.Cube) {
			alt, ok := o.AuxCoord("altitude")
			if !ok {
				t.Fatal("no altitude")
			}
			for i, want := range []float64{29, 105} {
				if !mipconvert.Close(alt.Points[i], want, 1e-12) {
					t.Errorf("altitude %d: %g, want %g", i, alt.Points[i], want)
				}
			}
		},
	},
	{
		name: "set-fill-value",
		in: func(t *testing.T) *mipconvert.Cube {
			return cubetest.Field(t, "tas", "K", []float64{1, mipconvert.UMMissingDataIndicator}, cubetest.Latitude(2, -90, 90))
		},
		params: mipconvert.Params{"mdi": mipconvert.UMMissingDataIndicator},
		check: func(t *testing.T, o *mipconvert.Cube) {
			cubetest.Equal(t, o, []float64{1, math.NaN()})
			if o.FillValue != mipconvert.DefaultFillValue {
				t.Errorf("fill value %g", o.FillValue)
			}
		},
	},
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	var names []string
	for _, test := range fixerTests {
		names = append(names, test.name)
	}
	got := r.Names()
	if len(got) != len(names) {
		t.Errorf("registered %v", got)
	}
	for _, n := range names {
		if _, ok := r.Lookup(n); !ok {
			t.Errorf("%s not registered", n)
		}
	}
}

func TestFixers(t *testing.T) {
	r := Default()
	for _, test := range fixerTests {
		t.Run(test.name, func(t *testing.T) {
			in := test.in(t)
			before := in.Copy()
			specs := []mapping.FixerSpec{{Name: test.name, Params: test.params}}
			once, err := r.Apply(specs, in)
			if err != nil {
				t.Fatal(err)
			}
			if err := once.Validate(); err != nil {
				t.Fatal(err)
			}
			test.check(t, once)
			if !reflect.DeepEqual(in, before) {
				t.Errorf("input modified: %v", pretty.Diff(in, before))
			}
			twice, err := r.Apply(specs, once)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("not idempotent: %v", pretty.Diff(once, twice))
			}
		})
	}
}

func TestPreconditions(t *testing.T) {
	flat := func(t *testing.T) *mipconvert.Cube {
		return cubetest.Field(t, "x", "1", []float64{1, 2}, cubetest.Index("pseudo_level", 2))
	}
	for _, test := range []struct {
		fixer  string
		params mipconvert.Params
	}{
		{fixer: "correct-multilevel-metadata"},
		{fixer: "parasol-sza-axis"},
		{fixer: "guess-bounds"},
		{fixer: "relabel-levels"},
		{fixer: "longitude-range"},
		{fixer: "validate-latitudes"},
		{fixer: "remove-halo", params: mipconvert.Params{"rows": 1}},
		{fixer: "reconstruct-hybrid-height"},
		{fixer: "no-such-fixer"},
	} {
		t.Run(test.fixer, func(t *testing.T) {
			_, err := Default().Apply([]mapping.FixerSpec{{Name: test.fixer, Params: test.params}}, flat(t))
			var fp *mipconvert.FixerPreconditionError
			if !errors.As(err, &fp) {
				t.Errorf("error %v", err)
			}
		})
	}

	// A halo wider than the grid.
	c := cubetest.Field(t, "x", "1", []float64{1, 2}, cubetest.Latitude(2, -90, 90))
	_, err := Default().Apply([]mapping.FixerSpec{{Name: "remove-halo", Params: mipconvert.Params{"rows": 1}}}, c)
	var fp *mipconvert.FixerPreconditionError
	if !errors.As(err, &fp) {
		t.Errorf("error %v", err)
	}
}

func TestApplyOrder(t *testing.T) {
	c := cubetest.Field(t, "ta", "K", []float64{1, 2, 3}, cubetest.Levels("model_level_number", "1", 1, 2, 3))
	o, err := Default().Apply([]mapping.FixerSpec{
		{Name: "relabel-levels", Params: mipconvert.Params{"points": []float64{1000, 500, 100}, "units": "hPa"}},
		{Name: "guess-bounds", Params: mipconvert.Params{"coords": []string{"model_level_number"}}},
	}, c)
	if err != nil {
		t.Fatal(err)
	}
	want := [][2]float64{{1250, 750}, {750, 300}, {300, -100}}
	if !reflect.DeepEqual(o.Dims[0].Bounds, want) {
		t.Errorf("bounds %v, want %v", o.Dims[0].Bounds, want)
	}
}

func TestValidate(t *testing.T) {
	r := Default()
	ok := &mapping.Record{PostFixers: []mapping.FixerSpec{{Name: "remove-halo", Params: mipconvert.Params{"rows": 1}}}}
	if err := r.Validate(ok); err != nil {
		t.Error(err)
	}
	for _, rec := range []*mapping.Record{
		{PreFixers: []mapping.FixerSpec{{Name: "no-such-fixer"}}},
		{PostFixers: []mapping.FixerSpec{{Name: "remove-halo", Params: mipconvert.Params{"halo": 1}}}},
		{PostFixers: []mapping.FixerSpec{{Name: "relabel-levels", Params: mipconvert.Params{"points": "PLEV99"}}}},
	} {
		err := r.Validator(mipconvert.DefaultConstants(), nil).Validate(rec)
		var pe *mipconvert.ParameterError
		if !errors.As(err, &pe) {
			t.Errorf("%v: error %v", rec.PreFixers, err)
		}
	}
}
