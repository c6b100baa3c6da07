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

	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/internal/cubetest"
)

func TestMasking(t *testing.T) {
	lat := cubetest.Latitude(2, -90, 90)
	for _, test := range []struct {
		name string
		p    mipconvert.Params
		in   func() []*mipconvert.Cube
		want []float64
	}{
		{
			name: "mask-using-field",
			in: func() []*mipconvert.Cube {
				return []*mipconvert.Cube{grid(t, "x", "K", 1, 2, 3, 4), grid(t, "m", "1", 1, 0, 0.5, -1)}
			},
			want: []float64{1, nan, 3, nan},
		},
		{
			name: "mask-using-field",
			p:    mipconvert.Params{"threshold": 0.5},
			in: func() []*mipconvert.Cube {
				return []*mipconvert.Cube{grid(t, "x", "K", 1, 2, 3, 4), grid(t, "m", "1", 1, 0, 0.5, -1)}
			},
			want: []float64{1, nan, nan, nan},
		},
		{
			name: "mask-copy",
			in: func() []*mipconvert.Cube {
				time := cubetest.Time(mipconvert.Day360, 1, 0.5, 1.5)
				return []*mipconvert.Cube{
					cubetest.Field(t, "x", "K", []float64{1, 2, 3, 4}, time, lat),
					cubetest.Field(t, "m", "1", []float64{0, 1}, lat),
				}
			},
			want: []float64{1, nan, 3, nan},
		},
		{
			name: "mask-zeros",
			in: func() []*mipconvert.Cube {
				return []*mipconvert.Cube{grid(t, "x", "K", 0, 1, 0, 2)}
			},
			want: []float64{nan, 1, nan, 2},
		},
		{
			name: "mask-pressure-range",
			in: func() []*mipconvert.Cube {
				plev := cubetest.Levels("air_pressure", "Pa", 100000, 85000, 50000)
				return []*mipconvert.Cube{cubetest.Field(t, "x", "K", []float64{1, 2, 3}, plev)}
			},
			want: []float64{nan, nan, 3},
		},
		{
			name: "divide-by-mask",
			in: func() []*mipconvert.Cube {
				return []*mipconvert.Cube{
					cubetest.Field(t, "x", "K", []float64{2, 4}, lat),
					cubetest.Field(t, "w", "1", []float64{0.5, 0}, lat),
				}
			},
			want: []float64{4, nan},
		},
		{
			name: "heaviside-divide",
			p:    mipconvert.Params{"threshold": 0.6},
			in: func() []*mipconvert.Cube {
				plev := cubetest.Levels("air_pressure", "Pa", 100000, 85000, 50000)
				return []*mipconvert.Cube{
					cubetest.Field(t, "x", "K", []float64{2, 4, 6}, plev),
					cubetest.Field(t, "h", "1", []float64{0.5, 0.8, 1}, plev),
				}
			},
			want: []float64{nan, 5, 6},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			cubetest.Equal(t, run(t, test.name, test.p, test.in()...), test.want)
		})
	}
}

func TestMaskCopyTimeAxis(t *testing.T) {
	time := cubetest.Time(mipconvert.Day360, 1, 0.5)
	c := cubetest.Field(t, "x", "K", []float64{1}, time)
	_, err := Default().Invoke("mask-copy", []*mipconvert.Cube{c, c}, nil, env)
	var ig *mipconvert.IncompatibleGridError
	if !errors.As(err, &ig) {
		t.Errorf("error %v", err)
	}
}

func TestAreaReduce(t *testing.T) {
	c := grid(t, "tas", "K", 1, 2, 3, 4)
	area := grid(t, "areacella", "m2", 1, 1, 3, 3)

	o := run(t, "area-mean", nil, c, area)
	if o.Rank() != 0 {
		t.Fatalf("rank %d", o.Rank())
	}
	cubetest.Equal(t, o, []float64{3})
	if got := o.CellMethods.String(); got != "area: mean" {
		t.Errorf("cell methods %q", got)
	}

	o = run(t, "area-sum", nil, c, area)
	cubetest.Equal(t, o, []float64{24})
	if o.Units != "K m2" {
		t.Errorf("units %q", o.Units)
	}

	// Weights from a cell_area coordinate.
	withAux := c.Copy()
	if err := withAux.AddAux(&mipconvert.Coord{Name: "cell_area", Points: []float64{1, 1, 3, 3}}, 0, 1); err != nil {
		t.Fatal(err)
	}
	o = run(t, "area-mean", nil, withAux)
	cubetest.Equal(t, o, []float64{3})
	if _, ok := o.AuxCoord("cell_area"); ok {
		t.Error("cell_area coordinate kept")
	}
}

func TestReductionWithoutWeights(t *testing.T) {
	lat := cubetest.Latitude(2, -90, 90)
	lon := cubetest.Longitude(2, 0, 360)
	lon.Bounds = nil
	depth := cubetest.Levels("depth", "m", 5, 15)
	tas := func() *mipconvert.Cube { return grid(t, "tas", "K", 1, 2, 3, 4) }
	class := mipconvert.Params{"land_class": "tree"}
	for _, test := range []struct {
		name string
		p    mipconvert.Params
		in   []*mipconvert.Cube
	}{
		{name: "area-mean", in: []*mipconvert.Cube{tas()}},
		{name: "area-sum", in: []*mipconvert.Cube{tas()}},
		{name: "zonal-mean", in: []*mipconvert.Cube{cubetest.Field(t, "ua", "m s-1", []float64{1, 2, 3, 4}, lat, lon)}},
		{name: "sum-over-depth", in: []*mipconvert.Cube{cubetest.Field(t, "thetao", "K", []float64{1, 2}, depth)}},
		{name: "areacella", in: []*mipconvert.Cube{cubetest.Field(t, "x", "1", []float64{1, 2}, cubetest.Latitude(2, -90, 90))}},
		{name: "ozone-column", in: []*mipconvert.Cube{cubetest.Field(t, "o3mass", "kg", cubetest.Seq(8, 1),
			cubetest.Levels("model_level_number", "1", 1, 2), cubetest.Latitude(2, -90, 90), lon)}},
		{name: "div-by-area", in: []*mipconvert.Cube{cubetest.Field(t, "x", "kg", []float64{1, 2, 3, 4}, cubetest.Latitude(2, -90, 90), lon)}},
		{name: "level-mean", in: []*mipconvert.Cube{
			cubetest.Field(t, "thetao", "K", []float64{1, 2, 3, 4}, depth, cubetest.Latitude(2, -90, 90)),
			cubetest.Field(t, "thkcello", "m", []float64{1, 2}, cubetest.Latitude(2, -90, 90))}},
		{name: "land-class-mean", p: class, in: []*mipconvert.Cube{tas(), grid(t, "frac", "1", 1, 1, 1, 1)}},
		{name: "land-class-sum", p: class, in: []*mipconvert.Cube{tas(), grid(t, "frac", "1", 1, 1, 1, 1)}},
		{name: "land-class-area", p: class, in: []*mipconvert.Cube{grid(t, "frac", "1", 1, 1, 1, 1), grid(t, "land", "1", 1, 1, 1, 1)}},
		{name: "land-use-tile-mean", in: []*mipconvert.Cube{tas(), grid(t, "frac", "1", 1, 1, 1, 1)}},
		{name: "land-use-tile-area", in: []*mipconvert.Cube{grid(t, "frac", "1", 1, 1, 1, 1), grid(t, "land", "1", 1, 1, 1, 1)}},
		{name: "land-use-tile-mean-difference", in: []*mipconvert.Cube{
			grid(t, "new", "1", 1, 1, 1, 1), grid(t, "old", "1", 0, 0, 0, 0), grid(t, "frac", "1", 1, 1, 1, 1)}},
		{name: "snow-cover-fraction", in: []*mipconvert.Cube{
			grid(t, "snow", "kg m-2", 1, 1, 1, 1), grid(t, "frac", "1", 1, 1, 1, 1), grid(t, "land", "1", 1, 1, 1, 1)}},
	} {
		t.Run(test.name, func(t *testing.T) {
			before := make([]snapshot, len(test.in))
			for i, c := range test.in {
				before[i] = snap(c)
			}
			_, err := Default().Invoke(test.name, test.in, test.p, env)
			var ig *mipconvert.IncompatibleGridError
			if !errors.As(err, &ig) {
				t.Fatalf("error %v", err)
			}
			if ig.Processor != test.name {
				t.Errorf("processor %q", ig.Processor)
			}
			for i, c := range test.in {
				if !reflect.DeepEqual(snap(c), before[i]) {
					t.Errorf("input %d modified", i)
				}
			}
		})
	}
}

func TestZonalMean(t *testing.T) {
	lat := cubetest.Latitude(1, -90, 90)
	lon := &mipconvert.Coord{Name: "longitude", Axis: mipconvert.AxisX, Units: "degrees_east",
		Points: []float64{0.5, 2, 5}, Bounds: [][2]float64{{0, 1}, {1, 3}, {3, 7}}}
	c := cubetest.Field(t, "ua", "m s-1", []float64{7, 7, 14}, lat, lon)
	o := run(t, "zonal-mean", nil, c)
	cubetest.Equal(t, o, []float64{11})
	if _, ok := o.AuxCoord("longitude"); !ok {
		t.Error("no scalar longitude")
	}
}

func TestLevelReductions(t *testing.T) {
	z := cubetest.Levels("model_level_number", "1", 1, 2, 3)
	c := cubetest.Field(t, "x", "kg m-2", []float64{1, 2, 3}, z)
	cubetest.Equal(t, run(t, "level-sum", nil, c), []float64{6})
	cubetest.Equal(t, run(t, "level-sum", mipconvert.Params{"min": 2.0}, c), []float64{5})

	thick := cubetest.Field(t, "thkcello", "m", []float64{1, 1, 2}, z)
	cubetest.Equal(t, run(t, "level-mean", nil, c, thick), []float64{2.25})
	cubetest.Equal(t, run(t, "level-mean", mipconvert.Params{"max": 2.0}, c, thick), []float64{1.5})
}

func TestSumOverDepth(t *testing.T) {
	depth := cubetest.Levels("depth", "m", 5, 30, 125)
	depth.Bounds = [][2]float64{{0, 10}, {10, 50}, {50, 200}}
	c := cubetest.Field(t, "x", "kg m-2", []float64{1, 2, 3}, depth)
	o := run(t, "sum-over-depth", nil, c)
	cubetest.Equal(t, o, []float64{4})
	a, ok := o.AuxCoord("depth")
	if !ok {
		t.Fatal("no depth coordinate")
	}
	if !reflect.DeepEqual(a.Points, []float64{50}) || !reflect.DeepEqual(a.Bounds, [][2]float64{{0, 100}}) {
		t.Errorf("depth %v %v", a.Points, a.Bounds)
	}
	cubetest.Equal(t, run(t, "sum-over-depth", mipconvert.Params{"depth": 10.0}, c), []float64{1})
}

func TestPressureLayerMean(t *testing.T) {
	plev := cubetest.Levels("air_pressure", "Pa", 85000, 70000, 60000, 50000)
	c := cubetest.Field(t, "ta", "K", []float64{1, 2, 3, 10}, plev)
	o := run(t, "pressure-layer-mean", nil, c)
	cubetest.Equal(t, o, []float64{2})
	a, _ := o.AuxCoord("air_pressure")
	if !reflect.DeepEqual(a.Points, []float64{70000}) || !reflect.DeepEqual(a.Bounds, [][2]float64{{60000, 85000}}) {
		t.Errorf("pressure %v %v", a.Points, a.Bounds)
	}
	_, err := Default().Invoke("pressure-layer-mean", []*mipconvert.Cube{c}, mipconvert.Params{"levels": []float64{925}}, env)
	var ig *mipconvert.IncompatibleGridError
	if !errors.As(err, &ig) {
		t.Errorf("missing level: %v", err)
	}
}

func TestGlobalMoleFraction(t *testing.T) {
	lat := cubetest.Latitude(2, -90, 90)
	lon := cubetest.Longitude(1, 0, 360)
	mass := cubetest.Field(t, "airmass", "kg", []float64{1, 3}, lat, lon)
	mmr := cubetest.Field(t, "o3", "kg kg-1", []float64{0.002, 0.004}, lat, lon)
	o := run(t, "global-mole-fraction", mipconvert.Params{"molar_mass": 48.0}, mass, mmr)
	air, _ := env.Constants.Value("MOLECULAR_MASS_OF_AIR")
	cubetest.Equal(t, o, []float64{0.0035 * air / 48})
	if o.Units != "mol mol-1" {
		t.Errorf("units %q", o.Units)
	}

	shifted := cubetest.Field(t, "o3", "kg kg-1", []float64{0.002, 0.004}, cubetest.Latitude(2, -80, 100), lon)
	_, err := Default().Invoke("global-mole-fraction", []*mipconvert.Cube{mass, shifted}, mipconvert.Params{"molar_mass": 48.0}, env)
	var gm *mipconvert.GridMismatchError
	if !errors.As(err, &gm) {
		t.Errorf("error %v", err)
	}
}

func TestAreacella(t *testing.T) {
	c := grid(t, "x", "1", 1, 2, 3, 4)
	o := run(t, "areacella", nil, c)
	if o.Name != "areacella" || o.Units != "m2" || o.StandardName != "cell_area" {
		t.Errorf("metadata %+v", o.Metadata)
	}
	var total float64
	for _, v := range o.Data.Elements {
		total += v
	}
	want := 4 * math.Pi * mipconvert.EarthRadius * mipconvert.EarthRadius
	if !mipconvert.Close(total, want, 1e-9) {
		t.Errorf("total area %g, want %g", total, want)
	}

	o = run(t, "div-by-area", nil, grid(t, "x", "kg", want/4, want/4, want/4, want/4))
	cubetest.Equal(t, o, []float64{1, 1, 1, 1})
	if o.Units != "kg m-2" {
		t.Errorf("units %q", o.Units)
	}
}

func TestOzoneColumn(t *testing.T) {
	lat := cubetest.Latitude(1, -90, 90)
	lon := cubetest.Longitude(1, 0, 360)
	z := cubetest.Levels("model_level_number", "1", 1, 2)
	area := 4 * math.Pi * mipconvert.EarthRadius * mipconvert.EarthRadius
	// 1 DU over the whole globe, split between two levels.
	mass := area * moleculesPerDU / avogadro * 0.048
	c := cubetest.Field(t, "o3", "kg", []float64{mass / 2, mass / 2}, z, lat, lon)
	o := run(t, "ozone-column", nil, c)
	cubetest.Equal(t, o, []float64{1})
	if o.Units != "DU" {
		t.Errorf("units %q", o.Units)
	}
}
