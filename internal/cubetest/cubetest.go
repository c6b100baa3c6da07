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

// Package cubetest builds small labelled fields for tests.
package cubetest

import (
	"math"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/mipconvert"
)

// Latitude returns a latitude coordinate with n equal cells spanning
// [lo, hi], with bounds.
func Latitude(n int, lo, hi float64) *mipconvert.Coord {
	c := regular(n, lo, hi)
	c.Name, c.StandardName, c.Units, c.Axis = "latitude", "latitude", "degrees_north", mipconvert.AxisY
	return c
}

// Longitude returns a longitude coordinate with n equal cells spanning
// [lo, hi], with bounds.
func Longitude(n int, lo, hi float64) *mipconvert.Coord {
	c := regular(n, lo, hi)
	c.Name, c.StandardName, c.Units, c.Axis = "longitude", "longitude", "degrees_east", mipconvert.AxisX
	return c
}

func regular(n int, lo, hi float64) *mipconvert.Coord {
	c := &mipconvert.Coord{Points: make([]float64, n), Bounds: make([][2]float64, n)}
	w := (hi - lo) / float64(n)
	for i := 0; i < n; i++ {
		c.Bounds[i] = [2]float64{lo + float64(i)*w, lo + float64(i+1)*w}
		c.Points[i] = lo + (float64(i)+0.5)*w
	}
	return c
}

// Time returns a time coordinate in "days since 1850-01-01" with the
// given points, each bounded by step days centred on the point.
func Time(calendar string, step float64, points ...float64) *mipconvert.Coord {
	c := &mipconvert.Coord{
		Name: "time", StandardName: "time", Axis: mipconvert.AxisT,
		Units: "days since 1850-01-01", Calendar: calendar,
		Points: points, Bounds: make([][2]float64, len(points)),
	}
	for i, p := range points {
		c.Bounds[i] = [2]float64{p - step/2, p + step/2}
	}
	return c
}

// Levels returns a vertical coordinate with the given name and points.
func Levels(name, units string, points ...float64) *mipconvert.Coord {
	return &mipconvert.Coord{Name: name, StandardName: name, Units: units, Axis: mipconvert.AxisZ, Points: points}
}

// Index returns an unlabelled coordinate with points 0..n-1.
func Index(name string, n int) *mipconvert.Coord {
	c := &mipconvert.Coord{Name: name, Points: make([]float64, n)}
	for i := range c.Points {
		c.Points[i] = float64(i)
	}
	return c
}

// Field returns a field with the given values and coordinates. The shape
// is taken from the coordinates.
func Field(t testing.TB, name, units string, values []float64, dims ...*mipconvert.Coord) *mipconvert.Cube {
	t.Helper()
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = d.Len()
	}
	data := sparse.ZerosDense(shape...)
	if len(values) != len(data.Elements) {
		t.Fatalf("cubetest: %d values for shape %v", len(values), shape)
	}
	copy(data.Elements, values)
	c, err := mipconvert.New(mipconvert.Metadata{Name: name, Units: units}, data, dims...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// Fill returns a field of the given coordinates with every cell set to v.
func Fill(t testing.TB, name, units string, v float64, dims ...*mipconvert.Coord) *mipconvert.Cube {
	t.Helper()
	n := 1
	for _, d := range dims {
		n *= d.Len()
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = v
	}
	return Field(t, name, units, vals, dims...)
}

// Seq returns the values start, start+1, ..., start+n-1.
func Seq(n int, start float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = start + float64(i)
	}
	return v
}

// Tolerance is the relative tolerance used by Equal.
const Tolerance = 1e-9

// Equal compares the values and mask of c with want; math.NaN() in want
// marks a cell that must be missing.
func Equal(t testing.TB, c *mipconvert.Cube, want []float64) {
	t.Helper()
	if c.Len() != len(want) {
		t.Fatalf("field %q has %d cells, want %d", c.Name, c.Len(), len(want))
	}
	for i, w := range want {
		if math.IsNaN(w) {
			if !c.Missing(i) {
				t.Errorf("cell %d: got %g, want missing", i, c.Data.Elements[i])
			}
			continue
		}
		if c.Missing(i) {
			t.Errorf("cell %d: got missing, want %g", i, w)
			continue
		}
		if !mipconvert.Close(c.Data.Elements[i], w, Tolerance) {
			t.Errorf("cell %d: got %g, want %g", i, c.Data.Elements[i], w)
		}
	}
}
