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
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultConstants(t *testing.T) {
	c := DefaultConstants()
	for name, want := range map[string]float64{
		"ACCELERATION_DUE_TO_EARTH_GRAVITY": 9.80665,
		"MOLECULAR_MASS_OF_AIR":             28.97,
		"SECONDS_IN_DAY":                    86400,
		"SEAWATER_DENSITY":                  1026,
		"P850":                              850,
	} {
		v, err := c.Value(name)
		if err != nil {
			t.Fatal(err)
		}
		if v != want {
			t.Errorf("%s = %g, want %g", name, v, want)
		}
	}
	for _, name := range c.Names() {
		k, _ := c.Get(name)
		if !UnitsKnown(k.Units) {
			t.Errorf("%s has unparseable units %q", name, k.Units)
		}
	}
	l, ok := c.PressureLevels("PLEV19")
	if !ok || len(l) != 19 || l[0] != 1000 || l[18] != 1 {
		t.Errorf("PLEV19 = %v", l)
	}
	l[0] = 0
	if l2, _ := c.PressureLevels("PLEV19"); l2[0] != 1000 {
		t.Error("pressure levels are not copied")
	}
	if _, err := c.Value("NOT_A_CONSTANT"); err == nil {
		t.Error("expected an error for an unknown constant")
	}
}

func TestLoadConstantsOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "extra.toml")
	err := os.WriteFile(file, []byte(`
[constants.SECONDS_IN_DAY]
value = 1.0
units = "s"

[constants.MY_FACTOR]
value = 2.5

[pressure_levels]
PLEV2 = [1000.0, 500.0]
`), 0644)
	if err != nil {
		t.Fatal(err)
	}
	c, err := LoadConstants(file)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Value("SECONDS_IN_DAY"); v != 1 {
		t.Errorf("override not applied: %g", v)
	}
	if k, _ := c.Get("MY_FACTOR"); k.Value != 2.5 || k.Units != "1" {
		t.Errorf("MY_FACTOR = %+v", k)
	}
	if l, _ := c.PressureLevels("PLEV2"); !reflect.DeepEqual(l, []float64{1000, 500}) {
		t.Errorf("PLEV2 = %v", l)
	}
	if v, _ := DefaultConstants().Value("SECONDS_IN_DAY"); v != 86400 {
		t.Error("default table was modified")
	}
}

func TestReadConstantsConflict(t *testing.T) {
	_, err := ReadConstants(strings.NewReader(`
[constants.X]
value = 1.0
[pressure_levels]
X = [1.0]
`))
	if err == nil {
		t.Error("expected an error for a name used twice")
	}
}

func TestMergeConflict(t *testing.T) {
	for _, test := range []struct {
		name, file string
	}{
		{"constant over level set", `
[constants.PLEV3]
value = 1.0
`},
		{"level set over constant", `
[pressure_levels]
SECONDS_IN_DAY = [1000.0]
`},
	} {
		t.Run(test.name, func(t *testing.T) {
			o, err := ReadConstants(strings.NewReader(test.file))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := DefaultConstants().Merge(o); err == nil || !strings.Contains(err.Error(), "both a constant and a pressure level set") {
				t.Errorf("error %v", err)
			}
			file := filepath.Join(t.TempDir(), "extra.toml")
			if err := os.WriteFile(file, []byte(test.file), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConstants(file); err == nil {
				t.Error("LoadConstants accepted the conflicting table")
			}
		})
	}
	o, err := ReadConstants(strings.NewReader("[constants.MY_FACTOR]\nvalue = 2.0\n"))
	if err != nil {
		t.Fatal(err)
	}
	m, err := DefaultConstants().Merge(o)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Has("MY_FACTOR") || !m.Has("PLEV3") {
		t.Error("merged table lost entries")
	}
}

func TestCellMethods(t *testing.T) {
	for _, test := range []struct {
		in   string
		want CellMethods
	}{
		{"time: mean", CellMethods{{Coords: []string{"time"}, Method: "mean"}}},
		{"area: time: mean", CellMethods{{Coords: []string{"area", "time"}, Method: "mean"}}},
		{
			"area: mean where land time: mean (interval: 1 day)",
			CellMethods{
				{Coords: []string{"area"}, Method: "mean", Where: "land"},
				{Coords: []string{"time"}, Method: "mean", Comment: "interval: 1 day"},
			},
		},
		{
			"area: mean where sea time: maximum within days time: mean over days",
			nil,
		},
	} {
		got, err := ParseCellMethods(test.in)
		if test.want == nil {
			if err == nil {
				t.Errorf("ParseCellMethods(%q) should fail", test.in)
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("ParseCellMethods(%q) = %#v", test.in, got)
		}
		if got.String() != test.in {
			t.Errorf("round trip of %q gave %q", test.in, got.String())
		}
	}
}

func TestParamsCheck(t *testing.T) {
	specs := []ParamSpec{
		{Name: "factor", Kind: Float, Required: true},
		{Name: "levels", Kind: Floats},
		{Name: "partial", Kind: String, Choices: []string{"drop", "flag"}},
		{Name: "sum", Kind: Bool},
	}
	consts := DefaultConstants()
	for _, test := range []struct {
		name string
		p    Params
		ok   bool
	}{
		{"number", Params{"factor": 1000.0}, true},
		{"integer", Params{"factor": int64(2)}, true},
		{"constant", Params{"factor": "SECONDS_IN_DAY"}, true},
		{"level set", Params{"factor": 1.0, "levels": "PLEV19"}, true},
		{"level list", Params{"factor": 1.0, "levels": []interface{}{1000.0, int64(500)}}, true},
		{"missing", Params{}, false},
		{"unknown constant", Params{"factor": "NOPE"}, false},
		{"unknown param", Params{"factor": 1.0, "extra": 1}, false},
		{"bad choice", Params{"factor": 1.0, "partial": "keep"}, false},
		{"bad bool", Params{"factor": 1.0, "sum": "yes"}, false},
		{"bad list", Params{"factor": 1.0, "levels": []interface{}{"a"}}, false},
	} {
		err := test.p.Check("unit-scale", specs, consts)
		if (err == nil) != test.ok {
			t.Errorf("%s: err = %v", test.name, err)
		}
		var pe *ParameterError
		if err != nil && !errors.As(err, &pe) {
			t.Errorf("%s: error has type %T", test.name, err)
		}
	}
}

func TestParamsAccessors(t *testing.T) {
	consts := DefaultConstants()
	p := Params{"factor": "SECONDS_IN_DAY", "levels": "PLEV3", "n": int64(3), "coords": []interface{}{"a", "b"}}
	f, err := p.Float("factor", 0, consts)
	if err != nil || f != 86400 {
		t.Errorf("factor %g %v", f, err)
	}
	l, err := p.Floats("levels", nil, consts)
	if err != nil || !reflect.DeepEqual(l, []float64{850, 500, 250}) {
		t.Errorf("levels %v %v", l, err)
	}
	if p.Int("n", 0) != 3 || p.Int("m", 7) != 7 {
		t.Error("Int")
	}
	if !reflect.DeepEqual(p.Strings("coords", nil), []string{"a", "b"}) {
		t.Error("Strings")
	}
	if d, _ := p.Float("offset", 1.5, consts); d != 1.5 {
		t.Error("default")
	}
}
