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

package mapping

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/spatialmodel/mipconvert"
)

var consts = mipconvert.DefaultConstants()

func TestLoad(t *testing.T) {
	var validated []string
	v := ValidatorFunc(func(r *Record) error {
		validated = append(validated, r.ProcessorName())
		return nil
	})
	tbl, err := Load(consts, v, "testdata/atmos.toml")
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 4 {
		t.Fatalf("loaded %d records", tbl.Len())
	}
	if want := []string{"identity", "unit-scale", "expression", "identity"}; !reflect.DeepEqual(validated, want) {
		t.Errorf("validated %v, want %v", validated, want)
	}

	r, err := tbl.Resolve("Amon", "pr", ModelConfig{ID: "UKESM1-0-LL", Version: "10.9"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r.Sources, []string{"m01s05i216"}) {
		t.Errorf("expression sources %v", r.Sources)
	}
	if r.Origin != "testdata/atmos.toml#3" {
		t.Errorf("origin %q", r.Origin)
	}

	r, err = tbl.Resolve("Amon", "tas", ModelConfig{ID: "HadGEM3-GC31-LL", Version: "10.7"})
	if err != nil {
		t.Fatal(err)
	}
	want := []FixerSpec{{Name: "guess-bounds", Params: mipconvert.Params{"coords": []interface{}{"latitude", "longitude"}}}}
	if r.Processor != "unit-scale" || !reflect.DeepEqual(r.PostFixers, want) {
		t.Errorf("resolved %s with fixers %#v", r, r.PostFixers)
	}
	if f, _ := r.Params.Float("factor", 0, consts); f != 1 {
		t.Errorf("factor %g", f)
	}

	r, err = tbl.Resolve("Amon", "rlut", ModelConfig{ID: "HadGEM3-GC31-LL"})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.PreFixers) != 1 || r.PreFixers[0].Name != "remove-halo" || r.Positive != "up" {
		t.Errorf("rlut record %#v", r)
	}
}

func TestResolveSpecificity(t *testing.T) {
	tbl, err := Load(consts, nil, "testdata/atmos.toml")
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		model     ModelConfig
		processor string
	}{
		{ModelConfig{ID: "HadGEM3-GC31-LL", Version: "10.6"}, "unit-scale"},
		{ModelConfig{ID: "HadGEM3-GC31-LL", Version: "10.5"}, "identity"},
		{ModelConfig{ID: "HadGEM3-GC31-LL"}, "identity"},
		{ModelConfig{ID: "UKESM1-0-LL", Version: "11.0"}, "identity"},
	} {
		r, err := tbl.Resolve("Amon", "tas", test.model)
		if err != nil {
			t.Fatal(err)
		}
		if r.ProcessorName() != test.processor {
			t.Errorf("%v resolved to %s", test.model, r)
		}
	}
}

func TestResolveUnmapped(t *testing.T) {
	tbl, err := NewTable(consts, nil, &Record{Table: "Amon", Variable: "tas", Model: "A", Sources: []string{"x"}, Units: "K"})
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct{ table, variable, model string }{
		{"Amon", "ps", "A"},
		{"Amon", "tas", "B"},
		{"day", "tas", "A"},
	} {
		_, err := tbl.Resolve(test.table, test.variable, ModelConfig{ID: test.model})
		var u *mipconvert.UnmappedVariableError
		if !errors.As(err, &u) {
			t.Errorf("%v: expected an unmapped variable error, got %v", test, err)
		}
	}
}

func TestResolveAmbiguous(t *testing.T) {
	a := &Record{Table: "Amon", Variable: "tas", Model: "A", Version: ">=10", Sources: []string{"x"}, Units: "K", Origin: "a.toml#1"}
	b := &Record{Table: "Amon", Variable: "tas", Model: "A", Version: "<11", Sources: []string{"y"}, Units: "K", Origin: "b.toml#1"}
	generic := &Record{Table: "Amon", Variable: "tas", Sources: []string{"z"}, Units: "K"}
	tbl, err := NewTable(consts, nil, a, b, generic)
	if err != nil {
		t.Fatal(err)
	}
	_, err = tbl.Resolve("Amon", "tas", ModelConfig{ID: "A", Version: "10.5"})
	var amb *mipconvert.AmbiguousMappingError
	if !errors.As(err, &amb) {
		t.Fatalf("expected an ambiguous mapping error, got %v", err)
	}
	if len(amb.Candidates) != 2 || !strings.Contains(amb.Error(), "a.toml#1") || !strings.Contains(amb.Error(), "b.toml#1") {
		t.Errorf("error does not list both records: %v", amb)
	}
	// Only one of the two applies outside the overlap.
	r, err := tbl.Resolve("Amon", "tas", ModelConfig{ID: "A", Version: "11.2"})
	if err != nil || r != a {
		t.Errorf("resolved %v, %v", r, err)
	}
	if errs := tbl.Lint(ModelConfig{ID: "A", Version: "10.5"}); len(errs) != 1 {
		t.Errorf("lint found %d problems", len(errs))
	}
	if errs := tbl.Lint(ModelConfig{ID: "B"}); len(errs) != 0 {
		t.Errorf("lint found %v", errs)
	}
}

func TestReadErrors(t *testing.T) {
	for _, test := range []struct {
		name, file string
	}{
		{"unknown key", `[[mapping]]
table = "Amon"
variable = "tas"
sources = ["x"]
units = "K"
colour = "red"`},
		{"missing units", `[[mapping]]
table = "Amon"
variable = "tas"
sources = ["x"]`},
		{"bad units", `[[mapping]]
table = "Amon"
variable = "tas"
sources = ["x"]
units = "parsecs per fortnight"`},
		{"no sources", `[[mapping]]
table = "Amon"
variable = "tas"
units = "K"`},
		{"bad positive", `[[mapping]]
table = "Amon"
variable = "tas"
sources = ["x"]
units = "K"
positive = "sideways"`},
		{"bad version", `[[mapping]]
table = "Amon"
variable = "tas"
version = ">= 10 11"
sources = ["x"]
units = "K"`},
		{"bad expression", `[[mapping]]
table = "Amon"
variable = "tas"
expression = "x + (2"
units = "K"`},
		{"constants only", `[[mapping]]
table = "Amon"
variable = "tas"
expression = "SECONDS_IN_DAY * 2"
units = "K"`},
		{"two sources no processor", `[[mapping]]
table = "Amon"
variable = "tas"
sources = ["x", "y"]
units = "K"`},
		{"bad cell methods", `[[mapping]]
table = "Amon"
variable = "tas"
sources = ["x"]
units = "K"
cell_methods = "mean"`},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(test.file), "test", consts, nil); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestReadValidatorError(t *testing.T) {
	file := `[[mapping]]
table = "Amon"
variable = "tas"
sources = ["x"]
processor = "unit-scale"
units = "K"
`
	v := ValidatorFunc(func(r *Record) error {
		return &mipconvert.ParameterError{Owner: r.ProcessorName(), Param: "factor", Reason: "required parameter is missing"}
	})
	_, err := Read(strings.NewReader(file), "test", consts, v)
	if err == nil || !strings.Contains(err.Error(), "factor") {
		t.Errorf("validator error not reported: %v", err)
	}
}

func TestNewTableValidator(t *testing.T) {
	rec := &Record{Table: "Amon", Variable: "tas", Sources: []string{"x"}, Processor: "unit-scale", Units: "K"}
	v := ValidatorFunc(func(r *Record) error {
		if !r.Params.Has("factor") {
			return &mipconvert.ParameterError{Owner: r.ProcessorName(), Param: "factor", Reason: "required parameter is missing"}
		}
		return nil
	})
	_, err := NewTable(consts, v, rec)
	if err == nil || !strings.Contains(err.Error(), "factor") || !strings.Contains(err.Error(), "Amon/tas") {
		t.Errorf("validator error not reported: %v", err)
	}

	rec = &Record{Table: "Amon", Variable: "tas", Sources: []string{"x"}, Processor: "unit-scale",
		Params: mipconvert.Params{"factor": 2.0}, Units: "K"}
	tbl, err := NewTable(consts, v, rec)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 1 {
		t.Errorf("%d records", tbl.Len())
	}
}

func TestVersions(t *testing.T) {
	for _, test := range []struct {
		constraint, version string
		want                bool
	}{
		{"", "", true},
		{"", "10.6", true},
		{">=10.6", "10.6", true},
		{">=10.6", "10.10", true},
		{">=10.6", "10.5.9", false},
		{">=10.6", "", false},
		{">=10.6, <11", "10.9", true},
		{">=10.6, <11", "11.0", false},
		{"10.6", "10.6.0", true},
		{"=10.6", "10.7", false},
		{"!=10.6", "10.7", true},
		{">10", "10.0.1", true},
		{"<=vn10.6", "vn10.6", true},
	} {
		c, err := ParseConstraint(test.constraint)
		if err != nil {
			t.Fatal(err)
		}
		if got := c.Matches(test.version); got != test.want {
			t.Errorf("%q matches %q = %v, want %v", test.constraint, test.version, got, test.want)
		}
	}
	for _, bad := range []string{">=", "> 10 11", ">=10,"} {
		if _, err := ParseConstraint(bad); err == nil {
			t.Errorf("ParseConstraint(%q) should fail", bad)
		}
	}
}

func ExampleTable_Resolve() {
	tbl, _ := NewTable(mipconvert.DefaultConstants(), nil,
		&Record{Table: "Amon", Variable: "tas", Sources: []string{"m01s03i236"}, Units: "K"},
		&Record{Table: "Amon", Variable: "tas", Model: "HadGEM3-GC31-LL", Sources: []string{"m01s03i236"},
			Processor: "unit-scale", Params: mipconvert.Params{"factor": 1.0}, Units: "K"},
	)
	r, _ := tbl.Resolve("Amon", "tas", ModelConfig{ID: "HadGEM3-GC31-LL"})
	fmt.Println(r.ProcessorName())
	// Output: unit-scale
}
