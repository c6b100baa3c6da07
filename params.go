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
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Params holds the parameters of a processor or fixer as read from a
// mapping configuration.
type Params map[string]interface{}

// ParamKind is the type of a parameter.
type ParamKind int

// Parameter kinds. A Float parameter may be given as a number or as the
// name of a constant, which is resolved when the processor runs. A Floats
// parameter may be given as a list of numbers or as the name of a pressure
// level set.
const (
	Float ParamKind = iota
	Int
	Bool
	String
	Floats
	Strings
)

func (k ParamKind) String() string {
	switch k {
	case Float:
		return "float"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Floats:
		return "[]float"
	case Strings:
		return "[]string"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// ParamSpec declares one parameter.
type ParamSpec struct {
	Name     string
	Kind     ParamKind
	Required bool
	// Choices, if set, lists the allowed values of a String parameter.
	Choices []string
	Usage   string
}

// Check validates p against specs: required parameters are present, no
// undeclared parameters are given and every value has the declared kind.
// Constant names are checked against consts when it is not nil.
func (p Params) Check(owner string, specs []ParamSpec, consts *Constants) error {
	declared := make(map[string]ParamSpec, len(specs))
	for _, s := range specs {
		declared[s.Name] = s
		if _, ok := p[s.Name]; s.Required && !ok {
			return &ParameterError{Owner: owner, Param: s.Name, Reason: "required parameter is missing"}
		}
	}
	for _, name := range p.Names() {
		s, ok := declared[name]
		if !ok {
			return &ParameterError{Owner: owner, Param: name, Reason: "unknown parameter"}
		}
		if err := p.checkKind(s, consts); err != nil {
			return &ParameterError{Owner: owner, Param: name, Reason: err.Error()}
		}
	}
	return nil
}

func (p Params) checkKind(s ParamSpec, consts *Constants) error {
	v := p[s.Name]
	switch s.Kind {
	case Float:
		if name, ok := v.(string); ok {
			if consts != nil {
				if _, ok := consts.Get(name); !ok {
					return fmt.Errorf("unknown constant %q", name)
				}
			}
			return nil
		}
		_, err := cast.ToFloat64E(v)
		return err
	case Int:
		switch v.(type) {
		case int, int64, int32:
			return nil
		}
		return fmt.Errorf("%v is not an integer", v)
	case Bool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%v is not a boolean", v)
		}
	case String:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("%v is not a string", v)
		}
		if len(s.Choices) > 0 && !contains(s.Choices, str) {
			return fmt.Errorf("%q is not one of %s", str, strings.Join(s.Choices, ", "))
		}
	case Floats:
		if name, ok := v.(string); ok {
			if consts != nil {
				if _, ok := consts.PressureLevels(name); !ok {
					return fmt.Errorf("unknown pressure level set %q", name)
				}
			}
			return nil
		}
		_, err := toFloats(v)
		return err
	case Strings:
		_, err := toStrings(v)
		return err
	}
	return nil
}

// Names returns the sorted parameter names.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the parameter is set.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Float returns a Float parameter, resolving constant names in consts.
func (p Params) Float(name string, def float64, consts *Constants) (float64, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	if s, ok := v.(string); ok {
		if consts == nil {
			return 0, fmt.Errorf("mipconvert: parameter %q: constant %q with no constants table", name, s)
		}
		return consts.Value(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("mipconvert: parameter %q: %v", name, err)
	}
	return f, nil
}

// Int returns an Int parameter.
func (p Params) Int(name string, def int) int {
	v, ok := p[name]
	if !ok {
		return def
	}
	return cast.ToInt(v)
}

// Bool returns a Bool parameter.
func (p Params) Bool(name string, def bool) bool {
	v, ok := p[name]
	if !ok {
		return def
	}
	return cast.ToBool(v)
}

// String returns a String parameter.
func (p Params) String(name, def string) string {
	v, ok := p[name]
	if !ok {
		return def
	}
	return cast.ToString(v)
}

// Floats returns a Floats parameter, resolving pressure level set names in
// consts.
func (p Params) Floats(name string, def []float64, consts *Constants) ([]float64, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	if s, ok := v.(string); ok {
		if consts == nil {
			return nil, fmt.Errorf("mipconvert: parameter %q: level set %q with no constants table", name, s)
		}
		l, ok := consts.PressureLevels(s)
		if !ok {
			return nil, fmt.Errorf("mipconvert: parameter %q: unknown pressure level set %q", name, s)
		}
		return l, nil
	}
	f, err := toFloats(v)
	if err != nil {
		return nil, fmt.Errorf("mipconvert: parameter %q: %v", name, err)
	}
	return f, nil
}

// Strings returns a Strings parameter.
func (p Params) Strings(name string, def []string) []string {
	v, ok := p[name]
	if !ok {
		return def
	}
	s, err := toStrings(v)
	if err != nil {
		return def
	}
	return s
}

func toFloats(v interface{}) ([]float64, error) {
	switch t := v.(type) {
	case []float64:
		return append([]float64(nil), t...), nil
	case []interface{}:
		o := make([]float64, len(t))
		for i, x := range t {
			f, err := cast.ToFloat64E(x)
			if err != nil {
				return nil, err
			}
			o[i] = f
		}
		return o, nil
	case []int64:
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(x)
		}
		return o, nil
	}
	return nil, fmt.Errorf("%v is not a list of numbers", v)
}

func toStrings(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), nil
	case string:
		return []string{t}, nil
	case []interface{}:
		o := make([]string, len(t))
		for i, x := range t {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("%v is not a string", x)
			}
			o[i] = s
		}
		return o, nil
	}
	return nil, fmt.Errorf("%v is not a list of strings", v)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
