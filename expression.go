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
	"math"
	"sort"

	"github.com/Knetic/govaluate"
)

// Expression is an arithmetic expression over source field identifiers
// and named constants, such as "m01s03i236 - 273.15" or
// "m01s30i201 * MOLECULAR_MASS_OF_AIR".
type Expression struct {
	text    string
	expr    *govaluate.EvaluableExpression
	sources []string
	consts  map[string]float64
}

func unaryFunc(name string, f func(float64) float64) govaluate.ExpressionFunction {
	return func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("mipconvert: got %d arguments for function '%s', but needs 1", len(arg), name)
		}
		x, ok := arg[0].(float64)
		if !ok {
			return nil, fmt.Errorf("mipconvert: argument of '%s' is not a number", name)
		}
		return f(x), nil
	}
}

func binaryFunc(name string, f func(a, b float64) float64) govaluate.ExpressionFunction {
	return func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 2 {
			return nil, fmt.Errorf("mipconvert: got %d arguments for function '%s', but needs 2", len(arg), name)
		}
		a, aok := arg[0].(float64)
		b, bok := arg[1].(float64)
		if !aok || !bok {
			return nil, fmt.Errorf("mipconvert: arguments of '%s' are not numbers", name)
		}
		return f(a, b), nil
	}
}

// ExpressionFunctions are the functions available in expressions.
var ExpressionFunctions = map[string]govaluate.ExpressionFunction{
	"exp":  unaryFunc("exp", math.Exp),
	"log":  unaryFunc("log", math.Log),
	"sqrt": unaryFunc("sqrt", math.Sqrt),
	"abs":  unaryFunc("abs", math.Abs),
	"max":  binaryFunc("max", math.Max),
	"min":  binaryFunc("min", math.Min),
	"pow":  binaryFunc("pow", math.Pow),
}

// ParseExpression parses text. Identifiers that name a constant in consts
// are bound to its value; all others are source fields.
func ParseExpression(text string, consts *Constants) (*Expression, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(text, ExpressionFunctions)
	if err != nil {
		return nil, fmt.Errorf("mipconvert: expression %q: %v", text, err)
	}
	e := &Expression{text: text, expr: expr, consts: make(map[string]float64)}
	seen := make(map[string]bool)
	for _, v := range expr.Vars() {
		if seen[v] {
			continue
		}
		seen[v] = true
		if consts != nil {
			if c, ok := consts.Get(v); ok {
				e.consts[v] = c.Value
				continue
			}
		}
		e.sources = append(e.sources, v)
	}
	sort.Strings(e.sources)
	if len(e.sources) == 0 {
		return nil, fmt.Errorf("mipconvert: expression %q refers to no source fields", text)
	}
	return e, nil
}

func (e *Expression) String() string { return e.text }

// Sources returns the sorted identifiers of the source fields.
func (e *Expression) Sources() []string { return append([]string(nil), e.sources...) }

// Evaluate evaluates the expression with the given source values.
func (e *Expression) Evaluate(sources map[string]float64) (float64, error) {
	params := make(map[string]interface{}, len(sources)+len(e.consts))
	for k, v := range e.consts {
		params[k] = v
	}
	for _, s := range e.sources {
		v, ok := sources[s]
		if !ok {
			return 0, fmt.Errorf("mipconvert: expression %q: no value for %q", e.text, s)
		}
		params[s] = v
	}
	r, err := e.expr.Evaluate(params)
	if err != nil {
		return 0, fmt.Errorf("mipconvert: expression %q: %v", e.text, err)
	}
	f, ok := r.(float64)
	if !ok {
		return 0, fmt.Errorf("mipconvert: expression %q evaluated to %v, not a number", e.text, r)
	}
	return f, nil
}
