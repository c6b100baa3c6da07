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
	"strconv"
	"strings"

	"github.com/ctessum/unit"
)

// MoleDim is the dimension of amount of substance.
var MoleDim = unit.NewDimension("mole")

// UnknownUnits is the units string of a field whose units could not be
// determined, for example after combining fields with different units.
const UnknownUnits = "unknown"

// Units is a parsed units string. The SI value of a quantity x expressed in
// these units is x*Scale + Offset.
type Units struct {
	text   string
	si     *unit.Unit
	offset float64
}

func (u *Units) String() string { return u.text }

// Scale returns the factor converting a value in u to SI units.
func (u *Units) Scale() float64 { return u.si.Value() }

// Offset returns the SI offset of u, which is non-zero only for
// temperature scales such as degC.
func (u *Units) Offset() float64 { return u.offset }

// Dimensions returns the SI dimensions of u.
func (u *Units) Dimensions() unit.Dimensions { return u.si.Dimensions() }

var unitSymbols = map[string]*unit.Unit{
	"1":               unit.New(1, nil),
	"m":               unit.New(1, unit.Dimensions{unit.LengthDim: 1}),
	"g":               unit.New(1e-3, unit.Dimensions{unit.MassDim: 1}),
	"t":               unit.New(1e3, unit.Dimensions{unit.MassDim: 1}),
	"s":               unit.New(1, unit.Dimensions{unit.TimeDim: 1}),
	"sec":             unit.New(1, unit.Dimensions{unit.TimeDim: 1}),
	"second":          unit.New(1, unit.Dimensions{unit.TimeDim: 1}),
	"seconds":         unit.New(1, unit.Dimensions{unit.TimeDim: 1}),
	"min":             unit.New(60, unit.Dimensions{unit.TimeDim: 1}),
	"minute":          unit.New(60, unit.Dimensions{unit.TimeDim: 1}),
	"minutes":         unit.New(60, unit.Dimensions{unit.TimeDim: 1}),
	"h":               unit.New(3600, unit.Dimensions{unit.TimeDim: 1}),
	"hr":              unit.New(3600, unit.Dimensions{unit.TimeDim: 1}),
	"hour":            unit.New(3600, unit.Dimensions{unit.TimeDim: 1}),
	"hours":           unit.New(3600, unit.Dimensions{unit.TimeDim: 1}),
	"d":               unit.New(86400, unit.Dimensions{unit.TimeDim: 1}),
	"day":             unit.New(86400, unit.Dimensions{unit.TimeDim: 1}),
	"days":            unit.New(86400, unit.Dimensions{unit.TimeDim: 1}),
	"yr":              unit.New(31556925.9747, unit.Dimensions{unit.TimeDim: 1}),
	"year":            unit.New(31556925.9747, unit.Dimensions{unit.TimeDim: 1}),
	"years":           unit.New(31556925.9747, unit.Dimensions{unit.TimeDim: 1}),
	"K":               unit.New(1, unit.Dimensions{unit.TemperatureDim: 1}),
	"A":               unit.New(1, unit.Dimensions{unit.CurrentDim: 1}),
	"cd":              unit.New(1, unit.Dimensions{unit.LuminousIntensityDim: 1}),
	"rad":             unit.New(1, unit.Dimensions{unit.AngleDim: 1}),
	"degree":          unit.New(math.Pi/180, unit.Dimensions{unit.AngleDim: 1}),
	"degrees":         unit.New(math.Pi/180, unit.Dimensions{unit.AngleDim: 1}),
	"degrees_north":   unit.New(math.Pi/180, unit.Dimensions{unit.AngleDim: 1}),
	"degree_north":    unit.New(math.Pi/180, unit.Dimensions{unit.AngleDim: 1}),
	"degrees_east":    unit.New(math.Pi/180, unit.Dimensions{unit.AngleDim: 1}),
	"degree_east":     unit.New(math.Pi/180, unit.Dimensions{unit.AngleDim: 1}),
	"sr":              unit.New(1, nil),
	"mol":             unit.New(1, unit.Dimensions{MoleDim: 1}),
	"mole":            unit.New(1, unit.Dimensions{MoleDim: 1}),
	"N":               unit.New(1, unit.Dimensions{unit.MassDim: 1, unit.LengthDim: 1, unit.TimeDim: -2}),
	"Pa":              unit.New(1, unit.Dimensions{unit.MassDim: 1, unit.LengthDim: -1, unit.TimeDim: -2}),
	"bar":             unit.New(1e5, unit.Dimensions{unit.MassDim: 1, unit.LengthDim: -1, unit.TimeDim: -2}),
	"J":               unit.New(1, unit.Dimensions{unit.MassDim: 1, unit.LengthDim: 2, unit.TimeDim: -2}),
	"W":               unit.New(1, unit.Dimensions{unit.MassDim: 1, unit.LengthDim: 2, unit.TimeDim: -3}),
	"Hz":              unit.New(1, unit.Dimensions{unit.TimeDim: -1}),
	"L":               unit.New(1e-3, unit.Dimensions{unit.LengthDim: 3}),
	"l":               unit.New(1e-3, unit.Dimensions{unit.LengthDim: 3}),
	"%":               unit.New(1e-2, nil),
	"percent":         unit.New(1e-2, nil),
	"psu":             unit.New(1e-3, nil),
	"DU":              unit.New(4.4615e-4, unit.Dimensions{MoleDim: 1, unit.LengthDim: -2}),
	"Sv":              unit.New(1e6, unit.Dimensions{unit.LengthDim: 3, unit.TimeDim: -1}),
	"kt":              unit.New(1852.0/3600, unit.Dimensions{unit.LengthDim: 1, unit.TimeDim: -1}),
	"dBZ":             unit.New(1, nil),
	"level":           unit.New(1, nil),
	"count":           unit.New(1, nil),
	"degC":            unit.New(1, unit.Dimensions{unit.TemperatureDim: 1}),
	"Celsius":         unit.New(1, unit.Dimensions{unit.TemperatureDim: 1}),
	"celsius":         unit.New(1, unit.Dimensions{unit.TemperatureDim: 1}),
	"degree_Celsius":  unit.New(1, unit.Dimensions{unit.TemperatureDim: 1}),
	"degrees_Celsius": unit.New(1, unit.Dimensions{unit.TemperatureDim: 1}),
}

// Symbols measured from a shifted origin, and their SI offset.
var unitOffsets = map[string]float64{
	"degC":            273.15,
	"Celsius":         273.15,
	"celsius":         273.15,
	"degree_Celsius":  273.15,
	"degrees_Celsius": 273.15,
}

var unitPrefixes = []struct {
	symbol string
	factor float64
}{
	// Two-letter prefixes first.
	{"da", 1e1},
	{"Y", 1e24}, {"Z", 1e21}, {"E", 1e18}, {"P", 1e15}, {"T", 1e12},
	{"G", 1e9}, {"M", 1e6}, {"k", 1e3}, {"h", 1e2}, {"d", 1e-1},
	{"c", 1e-2}, {"m", 1e-3}, {"u", 1e-6}, {"μ", 1e-6}, {"n", 1e-9},
	{"p", 1e-12}, {"f", 1e-15}, {"a", 1e-18},
}

// ParseUnits parses a UDUNITS-style units string such as "kg m-2 s-1",
// "W/m2", "m.s-1" or "1e-3". Terms separated by spaces, dots or asterisks
// are multiplied; terms after a slash are divided. Exponents may be
// written as a trailing integer, with "^" or with "**".
func ParseUnits(s string) (*Units, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return nil, fmt.Errorf("mipconvert: empty units")
	}
	if text == UnknownUnits {
		return nil, fmt.Errorf("mipconvert: units are unknown")
	}
	out := &Units{text: text, si: unit.New(1, nil)}
	numerator, denominator := text, ""
	if i := strings.IndexByte(text, '/'); i >= 0 {
		numerator, denominator = text[:i], text[i+1:]
		if strings.Contains(denominator, "/") {
			return nil, fmt.Errorf("mipconvert: units %q: more than one '/'", text)
		}
	}
	nterms := 0
	parts := []struct {
		text string
		sign int
	}{{numerator, 1}, {denominator, -1}}
	for _, part := range parts {
		sign := part.sign
		for _, term := range strings.Fields(part.text) {
			u, off, err := parseUnitTerm(term)
			if err != nil {
				return nil, fmt.Errorf("mipconvert: units %q: %v", text, err)
			}
			if off != 0 {
				out.offset = off
			}
			if sign > 0 {
				out.si.Mul(u)
			} else {
				out.si.Div(u)
			}
			nterms++
		}
	}
	if nterms == 0 {
		return nil, fmt.Errorf("mipconvert: units %q: no terms", text)
	}
	if out.offset != 0 && nterms > 1 {
		return nil, fmt.Errorf("mipconvert: units %q: shifted temperature scale in compound units", text)
	}
	return out, nil
}

func parseUnitTerm(term string) (*unit.Unit, float64, error) {
	// "m.s-1" and "kg*m" style products.
	if strings.ContainsAny(term, ".*") && !isNumber(term) {
		u := unit.New(1, nil)
		var off float64
		for _, t := range strings.FieldsFunc(term, func(r rune) bool { return r == '.' || r == '*' }) {
			tu, o, err := parseUnitTerm(t)
			if err != nil {
				return nil, 0, err
			}
			if o != 0 {
				off = o
			}
			u.Mul(tu)
		}
		return u, off, nil
	}
	if isNumber(term) {
		v, _ := strconv.ParseFloat(term, 64)
		if v == 0 {
			return nil, 0, fmt.Errorf("zero scale factor")
		}
		return unit.New(v, nil), 0, nil
	}
	symbol, power, err := splitPower(term)
	if err != nil {
		return nil, 0, err
	}
	base, off, err := lookupSymbol(symbol)
	if err != nil {
		return nil, 0, err
	}
	if power != 1 && off != 0 {
		return nil, 0, fmt.Errorf("power of shifted unit %q", symbol)
	}
	out := unit.New(1, nil)
	for i := 0; i < abs(power); i++ {
		if power > 0 {
			out.Mul(base)
		} else {
			out.Div(base)
		}
	}
	return out, off, nil
}

func lookupSymbol(symbol string) (*unit.Unit, float64, error) {
	if u, ok := unitSymbols[symbol]; ok {
		return u.Clone(), unitOffsets[symbol], nil
	}
	for _, p := range unitPrefixes {
		if !strings.HasPrefix(symbol, p.symbol) {
			continue
		}
		u, ok := unitSymbols[symbol[len(p.symbol):]]
		if !ok || unitOffsets[symbol[len(p.symbol):]] != 0 {
			continue
		}
		o := u.Clone()
		o.Mul(unit.New(p.factor, nil))
		return o, 0, nil
	}
	return nil, 0, fmt.Errorf("unknown unit %q", symbol)
}

// splitPower separates a trailing integer exponent from a unit symbol.
func splitPower(term string) (string, int, error) {
	for _, sep := range []string{"**", "^"} {
		if i := strings.Index(term, sep); i > 0 {
			p, err := strconv.Atoi(term[i+len(sep):])
			if err != nil {
				return "", 0, fmt.Errorf("invalid exponent in %q", term)
			}
			return term[:i], p, nil
		}
	}
	i := len(term)
	for i > 0 && term[i-1] >= '0' && term[i-1] <= '9' {
		i--
	}
	if i > 0 && term[i-1] == '-' || i > 0 && term[i-1] == '+' {
		i--
	}
	if i == len(term) || i == 0 {
		return term, 1, nil
	}
	p, err := strconv.Atoi(term[i:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid exponent in %q", term)
	}
	return term[:i], p, nil
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// Convertible reports whether values in u can be expressed in o.
func (u *Units) Convertible(o *Units) bool {
	return unit.DimensionsMatch(u.si, o.si)
}

// ConversionTo returns the linear transformation taking a value in u to a
// value in o: x_o = x_u*factor + offset.
func (u *Units) ConversionTo(o *Units) (factor, offset float64, err error) {
	if !u.Convertible(o) {
		return 0, 0, fmt.Errorf("mipconvert: cannot convert %q (%v) to %q (%v)",
			u.text, u.Dimensions(), o.text, o.Dimensions())
	}
	factor = u.Scale() / o.Scale()
	offset = (u.offset - o.offset) / o.Scale()
	return factor, offset, nil
}

// UnitsEqual reports whether two units strings describe the same units,
// including scale and offset. Strings that cannot be parsed are compared
// textually.
func UnitsEqual(a, b string) bool {
	if strings.TrimSpace(a) == strings.TrimSpace(b) {
		return true
	}
	ua, err := ParseUnits(a)
	if err != nil {
		return false
	}
	ub, err := ParseUnits(b)
	if err != nil {
		return false
	}
	f, o, err := ua.ConversionTo(ub)
	return err == nil && Close(f, 1, 1e-12) && Close(o, 0, 1e-12)
}

// UnitsKnown reports whether s holds parseable units.
func UnitsKnown(s string) bool {
	_, err := ParseUnits(s)
	return err == nil
}
