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
	"strings"
)

// CellMethod records how the values of a field were derived along one or
// more coordinates, following the CF cell_methods convention.
type CellMethod struct {
	Coords []string
	Method string
	// Where and Over qualify the method, as in "mean where land".
	Where string
	Over  string
	// Comment is the parenthesised text, for example "interval: 1 day".
	Comment string
}

func (m CellMethod) String() string {
	var b strings.Builder
	for _, c := range m.Coords {
		b.WriteString(c)
		b.WriteString(": ")
	}
	b.WriteString(m.Method)
	if m.Where != "" {
		b.WriteString(" where ")
		b.WriteString(m.Where)
	}
	if m.Over != "" {
		b.WriteString(" over ")
		b.WriteString(m.Over)
	}
	if m.Comment != "" {
		b.WriteString(" (")
		b.WriteString(m.Comment)
		b.WriteString(")")
	}
	return b.String()
}

// CellMethods is an ordered list of cell methods; the first was applied
// first.
type CellMethods []CellMethod

func (cm CellMethods) String() string {
	s := make([]string, len(cm))
	for i, m := range cm {
		s[i] = m.String()
	}
	return strings.Join(s, " ")
}

// Add returns cm with a new method appended.
func (cm CellMethods) Add(method string, coords ...string) CellMethods {
	o := append(CellMethods(nil), cm...)
	return append(o, CellMethod{Coords: coords, Method: method})
}

// ParseCellMethods parses a CF cell_methods attribute such as
// "area: mean where land time: mean (interval: 1 day)".
func ParseCellMethods(s string) (CellMethods, error) {
	var (
		out CellMethods
		cur *CellMethod
		// expect records what the next bare word is.
		expect string
	)
	toks, err := tokenizeCellMethods(s)
	if err != nil {
		return nil, err
	}
	for _, t := range toks {
		switch {
		case strings.HasPrefix(t, "("):
			if cur == nil || cur.Method == "" {
				return nil, fmt.Errorf("mipconvert: cell methods %q: comment without method", s)
			}
			cur.Comment = strings.TrimSpace(t[1 : len(t)-1])
		case strings.HasSuffix(t, ":"):
			name := strings.TrimSuffix(t, ":")
			if cur == nil || cur.Method != "" {
				out = appendMethod(out, cur)
				cur = &CellMethod{}
			}
			cur.Coords = append(cur.Coords, name)
			expect = ""
		case t == "where" || t == "over":
			if cur == nil || cur.Method == "" {
				return nil, fmt.Errorf("mipconvert: cell methods %q: %q without method", s, t)
			}
			expect = t
		default:
			if cur == nil {
				return nil, fmt.Errorf("mipconvert: cell methods %q: method %q has no coordinate", s, t)
			}
			switch expect {
			case "where":
				cur.Where = t
			case "over":
				cur.Over = t
			default:
				if cur.Method != "" {
					return nil, fmt.Errorf("mipconvert: cell methods %q: unexpected %q", s, t)
				}
				cur.Method = t
			}
			expect = ""
		}
	}
	out = appendMethod(out, cur)
	for _, m := range out {
		if m.Method == "" {
			return nil, fmt.Errorf("mipconvert: cell methods %q: missing method", s)
		}
	}
	return out, nil
}

func appendMethod(out CellMethods, m *CellMethod) CellMethods {
	if m == nil {
		return out
	}
	return append(out, *m)
}

func tokenizeCellMethods(s string) ([]string, error) {
	var toks []string
	for i := 0; i < len(s); {
		switch {
		case s[i] == ' ' || s[i] == '\t':
			i++
		case s[i] == '(':
			j := strings.IndexByte(s[i:], ')')
			if j < 0 {
				return nil, fmt.Errorf("mipconvert: cell methods %q: unclosed comment", s)
			}
			toks = append(toks, s[i:i+j+1])
			i += j + 1
		default:
			j := i
			for j < len(s) && s[j] != ' ' && s[j] != '\t' && s[j] != '(' {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks, nil
}
