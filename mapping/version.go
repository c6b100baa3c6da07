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
	"fmt"
	"strconv"
	"strings"
)

// CompareVersions compares dotted version strings such as "10.6.1",
// returning -1, 0 or 1. Numeric components are compared numerically and
// others lexically; missing components count as zero.
func CompareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for len(pa) < len(pb) {
		pa = append(pa, "0")
	}
	for len(pb) < len(pa) {
		pb = append(pb, "0")
	}
	for i := range pa {
		na, erra := strconv.Atoi(pa[i])
		nb, errb := strconv.Atoi(pb[i])
		if erra == nil && errb == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	return 0
}

type clause struct {
	op      string
	version string
}

// Constraint restricts the model versions a mapping applies to. It is a
// comma-separated conjunction of clauses like ">=10.6" or "<11".
type Constraint []clause

var constraintOps = []string{">=", "<=", "==", "!=", ">", "<", "="}

// ParseConstraint parses a version constraint. A bare version means
// equality. The empty string matches every version.
func ParseConstraint(s string) (Constraint, error) {
	var c Constraint
	if strings.TrimSpace(s) == "" {
		return c, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		op := "=="
		for _, o := range constraintOps {
			if strings.HasPrefix(part, o) {
				op = o
				part = strings.TrimSpace(part[len(o):])
				break
			}
		}
		if op == "=" {
			op = "=="
		}
		if part == "" || strings.ContainsAny(part, " <>=!") {
			return nil, fmt.Errorf("invalid version constraint %q", s)
		}
		c = append(c, clause{op: op, version: part})
	}
	return c, nil
}

// Matches reports whether version satisfies every clause. A constraint
// with clauses never matches an empty version.
func (c Constraint) Matches(version string) bool {
	if len(c) == 0 {
		return true
	}
	if version == "" {
		return false
	}
	for _, cl := range c {
		r := CompareVersions(version, cl.version)
		var ok bool
		switch cl.op {
		case ">=":
			ok = r >= 0
		case "<=":
			ok = r <= 0
		case ">":
			ok = r > 0
		case "<":
			ok = r < 0
		case "!=":
			ok = r != 0
		default:
			ok = r == 0
		}
		if !ok {
			return false
		}
	}
	return true
}

func (c Constraint) String() string {
	s := make([]string, len(c))
	for i, cl := range c {
		s[i] = cl.op + cl.version
	}
	return strings.Join(s, ", ")
}
