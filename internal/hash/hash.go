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

// Package hash computes cache keys for arbitrary values.
package hash

import (
	"fmt"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

var printer = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisableMethods:          true,
	SpewKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Key returns a hexadecimal key that identifies values. Equal values give
// equal keys. Values are printed with spew, which sorts map keys and
// includes unexported fields.
func Key(values ...interface{}) string {
	h := fnv.New128a()
	for i, v := range values {
		if i > 0 {
			h.Write([]byte{0})
		}
		if s, ok := v.(string); ok {
			h.Write([]byte(s))
			continue
		}
		printer.Fprintf(h, "%#v", v)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
