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

package ncio

import (
	"fmt"
	"os"
	"strings"

	"github.com/ctessum/cdf"
)

// classic reads NetCDF classic and 64-bit offset files.
type classic struct {
	f    *os.File
	cf   *cdf.File
	nrec int
}

func openClassic(f *os.File) (*classic, error) {
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mipconvert: reading %s: %v", f.Name(), err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &classic{f: f, cf: cf, nrec: int(cf.Header.NumRecs(fi.Size()))}, nil
}

func (c *classic) Close() error { return c.f.Close() }

func (c *classic) variables() []string { return c.cf.Header.Variables() }

func (c *classic) dims(name string) ([]string, bool) {
	d := c.cf.Header.Dimensions(name)
	if d == nil {
		return nil, false
	}
	return d, true
}

func (c *classic) attrs(name string) map[string]interface{} {
	a := make(map[string]interface{})
	for _, k := range c.cf.Header.Attributes(name) {
		a[k] = c.cf.Header.GetAttribute(name, k)
	}
	return a
}

func (c *classic) globals() map[string]interface{} { return c.attrs("") }

func (c *classic) read(name string) (*variable, error) {
	h := c.cf.Header
	dims, ok := c.dims(name)
	if !ok {
		return nil, fmt.Errorf("mipconvert: no variable %q in %s", name, c.f.Name())
	}
	v := &variable{
		name:  name,
		dims:  dims,
		shape: append([]int(nil), h.Lengths(name)...),
		attrs: c.attrs(name),
	}
	record := h.IsRecordVariable(name)
	if record {
		v.shape[0] = c.nrec
	}
	n := 1
	for _, l := range v.shape {
		n *= l
	}

	// Records are not contiguous, so they are read one at a time.
	nrec, perRec := 1, n
	if record {
		nrec = c.nrec
		perRec = 1
		for _, l := range v.shape[1:] {
			perRec *= l
		}
	}
	var raw []interface{}
	for i := 0; i < nrec; i++ {
		var r cdf.Reader
		if record {
			begin := make([]int, len(v.shape))
			end := make([]int, len(v.shape))
			begin[0], end[0] = i, i
			for j := 1; j < len(v.shape); j++ {
				end[j] = v.shape[j] - 1
			}
			r = c.cf.Reader(name, begin, end)
		} else {
			r = c.cf.Reader(name, nil, nil)
		}
		buf := h.ZeroValue(name, perRec)
		if _, ok := buf.(string); ok {
			buf = make([]byte, perRec)
		}
		if perRec > 0 {
			if _, err := r.Read(buf); err != nil {
				return nil, fmt.Errorf("mipconvert: reading %s from %s: %v", name, c.f.Name(), err)
			}
		}
		raw = append(raw, buf)
	}

	if _, text := h.ZeroValue(name, 0).(string); text {
		// The last dimension of a text variable is the string length.
		width := 1
		if len(v.shape) > 0 {
			width = v.shape[len(v.shape)-1]
			v.shape = v.shape[:len(v.shape)-1]
			v.dims = v.dims[:len(v.dims)-1]
		}
		var b []byte
		for _, r := range raw {
			b = append(b, r.([]byte)...)
		}
		for i := 0; i+width <= len(b) && width > 0; i += width {
			v.labels = append(v.labels, strings.TrimRight(string(b[i:i+width]), "\x00 "))
		}
		return v, nil
	}
	v.values = make([]float64, 0, n)
	for _, r := range raw {
		vals, _, err := flatten(r)
		if err != nil {
			return nil, fmt.Errorf("mipconvert: reading %s from %s: %v", name, c.f.Name(), err)
		}
		v.values = append(v.values, vals...)
	}
	return v, nil
}
