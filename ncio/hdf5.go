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
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// hdf5 reads NetCDF-4 files.
type hdf5 struct {
	path string
	nc   api.Group
}

func openHDF5(path string) (*hdf5, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mipconvert: reading %s: %v", path, err)
	}
	return &hdf5{path: path, nc: nc}, nil
}

func (h *hdf5) Close() error {
	h.nc.Close()
	return nil
}

func (h *hdf5) variables() []string { return h.nc.ListVariables() }

func (h *hdf5) dims(name string) ([]string, bool) {
	vg, err := h.nc.GetVarGetter(name)
	if err != nil {
		return nil, false
	}
	return vg.Dimensions(), true
}

func attributeMap(am api.AttributeMap) map[string]interface{} {
	a := make(map[string]interface{})
	if am == nil {
		return a
	}
	for _, k := range am.Keys() {
		if v, ok := am.Get(k); ok {
			a[k] = v
		}
	}
	return a
}

func (h *hdf5) attrs(name string) map[string]interface{} {
	vg, err := h.nc.GetVarGetter(name)
	if err != nil {
		return map[string]interface{}{}
	}
	return attributeMap(vg.Attributes())
}

func (h *hdf5) globals() map[string]interface{} { return attributeMap(h.nc.Attributes()) }

func (h *hdf5) read(name string) (*variable, error) {
	nv, err := h.nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("mipconvert: no variable %q in %s: %v", name, h.path, err)
	}
	v := &variable{name: name, dims: nv.Dimensions, attrs: attributeMap(nv.Attributes)}
	switch vals := nv.Values.(type) {
	case string:
		v.labels = []string{strings.TrimRight(vals, "\x00 ")}
		v.shape = []int{1}
		return v, nil
	case []string:
		for _, s := range vals {
			v.labels = append(v.labels, strings.TrimRight(s, "\x00 "))
		}
		v.shape = []int{len(vals)}
		if len(v.dims) > 1 {
			// Character arrays carry the string length as the last dimension.
			v.dims = v.dims[:len(v.dims)-1]
		}
		return v, nil
	}
	if v.values, v.shape, err = flatten(nv.Values); err != nil {
		return nil, fmt.Errorf("mipconvert: reading %s from %s: %v", name, h.path, err)
	}
	return v, nil
}
