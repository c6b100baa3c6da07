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

// Package ncio reads source fields from NetCDF model output and writes
// derived fields to NetCDF classic files.
package ncio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// variable is a NetCDF variable read into memory. Text variables hold
// one label per outer index instead of values.
type variable struct {
	name   string
	dims   []string
	shape  []int
	attrs  map[string]interface{}
	values []float64
	labels []string
}

func (v *variable) attrString(name string) string {
	return attrString(v.attrs, name)
}

func (v *variable) attrFloat(name string) (float64, bool) {
	return attrFloat(v.attrs, name)
}

// dataset is an open NetCDF file.
type dataset interface {
	variables() []string
	// dims returns the dimension names of a variable, or false if there is
	// no such variable.
	dims(name string) ([]string, bool)
	// attrs returns the attributes of a variable without reading its data.
	attrs(name string) map[string]interface{}
	read(name string) (*variable, error)
	globals() map[string]interface{}
	Close() error
}

var (
	classicMagic = []byte("CDF")
	hdf5Magic    = []byte("\x89HDF\r\n\x1a\n")
)

// open opens a NetCDF classic or NetCDF-4 file, choosing the reader from
// the file signature.
func open(path string) (dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	magic := make([]byte, len(hdf5Magic))
	n, err := f.ReadAt(magic, 0)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, err
	}
	magic = magic[:n]
	switch {
	case bytes.HasPrefix(magic, classicMagic):
		return openClassic(f)
	case bytes.HasPrefix(magic, hdf5Magic):
		f.Close()
		return openHDF5(path)
	default:
		f.Close()
		return nil, fmt.Errorf("mipconvert: %s is not a NetCDF file", path)
	}
}

func attrString(attrs map[string]interface{}, name string) string {
	switch v := attrs[name].(type) {
	case string:
		return strings.TrimRight(v, "\x00")
	case []string:
		return strings.Join(v, " ")
	case []byte:
		return strings.TrimRight(string(v), "\x00")
	default:
		return ""
	}
}

// attrFloat returns the first value of a numeric attribute.
func attrFloat(attrs map[string]interface{}, name string) (float64, bool) {
	a, ok := attrs[name]
	if !ok {
		return 0, false
	}
	if _, ok := a.(string); ok {
		return 0, false
	}
	rv := reflect.ValueOf(a)
	if rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return 0, false
		}
		a = rv.Index(0).Interface()
	}
	f, err := cast.ToFloat64E(a)
	return f, err == nil
}

// flatten converts possibly nested numeric slices into row-major values
// and their shape. A scalar has an empty shape.
func flatten(v interface{}) ([]float64, []int, error) {
	var (
		vals  []float64
		shape []int
	)
	var walk func(rv reflect.Value, depth int) error
	walk = func(rv reflect.Value, depth int) error {
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			if depth == len(shape) {
				shape = append(shape, rv.Len())
			} else if shape[depth] != rv.Len() {
				return fmt.Errorf("mipconvert: ragged array")
			}
			for i := 0; i < rv.Len(); i++ {
				if err := walk(rv.Index(i), depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		f, err := cast.ToFloat64E(rv.Interface())
		if err != nil {
			return err
		}
		vals = append(vals, f)
		return nil
	}
	if err := walk(reflect.ValueOf(v), 0); err != nil {
		return nil, nil, err
	}
	return vals, shape, nil
}
