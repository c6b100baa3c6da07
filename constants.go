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
	_ "embed" // embed the default constants table
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed constants.toml
var defaultConstantsTOML string

// Constant is a named physical constant.
type Constant struct {
	Value       float64 `toml:"value"`
	Units       string  `toml:"units"`
	Description string  `toml:"description"`
}

// Constants is a read-only table of named constants and pressure level
// sets. It is safe for concurrent use.
type Constants struct {
	values map[string]Constant
	levels map[string][]float64
}

type constantsFile struct {
	Constants      map[string]Constant  `toml:"constants"`
	PressureLevels map[string][]float64 `toml:"pressure_levels"`
}

var (
	defaultConstants     *Constants
	defaultConstantsOnce sync.Once
)

// DefaultConstants returns the built-in constants table.
func DefaultConstants() *Constants {
	defaultConstantsOnce.Do(func() {
		c, err := ReadConstants(strings.NewReader(defaultConstantsTOML))
		if err != nil {
			panic(err)
		}
		defaultConstants = c
	})
	return defaultConstants
}

// ReadConstants reads a constants table in TOML format:
//
//	[constants.SECONDS_IN_DAY]
//	value = 86400.0
//	units = "s day-1"
//
//	[pressure_levels]
//	PLEV3 = [850.0, 500.0, 250.0]
func ReadConstants(r io.Reader) (*Constants, error) {
	var f constantsFile
	if _, err := toml.DecodeReader(r, &f); err != nil {
		return nil, fmt.Errorf("mipconvert: reading constants: %v", err)
	}
	c := &Constants{
		values: make(map[string]Constant, len(f.Constants)),
		levels: make(map[string][]float64, len(f.PressureLevels)),
	}
	for name, v := range f.Constants {
		if v.Units == "" {
			v.Units = "1"
		}
		c.values[name] = v
	}
	for name, l := range f.PressureLevels {
		if _, ok := c.values[name]; ok {
			return nil, fmt.Errorf("mipconvert: constants: %q is both a constant and a pressure level set", name)
		}
		c.levels[name] = l
	}
	return c, nil
}

// LoadConstants returns the built-in constants overridden and extended by
// the tables in files.
func LoadConstants(files ...string) (*Constants, error) {
	c := DefaultConstants()
	for _, file := range files {
		f, err := os.Open(os.ExpandEnv(file))
		if err != nil {
			return nil, fmt.Errorf("mipconvert: opening constants file: %v", err)
		}
		o, err := ReadConstants(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%v (%s)", err, file)
		}
		if c, err = c.Merge(o); err != nil {
			return nil, fmt.Errorf("%v (%s)", err, file)
		}
	}
	return c, nil
}

// Merge returns a new table holding the entries of c and o, with o taking
// precedence. A name may not be a constant in one table and a pressure
// level set in the other.
func (c *Constants) Merge(o *Constants) (*Constants, error) {
	m := &Constants{
		values: make(map[string]Constant, len(c.values)+len(o.values)),
		levels: make(map[string][]float64, len(c.levels)+len(o.levels)),
	}
	for _, src := range []*Constants{c, o} {
		for k, v := range src.values {
			m.values[k] = v
		}
		for k, v := range src.levels {
			m.levels[k] = v
		}
	}
	for k := range m.levels {
		if _, ok := m.values[k]; ok {
			return nil, fmt.Errorf("mipconvert: constants: %q is both a constant and a pressure level set", k)
		}
	}
	return m, nil
}

// Get returns the named constant.
func (c *Constants) Get(name string) (Constant, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Value returns the value of the named constant.
func (c *Constants) Value(name string) (float64, error) {
	v, ok := c.values[name]
	if !ok {
		return 0, fmt.Errorf("mipconvert: unknown constant %q", name)
	}
	return v.Value, nil
}

// PressureLevels returns a copy of the named pressure level set, in hPa.
func (c *Constants) PressureLevels(name string) ([]float64, bool) {
	l, ok := c.levels[name]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), l...), true
}

// Has reports whether name is a constant or a pressure level set.
func (c *Constants) Has(name string) bool {
	_, ok := c.values[name]
	_, lok := c.levels[name]
	return ok || lok
}

// Names returns the sorted names of all constants.
func (c *Constants) Names() []string {
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
