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

// Package fix corrects known metadata defects of model output, such as
// wrongly labelled levels, halo cells or missing coordinate bounds. Fixers
// are named so that mapping records can request them before or after
// processing. Every fixer is idempotent.
package fix

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/mapping"
)

// Func is the implementation of a fixer. c is a private copy that the
// fixer may modify and return.
type Func func(c *mipconvert.Cube, p mipconvert.Params, consts *mipconvert.Constants) (*mipconvert.Cube, error)

// Fixer describes a registered metadata correction.
type Fixer struct {
	Name   string
	Params []mipconvert.ParamSpec
	Doc    string
	Fn     Func
}

// Registry maps fixer names to fixers. It is safe for concurrent use.
type Registry struct {
	// Constants resolves constant names in fixer parameters.
	Constants *mipconvert.Constants
	Log       logrus.FieldLogger

	mu     sync.RWMutex
	fixers map[string]*Fixer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fixers: make(map[string]*Fixer)}
}

// Default returns a registry holding every built-in fixer.
func Default() *Registry {
	r := NewRegistry()
	for _, f := range builtin {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds f to the registry.
func (r *Registry) Register(f *Fixer) error {
	if f.Name == "" || f.Fn == nil {
		return fmt.Errorf("mipconvert: invalid fixer %q", f.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fixers[f.Name]; ok {
		return fmt.Errorf("mipconvert: fixer %q is already registered", f.Name)
	}
	r.fixers[f.Name] = f
	return nil
}

// Lookup returns the named fixer.
func (r *Registry) Lookup(name string) (*Fixer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fixers[name]
	return f, ok
}

// Names returns the sorted names of the registered fixers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fixers))
	for n := range r.fixers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) constants() *mipconvert.Constants {
	if r.Constants == nil {
		return mipconvert.DefaultConstants()
	}
	return r.Constants
}

func (r *Registry) log() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

// Apply runs the fixers named in specs, in order, on a copy of c. c is not
// modified.
func (r *Registry) Apply(specs []mapping.FixerSpec, c *mipconvert.Cube) (*mipconvert.Cube, error) {
	if len(specs) == 0 {
		return c, nil
	}
	o := c.Copy()
	for _, s := range specs {
		f, ok := r.Lookup(s.Name)
		if !ok {
			return nil, &mipconvert.FixerPreconditionError{Fixer: s.Name, Reason: "no fixer with this name"}
		}
		if err := s.Params.Check(f.Name, f.Params, r.constants()); err != nil {
			return nil, err
		}
		r.log().WithFields(logrus.Fields{
			"fixer": f.Name,
			"field": o.Name,
		}).Debug("applying fixer")
		var err error
		if o, err = f.Fn(o, s.Params, r.constants()); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Validate checks the fixers of a mapping record. Unlike processors, an
// unknown fixer name is an error.
func (r *Registry) Validate(rec *mapping.Record) error {
	return r.validate(rec, nil)
}

// Validator returns a mapping.Validator that checks the fixers of each
// record, resolving constant names in consts, and then calls next if it
// is not nil.
func (r *Registry) Validator(consts *mipconvert.Constants, next mapping.Validator) mapping.Validator {
	return mapping.ValidatorFunc(func(rec *mapping.Record) error {
		if err := r.validate(rec, consts); err != nil {
			return err
		}
		if next != nil {
			return next.Validate(rec)
		}
		return nil
	})
}

func (r *Registry) validate(rec *mapping.Record, consts *mipconvert.Constants) error {
	for _, s := range append(append([]mapping.FixerSpec(nil), rec.PreFixers...), rec.PostFixers...) {
		f, ok := r.Lookup(s.Name)
		if !ok {
			return &mipconvert.ParameterError{Owner: s.Name, Reason: "unknown fixer"}
		}
		if err := s.Params.Check(f.Name, f.Params, consts); err != nil {
			return err
		}
	}
	return nil
}

func precondition(fixer, format string, args ...interface{}) error {
	return &mipconvert.FixerPreconditionError{Fixer: fixer, Reason: fmt.Sprintf(format, args...)}
}
