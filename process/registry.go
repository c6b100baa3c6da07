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

// Package process holds the named transformations that derive MIP
// variables from model fields. Every processor is a pure function of its
// input fields and parameters: inputs are never modified and missing
// cells are never transformed.
package process

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/mapping"
)

// Family groups processors by the kind of transformation they perform.
type Family string

// Processor families.
const (
	UnitScale   Family = "unit/scale"
	Masking     Family = "masking"
	Reduction   Family = "reduction"
	Combination Family = "combination"
	Temporal    Family = "temporal"
	Coordinates Family = "coordinates"
)

// Env holds the shared, read-only resources available to processors.
type Env struct {
	Constants *mipconvert.Constants
	Log       logrus.FieldLogger
}

func (e Env) log() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

func (e Env) constants() *mipconvert.Constants {
	if e.Constants == nil {
		return mipconvert.DefaultConstants()
	}
	return e.Constants
}

// Func is the implementation of a processor. It must not modify its
// inputs.
type Func func(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error)

// Unlimited is the MaxInputs of a processor that accepts any number of
// inputs.
const Unlimited = -1

// Processor describes a registered transformation.
type Processor struct {
	Name   string
	Family Family
	// MinInputs and MaxInputs bound the number of input fields.
	MinInputs, MaxInputs int
	Params               []mipconvert.ParamSpec
	// Doc is a one-line description.
	Doc string
	Fn  Func
}

func (p *Processor) checkInputs(n int) error {
	if n < p.MinInputs || (p.MaxInputs != Unlimited && n > p.MaxInputs) {
		switch {
		case p.MaxInputs == Unlimited:
			return fmt.Errorf("mipconvert: processor %s needs at least %d inputs but got %d", p.Name, p.MinInputs, n)
		case p.MinInputs == p.MaxInputs:
			return fmt.Errorf("mipconvert: processor %s needs %d inputs but got %d", p.Name, p.MinInputs, n)
		default:
			return fmt.Errorf("mipconvert: processor %s needs %d to %d inputs but got %d", p.Name, p.MinInputs, p.MaxInputs, n)
		}
	}
	return nil
}

// Registry maps processor names to processors. It is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]*Processor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]*Processor)}
}

// Default returns a registry holding every built-in processor.
func Default() *Registry {
	r := NewRegistry()
	for _, group := range [][]*Processor{
		scaleProcessors,
		maskProcessors,
		reduceProcessors,
		landProcessors,
		combineProcessors,
		temporalProcessors,
		coordProcessors,
	} {
		for _, p := range group {
			if err := r.Register(p); err != nil {
				panic(err)
			}
		}
	}
	return r
}

// Register adds p to the registry. It is an error to register two
// processors with the same name.
func (r *Registry) Register(p *Processor) error {
	if p.Name == "" || p.Fn == nil {
		return fmt.Errorf("mipconvert: invalid processor %q", p.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[p.Name]; ok {
		return fmt.Errorf("mipconvert: processor %q is already registered", p.Name)
	}
	r.procs[p.Name] = p
	return nil
}

// Lookup returns the named processor.
func (r *Registry) Lookup(name string) (*Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[name]
	return p, ok
}

// Names returns the sorted names of the registered processors.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.procs))
	for n := range r.procs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named processor on inputs. It returns
// *mipconvert.UnknownProcessorError if no processor has that name.
func (r *Registry) Invoke(name string, inputs []*mipconvert.Cube, params mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	p, ok := r.Lookup(name)
	if !ok {
		return nil, &mipconvert.UnknownProcessorError{Name: name}
	}
	if err := p.checkInputs(len(inputs)); err != nil {
		return nil, err
	}
	if err := params.Check(name, p.Params, env.constants()); err != nil {
		return nil, err
	}
	env.log().WithFields(logrus.Fields{
		"processor": name,
		"inputs":    len(inputs),
	}).Debug("running processor")
	out, err := p.Fn(inputs, params, env)
	if err != nil {
		return nil, err
	}
	out.AddHistory("%s", name)
	return out, nil
}

// RecordParams returns the processor parameters of a mapping record. The
// expression and sources of expression records are passed to the
// expression processor as parameters.
func RecordParams(rec *mapping.Record) mipconvert.Params {
	if rec.ProcessorName() != mapping.ExpressionProcessor {
		return rec.Params
	}
	p := make(mipconvert.Params, len(rec.Params)+2)
	for k, v := range rec.Params {
		p[k] = v
	}
	if rec.Expression != "" {
		p["expression"] = rec.Expression
	}
	if _, ok := p["sources"]; !ok {
		p["sources"] = append([]string(nil), rec.Sources...)
	}
	return p
}

// Validate checks the parameters and number of sources of a mapping
// record against its processor. Records naming an unregistered processor
// are accepted here and fail when they are run. Constant names are not
// checked; use Validator for that.
func (r *Registry) Validate(rec *mapping.Record) error {
	return r.validate(rec, nil)
}

// Validator returns a mapping.Validator that also checks constant and
// pressure level names against consts.
func (r *Registry) Validator(consts *mipconvert.Constants) mapping.Validator {
	return mapping.ValidatorFunc(func(rec *mapping.Record) error {
		return r.validate(rec, consts)
	})
}

func (r *Registry) validate(rec *mapping.Record, consts *mipconvert.Constants) error {
	p, ok := r.Lookup(rec.ProcessorName())
	if !ok {
		return nil
	}
	if err := p.checkInputs(len(rec.Sources)); err != nil {
		return err
	}
	return RecordParams(rec).Check(p.Name, p.Params, consts)
}
