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

// Package pipeline takes each requested MIP variable through mapping
// resolution, loading, processing, metadata correction and validation, and
// hands the result to a writer. Requests in a batch are independent and
// run on a bounded pool of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/fix"
	"github.com/spatialmodel/mipconvert/internal/hash"
	"github.com/spatialmodel/mipconvert/mapping"
	"github.com/spatialmodel/mipconvert/process"
)

// A Loader returns source fields. It returns *mipconvert.MissingInputError
// when the source is absent for the requested range. Returned fields are
// shared between requests and must not be modified.
type Loader interface {
	Load(ctx context.Context, source string, r TimeRange, model mapping.ModelConfig) (*mipconvert.Cube, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, source string, r TimeRange, model mapping.ModelConfig) (*mipconvert.Cube, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, source string, r TimeRange, model mapping.ModelConfig) (*mipconvert.Cube, error) {
	return f(ctx, source, r, model)
}

// A Writer stores a derived field that already conforms to its target
// metadata.
type Writer interface {
	Write(ctx context.Context, c *mipconvert.Cube, variable, table string) (WriteResult, error)
}

// WriterFunc adapts a function to the Writer interface.
type WriterFunc func(ctx context.Context, c *mipconvert.Cube, variable, table string) (WriteResult, error)

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, c *mipconvert.Cube, variable, table string) (WriteResult, error) {
	return f(ctx, c, variable, table)
}

// A Recorder is told the outcome of every request. It must be safe for
// concurrent use.
type Recorder interface {
	Record(batch string, o Outcome) error
}

// Pipeline converts requests. Its fields must not be changed once Run or
// Convert has been called.
type Pipeline struct {
	Mappings   *mapping.Table
	Processors *process.Registry
	Fixers     *fix.Registry
	Constants  *mipconvert.Constants

	Loader Loader
	Writer Writer
	Model  mapping.ModelConfig

	// Workers is the number of requests converted at once. The default
	// is GOMAXPROCS.
	Workers int
	// CacheSize is the number of loaded source fields kept in memory.
	// The default is 2*Workers.
	CacheSize int

	// Recorder, if set, is told the outcome of every request.
	Recorder Recorder
	// Skip, if set, reports requests that should not be converted, such
	// as those delivered by an earlier run of a resumed batch.
	Skip func(Request) bool

	Log logrus.FieldLogger

	cacheInit sync.Once
	cache     *requestcache.Cache
	// runs numbers the batches and single conversions so that cached loads
	// are only shared within one of them.
	runs atomic.Uint64
}

func (p *Pipeline) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.GOMAXPROCS(-1)
}

func (p *Pipeline) cacheSize() int {
	if p.CacheSize > 0 {
		return p.CacheSize
	}
	return 2 * p.workers()
}

func (p *Pipeline) log() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}

func (p *Pipeline) constants() *mipconvert.Constants {
	if p.Constants == nil {
		return mipconvert.DefaultConstants()
	}
	return p.Constants
}

func (p *Pipeline) processors() *process.Registry {
	if p.Processors == nil {
		return process.Default()
	}
	return p.Processors
}

func (p *Pipeline) fixers() *fix.Registry {
	if p.Fixers == nil {
		return fix.Default()
	}
	return p.Fixers
}

// Run converts requests on a pool of workers and returns a summary with
// one outcome per request, in request order. When ctx is cancelled no new
// request is started; requests that had not finished are skipped with
// reason context.Canceled.
func (p *Pipeline) Run(ctx context.Context, requests []Request) *Summary {
	s := NewSummary()
	log := p.log().WithField("batch", s.BatchID)
	log.WithField("requests", len(requests)).Info("starting batch")

	// Resolve the defaults once, before the workers share them.
	procs, fixers := p.processors(), p.fixers()
	run := p.runs.Add(1)

	outcomes := make([]Outcome, len(requests))
	started := make([]bool, len(requests))
	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				outcomes[i] = p.convert(ctx, run, requests[i], procs, fixers, log)
				p.record(s.BatchID, outcomes[i], log)
			}
		}()
	}
feed:
	for i := range requests {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case work <- i:
			started[i] = true
		}
	}
	close(work)
	wg.Wait()

	for i, req := range requests {
		if !started[i] {
			outcomes[i] = Outcome{Request: req, State: Skipped, Reached: Pending, Err: ctx.Err()}
			p.record(s.BatchID, outcomes[i], log)
		}
		s.add(outcomes[i])
	}
	s.Finished = time.Now()
	log.WithFields(logrus.Fields{
		"delivered": s.Count(Delivered),
		"skipped":   s.Count(Skipped),
		"failed":    s.Count(Failed),
	}).Info("finished batch")
	return s
}

func (p *Pipeline) record(batch string, o Outcome, log logrus.FieldLogger) {
	if p.Recorder == nil {
		return
	}
	if err := p.Recorder.Record(batch, o); err != nil {
		log.WithField("request", o.Request.ID).WithError(err).Warn("recording outcome")
	}
}

// Convert takes one request through the pipeline.
func (p *Pipeline) Convert(ctx context.Context, req Request) Outcome {
	return p.convert(ctx, p.runs.Add(1), req, p.processors(), p.fixers(), p.log())
}

func (p *Pipeline) convert(ctx context.Context, run uint64, req Request, procs *process.Registry, fixers *fix.Registry, log logrus.FieldLogger) Outcome {
	start := time.Now()
	o := Outcome{Request: req, Reached: Pending}
	log = log.WithFields(logrus.Fields{
		"request":  req.ID,
		"table":    req.Table,
		"variable": req.Variable,
	})
	end := func(state State, err error) Outcome {
		o.State, o.Err = state, err
		o.Duration = time.Since(start)
		entry := log.WithFields(logrus.Fields{"state": state, "reached": o.Reached})
		switch state {
		case Delivered:
			entry.WithField("path", o.Result.Path).Info("delivered")
		case Skipped:
			entry.WithError(err).Info("skipped")
		default:
			entry.WithError(err).Error("failed")
		}
		return o
	}
	// fail ends the request, treating cancellation as a skip.
	fail := func(err error) Outcome {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return end(Skipped, ctx.Err())
		}
		return end(Failed, err)
	}

	if p.Skip != nil && p.Skip(req) {
		return end(Skipped, ErrAlreadyDelivered)
	}
	if err := ctx.Err(); err != nil {
		return end(Skipped, err)
	}

	rec, err := p.Mappings.Resolve(req.Table, req.Variable, p.Model)
	if err != nil {
		var unmapped *mipconvert.UnmappedVariableError
		if errors.As(err, &unmapped) {
			return end(Skipped, err)
		}
		return fail(err)
	}
	o.Reached, o.Mapping = Resolved, rec.Origin
	log = log.WithField("mapping", rec.Origin)

	inputs := make([]*mipconvert.Cube, len(rec.Sources))
	for i, src := range rec.Sources {
		if err := ctx.Err(); err != nil {
			return end(Skipped, err)
		}
		c, err := p.load(ctx, run, SourceID(req.Stream, src), req.Range)
		if err != nil {
			return fail(err)
		}
		if inputs[i], err = fixers.Apply(rec.PreFixers, c); err != nil {
			return fail(err)
		}
	}
	o.Reached = Loaded

	if err := ctx.Err(); err != nil {
		return end(Skipped, err)
	}
	env := process.Env{Constants: p.constants(), Log: log}
	c, err := procs.Invoke(rec.ProcessorName(), inputs, processorParams(procs, rec), env)
	if err != nil {
		return fail(err)
	}
	o.Reached = Processed

	if c, err = fixers.Apply(rec.PostFixers, c); err != nil {
		return fail(err)
	}
	o.Reached = Corrected

	if len(rec.Dimensions) == 0 {
		log.Debug("mapping lists no dimensions, dimension check skipped")
	}
	if c, err = Conform(rec, c); err != nil {
		return fail(err)
	}
	o.Reached = Validated

	if err := ctx.Err(); err != nil {
		return end(Skipped, err)
	}
	if o.Result, err = p.Writer.Write(ctx, c, req.Variable, req.Table); err != nil {
		return fail(fmt.Errorf("mipconvert: writing %s: %w", req, err))
	}
	o.Reached = Delivered
	return end(Delivered, nil)
}

// LoadKey identifies a source field load. Run is the batch the load
// belongs to; results, failures included, are never shared between
// batches.
type LoadKey struct {
	Run    uint64
	Source string
	Range  TimeRange
	Model  mapping.ModelConfig
}

// loadResult carries load errors as data so that duplicate requests
// waiting on a failed load are released.
type loadResult struct {
	cube *mipconvert.Cube
	err  error
}

// load returns a source field through a cache that allows at most one
// load of each distinct source at a time within a run. The memory cache
// comes first so that a result is stored before waiting duplicates are
// released.
func (p *Pipeline) load(ctx context.Context, run uint64, source string, r TimeRange) (*mipconvert.Cube, error) {
	p.cacheInit.Do(func() {
		p.cache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
			k := request.(LoadKey)
			p.log().WithFields(logrus.Fields{"source": k.Source, "range": k.Range}).Debug("loading source")
			c, err := p.Loader.Load(ctx, k.Source, k.Range, k.Model)
			if err == nil && c == nil {
				err = &mipconvert.MissingInputError{Source: k.Source}
			}
			return loadResult{cube: c, err: err}, nil
		}, p.workers(), requestcache.Memory(p.cacheSize()), requestcache.Deduplicate())
	})
	k := LoadKey{Run: run, Source: source, Range: r, Model: p.Model}
	res, err := p.cache.NewRequest(ctx, k, hash.Key(k.Run, k.Source, k.Range, k.Model)).Result()
	if err != nil {
		return nil, err
	}
	lr := res.(loadResult)
	return lr.cube, lr.err
}
