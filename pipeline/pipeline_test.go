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

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/internal/cubetest"
	"github.com/spatialmodel/mipconvert/mapping"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

// memWriter keeps delivered fields in memory.
type memWriter struct {
	mu     sync.Mutex
	fields map[string]*mipconvert.Cube
	fail   map[string]error
}

func (w *memWriter) Write(_ context.Context, c *mipconvert.Cube, variable, table string) (WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := table + "/" + variable
	if err := w.fail[key]; err != nil {
		return WriteResult{}, err
	}
	if w.fields == nil {
		w.fields = make(map[string]*mipconvert.Cube)
	}
	w.fields[key] = c
	return WriteResult{Path: key + ".nc"}, nil
}

// mapLoader returns fields from a map and counts its calls.
type mapLoader struct {
	fields map[string]*mipconvert.Cube
	calls  int32
	// before, if set, is called on every load.
	before func()
}

func (l *mapLoader) Load(_ context.Context, source string, _ TimeRange, _ mapping.ModelConfig) (*mipconvert.Cube, error) {
	atomic.AddInt32(&l.calls, 1)
	if l.before != nil {
		l.before()
	}
	c, ok := l.fields[source]
	if !ok {
		return nil, &mipconvert.MissingInputError{Source: source}
	}
	return c, nil
}

func newPipeline(t *testing.T, l Loader, w Writer, records ...*mapping.Record) *Pipeline {
	t.Helper()
	tbl, err := mapping.NewTable(mipconvert.DefaultConstants(), nil, records...)
	if err != nil {
		t.Fatal(err)
	}
	return &Pipeline{
		Mappings: tbl,
		Loader:   l,
		Writer:   w,
		Model:    mapping.ModelConfig{ID: "UKESM1-0-LL", Version: "10.9"},
		Workers:  2,
		Log:      quietLog(),
	}
}

func grid() []*mipconvert.Coord {
	return []*mipconvert.Coord{cubetest.Latitude(2, -90, 90), cubetest.Longitude(2, 0, 360)}
}

func TestScaleScenario(t *testing.T) {
	in := cubetest.Fill(t, "mass", "kg", 2.5, grid()...)
	l := &mapLoader{fields: map[string]*mipconvert.Cube{"mass": in}}
	w := &memWriter{}
	p := newPipeline(t, l, w, &mapping.Record{
		Table: "Amon", Variable: "m", Units: "g", Sources: []string{"mass"},
		Processor: "unit-scale", Params: mipconvert.Params{"factor": 1000.0},
		Dimensions: []string{"latitude", "longitude"},
	})
	o := p.Convert(context.Background(), NewRequest("Amon", "m", "", TimeRange{}))
	if o.State != Delivered {
		t.Fatalf("state %v: %v", o.State, o.Err)
	}
	out := w.fields["Amon/m"]
	cubetest.Equal(t, out, []float64{2500, 2500, 2500, 2500})
	if out.Units != "g" {
		t.Errorf("units %q, want g", out.Units)
	}
	if out.Name != "m" {
		t.Errorf("name %q, want m", out.Name)
	}
	cubetest.Equal(t, in, []float64{2.5, 2.5, 2.5, 2.5})
	if in.Units != "kg" {
		t.Errorf("input units changed to %q", in.Units)
	}
}

func TestMaskScenario(t *testing.T) {
	l := &mapLoader{fields: map[string]*mipconvert.Cube{
		"tas":  cubetest.Fill(t, "tas", "K", 10, grid()...),
		"land": cubetest.Field(t, "land", "1", []float64{1, 1, 0, 0}, grid()...),
	}}
	w := &memWriter{}
	p := newPipeline(t, l, w, &mapping.Record{
		Table: "Lmon", Variable: "tsl", Units: "K", Sources: []string{"tas", "land"},
		Processor: "mask-using-field",
	})
	o := p.Convert(context.Background(), NewRequest("Lmon", "tsl", "", TimeRange{}))
	if o.State != Delivered {
		t.Fatalf("state %v: %v", o.State, o.Err)
	}
	cubetest.Equal(t, w.fields["Lmon/tsl"], []float64{10, 10, math.NaN(), math.NaN()})
}

func TestUnknownProcessorScenario(t *testing.T) {
	l := &mapLoader{fields: map[string]*mipconvert.Cube{"tas": cubetest.Fill(t, "tas", "K", 280, grid()...)}}
	w := &memWriter{}
	p := newPipeline(t, l, w,
		&mapping.Record{Table: "Amon", Variable: "bad", Units: "K", Sources: []string{"tas"}, Processor: "no-such-processor"},
		&mapping.Record{Table: "Amon", Variable: "tas", Units: "K", Sources: []string{"tas"}},
	)
	s := p.Run(context.Background(), []Request{
		NewRequest("Amon", "bad", "", TimeRange{}),
		NewRequest("Amon", "tas", "", TimeRange{}),
	})
	if len(s.Outcomes) != 2 {
		t.Fatalf("%d outcomes, want 2", len(s.Outcomes))
	}
	var unknown *mipconvert.UnknownProcessorError
	if o := s.Outcomes[0]; o.State != Failed || !errors.As(o.Err, &unknown) {
		t.Errorf("bad: state %v, err %v; want failed with UnknownProcessorError", o.State, o.Err)
	}
	if o := s.Outcomes[1]; o.State != Delivered {
		t.Errorf("tas: state %v, err %v; want delivered", o.State, o.Err)
	}
	if s.ExitCode() != 1 {
		t.Errorf("exit code %d, want 1", s.ExitCode())
	}
}

func TestAmbiguousScenario(t *testing.T) {
	l := &mapLoader{fields: map[string]*mipconvert.Cube{"tas": cubetest.Fill(t, "tas", "K", 280, grid()...)}}
	p := newPipeline(t, l, &memWriter{},
		&mapping.Record{Table: "Amon", Variable: "tas", Units: "K", Sources: []string{"tas"},
			Processor: "unit-scale", Params: mipconvert.Params{"factor": 1.0}, Origin: "a.toml"},
		&mapping.Record{Table: "Amon", Variable: "tas", Units: "K", Sources: []string{"tas"},
			Processor: "unit-scale", Params: mipconvert.Params{"factor": 2.0}, Origin: "b.toml"},
	)
	// Both streams hit the same ambiguous mapping, which is reported once.
	s := p.Run(context.Background(), []Request{
		NewRequest("Amon", "tas", "", TimeRange{}),
		NewRequest("Amon", "tas", "ap5", TimeRange{}),
	})
	var amb *mipconvert.AmbiguousMappingError
	for _, o := range s.Outcomes {
		if o.State != Failed || !errors.As(o.Err, &amb) {
			t.Fatalf("%s: state %v, err %v; want failed with AmbiguousMappingError", o.Request, o.State, o.Err)
		}
	}
	if s.Count(Failed) != 2 {
		t.Errorf("%d failed, want 2", s.Count(Failed))
	}
	if len(amb.Candidates) != 2 {
		t.Errorf("candidates %v, want 2", amb.Candidates)
	}
	if len(s.Warnings) != 1 {
		t.Errorf("warnings %v, want one", s.Warnings)
	}
	if atomic.LoadInt32(&l.calls) != 0 {
		t.Errorf("loader called %d times", l.calls)
	}
}

func TestOutcomes(t *testing.T) {
	l := &mapLoader{fields: map[string]*mipconvert.Cube{"tas": cubetest.Fill(t, "tas", "K", 280, grid()...)}}
	w := &memWriter{fail: map[string]error{"Amon/full": errors.New("disk full")}}
	p := newPipeline(t, l, w,
		&mapping.Record{Table: "Amon", Variable: "missing", Units: "K", Sources: []string{"ts"}},
		&mapping.Record{Table: "Amon", Variable: "wrong", Units: "m", Sources: []string{"tas"}},
		&mapping.Record{Table: "Amon", Variable: "full", Units: "K", Sources: []string{"tas"}},
		&mapping.Record{Table: "Amon", Variable: "dims", Units: "K", Sources: []string{"tas"},
			Dimensions: []string{"longitude", "latitude", "time"}},
		&mapping.Record{Table: "Amon", Variable: "prefix", Units: "K", Sources: []string{"tas"},
			PreFixers: []mapping.FixerSpec{{Name: "remove-halo", Params: mipconvert.Params{"rows": 5}}}},
	)
	tests := []struct {
		variable string
		state    State
		reached  State
		check    func(error) bool
	}{
		{variable: "unmapped", state: Skipped, reached: Pending, check: func(err error) bool {
			var e *mipconvert.UnmappedVariableError
			return errors.As(err, &e)
		}},
		{variable: "missing", state: Failed, reached: Resolved, check: func(err error) bool {
			var e *mipconvert.MissingInputError
			return errors.As(err, &e) && e.Source == "ts"
		}},
		{variable: "wrong", state: Failed, reached: Corrected, check: func(err error) bool {
			var e *mipconvert.MetadataMismatchError
			return errors.As(err, &e)
		}},
		{variable: "full", state: Failed, reached: Validated, check: func(err error) bool {
			return err != nil && strings.Contains(err.Error(), "disk full")
		}},
		{variable: "dims", state: Failed, reached: Corrected, check: func(err error) bool {
			var e *mipconvert.MetadataMismatchError
			return errors.As(err, &e)
		}},
		{variable: "prefix", state: Failed, reached: Resolved, check: func(err error) bool {
			var e *mipconvert.FixerPreconditionError
			return errors.As(err, &e)
		}},
	}
	for _, test := range tests {
		t.Run(test.variable, func(t *testing.T) {
			o := p.Convert(context.Background(), NewRequest("Amon", test.variable, "", TimeRange{}))
			if o.State != test.state || o.Reached != test.reached {
				t.Errorf("state %v reached %v, want %v reached %v", o.State, o.Reached, test.state, test.reached)
			}
			if !test.check(o.Err) {
				t.Errorf("unexpected error %v", o.Err)
			}
		})
	}
}

func TestConform(t *testing.T) {
	field := func(units string) *mipconvert.Cube {
		c := cubetest.Fill(t, "x", units, 300, grid()...)
		c.SetMissing(3)
		if err := c.AddAux(&mipconvert.Coord{Name: "height", Units: "m", Points: []float64{2}}); err != nil {
			t.Fatal(err)
		}
		return c
	}
	tests := []struct {
		name   string
		rec    mapping.Record
		in     *mipconvert.Cube
		want   []float64
		units  string
		hasErr bool
	}{
		{
			name: "adopt", rec: mapping.Record{Variable: "tas", Units: "K"},
			in: field(mipconvert.UnknownUnits), want: []float64{300, 300, 300, math.NaN()}, units: "K",
		},
		{
			name: "equal", rec: mapping.Record{Variable: "tas", Units: "K"},
			in: field("K"), want: []float64{300, 300, 300, math.NaN()}, units: "K",
		},
		{
			name: "convert", rec: mapping.Record{Variable: "tas", Units: "degC"},
			in: field("K"), want: []float64{26.85, 26.85, 26.85, math.NaN()}, units: "degC",
		},
		{
			name: "mismatch", rec: mapping.Record{Variable: "tas", Units: "m"},
			in: field("K"), hasErr: true,
		},
		{
			name: "unknown target", rec: mapping.Record{Variable: "tas", Units: mipconvert.UnknownUnits},
			in: field("K"), hasErr: true,
		},
		{
			name: "scalar dimension", rec: mapping.Record{Variable: "tas", Units: "K",
				Dimensions: []string{"longitude", "latitude", "height"}},
			in: field("K"), want: []float64{300, 300, 300, math.NaN()}, units: "K",
		},
		{
			name: "missing dimension", rec: mapping.Record{Variable: "tas", Units: "K",
				Dimensions: []string{"latitude"}},
			in: field("K"), hasErr: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			before := test.in.Copy()
			out, err := Conform(&test.rec, test.in)
			if !reflect.DeepEqual(before, test.in) {
				t.Errorf("input modified: %v", pretty.Diff(before, test.in))
			}
			if test.hasErr {
				var e *mipconvert.MetadataMismatchError
				if !errors.As(err, &e) {
					t.Fatalf("err %v, want MetadataMismatchError", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			cubetest.Equal(t, out, test.want)
			if out.Units != test.units || out.Name != test.rec.Variable {
				t.Errorf("units %q name %q", out.Units, out.Name)
			}
		})
	}
}

func TestConformMetadata(t *testing.T) {
	rec := &mapping.Record{Variable: "rlut", Units: "W m-2", Positive: "up", CellMethods: "area: time: mean"}
	out, err := Conform(rec, cubetest.Fill(t, "x", "W m-2", 1, grid()...))
	if err != nil {
		t.Fatal(err)
	}
	want := mipconvert.CellMethods{{Coords: []string{"area", "time"}, Method: "mean"}}
	if !reflect.DeepEqual(out.CellMethods, want) {
		t.Errorf("cell methods %v, want %v", out.CellMethods, want)
	}
	if out.Positive != "up" {
		t.Errorf("positive %q", out.Positive)
	}
}

func TestUncheckedDimensionsLogged(t *testing.T) {
	l := &mapLoader{fields: map[string]*mipconvert.Cube{"tas": cubetest.Fill(t, "tas", "K", 280, grid()...)}}
	w := &memWriter{}
	p := newPipeline(t, l, w,
		&mapping.Record{Table: "Amon", Variable: "checked", Sources: []string{"tas"}, Units: "K",
			Dimensions: []string{"latitude", "longitude"}},
		&mapping.Record{Table: "Amon", Variable: "unchecked", Sources: []string{"tas"}, Units: "K"},
	)
	var buf bytes.Buffer
	log := logrus.New()
	log.Out = &buf
	log.Level = logrus.DebugLevel
	p.Log = log
	for _, v := range []string{"checked", "unchecked"} {
		if o := p.Convert(context.Background(), NewRequest("Amon", v, "", TimeRange{})); o.State != Delivered {
			t.Fatalf("%s: state %v: %v", v, o.State, o.Err)
		}
	}
	var notes []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "dimension check skipped") {
			notes = append(notes, line)
		}
	}
	if len(notes) != 1 || !strings.Contains(notes[0], "variable=unchecked") {
		t.Errorf("dimension notes %q", notes)
	}
}

func TestLoadCache(t *testing.T) {
	l := &mapLoader{fields: map[string]*mipconvert.Cube{"tas": cubetest.Fill(t, "tas", "K", 280, grid()...)}}
	var records []*mapping.Record
	var reqs []Request
	for _, v := range []string{"a", "b", "c", "d", "gone1", "gone2"} {
		src := "tas"
		if strings.HasPrefix(v, "gone") {
			src = "gone"
		}
		records = append(records, &mapping.Record{Table: "Amon", Variable: v, Units: "K", Sources: []string{src}})
		reqs = append(reqs, NewRequest("Amon", v, "", TimeRange{}))
	}
	p := newPipeline(t, l, &memWriter{}, records...)
	p.Workers = 1
	s := p.Run(context.Background(), reqs)
	if s.Count(Delivered) != 4 || s.Count(Failed) != 2 {
		t.Errorf("delivered %d failed %d", s.Count(Delivered), s.Count(Failed))
	}
	if n := atomic.LoadInt32(&l.calls); n != 2 {
		t.Errorf("loader called %d times, want 2", n)
	}
}

func TestConcurrentRun(t *testing.T) {
	in := cubetest.Fill(t, "tas", "K", 280, grid()...)
	before := in.Copy()
	l := &mapLoader{fields: map[string]*mipconvert.Cube{"tas": in}}
	w := &memWriter{}
	var records []*mapping.Record
	var reqs []Request
	for _, v := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		records = append(records, &mapping.Record{Table: "Amon", Variable: v, Units: "degC", Sources: []string{"tas"}})
		reqs = append(reqs, NewRequest("Amon", v, "", TimeRange{}))
	}
	p := newPipeline(t, l, w, records...)
	p.Workers = 4
	s := p.Run(context.Background(), reqs)
	if s.Count(Delivered) != len(reqs) {
		t.Fatalf("delivered %d of %d", s.Count(Delivered), len(reqs))
	}
	for i, o := range s.Outcomes {
		if o.Request.ID != reqs[i].ID {
			t.Errorf("outcome %d is for request %s", i, o.Request)
		}
		cubetest.Equal(t, w.fields["Amon/"+o.Request.Variable], []float64{6.85, 6.85, 6.85, 6.85})
	}
	if n := atomic.LoadInt32(&l.calls); n < 1 || int(n) > len(reqs) {
		t.Errorf("loader called %d times", n)
	}
	if !reflect.DeepEqual(before, in) {
		t.Errorf("shared input modified: %v", pretty.Diff(before, in))
	}
}

type memRecorder struct {
	mu       sync.Mutex
	outcomes map[string]State
}

func (r *memRecorder) Record(_ string, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]State)
	}
	r.outcomes[o.Request.Variable] = o.State
	return nil
}

func TestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := &mapLoader{
		fields: map[string]*mipconvert.Cube{"tas": cubetest.Fill(t, "tas", "K", 280, grid()...)},
		before: cancel,
	}
	rec := &memRecorder{}
	var records []*mapping.Record
	var reqs []Request
	for _, v := range []string{"a", "b", "c"} {
		records = append(records, &mapping.Record{Table: "Amon", Variable: v, Units: "K", Sources: []string{"tas"}})
		reqs = append(reqs, NewRequest("Amon", v, "", TimeRange{}))
	}
	p := newPipeline(t, l, &memWriter{}, records...)
	p.Workers = 1
	p.Recorder = rec
	s := p.Run(ctx, reqs)
	for _, o := range s.Outcomes {
		if o.State != Skipped || !errors.Is(o.Err, context.Canceled) {
			t.Errorf("%s: state %v err %v, want skipped with context.Canceled", o.Request, o.State, o.Err)
		}
	}
	if len(rec.outcomes) != 3 {
		t.Errorf("recorded %v", rec.outcomes)
	}
	if s.ExitCode() != 0 {
		t.Errorf("exit code %d, want 0", s.ExitCode())
	}
}

func TestRunAfterCancel(t *testing.T) {
	in := cubetest.Fill(t, "tas", "K", 280, grid()...)
	var calls int32
	var cancelLoad func()
	l := LoaderFunc(func(ctx context.Context, source string, _ TimeRange, _ mapping.ModelConfig) (*mipconvert.Cube, error) {
		atomic.AddInt32(&calls, 1)
		if cancelLoad != nil {
			cancelLoad()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return in, nil
	})
	p := newPipeline(t, l, &memWriter{}, &mapping.Record{Table: "Amon", Variable: "tas", Units: "K", Sources: []string{"tas"}})
	p.Workers = 1
	reqs := []Request{NewRequest("Amon", "tas", "", TimeRange{})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelLoad = cancel
	s := p.Run(ctx, reqs)
	if o := s.Outcomes[0]; o.State != Skipped || !errors.Is(o.Err, context.Canceled) {
		t.Fatalf("cancelled run: state %v err %v", o.State, o.Err)
	}

	// A later run loads the source again instead of reusing the cancelled load.
	cancelLoad = nil
	s = p.Run(context.Background(), reqs)
	if o := s.Outcomes[0]; o.State != Delivered {
		t.Errorf("second run: state %v err %v", o.State, o.Err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("loader called %d times, want 2", n)
	}
}

func TestSkip(t *testing.T) {
	l := &mapLoader{fields: map[string]*mipconvert.Cube{"tas": cubetest.Fill(t, "tas", "K", 280, grid()...)}}
	p := newPipeline(t, l, &memWriter{}, &mapping.Record{Table: "Amon", Variable: "tas", Units: "K", Sources: []string{"tas"}})
	p.Skip = func(r Request) bool { return r.Variable == "tas" }
	o := p.Convert(context.Background(), NewRequest("Amon", "tas", "", TimeRange{}))
	if o.State != Skipped || o.Err != ErrAlreadyDelivered {
		t.Errorf("state %v err %v", o.State, o.Err)
	}
}

func TestStreamSource(t *testing.T) {
	l := &mapLoader{fields: map[string]*mipconvert.Cube{"apm/tas": cubetest.Fill(t, "tas", "K", 280, grid()...)}}
	p := newPipeline(t, l, &memWriter{}, &mapping.Record{Table: "Amon", Variable: "tas", Units: "K", Sources: []string{"tas"}})
	if o := p.Convert(context.Background(), NewRequest("Amon", "tas", "apm", TimeRange{})); o.State != Delivered {
		t.Errorf("state %v err %v", o.State, o.Err)
	}
	if o := p.Convert(context.Background(), NewRequest("Amon", "tas", "apd", TimeRange{})); o.State != Failed {
		t.Errorf("state %v err %v", o.State, o.Err)
	}
}

func TestSummaryRender(t *testing.T) {
	l := &mapLoader{fields: map[string]*mipconvert.Cube{"tas": cubetest.Fill(t, "tas", "K", 280, grid()...)}}
	p := newPipeline(t, l, &memWriter{},
		&mapping.Record{Table: "Amon", Variable: "tas", Units: "K", Sources: []string{"tas"}},
		&mapping.Record{Table: "Amon", Variable: "ts", Units: "K", Sources: []string{"tas"}, Origin: "a.toml"},
		&mapping.Record{Table: "Amon", Variable: "ts", Units: "K", Sources: []string{"tas"}, Origin: "b.toml"},
	)
	s := p.Run(context.Background(), []Request{
		NewRequest("Amon", "tas", "", TimeRange{}),
		NewRequest("Amon", "ts", "", TimeRange{}),
		NewRequest("Amon", "pr", "", TimeRange{}),
	})
	var b bytes.Buffer
	if err := s.Render(&b); err != nil {
		t.Fatal(err)
	}
	out := b.String()
	for _, want := range []string{s.BatchID, "delivered", "failed", "skipped", "Amon/tas.nc",
		"1 delivered, 1 skipped, 1 failed", "warning:"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("summary written to a buffer is coloured")
	}
}
