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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/fix"
	"github.com/spatialmodel/mipconvert/mapping"
	"github.com/spatialmodel/mipconvert/pipeline"
)

// Writer writes each derived field to its own NetCDF classic file. It
// implements pipeline.Writer.
type Writer struct {
	// Dir is the directory the files are written to.
	Dir   string
	Model mapping.ModelConfig
	// Attributes are global attributes added to every file.
	Attributes map[string]string
	// LockTimeout bounds the wait for another process writing the same
	// file. The default is one minute.
	LockTimeout time.Duration

	Log logrus.FieldLogger
}

func (w *Writer) log() logrus.FieldLogger {
	if w.Log == nil {
		return logrus.StandardLogger()
	}
	return w.Log
}

// Filename returns the name of the file c is written to:
// <variable>_<table>_<model>[_<start>-<end>].nc, where start and end are
// the first and last dates of the time coordinate.
func (w *Writer) Filename(c *mipconvert.Cube, variable, table string) string {
	parts := []string{variable, table}
	if w.Model.ID != "" {
		parts = append(parts, w.Model.ID)
	}
	if dims := c.AxisDims(mipconvert.AxisT); len(dims) == 1 {
		if dates, err := c.Dims[dims[0]].Dates(); err == nil && len(dates) > 0 {
			parts = append(parts, dates[0].Compact()+"-"+dates[len(dates)-1].Compact())
		}
	}
	return strings.Join(parts, "_") + ".nc"
}

// Write writes c. The file is written under a temporary name and renamed
// when complete, while holding a lock that keeps concurrent writers of the
// same file apart.
func (w *Writer) Write(ctx context.Context, c *mipconvert.Cube, variable, table string) (pipeline.WriteResult, error) {
	var res pipeline.WriteResult
	if c.Len() == 0 {
		return res, fmt.Errorf("mipconvert: %s/%s has no cells", table, variable)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return res, err
	}
	path := filepath.Join(w.Dir, w.Filename(c, variable, table))

	timeout := w.LockTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(lctx, 50*time.Millisecond)
	if err != nil {
		return res, fmt.Errorf("mipconvert: locking %s: %w", path, err)
	}
	if !locked {
		return res, fmt.Errorf("mipconvert: %s is locked by another writer", path)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			w.log().WithError(err).WithField("path", path).Warn("unlocking output file")
		}
		os.Remove(lock.Path())
	}()

	res.TrackingID = "hdl:21.14100/" + uuid.New().String()
	h, err := w.header(c, variable, table, res.TrackingID)
	if err != nil {
		return res, err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return res, err
	}
	if err := writeFile(f, h, c, variable); err != nil {
		f.Close()
		os.Remove(tmp)
		return res, fmt.Errorf("mipconvert: writing %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return res, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return res, err
	}
	res.Path = path
	w.log().WithFields(logrus.Fields{"path": path, "tracking_id": res.TrackingID}).Debug("wrote field")
	return res, nil
}

const boundsDim = "bnds"

// layout names the dimensions and variables of a field in a file.
type layout struct {
	dims    []string
	lengths []int
	// labelDims holds the string length dimension of labelled coordinates.
	labelDims map[string]string
}

func newLayout(c *mipconvert.Cube, variable string) (*layout, error) {
	l := &layout{labelDims: make(map[string]string)}
	seen := map[string]bool{variable: true}
	needBounds := false
	for _, d := range c.Dims {
		id := d.ID()
		if id == "" || seen[id] {
			return nil, fmt.Errorf("dimension coordinate %q of %q is not uniquely named", id, variable)
		}
		seen[id] = true
		l.dims = append(l.dims, id)
		l.lengths = append(l.lengths, d.Len())
		needBounds = needBounds || d.HasBounds()
	}
	for _, a := range c.Aux {
		if seen[a.ID()] {
			return nil, fmt.Errorf("auxiliary coordinate %q of %q is not uniquely named", a.ID(), variable)
		}
		seen[a.ID()] = true
		needBounds = needBounds || a.HasBounds()
	}
	if needBounds {
		l.dims = append(l.dims, boundsDim)
		l.lengths = append(l.lengths, 2)
	}
	for _, d := range c.Dims {
		if d.Labels == nil {
			continue
		}
		n := 1
		for _, s := range d.Labels {
			if len(s) > n {
				n = len(s)
			}
		}
		name := d.ID() + "_strlen"
		l.labelDims[d.ID()] = name
		l.dims = append(l.dims, name)
		l.lengths = append(l.lengths, n)
	}
	return l, nil
}

func addStringAttributes(h *cdf.Header, v string, attrs map[string]string) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if attrs[k] != "" {
			h.AddAttribute(v, k, attrs[k])
		}
	}
}

func addCoord(h *cdf.Header, l *layout, c *mipconvert.Coord, dims []string) {
	id := c.ID()
	if dn, ok := l.labelDims[id]; ok {
		h.AddVariable(id, append(append([]string(nil), dims...), dn), "")
	} else {
		h.AddVariable(id, dims, []float64{0})
	}
	attrs := map[string]string{
		"standard_name": c.StandardName,
		"long_name":     c.LongName,
		"units":         c.Units,
		"axis":          c.Axis,
		"calendar":      c.Calendar,
	}
	for k, v := range c.Attributes {
		if _, ok := attrs[k]; !ok && !internalAttributes[k] {
			attrs[k] = v
		}
	}
	if c.HasBounds() {
		attrs["bounds"] = id + "_bnds"
	}
	addStringAttributes(h, id, attrs)
	if c.HasBounds() {
		h.AddVariable(id+"_bnds", append(append([]string(nil), dims...), boundsDim), []float64{0})
	}
}

// internalAttributes record how a field was read and fixed; they are not
// written to the output file.
var internalAttributes = map[string]bool{
	SourceFileAttribute: true,
	fix.HaloAttribute:   true,
}

func (w *Writer) header(c *mipconvert.Cube, variable, table, trackingID string) (*cdf.Header, error) {
	l, err := newLayout(c, variable)
	if err != nil {
		return nil, err
	}
	h := cdf.NewHeader(l.dims, l.lengths)

	dimNames := l.dims[:len(c.Dims)]
	for i, d := range c.Dims {
		addCoord(h, l, d, []string{dimNames[i]})
	}
	var auxNames []string
	for _, a := range c.Aux {
		dims := make([]string, len(a.Dims))
		for i, d := range a.Dims {
			dims[i] = dimNames[d]
		}
		addCoord(h, l, a.Coord, dims)
		auxNames = append(auxNames, a.ID())
	}

	h.AddVariable(variable, dimNames, []float32{0})
	attrs := map[string]string{
		"standard_name": c.StandardName,
		"long_name":     c.LongName,
		"units":         c.Units,
		"cell_methods":  c.CellMethods.String(),
		"positive":      c.Positive,
		"coordinates":   strings.Join(auxNames, " "),
		"history":       strings.Join(c.History, "\n"),
	}
	for k, v := range c.Attributes {
		if _, ok := attrs[k]; !ok {
			attrs[k] = v
		}
	}
	addStringAttributes(h, variable, attrs)
	h.AddAttribute(variable, "_FillValue", []float32{float32(c.FillValue)})
	h.AddAttribute(variable, "missing_value", []float32{float32(c.FillValue)})

	globals := map[string]string{
		"Conventions":   "CF-1.7",
		"tracking_id":   trackingID,
		"table_id":      table,
		"variable_id":   variable,
		"source_id":     w.Model.ID,
		"model_version": w.Model.Version,
		"creation_date": time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	for k, v := range w.Attributes {
		globals[k] = v
	}
	addStringAttributes(h, "", globals)
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return nil, errs[0]
	}
	return h, nil
}

func writeVar(f *cdf.File, name string, values interface{}) error {
	if _, err := f.Writer(name, nil, nil).Write(values); err != nil {
		return fmt.Errorf("variable %s: %v", name, err)
	}
	return nil
}

func writeCoord(f *cdf.File, c *mipconvert.Coord, width int) error {
	if c.Labels != nil && width > 0 {
		var b strings.Builder
		for _, s := range c.Labels {
			b.WriteString(s)
			b.WriteString(strings.Repeat("\x00", width-len(s)))
		}
		return writeVar(f, c.ID(), b.String())
	}
	if err := writeVar(f, c.ID(), append([]float64(nil), c.Points...)); err != nil {
		return err
	}
	if !c.HasBounds() {
		return nil
	}
	b := make([]float64, 0, 2*len(c.Bounds))
	for _, x := range c.Bounds {
		b = append(b, x[0], x[1])
	}
	return writeVar(f, c.ID()+"_bnds", b)
}

func writeFile(file *os.File, h *cdf.Header, c *mipconvert.Cube, variable string) error {
	f, err := cdf.Create(file, h)
	if err != nil {
		return err
	}
	for _, d := range c.Dims {
		width := 0
		if d.Labels != nil {
			width = h.Lengths(d.ID())[1]
		}
		if err := writeCoord(f, d, width); err != nil {
			return err
		}
	}
	for _, a := range c.Aux {
		if err := writeCoord(f, a.Coord, 0); err != nil {
			return err
		}
	}
	data := make([]float32, c.Len())
	for i, v := range c.Data.Elements {
		if c.Missing(i) {
			data[i] = float32(c.FillValue)
		} else {
			data[i] = float32(v)
		}
	}
	if len(data) > 0 {
		if err := writeVar(f, variable, data); err != nil {
			return err
		}
	}
	return cdf.UpdateNumRecs(file)
}
