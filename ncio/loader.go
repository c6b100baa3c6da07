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
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/mapping"
	"github.com/spatialmodel/mipconvert/pipeline"
)

// Wildcards replaced in Loader file templates.
const (
	SourceWildcard = "[SOURCE]"
	StreamWildcard = "[STREAM]"
	ModelWildcard  = "[MODEL]"
)

// SourceFileAttribute holds the path a loaded field was read from.
const SourceFileAttribute = "source_file"

// Loader reads source fields from NetCDF files. It implements
// pipeline.Loader.
type Loader struct {
	// Template is the path of the file holding a source, in which the
	// [SOURCE], [STREAM] and [MODEL] wildcards are replaced by the source
	// name, the output stream and the model identifier.
	Template string

	// MaskMDI marks cells equal to the Unified Model missing data
	// indicator as missing, in addition to those equal to _FillValue or
	// missing_value.
	MaskMDI bool

	Log logrus.FieldLogger
}

func (l *Loader) log() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

// Path returns the file that holds source in stream.
func (l *Loader) Path(stream, source string, model mapping.ModelConfig) string {
	p := strings.Replace(l.Template, SourceWildcard, source, -1)
	p = strings.Replace(p, StreamWildcard, stream, -1)
	return strings.Replace(p, ModelWildcard, model.ID, -1)
}

// Load reads the source field identified by id, which is a source name
// optionally prefixed by an output stream as returned by
// pipeline.SourceID, keeping only the times within r. The variable read is
// the one named after the source or, if there is none, the only data
// variable in the file.
func (l *Loader) Load(ctx context.Context, id string, r pipeline.TimeRange, model mapping.ModelConfig) (*mipconvert.Cube, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, source := pipeline.SplitSourceID(id)
	path := l.Path(stream, source, model)
	ds, err := open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &mipconvert.MissingInputError{Source: id, Err: err}
		}
		return nil, err
	}
	defer ds.Close()

	name, err := dataVariable(ds, source)
	if err != nil {
		return nil, &mipconvert.MissingInputError{Source: id, Err: fmt.Errorf("%s: %v", path, err)}
	}
	c, err := l.cube(ds, name)
	if err != nil {
		return nil, fmt.Errorf("mipconvert: loading %s from %s: %w", id, path, err)
	}
	if c, err = selectTimes(c, r); err != nil {
		return nil, &mipconvert.MissingInputError{Source: id, Err: err}
	}
	c.SetAttribute(SourceFileAttribute, path)
	l.log().WithFields(logrus.Fields{"source": id, "path": path, "field": c.String()}).Debug("loaded source")
	return c, nil
}

// dataVariable returns the name of the variable holding source.
func dataVariable(ds dataset, source string) (string, error) {
	if _, ok := ds.dims(source); ok {
		return source, nil
	}
	var candidates []string
	for _, v := range ds.variables() {
		if !isCoordinateVariable(ds, v) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return "", fmt.Errorf("no variable %q", source)
}

// isCoordinateVariable reports whether name is a coordinate, bounds or
// auxiliary coordinate variable.
func isCoordinateVariable(ds dataset, name string) bool {
	if d, ok := ds.dims(name); ok && len(d) == 1 && d[0] == name {
		return true
	}
	for _, v := range ds.variables() {
		if v == name {
			continue
		}
		attrs := ds.attrs(v)
		if attrString(attrs, "bounds") == name {
			return true
		}
		for _, c := range strings.Fields(attrString(attrs, "coordinates")) {
			if c == name {
				return true
			}
		}
	}
	return strings.HasSuffix(name, "_bnds") || strings.HasSuffix(name, "_bounds")
}

func (l *Loader) cube(ds dataset, name string) (*mipconvert.Cube, error) {
	v, err := ds.read(name)
	if err != nil {
		return nil, err
	}
	if v.values == nil && v.labels != nil {
		return nil, fmt.Errorf("variable %q holds text", name)
	}
	dims := make([]*mipconvert.Coord, len(v.dims))
	for i, d := range v.dims {
		if dims[i], err = dimCoord(ds, d, v.shape[i]); err != nil {
			return nil, err
		}
	}
	data := sparse.ZerosDense(v.shape...)
	copy(data.Elements, v.values)

	md, err := metadata(v)
	if err != nil {
		return nil, err
	}
	c := &mipconvert.Cube{Metadata: md, Data: data, Dims: dims}

	missing := []float64{}
	if f, ok := v.attrFloat("_FillValue"); ok {
		missing = append(missing, f)
	}
	if f, ok := v.attrFloat("missing_value"); ok {
		missing = append(missing, f)
	}
	if l.MaskMDI {
		missing = append(missing, mipconvert.UMMissingDataIndicator)
	}
	for i, x := range data.Elements {
		if math.IsNaN(x) {
			c.SetMissing(i)
			continue
		}
		for _, m := range missing {
			if x == m {
				c.SetMissing(i)
				break
			}
		}
	}

	for _, a := range strings.Fields(v.attrString("coordinates")) {
		if err := addAux(ds, c, v, a); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var knownAttributes = map[string]bool{
	"standard_name": true, "long_name": true, "units": true, "cell_methods": true,
	"positive": true, "_FillValue": true, "missing_value": true, "history": true,
	"coordinates": true,
}

func metadata(v *variable) (mipconvert.Metadata, error) {
	md := mipconvert.Metadata{
		Name:         v.name,
		StandardName: v.attrString("standard_name"),
		LongName:     v.attrString("long_name"),
		Units:        v.attrString("units"),
		Positive:     v.attrString("positive"),
		FillValue:    mipconvert.DefaultFillValue,
	}
	if md.Units == "" {
		md.Units = mipconvert.UnknownUnits
	}
	if f, ok := v.attrFloat("_FillValue"); ok {
		md.FillValue = f
	}
	var err error
	if md.CellMethods, err = mipconvert.ParseCellMethods(v.attrString("cell_methods")); err != nil {
		return md, err
	}
	if h := v.attrString("history"); h != "" {
		md.History = strings.Split(h, "\n")
	}
	for k := range v.attrs {
		if knownAttributes[k] {
			continue
		}
		if s := v.attrString(k); s != "" {
			if md.Attributes == nil {
				md.Attributes = make(map[string]string)
			}
			md.Attributes[k] = s
		}
	}
	return md, nil
}

// coord builds a coordinate from a variable and its bounds.
func coord(ds dataset, v *variable) (*mipconvert.Coord, error) {
	c := &mipconvert.Coord{
		Name:         v.name,
		StandardName: v.attrString("standard_name"),
		LongName:     v.attrString("long_name"),
		Units:        v.attrString("units"),
		Axis:         v.attrString("axis"),
		Points:       v.values,
	}
	if v.labels != nil {
		c.Labels = v.labels
		c.Points = make([]float64, len(v.labels))
		for i := range c.Points {
			c.Points[i] = float64(i)
		}
	}
	if cal := v.attrString("calendar"); cal != "" {
		var err error
		if c.Calendar, err = mipconvert.CanonicalCalendar(cal); err != nil {
			return nil, err
		}
	}
	if c.Axis == "" {
		c.Axis = guessAxis(v)
	}
	if c.Axis == mipconvert.AxisT && c.Calendar == "" {
		c.Calendar = mipconvert.Gregorian
	}
	if p := v.attrString("positive"); p != "" {
		c.Attributes = map[string]string{"positive": p}
	}
	if b := v.attrString("bounds"); b != "" {
		bv, err := ds.read(b)
		if err != nil {
			return nil, err
		}
		if len(bv.values) != 2*c.Len() {
			return nil, fmt.Errorf("bounds %q of %q have %d values for %d points", b, v.name, len(bv.values), c.Len())
		}
		c.Bounds = make([][2]float64, c.Len())
		for i := range c.Bounds {
			c.Bounds[i] = [2]float64{bv.values[2*i], bv.values[2*i+1]}
		}
	}
	return c, nil
}

func guessAxis(v *variable) string {
	units := v.attrString("units")
	switch {
	case v.attrString("standard_name") == "latitude" || units == "degrees_north" || units == "degree_north":
		return mipconvert.AxisY
	case v.attrString("standard_name") == "longitude" || units == "degrees_east" || units == "degree_east":
		return mipconvert.AxisX
	case mipconvert.IsTimeUnits(units):
		return mipconvert.AxisT
	case v.attrString("positive") != "":
		return mipconvert.AxisZ
	}
	return ""
}

// dimCoord returns the coordinate variable of a dimension, or an index
// coordinate if the file has none.
func dimCoord(ds dataset, dim string, n int) (*mipconvert.Coord, error) {
	if d, ok := ds.dims(dim); ok && (len(d) == 1 && d[0] == dim || len(d) == 2 && d[0] == dim) {
		v, err := ds.read(dim)
		if err != nil {
			return nil, err
		}
		c, err := coord(ds, v)
		if err != nil {
			return nil, err
		}
		if c.Len() == n {
			return c, nil
		}
	}
	c := &mipconvert.Coord{Name: dim, Points: make([]float64, n)}
	for i := range c.Points {
		c.Points[i] = float64(i)
	}
	return c, nil
}

// addAux adds the auxiliary coordinate name of data variable v to c.
func addAux(ds dataset, c *mipconvert.Cube, v *variable, name string) error {
	if _, ok := ds.dims(name); !ok {
		return fmt.Errorf("coordinate %q of %q is not in the file", name, v.name)
	}
	av, err := ds.read(name)
	if err != nil {
		return err
	}
	ac, err := coord(ds, av)
	if err != nil {
		return err
	}
	var dims []int
	for _, dn := range av.dims {
		found := false
		for i, vd := range v.dims {
			if vd == dn {
				dims = append(dims, i)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("coordinate %q of %q spans dimension %q", name, v.name, dn)
		}
	}
	return c.AddAux(ac, dims...)
}

// selectTimes keeps the times of c within r.
func selectTimes(c *mipconvert.Cube, r pipeline.TimeRange) (*mipconvert.Cube, error) {
	if r.Start.IsZero() && r.End.IsZero() {
		return c, nil
	}
	dims := c.AxisDims(mipconvert.AxisT)
	if len(dims) == 0 {
		return c, nil
	}
	dates, err := c.Dims[dims[0]].Dates()
	if err != nil {
		return nil, err
	}
	var idx []int
	for i, d := range dates {
		if r.Contains(d) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("no times in %v", r)
	}
	if len(idx) == len(dates) {
		return c, nil
	}
	return c.Extract(dims[0], idx)
}
