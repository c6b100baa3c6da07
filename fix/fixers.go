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

package fix

import (
	"errors"
	"math"
	"sort"

	"github.com/spatialmodel/mipconvert"
	"github.com/spatialmodel/mipconvert/process"
)

// HaloAttribute marks a field whose halo cells have been removed.
const HaloAttribute = "haloes_removed"

var builtin = []*Fixer{
	{
		Name: "correct-multilevel-metadata",
		Doc:  "put the lowest flux level at the surface and remove vertical bounds",
		Fn:   correctMultilevel,
	},
	{
		Name: "parasol-sza-axis",
		Doc:  "relabel the height axis of PARASOL reflectances as solar zenith angle",
		Fn:   parasolSZA,
	},
	{
		Name: "guess-bounds",
		Doc:  "add contiguous bounds to coordinates that lack them",
		Params: []mipconvert.ParamSpec{
			{Name: "coords", Kind: mipconvert.Strings, Usage: "coordinates to bound (default latitude and longitude)"},
		},
		Fn: guessBounds,
	},
	{
		Name: "relabel-levels",
		Doc:  "rename or re-point the vertical axis",
		Params: []mipconvert.ParamSpec{
			{Name: "name", Kind: mipconvert.String, Usage: "new coordinate name"},
			{Name: "standard_name", Kind: mipconvert.String, Usage: "new standard name"},
			{Name: "units", Kind: mipconvert.String, Usage: "new units"},
			{Name: "points", Kind: mipconvert.Floats, Usage: "new points, or the name of a pressure level set"},
		},
		Fn: relabelLevels,
	},
	{
		Name: "remove-coords",
		Doc:  "remove auxiliary coordinates",
		Params: []mipconvert.ParamSpec{
			{Name: "coords", Kind: mipconvert.Strings, Usage: "coordinates to remove (default altitude and surface_altitude)"},
		},
		Fn: removeCoords,
	},
	{
		Name: "longitude-range",
		Doc:  "wrap longitudes into [min, min+360) and keep them ascending",
		Params: []mipconvert.ParamSpec{
			{Name: "min", Kind: mipconvert.Float, Usage: "lowest longitude (default 0)"},
		},
		Fn: longitudeRange,
	},
	{
		Name: "validate-latitudes",
		Doc:  "clamp latitude points and bounds to [-90, 90]",
		Fn:   validateLatitudes,
	},
	{
		Name: "remove-halo",
		Doc:  "drop halo rows and columns at the edges of the grid",
		Params: []mipconvert.ParamSpec{
			{Name: "rows", Kind: mipconvert.Int, Usage: "latitude cells to drop at each end"},
			{Name: "columns", Kind: mipconvert.Int, Usage: "longitude cells to drop at each end"},
		},
		Fn: removeHalo,
	},
	{
		Name: "reconstruct-hybrid-height",
		Doc:  "add the altitude of hybrid height levels above a constant orography",
		Params: []mipconvert.ParamSpec{
			{Name: "orography", Kind: mipconvert.Float, Usage: "surface altitude in m (default 0)"},
			{Name: "a", Kind: mipconvert.Floats, Usage: "level heights in m, instead of the level_height coordinate"},
			{Name: "b", Kind: mipconvert.Floats, Usage: "sigma values, instead of the sigma coordinate"},
			{Name: "tolerance", Kind: mipconvert.Float, Usage: "relative tolerance for coordinate comparison"},
		},
		Fn: reconstructHybridHeight,
	},
	{
		Name: "set-fill-value",
		Doc:  "set the fill value and mask cells holding a missing data indicator",
		Params: []mipconvert.ParamSpec{
			{Name: "fill_value", Kind: mipconvert.Float, Usage: "fill value written for missing cells (default 1e20)"},
			{Name: "mdi", Kind: mipconvert.Float, Usage: "value marking missing cells in the data"},
		},
		Fn: setFillValue,
	},
}

func correctMultilevel(c *mipconvert.Cube, _ mipconvert.Params, _ *mipconvert.Constants) (*mipconvert.Cube, error) {
	const name = "correct-multilevel-metadata"
	lh, _, ok := c.Coord("level_height")
	if !ok || lh.Len() == 0 {
		return nil, precondition(name, "%q has no level_height coordinate", c.Name)
	}
	// The lowest level is labelled as the lowest rho level when it is
	// really the surface.
	if lh.Points[0] > 1 && lh.Points[0] < 100 {
		lh.Points[0] = 0
		if sigma, _, ok := c.Coord("sigma"); ok && sigma.Len() > 0 {
			sigma.Points[0] = 1
		}
		c.RemoveAux("altitude")
	}
	lh.Bounds = nil
	if sigma, _, ok := c.Coord("sigma"); ok {
		sigma.Bounds = nil
	}
	if z, err := c.AxisDim(mipconvert.AxisZ); err == nil {
		c.Dims[z].Bounds = nil
	}
	return c, nil
}

func parasolSZA(c *mipconvert.Cube, _ mipconvert.Params, _ *mipconvert.Constants) (*mipconvert.Cube, error) {
	const name = "parasol-sza-axis"
	d, ok := c.DimIndex("height")
	if !ok {
		if _, ok := c.DimIndex("solar_zenith_angle"); ok {
			return c, nil
		}
		return nil, precondition(name, "%q has no height axis", c.Name)
	}
	sza := c.Dims[d]
	sza.Name, sza.StandardName, sza.LongName = "solar_zenith_angle", "solar_zenith_angle", ""
	sza.Units = "degree"
	sza.Axis = ""
	sza.Bounds = nil
	sza.Attributes = nil
	for i, v := range sza.Points {
		sza.Points[i] = math.RoundToEven(v)
	}
	return c, nil
}

var defaultBoundsCoords = []string{"latitude", "longitude"}

func guessBounds(c *mipconvert.Cube, p mipconvert.Params, _ *mipconvert.Constants) (*mipconvert.Cube, error) {
	const name = "guess-bounds"
	for _, id := range p.Strings("coords", defaultBoundsCoords) {
		coord, _, ok := c.Coord(id)
		if !ok {
			return nil, precondition(name, "%q has no %s coordinate", c.Name, id)
		}
		if coord.HasBounds() {
			continue
		}
		if coord.Len() < 2 {
			return nil, precondition(name, "cannot guess the bounds of %s from one point", id)
		}
		coord.GuessBounds()
		if coord.Is("latitude") {
			for i := range coord.Bounds {
				coord.Bounds[i][0] = clampLatitude(coord.Bounds[i][0])
				coord.Bounds[i][1] = clampLatitude(coord.Bounds[i][1])
			}
		}
	}
	return c, nil
}

func relabelLevels(c *mipconvert.Cube, p mipconvert.Params, consts *mipconvert.Constants) (*mipconvert.Cube, error) {
	const name = "relabel-levels"
	z, err := c.AxisDim(mipconvert.AxisZ)
	if err != nil {
		return nil, precondition(name, "%q: %v", c.Name, err)
	}
	coord := c.Dims[z]
	points, err := p.Floats("points", nil, consts)
	if err != nil {
		return nil, err
	}
	if points != nil {
		if len(points) != coord.Len() {
			return nil, precondition(name, "%d points for %d levels", len(points), coord.Len())
		}
		coord.Points = points
		coord.Bounds = nil
	}
	if v := p.String("name", ""); v != "" {
		coord.Name = v
		coord.StandardName = p.String("standard_name", "")
	} else if p.Has("standard_name") {
		coord.StandardName = p.String("standard_name", "")
	}
	if v := p.String("units", ""); v != "" {
		coord.Units = v
	}
	return c, nil
}

var defaultRemovedCoords = []string{"altitude", "surface_altitude"}

func removeCoords(c *mipconvert.Cube, p mipconvert.Params, _ *mipconvert.Constants) (*mipconvert.Cube, error) {
	for _, id := range p.Strings("coords", defaultRemovedCoords) {
		c.RemoveAux(id)
	}
	return c, nil
}

func longitudeRange(c *mipconvert.Cube, p mipconvert.Params, consts *mipconvert.Constants) (*mipconvert.Cube, error) {
	const name = "longitude-range"
	lo, err := p.Float("min", 0, consts)
	if err != nil {
		return nil, err
	}
	lon, dim, ok := c.Coord("longitude")
	if !ok {
		return nil, precondition(name, "%q has no longitude coordinate", c.Name)
	}
	for i, v := range lon.Points {
		if v >= lo && v < lo+360 {
			continue
		}
		off := mipconvert.NormalizeLongitude(v, lo) - v
		lon.Points[i] += off
		if lon.HasBounds() {
			lon.Bounds[i][0] += off
			lon.Bounds[i][1] += off
		}
	}
	if dim < 0 || sort.Float64sAreSorted(lon.Points) {
		return c, nil
	}
	order := make([]int, lon.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return lon.Points[order[i]] < lon.Points[order[j]] })
	return c.Extract(dim, order)
}

func clampLatitude(v float64) float64 {
	return math.Max(-90, math.Min(90, v))
}

func validateLatitudes(c *mipconvert.Cube, _ mipconvert.Params, _ *mipconvert.Constants) (*mipconvert.Cube, error) {
	lat, _, ok := c.Coord("latitude")
	if !ok {
		return nil, precondition("validate-latitudes", "%q has no latitude coordinate", c.Name)
	}
	for i, v := range lat.Points {
		lat.Points[i] = clampLatitude(v)
	}
	for i, b := range lat.Bounds {
		lat.Bounds[i] = [2]float64{clampLatitude(b[0]), clampLatitude(b[1])}
	}
	return c, nil
}

func removeHalo(c *mipconvert.Cube, p mipconvert.Params, _ *mipconvert.Constants) (*mipconvert.Cube, error) {
	const name = "remove-halo"
	if _, ok := c.Attributes[HaloAttribute]; ok {
		return c, nil
	}
	trim := func(c *mipconvert.Cube, id string, n int) (*mipconvert.Cube, error) {
		if n <= 0 {
			return c, nil
		}
		d, ok := c.DimIndex(id)
		if !ok {
			return nil, precondition(name, "%q has no %s axis", c.Name, id)
		}
		size := c.Shape()[d]
		if id == "longitude" && size == 1 {
			return c, nil
		}
		if size <= 2*n {
			return nil, precondition(name, "cannot drop %d cells from each end of %d %s cells", n, size, id)
		}
		idx := make([]int, size-2*n)
		for i := range idx {
			idx[i] = i + n
		}
		return c.Extract(d, idx)
	}
	o, err := trim(c, "latitude", p.Int("rows", 0))
	if err != nil {
		return nil, err
	}
	if o, err = trim(o, "longitude", p.Int("columns", 0)); err != nil {
		return nil, err
	}
	o.SetAttribute(HaloAttribute, "true")
	return o, nil
}

func reconstructHybridHeight(c *mipconvert.Cube, p mipconvert.Params, consts *mipconvert.Constants) (*mipconvert.Cube, error) {
	const name = "reconstruct-hybrid-height"
	h := new(process.HybridHeight)
	var err error
	if h.SurfaceAltitude, err = p.Float("orography", 0, consts); err != nil {
		return nil, err
	}
	if h.LevelHeight, err = p.Floats("a", nil, consts); err != nil {
		return nil, err
	}
	if h.Sigma, err = p.Floats("b", nil, consts); err != nil {
		return nil, err
	}
	if h.Tolerance, err = p.Float("tolerance", process.DefaultTolerance, consts); err != nil {
		return nil, err
	}
	o, err := h.Apply(c)
	var ig *mipconvert.IncompatibleGridError
	if errors.As(err, &ig) {
		return nil, precondition(name, "%s", ig.Reason)
	}
	return o, err
}

func setFillValue(c *mipconvert.Cube, p mipconvert.Params, consts *mipconvert.Constants) (*mipconvert.Cube, error) {
	fv, err := p.Float("fill_value", mipconvert.DefaultFillValue, consts)
	if err != nil {
		return nil, err
	}
	c.FillValue = fv
	if !p.Has("mdi") {
		return c, nil
	}
	mdi, err := p.Float("mdi", 0, consts)
	if err != nil {
		return nil, err
	}
	for i, v := range c.Data.Elements {
		if v == mdi {
			c.SetMissing(i)
		}
	}
	return c, nil
}
