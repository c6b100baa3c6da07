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

package process

import (
	"regexp"
	"sort"
	"strings"

	"github.com/spatialmodel/mipconvert"
)

// tileIDs maps land surface tile types to their pseudo-level ids.
var tileIDs = map[string][]int{
	"broadLeafTree":                   {1},
	"broadLeafTreeDeciduous":          {101},
	"broadLeafTreeEvergreenTropical":  {102},
	"broadLeafTreeEvergreenTemperate": {103},
	"needleLeafTree":                  {2},
	"needleLeafTreeDeciduous":         {201},
	"needleLeafTreeEvergreen":         {202},
	"c3Grass":                         {3},
	"c3Crop":                          {301},
	"c3Pasture":                       {302},
	"c4Grass":                         {4},
	"c4Crop":                          {401},
	"c4Pasture":                       {402},
	"shrub":                           {5},
	"shrubDeciduous":                  {501},
	"shrubEvergreen":                  {502},
	"urban":                           {6},
	"water":                           {7},
	"bareSoil":                        {8},
	"ice":                             {9},
	"iceElev":                         seqInts(901, 925),
}

// multiTiles maps land classes made of several tile types to the
// space-separated patterns that select those tile types.
var multiTiles = map[string]string{
	"natural":                 `Tree Grass shrub`,
	"crop":                    `Crop`,
	"pasture":                 `Pasture`,
	"c3":                      `Tree c3 shrub`,
	"c4":                      `c4`,
	"grass":                   `Grass`,
	"tree":                    `Tree`,
	"shrub":                   `shrub`,
	"broadLeafTree":           `broadLeafTree`,
	"needleLeafTree":          `needleLeafTree`,
	"broadLeafTreeDeciduous":  `broadLeafTree\b broadLeafTreeDeciduous`,
	"broadLeafTreeEvergreen":  `broadLeafTreeEvergreen`,
	"needleLeafTreeEvergreen": `needleLeafTree\b needleLeafTreeEvergreen`,
	"residual":                `urban water ice`,
	"all":                     `.+`,
	"veg":                     `Tree Grass shrub Crop Pasture`,
}

// Land use types, in output order.
var landUseNames = []string{"primary_and_secondary_land", "crops", "pastures", "urban"}

// landUseOf maps tile ids to land use types; other tiles have none.
var landUseOf = map[int]int{
	1: 0, 101: 0, 102: 0, 103: 0, 2: 0, 201: 0, 202: 0, 3: 0, 4: 0, 5: 0, 501: 0, 502: 0,
	301: 1, 401: 1,
	302: 2, 402: 2,
	6: 3,
}

func seqInts(lo, hi int) []int {
	var o []int
	for i := lo; i <= hi; i++ {
		o = append(o, i)
	}
	return o
}

// LandClasses returns the names of the land classes accepted by the
// land class processors.
func LandClasses() []string {
	seen := make(map[string]bool)
	var o []string
	for k := range tileIDs {
		seen[k] = true
		o = append(o, k)
	}
	for k := range multiTiles {
		if !seen[k] {
			o = append(o, k)
		}
	}
	sort.Strings(o)
	return o
}

// TileIDs returns the sorted pseudo-level ids of the tiles in a land
// class.
func TileIDs(class string) ([]int, bool) {
	pat, ok := multiTiles[class]
	if !ok {
		ids, ok := tileIDs[class]
		return append([]int(nil), ids...), ok
	}
	set := make(map[int]bool)
	for _, p := range strings.Fields(pat) {
		re := regexp.MustCompile(p)
		for name, ids := range tileIDs {
			if re.MatchString(name) {
				for _, id := range ids {
					set[id] = true
				}
			}
		}
	}
	o := make([]int, 0, len(set))
	for id := range set {
		o = append(o, id)
	}
	sort.Ints(o)
	return o, true
}

var landClassParam = mipconvert.ParamSpec{Name: "land_class", Kind: mipconvert.String, Required: true,
	Choices: LandClasses(), Usage: "land class whose tiles are used"}

var landProcessors = []*Processor{
	{
		Name: "land-class-mean", Family: Reduction, MinInputs: 2, MaxInputs: 2,
		Doc:    "mean over the tiles of a land class weighted by tile fraction",
		Params: []mipconvert.ParamSpec{landClassParam, toleranceParam},
		Fn: func(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
			return landClassReduce("land-class-mean", mipconvert.Mean, in, p, env)
		},
	},
	{
		Name: "land-class-sum", Family: Reduction, MinInputs: 2, MaxInputs: 2,
		Doc:    "sum over the tiles of a land class weighted by tile fraction",
		Params: []mipconvert.ParamSpec{landClassParam, toleranceParam},
		Fn: func(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
			return landClassReduce("land-class-sum", mipconvert.Sum, in, p, env)
		},
	},
	{
		Name: "land-class-area", Family: Reduction, MinInputs: 2, MaxInputs: 2,
		Doc:    "percentage of the grid cell covered by a land class",
		Params: []mipconvert.ParamSpec{landClassParam, toleranceParam},
		Fn:     landClassArea,
	},
	{
		Name: "land-use-tile-mean", Family: Reduction, MinInputs: 2, MaxInputs: 2,
		Doc:    "mean over the tiles of each land use type weighted by tile fraction",
		Params: []mipconvert.ParamSpec{toleranceParam},
		Fn: func(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
			tol, err := tolerance(p, env)
			if err != nil {
				return nil, err
			}
			return landUseTileMean("land-use-tile-mean", in[0], in[1], tol)
		},
	},
	{
		Name: "land-use-tile-area", Family: Reduction, MinInputs: 2, MaxInputs: 2,
		Doc:    "percentage of the grid cell covered by each land use type",
		Params: []mipconvert.ParamSpec{toleranceParam},
		Fn:     landUseTileArea,
	},
	{
		Name: "land-use-tile-mean-difference", Family: Reduction, MinInputs: 3, MaxInputs: 3,
		Doc:    "land use type mean of the difference of two tile fractions",
		Params: []mipconvert.ParamSpec{toleranceParam},
		Fn:     landUseTileMeanDifference,
	},
	{
		Name: "snow-cover-fraction", Family: Reduction, MinInputs: 3, MaxInputs: 3,
		Doc:    "percentage of the grid cell covered by snow",
		Params: []mipconvert.ParamSpec{toleranceParam},
		Fn:     snowCoverFraction,
	},
}

func pseudoDim(proc string, c *mipconvert.Cube) (int, error) {
	d, ok := c.DimIndex("pseudo_level")
	if !ok {
		return -1, incompatible(proc, "%q has no pseudo_level axis", c.Name)
	}
	return d, nil
}

// selectTiles restricts the pseudo_level axis of c to the given tile ids.
func selectTiles(proc string, c *mipconvert.Cube, ids []int) (*mipconvert.Cube, error) {
	d, err := pseudoDim(proc, c)
	if err != nil {
		return nil, err
	}
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var idx []int
	for i, v := range c.Dims[d].Points {
		if want[int(v)] {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, incompatible(proc, "%q has none of the tiles %v", c.Name, ids)
	}
	return c.Extract(d, idx)
}

func classTiles(p mipconvert.Params) []int {
	ids, _ := TileIDs(p.String("land_class", ""))
	return ids
}

func landClassReduce(proc string, agg mipconvert.Aggregator, in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	ids := classTiles(p)
	field, err := selectTiles(proc, in[0], ids)
	if err != nil {
		return nil, err
	}
	frac, err := selectTiles(proc, in[1], ids)
	if err != nil {
		return nil, err
	}
	d, _ := pseudoDim(proc, field)
	if field.Shape()[d] == 1 {
		return field.Collapse(d, agg, nil)
	}
	w, err := weightsOn(proc, frac, field, tol)
	if err != nil {
		return nil, err
	}
	return field.Collapse(d, agg, w)
}

func landClassArea(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "land-class-area"
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	frac, err := selectTiles(name, in[0], classTiles(p))
	if err != nil {
		return nil, err
	}
	d, _ := pseudoDim(name, frac)
	sum, err := frac.Collapse(d, mipconvert.Sum, nil)
	if err != nil {
		return nil, err
	}
	o, err := combine(name, []*mipconvert.Cube{sum, in[1]}, tol, func(v []float64) (float64, error) {
		return v[0] * v[1] * 100, nil
	})
	if err != nil {
		return nil, err
	}
	o.Units = "%"
	return o, nil
}

// landUseGroups groups the indices of the pseudo_level coordinate by land
// use type.
func landUseGroups(pseudo *mipconvert.Coord) [][]int {
	groups := make([][]int, len(landUseNames))
	for i, v := range pseudo.Points {
		if lu, ok := landUseOf[int(v)]; ok {
			groups[lu] = append(groups[lu], i)
		}
	}
	return groups
}

// asLandUse replaces dimension d of c, which has one cell per land use
// type, with a landUse coordinate.
func asLandUse(c *mipconvert.Cube, d int) {
	lu := &mipconvert.Coord{Name: "landUse", StandardName: "area_type", LongName: "land use type",
		Points: make([]float64, len(landUseNames)), Labels: append([]string(nil), landUseNames...)}
	for i := range lu.Points {
		lu.Points[i] = float64(i)
	}
	c.Dims[d] = lu
}

func landUseTileMean(proc string, field, frac *mipconvert.Cube, tol float64) (*mipconvert.Cube, error) {
	d, err := pseudoDim(proc, field)
	if err != nil {
		return nil, err
	}
	// Fields such as leaf area index exist only on some tiles.
	if _, ok := frac.DimIndex("pseudo_level"); ok {
		ids := make([]int, field.Shape()[d])
		for i, v := range field.Dims[d].Points {
			ids[i] = int(v)
		}
		if frac, err = selectTiles(proc, frac, ids); err != nil {
			return nil, err
		}
	}
	w, err := weightsOn(proc, frac, field, tol)
	if err != nil {
		return nil, err
	}
	groups := landUseGroups(field.Dims[d])
	num, err := field.AggregateBy(d, groups, mipconvert.Sum, w)
	if err != nil {
		return nil, err
	}
	wc := field.NewLike(blank(field).Data, field.Mask)
	copy(wc.Data.Elements, w)
	den, err := wc.AggregateBy(d, groups, mipconvert.Sum, nil)
	if err != nil {
		return nil, err
	}
	o := num.Copy()
	for i, v := range den.Data.Elements {
		if o.Missing(i) {
			continue
		}
		if den.Missing(i) || v == 0 {
			o.SetMissing(i)
			continue
		}
		o.Data.Elements[i] /= v
	}
	asLandUse(o, d)
	o.CellMethods = field.CellMethods.Add("mean", "area")
	o.CellMethods[len(o.CellMethods)-1].Where = "landUse"
	return o, nil
}

func landUseTileArea(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "land-use-tile-area"
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	frac := in[0]
	d, err := pseudoDim(name, frac)
	if err != nil {
		return nil, err
	}
	pct, err := combine(name, []*mipconvert.Cube{frac, in[1]}, tol, func(v []float64) (float64, error) {
		return v[0] * v[1] * 100, nil
	})
	if err != nil {
		return nil, err
	}
	o, err := pct.AggregateBy(d, landUseGroups(frac.Dims[d]), mipconvert.Sum, nil)
	if err != nil {
		return nil, err
	}
	asLandUse(o, d)
	o.CellMethods = frac.CellMethods
	o.Units = "%"
	return o, nil
}

func landUseTileMeanDifference(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "land-use-tile-mean-difference"
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	diff, err := combine(name, in[:2], tol, func(v []float64) (float64, error) { return v[0] - v[1], nil })
	if err != nil {
		return nil, err
	}
	return landUseTileMean(name, diff, in[2], tol)
}

// snowThreshold is the snow amount in kg m-2 below which a tile counts
// as snow free.
const snowThreshold = 0.1

func snowCoverFraction(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "snow-cover-fraction"
	tol, err := tolerance(p, env)
	if err != nil {
		return nil, err
	}
	snow := in[0]
	d, err := pseudoDim(name, snow)
	if err != nil {
		return nil, err
	}
	covered, err := combine(name, []*mipconvert.Cube{snow, in[1]}, tol, func(v []float64) (float64, error) {
		if v[0] <= snowThreshold {
			return 0, nil
		}
		return v[1], nil
	})
	if err != nil {
		return nil, err
	}
	sum, err := covered.Collapse(d, mipconvert.Sum, nil)
	if err != nil {
		return nil, err
	}
	o, err := combine(name, []*mipconvert.Cube{sum, in[2]}, tol, func(v []float64) (float64, error) {
		return v[0] * v[1] * 100, nil
	})
	if err != nil {
		return nil, err
	}
	o.Units = "%"
	return o, nil
}
