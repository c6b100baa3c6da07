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
	"fmt"
	"math"
)

// EarthRadius is the radius of the Earth used by the Unified Model, in m.
const EarthRadius = 6371229.0

// HorizontalDims returns the latitude and longitude dimensions of c.
func (c *Cube) HorizontalDims() (lat, lon int, err error) {
	lat, err = c.AxisDim(AxisY)
	if err != nil {
		return -1, -1, err
	}
	lon, err = c.AxisDim(AxisX)
	if err != nil {
		return -1, -1, err
	}
	return lat, lon, nil
}

// CellAreas returns the area in m2 of every horizontal cell of c, computed
// from the bounds of its latitude and longitude coordinates and repeated
// over the other dimensions so that there is one area per cell of c.
func (c *Cube) CellAreas() ([]float64, error) {
	lat, lon, err := c.HorizontalDims()
	if err != nil {
		return nil, err
	}
	latc, lonc := c.Dims[lat], c.Dims[lon]
	if !latc.HasBounds() || !lonc.HasBounds() {
		return nil, fmt.Errorf("latitude and longitude must have bounds to compute cell areas")
	}
	areas := make([][]float64, latc.Len())
	for i, lb := range latc.Bounds {
		areas[i] = make([]float64, lonc.Len())
		s := math.Abs(math.Sin(rad(lb[1])) - math.Sin(rad(lb[0])))
		for j, xb := range lonc.Bounds {
			areas[i][j] = EarthRadius * EarthRadius * math.Abs(rad(xb[1])-rad(xb[0])) * s
		}
	}
	out := make([]float64, c.Len())
	idx := make([]int, c.Rank())
	for k := range out {
		out[k] = areas[idx[lat]][idx[lon]]
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < c.Data.Shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// NormalizeLongitude wraps lon into [min, min+360).
func NormalizeLongitude(lon, min float64) float64 {
	v := math.Mod(lon-min, 360)
	if v < 0 {
		v += 360
	}
	return v + min
}
