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
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/mipconvert"
)

// Partial period policies.
const (
	DropPartial = "drop"
	FlagPartial = "flag"
)

// PartialAttribute is the attribute listing the partial periods kept
// under the flag policy.
const PartialAttribute = "partial_periods"

var partialParam = mipconvert.ParamSpec{
	Name: "partial", Kind: mipconvert.String, Choices: []string{DropPartial, FlagPartial},
	Usage: "what to do with periods missing samples: drop them (default) or keep and flag them",
}

var periodParam = mipconvert.ParamSpec{Name: "period", Kind: mipconvert.Int, Usage: "period in hours (default 3)"}

var temporalProcessors = []*Processor{
	{
		Name: "day-max", Family: Temporal, MinInputs: 1, MaxInputs: 1,
		Doc: "daily maximum of sub-daily data", Params: []mipconvert.ParamSpec{partialParam},
		Fn: func(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
			return aggregateTime("day-max", in[0], p, env, mipconvert.Max, dayKey, perDay)
		},
	},
	{
		Name: "day-mean", Family: Temporal, MinInputs: 1, MaxInputs: 1,
		Doc: "daily mean of sub-daily data", Params: []mipconvert.ParamSpec{partialParam},
		Fn: func(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
			return aggregateTime("day-mean", in[0], p, env, mipconvert.Mean, dayKey, perDay)
		},
	},
	{
		Name: "n-hourly-mean", Family: Temporal, MinInputs: 1, MaxInputs: 1,
		Doc: "mean over blocks of a number of hours", Params: []mipconvert.ParamSpec{periodParam, partialParam},
		Fn: nHourlyMean,
	},
	{
		Name: "extract-n-hourly", Family: Temporal, MinInputs: 1, MaxInputs: 1,
		Doc: "keep the samples at hours divisible by a period", Params: []mipconvert.ParamSpec{periodParam},
		Fn: extractNHourly,
	},
	{
		Name: "monthly-mean-from-daily", Family: Temporal, MinInputs: 1, MaxInputs: 1,
		Doc: "monthly mean of daily data", Params: []mipconvert.ParamSpec{partialParam},
		Fn: monthlyMeanFromDaily,
	},
	{
		Name: "annual-mean-from-monthly", Family: Temporal, MinInputs: 1, MaxInputs: 1,
		Doc: "annual mean of monthly data", Params: []mipconvert.ParamSpec{partialParam},
		Fn: annualMeanFromMonthly,
	},
	{
		Name: "mean-diurnal-cycle", Family: Temporal, MinInputs: 1, MaxInputs: 1,
		Doc: "monthly mean of each hour of the day", Params: []mipconvert.ParamSpec{partialParam},
		Fn: meanDiurnalCycle,
	},
}

func dayKey(d mipconvert.DateTime) string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func monthKey(d mipconvert.DateTime) string {
	return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
}

// perDay returns the number of samples expected in a day.
func perDay(_ mipconvert.DateTime, _ string, step float64) int {
	return int(math.Round(24 / step))
}

// samplingHours returns the sampling interval of a time coordinate in
// hours: the median spacing of its points, or the width of its single
// cell.
func samplingHours(proc string, tc *mipconvert.Coord, u *mipconvert.TimeUnits) (float64, error) {
	if tc.Len() > 1 {
		d := make([]float64, tc.Len()-1)
		for i := range d {
			d[i] = tc.Points[i+1] - tc.Points[i]
		}
		sort.Float64s(d)
		if step := u.Hours(d[len(d)/2]); step > 0 {
			return step, nil
		}
	}
	if tc.HasBounds() {
		if step := u.Hours(math.Abs(tc.Bounds[0][1] - tc.Bounds[0][0])); step > 0 {
			return step, nil
		}
	}
	return 0, incompatible(proc, "cannot determine the sampling interval of %q", tc.ID())
}

// aggregateTime groups the samples of c by key and aggregates each group.
// expected gives the number of samples in a complete group from the date
// of its first sample, the calendar and the sampling interval in hours.
func aggregateTime(proc string, c *mipconvert.Cube, p mipconvert.Params, env Env, agg mipconvert.Aggregator,
	key func(mipconvert.DateTime) string, expected func(mipconvert.DateTime, string, float64) int) (*mipconvert.Cube, error) {
	t, err := timeDim(proc, c)
	if err != nil {
		return nil, err
	}
	tc := c.Dims[t]
	u, err := tc.TimeUnits()
	if err != nil {
		return nil, incompatible(proc, "%v", err)
	}
	step, err := samplingHours(proc, tc, u)
	if err != nil {
		return nil, err
	}
	return groupTime(proc, c, t, u, step, p, env, agg, key, expected)
}

func groupTime(proc string, c *mipconvert.Cube, t int, u *mipconvert.TimeUnits, step float64, p mipconvert.Params, env Env,
	agg mipconvert.Aggregator, key func(mipconvert.DateTime) string, expected func(mipconvert.DateTime, string, float64) int) (*mipconvert.Cube, error) {
	var (
		keys   []string
		firsts []mipconvert.DateTime
		groups [][]int
		index  = make(map[string]int)
	)
	for i, v := range c.Dims[t].Points {
		d := u.Date(v)
		k := key(d)
		g, ok := index[k]
		if !ok {
			g = len(groups)
			index[k] = g
			keys = append(keys, k)
			firsts = append(firsts, d)
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	policy := p.String("partial", DropPartial)
	var (
		keep    [][]int
		partial []string
	)
	for g, members := range groups {
		if n := expected(firsts[g], u.Calendar, step); len(members) != n {
			partial = append(partial, keys[g])
			env.log().WithFields(logrus.Fields{
				"processor": proc,
				"period":    keys[g],
				"samples":   len(members),
				"expected":  n,
				"policy":    policy,
			}).Warn("partial period")
			if policy == DropPartial {
				continue
			}
		}
		keep = append(keep, members)
	}
	if len(keep) == 0 {
		return nil, incompatible(proc, "%q has no complete periods", c.Name)
	}
	o, err := c.AggregateBy(t, keep, agg, nil)
	if err != nil {
		return nil, err
	}
	if policy == FlagPartial && len(partial) > 0 {
		o.SetAttribute(PartialAttribute, strings.Join(partial, " "))
	}
	return o, nil
}

func nHourlyMean(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	period := p.Int("period", 3)
	if period <= 0 || 24%period != 0 {
		return nil, &mipconvert.ParameterError{Owner: "n-hourly-mean", Param: "period", Reason: "must divide 24"}
	}
	key := func(d mipconvert.DateTime) string {
		return fmt.Sprintf("%sT%02d", dayKey(d), d.Hour/period*period)
	}
	expected := func(_ mipconvert.DateTime, _ string, step float64) int {
		return int(math.Round(float64(period) / step))
	}
	return aggregateTime("n-hourly-mean", in[0], p, env, mipconvert.Mean, key, expected)
}

func extractNHourly(in []*mipconvert.Cube, p mipconvert.Params, _ Env) (*mipconvert.Cube, error) {
	const name = "extract-n-hourly"
	period := p.Int("period", 3)
	if period <= 0 || 24%period != 0 {
		return nil, &mipconvert.ParameterError{Owner: name, Param: "period", Reason: "must divide 24"}
	}
	c := in[0]
	t, err := timeDim(name, c)
	if err != nil {
		return nil, err
	}
	dates, err := c.Dims[t].Dates()
	if err != nil {
		return nil, incompatible(name, "%v", err)
	}
	var idx []int
	for i, d := range dates {
		if d.Hour%period == 0 && d.Minute == 0 && d.Second == 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, incompatible(name, "%q has no samples at %d-hourly times", c.Name, period)
	}
	return c.Extract(t, idx)
}

func monthlyMeanFromDaily(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "monthly-mean-from-daily"
	c := in[0]
	t, err := timeDim(name, c)
	if err != nil {
		return nil, err
	}
	tc := c.Dims[t]
	u, err := tc.TimeUnits()
	if err != nil {
		return nil, incompatible(name, "%v", err)
	}
	if !tc.HasBounds() {
		return nil, incompatible(name, "time coordinate of %q has no bounds", c.Name)
	}
	for _, b := range tc.Bounds {
		if w := u.Hours(math.Abs(b[1] - b[0])); math.Abs(w-24) > 1e-6 {
			return nil, incompatible(name, "%q is not daily: a time cell spans %g hours", c.Name, w)
		}
	}
	expected := func(d mipconvert.DateTime, cal string, _ float64) int {
		return mipconvert.DaysInMonth(cal, d.Year, d.Month)
	}
	return groupTime(name, c, t, u, 24, p, env, mipconvert.Mean, monthKey, expected)
}

func annualMeanFromMonthly(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "annual-mean-from-monthly"
	c := in[0]
	t, err := timeDim(name, c)
	if err != nil {
		return nil, err
	}
	u, err := c.Dims[t].TimeUnits()
	if err != nil {
		return nil, incompatible(name, "%v", err)
	}
	step, err := samplingHours(name, c.Dims[t], u)
	if err != nil {
		return nil, err
	}
	if days := step / 24; days < 28 || days > 31 {
		return nil, incompatible(name, "%q is not monthly: samples are %g days apart", c.Name, days)
	}
	key := func(d mipconvert.DateTime) string { return fmt.Sprintf("%04d", d.Year) }
	expected := func(mipconvert.DateTime, string, float64) int { return 12 }
	return groupTime(name, c, t, u, step, p, env, mipconvert.Mean, key, expected)
}

func meanDiurnalCycle(in []*mipconvert.Cube, p mipconvert.Params, env Env) (*mipconvert.Cube, error) {
	const name = "mean-diurnal-cycle"
	c := in[0]
	t, err := timeDim(name, c)
	if err != nil {
		return nil, err
	}
	u, err := c.Dims[t].TimeUnits()
	if err != nil {
		return nil, incompatible(name, "%v", err)
	}
	step, err := samplingHours(name, c.Dims[t], u)
	if err != nil {
		return nil, err
	}
	if step > 1+1e-6 {
		return nil, incompatible(name, "%q is sampled every %g hours; hourly or finer data is needed", c.Name, step)
	}
	key := func(d mipconvert.DateTime) string { return fmt.Sprintf("%sT%02d", monthKey(d), d.Hour) }
	expected := func(d mipconvert.DateTime, cal string, step float64) int {
		return mipconvert.DaysInMonth(cal, d.Year, d.Month) * int(math.Round(1/step))
	}
	o, err := groupTime(name, c, t, u, step, p, env, mipconvert.Mean, key, expected)
	if err != nil {
		return nil, err
	}
	// The aggregated time cells of each hour overlap across the month.
	o.Dims[t].Bounds = nil
	return o, nil
}
