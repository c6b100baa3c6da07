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
	"strconv"
	"strings"
	"time"
)

// Calendars recognised in time coordinates.
const (
	Gregorian = "gregorian"
	Day360    = "360_day"
	NoLeap    = "365_day"
	AllLeap   = "366_day"
)

// CanonicalCalendar maps CF calendar aliases onto the calendars above.
func CanonicalCalendar(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gregorian", "standard", "proleptic_gregorian":
		return Gregorian, nil
	case "360_day":
		return Day360, nil
	case "365_day", "noleap":
		return NoLeap, nil
	case "366_day", "all_leap":
		return AllLeap, nil
	default:
		return "", fmt.Errorf("mipconvert: unsupported calendar %q", name)
	}
}

// DateTime is a calendar date and time that is independent of the
// calendar it belongs to, so that dates such as 30 February in a 360-day
// calendar can be represented.
type DateTime struct {
	Year, Month, Day     int
	Hour, Minute, Second int
}

// IsZero reports whether d is the zero DateTime.
func (d DateTime) IsZero() bool { return d == DateTime{} }

func (d DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

// Compact returns d formatted as YYYYMMDD, used in output file names.
func (d DateTime) Compact() string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, d.Month, d.Day)
}

// Before reports whether d is earlier than o.
func (d DateTime) Before(o DateTime) bool {
	a := []int{d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second}
	b := []int{o.Year, o.Month, o.Day, o.Hour, o.Minute, o.Second}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ParseDateTime parses "YYYY-MM-DD", "YYYY-MM-DD hh:mm:ss" or
// "YYYY-MM-DDThh:mm:ss". Fields may be unpadded as in "1850-1-1".
func ParseDateTime(s string) (DateTime, error) {
	var d DateTime
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "Z")
	datePart, timePart := s, ""
	if i := strings.IndexAny(s, "T "); i >= 0 {
		datePart, timePart = s[:i], strings.TrimSpace(s[i+1:])
	}
	f := strings.Split(datePart, "-")
	if len(f) != 3 || f[0] == "" {
		return d, fmt.Errorf("mipconvert: invalid date %q", s)
	}
	vals := make([]int, 0, 6)
	for _, x := range f {
		v, err := strconv.Atoi(x)
		if err != nil {
			return d, fmt.Errorf("mipconvert: invalid date %q", s)
		}
		vals = append(vals, v)
	}
	if timePart != "" {
		t := strings.Split(timePart, ":")
		if len(t) > 3 {
			return d, fmt.Errorf("mipconvert: invalid time %q", s)
		}
		for _, x := range t {
			v, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return d, fmt.Errorf("mipconvert: invalid time %q", s)
			}
			vals = append(vals, int(v))
		}
	}
	for len(vals) < 6 {
		vals = append(vals, 0)
	}
	d = DateTime{vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]}
	if d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 31 {
		return DateTime{}, fmt.Errorf("mipconvert: invalid date %q", s)
	}
	return d, nil
}

var cumulativeDays = [2][13]int{
	{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334, 365},
	{0, 31, 60, 91, 121, 152, 182, 213, 244, 274, 305, 335, 366},
}

// DaysInMonth returns the length of a month in the given calendar.
func DaysInMonth(calendar string, year, month int) int {
	switch calendar {
	case Day360:
		return 30
	case NoLeap:
		return cumulativeDays[0][month] - cumulativeDays[0][month-1]
	case AllLeap:
		return cumulativeDays[1][month] - cumulativeDays[1][month-1]
	default:
		return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	}
}

// dayNumber returns the number of days between 0000-01-01 and d in the
// calendar.
func dayNumber(calendar string, d DateTime) int64 {
	y := int64(d.Year)
	switch calendar {
	case Day360:
		return y*360 + int64(d.Month-1)*30 + int64(d.Day-1)
	case NoLeap:
		return y*365 + int64(cumulativeDays[0][d.Month-1]) + int64(d.Day-1)
	case AllLeap:
		return y*366 + int64(cumulativeDays[1][d.Month-1]) + int64(d.Day-1)
	default:
		t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
		return int64(math.Floor(float64(t.Unix())/86400)) + gregorianEpochDays
	}
}

// gregorianEpochDays is the day number of 1970-01-01.
var gregorianEpochDays = -int64(math.Floor(float64(time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Unix()) / 86400))

// fromDayNumber inverts dayNumber.
func fromDayNumber(calendar string, n int64) DateTime {
	switch calendar {
	case Day360:
		y := floorDiv(n, 360)
		r := n - y*360
		return DateTime{Year: int(y), Month: int(r/30) + 1, Day: int(r%30) + 1}
	case NoLeap, AllLeap:
		leap, length := 0, int64(365)
		if calendar == AllLeap {
			leap, length = 1, 366
		}
		y := floorDiv(n, length)
		r := int(n - y*length)
		m := 1
		for cumulativeDays[leap][m] <= r {
			m++
		}
		return DateTime{Year: int(y), Month: m, Day: r - cumulativeDays[leap][m-1] + 1}
	default:
		t := time.Unix((n-gregorianEpochDays)*86400, 0).UTC()
		return DateTime{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// TimeUnits describes a CF time coordinate such as
// "days since 1850-01-01" in a given calendar.
type TimeUnits struct {
	Calendar string
	Epoch    DateTime
	// Seconds is the length of one unit in seconds.
	Seconds float64
}

// ParseTimeUnits parses CF time units.
func ParseTimeUnits(units, calendar string) (*TimeUnits, error) {
	cal, err := CanonicalCalendar(calendar)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("mipconvert: %q are not time units", units)
	}
	var secs float64
	switch strings.TrimSpace(parts[0]) {
	case "seconds", "second", "s":
		secs = 1
	case "minutes", "minute", "min":
		secs = 60
	case "hours", "hour", "h":
		secs = 3600
	case "days", "day", "d":
		secs = 86400
	default:
		return nil, fmt.Errorf("mipconvert: unsupported time step in %q", units)
	}
	epoch, err := ParseDateTime(parts[1])
	if err != nil {
		return nil, err
	}
	return &TimeUnits{Calendar: cal, Epoch: epoch, Seconds: secs}, nil
}

// IsTimeUnits reports whether units describe a CF time coordinate.
func IsTimeUnits(units string) bool {
	return strings.Contains(units, " since ")
}

func (u *TimeUnits) seconds(d DateTime) float64 {
	return float64(dayNumber(u.Calendar, d))*86400 + float64(d.Hour*3600+d.Minute*60+d.Second)
}

// Value returns the coordinate value of d.
func (u *TimeUnits) Value(d DateTime) float64 {
	return (u.seconds(d) - u.seconds(u.Epoch)) / u.Seconds
}

// Date returns the date of the coordinate value v, rounded to the nearest
// second.
func (u *TimeUnits) Date(v float64) DateTime {
	s := int64(math.Round(v*u.Seconds + u.seconds(u.Epoch)))
	days := floorDiv(s, 86400)
	rem := int(s - days*86400)
	d := fromDayNumber(u.Calendar, days)
	d.Hour, d.Minute, d.Second = rem/3600, rem%3600/60, rem%60
	return d
}

// Hours returns the length of v coordinate units in hours.
func (u *TimeUnits) Hours(v float64) float64 { return v * u.Seconds / 3600 }

// TimeUnits returns the parsed units of a time coordinate.
func (c *Coord) TimeUnits() (*TimeUnits, error) {
	return ParseTimeUnits(c.Units, c.Calendar)
}

// Dates returns the date of every point of a time coordinate.
func (c *Coord) Dates() ([]DateTime, error) {
	u, err := c.TimeUnits()
	if err != nil {
		return nil, err
	}
	d := make([]DateTime, c.Len())
	for i, p := range c.Points {
		d[i] = u.Date(p)
	}
	return d, nil
}
