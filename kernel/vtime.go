package kernel

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// VirtualTime is a simulation time value measured in ticks.
// The tick length is a process-wide scale (seconds per tick) fixed during
// configuration; the default is one nanosecond.
type VirtualTime int64

// Infinity is larger than any reachable simulation time. Arithmetic on it
// saturates.
const Infinity = VirtualTime(math.MaxInt64)

// minTime is the most negative representable time. Negative arithmetic
// saturates here.
const minTime = VirtualTime(math.MinInt64)

var tickSeconds = 1e-9

// SetTickScale sets the number of seconds per tick. It must be called before
// any VirtualTime is parsed or formatted, i.e. during configuration.
func SetTickScale(secondsPerTick float64) error {
	if secondsPerTick <= 0 || math.IsNaN(secondsPerTick) || math.IsInf(secondsPerTick, 0) {
		return configErrorf("tick scale must be a positive number of seconds, got %v", secondsPerTick)
	}
	tickSeconds = secondsPerTick
	return nil
}

// TickScale returns the number of seconds per tick.
func TickScale() float64 { return tickSeconds }

// FromTicks converts a raw tick count.
func FromTicks(n int64) VirtualTime { return VirtualTime(n) }

// FromSeconds converts seconds to the nearest tick.
func FromSeconds(s float64) VirtualTime {
	ticks := math.Round(s / tickSeconds)
	if ticks >= math.MaxInt64 {
		return Infinity
	}
	if ticks <= math.MinInt64 {
		return VirtualTime(math.MinInt64)
	}
	return VirtualTime(ticks)
}

func (t VirtualTime) Ticks() int64 { return int64(t) }

// Seconds converts to seconds using the current tick scale.
func (t VirtualTime) Seconds() float64 {
	if t == Infinity {
		return math.Inf(1)
	}
	return float64(t) * tickSeconds
}

func (t VirtualTime) IsInfinite() bool { return t == Infinity }

// Add returns t+d, saturating at Infinity and at the most negative time.
func (t VirtualTime) Add(d VirtualTime) VirtualTime {
	switch {
	case t == Infinity || d == Infinity:
		return Infinity
	case d > 0 && t > Infinity-d:
		return Infinity
	case d < 0 && t < minTime-d:
		return minTime
	}
	return t + d
}

// Sub returns t-d. Infinity minus a finite value stays Infinity; other
// results saturate like Add.
func (t VirtualTime) Sub(d VirtualTime) VirtualTime {
	switch {
	case t == Infinity && d != Infinity:
		return Infinity
	case d > 0 && t < minTime+d:
		return minTime
	case d < 0 && t > Infinity+d:
		return Infinity
	}
	return t - d
}

// Mul scales by an integer factor, saturating on overflow.
func (t VirtualTime) Mul(k int64) VirtualTime {
	if k == 0 {
		return 0
	}
	if t == Infinity {
		if k > 0 {
			return Infinity
		}
		return minTime
	}
	r := t * VirtualTime(k)
	if r/VirtualTime(k) != t || (t == minTime && k == -1) {
		if (t < 0) != (k < 0) {
			return minTime
		}
		return Infinity
	}
	return r
}

// Div divides by an integer, truncating toward zero. Dividing by zero
// saturates: positive times give Infinity, negative ones the most negative
// time and zero stays zero.
func (t VirtualTime) Div(k int64) VirtualTime {
	switch {
	case k == 0 && t > 0:
		return Infinity
	case k == 0 && t < 0:
		return minTime
	case k == 0:
		return 0
	case t == Infinity:
		if k > 0 {
			return Infinity
		}
		return minTime
	}
	return t / VirtualTime(k)
}

// Scale multiplies by a real factor and rounds to the nearest tick.
func (t VirtualTime) Scale(f float64) VirtualTime {
	if t == Infinity {
		return Infinity
	}
	v := math.Round(float64(t) * f)
	if v >= math.MaxInt64 {
		return Infinity
	}
	return VirtualTime(v)
}

// MinTime returns the smaller of a and b.
func MinTime(a, b VirtualTime) VirtualTime {
	if a < b {
		return a
	}
	return b
}

// MaxTime returns the larger of a and b.
func MaxTime(a, b VirtualTime) VirtualTime {
	if a > b {
		return a
	}
	return b
}

// timeUnits is ordered from largest to smallest; String picks the first unit
// that divides the value exactly.
var timeUnits = []struct {
	suffix  string
	seconds float64
}{
	{"d", 86400},
	{"h", 3600},
	{"m", 60},
	{"s", 1},
	{"ms", 1e-3},
	{"us", 1e-6},
	{"ns", 1e-9},
}

// ticksPerUnit returns the integral number of ticks in one unit, or 0 when the
// unit is not a whole multiple of the tick.
func ticksPerUnit(unitSeconds float64) int64 {
	r := unitSeconds / tickSeconds
	n := math.Round(r)
	if n < 1 || math.Abs(r-n) > 1e-9*n {
		return 0
	}
	return int64(n)
}

// String formats t with the largest unit suffix that represents it exactly.
// Values that no unit divides are printed as bare tick counts.
func (t VirtualTime) String() string {
	if t == Infinity {
		return "inf"
	}
	if t == 0 {
		return "0"
	}
	if t == minTime {
		// -t does not fit in an int64
		return strconv.FormatInt(int64(t), 10)
	}
	v := int64(t)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	for _, u := range timeUnits {
		per := ticksPerUnit(u.seconds)
		if per == 0 {
			continue
		}
		if v%per == 0 {
			return sign + strconv.FormatInt(v/per, 10) + u.suffix
		}
	}
	return sign + strconv.FormatInt(v, 10)
}

// ParseVirtualTime parses a duration such as "10", "1.5ms", "2h" or "inf".
// A number without suffix is a raw tick count.
func ParseVirtualTime(s string) (VirtualTime, error) {
	in := strings.TrimSpace(s)
	switch strings.ToLower(in) {
	case "":
		return 0, configErrorf("empty virtual time")
	case "inf", "infinity":
		return Infinity, nil
	}
	// longest suffixes first so "ms" is not read as "m"
	for _, suffix := range []string{"ms", "us", "ns", "d", "h", "m", "s"} {
		if !strings.HasSuffix(in, suffix) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(in, suffix))
		// whole numbers stay in integer arithmetic so large values survive a
		// round trip through String
		if n, err := strconv.ParseInt(num, 10, 64); err == nil {
			for _, u := range timeUnits {
				if u.suffix != suffix {
					continue
				}
				if per := ticksPerUnit(u.seconds); per > 0 {
					return mulTicks(n, per), nil
				}
			}
		}
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, configErrorf("invalid virtual time %q: %v", s, err)
		}
		for _, u := range timeUnits {
			if u.suffix == suffix {
				return FromSeconds(f * u.seconds), nil
			}
		}
	}
	n, err := strconv.ParseInt(in, 10, 64)
	if err != nil {
		return 0, configErrorf("invalid virtual time %q: expected ticks or a value with one of ns,us,ms,s,m,h,d", s)
	}
	return VirtualTime(n), nil
}

// mulTicks returns n*per for per > 0, saturating on overflow.
func mulTicks(n, per int64) VirtualTime {
	switch {
	case n > math.MaxInt64/per:
		return Infinity
	case n < math.MinInt64/per:
		return minTime
	}
	return VirtualTime(n * per)
}

// Set implements pflag.Value.
func (t *VirtualTime) Set(s string) error {
	v, err := ParseVirtualTime(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Type implements pflag.Value.
func (t *VirtualTime) Type() string { return "vtime" }

// UnmarshalYAML accepts either a bare integer tick count or a suffixed string.
func (t *VirtualTime) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: virtual time must be a scalar", node.Line)
	}
	v, err := ParseVirtualTime(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = v
	return nil
}

// MarshalYAML writes the suffixed form produced by String.
func (t VirtualTime) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}
