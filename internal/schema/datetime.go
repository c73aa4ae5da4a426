package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// Integer bounds of the YYYYMMDDHHMMSSmmm fast path.
const (
	dateTimeFastMin int64 = 19000000000000000
	dateTimeFastMax int64 = 30000000000000000
)

var dateTimePattern = regexp.MustCompile(
	`^(\d{4})-?(\d{2})-?(\d{2})(?:[ T]?(\d{2}):?(\d{2}):?(\d{2})\.?(\d+)?)?$`)

// FormatDateTime renders t in UTC as the integer YYYYMMDDHHMMSSmmm.
func FormatDateTime(t time.Time) int64 {
	t = t.UTC()
	return int64(t.Year())*1e13 +
		int64(t.Month())*1e11 +
		int64(t.Day())*1e9 +
		int64(t.Hour())*1e7 +
		int64(t.Minute())*1e5 +
		int64(t.Second())*1e3 +
		int64(t.Nanosecond()/int(time.Millisecond))
}

// ParseDateTime reads a timestamp from its integer form, one of the accepted
// textual forms, or a time.Time. Results are in UTC with microsecond precision.
func ParseDateTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseDateTimeText(t)
	case []byte:
		return parseDateTimeText(string(t))
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return parseDateTimeInt(n)
		}
		return parseDateTimeText(t.String())
	case float64:
		if t != math.Trunc(t) {
			return time.Time{}, fmt.Errorf("datetime %v is not integral", t)
		}
		return parseDateTimeInt(int64(t))
	}
	if n, ok := core.AsInt64(v); ok {
		return parseDateTimeInt(n)
	}
	return time.Time{}, fmt.Errorf("cannot read %T as datetime", v)
}

func parseDateTimeInt(n int64) (time.Time, error) {
	if n < dateTimeFastMin || n >= dateTimeFastMax {
		return parseDateTimeText(strconv.FormatInt(n, 10))
	}
	ms := int(n % 1000)
	n /= 1000
	sec := int(n % 100)
	n /= 100
	minute := int(n % 100)
	n /= 100
	hour := int(n % 100)
	n /= 100
	day := int(n % 100)
	n /= 100
	month := int(n % 100)
	year := int(n / 100)
	return buildDateTime(year, month, day, hour, minute, sec, ms*1000)
}

func parseDateTimeText(s string) (time.Time, error) {
	m := dateTimePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
	}
	num := func(part string) int {
		if part == "" {
			return 0
		}
		n, _ := strconv.Atoi(part)
		return n
	}
	frac := m[7]
	if len(frac) > 6 {
		frac = frac[:6]
	}
	if frac != "" {
		frac += strings.Repeat("0", 6-len(frac))
	}
	return buildDateTime(num(m[1]), num(m[2]), num(m[3]), num(m[4]), num(m[5]), num(m[6]), num(frac))
}

func buildDateTime(year, month, day, hour, minute, sec, micros int) (time.Time, error) {
	t := time.Date(year, time.Month(month), day, hour, minute, sec, micros*int(time.Microsecond), time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != sec {
		return time.Time{}, fmt.Errorf("invalid datetime %04d-%02d-%02d %02d:%02d:%02d", year, month, day, hour, minute, sec)
	}
	return t, nil
}
