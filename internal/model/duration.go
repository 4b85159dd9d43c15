package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrISOFormat      = errors.New("invalid ISO8601 duration")
	ErrDurationFormat = errors.New("invalid duration")
)

// Duration is a configuration duration. Valid is false when the value was
// left empty, which disables whatever the duration bounds.
type Duration struct {
	time.Duration
	Valid bool
}

// NewDuration returns a set Duration.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d, Valid: true}
}

// Ptr returns nil for an unset Duration.
func (d Duration) Ptr() *time.Duration {
	if !d.Valid {
		return nil
	}
	v := d.Duration
	return &v
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, ok, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration{Duration: parsed, Valid: ok}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	if !d.Valid {
		return []byte{}, nil
	}
	return []byte(d.Duration.String()), nil
}

// ParseDuration understands three spellings:
//
//	90s, 1h30m   Go syntax
//	PT30M, P1DT2H ISO8601
//	2d, 1d12h    days, hours, minutes, seconds
//
// An empty or blank string returns ok == false and no error.
func ParseDuration(s string) (d time.Duration, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	if s[0] == 'P' || s[0] == 'p' {
		d, err = parseISODuration(strings.ToUpper(s))
		return d, err == nil, err
	}
	if d, err = time.ParseDuration(s); err == nil {
		return d, true, nil
	}
	if d, err = parseDayDuration(s); err == nil {
		return d, true, nil
	}
	return 0, false, fmt.Errorf("%w %q: use 90s, 1h30m, PT30M or 1d2h", ErrDurationFormat, s)
}

var dayDurationRx = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

func parseDayDuration(s string) (time.Duration, error) {
	m := dayDurationRx.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrDurationFormat
	}
	var total time.Duration
	for _, seg := range m[1:] {
		if seg == "" {
			continue
		}
		val, err := strconv.ParseInt(seg[:len(seg)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in %s", seg)
		}
		var unit time.Duration
		switch seg[len(seg)-1] {
		case 'd':
			unit = 24 * time.Hour
		case 'h':
			unit = time.Hour
		case 'm':
			unit = time.Minute
		case 's':
			unit = time.Second
		}
		if val > int64(math.MaxInt64/unit) {
			return 0, errors.New("duration overflow")
		}
		add := time.Duration(val) * unit
		if total > time.Duration(math.MaxInt64)-add {
			return 0, errors.New("duration overflow")
		}
		total += add
	}
	return total, nil
}

var isoDurationRx = regexp.MustCompile(`^P((?P<day>\d+)D)?(T?(?:(?P<hour>\d+)H)?(?:(?P<minute>\d+)M)?(?:(?P<second>\d+(?:[.,]\d+)?)S)?)?$`)

func parseISODuration(dur string) (time.Duration, error) {
	if dur == "P" || dur == "PT" || !isoDurationRx.MatchString(dur) {
		return 0, ErrISOFormat
	}
	match := isoDurationRx.FindStringSubmatch(dur)

	// P2M is months in ISO8601, minutes only follow T
	hasT := strings.Contains(dur, "T")
	hasHMS := false

	var ret time.Duration
	for i, name := range isoDurationRx.SubexpNames() {
		part := match[i]
		if i == 0 || name == "" || part == "" {
			continue
		}
		num, frac, err := splitFraction(part)
		if err != nil {
			return 0, err
		}
		var unit time.Duration
		switch name {
		case "day":
			unit = 24 * time.Hour
		case "hour":
			hasHMS = true
			unit = time.Hour
		case "minute":
			hasHMS = true
			if !hasT {
				return 0, ErrISOFormat
			}
			unit = time.Minute
		case "second":
			hasHMS = true
			unit = time.Second
		}
		ret += time.Duration(num)*unit + time.Duration(frac*float64(unit))
	}

	if hasT && !hasHMS {
		return 0, ErrISOFormat
	}
	return ret, nil
}

func splitFraction(s string) (num int, frac float64, err error) {
	s = strings.Replace(s, ",", ".", 1)
	whole, fraction, ok := strings.Cut(s, ".")
	if ok {
		if len(fraction) > 9 {
			return 0, 0, ErrISOFormat
		}
		f, err := strconv.Atoi(fraction)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing fraction: %w", err)
		}
		frac = float64(f) / math.Pow10(len(fraction))
	}
	num, err = strconv.Atoi(whole)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing number: %w", err)
	}
	return num, frac, nil
}
