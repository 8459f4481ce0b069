package gc

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/inhies/go-bytesize"
)

var (
	errEmptySize     = errors.New("empty size")
	errBadSizeChar   = errors.New("unexpected character")
	errMissingDigits = errors.New("unit without a number")
	errSizeOverflow  = errors.New("size overflows")
)

// ParseSize parses a heap size. A size is a sequence of terms, each a
// decimal number optionally followed by a unit: k or K for KiB, m or M for
// MiB and g or G for GiB. The terms are added, so "42M43k44" is 42 MiB plus
// 43 KiB plus 44 bytes. Malformed sizes return a *ConfigError.
func ParseSize(s string) (uint64, error) {
	return ParseSizeOption("size", s)
}

func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, errEmptySize
	}
	var total, term uint64
	digits := false
	add := func(unit uint64) error {
		if term > math.MaxUint64/unit {
			return errSizeOverflow
		}
		v := term * unit
		if total > math.MaxUint64-v {
			return errSizeOverflow
		}
		total += v
		term, digits = 0, false
		return nil
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case '0' <= c && c <= '9':
			d := uint64(c - '0')
			if term > (math.MaxUint64-d)/10 {
				return 0, errSizeOverflow
			}
			term = term*10 + d
			digits = true
		case c == 'k' || c == 'K' || c == 'm' || c == 'M' || c == 'g' || c == 'G':
			if !digits {
				return 0, errors.Wrapf(errMissingDigits, "at offset %d", i)
			}
			if err := add(unitOf(c)); err != nil {
				return 0, err
			}
		default:
			return 0, errors.Wrapf(errBadSizeChar, "%q at offset %d", c, i)
		}
	}
	if digits {
		if err := add(1); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func unitOf(c byte) uint64 {
	switch c {
	case 'k', 'K':
		return 1 << 10
	case 'm', 'M':
		return 1 << 20
	default:
		return 1 << 30
	}
}

// ParseSizeOption parses the value of the named size option and wraps
// failures in a ConfigError.
func ParseSizeOption(option, value string) (uint64, error) {
	n, err := parseSize(value)
	if err != nil {
		return 0, &ConfigError{Option: option, Value: value, Err: err}
	}
	return n, nil
}

// FormatSize formats n for reports, for example "1.00MB".
func FormatSize(n uint64) string {
	return bytesize.New(float64(n)).String()
}
