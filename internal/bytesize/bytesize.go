// Package bytesize converts between byte counts and strings like "12.3 MB".
package bytesize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	KB = 1024
	MB = KB * 1024
	GB = MB * 1024
	TB = GB * 1024
)

var units = []string{"B", "KB", "MB", "GB", "TB"}

var quantityRe = regexp.MustCompile(`^([\d.]+)\s*([KMGT]B|B)?$`)

// ErrInvalid is returned by ParseValue for values that are not a byte count.
var ErrInvalid = errors.New("invalid byte quantity")

// Parse reads a quantity such as "1.5 KB" or "300b". Units are B, KB, MB, GB
// and TB in any case. Empty, "N/A" and anything unrecognized yield 0.
func Parse(s string) int64 {
	n, _ := parse(s)
	return n
}

func parse(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, true
	}
	m := quantityRe.FindStringSubmatch(strings.ToUpper(s))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return saturate(v * float64(multiplier(m[2]))), true
}

func multiplier(unit string) int64 {
	switch unit {
	case "KB":
		return KB
	case "MB":
		return MB
	case "GB":
		return GB
	case "TB":
		return TB
	default:
		return 1
	}
}

// ParseValue accepts either a number, taken as a byte count, or a string
// handled by Parse. nil reads as 0. Strings Parse does not recognize and
// non-numeric types are reported as ErrInvalid. Out-of-range numbers
// saturate at the int64 limits.
func ParseValue(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64, nil
		}
		return int64(n), nil
	case float32:
		return saturate(float64(n)), nil
	case float64:
		if math.IsNaN(n) {
			return 0, fmt.Errorf("%w: NaN", ErrInvalid)
		}
		return saturate(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, string(n))
		}
		return saturate(f), nil
	case string:
		q, ok := parse(n)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, n)
		}
		return q, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalid, v)
	}
}

// saturate rounds f to the nearest int64, clamping at the type's limits.
func saturate(f float64) int64 {
	r := math.Round(f)
	switch {
	case r >= math.MaxInt64:
		return math.MaxInt64
	case r <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(r)
	}
}

// Format renders b in the largest base-1024 unit that keeps the value at or
// above one, with a single decimal digit.
func Format(b int64) string {
	if b <= 0 {
		return "0 B"
	}
	i := 0
	v := float64(b)
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}
