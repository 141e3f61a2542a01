package stats

import (
	"fmt"
	"strconv"
	"strings"
)

// PrettyFormatNumber renders counts with K/M/G suffixes above a thousand.
func PrettyFormatNumber(n int) string {
	switch {
	case n < 1000 && n > -1000:
		return strconv.Itoa(n)
	case n < 1000000 && n > -1000000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	case n < 1000000000 && n > -1000000000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	default:
		return fmt.Sprintf("%.1fG", float64(n)/1e9)
	}
}

// PrettyFormatBytes renders a byte size in B, KB, MB or GB (base 1024).
func PrettyFormatBytes(n int) string {
	const unit = 1024
	switch {
	case n < unit:
		return fmt.Sprintf("%d B", n)
	case n < unit*unit:
		return fmt.Sprintf("%.1f KB", float64(n)/unit)
	case n < unit*unit*unit:
		return fmt.Sprintf("%.1f MB", float64(n)/(unit*unit))
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/(unit*unit*unit))
	}
}

// Rate returns count/duration, or count when no duration is known.
func Rate(count, duration int) int {
	if duration > 0 {
		return count / duration
	}
	return count
}

var suffixScale = []struct {
	suffix string
	scale  float64
}{
	{"ms", 1},
	{" GB", 1 << 30},
	{" MB", 1 << 20},
	{" KB", 1 << 10},
	{" B", 1},
	{"G", 1e9},
	{"M", 1e6},
	{"K", 1e3},
}

// ParsePretty reverses PrettyFormatNumber, PrettyFormatBytes and
// GetPercentileStr. Durations come back in milliseconds.
func ParsePretty(s string) (float64, error) {
	for _, u := range suffixScale {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, err
			}
			return v * u.scale, nil
		}
	}
	return strconv.ParseFloat(s, 64)
}
