package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var byteSizePattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([kKmMgGtT]?[iI]?[bB]?)\s*$`)

// ParseBytes parses a byte size string like "10000000", "10MB" or "512KiB".
// Decimal units (kB, MB, GB, TB) are powers of 1000, binary units (KiB,
// MiB, GiB, TiB) powers of 1024. An empty string is 0.
func ParseBytes(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}

	matches := byteSizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	val, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}

	unit := strings.ToLower(matches[2])
	base := 1000.0
	if strings.Contains(unit, "i") {
		base = 1024
	}
	multiplier := 1.0
	switch strings.TrimRight(unit, "ib") {
	case "":
		if unit != "" && unit != "b" {
			return 0, fmt.Errorf("invalid unit in %q", s)
		}
	case "k":
		multiplier = base
	case "m":
		multiplier = base * base
	case "g":
		multiplier = base * base * base
	case "t":
		multiplier = base * base * base * base
	}

	return int64(val * multiplier), nil
}

// FormatBytes renders n with a binary unit, e.g. "9.54 MiB".
func FormatBytes(n int64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	i := 0
	val := float64(n)

	for val >= 1024 && i < len(units)-1 {
		val /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.2f %s", val, units[i])
}
