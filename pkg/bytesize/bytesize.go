// Package bytesize parses and formats the byte sizes and byte rates used in
// nlagent configuration ("32KiB", "10MB/s", "80mbps").
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Binary byte size units.
const (
	B  int64 = 1
	KB int64 = 1024
	MB int64 = 1024 * KB
	GB int64 = 1024 * MB
	TB int64 = 1024 * GB
)

// Network rate units expressed in bytes per second (SI).
const (
	Kbps int64 = 1000 / 8
	Mbps int64 = 1000 * 1000 / 8
	Gbps int64 = 1000 * 1000 * 1000 / 8
)

var (
	quantityPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([a-zA-Z/]*)\s*$`)

	sizeUnits = map[string]int64{
		"": B, "B": B,
		"K": KB, "KB": KB, "KI": KB, "KIB": KB,
		"M": MB, "MB": MB, "MI": MB, "MIB": MB,
		"G": GB, "GB": GB, "GI": GB, "GIB": GB,
		"T": TB, "TB": TB, "TI": TB, "TIB": TB,
	}

	// Bytes per second for one unit.
	rateUnits = map[string]float64{
		"bps":   1.0 / 8,
		"kbps":  float64(Kbps),
		"mbps":  float64(Mbps),
		"gbps":  float64(Gbps),
		"b/s":   float64(B),
		"kb/s":  float64(KB),
		"kib/s": float64(KB),
		"mb/s":  float64(MB),
		"mib/s": float64(MB),
		"gb/s":  float64(GB),
		"gib/s": float64(GB),
	}
)

func splitQuantity(kind, s string) (float64, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", fmt.Errorf("empty %s string", kind)
	}
	m := quantityPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, "", fmt.Errorf("invalid %s format: %q", kind, s)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid number: %q", m[1])
	}
	return v, m[2], nil
}

// Parse parses a size like "32KiB", "1.5GB" or "1024" into bytes.
// Units are binary and case-insensitive; a bare number is bytes.
func Parse(s string) (int64, error) {
	v, unit, err := splitQuantity("size", s)
	if err != nil {
		return 0, err
	}
	mult, ok := sizeUnits[strings.ToUpper(unit)]
	if !ok {
		return 0, fmt.Errorf("unknown unit: %q", unit)
	}
	return int64(v * float64(mult)), nil
}

// ParseRate parses a rate like "10MB/s" or "80mbps" into bytes per second.
// Bit rates use SI multipliers, byte rates use binary multipliers.
func ParseRate(s string) (int64, error) {
	v, unit, err := splitQuantity("rate", s)
	if err != nil {
		return 0, err
	}
	mult, ok := rateUnits[strings.ToLower(unit)]
	if !ok {
		return 0, fmt.Errorf("unknown rate unit: %q", unit)
	}
	return int64(v * mult), nil
}

// Format renders a byte count with the largest fitting binary unit.
func Format(bytes int64) string {
	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TiB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GiB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MiB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KiB", float64(bytes)/float64(KB))
	}
	return fmt.Sprintf("%d B", bytes)
}

// FormatRate renders bytes per second as a byte rate.
func FormatRate(bytesPerSec float64) string {
	switch {
	case bytesPerSec >= float64(GB):
		return fmt.Sprintf("%.2f GiB/s", bytesPerSec/float64(GB))
	case bytesPerSec >= float64(MB):
		return fmt.Sprintf("%.2f MiB/s", bytesPerSec/float64(MB))
	case bytesPerSec >= float64(KB):
		return fmt.Sprintf("%.2f KiB/s", bytesPerSec/float64(KB))
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}

// Size is a byte size that unmarshals from YAML as either a number of
// bytes or a string with units.
type Size int64

// UnmarshalYAML implements yaml.Unmarshaler for Size.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var i int64
	if err := unmarshal(&i); err == nil {
		*s = Size(i)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return fmt.Errorf("size must be a number or string with units (e.g. 32KiB)")
	}
	bytes, err := Parse(str)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", str, err)
	}
	*s = Size(bytes)
	return nil
}

// Bytes returns the size in bytes.
func (s Size) Bytes() int64 { return int64(s) }

func (s Size) String() string { return Format(int64(s)) }

// Rate is a byte rate that unmarshals from YAML as either a number of
// bytes per second or a string with rate units. An empty string is zero.
type Rate int64

// UnmarshalYAML implements yaml.Unmarshaler for Rate.
func (r *Rate) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var i int64
	if err := unmarshal(&i); err == nil {
		*r = Rate(i)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return fmt.Errorf("rate must be a number or string with units (e.g. 10MB/s)")
	}
	if strings.TrimSpace(str) == "" {
		*r = 0
		return nil
	}
	v, err := ParseRate(str)
	if err != nil {
		return fmt.Errorf("invalid rate %q: %w", str, err)
	}
	*r = Rate(v)
	return nil
}

// BytesPerSecond returns the rate as a float for comparisons.
func (r Rate) BytesPerSecond() float64 { return float64(r) }

func (r Rate) String() string { return FormatRate(float64(r)) }
