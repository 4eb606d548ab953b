// Package bytesize parses and formats human-readable byte sizes.
// Units are binary (1KB = 1024B) and case-insensitive; IEC spellings
// (KiB, MiB, ...) are accepted as aliases.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	B  Size = 1
	KB Size = 1 << 10
	MB Size = 1 << 20
	GB Size = 1 << 30
	TB Size = 1 << 40
	PB Size = 1 << 50
)

// units lists the recognized suffixes, largest first so Format picks
// the biggest unit that fits.
var units = []struct {
	names  []string
	factor Size
}{
	{[]string{"pb", "pib", "p"}, PB},
	{[]string{"tb", "tib", "t"}, TB},
	{[]string{"gb", "gib", "g"}, GB},
	{[]string{"mb", "mib", "m"}, MB},
	{[]string{"kb", "kib", "k"}, KB},
	{[]string{"bytes", "byte", "b"}, B},
}

// Parse converts a string like "5MB", "1.5 GB" or "1024" to a Size.
// A bare number is a byte count.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	lower := strings.ToLower(trimmed)
	for _, unit := range units {
		for _, name := range unit.names {
			if !strings.HasSuffix(lower, name) {
				continue
			}
			num := strings.TrimSpace(strings.TrimSuffix(lower, name))
			if num == "" {
				return 0, fmt.Errorf("bytesize: missing value in %q", s)
			}
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("bytesize: invalid value %q", s)
			}
			if f < 0 {
				return 0, fmt.Errorf("bytesize: negative size %q", s)
			}
			return Size(f * float64(unit.factor)), nil
		}
	}

	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bytesize: invalid size %q", s)
	}
	return Size(n), nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format renders a Size with the largest unit that fits, keeping up to
// two decimals for non-whole values.
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}
	neg := ""
	if s < 0 {
		neg, s = "-", -s
	}
	for _, unit := range units {
		if s < unit.factor {
			continue
		}
		v := float64(s) / float64(unit.factor)
		suffix := strings.ToUpper(unit.names[len(unit.names)-1])
		if unit.factor > B {
			suffix += "B"
		}
		if v == float64(int64(v)) {
			return fmt.Sprintf("%s%d%s", neg, int64(v), suffix)
		}
		rendered := strconv.FormatFloat(v, 'f', 2, 64)
		rendered = strings.TrimRight(rendered, "0")
		rendered = strings.TrimRight(rendered, ".")
		return neg + rendered + suffix
	}
	return fmt.Sprintf("%s%dB", neg, int64(s))
}

// Bytes returns the size as a plain int64.
func (s Size) Bytes() int64 { return int64(s) }

func (s Size) String() string { return Format(s) }
