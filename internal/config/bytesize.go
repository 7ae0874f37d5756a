package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a byte count that parses decimal suffixes kB/MB/GB/TB
// (each ×1000, per spec.md §4.H) from both YAML and flag values via a
// single TextUnmarshaler implementation.
type ByteSize int64

var byteSizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"TB", 1_000_000_000_000},
	{"GB", 1_000_000_000},
	{"MB", 1_000_000},
	{"kB", 1_000},
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	for _, suf := range byteSizeSuffixes {
		if strings.HasSuffix(s, suf.suffix) {
			numPart := strings.TrimSpace(strings.TrimSuffix(s, suf.suffix))
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return fmt.Errorf("config: invalid byte size %q: %w", s, err)
			}
			*b = ByteSize(n * float64(suf.mult))
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("config: invalid byte size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

// UnmarshalYAML implements yaml.v3's Unmarshaler via the scalar string.
func (b *ByteSize) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return b.UnmarshalText([]byte(s))
}

// String renders the size with the largest suffix that divides evenly,
// used for log/statistics output.
func (b ByteSize) String() string {
	v := int64(b)
	for _, suf := range byteSizeSuffixes {
		if v != 0 && v%suf.mult == 0 {
			return fmt.Sprintf("%d%s", v/suf.mult, suf.suffix)
		}
	}
	return fmt.Sprintf("%dB", v)
}

// Set implements pflag.Value so ByteSize can be used directly as a flag
// type.
func (b *ByteSize) Set(s string) error {
	return b.UnmarshalText([]byte(s))
}

// Type implements pflag.Value.
func (b *ByteSize) Type() string { return "byteSize" }
