package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration parses space-separated "<N>y <N>d <N>h <N>m <N>s" tokens, per
// spec.md §4.H, and original_source/src/settings.cpp's Duration YAML
// converter.
type Duration time.Duration

var durationUnits = map[byte]time.Duration{
	'y': 365 * 24 * time.Hour,
	'd': 24 * time.Hour,
	'h': time.Hour,
	'm': time.Minute,
	's': time.Second,
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}

	var total time.Duration
	for _, tok := range strings.Fields(s) {
		if len(tok) < 2 {
			return fmt.Errorf("config: invalid duration token %q", tok)
		}
		unit, ok := durationUnits[tok[len(tok)-1]]
		if !ok {
			return fmt.Errorf("config: unknown duration unit in %q", tok)
		}
		n, err := strconv.ParseInt(tok[:len(tok)-1], 10, 64)
		if err != nil {
			return fmt.Errorf("config: invalid duration token %q: %w", tok, err)
		}
		total += time.Duration(n) * unit
	}

	*d = Duration(total)
	return nil
}

// UnmarshalYAML implements yaml.v3's Unmarshaler via the scalar string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Duration converts to a stdlib time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Set implements pflag.Value.
func (d *Duration) Set(s string) error { return d.UnmarshalText([]byte(s)) }

// Type implements pflag.Value.
func (d *Duration) Type() string { return "duration" }

// String implements pflag.Value / fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }
