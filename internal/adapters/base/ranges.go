package base

import (
	"fmt"

	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/valuemap"
)

// Ranges returns defaults with the configured overrides applied. An
// override for a point without a default range is an error, as is an
// invalid range; both are fatal at startup.
func Ranges(overrides map[string]config.RangeConfig, defaults map[string]valuemap.Range) (map[string]valuemap.Range, error) {
	out := make(map[string]valuemap.Range, len(defaults))
	for point, r := range defaults {
		out[point] = r
	}

	for point, rc := range overrides {
		if _, ok := defaults[point]; !ok {
			return nil, fmt.Errorf("range for %q: point has no native range", point)
		}
		rounding, err := valuemap.ParseRounding(rc.Rounding)
		if err != nil {
			return nil, fmt.Errorf("range for %q: %w", point, err)
		}
		r, err := valuemap.NewRange(rc.Min, rc.Max, rounding)
		if err != nil {
			return nil, fmt.Errorf("range for %q: %w", point, err)
		}
		out[point] = r
	}
	return out, nil
}
