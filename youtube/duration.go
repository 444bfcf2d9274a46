package youtube

import (
	"fmt"
	"regexp"
	"strconv"
)

// ShortMaxSeconds is the longest duration classified as a short.
const ShortMaxSeconds = 60

// VideoType is the duration-based classification stored in the type taxonomy.
type VideoType string

const (
	TypeShort VideoType = "short"
	TypeVideo VideoType = "video"
)

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseDuration converts an ISO-8601 content duration such as "PT1H2M3S" or
// "P1DT2H" to whole seconds.
func ParseDuration(iso string) (int, error) {
	m := isoDuration.FindStringSubmatch(iso)
	if m == nil || iso == "P" || iso == "PT" || (len(iso) > 0 && iso[len(iso)-1] == 'T') {
		return 0, fmt.Errorf("youtube: invalid duration %q", iso)
	}
	units := [4]int{24 * 3600, 3600, 60, 1}
	total := 0
	for i, mult := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("youtube: invalid duration %q: %w", iso, err)
		}
		total += n * mult
	}
	return total, nil
}

// DurationSeconds is ParseDuration with unparsable input read as 0 seconds.
// Callers classifying the result get TypeShort for such input.
func DurationSeconds(iso string) int {
	s, err := ParseDuration(iso)
	if err != nil {
		return 0
	}
	return s
}

// FormatDuration renders an ISO-8601 duration as "1:23:45" or "12:34".
func FormatDuration(iso string) string {
	s := DurationSeconds(iso)
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// Classify returns TypeShort for durations up to ShortMaxSeconds, TypeVideo otherwise.
func Classify(seconds int) VideoType {
	if seconds <= ShortMaxSeconds {
		return TypeShort
	}
	return TypeVideo
}
