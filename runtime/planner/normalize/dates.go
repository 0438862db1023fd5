package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout of each end of a canonical date range.
const DateLayout = "2006-01-02"

// rangeSep separates the two ends of a canonical date range.
const rangeSep = " to "

// DateRange is a normalized travel window.
type DateRange struct {
	// Start and End are set when the range was recognized.
	Start, End time.Time
	// Flexible marks a window with no fixed dates.
	Flexible bool
	// Raw holds the original text when the input could not be recognized.
	Raw string
}

var (
	flexibleMarkers = []string{FlexibleToken, "any time", "anytime", "no preferred date"}

	monthDayRange = regexp.MustCompile(
		`([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\s*(?:to|-|until|till)\s*(?:([a-z]+)\.?\s+)?(\d{1,2})(?:st|nd|rd|th)?`)

	months = map[string]time.Month{
		"january": time.January, "jan": time.January,
		"february": time.February, "feb": time.February,
		"march": time.March, "mar": time.March,
		"april": time.April, "apr": time.April,
		"may":  time.May,
		"june": time.June, "jun": time.June,
		"july": time.July, "jul": time.July,
		"august": time.August, "aug": time.August,
		"september": time.September, "sep": time.September, "sept": time.September,
		"october": time.October, "oct": time.October,
		"november": time.November, "nov": time.November,
		"december": time.December, "dec": time.December,
	}
)

// FlexibleRange returns the flexible sentinel.
func FlexibleRange() DateRange { return DateRange{Flexible: true} }

// Recognized reports whether the range is either flexible or a parsed pair
// of dates.
func (d DateRange) Recognized() bool {
	return d.Flexible || !d.Start.IsZero()
}

// String renders "YYYY-MM-DD to YYYY-MM-DD", "flexible", or the original
// text when the input was not recognized.
func (d DateRange) String() string {
	switch {
	case d.Flexible:
		return FlexibleToken
	case d.Start.IsZero():
		return d.Raw
	default:
		return d.Start.Format(DateLayout) + rangeSep + d.End.Format(DateLayout)
	}
}

// Nights is the number of nights between Start and End, never negative.
func (d DateRange) Nights() int {
	if d.Flexible || d.Start.IsZero() {
		return 0
	}
	return max(0, int(d.End.Sub(d.Start).Hours()/24))
}

// Err returns ErrUnrecognizedDateRange for unrecognized input, nil otherwise.
func (d DateRange) Err() error {
	if d.Recognized() {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnrecognizedDateRange, d.Raw)
}

// ParseDateRange normalizes a travel window. Flexibility markers yield the
// flexible sentinel; "august 5th to 6th" style input resolves against year;
// canonical ranges are parsed as-is. Anything else is returned unrecognized
// with Raw set to the input unchanged.
func ParseDateRange(text string, year int) DateRange {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return FlexibleRange()
	}
	for _, m := range flexibleMarkers {
		if strings.Contains(lower, m) {
			return FlexibleRange()
		}
	}
	if d, ok := ParseCanonicalRange(lower); ok {
		return d
	}
	for _, m := range monthDayRange.FindAllStringSubmatch(lower, -1) {
		startMonth, ok := months[m[1]]
		if !ok {
			continue
		}
		endMonth := startMonth
		if m[3] != "" {
			if endMonth, ok = months[m[3]]; !ok {
				continue
			}
		}
		start, ok1 := civilDate(year, startMonth, m[2])
		end, ok2 := civilDate(year, endMonth, m[4])
		if !ok1 || !ok2 {
			continue
		}
		if end.Before(start) && endMonth < startMonth {
			end = end.AddDate(1, 0, 0)
		}
		return DateRange{Start: start, End: end}
	}
	return DateRange{Raw: text}
}

// ParseCanonicalRange parses "YYYY-MM-DD to YYYY-MM-DD".
func ParseCanonicalRange(s string) (DateRange, bool) {
	a, b, found := strings.Cut(strings.TrimSpace(s), rangeSep)
	if !found {
		return DateRange{}, false
	}
	start, err := time.Parse(DateLayout, strings.TrimSpace(a))
	if err != nil {
		return DateRange{}, false
	}
	end, err := time.Parse(DateLayout, strings.TrimSpace(b))
	if err != nil {
		return DateRange{}, false
	}
	return DateRange{Start: start, End: end}, true
}

// Nights returns the number of nights in a canonical range, floored at 0.
// Malformed input yields 0.
func Nights(canonical string) int {
	d, ok := ParseCanonicalRange(canonical)
	if !ok {
		return 0
	}
	return d.Nights()
}

func civilDate(year int, month time.Month, day string) (time.Time, bool) {
	n, err := strconv.Atoi(day)
	if err != nil || n < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, month, n, 0, 0, 0, 0, time.UTC)
	if t.Day() != n {
		return time.Time{}, false
	}
	return t, true
}
