// Package calendar normalizes raw schedule text from the upstream document
// extraction into timestamps. The source portal renders dates as
// "dd/Mon/yyyy - hh:mm am/pm" with Spanish month abbreviations, often inside
// quoted blocks with several variants concatenated; the first parseable date
// wins.
package calendar

import (
	"regexp"
	"strings"
	"time"
)

var monthsES = map[string]string{
	"ene": "Jan", "feb": "Feb", "mar": "Mar", "abr": "Apr",
	"may": "May", "jun": "Jun", "jul": "Jul", "ago": "Aug",
	"sep": "Sep", "oct": "Oct", "nov": "Nov", "dic": "Dec",
}

var (
	dateTimeRe = regexp.MustCompile(`(?i)(\d{1,2})/([A-Za-z]{3})/(\d{4})\s*-\s*(\d{1,2}:\d{2})\s*(am|pm)`)
	dateOnlyRe = regexp.MustCompile(`(?i)(\d{1,2})/([A-Za-z]{3})/(\d{4})`)
)

// fallback layouts for already-normalized inputs.
var isoLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Normalize parses raw schedule text into a timestamp. Returns ok=false for
// empty or unparseable text; callers leave the fact's timestamp null in that
// case.
func Normalize(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	s = strings.NewReplacer(`"`, " ", "'", " ", "\n", " ", "\r", " ").Replace(s)

	if m := dateTimeRe.FindStringSubmatch(s); m != nil {
		if mon, ok := monthsES[strings.ToLower(m[2])]; ok {
			m[2] = mon
		}
		t, err := time.Parse("2/Jan/2006 3:04 pm", m[1]+"/"+m[2]+"/"+m[3]+" "+m[4]+" "+strings.ToLower(m[5]))
		if err == nil {
			return t, true
		}
	}

	if m := dateOnlyRe.FindStringSubmatch(s); m != nil {
		if mon, ok := monthsES[strings.ToLower(m[2])]; ok {
			m[2] = mon
		}
		t, err := time.Parse("2/Jan/2006", m[1]+"/"+m[2]+"/"+m[3])
		if err == nil {
			return t, true
		}
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
