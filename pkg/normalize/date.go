package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var absoluteLayouts = []string{
	"2006-01-02",
	"2006-01",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"January 2006",
	"Jan 2006",
	"2006",
}

var relativePhrases = map[string]func(anchor time.Time) time.Time{
	"today":      func(a time.Time) time.Time { return a },
	"yesterday":  func(a time.Time) time.Time { return a.AddDate(0, 0, -1) },
	"last week":  func(a time.Time) time.Time { return a.AddDate(0, 0, -7) },
	"last month": func(a time.Time) time.Time { return a.AddDate(0, -1, 0) },
	"last year":  func(a time.Time) time.Time { return a.AddDate(-1, 0, 0) },
	"this year":  func(a time.Time) time.Time { return a },
	"this month": func(a time.Time) time.Time { return a },
}

var inPhrasePattern = regexp.MustCompile(`(?i)^(?:in|on|during|since)\s+(.+)$`)

// ParseDate parses an absolute or relative calendar date. Relative phrases
// ("last month") require an anchor, normally the publication date of the
// source span; without one they fail and the caller degrades gracefully.
// Results are truncated to day precision in UTC.
func ParseDate(text string, anchor *time.Time) (*time.Time, error) {
	cleaned := strings.TrimSpace(text)
	if m := inPhrasePattern.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	}
	if cleaned == "" {
		return nil, errors.New("empty date string")
	}

	if fn, ok := relativePhrases[strings.ToLower(cleaned)]; ok {
		if anchor == nil {
			return nil, errors.Errorf("relative date %q without publication date anchor", text)
		}
		resolved := day(fn(*anchor))
		return &resolved, nil
	}

	for _, layout := range absoluteLayouts {
		if parsed, err := time.Parse(layout, cleaned); err == nil {
			resolved := day(parsed)
			return &resolved, nil
		}
	}
	return nil, errors.Errorf("unparsable date %q", text)
}

var dateFindPattern = regexp.MustCompile(
	`(?i)\b(?:\d{4}-\d{2}(?:-\d{2})?|` +
		`(?:january|february|march|april|may|june|july|august|september|october|november|december|` +
		`jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec)\s+(?:\d{1,2},\s+)?\d{4}|` +
		`last\s+(?:week|month|year)|yesterday)\b`)

// FindDate scans free text for the first parsable date expression. Returns
// nil when nothing in the text parses.
func FindDate(text string, anchor *time.Time) *time.Time {
	for _, match := range dateFindPattern.FindAllString(text, -1) {
		if date, err := ParseDate(match, anchor); err == nil {
			return date
		}
	}
	return nil
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
