// Package dates normalizes the heterogeneous publication dates found on news
// listing pages into a single "YYYY-MM-DD HH:MM:SS" representation.
//
// Source configurations describe their date format in the PHP date() token
// syntax (for example "F j, Y" or "Y-m-d\TH:i:sP"). Formats are translated
// to Go layouts on first use. A configured format that already contains the
// Go reference year "2006" is used as a Go layout unchanged.
package dates

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pevans/newsagg/logger"
)

// Layout is the normalized output layout.
const Layout = "2006-01-02 15:04:05"

// Aliases are the date formats sources commonly configure, with their Go
// layouts spelled out.
var Aliases = map[string]string{
	"F j, Y": "January 2, 2006",
	"M j, Y": "Jan 2, 2006",
	"Y-m-d":  "2006-1-2",
	"j M Y":  "2 Jan 2006",
}

// Fallbacks is the ordered list of formats tried when the configured format
// is missing or fails. The first format that parses wins.
var Fallbacks = []string{
	`Y-m-d\TH:i:sP`,
	`Y-m-d\TH:i:s`,
	`Y-m-d H:i:s`,
	`F j, Y`,
	`M j, Y`,
	`Y-m-d`,
	`m/d/Y`,
	`d/m/Y`,
	`j F Y`,
	`j M Y`,
	`jS M Y`,
	`Y-m-d\TH:i:s.v\Z`,
}

var ordinalSuffix = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)\b`)

// layout is a translated format.
type layout struct {
	value   string
	hasYear bool
	// ordinal is set when the format expects an ordinal suffix (PHP "S").
	// The suffix is stripped from the input before parsing.
	ordinal bool
}

var layouts sync.Map // format -> layout

func layoutFor(format string) layout {
	if cached, ok := layouts.Load(format); ok {
		return cached.(layout)
	}

	var l layout
	switch {
	case Aliases[format] != "":
		l = layout{value: Aliases[format], hasYear: true}
	case strings.Contains(format, "2006"):
		l = layout{value: format, hasYear: true}
	default:
		l = translate(format)
	}

	layouts.Store(format, l)
	return l
}

// phpTokens maps PHP date() format characters to Go layout elements. The
// parse-lenient variants are used where Go has them, so "5" and "05" are
// both accepted for a day or month.
var phpTokens = map[byte]string{
	'd': "2",
	'j': "2",
	'D': "Mon",
	'l': "Monday",
	'm': "1",
	'n': "1",
	'M': "Jan",
	'F': "January",
	'Y': "2006",
	'y': "06",
	'H': "15",
	'G': "15",
	'h': "3",
	'g': "3",
	'i': "04",
	's': "05",
	'v': "000",
	'u': "000000",
	'A': "PM",
	'a': "pm",
	'P': "Z07:00",
	'p': "Z07:00",
	'O': "-0700",
	'T': "MST",
}

// translate converts a PHP date() format into a Go layout. A backslash
// escapes the following character. Characters with no mapping are copied
// literally.
func translate(format string) layout {
	var (
		b strings.Builder
		l layout
	)

	for i := 0; i < len(format); i++ {
		c := format[i]
		switch {
		case c == '\\' && i+1 < len(format):
			i++
			b.WriteByte(format[i])
		case c == 'S':
			l.ordinal = true
		case c == 'Y' || c == 'y':
			l.hasYear = true
			b.WriteString(phpTokens[c])
		default:
			if tok, ok := phpTokens[c]; ok {
				b.WriteString(tok)
			} else {
				b.WriteByte(c)
			}
		}
	}

	l.value = b.String()
	return l
}

// parseWith parses text with one format. Times without an explicit zone are
// interpreted in now's location, and formats without a year take now's year.
func parseWith(text, format string, now time.Time) (time.Time, bool) {
	l := layoutFor(format)
	if l.ordinal {
		text = ordinalSuffix.ReplaceAllString(text, "$1")
	}

	t, err := time.ParseInLocation(l.value, text, now.Location())
	if err != nil {
		return time.Time{}, false
	}

	if !l.hasYear {
		t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	}
	return t, true
}

// Parse parses raw using the preferred format first, then each of the
// Fallbacks in order. It reports false when nothing matches.
func Parse(raw, preferred string, now time.Time) (time.Time, bool) {
	text := strings.Join(strings.Fields(raw), " ")
	if text == "" {
		return time.Time{}, false
	}

	if preferred != "" {
		if t, ok := parseWith(text, preferred, now); ok {
			return t, true
		}
	}

	for _, format := range Fallbacks {
		if format == preferred {
			continue
		}
		if t, ok := parseWith(text, format, now); ok {
			return t, true
		}
	}

	return time.Time{}, false
}

// Normalizer turns raw date text into the normalized layout, falling back to
// the current time when the text cannot be parsed.
type Normalizer struct {
	log logger.Logger
	now func() time.Time
}

// NewNormalizer creates a Normalizer. A nil now uses time.Now.
func NewNormalizer(log logger.Logger, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{log: logger.OrNop(log), now: now}
}

// Normalize returns raw formatted with Layout, or the current time formatted
// with Layout when raw is empty or unparseable. The boolean reports whether
// raw was parsed.
func (n *Normalizer) Normalize(raw, preferred string) (string, bool) {
	now := n.now()
	if strings.TrimSpace(raw) == "" {
		return now.Format(Layout), false
	}

	t, ok := Parse(raw, preferred, now)
	if !ok {
		n.log.Warn("Could not parse date",
			logger.String("date", raw),
			logger.String("format", preferred),
		)
		return now.Format(Layout), false
	}

	return t.Format(Layout), true
}

// Format formats t with Layout.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// ParseStored parses a date previously written with Layout. Stored dates
// carry no zone and are read in loc.
func ParseStored(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(Layout, strings.TrimSpace(s), loc)
}
