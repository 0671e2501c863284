// Package duration extracts short hour/minute durations ("1 hr, 30 min",
// "45 minutes", "2h 45m") from free-text status messages.
package duration

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Duration is a parsed duration. At least one of Hours or Minutes is nonzero.
type Duration struct {
	Hours        int `json:"hours"`
	Minutes      int `json:"minutes"`
	TotalMinutes int `json:"totalMinutes"`
}

// String renders the duration in the compact "1h 5m" form.
func (d Duration) String() string {
	if d.Hours > 0 {
		return fmt.Sprintf("%dh %dm", d.Hours, d.Minutes)
	}
	return fmt.Sprintf("%dm", d.Minutes)
}

type unit int

const (
	unitNone unit = iota
	unitHour
	unitMinute
)

var unitSpellings = map[string]unit{
	"h":       unitHour,
	"hr":      unitHour,
	"hrs":     unitHour,
	"hour":    unitHour,
	"hours":   unitHour,
	"m":       unitMinute,
	"min":     unitMinute,
	"mins":    unitMinute,
	"minute":  unitMinute,
	"minutes": unitMinute,
}

// component is a number immediately followed (modulo whitespace) by a unit word.
type component struct {
	value      int
	unit       unit
	start, end int
}

// separator is what may sit between an hour and a minute component.
var separator = regexp.MustCompile(`(?i)^,?\s*(?:and\s*)?$`)

// MaxMinutes is the longest duration, in minutes, that still fits a
// time.Duration. Longer phrases are not treated as durations.
const MaxMinutes = math.MaxInt64 / int64(time.Minute)

// Parse returns the first duration found in text.
func Parse(text string) (Duration, bool) {
	d, _, _, ok := Find(text)
	return d, ok
}

// Find returns the first duration in text together with the byte span of the
// phrase it was parsed from. An hour component followed by a minute component
// (optionally joined by a comma and/or "and") forms one phrase. Phrases that
// resolve to zero or exceed MaxMinutes are skipped.
func Find(text string) (Duration, int, int, bool) {
	comps := scan(text)
	for i := 0; i < len(comps); i++ {
		c := comps[i]
		var d Duration
		start, end := c.start, c.end

		switch c.unit {
		case unitHour:
			d.Hours = c.value
			if i+1 < len(comps) {
				next := comps[i+1]
				if next.unit == unitMinute && separator.MatchString(text[c.end:next.start]) {
					d.Minutes = next.value
					end = next.end
					i++
				}
			}
		case unitMinute:
			d.Minutes = c.value
		}

		if d.Hours == 0 && d.Minutes == 0 {
			continue
		}
		if int64(d.Hours) > MaxMinutes/60 || int64(d.Hours)*60+int64(d.Minutes) > MaxMinutes {
			continue
		}
		d.TotalMinutes = d.Hours*60 + d.Minutes
		return d, start, end, true
	}
	return Duration{}, 0, 0, false
}

// scan tokenizes text into number+unit components. A unit word only counts
// when the whole letter run after the number is one of the known spellings,
// so "5 meetings" or "3 hamsters" produce nothing.
func scan(text string) []component {
	var comps []component
	i := 0
	for i < len(text) {
		if !isDigit(text[i]) {
			i++
			continue
		}

		j := i
		for j < len(text) && isDigit(text[j]) {
			j++
		}
		k := j
		for k < len(text) && isSpace(text[k]) {
			k++
		}
		l := k
		for l < len(text) {
			r, size := utf8.DecodeRuneInString(text[l:])
			if !unicode.IsLetter(r) {
				break
			}
			l += size
		}

		u := unitSpellings[strings.ToLower(text[k:l])]
		value, err := strconv.Atoi(text[i:j])
		if u != unitNone && err == nil {
			comps = append(comps, component{value: value, unit: u, start: i, end: l})
			i = l
			continue
		}
		i = j
	}
	return comps
}

var (
	emptyParens   = regexp.MustCompile(`\(\s*[,;]?\s*\)`)
	spaceRun      = regexp.MustCompile(`\s+`)
	danglingWords = regexp.MustCompile(`(?i)(?:\s+(?:in|for|about|arriving))+$`)
)

// Strip removes the duration phrase from text, along with the parentheses or
// separators left dangling around it. Text without a duration is only
// whitespace-normalized.
func Strip(text string) string {
	out := text
	for {
		_, start, end, ok := Find(out)
		if !ok {
			break
		}
		out = out[:start] + out[end:]
	}
	out = emptyParens.ReplaceAllString(out, "")
	out = spaceRun.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	for {
		trimmed := strings.TrimRight(out, " ,;:-–—")
		trimmed = danglingWords.ReplaceAllString(trimmed, "")
		if trimmed == out {
			break
		}
		out = trimmed
	}
	return strings.TrimLeft(out, " ,;:-–—")
}

// TargetTime is the moment d elapses, counted from now. Totals beyond
// MaxMinutes are clamped.
func TargetTime(now time.Time, d Duration) time.Time {
	total := min(max(int64(d.TotalMinutes), 0), MaxMinutes)
	return now.Add(time.Duration(total) * time.Minute)
}

// FormatRemaining renders the time left until target as "1h 5m" or "5m",
// or "Arrived!" once target has passed.
func FormatRemaining(target, now time.Time) string {
	diff := target.Sub(now)
	if diff <= 0 {
		return "Arrived!"
	}
	total := int(diff / time.Minute)
	return Duration{Hours: total / 60, Minutes: total % 60}.String()
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
