// Package lyrics parses timestamp-tagged (LRC style) lyrics for sync highlighting.
//
// Accepted lines contain "[mm:ss.xx]text" or "[mm:ss.xxx]text". A two digit
// fraction is read as hundredths, so ".12" and ".120" are the same instant.
// Everything else is ignored. All functions are pure.
package lyrics

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// groupTolerance is the largest time delta (seconds) still considered the same timestamp
const groupTolerance = 0.01

// The tag may appear anywhere in the line; text before it is dropped.
var lineRe = regexp.MustCompile(`\[(\d{2}):(\d{2})\.(\d{2,3})\](.*)`)

// Line is a single timed lyric line
type Line struct {
	Time float64 `json:"time"`
	Text string  `json:"text"`
}

// GroupedLine holds every text variant sharing one timestamp, in source order
type GroupedLine struct {
	Time  float64  `json:"time"`
	Texts []string `json:"texts"`
}

// DualLine is an original/translation pair for bilingual display
type DualLine struct {
	Time        float64 `json:"time"`
	Original    string  `json:"original"`
	Translation string  `json:"translation"`
}

// ParseLines returns every non-empty timed line sorted by time.
// Lines with equal timestamps keep their source order.
func ParseLines(text string) []Line {
	var lines []Line

	for _, raw := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		m := lineRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}

		body := strings.TrimSpace(m[4])
		if body == "" {
			continue
		}

		lines = append(lines, Line{Time: timestamp(m[1], m[2], m[3]), Text: body})
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Time < lines[j].Time
	})
	return lines
}

// timestamp converts the captured fields to seconds; the fraction is padded to milliseconds
func timestamp(min, sec, frac string) float64 {
	minutes, _ := strconv.Atoi(min)
	seconds, _ := strconv.Atoi(sec)
	for len(frac) < 3 {
		frac += "0"
	}
	millis, _ := strconv.Atoi(frac)
	return float64(minutes*60+seconds) + float64(millis)/1000
}

// Parse groups lines whose timestamps differ by less than 10ms.
// The output is sorted ascending and each group keeps source order.
func Parse(text string) []GroupedLine {
	var groups []GroupedLine

	for _, line := range ParseLines(text) {
		if n := len(groups); n > 0 && line.Time-groups[n-1].Time < groupTolerance {
			groups[n-1].Texts = append(groups[n-1].Texts, line.Text)
			continue
		}
		groups = append(groups, GroupedLine{Time: line.Time, Texts: []string{line.Text}})
	}

	return groups
}

// ParseDual pairs each timestamp group into original and translation.
// A group with a single text mirrors it into the translation; texts beyond
// the second one are not represented.
func ParseDual(text string) []DualLine {
	groups := Parse(text)
	dual := make([]DualLine, 0, len(groups))

	for _, g := range groups {
		d := DualLine{Time: g.Time, Original: g.Texts[0], Translation: g.Texts[0]}
		if len(g.Texts) >= 2 {
			d.Translation = g.Texts[1]
		}
		dual = append(dual, d)
	}

	return dual
}

// CurrentIndex returns the index of the line active at time t, or -1 before the first line
func CurrentIndex(lines []Line, t float64) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if t >= lines[i].Time {
			return i
		}
	}
	return -1
}

// CurrentGroup is CurrentIndex for grouped lines
func CurrentGroup(groups []GroupedLine, t float64) int {
	for i := len(groups) - 1; i >= 0; i-- {
		if t >= groups[i].Time {
			return i
		}
	}
	return -1
}

// NextTime returns the start time of the line after index i
func NextTime(lines []Line, i int) (float64, bool) {
	if i >= 0 && i < len(lines)-1 {
		return lines[i+1].Time, true
	}
	return 0, false
}
