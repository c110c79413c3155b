// Package transfer moves binary files over the link as base64 text lines and
// rebuilds them from possibly incomplete line streams.
//
// A transfer is one start line, one line per segment and one end line:
//
//	<START IMG> filename: a.jpg, timestamp: 2025-06-01T12:00:00Z, length: 3
//	<I0>/9j/4AAQ...
//	<I1>...
//	<I2>...
//	<END IMG>
package transfer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	KindImage = "IMG"
	KindVideo = "VID"
)

var (
	startRe   = regexp.MustCompile(`<START\s+([A-Za-z0-9_]+)>`)
	endRe     = regexp.MustCompile(`<END\s+([A-Za-z0-9_]+)>`)
	segmentRe = regexp.MustCompile(`<I(\d+)>`)

	filenameRe  = regexp.MustCompile(`(?i)\bfilename\s*:\s*([^,\s]+)`)
	timestampRe = regexp.MustCompile(`(?i)\btimestamp\s*:\s*([^,]*[^,\s])`)
	countRe     = regexp.MustCompile(`(?i)\b(?:length|len|buffers?|chunks)\s*:\s*(\d+)`)

	nonBase64Re = regexp.MustCompile(`[^A-Za-z0-9+/=]`)
)

// StartLine formats a start marker.
func StartLine(kind, filename string, ts time.Time, count int) string {
	return fmt.Sprintf("<START %s> filename: %s, timestamp: %s, length: %d\n",
		kind, filename, ts.UTC().Format(time.RFC3339), count)
}

// SegmentLine formats one tagged segment.
func SegmentLine(index int, segment string) string {
	return fmt.Sprintf("<I%d>%s\n", index, segment)
}

// EndLine formats an end marker.
func EndLine(kind string) string {
	return fmt.Sprintf("<END %s>\n", kind)
}

// Metadata is what a start line (or a later line) says about a transfer.
// Each field is independently optional.
type Metadata struct {
	Filename  string
	Timestamp string
	Count     int
	HasCount  bool
}

func (m Metadata) empty() bool {
	return m.Filename == "" && m.Timestamp == "" && !m.HasCount
}

// merge fills fields of m that are still unset from o.
func (m *Metadata) merge(o Metadata) {
	if m.Filename == "" {
		m.Filename = o.Filename
	}
	if m.Timestamp == "" {
		m.Timestamp = o.Timestamp
	}
	if !m.HasCount && o.HasCount {
		m.Count, m.HasCount = o.Count, true
	}
}

// ParseMetadata extracts filename, timestamp and segment count from line in
// any order. It reports false when none of them is present.
func ParseMetadata(line string) (Metadata, bool) {
	var m Metadata
	if g := filenameRe.FindStringSubmatch(line); g != nil {
		m.Filename = g[1]
	}
	if g := timestampRe.FindStringSubmatch(line); g != nil {
		m.Timestamp = g[1]
	}
	if g := countRe.FindStringSubmatch(line); g != nil {
		if n, err := strconv.Atoi(g[1]); err == nil {
			m.Count, m.HasCount = n, true
		}
	}
	return m, !m.empty()
}

type lineKind int

const (
	lineOther lineKind = iota
	lineStart
	lineSegment
	lineEnd
)

type parsedLine struct {
	kind    lineKind
	tag     string // transfer kind for start/end
	index   int
	content string
}

func classify(line string) parsedLine {
	if g := startRe.FindStringSubmatch(line); g != nil {
		return parsedLine{kind: lineStart, tag: strings.ToUpper(g[1])}
	}
	if loc := segmentRe.FindStringSubmatchIndex(line); loc != nil {
		idx, err := strconv.Atoi(line[loc[2]:loc[3]])
		if err == nil {
			return parsedLine{kind: lineSegment, index: idx, content: cleanBase64(line[loc[1]:])}
		}
	}
	if g := endRe.FindStringSubmatch(line); g != nil {
		return parsedLine{kind: lineEnd, tag: strings.ToUpper(g[1])}
	}
	return parsedLine{kind: lineOther}
}

func cleanBase64(s string) string {
	return nonBase64Re.ReplaceAllString(s, "")
}
