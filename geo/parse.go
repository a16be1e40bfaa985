package geo

import (
	"log/slog"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const tagPrefix = "[LOC:"

// Tag is one well-formed annotation found in a text, with its byte span.
type Tag struct {
	Point
	Start int
	End   int
}

// Tags scans text for annotations. A candidate that fails to parse is skipped
// and scanning resumes right after its opening bracket, so a malformed tag
// never hides a later one.
func Tags(text string) []Tag {
	var tags []Tag
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], tagPrefix)
		if j < 0 {
			break
		}
		start := i + j
		tag, reason := scanTag(text, start)
		if reason != "" {
			slog.Debug("geo: skipping malformed tag", "offset", start, "reason", reason)
			i = start + 1
			continue
		}
		tags = append(tags, tag)
		i = tag.End
	}
	return tags
}

// Parse returns the points of every well-formed tag in text, left to right.
// Duplicates are kept.
func Parse(text string) []Point {
	tags := Tags(text)
	if len(tags) == 0 {
		return nil
	}
	points := make([]Point, len(tags))
	for i, t := range tags {
		points[i] = t.Point
	}
	return points
}

// Strip removes every well-formed tag from text and keeps all other bytes
// verbatim. Removing a tag can join fragments into a new tag, so Strip repeats
// until nothing is left to parse.
func Strip(text string) string {
	for {
		tags := Tags(text)
		if len(tags) == 0 {
			return text
		}
		var b strings.Builder
		b.Grow(len(text))
		last := 0
		for _, t := range tags {
			b.WriteString(text[last:t.Start])
			last = t.End
		}
		b.WriteString(text[last:])
		text = b.String()
	}
}

// scanTag reads one tag starting at the '[' at start. On failure it returns
// a short reason instead of a tag.
func scanTag(text string, start int) (Tag, string) {
	pos := start + len(tagPrefix)

	// The name runs up to the first '|'; a ']' before it closes the bracket
	// early.
	sep := strings.IndexAny(text[pos:], "|]")
	if sep < 0 || text[pos+sep] == ']' {
		return Tag{}, "missing name separator"
	}
	name := strings.TrimSpace(text[pos : pos+sep])
	if name == "" {
		return Tag{}, "blank name"
	}
	pos += sep + 1

	pos = skipSpace(text, pos)
	lat, pos, ok := scanNumber(text, pos)
	if !ok {
		return Tag{}, "bad latitude"
	}
	pos = skipSpace(text, pos)
	if pos >= len(text) || text[pos] != ',' {
		return Tag{}, "missing coordinate separator"
	}
	pos = skipSpace(text, pos+1)
	lng, pos, ok := scanNumber(text, pos)
	if !ok {
		return Tag{}, "bad longitude"
	}
	pos = skipSpace(text, pos)
	if pos >= len(text) || text[pos] != ']' {
		return Tag{}, "missing closing bracket"
	}

	return Tag{
		Point: Point{Name: name, Lat: lat, Lng: lng},
		Start: start,
		End:   pos + 1,
	}, ""
}

// scanNumber accepts -?digits.digits, the only coordinate shape the
// assistant is asked to produce.
func scanNumber(text string, pos int) (float64, int, bool) {
	start := pos
	if pos < len(text) && text[pos] == '-' {
		pos++
	}
	intStart := pos
	pos = skipDigits(text, pos)
	if pos == intStart || pos >= len(text) || text[pos] != '.' {
		return 0, start, false
	}
	pos++
	fracStart := pos
	pos = skipDigits(text, pos)
	if pos == fracStart {
		return 0, start, false
	}
	v, err := strconv.ParseFloat(text[start:pos], 64)
	if err != nil {
		return 0, start, false
	}
	return v, pos, true
}

func skipDigits(text string, pos int) int {
	for pos < len(text) && text[pos] >= '0' && text[pos] <= '9' {
		pos++
	}
	return pos
}

func skipSpace(text string, pos int) int {
	for pos < len(text) {
		r, size := utf8.DecodeRuneInString(text[pos:])
		if !unicode.IsSpace(r) {
			break
		}
		pos += size
	}
	return pos
}
