package actions

import (
	"strings"
	"time"
)

// MaxScanBytes bounds how much of a reply the extractor scans for
// tags. Replies are normally a few hundred bytes; anything past the
// cap is passed through untouched.
const MaxScanBytes = 64 * 1024

const tagPrefix = "[ACTION:"

// Extract pulls action tags out of a model reply. Tags have the form
// [ACTION:TYPE] or [ACTION:TYPE:DATA] where TYPE is one or more
// uppercase letters or underscores and DATA is any text up to the
// closing bracket. The returned text has all tags removed and runs of
// whitespace collapsed to single spaces. Malformed tags are left in
// place as ordinary text. Extract is idempotent on its own output.
func Extract(reply string) (string, []Action) {
	scan := reply
	var tail string
	if len(scan) > MaxScanBytes {
		scan, tail = scan[:MaxScanBytes], scan[MaxScanBytes:]
	}

	var actions []Action
	var clean strings.Builder
	clean.Grow(len(scan))

	for {
		i := strings.Index(scan, tagPrefix)
		if i < 0 {
			clean.WriteString(scan)
			break
		}

		typ, data, rest, ok := parseTag(scan[i+len(tagPrefix):])
		if !ok {
			// Not a well-formed tag. Keep the literal prefix and
			// continue scanning after it.
			clean.WriteString(scan[:i+len(tagPrefix)])
			scan = scan[i+len(tagPrefix):]
			continue
		}

		clean.WriteString(scan[:i])
		act := Action{Type: typ, Timestamp: time.Now().UTC()}
		if data != "" {
			act.Data = &data
		}
		actions = append(actions, act)
		scan = rest
	}

	clean.WriteString(tail)
	return collapseWhitespace(clean.String()), actions
}

// parseTag parses "TYPE]" or "TYPE:DATA]" at the start of s, returning
// the remainder after the closing bracket.
func parseTag(s string) (typ, data, rest string, ok bool) {
	i := 0
	for i < len(s) && (s[i] == '_' || (s[i] >= 'A' && s[i] <= 'Z')) {
		i++
	}
	if i == 0 {
		return "", "", "", false
	}
	typ = s[:i]

	switch {
	case i < len(s) && s[i] == ']':
		return typ, "", s[i+1:], true
	case i < len(s) && s[i] == ':':
		j := strings.IndexByte(s[i+1:], ']')
		if j <= 0 {
			// No closing bracket, or empty data.
			return "", "", "", false
		}
		data = s[i+1 : i+1+j]
		return typ, data, s[i+2+j:], true
	default:
		return "", "", "", false
	}
}

// collapseWhitespace trims the string and replaces every run of
// whitespace with a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
