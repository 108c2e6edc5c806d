package relay

// Backend response lines have the shape
//
//	<3-digit code><sep><text>
//
// where sep is '-' (more lines of this response follow) or ' ' (final
// line).  Anything else is noise and gets ignored.

// CodeGoodbye is the status code of the backend's own
// connection-closing notice.  It is swallowed, never forwarded.
const CodeGoodbye = 221

// StatusLine is one parsed backend response line.
type StatusLine struct {
	Code int
	Last bool   // true when sep is ' ': final line of the response
	Text string // free text after the separator
}

// ParseStatusLine parses line against the status-line grammar.  The
// second return value is false for lines that do not match; callers
// ignore those.
func ParseStatusLine(line string) (StatusLine, bool) {
	if len(line) < 4 {
		return StatusLine{}, false
	}
	code := 0
	for i := 0; i < 3; i++ {
		c := line[i]
		if c < '0' || c > '9' {
			return StatusLine{}, false
		}
		code = code*10 + int(c-'0')
	}
	switch line[3] {
	case ' ':
		return StatusLine{Code: code, Last: true, Text: line[4:]}, true
	case '-':
		return StatusLine{Code: code, Last: false, Text: line[4:]}, true
	default:
		return StatusLine{}, false
	}
}
