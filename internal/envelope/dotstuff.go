package envelope

import "strings"

// Unstuff implements the §4.D dot-unstuffing algorithm: split the
// accumulated DATA buffer on CRLF, discard the final "." sentinel line,
// and remove exactly one leading '.' from any remaining line that
// starts with one.
//
// raw is expected to include the trailing ".\r\n" sentinel.
func Unstuff(raw string) string {
	// An empty DATA block has no preceding line to supply the leading
	// CRLF of the terminator: the buffer is just the sentinel itself.
	if raw == ".\r\n" {
		return ""
	}
	raw = strings.TrimSuffix(raw, "\r\n.\r\n")
	lines := strings.Split(raw, "\r\n")
	for i, line := range lines {
		if strings.HasPrefix(line, ".") {
			lines[i] = line[1:]
		}
	}
	out := strings.Join(lines, "\r\n")
	if out != "" {
		out += "\r\n"
	}
	return out
}

// Stuff is the inverse transform applied before a message body goes out
// on the wire: any line beginning with '.' gets one extra '.' prefixed.
// It does not append the DATA terminator. A non-empty result already
// ends in CRLF, so callers append only ".\r\n" (see internal/client).
func Stuff(body string) string {
	trimmed := strings.TrimSuffix(body, "\r\n")
	if trimmed == "" {
		return body
	}
	lines := strings.Split(trimmed, "\r\n")
	for i, line := range lines {
		if strings.HasPrefix(line, ".") {
			lines[i] = "." + line
		}
	}
	out := strings.Join(lines, "\r\n")
	out += "\r\n"
	return out
}
