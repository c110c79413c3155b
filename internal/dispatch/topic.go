package dispatch

import "strings"

// NormalizeTopic strips trailing NUL padding and surrounding whitespace and
// unwraps a stringified bytes literal such as b'cam/still'. Case is kept.
func NormalizeTopic(topic string) string {
	t := strings.TrimSpace(strings.TrimRight(topic, "\x00"))
	if len(t) >= 3 && t[0] == 'b' && (t[1] == '\'' || t[1] == '"') && t[len(t)-1] == t[1] {
		t = strings.TrimRight(t[2:len(t)-1], "\x00")
	}
	return t
}
