package gcode

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Style selects how a G-code line is framed on the wire.
type Style string

const (
	// StyleText writes the markers as ASCII text, the way the shipped
	// controller software does: "0x550xAA G28 0xAA0x55".
	StyleText Style = "text"
	// StyleBinary writes the markers as raw bytes 0x55 0xAA ... 0xAA 0x55.
	StyleBinary Style = "binary"
	// StyleRaw writes the bare line terminated by '\n' (GRBL style).
	StyleRaw Style = "raw"
)

// Frame marker bytes.
const (
	Head0 byte = 0x55
	Head1 byte = 0xAA
	Tail0 byte = 0xAA
	Tail1 byte = 0x55
)

const (
	textHead = "0x550xAA"
	textTail = "0xAA0x55"
)

// ErrControllerError is returned when the controller replies with an error.
var ErrControllerError = errors.New("controller error")

// ParseStyle converts a config string into a Style.
func ParseStyle(s string) (Style, error) {
	switch Style(strings.ToLower(strings.TrimSpace(s))) {
	case "", StyleText:
		return StyleText, nil
	case StyleBinary:
		return StyleBinary, nil
	case StyleRaw:
		return StyleRaw, nil
	}
	return "", fmt.Errorf("unknown frame style %q", s)
}

// Encode wraps a G-code line in the frame for the given style.
func Encode(style Style, line string) []byte {
	line = strings.TrimSpace(line)
	switch style {
	case StyleBinary:
		out := make([]byte, 0, len(line)+6)
		out = append(out, Head0, Head1, ' ')
		out = append(out, line...)
		return append(out, ' ', Tail0, Tail1)
	case StyleRaw:
		return []byte(line + "\n")
	default:
		return []byte(textHead + " " + line + " " + textTail)
	}
}

// Decode strips any of the known framings and returns the G-code line.
func Decode(b []byte) (string, bool) {
	switch {
	case len(b) >= 4 && b[0] == Head0 && b[1] == Head1 && b[len(b)-2] == Tail0 && b[len(b)-1] == Tail1:
		return strings.TrimSpace(string(b[2 : len(b)-2])), true
	case strings.HasPrefix(string(b), textHead) && strings.HasSuffix(string(b), textTail):
		s := string(b)
		return strings.TrimSpace(s[len(textHead) : len(s)-len(textTail)]), true
	case len(b) > 0 && b[len(b)-1] == '\n':
		return strings.TrimSpace(string(b)), true
	}
	return "", false
}

// ParseReply interprets a controller reply. Silence counts as success
// because the controller does not acknowledge every motion command.
func ParseReply(b []byte) (string, error) {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	switch {
	case strings.Contains(s, "ok"):
		return s, nil
	case strings.Contains(s, "error"):
		return s, fmt.Errorf("%w: %s", ErrControllerError, s)
	case s == "":
		return "ok (no response)", nil
	}
	return s, nil
}

var (
	reX = regexp.MustCompile(`(?i)X[:\s]*([-\d.]+)`)
	reY = regexp.MustCompile(`(?i)Y[:\s]*([-\d.]+)`)
	reZ = regexp.MustCompile(`(?i)Z[:\s]*([-\d.]+)`)
)

// ParsePosition extracts "X:1 Y:2 Z:3" style coordinates from a reply.
func ParsePosition(s string) (x, y, z float64, ok bool) {
	var err error
	vals := [3]float64{}
	for i, re := range []*regexp.Regexp{reX, reY, reZ} {
		m := re.FindStringSubmatch(s)
		if m == nil {
			return 0, 0, 0, false
		}
		if vals[i], err = strconv.ParseFloat(m[1], 64); err != nil {
			return 0, 0, 0, false
		}
	}
	return vals[0], vals[1], vals[2], true
}

// Variant is one candidate spelling of a move used when probing a
// controller that keeps raising alarms.
type Variant struct {
	Name string
	Line string
}

// ProbeVariants returns the spacing and format variants worth trying
// against an unknown controller firmware.
func ProbeVariants(x, y, z float64, feed int) []Variant {
	cx, cy, cz := Coord(x), Coord(y), Coord(z)
	return []Variant{
		{"standard", fmt.Sprintf("G00 X%s Y%s Z%s F%d", cx, cy, cz, feed)},
		{"short", fmt.Sprintf("G0 X%s Y%s Z%s F%d", cx, cy, cz, feed)},
		{"no-spaces", fmt.Sprintf("G00X%sY%sZ%sF%d", cx, cy, cz, feed)},
		{"decimals", fmt.Sprintf("G00 X%.1f Y%.1f Z%.1f F%d", x, y, z, feed)},
		{"grbl-jog", fmt.Sprintf("$J=G00 X%s Y%s Z%s F%d", cx, cy, cz, feed)},
		{"no-feed", fmt.Sprintf("G00 X%s Y%s Z%s", cx, cy, cz)},
	}
}
