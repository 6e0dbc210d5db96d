package console

import (
	"strconv"
	"strings"
)

const (
	scanStartCommand  = "AT+CWLAP"
	positionPrefix    = "POS: "
	accessPointPrefix = "AP: "

	// BeginMarkerText opens the access point listing of a scan window
	BeginMarkerText = "ESP8266: -- START READING --"

	// EndMarkerText closes the access point listing of a scan window
	EndMarkerText = "ESP8266: -- STOP READING --"

	scanParamCount = 6
)

// Line is a single classified console line. The concrete type is one of
// ScanStart, PositionFix, BeginMarker, AccessPoint, EndMarker or Unrecognized.
type Line interface {
	isLine()
}

// ScanStart is the AT+CWLAP command echoed by the vehicle when a scan begins.
// Params holds the six optional scan parameters, nil when absent.
type ScanStart struct {
	Params []string
}

// PositionFix is the estimator position reported right before the scan
type PositionFix struct {
	X, Y, Z float64
}

// BeginMarker precedes the access point records of a scan
type BeginMarker struct{}

// AccessPoint is a single access point record
type AccessPoint struct {
	SSID    string
	RSSI    int
	MAC     string
	Channel int
}

// EndMarker follows the last access point record of a scan
type EndMarker struct{}

// Unrecognized is any line that does not belong to the scan protocol
type Unrecognized struct {
	Text string
}

func (ScanStart) isLine()    {}
func (PositionFix) isLine()  {}
func (BeginMarker) isLine()  {}
func (AccessPoint) isLine()  {}
func (EndMarker) isLine()    {}
func (Unrecognized) isLine() {}

// ParseLine classifies a console line, stripped of its line terminator.
// A line must match one of the protocol shapes in full, anything else is
// returned as Unrecognized.
func ParseLine(text string) Line {
	var line Line
	var ok bool

	switch {
	case strings.HasPrefix(text, scanStartCommand):
		line, ok = parseScanStart(text)
	case strings.HasPrefix(text, positionPrefix):
		line, ok = parsePositionFix(text)
	case strings.HasPrefix(text, accessPointPrefix):
		line, ok = parseAccessPoint(text)
	case text == BeginMarkerText:
		line, ok = BeginMarker{}, true
	case text == EndMarkerText:
		line, ok = EndMarker{}, true
	}

	if !ok {
		return Unrecognized{Text: text}
	}
	return line
}

// parseScanStart accepts "AT+CWLAP" or "AT+CWLAP=<n>,<n>,<n>,<n>,<n>,<n>",
// where every <n> is a possibly empty run of digits.
func parseScanStart(text string) (Line, bool) {
	c := cursor{s: text}
	c.literal(scanStartCommand)

	if c.done() {
		return ScanStart{}, true
	}
	if !c.literal("=") {
		return nil, false
	}

	params := make([]string, 0, scanParamCount)
	for i := 0; i < scanParamCount; i++ {
		if i > 0 && !c.literal(",") {
			return nil, false
		}
		params = append(params, c.digits())
	}

	if !c.done() {
		return nil, false
	}
	return ScanStart{Params: params}, true
}

// parsePositionFix accepts "POS: x=<f> y=<f> z=<f>" where <f> is a signed
// decimal number with a mandatory fractional part.
func parsePositionFix(text string) (Line, bool) {
	c := cursor{s: text}
	c.literal(positionPrefix)

	var fix PositionFix
	axes := []struct {
		prefix string
		dst    *float64
	}{
		{"x=", &fix.X},
		{" y=", &fix.Y},
		{" z=", &fix.Z},
	}

	for _, axis := range axes {
		if !c.literal(axis.prefix) {
			return nil, false
		}
		v, ok := c.decimal()
		if !ok {
			return nil, false
		}
		*axis.dst = v
	}

	if !c.done() {
		return nil, false
	}
	return fix, true
}

// parseAccessPoint accepts "AP: <ssid>, <rssi>, <mac>, <channel>". The SSID is
// free text and may itself contain ", ", so the three trailing fields, none of
// which can contain the separator, are split off from the right.
func parseAccessPoint(text string) (Line, bool) {
	const sep = ", "

	rest := strings.TrimPrefix(text, accessPointPrefix)

	var fields [3]string
	for i := len(fields) - 1; i >= 0; i-- {
		idx := strings.LastIndex(rest, sep)
		if idx < 0 {
			return nil, false
		}
		fields[i] = rest[idx+len(sep):]
		rest = rest[:idx]
	}

	rssi, ok := parseInteger(fields[0], true)
	if !ok {
		return nil, false
	}
	if fields[1] == "" || !isWord(fields[1]) {
		return nil, false
	}
	channel, ok := parseInteger(fields[2], false)
	if !ok {
		return nil, false
	}

	return AccessPoint{
		SSID:    rest,
		RSSI:    rssi,
		MAC:     fields[1],
		Channel: channel,
	}, true
}

func parseInteger(s string, signed bool) (int, bool) {
	c := cursor{s: s}
	if signed {
		c.literal("-")
	}
	if c.digits() == "" || !c.done() {
		return 0, false
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isWord(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if !(isDigit(b) || b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')) {
			return false
		}
	}
	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// cursor is a minimal scanner over a single line used by the line parsers
type cursor struct {
	s   string
	pos int
}

func (c *cursor) done() bool {
	return c.pos == len(c.s)
}

// literal consumes lit if the remaining input starts with it
func (c *cursor) literal(lit string) bool {
	if !strings.HasPrefix(c.s[c.pos:], lit) {
		return false
	}
	c.pos += len(lit)
	return true
}

// digits consumes a possibly empty run of ASCII digits
func (c *cursor) digits() string {
	start := c.pos
	for c.pos < len(c.s) && isDigit(c.s[c.pos]) {
		c.pos++
	}
	return c.s[start:c.pos]
}

// decimal consumes [+-]?<digits>.<digits>
func (c *cursor) decimal() (float64, bool) {
	start := c.pos

	if !c.literal("+") {
		c.literal("-")
	}
	if c.digits() == "" || !c.literal(".") || c.digits() == "" {
		c.pos = start
		return 0, false
	}

	v, err := strconv.ParseFloat(c.s[start:c.pos], 64)
	if err != nil {
		c.pos = start
		return 0, false
	}
	return v, true
}
