package parser

import (
	"fmt"
	"strings"
)

// Repair applies a single bounded pass of fixes to a candidate payload: text
// before the first opening brace and after the matching last closing brace is
// dropped, raw control characters inside strings are escaped, invalid escape
// sequences are neutralised, and quotes that cannot terminate a string are
// escaped. It never loops and never adds closing braces.
func Repair(candidate string) string {
	repaired, _ := scan(trimToStructure(candidate))
	return repaired
}

func trimToStructure(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	start = strings.IndexByte(s, '[')
	end = strings.LastIndexByte(s, ']')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	if start := strings.IndexByte(s, '{'); start >= 0 {
		return s[start:]
	}
	return s
}

type scanStats struct {
	openBraces, closeBraces     int
	openBrackets, closeBrackets int
	strayQuotes                 int
	controlChars                int
	invalidEscapes              int
	inString                    bool
}

func (s scanStats) diagnostics() Diagnostics {
	return Diagnostics{
		OpenBraces:         s.openBraces,
		CloseBraces:        s.closeBraces,
		OpenBrackets:       s.openBrackets,
		CloseBrackets:      s.closeBrackets,
		UnescapedQuotes:    s.strayQuotes,
		ControlChars:       s.controlChars,
		InvalidEscapes:     s.invalidEscapes,
		UnterminatedString: s.inString,
	}
}

// scan walks s once, tracking string literals, and returns an escaped copy along
// with structural counts.
func scan(s string) (string, scanStats) {
	var b strings.Builder
	b.Grow(len(s) + 16)

	var st scanStats
	inString := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if !inString {
			switch c {
			case '"':
				inString = true
			case '{':
				st.openBraces++
			case '}':
				st.closeBraces++
			case '[':
				st.openBrackets++
			case ']':
				st.closeBrackets++
			}
			b.WriteByte(c)
			continue
		}

		switch c {
		case '\\':
			if i+1 < len(s) && isValidEscape(s[i+1]) {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
				continue
			}
			st.invalidEscapes++
			b.WriteString(`\\`)
		case '"':
			if closesString(s[i+1:]) {
				inString = false
				b.WriteByte(c)
			} else {
				st.strayQuotes++
				b.WriteString(`\"`)
			}
		case '\n':
			st.controlChars++
			b.WriteString(`\n`)
		case '\r':
			st.controlChars++
			b.WriteString(`\r`)
		case '\t':
			st.controlChars++
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				st.controlChars++
				fmt.Fprintf(&b, `\u%04x`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}

	st.inString = inString
	return b.String(), st
}

func isValidEscape(c byte) bool {
	switch c {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
		return true
	}
	return false
}

// closesString reports whether a quote followed by rest can end a string literal.
func closesString(rest string) bool {
	r := strings.TrimLeft(rest, " \t\r\n")
	if r == "" {
		return true
	}
	switch r[0] {
	case ':', ',', '}', ']':
		return true
	}
	return false
}
