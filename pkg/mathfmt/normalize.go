// Package mathfmt rewrites model replies into the dollar-delimited math
// convention used by the display: $...$ inline and $$...$$ for blocks.
//
// Normalize is a heuristic, not a LaTeX parser. It may wrap a prose line
// that happens to contain "=" and a math command, it reads every
// standalone P(..) outside math as a probability, and it only repairs one
// known extraction breakage (a subscript split by a line break). It is
// idempotent: Normalize(Normalize(s)) == Normalize(s).
package mathfmt

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var symbols = map[rune]string{
	'Δ': `\Delta`,
	'∩': `\cap`,
	'∪': `\cup`,
	'≤': `\leq`,
	'≥': `\geq`,
	'≠': `\neq`,
	'×': `\times`,
	'±': `\pm`,
	'√': `\sqrt`,
	'∞': `\infty`,
	// A combining overline with no letter to attach to.
	'\u0305': `\overline`,
}

var (
	overlined      = regexp.MustCompile(`([\p{L}\p{N}])\x{0305}`)
	probability    = regexp.MustCompile(`P\([^)$]*\)`)
	splitSubscript = regexp.MustCompile(`_[ \t]*\r?\n[ \t]*(\S)`)
	blockDelims    = regexp.MustCompile(`(?s)\\\[(.*?)\\\]`)
	inlineDelims   = regexp.MustCompile(`(?s)\\\((.*?)\\\)`)
	mathCommand    = regexp.MustCompile(`\\(?:frac|dfrac|sqrt|log|ln|exp|sum|prod|int|lim|Delta|delta|pi|cdot|times|pm|cap|cup|overline|infty|leq|geq|neq|binom|vec)\b`)
)

// Normalize applies, in order: Unicode symbol rewrite, the split-subscript
// fix, \[..\] and \(..\) delimiter conversion, then line by line the
// $P(..)$ wrap of probability notation and bare-math wrapping.
func Normalize(text string) string {
	text = rewriteSymbols(text)
	text = joinSubscripts(text)
	text = convertDelimiters(text)
	return wrapBareMath(text)
}

func rewriteSymbols(text string) string {
	// A̅ is A followed by U+0305.
	text = overlined.ReplaceAllString(text, `\overline{$1}`)
	var b strings.Builder
	b.Grow(len(text))
	for i, r := range text {
		cmd, ok := symbols[r]
		if !ok {
			b.WriteRune(r)
			continue
		}
		b.WriteString(cmd)
		// Keep the command from swallowing a following letter.
		if next, _ := utf8.DecodeRuneInString(text[i+utf8.RuneLen(r):]); isASCIILetter(next) {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func joinSubscripts(text string) string {
	for {
		next := splitSubscript.ReplaceAllString(text, "_$1")
		if next == text {
			return text
		}
		text = next
	}
}

// convertDelimiters runs until no bracket pair is left so that a pair
// nested inside another is converted too. Every pass removes at least one
// pair, so the loop ends.
func convertDelimiters(text string) string {
	for {
		next := replaceDelims(blockDelims, text, "$$")
		next = replaceDelims(inlineDelims, next, "$")
		if next == text {
			return text
		}
		text = next
	}
}

func replaceDelims(re *regexp.Regexp, text, delim string) string {
	return re.ReplaceAllStringFunc(text, func(m string) string {
		inner := strings.TrimSpace(m[2 : len(m)-2])
		if inner == "" {
			inner = " "
		}
		return delim + inner + delim
	})
}

type lineKind int

const (
	lineBlank lineKind = iota
	lineFence
	lineDelimited
	lineBareMath
	lineProse
)

func classify(line string, inBlock bool) lineKind {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return lineBlank
	case strings.Count(line, "$$")%2 == 1:
		return lineFence
	case strings.Contains(line, "$"):
		return lineDelimited
	case !inBlock && strings.Contains(line, "=") && mathCommand.MatchString(line):
		return lineBareMath
	default:
		return lineProse
	}
}

func wrapBareMath(text string) string {
	lines := strings.Split(text, "\n")
	inBlock := false
	for i, line := range lines {
		if !inBlock && strings.Count(line, "$$")%2 == 0 {
			line = wrapProbabilities(line)
			lines[i] = line
		}
		switch classify(line, inBlock) {
		case lineFence:
			inBlock = !inBlock
		case lineBareMath:
			indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
			lines[i] = indent + "$$" + strings.TrimSpace(line) + "$$"
		}
	}
	return strings.Join(lines, "\n")
}

// wrapProbabilities puts $..$ around each P(..) of line that is outside
// inline math and not the tail of a longer word. Each wrap adds a pair of
// dollars, so the math parity of the rest of the line is unchanged.
func wrapProbabilities(line string) string {
	locs := probability.FindAllStringIndex(line, -1)
	if locs == nil {
		return line
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if strings.Count(line[:start], "$")%2 == 1 || (start > 0 && isWordByte(line[start-1])) {
			continue
		}
		b.WriteString(line[last:start])
		b.WriteByte('$')
		b.WriteString(line[start:end])
		b.WriteByte('$')
		last = end
	}
	b.WriteString(line[last:])
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '\\' || (c >= '0' && c <= '9') || isASCIILetter(rune(c))
}
