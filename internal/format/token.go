package format

import "strings"

type kind uint8

const (
	kText    kind = iota
	kCode         // inline or fenced code, raw including its fences
	kUser         // id, optional label in text
	kChannel      // id, optional label in text
	kRole         // id
	kSpecial      // broadcast or group mention, rendered label in text
	kEmoji        // custom emoji name in text
	kLink         // url, optional label in text
	kBold
	kItalic
	kStrike
	kUnderline
	kSpoiler
)

type node struct {
	kind     kind
	text     string
	id       string
	url      string
	children []node
}

// span is one emphasis rule. boundary requires the opener to follow a
// non-word byte and the closer to precede one, so snake_case stays text.
type span struct {
	marker   string
	kind     kind
	boundary bool
}

// grammar is a dialect's token rules. Spans are tried in order, longest
// markers first.
type grammar struct {
	spans        []span
	angle        func(inner string) (node, bool)
	bracketLinks bool
	bareURLs     bool
	escapes      bool
	decodeText   func(string) string
}

func (g *grammar) parse(s string) []node {
	var (
		out []node
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		t := buf.String()
		if g.decodeText != nil {
			t = g.decodeText(t)
		}
		out = append(out, node{kind: kText, text: t})
		buf.Reset()
	}
	emit := func(n node) {
		flush()
		out = append(out, n)
	}

	for i := 0; i < len(s); {
		c := s[i]

		if g.escapes && c == '\\' && i+1 < len(s) && isMarkupByte(s[i+1]) {
			buf.WriteByte(s[i+1])
			i += 2
			continue
		}

		if c == '`' {
			if w := codeSpan(s[i:]); w > 0 {
				emit(node{kind: kCode, text: s[i : i+w]})
				i += w
				continue
			}
		}

		if c == '<' {
			if end := strings.IndexByte(s[i+1:], '>'); end >= 0 {
				if n, ok := g.angle(s[i+1 : i+1+end]); ok {
					emit(n)
					i += end + 2
					continue
				}
			}
		}

		if g.bracketLinks && c == '[' {
			if n, w, ok := bracketLink(s[i:]); ok {
				emit(n)
				i += w
				continue
			}
		}

		if g.bareURLs && (c == 'h' || c == 'H') && (i == 0 || !isWordByte(s[i-1])) {
			if w := bareURL(s[i:]); w > 0 {
				emit(node{kind: kLink, url: s[i : i+w]})
				i += w
				continue
			}
		}

		if n, w, ok := g.emphasis(s, i); ok {
			emit(n)
			i += w
			continue
		}

		buf.WriteByte(c)
		i++
	}
	flush()
	return out
}

func (g *grammar) emphasis(s string, i int) (node, int, bool) {
	for _, sp := range g.spans {
		m := sp.marker
		if !strings.HasPrefix(s[i:], m) {
			continue
		}
		if sp.boundary && i > 0 && isWordByte(s[i-1]) {
			continue
		}
		// A marker doubled on either side of the opener is literal text, so
		// "__init__" is not emphasis in a dialect whose marker is "_".
		if strings.HasSuffix(s[:i], m) {
			continue
		}
		start := i + len(m)
		if start >= len(s) || isSpace(s[start]) || strings.HasPrefix(s[start:], m) {
			continue
		}
		end := closing(s, start, m, sp.boundary)
		if end < 0 {
			continue
		}
		return node{kind: sp.kind, children: g.parse(s[start:end])}, end + len(m) - i, true
	}
	return node{}, 0, false
}

// closing returns the index of the marker m that closes content starting at
// start, or -1. The content is non-empty, stays on one line and does not end
// in whitespace. Within a run of marker bytes the closer is end-aligned, so
// "***x***" closes bold around "*x*".
func closing(s string, start int, m string, boundary bool) int {
	c := m[0]
	for j := start + 1; j < len(s); j++ {
		switch s[j] {
		case '\n':
			return -1
		case '`':
			if w := codeSpan(s[j:]); w > 0 {
				j += w - 1
				continue
			}
		}
		if s[j] != c {
			continue
		}
		k := j
		for k < len(s) && s[k] == c {
			k++
		}
		if k-j >= len(m) && !isSpace(s[j-1]) {
			if !boundary || k >= len(s) || !isWordByte(s[k]) {
				return k - len(m)
			}
		}
		j = k - 1
	}
	return -1
}

// codeSpan returns the byte width of a fenced block or inline code span at
// the start of s, or 0 when the backticks are unterminated.
func codeSpan(s string) int {
	if strings.HasPrefix(s, "```") {
		if end := strings.Index(s[3:], "```"); end >= 0 {
			return end + 6
		}
		return 0
	}
	if end := strings.IndexByte(s[1:], '`'); end > 0 {
		if !strings.Contains(s[1:1+end], "\n") {
			return end + 2
		}
	}
	return 0
}

// bracketLink parses "[label](http...)" at the start of s.
func bracketLink(s string) (node, int, bool) {
	mid := strings.Index(s, "](")
	if mid <= 1 || strings.ContainsAny(s[1:mid], "\n[]") {
		return node{}, 0, false
	}
	end := strings.IndexByte(s[mid+2:], ')')
	if end <= 0 {
		return node{}, 0, false
	}
	url := s[mid+2 : mid+2+end]
	if !isURL(url) || strings.ContainsAny(url, " \n") {
		return node{}, 0, false
	}
	return node{kind: kLink, url: url, text: s[1:mid]}, mid + 2 + end + 1, true
}

// bareURL returns the width of an http(s) URL at the start of s.
func bareURL(s string) int {
	low := strings.ToLower(s)
	if !strings.HasPrefix(low, "http://") && !strings.HasPrefix(low, "https://") {
		return 0
	}
	w := strings.IndexAny(s, " \t\n<>")
	if w < 0 {
		w = len(s)
	}
	// Trailing punctuation belongs to the sentence.
	for w > 0 && strings.ContainsRune(".,;:!?)'\"", rune(s[w-1])) {
		w--
	}
	if w <= len("https://") {
		return 0
	}
	return w
}

func isURL(s string) bool {
	low := strings.ToLower(s)
	return strings.HasPrefix(low, "http://") || strings.HasPrefix(low, "https://")
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

func isMarkupByte(b byte) bool { return strings.IndexByte("\\*_~`|<>[]()#:", b) >= 0 }

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// escapeLines applies r to every line of s. A ">" opening a line is a quote
// marker and is kept as is.
func escapeLines(s string, r *strings.Replacer) string {
	if !strings.Contains(s, ">") {
		return r.Replace(s)
	}
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		if strings.HasPrefix(ln, ">") {
			lines[i] = ">" + r.Replace(ln[1:])
			continue
		}
		lines[i] = r.Replace(ln)
	}
	return strings.Join(lines, "\n")
}

func splitPipe(s string) (string, string) {
	if i := strings.IndexByte(s, '|'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}
