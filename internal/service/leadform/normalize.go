package leadform

import (
	"html"
	"regexp"
	"strings"

	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	htmlMarkupRe = regexp.MustCompile(`(?i)</?(html|body|head|div|p|br|span|table|tr|td|th|li|ul|ol|strong|b|i|em|font|h[1-6])\b[^>]*>`)
	blankRunRe   = regexp.MustCompile(`[ \t\f\v]+`)
)

// block-level elements that start a new line when flattened
var lineBreakAtoms = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Tr: true, atom.Li: true,
	atom.Table: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Ul: true, atom.Ol: true, atom.Td: true,
}

// Normalize flattens a body to plain lines: markup becomes line breaks,
// entities are decoded and whitespace is collapsed. Empty lines are dropped.
func Normalize(body string) string {
	var text string
	if htmlMarkupRe.MatchString(body) {
		text = htmlToText(body)
	} else {
		text = html.UnescapeString(body)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(blankRunRe.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func htmlToText(body string) string {
	z := nethtml.NewTokenizer(strings.NewReader(body))
	var b strings.Builder
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case nethtml.ErrorToken:
			// io.EOF or a tokenizer failure; keep what was collected
			return b.String()
		case nethtml.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case nethtml.StartTagToken, nethtml.EndTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style {
				if tt == nethtml.StartTagToken {
					skip++
				} else if tt == nethtml.EndTagToken && skip > 0 {
					skip--
				}
				continue
			}
			if lineBreakAtoms[a] {
				b.WriteByte('\n')
			}
		}
	}
}
