package remote

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxHTMLErrorChars = 200

// htmlErrorText reduces an HTML error page (reverse proxies and gateways
// return these instead of JSON) to a short line of readable text for error
// messages. Returns "" when the body does not look like HTML or yields no
// text.
func htmlErrorText(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return ""
	}

	nodes, err := html.ParseFragment(bytes.NewReader(trimmed),
		&html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"})
	if err != nil {
		return ""
	}

	var sb strings.Builder
	for _, n := range nodes {
		collectText(n, &sb)
	}

	text := strings.Join(strings.Fields(sb.String()), " ")
	runes := []rune(text)
	if len(runes) > maxHTMLErrorChars {
		text = strings.TrimRightFunc(string(runes[:maxHTMLErrorChars]), unicode.IsSpace) + "..."
	}
	return text
}

func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	case html.ElementNode:
		// Script and style text is markup plumbing, not a message.
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
