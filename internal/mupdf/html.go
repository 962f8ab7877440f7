package mupdf

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/local/pdfoutline/internal/outline"
)

// style is the subset of inline CSS MuPDF writes on <p> and <span>.
type style map[string]string

func parseStyle(s string) style {
	st := style{}
	for _, decl := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		st[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return st
}

// length parses "12.5pt" / "12px" / "12" into points. Missing or malformed
// values return 0.
func (s style) length(key string) float64 {
	v := strings.TrimSpace(s[key])
	v = strings.TrimSuffix(strings.TrimSuffix(v, "pt"), "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func (s style) fontFamily() string {
	fam := s["font-family"]
	if i := strings.IndexByte(fam, ','); i >= 0 {
		fam = fam[:i]
	}
	return strings.Trim(strings.TrimSpace(fam), `"'`)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// ParsePageHTML turns one page of MuPDF structured HTML into lines. Every
// <p> is a line; empty paragraphs are skipped.
func ParsePageHTML(page int, r io.Reader) ([]outline.Line, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse page %d html: %w", page, err)
	}

	var lines []outline.Line
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.P {
			if l, ok := paragraphLine(page, n); ok {
				lines = append(lines, l)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return lines, nil
}

func paragraphLine(page int, p *html.Node) (outline.Line, bool) {
	pst := parseStyle(attr(p, "style"))

	var (
		text     strings.Builder
		span     style
		bold     bool
		inBold   int
		walkText func(n *html.Node)
	)
	walkText = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			text.WriteString(n.Data)
			if inBold > 0 && strings.TrimSpace(n.Data) != "" {
				bold = true
			}
			return
		case n.Type == html.ElementNode && n.DataAtom == atom.Span && span == nil:
			span = parseStyle(attr(n, "style"))
		}
		isBold := n.Type == html.ElementNode && (n.DataAtom == atom.B || n.DataAtom == atom.Strong)
		if isBold {
			inBold++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkText(c)
		}
		if isBold {
			inBold--
		}
	}
	walkText(p)

	txt := strings.Join(strings.Fields(text.String()), " ")
	if txt == "" {
		return outline.Line{}, false
	}
	if span == nil {
		span = style{}
	}

	size := span.length("font-size")
	if size <= 0 {
		size = pst.length("font-size")
	}
	if size <= 0 {
		size = pst.length("line-height")
	}
	if size <= 0 {
		return outline.Line{}, false
	}

	family := span.fontFamily()
	if strings.EqualFold(span["font-weight"], "bold") || strings.Contains(strings.ToLower(family), "bold") {
		bold = true
	}

	x0 := pst.length("left")
	y0 := pst.length("top")
	height := pst.length("line-height")
	if height <= 0 {
		height = size
	}

	return outline.Line{
		Page:     page,
		Text:     txt,
		BBox:     [4]float64{x0, y0, x0, y0 + height},
		FontSize: size,
		FontName: family,
		IsBold:   bold,
	}, true
}
