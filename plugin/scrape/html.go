package scrape

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements that never carry primary content.
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Button:   true,
	atom.Select:   true,
	atom.Head:     true,
}

var skippedRoles = map[string]bool{
	"navigation":    true,
	"banner":        true,
	"contentinfo":   true,
	"complementary": true,
	"search":        true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Main: true, atom.Tr: true, atom.Table: true,
	atom.Blockquote: true, atom.Pre: true, atom.Dd: true, atom.Dt: true, atom.Figcaption: true,
}

// ExtractText returns the readable text of an HTML document. The main
// content region is preferred when one can be identified; otherwise the
// whole body is used. Boilerplate regions are dropped.
func ExtractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	if main := findMainContent(doc); main != nil {
		if text := renderText(main); text != "" {
			return text, nil
		}
	}
	return renderText(doc), nil
}

// findMainContent returns the first <main>, <article>, role=main or
// id=content-like element, searching depth first.
func findMainContent(n *html.Node) *html.Node {
	var candidates [4]*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if isSkipped(n) {
				return
			}
			switch {
			case n.DataAtom == atom.Main && candidates[0] == nil:
				candidates[0] = n
			case getAttr(n, "role") == "main" && candidates[1] == nil:
				candidates[1] = n
			case n.DataAtom == atom.Article && candidates[2] == nil:
				candidates[2] = n
			case isContentContainer(n) && candidates[3] == nil:
				candidates[3] = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func isContentContainer(n *html.Node) bool {
	id := strings.ToLower(getAttr(n, "id"))
	switch id {
	case "content", "main", "main-content", "article":
		return true
	}
	for _, class := range strings.Fields(strings.ToLower(getAttr(n, "class"))) {
		switch class {
		case "content", "main-content", "post-content", "entry-content", "article-body":
			return true
		}
	}
	return false
}

func isSkipped(n *html.Node) bool {
	if skippedElements[n.DataAtom] {
		return true
	}
	if skippedRoles[getAttr(n, "role")] {
		return true
	}
	_, hidden := findAttr(n, "hidden")
	return hidden || getAttr(n, "aria-hidden") == "true"
}

func renderText(root *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if isSkipped(n) {
				return
			}
		case html.CommentNode:
			return
		}
		block := n.Type == html.ElementNode && blockElements[n.DataAtom]
		if block {
			sb.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			sb.WriteByte('\n')
		}
	}
	walk(root)

	lines := strings.Split(sb.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func findAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func getAttr(n *html.Node, key string) string {
	v, _ := findAttr(n, key)
	return v
}
