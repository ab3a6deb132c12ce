// Package linkify turns bare URLs inside rich-text fields into anchors and
// derives a plain-text projection used for search and sorting.
package linkify

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// anchorMarker is the exact attribute sequence our own anchors render with.
// Its presence means the text already went through Linkify, which makes the
// transform idempotent under client retries.
const anchorMarker = `target="_blank" rel="noopener noreferrer"`

var urlPattern = regexp.MustCompile(`https?://[^\s<>]+`)

// Linkify wraps bare URLs in text content as anchors. Existing anchors and
// their subtrees are left alone so links never get double-wrapped. Input that
// cannot be parsed is returned unchanged.
func Linkify(input string) string {
	if input == "" || !urlPattern.MatchString(input) {
		return input
	}
	if strings.Contains(input, anchorMarker) {
		return input
	}

	nodes, err := parseFragment(input)
	if err != nil {
		return input
	}
	// Reparent the fragment under a synthetic container so top-level text
	// runs are children, not roots; wrapBareURLs splits URL-bearing children.
	container := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	for _, node := range nodes {
		container.AppendChild(node)
	}
	wrapBareURLs(container)
	return renderChildren(container)
}

// PlainText strips all markup and returns the concatenated text content.
func PlainText(input string) string {
	if input == "" {
		return ""
	}
	nodes, err := parseFragment(input)
	if err != nil {
		return input
	}
	var sb strings.Builder
	for _, node := range nodes {
		collectText(node, &sb)
	}
	return sb.String()
}

func parseFragment(input string) ([]*html.Node, error) {
	context := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	return html.ParseFragment(strings.NewReader(input), context)
}

func renderChildren(container *html.Node) string {
	var sb strings.Builder
	for child := container.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&sb, child); err != nil {
			return sb.String()
		}
	}
	return sb.String()
}

func wrapBareURLs(node *html.Node) {
	if node.Type == html.ElementNode && node.DataAtom == atom.A {
		return
	}
	child := node.FirstChild
	for child != nil {
		next := child.NextSibling
		if child.Type == html.TextNode && urlPattern.MatchString(child.Data) {
			for _, replacement := range splitOnURLs(child.Data) {
				node.InsertBefore(replacement, child)
			}
			node.RemoveChild(child)
		} else {
			wrapBareURLs(child)
		}
		child = next
	}
}

// splitOnURLs breaks a text run into plain text nodes and anchor elements.
func splitOnURLs(text string) []*html.Node {
	var nodes []*html.Node
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			nodes = append(nodes, textNode(text[last:loc[0]]))
		}
		nodes = append(nodes, anchorNode(text[loc[0]:loc[1]]))
		last = loc[1]
	}
	if last < len(text) {
		nodes = append(nodes, textNode(text[last:]))
	}
	return nodes
}

func textNode(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

func anchorNode(url string) *html.Node {
	anchor := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.A,
		Data:     "a",
		Attr: []html.Attribute{
			{Key: "href", Val: url},
			{Key: "target", Val: "_blank"},
			{Key: "rel", Val: "noopener noreferrer"},
		},
	}
	anchor.AppendChild(textNode(url))
	return anchor
}

func collectText(node *html.Node, sb *strings.Builder) {
	if node.Type == html.TextNode {
		sb.WriteString(node.Data)
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, sb)
	}
}
