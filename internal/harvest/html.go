package harvest

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var innerWhitespace = regexp.MustCompile(`\s+`)

// flattenText collapses the text content of a node into one line of
// whitespace-normalised text, non-breaking spaces included.
func flattenText(node *html.Node) string {
	var b strings.Builder
	collectText(node, &b)
	text := strings.ReplaceAll(b.String(), " ", " ")
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(text, " "))
}

func collectText(node *html.Node, b *strings.Builder) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		b.WriteString(node.Data)
		b.WriteString(" ")
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}
}

// closestAncestor walks up from the node and returns the nearest ancestor
// satisfying the predicate. The predicate carries the policy; the walk is
// just mechanism, so callers are not tied to a fixed climb count.
func closestAncestor(node *html.Node, depthLimit int, pred func(*html.Node) bool) *html.Node {
	cur := node
	for i := 0; i < depthLimit && cur != nil; i++ {
		if pred(cur) {
			return cur
		}
		cur = cur.Parent
	}
	return nil
}

// textNodeCount counts non-empty text descendants, used to tell a listing
// card apart from a bare link wrapper.
func textNodeCount(node *html.Node) int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" {
			count++
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return count
}

// isCardNode reports whether a node looks like one listing row: a table
// row, list item, or article, or a div holding more than a single text.
func isCardNode(node *html.Node) bool {
	if node == nil || node.Type != html.ElementNode {
		return false
	}
	switch node.Data {
	case "tr", "li", "article":
		return true
	case "div":
		return textNodeCount(node) > 1
	}
	return false
}
