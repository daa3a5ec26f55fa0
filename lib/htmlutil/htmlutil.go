package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || c == '\n' || c == '\t' {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CellText returns the trimmed visible text of a selection. Interior
// whitespace is kept as-is so callers can still detect multi-line or
// tab-heavy junk values.
func CellText(sel *goquery.Selection) string {
	if sel == nil || len(sel.Nodes) == 0 {
		return ""
	}
	text := removeNonPrintable(GetText(sel.Nodes[0]))
	return strings.Trim(text, " \t\n")
}

// FlatText is CellText with all interior whitespace runs collapsed to a
// single space, for single-line fields.
func FlatText(sel *goquery.Selection) string {
	return innerWhitespace.ReplaceAllString(CellText(sel), " ")
}
