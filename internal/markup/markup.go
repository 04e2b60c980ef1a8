// Package markup parses HTML for scripts: CSS and XPath queries, text
// extraction, sanitizing and charset decoding of fetched documents.
package markup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// MaxHTMLSize caps the documents scripts may parse.
const MaxHTMLSize = 10 << 20

var ErrTooLarge = errors.New("markup: document too large")

// Element is one matched node.
type Element struct {
	Tag  string
	Text string
	// HTML is the inner markup of the node.
	HTML  string
	Attrs map[string]string
}

var sanitizer = bluemonday.UGCPolicy()

func validate(src string) error {
	if len(src) > MaxHTMLSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(src))
	}
	return nil
}

// Select returns the elements matching a CSS selector.
func Select(src, selector string) ([]Element, error) {
	if err := validate(src); err != nil {
		return nil, err
	}
	var elements []Element
	// goquery matches nothing for a bad selector; compile it first to
	// report the error.
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	doc.FindMatcher(matcher).Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) == 0 {
			return
		}
		inner, _ := s.Html()
		elements = append(elements, Element{
			Tag:   goquery.NodeName(s),
			Text:  strings.TrimSpace(s.Text()),
			HTML:  inner,
			Attrs: attrs(s.Nodes[0]),
		})
	})
	return elements, nil
}

// XPath returns the element nodes matching an XPath expression.
func XPath(src, expr string) ([]Element, error) {
	if err := validate(src); err != nil {
		return nil, err
	}
	doc, err := htmlquery.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, Element{
			Tag:   n.Data,
			Text:  strings.TrimSpace(htmlquery.InnerText(n)),
			HTML:  htmlquery.OutputHTML(n, false),
			Attrs: attrs(n),
		})
	}
	return elements, nil
}

// Text returns the visible text of a document with whitespace collapsed.
func Text(src string) (string, error) {
	if err := validate(src); err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}

// Sanitize strips everything but user-content safe markup.
func Sanitize(src string) string {
	return sanitizer.Sanitize(src)
}

// DetectCharset guesses the charset of data. It falls back to utf-8.
func DetectCharset(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil || result.Charset == "" {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// Decode converts a response body to UTF-8. The charset comes from
// contentType when it names one and is detected otherwise. It returns the
// text and the charset used.
func Decode(data []byte, contentType string) (string, string) {
	name := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		name = strings.ToLower(params["charset"])
	}
	if name == "" {
		name = DetectCharset(data)
	}
	if name == "utf-8" || name == "us-ascii" {
		return string(data), name
	}
	r, err := charset.NewReaderLabel(name, bytes.NewReader(data))
	if err != nil {
		return string(data), "utf-8"
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(data), "utf-8"
	}
	return string(out), name
}

func attrs(n *html.Node) map[string]string {
	out := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		out[a.Key] = a.Val
	}
	return out
}
