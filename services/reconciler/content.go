package reconciler

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// quotedReplyRegex matches an "On <date>, <someone> wrote:" attribution line and
// everything that follows it.
var quotedReplyRegex = regexp.MustCompile(`(?s)(\n|^)On.*?wrote:.*`)

// StripQuotedText removes the quoted part of a plain text reply.
func StripQuotedText(text string) string {
	if text == "" {
		return text
	}
	return quotedReplyRegex.ReplaceAllString(text, "")
}

// StripQuotedHTML removes Gmail quote blocks from an HTML body. On any parse error the
// input is returned unchanged.
func StripQuotedHTML(body string) string {
	if strings.TrimSpace(body) == "" {
		return body
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	quotes := doc.Find("div.gmail_quote")
	if quotes.Length() == 0 {
		return body
	}
	quotes.Remove()

	var out string
	if strings.Contains(strings.ToLower(body), "<html") {
		out, err = doc.Html()
	} else {
		out, err = doc.Find("body").Html()
	}
	if err != nil {
		return body
	}
	return out
}

// HTMLToText flattens an HTML body into a single line of text, joining text nodes
// with spaces.
func HTMLToText(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()

	var parts []string
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, node *goquery.Selection) {
			if goquery.NodeName(node) == "#text" {
				if text := strings.TrimSpace(node.Text()); text != "" {
					parts = append(parts, text)
				}
				return
			}
			walk(node)
		})
	}
	walk(doc.Selection)

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// plainContent returns the stripped text part, or the text of the stripped HTML part
// when the message has no usable plain text.
func plainContent(text, html string) string {
	if stripped := strings.TrimSpace(text); stripped != "" {
		return stripped
	}
	return HTMLToText(html)
}
