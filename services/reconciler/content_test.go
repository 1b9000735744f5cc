package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripQuotedText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "reply with attribution",
			in:   "Sounds good.\n\nOn Mon, Jan 6, 2025 at 10:00 AM Jane <jane@acme.com> wrote:\n> original\n> text",
			want: "Sounds good.\n",
		},
		{
			name: "attribution wrapped over two lines",
			in:   "Thanks!\nOn Mon, Jan 6, 2025 at 10:00 AM Jane Doe <jane@acme.com>\nwrote:\n> hi",
			want: "Thanks!",
		},
		{
			name: "no quote",
			in:   "Just a message.\nNothing quoted here.",
			want: "Just a message.\nNothing quoted here.",
		},
		{
			name: "On inside a line is kept",
			in:   "Let me know. Once you wrote: that it works",
			want: "Let me know. Once you wrote: that it works",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripQuotedText(tt.in))
		})
	}
}

func TestStripQuotedHTML_RemovesGmailQuote(t *testing.T) {
	in := `<div>Sounds good</div><div class="gmail_quote">On Mon wrote:<blockquote>old</blockquote></div>`

	out := StripQuotedHTML(in)

	assert.Contains(t, out, "Sounds good")
	assert.NotContains(t, out, "gmail_quote")
	assert.NotContains(t, out, "old")
	assert.NotContains(t, out, "<body>")
}

func TestStripQuotedHTML_FullDocumentKeepsHTMLTag(t *testing.T) {
	in := `<html><body><p>Hi</p><div class="gmail_quote">quoted</div></body></html>`

	out := StripQuotedHTML(in)

	assert.Contains(t, out, "<html>")
	assert.Contains(t, out, "<p>Hi</p>")
	assert.NotContains(t, out, "quoted")
}

func TestStripQuotedHTML_UnchangedWithoutQuote(t *testing.T) {
	in := `<p>Hello <b>there</b></p>`
	assert.Equal(t, in, StripQuotedHTML(in))
}

func TestHTMLToText(t *testing.T) {
	in := `<html><head><style>p{color:red}</style></head><body><p>Hello</p><p>world <b>again</b></p><script>x()</script></body></html>`
	assert.Equal(t, "Hello world again", HTMLToText(in))
	assert.Equal(t, "", HTMLToText("   "))
}

func TestPlainContent_FallsBackToHTML(t *testing.T) {
	assert.Equal(t, "text body", plainContent("  text body \n", "<p>html body</p>"))
	assert.Equal(t, "html body", plainContent(" \n ", "<p>html body</p>"))
}
