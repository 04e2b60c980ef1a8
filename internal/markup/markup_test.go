package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><head><title>Inbox</title><style>p{}</style></head>
<body>
  <ul id="list">
    <li class="item" data-id="1">first</li>
    <li class="item" data-id="2"><b>second</b></li>
  </ul>
  <script>var hidden = 1;</script>
</body></html>`

func TestSelect(t *testing.T) {
	items, err := Select(page, "li.item")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "li", items[0].Tag)
	assert.Equal(t, "first", items[0].Text)
	assert.Equal(t, "1", items[0].Attrs["data-id"])
	assert.Equal(t, "<b>second</b>", items[1].HTML)

	none, err := Select(page, "table")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSelectInvalid(t *testing.T) {
	_, err := Select(page, "li[")
	assert.Error(t, err)
}

func TestXPath(t *testing.T) {
	items, err := XPath(page, "//li[@data-id='2']")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "second", items[0].Text)
	assert.Equal(t, "<b>second</b>", items[0].HTML)
	assert.Equal(t, "li", items[0].Tag)

	_, err = XPath(page, "//li[")
	assert.Error(t, err)
}

func TestText(t *testing.T) {
	text, err := Text(page)
	require.NoError(t, err)
	assert.Equal(t, "Inbox first second", text)
}

func TestSanitize(t *testing.T) {
	out := Sanitize(`<a href="https://example.com" onclick="x()">link</a><script>alert(1)</script>`)
	assert.Contains(t, out, `href="https://example.com"`)
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "script")
}

func TestTooLarge(t *testing.T) {
	big := strings.Repeat("a", MaxHTMLSize+1)
	_, err := Select(big, "p")
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = Text(big)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		contentType string
		text        string
		charset     string
	}{
		{"utf8 declared", []byte("caf\xc3\xa9"), "text/html; charset=UTF-8", "café", "utf-8"},
		{"latin1 declared", []byte("caf\xe9"), "text/plain; charset=ISO-8859-1", "café", "iso-8859-1"},
		{"unknown label", []byte("plain"), "text/plain; charset=bogus", "plain", "utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, cs := Decode(tt.data, tt.contentType)
			assert.Equal(t, tt.text, text)
			assert.Equal(t, tt.charset, cs)
		})
	}
}

func TestDetectCharset(t *testing.T) {
	assert.Equal(t, "utf-8", DetectCharset([]byte("こんにちは、世界。今日はいい天気ですね。")))
	assert.NotEmpty(t, DetectCharset(nil))
}
