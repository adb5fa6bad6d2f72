package devserver

import (
	"bytes"
	"mime"
	"strings"
)

var snippet = []byte(`<script src="` + ClientPath + `" async></script>`)

// inject inserts the client script before the last closing body tag, or
// appends it when the document has none.
func inject(body []byte) []byte {
	if bytes.Contains(body, snippet) {
		return body
	}
	idx := bytes.LastIndex(bytes.ToLower(body), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte(nil), body...), snippet...)
	}
	out := make([]byte, 0, len(body)+len(snippet))
	out = append(out, body[:idx]...)
	out = append(out, snippet...)
	return append(out, body[idx:]...)
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(contentType), "text/html")
	}
	return mt == "text/html"
}
