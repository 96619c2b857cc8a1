package transfer

import (
	"fmt"
	"strings"
)

const fallbackFilename = "download"

// SanitizeFilename makes name safe to embed in a quoted header parameter.
// CR and LF are dropped; quotes, slashes, backslashes and anything outside
// printable ASCII become '_'.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '\r' || r == '\n':
		case r == '"' || r == '\\' || r == '/':
			b.WriteByte('_')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return fallbackFilename
	}
	return out
}

// ContentDisposition builds the Content-Disposition value for a download.
// Browsers get previewable types inline; everything else is an attachment.
// Non-ASCII names additionally carry an RFC 5987 filename* parameter.
func ContentDisposition(name, mimeType string, acceptsHTML bool) string {
	disposition := "attachment"
	if acceptsHTML && inlineable(mimeType) {
		disposition = "inline"
	}

	v := fmt.Sprintf(`%s; filename="%s"`, disposition, SanitizeFilename(name))
	if !isPlainASCII(name) {
		v += "; filename*=UTF-8''" + encodeExtValue(name)
	}
	return v
}

func inlineable(mimeType string) bool {
	mt, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	mt = strings.TrimSpace(mt)
	switch {
	case mt == "application/pdf":
		return true
	case mt == "image/svg+xml", mt == "text/html":
		return false
	case strings.HasPrefix(mt, "image/"),
		strings.HasPrefix(mt, "video/"),
		strings.HasPrefix(mt, "audio/"),
		strings.HasPrefix(mt, "text/"):
		return true
	}
	return false
}

// encodeExtValue percent-encodes every byte outside the RFC 5987 attr-char set.
func encodeExtValue(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

func isPlainASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
