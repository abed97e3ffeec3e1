package feed

import (
	"bytes"
	"mime"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode converts a fetched feed body to plain UTF-8.
//
// RFC 5545 feeds are UTF-8, but real servers occasionally label (or silently
// serve) Latin-1 or Windows-1252. The charset parameter of contentType wins
// when present; otherwise the body is assumed UTF-8. A leading UTF-8 BOM is
// stripped either way.
func Decode(body []byte, contentType string) ([]byte, error) {
	charset := ""
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			charset = strings.ToLower(params["charset"])
		}
	}

	switch charset {
	case "iso-8859-1", "latin1", "latin-1":
		decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), body)
		if err != nil {
			return nil, err
		}
		return decoded, nil
	case "windows-1252", "cp1252":
		decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), body)
		if err != nil {
			return nil, err
		}
		return decoded, nil
	default:
		// utf-8, us-ascii, or unlabeled.
		return bytes.TrimPrefix(body, utf8BOM), nil
	}
}
