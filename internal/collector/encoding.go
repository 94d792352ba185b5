package collector

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText implements pipeline step 2 (spec §4.3 encoding detection). It
// tries UTF-8 with BOM, UTF-8, GB18030, GBK and Latin-1, in that order, and
// returns the first that both decodes cleanly and yields
// valid UTF-8 once the conversion in is done.
func decodeText(raw []byte) (string, string, error) {
	if bytes.HasPrefix(raw, utf8BOM) {
		return string(raw[len(utf8BOM):]), "UTF-8-BOM", nil
	}
	if utf8.Valid(raw) {
		return string(raw), "UTF-8", nil
	}

	if text, err := simplifiedchinese.GB18030.NewDecoder().Bytes(raw); err == nil && utf8.Valid(text) {
		// GB18030 is a superset of GBK; trying it first and only falling
		// back to plain GBK keeps the common case (modern exports) on the
		// first decode attempt.
		return string(text), "GB18030", nil
	}
	if text, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw); err == nil && utf8.Valid(text) {
		return string(text), "GBK", nil
	}
	if text, err := charmap.ISO8859_1.NewDecoder().Bytes(raw); err == nil {
		return string(text), "Latin-1", nil
	}

	return "", "", errUnrecognizedEncoding
}
