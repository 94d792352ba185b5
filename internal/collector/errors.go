package collector

import "errors"

var (
	errUnrecognizedEncoding = errors.New("collector: no candidate text encoding decoded the file")
	errMagicMismatch        = errors.New("collector: file extension does not match its magic number")
	errNoParserMatched      = errors.New("collector: header sniff matched no registered parser")
	errNoRows               = errors.New("collector: parser produced no rows")
)
