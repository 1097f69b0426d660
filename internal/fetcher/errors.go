package fetcher

import (
	"fmt"
	"strconv"
)

// FetchError reports a transport failure: network error, timeout, open
// circuit or a non-success HTTP status.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: upstream returned HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports structurally invalid source content.
type ParseError struct {
	Format    string // "m3u", "xtream", "xmltv"
	Construct string // offending construct, when known
	Line      int    // 1-based line, when known
	Err       error
}

func (e *ParseError) Error() string {
	msg := "parse " + e.Format
	if e.Construct != "" {
		msg += " (" + e.Construct + ")"
	}
	if e.Line > 0 {
		msg += " at line " + strconv.Itoa(e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }
