package fetcher

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/voyagen/guidevault/internal/models"
)

// reAttr matches key="value" pairs. The key must start at a word boundary, so
// tvg-id never matches inside xtv-tvg-id.
var reAttr = regexp.MustCompile(`(?:^|[\s,])([A-Za-z0-9_-]+)="([^"]*)"`)

var vlcOpts = map[string]struct{}{
	"http-origin":     {},
	"http-referrer":   {},
	"http-user-agent": {},
}

// ParseM3U reads a flat M3U listing. Records are numbered by position
// (1-based) in IdentityHint; #EXTGRP overrides group-title for the category.
// Lines that are neither directives nor stream locations are skipped.
func ParseM3U(r io.Reader) (*Result, error) {
	scanner := bufio.NewScanner(r)
	// Some providers emit EXTINF lines well past the default token size.
	const maxSize = 1024 * 1024
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxSize)

	var (
		res      Result
		cats     categorySet
		header   bool
		pending  *models.SourceRecord
		group    string
		opts     map[string]string
		lineNo   int
		nonBlank int
	)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		nonBlank++
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "#EXTM3U"):
			header = true
			attrs := parseAttrs(line)
			if u := attrs["url-tvg"]; u != "" {
				res.GuideURL = u
			} else if u := attrs["x-tvg-url"]; u != "" {
				res.GuideURL = u
			}
		case strings.HasPrefix(upper, "#EXTINF"):
			// An EXTINF without a URL line is dropped. EXTGRP and EXTVLCOPT
			// lines seen since the last URL apply whether they come before or
			// after the EXTINF.
			rec := parseExtinf(line)
			pending = &rec
		case strings.HasPrefix(upper, "#EXTGRP:"):
			group = strings.TrimSpace(line[len("#EXTGRP:"):])
		case strings.HasPrefix(upper, "#EXTVLCOPT:"):
			k, v, ok := strings.Cut(line[len("#EXTVLCOPT:"):], "=")
			k = strings.ToLower(strings.TrimSpace(k))
			if _, known := vlcOpts[k]; ok && known {
				if opts == nil {
					opts = make(map[string]string)
				}
				opts[k] = strings.TrimSpace(v)
			}
		case strings.HasPrefix(line, "#"):
		case nonBlank == 1 && strings.HasPrefix(line, "<"):
			return nil, &ParseError{Format: "m3u", Construct: "header", Line: lineNo, Err: errors.New("payload is markup, not a playlist")}
		case !isStreamRef(line):
		default:
			rec := models.SourceRecord{DisplayName: models.UnknownChannelName}
			if pending != nil {
				rec = *pending
			}
			rec.StreamRef = line
			rec.IdentityHint = strconv.Itoa(len(res.Records) + 1)
			if group != "" {
				rec.CategoryHint = group
			}
			if len(opts) > 0 {
				if rec.Attributes == nil {
					rec.Attributes = make(map[string]string, len(opts))
				}
				for k, v := range opts {
					rec.Attributes[k] = v
				}
			}
			rec.CategoryID = rec.CategoryHint
			cats.add(rec.CategoryID, rec.CategoryHint)
			res.Records = append(res.Records, rec)
			pending, group, opts = nil, "", nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Format: "m3u", Construct: "line", Line: lineNo + 1, Err: err}
	}
	if !header && len(res.Records) == 0 {
		return nil, &ParseError{Format: "m3u", Construct: "header", Err: errors.New("missing #EXTM3U header and no entries")}
	}
	res.Categories = cats.list
	return &res, nil
}

// isStreamRef reports whether line can be a stream location: a URL with a
// scheme, or a path with no whitespace that names a directory or a file
// with an extension.
func isStreamRef(line string) bool {
	if strings.ContainsAny(line, " \t") {
		return false
	}
	u, err := url.Parse(line)
	if err != nil {
		return false
	}
	if u.Scheme != "" {
		return u.Host != "" || u.Opaque != "" || u.Path != ""
	}
	return strings.Contains(line, "/") || path.Ext(line) != ""
}

// ParseM3UBytes is ParseM3U over an in-memory payload.
func ParseM3UBytes(data []byte) (*Result, error) {
	return ParseM3U(bytes.NewReader(data))
}

// parseExtinf builds a record from one #EXTINF line. Attributes live before
// the first unquoted comma; the display name follows it.
func parseExtinf(line string) models.SourceRecord {
	meta, name := splitExtinf(line)
	attrs := parseAttrs(meta)
	rec := models.SourceRecord{
		DisplayName:  strings.TrimSpace(name),
		IconRef:      attrs["tvg-logo"],
		CategoryHint: attrs["group-title"],
	}
	if len(attrs) > 0 {
		rec.Attributes = attrs
	}
	if rec.DisplayName == "" {
		rec.DisplayName = firstNonEmpty(attrs["tvg-name"], attrs["tvg-id"], models.UnknownChannelName)
	}
	return rec
}

func splitExtinf(line string) (meta, name string) {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				return line[:i], line[i+1:]
			}
		}
	}
	return line, ""
}

// parseAttrs returns the key="value" pairs of s with keys lowercased. The
// first occurrence of a key wins.
func parseAttrs(s string) map[string]string {
	matches := reAttr.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(matches))
	for _, m := range matches {
		k := strings.ToLower(m[1])
		if _, ok := attrs[k]; ok {
			continue
		}
		attrs[k] = strings.TrimSpace(m[2])
	}
	return attrs
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
