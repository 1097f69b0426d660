// Package identity derives the stable identity key used to correlate a
// channel across syncs, mapping copies and lineup associations.
//
// Extraction is pure: the same record and strategy always produce the same
// key, whether called while diffing a sync or when displaying identifiers.
package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/voyagen/guidevault/internal/models"
)

// MetadataKey is one of the attribute keys an identity may be read from.
type MetadataKey int

const (
	KeyTvgID MetadataKey = iota + 1
	KeyTvgName
	KeyTvgLogo
	KeyGroupTitle
	KeyTvgRec
	KeyTvgChno
	KeyTimeshift
	KeyCatchup
	KeyCatchupDays
	KeyCatchupSource
	KeyCatchupCorrection
	KeyCUID
	KeyXUIID
)

var metadataKeyNames = map[MetadataKey]string{
	KeyTvgID:             "tvg-id",
	KeyTvgName:           "tvg-name",
	KeyTvgLogo:           "tvg-logo",
	KeyGroupTitle:        "group-title",
	KeyTvgRec:            "tvg-rec",
	KeyTvgChno:           "tvg-chno",
	KeyTimeshift:         "timeshift",
	KeyCatchup:           "catchup",
	KeyCatchupDays:       "catchup-days",
	KeyCatchupSource:     "catchup-source",
	KeyCatchupCorrection: "catchup-correction",
	KeyCUID:              "cuid",
	KeyXUIID:             "xui-id",
}

// MetadataKeys returns the recognized attribute names in declaration order.
func MetadataKeys() []string {
	out := make([]string, 0, len(metadataKeyNames))
	for k := KeyTvgID; k <= KeyXUIID; k++ {
		out = append(out, metadataKeyNames[k])
	}
	return out
}

func (k MetadataKey) String() string {
	if s, ok := metadataKeyNames[k]; ok {
		return s
	}
	return fmt.Sprintf("MetadataKey(%d)", int(k))
}

// ParseMetadataKey resolves an attribute name (case-insensitive).
func ParseMetadataKey(s string) (MetadataKey, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range metadataKeyNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown metadata key %q", s)
}

type kind int

const (
	byName kind = iota
	byStreamURLRegex
	byMetadata
)

// Strategy is a configured way of deriving identity keys. The zero value
// identifies channels by display name.
type Strategy struct {
	kind kind
	re   *regexp.Regexp
	key  MetadataKey
}

// ByName identifies channels by their display name, verbatim.
func ByName() Strategy {
	return Strategy{kind: byName}
}

// ByStreamURLRegex identifies channels by the first capture group of pattern
// applied to the stream URL. Patterns may be written as /literal/flags with
// the i, m and s flags.
func ByStreamURLRegex(pattern string) (Strategy, error) {
	re, err := compileLiteral(pattern)
	if err != nil {
		return Strategy{}, err
	}
	return Strategy{kind: byStreamURLRegex, re: re}, nil
}

// ByMetadata identifies channels by one recognized attribute.
func ByMetadata(key string) (Strategy, error) {
	k, err := ParseMetadataKey(key)
	if err != nil {
		return Strategy{}, err
	}
	return Strategy{kind: byMetadata, key: k}, nil
}

// ForPlaylist builds the strategy configured on a playlist.
func ForPlaylist(p *models.Playlist) (Strategy, error) {
	switch p.IdentifierSource {
	case "", models.IdentifierByName:
		return ByName(), nil
	case models.IdentifierByStreamURLRegex:
		return ByStreamURLRegex(p.IdentifierRegex)
	case models.IdentifierByMetadata:
		return ByMetadata(p.IdentifierMetadataKey)
	}
	return Strategy{}, fmt.Errorf("unknown identifier source %q", p.IdentifierSource)
}

// String describes the strategy, e.g. "metadata(tvg-id)".
func (s Strategy) String() string {
	switch s.kind {
	case byStreamURLRegex:
		return "stream_url_regex(" + s.re.String() + ")"
	case byMetadata:
		return "metadata(" + s.key.String() + ")"
	}
	return "name"
}

// Extract returns the identity key of r.
func (s Strategy) Extract(r *models.SourceRecord) string {
	switch s.kind {
	case byStreamURLRegex:
		if m := s.re.FindStringSubmatch(r.StreamRef); len(m) > 1 && m[1] != "" {
			return m[1]
		}
		return r.DisplayName
	case byMetadata:
		if v := strings.TrimSpace(r.Attr(s.key.String())); v != "" {
			return v
		}
		if s.key == KeyXUIID && r.IdentityHint != "" {
			return r.IdentityHint
		}
		return r.DisplayName
	}
	return r.DisplayName
}

// Extract is a convenience for s.Extract(&r).
func Extract(r models.SourceRecord, s Strategy) string {
	return s.Extract(&r)
}

// ChannelKey returns the identity key of a stored channel.
func (s Strategy) ChannelKey(c *models.Channel) string {
	r := c.Record()
	return s.Extract(&r)
}

func compileLiteral(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty identifier regex")
	}
	expr := pattern
	if len(pattern) >= 2 && pattern[0] == '/' {
		if end := strings.LastIndex(pattern, "/"); end > 0 {
			expr = pattern[1:end]
			var flags string
			for _, f := range pattern[end+1:] {
				switch f {
				case 'i', 'm', 's':
					if !strings.ContainsRune(flags, f) {
						flags += string(f)
					}
				case 'g', 'u':
				default:
					return nil, fmt.Errorf("identifier regex %q: unsupported flag %q", pattern, f)
				}
			}
			if flags != "" {
				expr = "(?" + flags + ")" + expr
			}
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("identifier regex %q: %w", pattern, err)
	}
	return re, nil
}
