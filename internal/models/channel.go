package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Channel represents a persisted stream entry of a playlist.
//
// StreamID is the within-playlist key assigned by the parser (position for
// flat listings, provider stream id for the provider API). It is not the
// identity key used for matching across syncs; that is derived from the
// playlist's identifier configuration.
type Channel struct {
	ID           int64             `json:"id,omitempty"`
	PlaylistID   int64             `json:"playlist_id"`
	StreamID     string            `json:"stream_id"`
	Name         string            `json:"name"`
	StreamURL    string            `json:"stream_url"`
	StreamIcon   *string           `json:"stream_icon,omitempty"`
	CategoryID   *string           `json:"category_id,omitempty"`
	CategoryName *string           `json:"category_name,omitempty"`
	SortOrder    int               `json:"sort_order"`
	Mapping      *ChannelMapping   `json:"mapping,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`

	IsOperational       bool `json:"is_operational"`
	IsOperationalManual bool `json:"is_operational_manual"`
	HasArchive          bool `json:"has_archive"`
	HasArchiveManual    bool `json:"has_archive_manual"`

	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Record returns the channel as a source record so identity keys computed for
// stored and freshly parsed channels go through the same code path.
func (c *Channel) Record() SourceRecord {
	r := SourceRecord{
		IdentityHint: c.StreamID,
		DisplayName:  c.Name,
		StreamRef:    c.StreamURL,
		Attributes:   c.Attributes,
	}
	if c.StreamIcon != nil {
		r.IconRef = *c.StreamIcon
	}
	if c.CategoryName != nil {
		r.CategoryHint = *c.CategoryName
	}
	if c.CategoryID != nil {
		r.CategoryID = *c.CategoryID
	}
	return r
}

// ChannelMapping associates a channel with a program-guide lineup entry.
// It is only ever set by an operator action (manual mapping, JSON import or
// cross-playlist copy), never by a sync.
type ChannelMapping struct {
	Name   string  `json:"name" validate:"required"`
	Logo   string  `json:"logo"`
	TvgID  *string `json:"tvg_id,omitempty"`
	ExtGrp *string `json:"ext_grp,omitempty"`
}

// ParseChannelMapping decodes a stored mapping blob. Empty, malformed or
// nameless blobs yield nil: a bad blob means "no mapping".
func ParseChannelMapping(raw []byte) *ChannelMapping {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var m ChannelMapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	if strings.TrimSpace(m.Name) == "" {
		return nil
	}
	return &m
}

// Marshal encodes the mapping for storage; a nil mapping encodes to nil.
func (m *ChannelMapping) Marshal() ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// SourceRecord is one parsed channel before persistence. It never carries a
// database identity and is discarded at the end of a job run.
type SourceRecord struct {
	IdentityHint string            `json:"stream_id"`
	DisplayName  string            `json:"name"`
	StreamRef    string            `json:"url"`
	IconRef      string            `json:"logo,omitempty"`
	CategoryHint string            `json:"group,omitempty"`
	CategoryID   string            `json:"category_id,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Attr returns a raw attribute value (keys are stored lower-case).
func (r *SourceRecord) Attr(key string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[key]
}

// HasArchive reports whether the source advertises catch-up for the record.
func (r *SourceRecord) HasArchive() bool {
	for _, k := range []string{"catchup-days", "tvg-rec", "timeshift"} {
		if n, err := strconv.Atoi(strings.TrimSpace(r.Attr(k))); err == nil && n > 0 {
			return true
		}
	}
	c := strings.ToLower(strings.TrimSpace(r.Attr("catchup")))
	return c != "" && c != "0" && c != "false"
}
