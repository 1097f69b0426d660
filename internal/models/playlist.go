package models

import "time"

// Identifier sources a playlist can be configured with.
const (
	IdentifierByName           = "name"
	IdentifierByStreamURLRegex = "stream_url_regex"
	IdentifierByMetadata       = "metadata"
)

// Playlist represents an IPTV playlist source (flat M3U listing or provider API).
type Playlist struct {
	ID         int64  `json:"id,omitempty"`
	Name       string `json:"name"`
	URL        string `json:"url,omitempty"`
	SourceType int16  `json:"source_type"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"-"`
	StreamExt  string `json:"stream_ext,omitempty"` // provider API only: "ts" or "m3u8"
	UserAgent  string `json:"user_agent,omitempty"`

	// Identity key configuration used to match channels across syncs.
	IdentifierSource      string `json:"identifier_source"`
	IdentifierRegex       string `json:"identifier_regex,omitempty"`
	IdentifierMetadataKey string `json:"identifier_metadata_key,omitempty"`

	GuideURL    *string    `json:"guide_url,omitempty"` // advertised by the #EXTM3U header
	Enabled     bool       `json:"enabled"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// IsProviderAPI reports whether channels come from the provider query API.
func (p *Playlist) IsProviderAPI() bool {
	return p.SourceType == SourceTypeXtream
}
