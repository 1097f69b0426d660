package models

import "strconv"

// Playlist source type constants.
const (
	SourceTypeM3U    int16 = 0 // flat listing fetched from a URL
	SourceTypeXtream int16 = 2 // provider query API (player_api.php)
)

// TargetKind names the kind of entity a job runs against.
type TargetKind string

const (
	TargetPlaylist TargetKind = "playlist"
	TargetEpgFile  TargetKind = "epgFile"
)

// Valid reports whether k is a known kind.
func (k TargetKind) Valid() bool {
	return k == TargetPlaylist || k == TargetEpgFile
}

// ParseTargetKind accepts the kinds used in URLs ("playlist", "epgFile", "epg-file").
func ParseTargetKind(s string) (TargetKind, bool) {
	switch s {
	case "playlist", "playlists":
		return TargetPlaylist, true
	case "epgFile", "epg-file", "epgfile", "epg":
		return TargetEpgFile, true
	}
	return "", false
}

// Target identifies one playlist or EPG file.
type Target struct {
	Kind TargetKind `json:"target_kind"`
	ID   int64      `json:"target_id"`
}

func (t Target) String() string {
	return string(t.Kind) + ":" + strconv.FormatInt(t.ID, 10)
}

// UnknownChannelName is used for records that carry no metadata line.
const UnknownChannelName = "Unknown Channel"

// CatchAllCategory is the reserved lineup category for entries without a group.
const CatchAllCategory = "Uncategorized"
