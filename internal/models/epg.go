package models

import "time"

// EpgFile is a program-guide (XMLTV) source.
type EpgFile struct {
	ID             int64      `json:"id,omitempty"`
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	ChannelCount   int        `json:"channel_count"`
	ProgrammeCount int        `json:"programme_count"`
	LastUpdated    *time.Time `json:"last_updated,omitempty"`
}

// EpgGroup combines an ordered set of EPG files into one lineup.
type EpgGroup struct {
	ID      int64   `json:"id,omitempty"`
	Name    string  `json:"name"`
	FileIDs []int64 `json:"epg_file_ids"`
}

// EpgChannel is a guide channel of one EPG file, keyed by its guide-internal id.
type EpgChannel struct {
	EpgFileID      int64  `json:"epg_file_id"`
	ChannelID      string `json:"channel_id"`
	Name           string `json:"name"`
	Logo           string `json:"logo,omitempty"`
	Group          string `json:"group,omitempty"`
	ProgrammeCount int    `json:"programme_count"`
}

// LineupEntry is a mapping target offered to operators.
type LineupEntry struct {
	Name      string  `json:"name"`
	Logo      string  `json:"logo"`
	TvgID     *string `json:"tvg_id,omitempty"`
	ExtGrp    *string `json:"ext_grp,omitempty"`
	EpgFileID int64   `json:"epg_file_id"`
}

// Key is the entry identity used for de-duplication across files: the
// lineup name, so the same channel offered by two guides appears once.
func (e *LineupEntry) Key() string {
	return e.Name
}

// Mapping converts the entry into a channel mapping value.
func (e *LineupEntry) Mapping() *ChannelMapping {
	return &ChannelMapping{Name: e.Name, Logo: e.Logo, TvgID: e.TvgID, ExtGrp: e.ExtGrp}
}
