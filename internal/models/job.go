package models

import (
	"errors"
	"time"
)

// JobStatus is a state of the job state machine:
// pending -> downloading -> parsing -> importing -> completed, or -> failed
// from any non-terminal state.
type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobDownloading JobStatus = "downloading"
	JobParsing     JobStatus = "parsing"
	JobImporting   JobStatus = "importing"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
)

var jobStatusRank = map[JobStatus]int{
	JobPending:     0,
	JobDownloading: 1,
	JobParsing:     2,
	JobImporting:   3,
	JobCompleted:   4,
	JobFailed:      4,
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := jobStatusRank[s]
	return ok
}

// CanTransition reports whether the machine may move from s to next.
// Transitions only move forward; phases may be skipped, states never re-entered.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next == JobFailed {
		return true
	}
	return jobStatusRank[next] > jobStatusRank[s]
}

// ErrJobFinished is returned when updating a job that already reached a
// terminal status (for example after the reaper failed it).
var ErrJobFinished = errors.New("job already finished")

// JobType distinguishes the two job records.
type JobType string

const (
	JobTypeSync   JobType = "sync"
	JobTypeImport JobType = "import"
)

// JobRef is the part of a job record that admission and reaping look at.
type JobRef struct {
	ID        int64     `json:"id"`
	Type      JobType   `json:"type"`
	Target    Target    `json:"target"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SummaryPreviewLimit caps the channel name lists exposed in a SyncSummary.
const SummaryPreviewLimit = 20

// SyncSummary is the diff outcome of a completed sync.
type SyncSummary struct {
	AddedChannels   []string `json:"added_channels"`
	RemovedChannels []string `json:"removed_channels"`
	AddedCount      int      `json:"added_count"`
	RemovedCount    int      `json:"removed_count"`
	UnchangedCount  int      `json:"unchanged_count"`
	DuplicateCount  int      `json:"duplicate_count"`
}

// SyncJob tracks one sync run of a playlist or EPG file.
type SyncJob struct {
	ID              int64        `json:"id"`
	TargetKind      TargetKind   `json:"target_kind"`
	TargetID        int64        `json:"target_id"`
	Status          JobStatus    `json:"status"`
	Progress        int          `json:"progress"`
	Message         string       `json:"message"`
	Error           *string      `json:"error,omitempty"`
	Summary         *SyncSummary `json:"summary,omitempty"`
	TotalChannels   int          `json:"total_channels"`
	TotalCategories int          `json:"total_categories"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty"`
}

// Target returns the job's target.
func (j *SyncJob) Target() Target {
	return Target{Kind: j.TargetKind, ID: j.TargetID}
}

// ImportJob tracks a JSON mapping import or a cross-playlist mapping copy.
type ImportJob struct {
	ID                          int64      `json:"id"`
	PlaylistID                  int64      `json:"playlist_id"`
	SourcePlaylistID            *int64     `json:"source_playlist_id,omitempty"`
	Status                      JobStatus  `json:"status"`
	Progress                    int        `json:"progress"`
	Message                     string     `json:"message"`
	Error                       *string    `json:"error,omitempty"`
	Mapped                      int        `json:"mapped"`
	NotFound                    int        `json:"not_found"`
	ChannelsInJSONNotInPlaylist []string   `json:"channels_in_json_not_in_playlist"`
	ChannelsInPlaylistNotInJSON []string   `json:"channels_in_playlist_not_in_json"`
	CreatedAt                   time.Time  `json:"created_at"`
	UpdatedAt                   time.Time  `json:"updated_at"`
	FinishedAt                  *time.Time `json:"finished_at,omitempty"`
}

// Target returns the playlist the import writes to.
func (j *ImportJob) Target() Target {
	return Target{Kind: TargetPlaylist, ID: j.PlaylistID}
}

// MappingEntry is one element of a JSON mapping import, and of the JSON
// channel export. Exporting then importing the same selection matches the
// same channels.
type MappingEntry struct {
	Identifier string            `json:"identifier,omitempty"`
	Name       string            `json:"name" validate:"required_without=Identifier"`
	URL        string            `json:"url,omitempty"`
	StreamID   string            `json:"stream_id,omitempty"`
	Group      string            `json:"group,omitempty"`
	Logo       string            `json:"logo,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Mapping    *ChannelMapping   `json:"mapping,omitempty"`
}

// Record converts the entry into a source record for identity resolution.
func (e *MappingEntry) Record() SourceRecord {
	return SourceRecord{
		IdentityHint: e.StreamID,
		DisplayName:  e.Name,
		StreamRef:    e.URL,
		IconRef:      e.Logo,
		CategoryHint: e.Group,
		Attributes:   e.Attributes,
	}
}
