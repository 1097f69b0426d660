package models

// Category represents a channel category of a playlist (group-title in M3U,
// live category in the provider API).
type Category struct {
	ID           int64  `json:"id,omitempty"`
	PlaylistID   int64  `json:"playlist_id"`
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	// IsSelected marks categories included in provider-API channel sync.
	// It is independent of IsHidden, which only affects display.
	IsSelected bool `json:"is_selected"`
	IsHidden   bool `json:"is_hidden"`
	SortOrder  int  `json:"sort_order"`
}

// CategoryHint is a category as observed in a source before persistence.
type CategoryHint struct {
	ID   string `json:"category_id"`
	Name string `json:"category_name"`
}
