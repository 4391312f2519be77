package model

import (
	"fmt"
	"time"
)

// Track represents one audio track in the catalog. From the sync engine's
// perspective tracks are immutable reference data: they are resolved by ID
// when a room starts playing and their duration drives client-side behavior.
type Track struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title     string    `json:"title" gorm:"size:255;not null"`
	Artist    string    `json:"artist" gorm:"size:255"`
	Album     string    `json:"album" gorm:"size:255"`
	Duration  float64   `json:"duration"` // Duration in seconds
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}

// StreamURL returns the playback URL clients load for this track. The actual
// byte serving lives in a separate streaming service; only the URL shape is
// agreed on here.
func (t *Track) StreamURL() string {
	return fmt.Sprintf("/stream/%d/playlist.m3u8", t.ID)
}
