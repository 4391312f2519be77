package model

import "time"

// Collection 有序曲目集合（曲库/歌单/文件夹）
type Collection struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Type      string    `json:"type" gorm:"size:20;not null;default:'playlist'"` // library, playlist, folder
	Name      string    `json:"name" gorm:"size:100;not null"`
	ParentID  *string   `json:"parentId,omitempty" gorm:"size:64;index"`
	SortOrder int       `json:"sortOrder" gorm:"default:0"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Collection) TableName() string {
	return "collections"
}

// CollectionEntry 集合成员行。position 在同一集合内唯一且稠密（0..N-1）；
// 同一 trackId 允许出现在多个 position 上。
type CollectionEntry struct {
	ID           int64     `json:"-" gorm:"primaryKey;autoIncrement"`
	CollectionID string    `json:"collectionId" gorm:"size:64;not null;uniqueIndex:uniq_collection_position,priority:1;index:idx_collection_track,priority:1"`
	TrackID      int64     `json:"trackId" gorm:"not null;index:idx_collection_track,priority:2"`
	Position     int       `json:"position" gorm:"not null;uniqueIndex:uniq_collection_position,priority:2"`
	AddedAt      time.Time `json:"addedAt"`
}

// TableName 指定表名
func (CollectionEntry) TableName() string {
	return "collection_entries"
}

// EntryWithTrack 带曲目元数据的集合成员（列表查询用）
type EntryWithTrack struct {
	TrackID  int64     `json:"trackId"`
	Position int       `json:"position"`
	AddedAt  time.Time `json:"addedAt"`
	Title    string    `json:"title"`
	Artist   string    `json:"artist"`
	Album    string    `json:"album"`
	Duration float64   `json:"duration"`
}

// CollectionWithEntries 集合元数据加完整有序成员列表（API 响应用）
type CollectionWithEntries struct {
	Collection
	Entries []EntryWithTrack `json:"entries"`
}

// ========== 常量定义 ==========

const (
	// 集合类型
	CollectionTypeLibrary  = "library"
	CollectionTypePlaylist = "playlist"
	CollectionTypeFolder   = "folder"

	// 固定集合ID（不可删除）
	LibraryCollectionID = "library"
	QueueCollectionID   = "queue"
)
