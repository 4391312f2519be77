package model

// 播放状态机的三个状态
const (
	PlayStateStopped = "stopped"
	PlayStatePlaying = "playing"
	PlayStatePaused  = "paused"
)

// PlaybackSnapshot 某一时刻的房间播放状态快照。position 是快照时刻的推算值，
// 不随时间继续前进；客户端结合 updatedAt 自行外推。
type PlaybackSnapshot struct {
	Track        *Track   `json:"track,omitempty"`
	State        string   `json:"state"` // stopped, playing, paused
	Position     float64  `json:"position"`
	Volume       float64  `json:"volume"`
	RepeatSingle bool     `json:"repeatSingle"`
	LoopPlaylist bool     `json:"loopPlaylist"`
	LoopStart    *float64 `json:"loopStart,omitempty"`
	LoopEnd      *float64 `json:"loopEnd,omitempty"`
	UpdatedAt    int64    `json:"updatedAt"` // 时间戳毫秒
}

// RoomSummary 房间摘要（API 响应用）
type RoomSummary struct {
	ID           string  `json:"id"`
	Number       int     `json:"number"`
	ClientCount  int     `json:"clientCount"`
	State        string  `json:"state"`
	CurrentTrack *Track  `json:"currentTrack,omitempty"`
	Position     float64 `json:"position"`
}
