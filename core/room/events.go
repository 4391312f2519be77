package room

import (
	"encoding/json"

	"SyncFM/model"
)

// MessageType 消息类型
type MessageType string

const (
	// 系统消息
	MsgTypeJoin         MessageType = "join_room"     // 加入房间
	MsgTypeRequestState MessageType = "request_state" // 请求当前状态
	MsgTypeError        MessageType = "error"         // 错误消息
	MsgTypePing         MessageType = "ping"          // 心跳
	MsgTypePong         MessageType = "pong"          // 心跳响应
	MsgTypeListRooms    MessageType = "list_rooms"    // 查询房间列表

	// 播放控制指令
	MsgTypePlay         MessageType = "play"          // 播放指定曲目
	MsgTypePause        MessageType = "pause"         // 暂停
	MsgTypeResume       MessageType = "resume"        // 恢复
	MsgTypeStop         MessageType = "stop"          // 停止
	MsgTypeSeek         MessageType = "seek"          // 跳转
	MsgTypeSetVolume    MessageType = "set_volume"    // 音量
	MsgTypeToggleRepeat MessageType = "toggle_repeat" // 单曲循环开关
	MsgTypeToggleLoop   MessageType = "toggle_loop"   // 歌单循环开关
	MsgTypeSetLoop      MessageType = "set_loop"      // 设置/清除 AB 循环区间
	MsgTypePlayNext     MessageType = "play_next"     // 切下一首

	// 客户端上报
	MsgTypePositionReport MessageType = "position_report" // 播放进度上报（仅监控）
	MsgTypeClientError    MessageType = "client_error"    // 客户端错误上报（仅记录）
	MsgTypeTrackEnded     MessageType = "track_ended"     // 曲目播完，触发自动切歌

	// 服务端广播事件
	MsgTypePlayTrack        MessageType = "play_track"
	MsgTypeVolumeChange     MessageType = "volume_change"
	MsgTypeRepeatModeChange MessageType = "repeat_mode_change"
	MsgTypeLoopModeChange   MessageType = "loop_mode_change"
	MsgTypePositionCheck    MessageType = "position_check"
	MsgTypeStateSync        MessageType = "state_sync"
	MsgTypeRoomJoined       MessageType = "room_joined"
	MsgTypeRoomsInfo        MessageType = "rooms_info"
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ========== 广播事件载荷 ==========

// PlayTrackEvent play_track 事件：scheduledStartTime 是客户端应当开始本地
// 播放的未来时刻，用于吸收加载与网络抖动
type PlayTrackEvent struct {
	TrackID            int64   `json:"trackId"`
	StreamURL          string  `json:"streamUrl"`
	Title              string  `json:"title"`
	Artist             string  `json:"artist"`
	Album              string  `json:"album"`
	Duration           float64 `json:"duration"`
	StartPosition      float64 `json:"startPosition"`
	ScheduledStartTime int64   `json:"scheduledStartTime"`
	ServerTimestamp    int64   `json:"serverTimestamp"`
}

// PauseEvent pause 事件
type PauseEvent struct {
	Position        float64 `json:"position"`
	ServerTimestamp int64   `json:"serverTimestamp"`
}

// ResumeEvent resume/seek 事件
type ResumeEvent struct {
	Position           float64 `json:"position"`
	ScheduledStartTime int64   `json:"scheduledStartTime"`
	ServerTimestamp    int64   `json:"serverTimestamp"`
}

// StopEvent stop 事件
type StopEvent struct {
	ServerTimestamp int64 `json:"serverTimestamp"`
}

// VolumeChangeEvent volume_change 事件
type VolumeChangeEvent struct {
	Volume          float64 `json:"volume"`
	ServerTimestamp int64   `json:"serverTimestamp"`
}

// RepeatModeChangeEvent repeat_mode_change 事件
type RepeatModeChangeEvent struct {
	RepeatMode      bool  `json:"repeatMode"`
	ServerTimestamp int64 `json:"serverTimestamp"`
}

// LoopModeChangeEvent loop_mode_change 事件
type LoopModeChangeEvent struct {
	LoopPlaylist    bool  `json:"loopPlaylist"`
	ServerTimestamp int64 `json:"serverTimestamp"`
}

// PositionCheckEvent position_check 事件。仅提供基准位置和容忍度，
// 是否纠偏由接收端客户端自行判定。
type PositionCheckEvent struct {
	ExpectedPosition float64 `json:"expectedPosition"`
	MaxDrift         float64 `json:"maxDrift"` // 秒
	ServerTimestamp  int64   `json:"serverTimestamp"`
}

// StateSyncEvent state_sync 事件：完整时钟快照加房间歌单
type StateSyncEvent struct {
	model.PlaybackSnapshot
	Playlist   []model.EntryWithTrack `json:"playlist"`
	ServerTime int64                  `json:"serverTime"`
}

// RoomJoinedEvent room_joined 事件
type RoomJoinedEvent struct {
	RoomID      string `json:"roomId"`
	RoomNumber  int    `json:"roomNumber"`
	ClientCount int    `json:"clientCount"`
}

// RoomsInfoEvent rooms_info 事件
type RoomsInfoEvent struct {
	Rooms []model.RoomSummary `json:"rooms"`
}

// ErrorEvent error 事件
type ErrorEvent struct {
	Message string `json:"message"`
}

// ========== 指令载荷 ==========

// PlayCommand play 指令数据
type PlayCommand struct {
	TrackID       int64   `json:"trackId"`
	StartPosition float64 `json:"startPosition,omitempty"`
}

// SeekCommand seek 指令数据
type SeekCommand struct {
	Position float64 `json:"position"`
}

// VolumeCommand set_volume 指令数据
type VolumeCommand struct {
	Volume float64 `json:"volume"`
}

// JoinRoomCommand join_room 指令数据
type JoinRoomCommand struct {
	RoomID string `json:"roomId"`
}

// LoopPointsCommand set_loop 指令数据；start/end 都为空表示清除区间
type LoopPointsCommand struct {
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

// PositionReport position_report 上报数据
type PositionReport struct {
	Position        float64 `json:"position"`
	State           string  `json:"state"`
	ClientTimestamp int64   `json:"clientTimestamp"`
}

// ClientErrorReport client_error 上报数据
type ClientErrorReport struct {
	Error   string `json:"error"`
	TrackID int64  `json:"trackId,omitempty"`
}
