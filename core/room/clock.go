package room

import (
	"math"
	"time"

	"SyncFM/model"
)

// PlaybackClock 单个房间的播放时钟。纯状态机，无 I/O：position 只在状态
// 变更时捕获，“当前位置”由 CurrentPosition 按墙钟推算。并发保护由持有它
// 的 Room 负责，时钟本身不加锁。
type PlaybackClock struct {
	currentTrack *model.Track
	state        string
	position     float64 // 捕获值（秒），不随时间前进
	lastUpdate   time.Time
	volume       float64
	repeatSingle bool
	loopPlaylist bool
	loopStart    *float64
	loopEnd      *float64

	// 可注入的时间源，测试用
	now func() time.Time
}

// NewPlaybackClock 创建停止状态的播放时钟
func NewPlaybackClock() *PlaybackClock {
	return &PlaybackClock{
		state:  model.PlayStateStopped,
		volume: 1.0,
		now:    time.Now,
	}
}

// PlayTrack 装载曲目并从 startPosition 开始播放
func (c *PlaybackClock) PlayTrack(track *model.Track, startPosition float64) {
	if startPosition < 0 {
		startPosition = 0
	}
	c.currentTrack = track
	c.position = startPosition
	c.state = model.PlayStatePlaying
	c.lastUpdate = c.now()
}

// Pause 冻结当前推算位置并暂停。非播放状态下为空操作。
func (c *PlaybackClock) Pause() {
	if c.state != model.PlayStatePlaying {
		return
	}
	pos := c.position + c.now().Sub(c.lastUpdate).Seconds()
	if pos < 0 {
		pos = 0
	}
	if c.currentTrack != nil && pos > c.currentTrack.Duration {
		pos = c.currentTrack.Duration
	}
	c.position = pos
	c.state = model.PlayStatePaused
	c.lastUpdate = c.now()
}

// Resume 从暂停恢复播放。其他状态下为空操作：播放中重复 resume 不能
// 重置计时起点，否则位置会回退到上次捕获值。position 不变，
// 计时从当前时刻重新累积。
func (c *PlaybackClock) Resume() {
	if c.currentTrack == nil || c.state != model.PlayStatePaused {
		return
	}
	c.state = model.PlayStatePlaying
	c.lastUpdate = c.now()
}

// Stop 停止播放并卸载曲目
func (c *PlaybackClock) Stop() {
	c.state = model.PlayStateStopped
	c.position = 0
	c.currentTrack = nil
	c.lastUpdate = c.now()
}

// Seek 跳转到指定位置，播放状态不变
func (c *PlaybackClock) Seek(position float64) {
	if position < 0 {
		position = 0
	}
	if c.currentTrack != nil && position > c.currentTrack.Duration {
		position = c.currentTrack.Duration
	}
	c.position = position
	c.lastUpdate = c.now()
}

// SetVolume 设置音量，范围收敛到 [0,1]，不影响计时字段
func (c *PlaybackClock) SetVolume(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.volume = v
	return c.volume
}

// ToggleRepeatSingle 切换单曲循环，返回新值
func (c *PlaybackClock) ToggleRepeatSingle() bool {
	c.repeatSingle = !c.repeatSingle
	return c.repeatSingle
}

// ToggleLoopPlaylist 切换歌单循环，返回新值
func (c *PlaybackClock) ToggleLoopPlaylist() bool {
	c.loopPlaylist = !c.loopPlaylist
	return c.loopPlaylist
}

// SetLoopPoints 设置 AB 循环区间
func (c *PlaybackClock) SetLoopPoints(start, end float64) {
	c.loopStart = &start
	c.loopEnd = &end
}

// ClearLoopPoints 清除 AB 循环区间
func (c *PlaybackClock) ClearLoopPoints() {
	c.loopStart = nil
	c.loopEnd = nil
}

// CurrentTrack 当前装载的曲目，可能为 nil
func (c *PlaybackClock) CurrentTrack() *model.Track {
	return c.currentTrack
}

// State 当前播放状态
func (c *PlaybackClock) State() string {
	return c.state
}

// RepeatSingle 是否单曲循环
func (c *PlaybackClock) RepeatSingle() bool {
	return c.repeatSingle
}

// LoopPlaylist 是否歌单循环
func (c *PlaybackClock) LoopPlaylist() bool {
	return c.loopPlaylist
}

// CurrentPosition 推算当前播放位置。播放中为捕获位置加流逝时间；
// 单曲循环且设置了有限 loopEnd 时，超出部分按循环区间取模回卷，
// 模拟子区间的原地循环。非播放状态直接返回冻结位置。
func (c *PlaybackClock) CurrentPosition() float64 {
	if c.state != model.PlayStatePlaying {
		return c.position
	}

	pos := c.position + c.now().Sub(c.lastUpdate).Seconds()

	if c.repeatSingle && c.loopEnd != nil {
		start := 0.0
		if c.loopStart != nil {
			start = *c.loopStart
		}
		span := *c.loopEnd - start
		if span > 0 && pos > *c.loopEnd {
			pos = start + math.Mod(pos-start, span)
		}
	}

	return pos
}

// Snapshot 生成可序列化的状态快照，position 为推算后的当前值
func (c *PlaybackClock) Snapshot() *model.PlaybackSnapshot {
	return &model.PlaybackSnapshot{
		Track:        c.currentTrack,
		State:        c.state,
		Position:     c.CurrentPosition(),
		Volume:       c.volume,
		RepeatSingle: c.repeatSingle,
		LoopPlaylist: c.loopPlaylist,
		LoopStart:    c.loopStart,
		LoopEnd:      c.loopEnd,
		UpdatedAt:    c.now().UnixMilli(),
	}
}
