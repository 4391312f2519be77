package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"SyncFM/cache"
	"SyncFM/logger"
	"SyncFM/model"
	"SyncFM/repository"
)

// Broadcaster 发往客户端的传输抽象。实现方负责投递；
// 同一房间内事件的投递顺序必须与调用顺序一致。
type Broadcaster interface {
	Broadcast(roomID string, event MessageType, payload interface{})
	SendTo(clientID string, event MessageType, payload interface{})
}

// 自动切歌的结果原因。切不动不是错误，是预期内的稳态。
const (
	ReasonEmptyPlaylist      = "empty_playlist"
	ReasonNoCurrentTrack     = "no_current_track"
	ReasonTrackNotInPlaylist = "track_not_in_playlist"
	ReasonEndOfPlaylist      = "end_of_playlist"
)

// AdvanceResult 自动切歌的结果
type AdvanceResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Options 同步控制器的时间参数
type Options struct {
	PlayBuffer    time.Duration // play/resume/seek 的调度缓冲
	CheckInterval time.Duration // position_check 周期
	MaxDrift      time.Duration // 广播给客户端的漂移容忍度
}

// SyncController 播放同步控制器，进程内单例。所有房间的指令都经它串行化：
// 指令在持有房间锁期间完成时钟读改写和事件入队，保证单房间内事件顺序与
// 指令应用顺序一致（跨房间无顺序保证）。
type SyncController struct {
	registry    *RoomRegistry
	store       repository.CollectionStore
	tracks      repository.TrackRepository
	broadcaster Broadcaster
	roomCache   *cache.RoomCache // 可为 nil（纯内存模式，测试用）

	playBuffer    time.Duration
	checkInterval time.Duration
	maxDrift      time.Duration

	now func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSyncController 创建同步控制器。依赖全部构造注入，便于测试替换。
func NewSyncController(registry *RoomRegistry, store repository.CollectionStore, tracks repository.TrackRepository, broadcaster Broadcaster, roomCache *cache.RoomCache, opts Options) *SyncController {
	if opts.PlayBuffer <= 0 {
		opts.PlayBuffer = time.Second
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 5 * time.Second
	}
	if opts.MaxDrift <= 0 {
		opts.MaxDrift = 500 * time.Millisecond
	}
	return &SyncController{
		registry:      registry,
		store:         store,
		tracks:        tracks,
		broadcaster:   broadcaster,
		roomCache:     roomCache,
		playBuffer:    opts.PlayBuffer,
		checkInterval: opts.CheckInterval,
		maxDrift:      opts.MaxDrift,
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// Start 为每个房间启动一个 position_check 定时器
func (c *SyncController) Start() {
	for _, rm := range c.registry.Rooms() {
		c.wg.Add(1)
		go c.runPositionChecker(rm)
	}
	logger.Info("sync controller started",
		logger.Int("rooms", len(c.registry.Rooms())),
		logger.Duration("checkInterval", c.checkInterval))
}

// Shutdown 停止全部定时器并等待退出
func (c *SyncController) Shutdown() {
	close(c.done)
	c.wg.Wait()
}

// runPositionChecker 周期性广播基准播放位置。只读时钟，播放中才发声；
// 时钟空载或暂停时本轮静默，定时器本身永不失败。
func (c *SyncController) runPositionChecker(rm *Room) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			rm.mu.Lock()
			if rm.clock.State() == model.PlayStatePlaying {
				c.broadcaster.Broadcast(rm.ID, MsgTypePositionCheck, &PositionCheckEvent{
					ExpectedPosition: rm.clock.CurrentPosition(),
					MaxDrift:         c.maxDrift.Seconds(),
					ServerTimestamp:  c.now().UnixMilli(),
				})
			}
			rm.mu.Unlock()
		}
	}
}

// ========== 播放指令 ==========

// PlayTrack 在房间内播放指定曲目。曲目经曲库解析，未知曲目在任何状态
// 变更前拒绝。
func (c *SyncController) PlayTrack(ctx context.Context, roomID string, trackID int64, startPosition float64) (*model.PlaybackSnapshot, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	track, err := c.tracks.GetTrackByID(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve track %d: %w", trackID, err)
	}
	if track == nil {
		return nil, repository.ErrTrackNotFound
	}

	rm.mu.Lock()
	now := c.now()
	scheduled := now.Add(c.playBuffer).UnixMilli()
	rm.clock.PlayTrack(track, startPosition)
	snap := rm.clock.Snapshot()
	c.broadcaster.Broadcast(roomID, MsgTypePlayTrack, &PlayTrackEvent{
		TrackID:            track.ID,
		StreamURL:          track.StreamURL(),
		Title:              track.Title,
		Artist:             track.Artist,
		Album:              track.Album,
		Duration:           track.Duration,
		StartPosition:      snap.Position,
		ScheduledStartTime: scheduled,
		ServerTimestamp:    now.UnixMilli(),
	})
	rm.mu.Unlock()

	c.cacheSnapshot(ctx, roomID, snap)

	logger.Info("play track",
		logger.String("roomId", roomID),
		logger.Int64("trackId", track.ID),
		logger.Float64("startPosition", startPosition))

	return snap, nil
}

// Pause 暂停房间播放
func (c *SyncController) Pause(ctx context.Context, roomID string) (*model.PlaybackSnapshot, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	rm.mu.Lock()
	rm.clock.Pause()
	snap := rm.clock.Snapshot()
	c.broadcaster.Broadcast(roomID, MsgTypePause, &PauseEvent{
		Position:        snap.Position,
		ServerTimestamp: c.now().UnixMilli(),
	})
	rm.mu.Unlock()

	c.cacheSnapshot(ctx, roomID, snap)
	return snap, nil
}

// Resume 恢复房间播放。时钟空载时拒绝。
func (c *SyncController) Resume(ctx context.Context, roomID string) (*model.PlaybackSnapshot, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	rm.mu.Lock()
	if rm.clock.CurrentTrack() == nil {
		rm.mu.Unlock()
		return nil, ErrNoTrackLoaded
	}
	now := c.now()
	rm.clock.Resume()
	snap := rm.clock.Snapshot()
	c.broadcaster.Broadcast(roomID, MsgTypeResume, &ResumeEvent{
		Position:           snap.Position,
		ScheduledStartTime: now.Add(c.playBuffer).UnixMilli(),
		ServerTimestamp:    now.UnixMilli(),
	})
	rm.mu.Unlock()

	c.cacheSnapshot(ctx, roomID, snap)
	return snap, nil
}

// Stop 停止房间播放并卸载曲目
func (c *SyncController) Stop(ctx context.Context, roomID string) (*model.PlaybackSnapshot, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}
	return c.stopRoom(ctx, rm), nil
}

// stopRoom 停止时钟并广播 stop 事件
func (c *SyncController) stopRoom(ctx context.Context, rm *Room) *model.PlaybackSnapshot {
	rm.mu.Lock()
	rm.clock.Stop()
	snap := rm.clock.Snapshot()
	c.broadcaster.Broadcast(rm.ID, MsgTypeStop, &StopEvent{
		ServerTimestamp: c.now().UnixMilli(),
	})
	rm.mu.Unlock()

	c.cacheSnapshot(ctx, rm.ID, snap)
	return snap
}

// Seek 跳转播放位置，播放状态不变。时钟空载时拒绝。
func (c *SyncController) Seek(ctx context.Context, roomID string, position float64) (*model.PlaybackSnapshot, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	rm.mu.Lock()
	if rm.clock.CurrentTrack() == nil {
		rm.mu.Unlock()
		return nil, ErrNoTrackLoaded
	}
	now := c.now()
	rm.clock.Seek(position)
	snap := rm.clock.Snapshot()
	c.broadcaster.Broadcast(roomID, MsgTypeSeek, &ResumeEvent{
		Position:           snap.Position,
		ScheduledStartTime: now.Add(c.playBuffer).UnixMilli(),
		ServerTimestamp:    now.UnixMilli(),
	})
	rm.mu.Unlock()

	c.cacheSnapshot(ctx, roomID, snap)
	return snap, nil
}

// SetVolume 设置房间音量
func (c *SyncController) SetVolume(ctx context.Context, roomID string, volume float64) (*model.PlaybackSnapshot, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	rm.mu.Lock()
	v := rm.clock.SetVolume(volume)
	snap := rm.clock.Snapshot()
	c.broadcaster.Broadcast(roomID, MsgTypeVolumeChange, &VolumeChangeEvent{
		Volume:          v,
		ServerTimestamp: c.now().UnixMilli(),
	})
	rm.mu.Unlock()

	c.cacheSnapshot(ctx, roomID, snap)
	return snap, nil
}

// ToggleRepeatSingle 切换单曲循环
func (c *SyncController) ToggleRepeatSingle(ctx context.Context, roomID string) (*model.PlaybackSnapshot, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	rm.mu.Lock()
	mode := rm.clock.ToggleRepeatSingle()
	snap := rm.clock.Snapshot()
	c.broadcaster.Broadcast(roomID, MsgTypeRepeatModeChange, &RepeatModeChangeEvent{
		RepeatMode:      mode,
		ServerTimestamp: c.now().UnixMilli(),
	})
	rm.mu.Unlock()

	c.cacheSnapshot(ctx, roomID, snap)
	return snap, nil
}

// ToggleLoopPlaylist 切换歌单循环
func (c *SyncController) ToggleLoopPlaylist(ctx context.Context, roomID string) (*model.PlaybackSnapshot, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	rm.mu.Lock()
	mode := rm.clock.ToggleLoopPlaylist()
	snap := rm.clock.Snapshot()
	c.broadcaster.Broadcast(roomID, MsgTypeLoopModeChange, &LoopModeChangeEvent{
		LoopPlaylist:    mode,
		ServerTimestamp: c.now().UnixMilli(),
	})
	rm.mu.Unlock()

	c.cacheSnapshot(ctx, roomID, snap)
	return snap, nil
}

// SetLoopPoints 设置或清除 AB 循环区间，随后广播完整状态同步。
// 歌单在取锁前读好：事件必须在持锁期间入队，否则并发指令会插队，
// 让旧快照覆盖新状态。
func (c *SyncController) SetLoopPoints(ctx context.Context, roomID string, start, end *float64) (*model.PlaybackSnapshot, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	entries, _, err := c.store.List(ctx, rm.PlaylistCollectionID, 0, 0)
	if err != nil {
		logger.Warn("failed to load playlist for state sync",
			logger.String("roomId", roomID), logger.ErrorField(err))
		entries = nil
	}

	rm.mu.Lock()
	if start != nil && end != nil {
		rm.clock.SetLoopPoints(*start, *end)
	} else {
		rm.clock.ClearLoopPoints()
	}
	snap := rm.clock.Snapshot()
	c.broadcaster.Broadcast(roomID, MsgTypeStateSync, &StateSyncEvent{
		PlaybackSnapshot: *snap,
		Playlist:         entries,
		ServerTime:       c.now().UnixMilli(),
	})
	rm.mu.Unlock()

	c.cacheSnapshot(ctx, roomID, snap)
	return snap, nil
}

// ========== 自动切歌 ==========

// PlayNext 依据房间歌单推进到下一首。歌单为空、当前曲目缺失或不在歌单中
// 时停止播放并返回对应原因；到达末尾时按歌单循环开关决定回到开头或停止。
func (c *SyncController) PlayNext(ctx context.Context, roomID string) (*AdvanceResult, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	entries, _, err := c.store.List(ctx, rm.PlaylistCollectionID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load playlist %s: %w", rm.PlaylistCollectionID, err)
	}

	if len(entries) == 0 {
		c.stopRoom(ctx, rm)
		return &AdvanceResult{Success: false, Reason: ReasonEmptyPlaylist}, nil
	}

	rm.mu.Lock()
	current := rm.clock.CurrentTrack()
	loop := rm.clock.LoopPlaylist()
	rm.mu.Unlock()

	if current == nil {
		c.stopRoom(ctx, rm)
		return &AdvanceResult{Success: false, Reason: ReasonNoCurrentTrack}, nil
	}

	// 当前曲目在歌单中的最早出现位置；重复曲目取第一处
	idx := -1
	for i, e := range entries {
		if e.TrackID == current.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.stopRoom(ctx, rm)
		return &AdvanceResult{Success: false, Reason: ReasonTrackNotInPlaylist}, nil
	}

	var nextID int64
	switch {
	case idx+1 < len(entries):
		nextID = entries[idx+1].TrackID
	case loop:
		nextID = entries[0].TrackID
	default:
		c.stopRoom(ctx, rm)
		return &AdvanceResult{Success: false, Reason: ReasonEndOfPlaylist}, nil
	}

	if _, err := c.PlayTrack(ctx, roomID, nextID, 0); err != nil {
		return nil, err
	}
	return &AdvanceResult{Success: true}, nil
}

// OnTrackEnded 处理客户端上报的曲目播完信号。单曲循环时原曲重播，
// 否则交给 PlayNext。服务端从不按流逝时间推断曲目结束。
func (c *SyncController) OnTrackEnded(ctx context.Context, roomID string) (*AdvanceResult, error) {
	rm, err := c.registry.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	rm.mu.Lock()
	repeat := rm.clock.RepeatSingle()
	current := rm.clock.CurrentTrack()
	rm.mu.Unlock()

	if repeat && current != nil {
		if _, err := c.PlayTrack(ctx, roomID, current.ID, 0); err != nil {
			return nil, err
		}
		return &AdvanceResult{Success: true}, nil
	}

	return c.PlayNext(ctx, roomID)
}

// ========== 成员与状态同步 ==========

// JoinRoom 客户端加入房间：先原子迁移归属，再答复 room_joined 并立即
// 下发一次完整状态同步
func (c *SyncController) JoinRoom(ctx context.Context, clientID, roomID string) (*Room, error) {
	rm, err := c.registry.JoinRoom(clientID, roomID)
	if err != nil {
		return nil, err
	}

	if c.roomCache != nil {
		if err := c.roomCache.UpdateClientPresence(ctx, roomID, clientID); err != nil {
			logger.Warn("failed to update client presence",
				logger.String("roomId", roomID),
				logger.String("clientId", clientID),
				logger.ErrorField(err))
		}
	}

	c.broadcaster.SendTo(clientID, MsgTypeRoomJoined, &RoomJoinedEvent{
		RoomID:      rm.ID,
		RoomNumber:  rm.Number,
		ClientCount: c.registry.ClientCount(rm.ID),
	})
	c.sendStateSync(ctx, clientID, rm)

	logger.Info("client joined room",
		logger.String("roomId", rm.ID),
		logger.String("clientId", clientID))
	return rm, nil
}

// LeaveRoom 客户端退出（断连或主动离开）
func (c *SyncController) LeaveRoom(ctx context.Context, clientID string) string {
	roomID := c.registry.LeaveRoom(clientID)
	if roomID == "" {
		return ""
	}

	if c.roomCache != nil {
		if err := c.roomCache.RemoveClientPresence(ctx, roomID, clientID); err != nil {
			logger.Warn("failed to remove client presence",
				logger.String("roomId", roomID),
				logger.String("clientId", clientID),
				logger.ErrorField(err))
		}
	}

	logger.Info("client left room",
		logger.String("roomId", roomID),
		logger.String("clientId", clientID))
	return roomID
}

// RequestState 应答客户端的状态查询（断线重连后的追赶用）
func (c *SyncController) RequestState(ctx context.Context, clientID string) error {
	rm, ok := c.registry.ClientRoom(clientID)
	if !ok {
		return ErrRoomNotFound
	}
	c.sendStateSync(ctx, clientID, rm)
	return nil
}

// sendStateSync 给单个客户端下发完整时钟快照加房间歌单。
// 同样先读歌单再取锁，快照与投递在持锁期间完成。
func (c *SyncController) sendStateSync(ctx context.Context, clientID string, rm *Room) {
	entries, _, err := c.store.List(ctx, rm.PlaylistCollectionID, 0, 0)
	if err != nil {
		logger.Warn("failed to load playlist for state sync",
			logger.String("roomId", rm.ID), logger.ErrorField(err))
		entries = nil
	}

	rm.mu.Lock()
	snap := rm.clock.Snapshot()
	c.broadcaster.SendTo(clientID, MsgTypeStateSync, &StateSyncEvent{
		PlaybackSnapshot: *snap,
		Playlist:         entries,
		ServerTime:       c.now().UnixMilli(),
	})
	rm.mu.Unlock()
}

// RoomsInfo 全部房间摘要
func (c *SyncController) RoomsInfo() []model.RoomSummary {
	return c.registry.Summaries()
}

// cacheSnapshot 把播放快照写入 Redis，失败只记日志
func (c *SyncController) cacheSnapshot(ctx context.Context, roomID string, snap *model.PlaybackSnapshot) {
	if c.roomCache == nil {
		return
	}
	if err := c.roomCache.SetPlaybackState(ctx, roomID, snap); err != nil {
		logger.Warn("failed to cache playback snapshot",
			logger.String("roomId", roomID), logger.ErrorField(err))
	}
}

// ========== 消息处理器 ==========

// HandleMessage 处理一条入站 WebSocket 消息。指令失败以 error 事件答复
// 发送方，不影响房间内其他客户端。
func (c *SyncController) HandleMessage(ctx context.Context, client *Client, msg *WSMessage) {
	switch msg.Type {
	case MsgTypePing:
		if c.roomCache != nil {
			if rm, ok := c.registry.ClientRoom(client.ID); ok {
				if err := c.roomCache.UpdateClientPresence(ctx, rm.ID, client.ID); err != nil {
					logger.Warn("failed to refresh client presence", logger.ErrorField(err))
				}
			}
		}
		c.broadcaster.SendTo(client.ID, MsgTypePong, nil)

	case MsgTypeJoin:
		var cmd JoinRoomCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.replyError(client, "invalid join_room payload")
			return
		}
		if _, err := c.JoinRoom(ctx, client.ID, cmd.RoomID); err != nil {
			c.replyError(client, err.Error())
		}

	case MsgTypeRequestState:
		if err := c.RequestState(ctx, client.ID); err != nil {
			c.replyError(client, err.Error())
		}

	case MsgTypeListRooms:
		c.broadcaster.SendTo(client.ID, MsgTypeRoomsInfo, &RoomsInfoEvent{Rooms: c.RoomsInfo()})

	case MsgTypePlay:
		var cmd PlayCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.replyError(client, "invalid play payload")
			return
		}
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.PlayTrack(ctx, roomID, cmd.TrackID, cmd.StartPosition)
			return err
		})

	case MsgTypePause:
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.Pause(ctx, roomID)
			return err
		})

	case MsgTypeResume:
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.Resume(ctx, roomID)
			return err
		})

	case MsgTypeStop:
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.Stop(ctx, roomID)
			return err
		})

	case MsgTypeSeek:
		var cmd SeekCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.replyError(client, "invalid seek payload")
			return
		}
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.Seek(ctx, roomID, cmd.Position)
			return err
		})

	case MsgTypeSetVolume:
		var cmd VolumeCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.replyError(client, "invalid set_volume payload")
			return
		}
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.SetVolume(ctx, roomID, cmd.Volume)
			return err
		})

	case MsgTypeToggleRepeat:
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.ToggleRepeatSingle(ctx, roomID)
			return err
		})

	case MsgTypeToggleLoop:
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.ToggleLoopPlaylist(ctx, roomID)
			return err
		})

	case MsgTypeSetLoop:
		var cmd LoopPointsCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.replyError(client, "invalid set_loop payload")
			return
		}
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.SetLoopPoints(ctx, roomID, cmd.Start, cmd.End)
			return err
		})

	case MsgTypePlayNext:
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.PlayNext(ctx, roomID)
			return err
		})

	case MsgTypeTrackEnded:
		c.runCommand(ctx, client, func(roomID string) error {
			_, err := c.OnTrackEnded(ctx, roomID)
			return err
		})

	case MsgTypePositionReport:
		// 仅监控，不影响服务端状态
		var report PositionReport
		if err := json.Unmarshal(msg.Data, &report); err == nil {
			logger.Debug("position report",
				logger.String("clientId", client.ID),
				logger.Float64("position", report.Position),
				logger.String("state", report.State))
		}

	case MsgTypeClientError:
		var report ClientErrorReport
		if err := json.Unmarshal(msg.Data, &report); err == nil {
			logger.Warn("client reported error",
				logger.String("clientId", client.ID),
				logger.String("error", report.Error),
				logger.Int64("trackId", report.TrackID))
		}

	default:
		logger.Debug("unknown message type",
			logger.String("type", string(msg.Type)),
			logger.String("clientId", client.ID))
	}
}

// runCommand 解析客户端所在房间并执行指令，失败答复 error 事件
func (c *SyncController) runCommand(ctx context.Context, client *Client, fn func(roomID string) error) {
	rm, ok := c.registry.ClientRoom(client.ID)
	if !ok {
		c.replyError(client, "not in a room")
		return
	}
	if err := fn(rm.ID); err != nil {
		logger.Warn("command failed",
			logger.String("roomId", rm.ID),
			logger.String("clientId", client.ID),
			logger.ErrorField(err))
		c.replyError(client, err.Error())
	}
}

// replyError 给发送方答复协议级错误
func (c *SyncController) replyError(client *Client, message string) {
	c.broadcaster.SendTo(client.ID, MsgTypeError, &ErrorEvent{Message: message})
}
