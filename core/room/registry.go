package room

import (
	"fmt"
	"sync"

	"SyncFM/model"
)

// Room 一个固定房间：独占一个播放时钟和一份成员集合。
// mu 保护时钟的读改写；成员集合由 RoomRegistry 统一管理。
type Room struct {
	ID                   string
	Number               int
	PlaylistCollectionID string

	mu    sync.Mutex
	clock *PlaybackClock
}

// Snapshot 当前播放快照
func (rm *Room) Snapshot() *model.PlaybackSnapshot {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.clock.Snapshot()
}

// RoomRegistry 固定大小的房间池，进程启动时一次性创建，运行期不增不减。
// 只有成员归属是可变状态：一个客户端同一时刻至多属于一个房间。
type RoomRegistry struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	order       []*Room
	members     map[string]map[string]struct{} // roomID -> clientID 集合
	clientRooms map[string]string              // clientID -> roomID
}

// RoomIDForNumber 房间编号到房间ID的固定映射
func RoomIDForNumber(n int) string {
	return fmt.Sprintf("room:%d", n)
}

// NewRoomRegistry 创建 count 个房间，编号 1..count。每个房间绑定同名的
// 歌单集合ID（集合行由启动流程负责创建）。
func NewRoomRegistry(count int) *RoomRegistry {
	r := &RoomRegistry{
		rooms:       make(map[string]*Room, count),
		order:       make([]*Room, 0, count),
		members:     make(map[string]map[string]struct{}, count),
		clientRooms: make(map[string]string),
	}
	for n := 1; n <= count; n++ {
		id := RoomIDForNumber(n)
		rm := &Room{
			ID:                   id,
			Number:               n,
			PlaylistCollectionID: id,
			clock:                NewPlaybackClock(),
		}
		r.rooms[id] = rm
		r.order = append(r.order, rm)
		r.members[id] = make(map[string]struct{})
	}
	return r
}

// GetRoom 按ID查找房间
func (r *RoomRegistry) GetRoom(id string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return rm, nil
}

// Rooms 按编号顺序返回全部房间
func (r *RoomRegistry) Rooms() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Room, len(r.order))
	copy(out, r.order)
	return out
}

// JoinRoom 让客户端加入目标房间。若客户端已在别的房间，先原子地退出，
// 保证任何时刻至多属于一个房间。
func (r *RoomRegistry) JoinRoom(clientID, roomID string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	if prev, ok := r.clientRooms[clientID]; ok {
		delete(r.members[prev], clientID)
	}

	r.members[roomID][clientID] = struct{}{}
	r.clientRooms[clientID] = roomID
	return rm, nil
}

// LeaveRoom 移除客户端的房间归属，返回退出的房间ID；不在任何房间时返回空串
func (r *RoomRegistry) LeaveRoom(clientID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.clientRooms[clientID]
	if !ok {
		return ""
	}
	delete(r.members[roomID], clientID)
	delete(r.clientRooms, clientID)
	return roomID
}

// ClientRoom 查询客户端所在的房间
func (r *RoomRegistry) ClientRoom(clientID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.clientRooms[clientID]
	if !ok {
		return nil, false
	}
	return r.rooms[roomID], true
}

// ClientsIn 返回房间内全部客户端ID
func (r *RoomRegistry) ClientsIn(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.members[roomID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ClientCount 房间内客户端数量
func (r *RoomRegistry) ClientCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members[roomID])
}

// Summaries 生成全部房间的摘要，含各自时钟的推算状态
func (r *RoomRegistry) Summaries() []model.RoomSummary {
	rooms := r.Rooms()

	out := make([]model.RoomSummary, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		state := rm.clock.State()
		track := rm.clock.CurrentTrack()
		position := rm.clock.CurrentPosition()
		rm.mu.Unlock()

		out = append(out, model.RoomSummary{
			ID:           rm.ID,
			Number:       rm.Number,
			ClientCount:  r.ClientCount(rm.ID),
			State:        state,
			CurrentTrack: track,
			Position:     position,
		})
	}
	return out
}
