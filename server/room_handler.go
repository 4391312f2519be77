package server

import (
	"context"
	"net/http"

	"SyncFM/cache"
	"SyncFM/core/room"
	"SyncFM/logger"
	"SyncFM/model"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// RoomHandler 房间 HTTP / WebSocket 处理器
type RoomHandler struct {
	registry   *room.RoomRegistry
	controller *room.SyncController
	hub        *room.Hub
	roomCache  *cache.RoomCache
	upgrader   websocket.Upgrader
}

// NewRoomHandler 创建房间处理器
func NewRoomHandler(registry *room.RoomRegistry, controller *room.SyncController, hub *room.Hub, roomCache *cache.RoomCache) *RoomHandler {
	return &RoomHandler{
		registry:   registry,
		controller: controller,
		hub:        hub,
		roomCache:  roomCache,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ListRoomsResponse 房间列表响应
type ListRoomsResponse struct {
	Rooms []model.RoomSummary `json:"rooms"`
}

// ListRoomsHandler 查询全部房间摘要
func (h *RoomHandler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &ListRoomsResponse{Rooms: h.controller.RoomsInfo()})
}

// RoomStateResponse 房间状态响应：播放快照加活跃在线人数
type RoomStateResponse struct {
	*model.PlaybackSnapshot
	OnlineCount int64 `json:"onlineCount"`
}

// RoomStateHandler 查询单个房间的播放快照。优先读 Redis 缓存，
// 未命中时现算并回填；在线人数按心跳窗口统计。
func (h *RoomHandler) RoomStateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := mux.Vars(r)["id"]

	rm, err := h.registry.GetRoom(roomID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var online int64
	if h.roomCache != nil {
		online, err = h.roomCache.GetActiveOnlineCount(ctx, roomID)
		if err != nil {
			logger.Warn("failed to count online clients",
				logger.String("roomId", roomID), logger.ErrorField(err))
			online = int64(h.registry.ClientCount(roomID))
		}
	} else {
		online = int64(h.registry.ClientCount(roomID))
	}

	if h.roomCache != nil {
		snap, err := h.roomCache.GetPlaybackState(ctx, roomID)
		if err != nil {
			logger.Warn("failed to read cached playback state",
				logger.String("roomId", roomID), logger.ErrorField(err))
		} else if snap != nil {
			writeJSON(w, http.StatusOK, &RoomStateResponse{PlaybackSnapshot: snap, OnlineCount: online})
			return
		}
	}

	snap := rm.Snapshot()
	if h.roomCache != nil {
		if err := h.roomCache.SetPlaybackState(ctx, roomID, snap); err != nil {
			logger.Warn("failed to backfill playback cache",
				logger.String("roomId", roomID), logger.ErrorField(err))
		}
	}
	writeJSON(w, http.StatusOK, &RoomStateResponse{PlaybackSnapshot: snap, OnlineCount: online})
}

// WebSocketHandler 升级连接并启动读写泵。客户端标识由服务端分配，
// 连接建立后客户端需发送 join_room 才会进入房间。
func (h *RoomHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := room.NewClient(uuid.New().String(), h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	// 请求上下文随 handler 返回取消，连接的生命周期比它长
	go client.ReadPump(context.Background(), h.controller.HandleMessage)
}
