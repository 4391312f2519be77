package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SyncFM/model"

	"github.com/redis/go-redis/v9"
)

const (
	playbackStateTTL = time.Hour
	// 超过该时长没有心跳的客户端视为离线
	presenceWindow = 90 * time.Second
)

// RoomCache 房间状态的 Redis 缓存。播放快照为 write-through：每次时钟变更后
// 由控制器写入，供 HTTP 查询接口读取；缓存失败只记日志，不影响指令本身。
type RoomCache struct {
	client *redis.Client
}

// NewRoomCache 创建房间缓存
func NewRoomCache() *RoomCache {
	return &RoomCache{client: RedisClient}
}

func (c *RoomCache) playbackKey(roomID string) string {
	return fmt.Sprintf("syncfm:room:%s:playback", roomID)
}

func (c *RoomCache) presenceKey(roomID string) string {
	return fmt.Sprintf("syncfm:room:%s:online", roomID)
}

// SetPlaybackState 写入房间播放快照
func (c *RoomCache) SetPlaybackState(ctx context.Context, roomID string, snap *model.PlaybackSnapshot) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal playback snapshot: %w", err)
	}

	return c.client.Set(ctx, c.playbackKey(roomID), data, playbackStateTTL).Err()
}

// GetPlaybackState 读取房间播放快照，不存在时返回 nil
func (c *RoomCache) GetPlaybackState(ctx context.Context, roomID string) (*model.PlaybackSnapshot, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	data, err := c.client.Get(ctx, c.playbackKey(roomID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get playback snapshot: %w", err)
	}

	var snap model.PlaybackSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal playback snapshot: %w", err)
	}
	return &snap, nil
}

// UpdateClientPresence 更新客户端在线心跳
func (c *RoomCache) UpdateClientPresence(ctx context.Context, roomID, clientID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	key := c.presenceKey(roomID)
	err := c.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: clientID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to update client presence: %w", err)
	}

	return c.client.Expire(ctx, key, presenceWindow*2).Err()
}

// RemoveClientPresence 移除客户端在线状态
func (c *RoomCache) RemoveClientPresence(ctx context.Context, roomID, clientID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	return c.client.ZRem(ctx, c.presenceKey(roomID), clientID).Err()
}

// GetActiveOnlineCount 获取房间活跃在线人数（基于心跳窗口）
func (c *RoomCache) GetActiveOnlineCount(ctx context.Context, roomID string) (int64, error) {
	if c.client == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}

	key := c.presenceKey(roomID)
	cutoff := time.Now().Add(-presenceWindow).UnixMilli()

	// 顺手清理过期心跳
	if err := c.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return 0, fmt.Errorf("failed to prune stale presence: %w", err)
	}

	return c.client.ZCount(ctx, key, fmt.Sprintf("%d", cutoff), "+inf").Result()
}

// ClearRoom 清理房间的全部缓存键
func (c *RoomCache) ClearRoom(ctx context.Context, roomID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	return c.client.Del(ctx, c.playbackKey(roomID), c.presenceKey(roomID)).Err()
}
