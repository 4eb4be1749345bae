package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Bt2Deck/logger"
	"Bt2Deck/model"
)

// 会话状态缓存：最近一次会话快照写入Redis，供监控端与断线重连的
// 控制台在收到下一次状态推送前读取。键格式 djsession:{id}:state

const sessionStateTTL = 2 * time.Minute

func sessionStateKey(sessionID string) string {
	return fmt.Sprintf("djsession:%s:state", sessionID)
}

// SaveSessionState 写入会话快照
func SaveSessionState(ctx context.Context, snap model.SessionSnapshot) error {
	if RedisClient == nil {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	key := sessionStateKey(snap.SessionID)
	if err := RedisClient.Set(ctx, key, data, sessionStateTTL).Err(); err != nil {
		logger.Warn("保存会话状态失败",
			logger.String("key", key),
			logger.ErrorField(err))
		return err
	}
	return nil
}

// GetSessionState 读取会话快照，未命中返回 (nil, nil)
func GetSessionState(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	if RedisClient == nil {
		return nil, nil
	}

	key := sessionStateKey(sessionID)
	data, err := RedisClient.Get(ctx, key).Bytes()
	if err != nil {
		if err.Error() == "redis: nil" {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session state: %w", err)
	}

	var snap model.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		RedisClient.Del(ctx, key)
		return nil, nil
	}
	return &snap, nil
}

// DeleteSessionState 会话销毁时清除快照
func DeleteSessionState(ctx context.Context, sessionID string) error {
	if RedisClient == nil {
		return nil
	}
	return RedisClient.Del(ctx, sessionStateKey(sessionID)).Err()
}
