package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Bt2Deck/logger"
	"Bt2Deck/model"
)

// 波形缓存：Redis中缓存已解析的波形JSON，未命中时由调用方回源MinIO。
// 键格式 waveform:{trackID}

const waveformCacheTTL = 6 * time.Hour

func waveformKey(trackID int64) string {
	return fmt.Sprintf("waveform:%d", trackID)
}

// SetWaveformCache 写入波形缓存
func SetWaveformCache(ctx context.Context, wf *model.Waveform) error {
	if RedisClient == nil || wf == nil {
		return nil
	}

	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal waveform for cache: %w", err)
	}

	key := waveformKey(wf.TrackID)
	if err := RedisClient.Set(ctx, key, data, waveformCacheTTL).Err(); err != nil {
		logger.Error("设置波形缓存失败",
			logger.String("key", key),
			logger.Int("dataSize", len(data)),
			logger.ErrorField(err))
		return err
	}

	logger.Debug("波形缓存设置成功",
		logger.String("key", key),
		logger.Int("peaks", len(wf.Peaks)))
	return nil
}

// GetWaveformCache 读取波形缓存。
// 未命中返回 (nil, nil)，调用方继续回源MinIO；读失败时重试后同样放行回源。
func GetWaveformCache(ctx context.Context, trackID int64) (*model.Waveform, error) {
	if RedisClient == nil {
		return nil, nil
	}

	key := waveformKey(trackID)
	maxRetries := 2
	retryDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		data, err := RedisClient.Get(ctx, key).Bytes()
		if err != nil {
			// 键不存在：未命中但无错误，让调用方回源
			if err.Error() == "redis: nil" {
				logger.Debug("波形缓存未命中", logger.String("key", key))
				return nil, nil
			}

			if attempt < maxRetries-1 {
				logger.Warn("获取波形缓存失败，准备重试",
					logger.String("key", key),
					logger.Int("attempt", attempt+1),
					logger.ErrorField(err))
				time.Sleep(retryDelay)
				retryDelay *= 2
				continue
			}

			// 最终失败也放行，回源MinIO
			logger.Error("获取波形缓存最终失败，将回源MinIO",
				logger.String("key", key),
				logger.ErrorField(err))
			return nil, nil
		}

		var wf model.Waveform
		if err := json.Unmarshal(data, &wf); err != nil {
			// 脏数据当未命中处理并清除
			logger.Warn("波形缓存数据损坏，已清除",
				logger.String("key", key),
				logger.ErrorField(err))
			RedisClient.Del(ctx, key)
			return nil, nil
		}

		logger.Debug("波形缓存命中",
			logger.String("key", key),
			logger.Int("peaks", len(wf.Peaks)))
		return &wf, nil
	}

	return nil, nil
}

// InvalidateWaveformCache 删除波形缓存（波形对象更新后调用）
func InvalidateWaveformCache(ctx context.Context, trackID int64) error {
	if RedisClient == nil {
		return nil
	}

	key := waveformKey(trackID)
	if err := RedisClient.Del(ctx, key).Err(); err != nil {
		logger.Error("删除波形缓存失败",
			logger.String("key", key),
			logger.ErrorField(err))
		return err
	}
	logger.Debug("波形缓存已失效", logger.String("key", key))
	return nil
}
