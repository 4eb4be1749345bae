package waveform

import (
	"context"
	"encoding/json"
	"fmt"

	"Bt2Deck/cache"
	"Bt2Deck/logger"
	"Bt2Deck/model"
	"Bt2Deck/storage"
)

// importedWaveform 是分析器导出的波形JSON格式
type importedWaveform struct {
	TrackID    int64     `json:"track_id"`
	SampleRate float64   `json:"sample_rate,omitempty"`
	Peaks      []float64 `json:"peaks"`
}

// CachedProvider 波形数据提供者：优先Redis缓存，未命中回源MinIO。
// 回源成功后把固定速率、归一化后的波形写回缓存。
type CachedProvider struct {
	sampleRate float64
}

// NewCachedProvider 创建波形提供者，sampleRate 为每秒峰值点数
func NewCachedProvider(sampleRate float64) *CachedProvider {
	return &CachedProvider{sampleRate: sampleRate}
}

// ObjectPath 返回曲目波形在MinIO中的对象路径
func ObjectPath(trackID int64) string {
	return fmt.Sprintf("waveforms/%d.json", trackID)
}

// LoadPeaks 读取曲目波形。曲目没有波形文件时返回 (nil, nil)，
// 甲板照常可播，控制台只是不渲染波形条。
func (p *CachedProvider) LoadPeaks(ctx context.Context, track *model.Track) (*model.Waveform, error) {
	if track == nil {
		return nil, nil
	}

	// 1. Redis缓存
	cached, err := cache.GetWaveformCache(ctx, track.ID)
	if err == nil && cached != nil {
		return cached, nil
	}

	// 2. 回源MinIO
	objectPath := track.WaveformPath
	if objectPath == "" {
		objectPath = ObjectPath(track.ID)
	}

	data, err := storage.GetObjectBytes(ctx, objectPath)
	if err != nil {
		logger.Debug("曲目无波形对象",
			logger.Int64("trackID", track.ID),
			logger.String("path", objectPath),
			logger.ErrorField(err))
		return nil, nil
	}

	var imported importedWaveform
	if err := json.Unmarshal(data, &imported); err != nil {
		return nil, fmt.Errorf("failed to parse waveform object %s: %w", objectPath, err)
	}
	if len(imported.Peaks) == 0 {
		return nil, nil
	}

	wf := &model.Waveform{
		TrackID:    track.ID,
		SampleRate: p.sampleRate,
		Peaks:      Normalize(Resample(imported.Peaks, track.DurationMs, p.sampleRate)),
	}

	// 写回缓存，失败不影响返回
	if err := cache.SetWaveformCache(ctx, wf); err != nil {
		logger.Warn("波形缓存写回失败", logger.Int64("trackID", track.ID), logger.ErrorField(err))
	}

	logger.Info("波形加载完成",
		logger.Int64("trackID", track.ID),
		logger.Int("peaks", len(wf.Peaks)))
	return wf, nil
}
