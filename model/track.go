package model

import "time"

// Track represents an analyzed audio track in the library.
// Analysis fields are produced by the external analyzer service and may be
// incomplete: a track with BPM == nil can play but can never engage sync.
type Track struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	DurationMs   float64 `json:"durationMs"`
	AudioPath    string  `json:"-"` // MinIO object path of the source audio, not exposed in API directly
	WaveformPath string  `json:"-"` // MinIO object path of the precomputed waveform JSON

	// 节奏分析
	BPM           *float64 `json:"bpm"`           // 检测到的BPM，分析未完成时为空
	BPMConfidence float64  `json:"bpmConfidence"` // BPM检测置信度
	BeatOffsetMs  float64  `json:"beatOffsetMs"`  // 音轨起点到第一个重拍的偏移

	// 调性分析
	Key           *string `json:"key"` // 检测到的调性，如 "Am"
	KeyConfidence float64 `json:"keyConfidence"`

	// 高潮点（drop），用于同步起播
	HighlightTimeMs *float64 `json:"highlightTimeMs"`

	// 高层描述符（来自分析器，仅透传）
	Energy       float64 `json:"energy"`
	Danceability float64 `json:"danceability"`

	AnalysisStatus string    `json:"analysisStatus"` // pending, processing, completed, failed
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HasBPM reports whether the analyzer produced a usable tempo for this track.
func (t *Track) HasBPM() bool {
	return t != nil && t.BPM != nil && *t.BPM > 0
}

// BeatIntervalMs returns the beat interval in milliseconds, or 0 when the
// track has no detected BPM.
func (t *Track) BeatIntervalMs() float64 {
	if !t.HasBPM() {
		return 0
	}
	return 60000.0 / *t.BPM
}

// Highlight returns the drop timestamp in ms, or 0 when none was detected.
func (t *Track) Highlight() float64 {
	if t == nil || t.HighlightTimeMs == nil {
		return 0
	}
	return *t.HighlightTimeMs
}
