package dj

import (
	"Bt2Deck/core/audio"
	"Bt2Deck/model"
)

// Deck 一个播放槽位的权威状态。
// 状态机：Empty → Loading → Ready(paused) ⇄ Ready(playing) → Empty（eject）。
// 所有字段只经会话命令锁变更。
type Deck struct {
	ID model.DeckID

	Track  *model.Track
	Source audio.Source

	IsPlaying bool
	IsLoading bool

	CurrentTimeMs float64
	DurationMs    float64
	PlaybackRate  float64 // 速率倍数，同步时从deck由主deck推导
	BassOn        bool

	// 波形异步加载，失败时保持为nil，渲染降级为空轨道
	Waveform *model.Waveform

	// 从deck的节拍网格运行时校正（不落到Track上）
	OffsetCorrectionMs float64

	// epoch 在每次load/eject时递增，迟到的异步结果凭此丢弃
	epoch uint64

	predictor *TimePredictor
	scrub     scrubState
}

func newDeck(id model.DeckID) *Deck {
	return &Deck{
		ID:           id,
		PlaybackRate: 1.0,
		BassOn:       true,
	}
}

// Empty 返回deck是否未装载曲目
func (d *Deck) Empty() bool {
	return d.Track == nil
}

// clear 复位到Empty。epoch递增使在途异步结果失效。
func (d *Deck) clear() {
	d.epoch++
	d.Track = nil
	d.Source = nil
	d.IsPlaying = false
	d.IsLoading = false
	d.CurrentTimeMs = 0
	d.DurationMs = 0
	d.PlaybackRate = 1.0
	d.Waveform = nil
	d.OffsetCorrectionMs = 0
	d.predictor = nil
	d.scrub.cancel()
}

// snapshot 生成对外状态快照
func (d *Deck) snapshot() model.DeckSnapshot {
	snap := model.DeckSnapshot{
		Deck:          d.ID,
		IsPlaying:     d.IsPlaying,
		IsLoading:     d.IsLoading,
		CurrentTimeMs: d.CurrentTimeMs,
		DurationMs:    d.DurationMs,
		PlaybackRate:  d.PlaybackRate,
		BassOn:        d.BassOn,
		HasWaveform:   d.Waveform != nil,
		ScrubVelocity: d.scrub.velocity,
	}
	if d.Track != nil {
		snap.TrackID = d.Track.ID
		snap.Title = d.Track.Title
		snap.BPM = d.Track.BPM
	}
	return snap
}
