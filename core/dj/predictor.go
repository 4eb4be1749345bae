package dj

import "time"

// TimePredictor 在稀疏的权威位置上报之间外推平滑推进的显示时间
// 模型为 (anchorWallClock, anchorPosition, rate)：播放且未拖拽时每个渲染tick
// 计算 displayTime = anchorPosition + (now - anchorWallClock) × rate。
// 拖拽期间预测被完全旁路，显示时间直接由手势驱动。
//
// 非并发安全，由会话命令锁串行访问。
type TimePredictor struct {
	anchorWall time.Time
	anchorPos  float64 // ms
	rate       float64
	playing    bool
	scrubbing  bool

	displayMs   float64
	durationMs  float64
	snapThresMs float64
}

// NewTimePredictor 创建预测器，snapThresholdMs 为硬失步阈值
func NewTimePredictor(durationMs, snapThresholdMs float64) *TimePredictor {
	if snapThresholdMs <= 0 {
		snapThresholdMs = 500
	}
	return &TimePredictor{
		rate:        1.0,
		durationMs:  durationMs,
		snapThresMs: snapThresholdMs,
	}
}

// Reset 将锚点重置到给定权威位置与当前挂钟时刻，显示时间立即跟随
func (p *TimePredictor) Reset(positionMs float64, now time.Time) {
	p.anchorPos = p.clamp(positionMs)
	p.anchorWall = now
	p.displayMs = p.anchorPos
}

// SetRate 更新速率。先把当前显示时间固化为锚点，避免旧锚点按新速率外推。
func (p *TimePredictor) SetRate(rate float64, now time.Time) {
	if rate <= 0 {
		return
	}
	p.anchorPos = p.displayMs
	p.anchorWall = now
	p.rate = rate
}

// SetPlaying 切换播放状态。开始播放时锚点重置由调用方负责（Reset）。
func (p *TimePredictor) SetPlaying(playing bool, now time.Time) {
	if playing && !p.playing {
		p.anchorPos = p.displayMs
		p.anchorWall = now
	}
	p.playing = playing
}

// Tick 推进并返回显示时间。拖拽或暂停时不外推。
func (p *TimePredictor) Tick(now time.Time) float64 {
	if p.playing && !p.scrubbing {
		p.displayMs = p.clamp(p.anchorPos + now.Sub(p.anchorWall).Seconds()*1000.0*p.rate)
	}
	return p.displayMs
}

// OnAuthoritative 应用一次权威位置上报并重新锚定。
// 返回 true 表示偏差超过阈值、显示时间被立即吸附（硬失步）；
// 小偏差只更新锚点，由下一次 Tick 无跳变地吸收。
func (p *TimePredictor) OnAuthoritative(positionMs float64, now time.Time) bool {
	positionMs = p.clamp(positionMs)
	p.anchorPos = positionMs
	p.anchorWall = now

	if p.scrubbing {
		// 拖拽中手势拥有显示时间，上报只更新锚点
		return false
	}

	diff := positionMs - p.displayMs
	if diff < 0 {
		diff = -diff
	}
	if diff > p.snapThresMs {
		p.displayMs = positionMs
		return true
	}
	return false
}

// BeginScrub 进入拖拽，暂停自主推进
func (p *TimePredictor) BeginScrub() {
	p.scrubbing = true
}

// ScrubTo 拖拽期间直接设置显示时间
func (p *TimePredictor) ScrubTo(positionMs float64) {
	if !p.scrubbing {
		return
	}
	p.displayMs = p.clamp(positionMs)
}

// EndScrub 结束拖拽，把锚点重置到手势的最终位置
func (p *TimePredictor) EndScrub(now time.Time) {
	if !p.scrubbing {
		return
	}
	p.scrubbing = false
	p.anchorPos = p.displayMs
	p.anchorWall = now
}

// Scrubbing 返回是否处于拖拽旁路状态
func (p *TimePredictor) Scrubbing() bool {
	return p.scrubbing
}

// DisplayMs 返回最近一次计算的显示时间
func (p *TimePredictor) DisplayMs() float64 {
	return p.displayMs
}

func (p *TimePredictor) clamp(ms float64) float64 {
	if ms < 0 {
		return 0
	}
	if p.durationMs > 0 && ms > p.durationMs {
		return p.durationMs
	}
	return ms
}
