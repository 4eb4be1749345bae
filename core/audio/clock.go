package audio

import (
	"sync"
	"time"

	"Bt2Deck/logger"
)

// ClockSource 基于挂钟推进的播放源参考实现
// 不解码任何音频，只按速率推进位置并以粗粒度间隔上报，
// 行为与真实解码后端的位置上报契约一致，供服务端部署与测试使用。
type ClockSource struct {
	mu sync.Mutex

	durationMs float64
	rate       float64
	volume     float64
	playing    bool

	// 播放中的位置由锚点外推：positionMs 为锚点位置，anchor 为锚点挂钟时刻
	positionMs float64
	anchor     time.Time

	onPosition PositionFunc

	updateEvery time.Duration
	stopChan    chan struct{}
	wg          sync.WaitGroup
	closed      bool

	// 测试钩子：覆盖当前时刻
	now func() time.Time
}

// NewClockSource 创建时钟播放源
func NewClockSource(durationMs float64, updateEvery time.Duration) *ClockSource {
	if updateEvery <= 0 {
		updateEvery = 250 * time.Millisecond
	}
	s := &ClockSource{
		durationMs:  durationMs,
		rate:        1.0,
		volume:      100,
		updateEvery: updateEvery,
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
	s.wg.Add(1)
	go s.reportLoop()
	return s
}

// reportLoop 周期性上报权威位置
func (s *ClockSource) reportLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.updateEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.playing {
				s.mu.Unlock()
				continue
			}
			pos := s.positionLocked()
			fn := s.onPosition
			s.mu.Unlock()

			if fn != nil {
				fn(pos)
			}
		}
	}
}

// positionLocked 计算当前位置，需持有锁
func (s *ClockSource) positionLocked() float64 {
	pos := s.positionMs
	if s.playing {
		pos += s.now().Sub(s.anchor).Seconds() * 1000.0 * s.rate
	}
	if pos < 0 {
		pos = 0
	}
	if pos > s.durationMs {
		pos = s.durationMs
	}
	return pos
}

// rebaseLocked 将外推位置固化为新锚点，需持有锁
func (s *ClockSource) rebaseLocked() {
	s.positionMs = s.positionLocked()
	s.anchor = s.now()
}

// Play 开始或恢复播放
func (s *ClockSource) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.playing {
		return
	}
	s.playing = true
	s.anchor = s.now()
}

// Pause 暂停播放，保留当前位置
func (s *ClockSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}
	s.rebaseLocked()
	s.playing = false
}

// SeekMs 跳转到指定位置
func (s *ClockSource) SeekMs(positionMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if positionMs < 0 {
		positionMs = 0
	}
	if positionMs > s.durationMs {
		positionMs = s.durationMs
	}
	s.positionMs = positionMs
	s.anchor = s.now()
}

// SetRate 设置速率倍数
func (s *ClockSource) SetRate(rate float64) {
	if rate <= 0 {
		logger.Warn("clock source ignoring non-positive rate", logger.Float64("rate", rate))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// 速率变化前先固化位置，避免旧锚点按新速率外推
	s.rebaseLocked()
	s.rate = rate
}

// SetVolume 设置音量 [0,100]
func (s *ClockSource) SetVolume(volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	s.volume = volume
}

// Volume 返回当前音量
func (s *ClockSource) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Rate 返回当前速率
func (s *ClockSource) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// PositionMs 返回当前权威位置
func (s *ClockSource) PositionMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

// Playing 返回是否正在播放
func (s *ClockSource) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// OnPositionUpdate 注册位置上报回调
func (s *ClockSource) OnPositionUpdate(fn PositionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPosition = fn
}

// Close 停止上报并释放
func (s *ClockSource) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.playing = false
	s.onPosition = nil
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
}

// ClockFactory 返回按配置间隔上报位置的 ClockSource 工厂
func ClockFactory(updateEvery time.Duration) SourceFactory {
	return func(audioPath string, durationMs float64) Source {
		return NewClockSource(durationMs, updateEvery)
	}
}
