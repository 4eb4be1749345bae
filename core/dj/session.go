package dj

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Bt2Deck/core/audio"
	"Bt2Deck/core/render"
	"Bt2Deck/logger"
	"Bt2Deck/model"
)

// WaveformProvider 按曲目装载固定速率的波形幅度采样。
// 失败或未就绪时返回错误，渲染降级为空轨道，不阻塞播放。
type WaveformProvider interface {
	LoadPeaks(ctx context.Context, track *model.Track) (*model.Waveform, error)
}

// FrameSink 接收渲染循环产出的状态快照与可视帧（如WebSocket控制台）
type FrameSink interface {
	PublishState(snap model.SessionSnapshot)
	PublishFrames(frames []render.Frame)
}

// Params 会话引擎参数
type Params struct {
	TickHz              int
	SnapThresholdMs     float64
	DropLeadSeconds     float64
	BassCutGain         float64
	FramePublishDivisor int // 每N个tick推送一次可视帧
	StatePublishDivisor int // 每N个tick推送一次状态快照
	Render              render.Params
}

// DefaultParams 返回默认引擎参数
func DefaultParams() Params {
	return Params{
		TickHz:              60,
		SnapThresholdMs:     500,
		DropLeadSeconds:     8,
		BassCutGain:         0.4,
		FramePublishDivisor: 3,
		StatePublishDivisor: 30,
		Render:              render.DefaultParams(),
	}
}

func (p Params) withDefaults() Params {
	if p.TickHz <= 0 {
		p.TickHz = 60
	}
	if p.SnapThresholdMs <= 0 {
		p.SnapThresholdMs = 500
	}
	if p.DropLeadSeconds < 0 {
		p.DropLeadSeconds = 0
	}
	if p.FramePublishDivisor <= 0 {
		p.FramePublishDivisor = 3
	}
	if p.StatePublishDivisor <= 0 {
		p.StatePublishDivisor = 30
	}
	return p
}

// Session 一次DJ会话的显式属主：拥有两个deck、crossfader与同步/量化标志，
// 分发全部用户命令。所有状态变更串行通过命令锁，渲染循环只读快照。
// 会话经 Cleanup 显式销毁，不存在进程级单例。
type Session struct {
	ID   string
	Name string

	mu    sync.Mutex
	decks map[model.DeckID]*Deck

	crossfader      float64
	masterDeck      model.DeckID // "" 表示无主deck
	syncEnabled     bool
	quantizeEnabled bool

	gainA float64
	gainB float64

	syncEngine *SyncEngine
	mix        *MixBus
	renderer   *render.Renderer
	params     Params

	sourceFactory audio.SourceFactory
	waveforms     WaveformProvider
	sink          FrameSink

	stopChan chan struct{}
	wg       sync.WaitGroup
	closed   bool

	// 测试钩子：覆盖当前时刻
	now func() time.Time
}

// NewSession 创建会话并启动渲染循环
func NewSession(id, name string, factory audio.SourceFactory, waveforms WaveformProvider, sink FrameSink, params Params) *Session {
	params = params.withDefaults()
	s := &Session{
		ID:   id,
		Name: name,
		decks: map[model.DeckID]*Deck{
			model.DeckA: newDeck(model.DeckA),
			model.DeckB: newDeck(model.DeckB),
		},
		syncEngine:    NewSyncEngine(),
		mix:           NewMixBus(params.BassCutGain),
		renderer:      render.NewRenderer(params.Render),
		params:        params,
		sourceFactory: factory,
		waveforms:     waveforms,
		sink:          sink,
		stopChan:      make(chan struct{}),
		now:           time.Now,
	}
	s.gainA, s.gainB = s.mix.Gains(0, ChannelState{Muted: true}, ChannelState{Muted: true})

	s.wg.Add(1)
	go s.run()
	return s
}

// LoadTrack 把曲目装载到deck。该deck已有其他曲目时先停止并弹出。
// 波形异步装载，失败时deck保留曲目但 Waveform 为nil。
func (s *Session) LoadTrack(ctx context.Context, deckID model.DeckID, track *model.Track) error {
	if !deckID.Valid() {
		return fmt.Errorf("invalid deck id: %s", deckID)
	}
	if track == nil {
		return fmt.Errorf("nil track")
	}

	// 被顶替的播放源在锁外关闭（defer后进先出，关闭发生在解锁之后）：
	// Close 要等在途的位置上报回调退出，而回调会抢会话锁
	var stale audio.Source
	defer func() {
		if stale != nil {
			stale.Close()
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session %s closed", s.ID)
	}

	deck := s.decks[deckID]
	if !deck.Empty() {
		// 隐式 eject-then-load
		stale = s.ejectLocked(deck)
	}

	deck.epoch++
	epoch := deck.epoch

	deck.Track = track
	deck.DurationMs = track.DurationMs
	deck.CurrentTimeMs = 0
	deck.PlaybackRate = 1.0
	deck.IsLoading = true
	deck.predictor = NewTimePredictor(track.DurationMs, s.params.SnapThresholdMs)
	deck.Source = s.sourceFactory(track.AudioPath, track.DurationMs)
	deck.Source.OnPositionUpdate(func(pos float64) {
		s.onPosition(deckID, epoch, pos)
	})

	s.applySyncLocked()
	s.applyGainsLocked()

	go s.fetchWaveform(ctx, deckID, epoch, track)

	logger.Info("track loaded to deck",
		logger.String("session", s.ID),
		logger.String("deck", string(deckID)),
		logger.Int64("trackId", track.ID),
		logger.String("title", track.Title))
	return nil
}

// fetchWaveform 异步装载波形，迟到的结果凭epoch丢弃
func (s *Session) fetchWaveform(ctx context.Context, deckID model.DeckID, epoch uint64, track *model.Track) {
	var wf *model.Waveform
	var err error
	if s.waveforms != nil {
		wf, err = s.waveforms.LoadPeaks(ctx, track)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	deck := s.decks[deckID]
	if deck.epoch != epoch {
		// deck 已被弹出或装载了其他曲目，静默丢弃
		logger.Debug("stale waveform result discarded",
			logger.String("session", s.ID),
			logger.String("deck", string(deckID)),
			logger.Int64("trackId", track.ID))
		return
	}

	deck.IsLoading = false
	if err != nil {
		logger.Warn("waveform unavailable, deck renders empty lane",
			logger.String("session", s.ID),
			logger.String("deck", string(deckID)),
			logger.Int64("trackId", track.ID),
			logger.ErrorField(err))
		return
	}
	deck.Waveform = wf
}

// onPosition 应用一次播放源的权威位置上报
func (s *Session) onPosition(deckID model.DeckID, epoch uint64, positionMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	deck := s.decks[deckID]
	if deck.epoch != epoch || deck.Empty() {
		return
	}

	deck.CurrentTimeMs = positionMs
	if deck.predictor != nil {
		if snapped := deck.predictor.OnAuthoritative(positionMs, s.now()); snapped {
			logger.Debug("display time snapped to authoritative position",
				logger.String("session", s.ID),
				logger.String("deck", string(deckID)),
				logger.Float64("positionMs", positionMs))
		}
	}
}

// TogglePlay 开始或暂停deck。空deck上是no-op。
// 开始播放时把预测器锚点重置到当前权威时间与当前挂钟时刻。
func (s *Session) TogglePlay(deckID model.DeckID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deck, ok := s.readyDeckLocked(deckID, "togglePlay")
	if !ok {
		return
	}

	now := s.now()
	if deck.IsPlaying {
		deck.Source.Pause()
		deck.predictor.SetPlaying(false, now)
		deck.IsPlaying = false
	} else {
		deck.predictor.Reset(deck.CurrentTimeMs, now)
		deck.predictor.SetPlaying(true, now)
		deck.Source.Play()
		deck.IsPlaying = true
	}
}

// Eject 停止播放并清空deck。若其为主deck则清除主deck。
func (s *Session) Eject(deckID model.DeckID) {
	s.mu.Lock()
	if s.closed || !deckID.Valid() {
		s.mu.Unlock()
		return
	}
	deck := s.decks[deckID]
	if deck.Empty() {
		s.mu.Unlock()
		return
	}
	src := s.ejectLocked(deck)
	s.applyGainsLocked()
	s.mu.Unlock()

	if src != nil {
		src.Close()
	}
}

// ejectLocked 摘下deck并返回其播放源，需持有锁。
// 播放源必须由调用方在锁外关闭：Close 会等待在途的位置上报回调退出，
// 而回调要抢会话锁。epoch已递增，迟到的回调会被丢弃。
func (s *Session) ejectLocked(deck *Deck) audio.Source {
	src := deck.Source
	deck.clear()

	if s.masterDeck == deck.ID {
		s.masterDeck = ""
	}
	// 失去主deck或对手deck后，剩余deck回到原生速率
	s.applySyncLocked()
	return src
}

// SetMaster 指定主deck。要求其曲目有已检测的BPM，否则no-op。
// 换主后另一deck的速率从其原生BPM重新推导，绝不叠乘现有速率。
func (s *Session) SetMaster(deckID model.DeckID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !deckID.Valid() {
		return
	}
	deck := s.decks[deckID]
	if deck.Empty() || !deck.Track.HasBPM() {
		logger.Debug("setMaster ignored: deck has no analyzed BPM",
			logger.String("session", s.ID),
			logger.String("deck", string(deckID)))
		return
	}
	s.masterDeck = deckID
	s.applySyncLocked()
}

// ToggleSync 翻转同步标志。关闭同步时两deck都恢复原生速率。
func (s *Session) ToggleSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.syncEnabled = !s.syncEnabled
	s.applySyncLocked()
}

// ToggleQuantize 翻转量化标志
func (s *Session) ToggleQuantize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.quantizeEnabled = !s.quantizeEnabled
}

// applySyncLocked 按当前主deck重算从deck的速率与网格校正，需持有锁。
// 速率永远从原生BPM推导（Bm/Bs），与deck当前速率无关。
func (s *Session) applySyncLocked() {
	var master *Deck
	if s.masterDeck != "" {
		master = s.decks[s.masterDeck]
	}

	for _, deck := range s.decks {
		if deck.Empty() {
			continue
		}

		if s.syncEnabled && master != nil && !master.Empty() && deck.ID != s.masterDeck {
			rate := s.syncEngine.SlaveRate(master.Track, deck.Track)
			s.setRateLocked(deck, rate)
			if master.Track.HasBPM() && deck.Track.HasBPM() {
				deck.OffsetCorrectionMs = s.syncEngine.OffsetCorrectionMs(
					master.CurrentTimeMs, master.Track.BeatOffsetMs, master.Track.BeatIntervalMs(),
					deck.CurrentTimeMs, deck.Track.BeatOffsetMs, deck.Track.BeatIntervalMs(),
				)
			} else {
				deck.OffsetCorrectionMs = 0
			}
		} else {
			s.setRateLocked(deck, 1.0)
			deck.OffsetCorrectionMs = 0
		}
	}
}

// setRateLocked 下发速率到播放源并同步预测器，需持有锁
func (s *Session) setRateLocked(deck *Deck, rate float64) {
	if rate <= 0 || deck.PlaybackRate == rate {
		return
	}
	deck.PlaybackRate = rate
	if deck.Source != nil {
		deck.Source.SetRate(rate)
	}
	if deck.predictor != nil {
		deck.predictor.SetRate(rate, s.now())
	}
}

// SetCrossfader 钳制到[-1,1]后存储并重算增益，除增益外无其他副作用
func (s *Session) SetCrossfader(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if value < -1 {
		value = -1
	}
	if value > 1 {
		value = 1
	}
	s.crossfader = value
	s.applyGainsLocked()
}

// ToggleBass 翻转deck的bass标志。空deck上是no-op。
func (s *Session) ToggleBass(deckID model.DeckID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deck, ok := s.readyDeckLocked(deckID, "toggleBass")
	if !ok {
		return
	}
	deck.BassOn = !deck.BassOn
	s.applyGainsLocked()
}

// applyGainsLocked 重算两deck增益并下发到播放源，需持有锁
func (s *Session) applyGainsLocked() {
	a := s.decks[model.DeckA]
	b := s.decks[model.DeckB]

	s.gainA, s.gainB = s.mix.Gains(s.crossfader,
		ChannelState{Muted: a.Empty(), BassCut: !a.BassOn},
		ChannelState{Muted: b.Empty(), BassCut: !b.BassOn},
	)

	if a.Source != nil {
		a.Source.SetVolume(s.gainA * 100)
	}
	if b.Source != nil {
		b.Source.SetVolume(s.gainB * 100)
	}
}

// Seek 跳转到指定位置（外部seek，预测器立即吸附）
func (s *Session) Seek(deckID model.DeckID, positionMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deck, ok := s.readyDeckLocked(deckID, "seek")
	if !ok {
		return
	}

	positionMs = clampMs(positionMs, deck.DurationMs)
	deck.Source.SeekMs(positionMs)
	deck.CurrentTimeMs = positionMs
	deck.predictor.Reset(positionMs, s.now())
}

// StartScrub 进入拖拽。进行中的手势被隐式取消。
func (s *Session) StartScrub(deckID model.DeckID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deck, ok := s.readyDeckLocked(deckID, "startScrub")
	if !ok {
		return
	}
	deck.scrub.begin()
	deck.predictor.BeginScrub()
}

// Scrub 拖拽中直接驱动位置。未处于拖拽状态时是no-op。
func (s *Session) Scrub(deckID model.DeckID, positionMs, velocity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deck, ok := s.readyDeckLocked(deckID, "scrub")
	if !ok || !deck.scrub.active() {
		return
	}
	s.scrubLocked(deck, positionMs, velocity)
}

// ScrubPixels 以像素位移驱动拖拽：按deck当前的波形滚动像素速度
// 把客户端上报的像素增量换算成手势速度，再应用位置采样。
func (s *Session) ScrubPixels(deckID model.DeckID, positionMs, deltaPixels, deltaSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deck, ok := s.readyDeckLocked(deckID, "scrub")
	if !ok || !deck.scrub.active() {
		return
	}
	pps := s.renderer.PixelsPerSecond(deck.PlaybackRate)
	s.scrubLocked(deck, positionMs, ScrubVelocity(deltaPixels, pps, deltaSeconds))
}

// scrubLocked 应用一次拖拽采样，需持有锁
func (s *Session) scrubLocked(deck *Deck, positionMs, velocity float64) {
	positionMs = clampMs(positionMs, deck.DurationMs)
	deck.Source.SeekMs(positionMs)
	deck.CurrentTimeMs = positionMs
	deck.predictor.ScrubTo(positionMs)
	deck.scrub.velocity = velocity
}

// EndScrub 结束拖拽，预测器重新锚定到手势最终位置
func (s *Session) EndScrub(deckID model.DeckID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deck, ok := s.readyDeckLocked(deckID, "endScrub")
	if !ok || !deck.scrub.active() {
		return
	}
	deck.scrub.end()
	deck.predictor.EndScrub(s.now())
}

// SyncStart 量化同步起播（drop）：所有装载曲目的deck在同一挂钟时刻
// 到达各自的高潮点。返回起播计划供调用方回显。
func (s *Session) SyncStart() ([]DropSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session %s closed", s.ID)
	}

	inputs := make([]DropInput, 0, 2)
	for _, id := range []model.DeckID{model.DeckA, model.DeckB} {
		deck := s.decks[id]
		if deck.Empty() {
			continue
		}
		inputs = append(inputs, DropInput{Deck: id, Track: deck.Track, Rate: deck.PlaybackRate})
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no decks loaded")
	}

	schedules := PlanDrop(inputs, s.params.DropLeadSeconds, s.quantizeEnabled)
	now := s.now()

	for _, sched := range schedules {
		deck := s.decks[sched.Deck]
		epoch := deck.epoch

		if deck.IsPlaying {
			deck.Source.Pause()
			deck.IsPlaying = false
			deck.predictor.SetPlaying(false, now)
		}

		deck.Source.SeekMs(sched.StartPositionMs)
		deck.CurrentTimeMs = sched.StartPositionMs
		deck.predictor.Reset(sched.StartPositionMs, now)

		if sched.StartDelay <= 0 {
			s.startDeckLocked(deck)
		} else {
			deckID := sched.Deck
			time.AfterFunc(sched.StartDelay, func() {
				s.startScheduled(deckID, epoch)
			})
		}

		logger.Info("drop scheduled",
			logger.String("session", s.ID),
			logger.String("deck", string(sched.Deck)),
			logger.Float64("startPositionMs", sched.StartPositionMs),
			logger.Duration("startDelay", sched.StartDelay),
			logger.Bool("quantized", sched.Quantized))
	}
	return schedules, nil
}

// startScheduled 延迟起播回调，deck状态已变化时放弃
func (s *Session) startScheduled(deckID model.DeckID, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	deck := s.decks[deckID]
	if deck.epoch != epoch || deck.Empty() || deck.IsPlaying {
		return
	}
	s.startDeckLocked(deck)
}

// startDeckLocked 从当前位置起播，需持有锁
func (s *Session) startDeckLocked(deck *Deck) {
	now := s.now()
	deck.predictor.Reset(deck.CurrentTimeMs, now)
	deck.predictor.SetPlaying(true, now)
	deck.Source.Play()
	deck.IsPlaying = true
}

// readyDeckLocked 返回装载了曲目的deck；空deck命令按InvalidCommand处理为no-op
func (s *Session) readyDeckLocked(deckID model.DeckID, command string) (*Deck, bool) {
	if s.closed || !deckID.Valid() {
		return nil, false
	}
	deck := s.decks[deckID]
	if deck.Empty() {
		logger.Debug("command ignored on empty deck",
			logger.String("session", s.ID),
			logger.String("deck", string(deckID)),
			logger.String("command", command))
		return nil, false
	}
	return deck, true
}

// Snapshot 返回当前会话状态快照
func (s *Session) Snapshot() model.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() model.SessionSnapshot {
	return model.SessionSnapshot{
		SessionID:       s.ID,
		Crossfader:      s.crossfader,
		MasterDeck:      s.masterDeck,
		SyncEnabled:     s.syncEnabled,
		QuantizeEnabled: s.quantizeEnabled,
		GainA:           s.gainA,
		GainB:           s.gainB,
		Decks: []model.DeckSnapshot{
			s.decks[model.DeckA].snapshot(),
			s.decks[model.DeckB].snapshot(),
		},
		Timestamp: s.now().UnixMilli(),
	}
}

// Gains 返回当前两deck的混音增益
func (s *Session) Gains() (gainA, gainB float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gainA, s.gainB
}

// DisplayTimeMs 返回deck当前的显示时间（预测器输出）
func (s *Session) DisplayTimeMs(deckID model.DeckID) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !deckID.Valid() {
		return 0
	}
	deck := s.decks[deckID]
	if deck.predictor == nil {
		return 0
	}
	return deck.predictor.Tick(s.now())
}

// PlaybackRate 返回deck当前速率
func (s *Session) PlaybackRate(deckID model.DeckID) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !deckID.Valid() {
		return 0
	}
	return s.decks[deckID].PlaybackRate
}

// Cleanup 销毁会话：停止渲染循环、关闭播放源、清空deck。幂等。
// 泄漏在这里是正确性问题：销毁后不得再有任何回调触碰会话状态。
func (s *Session) Cleanup() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sources := make([]audio.Source, 0, len(s.decks))
	for _, deck := range s.decks {
		if deck.Source != nil {
			sources = append(sources, deck.Source)
		}
		deck.clear()
	}
	s.mu.Unlock()

	// 锁外关闭，理由同 ejectLocked；closed 已置位，回调会提前返回
	for _, src := range sources {
		src.Close()
	}

	close(s.stopChan)
	s.wg.Wait()

	logger.Info("dj session cleaned up", logger.String("session", s.ID))
}

// run 渲染循环：单一tick源驱动两deck的预测器与渲染器。
// 循环只取不可变快照并在锁外渲染，绝不做网络或存储I/O。
func (s *Session) run() {
	defer s.wg.Done()

	interval := time.Second / time.Duration(s.params.TickHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var tickCount uint64
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			tickCount++
			s.tickOnce(tickCount)
		}
	}
}

// tickOnce 执行一个渲染tick
func (s *Session) tickOnce(tickCount uint64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.now()

	inputs := make([]render.Input, 0, 2)
	for _, id := range []model.DeckID{model.DeckA, model.DeckB} {
		deck := s.decks[id]
		if deck.Empty() || deck.predictor == nil {
			continue
		}
		display := deck.predictor.Tick(now)
		inputs = append(inputs, render.Input{
			Deck:           id,
			DisplayTimeMs:  display,
			DurationMs:     deck.DurationMs,
			PlaybackRate:   deck.PlaybackRate,
			Waveform:       deck.Waveform,
			BeatIntervalMs: deck.Track.BeatIntervalMs(),
			BeatOffsetMs:   deck.Track.BeatOffsetMs + deck.OffsetCorrectionMs,
			HighlightMs:    deck.Track.HighlightTimeMs,
		})
	}

	publishFrames := s.sink != nil && len(inputs) > 0 && tickCount%uint64(s.params.FramePublishDivisor) == 0
	publishState := s.sink != nil && tickCount%uint64(s.params.StatePublishDivisor) == 0

	var snap model.SessionSnapshot
	if publishState {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	// 渲染与推送在锁外进行
	if publishFrames {
		frames := make([]render.Frame, 0, len(inputs))
		for _, in := range inputs {
			frames = append(frames, s.renderer.Render(in))
		}
		s.sink.PublishFrames(frames)
	}
	if publishState {
		s.sink.PublishState(snap)
	}
}

func clampMs(ms, durationMs float64) float64 {
	if ms < 0 {
		return 0
	}
	if durationMs > 0 && ms > durationMs {
		return durationMs
	}
	return ms
}
