package dj

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"Bt2Deck/core/audio"
	"Bt2Deck/model"
)

// fakeSource records every playback command it receives.
type fakeSource struct {
	mu       sync.Mutex
	playing  bool
	closed   bool
	position float64
	rate     float64
	volume   float64
	onPos    audio.PositionFunc
}

func newFakeSource() *fakeSource {
	return &fakeSource{rate: 1.0, volume: 100}
}

func (f *fakeSource) Play()  { f.mu.Lock(); f.playing = true; f.mu.Unlock() }
func (f *fakeSource) Pause() { f.mu.Lock(); f.playing = false; f.mu.Unlock() }
func (f *fakeSource) SeekMs(pos float64) {
	f.mu.Lock()
	f.position = pos
	f.mu.Unlock()
}
func (f *fakeSource) SetRate(rate float64) { f.mu.Lock(); f.rate = rate; f.mu.Unlock() }
func (f *fakeSource) SetVolume(v float64)  { f.mu.Lock(); f.volume = v; f.mu.Unlock() }
func (f *fakeSource) PositionMs() float64  { f.mu.Lock(); defer f.mu.Unlock(); return f.position }
func (f *fakeSource) OnPositionUpdate(fn audio.PositionFunc) {
	f.mu.Lock()
	f.onPos = fn
	f.mu.Unlock()
}
func (f *fakeSource) Close() { f.mu.Lock(); f.closed = true; f.playing = false; f.mu.Unlock() }

type sourceState struct {
	playing  bool
	closed   bool
	position float64
	rate     float64
	volume   float64
}

func (f *fakeSource) state() sourceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sourceState{playing: f.playing, closed: f.closed, position: f.position, rate: f.rate, volume: f.volume}
}

// report pushes an authoritative position as the real source would.
func (f *fakeSource) report(pos float64) {
	f.mu.Lock()
	fn := f.onPos
	f.position = pos
	f.mu.Unlock()
	if fn != nil {
		fn(pos)
	}
}

// fakeFactory hands out fake sources and remembers them per call.
type fakeFactory struct {
	mu      sync.Mutex
	sources []*fakeSource
}

func (f *fakeFactory) factory() audio.SourceFactory {
	return func(audioPath string, durationMs float64) audio.Source {
		src := newFakeSource()
		f.mu.Lock()
		f.sources = append(f.sources, src)
		f.mu.Unlock()
		return src
	}
}

func (f *fakeFactory) last() *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sources) == 0 {
		return nil
	}
	return f.sources[len(f.sources)-1]
}

// gatedProvider blocks LoadPeaks until released.
type gatedProvider struct {
	gate chan struct{}
	wf   *model.Waveform
}

func (p *gatedProvider) LoadPeaks(ctx context.Context, track *model.Track) (*model.Waveform, error) {
	if p.gate != nil {
		<-p.gate
	}
	return p.wf, nil
}

func testTrack(id int64, bpmVal *float64, durationMs float64) *model.Track {
	return &model.Track{ID: id, Title: "track", DurationMs: durationMs, BPM: bpmVal, AudioPath: "audio/x.mp3"}
}

func newTestSession(t *testing.T, factory *fakeFactory, provider WaveformProvider) *Session {
	t.Helper()
	params := DefaultParams()
	params.TickHz = 200
	s := NewSession("test-session", "test", factory.factory(), provider, nil, params)
	t.Cleanup(s.Cleanup)
	return s
}

func loadBoth(t *testing.T, s *Session, factory *fakeFactory) (srcA, srcB *fakeSource) {
	t.Helper()
	if err := s.LoadTrack(context.Background(), model.DeckA, testTrack(1, bpm(174), 300000)); err != nil {
		t.Fatalf("load deck A: %v", err)
	}
	srcA = factory.last()
	if err := s.LoadTrack(context.Background(), model.DeckB, testTrack(2, bpm(178), 240000)); err != nil {
		t.Fatalf("load deck B: %v", err)
	}
	srcB = factory.last()
	return srcA, srcB
}

func TestSessionSyncDerivesSlaveRateFromNativeBPM(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})
	_, srcB := loadBoth(t, s, factory)

	s.SetMaster(model.DeckA)
	s.ToggleSync()

	want := 174.0 / 178.0
	if got := s.PlaybackRate(model.DeckB); math.Abs(got-want) > 1e-12 {
		t.Errorf("slave rate = %v, want %v", got, want)
	}
	if got := s.PlaybackRate(model.DeckA); got != 1.0 {
		t.Errorf("master rate = %v, want 1.0", got)
	}
	if got := srcB.state().rate; math.Abs(got-want) > 1e-12 {
		t.Errorf("source rate = %v, want %v", got, want)
	}

	// Re-assigning master must re-derive from native BPMs, never compound.
	s.SetMaster(model.DeckB)
	if got := s.PlaybackRate(model.DeckA); math.Abs(got-178.0/174.0) > 1e-12 {
		t.Errorf("rate after master swap = %v, want %v", got, 178.0/174.0)
	}
	if got := s.PlaybackRate(model.DeckB); got != 1.0 {
		t.Errorf("new master rate = %v, want 1.0", got)
	}

	// Disabling sync restores native rates on both decks.
	s.ToggleSync()
	if got := s.PlaybackRate(model.DeckA); got != 1.0 {
		t.Errorf("rate after sync off = %v, want 1.0", got)
	}
	if got := s.PlaybackRate(model.DeckB); got != 1.0 {
		t.Errorf("rate after sync off = %v, want 1.0", got)
	}
}

func TestSessionSetMasterRequiresBPM(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})

	if err := s.LoadTrack(context.Background(), model.DeckA, testTrack(1, nil, 300000)); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.SetMaster(model.DeckA)

	if snap := s.Snapshot(); snap.MasterDeck != "" {
		t.Errorf("master = %q, want none for unanalyzed track", snap.MasterDeck)
	}
}

func TestSessionEjectClearsMasterAndRestoresRates(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})
	srcA, _ := loadBoth(t, s, factory)

	s.SetMaster(model.DeckA)
	s.ToggleSync()
	s.Eject(model.DeckA)

	if !srcA.state().closed {
		t.Error("ejected deck source not closed")
	}
	snap := s.Snapshot()
	if snap.MasterDeck != "" {
		t.Errorf("master = %q, want cleared after eject", snap.MasterDeck)
	}
	if got := s.PlaybackRate(model.DeckB); got != 1.0 {
		t.Errorf("surviving deck rate = %v, want native 1.0", got)
	}
}

func TestSessionCommandsOnEmptyDeckAreNoops(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})

	s.TogglePlay(model.DeckA)
	s.Seek(model.DeckA, 1000)
	s.StartScrub(model.DeckA)
	s.Scrub(model.DeckA, 500, 0)
	s.EndScrub(model.DeckA)
	s.ToggleBass(model.DeckA)
	s.Eject(model.DeckA)

	snap := s.Snapshot()
	if snap.Decks[0].IsPlaying || snap.Decks[0].TrackID != 0 {
		t.Errorf("empty deck mutated: %+v", snap.Decks[0])
	}
}

func TestSessionCrossfaderGains(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})
	srcA, srcB := loadBoth(t, s, factory)

	s.SetCrossfader(-1)
	gainA, gainB := s.Gains()
	if math.Abs(gainA-1) > 1e-9 || math.Abs(gainB) > 1e-9 {
		t.Errorf("gains at -1 = (%v, %v), want (1, 0)", gainA, gainB)
	}
	if got := srcA.state().volume; math.Abs(got-100) > 1e-6 {
		t.Errorf("source A volume = %v, want 100", got)
	}
	if got := srcB.state().volume; math.Abs(got) > 1e-6 {
		t.Errorf("source B volume = %v, want 0", got)
	}

	// Out-of-range input is clamped before it reaches the mix bus.
	s.SetCrossfader(7)
	gainA, gainB = s.Gains()
	if math.Abs(gainA) > 1e-9 || math.Abs(gainB-1) > 1e-9 {
		t.Errorf("gains at clamped +1 = (%v, %v), want (0, 1)", gainA, gainB)
	}
}

func TestSessionEmptyDeckIsMuted(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})

	if err := s.LoadTrack(context.Background(), model.DeckA, testTrack(1, bpm(128), 300000)); err != nil {
		t.Fatalf("load: %v", err)
	}

	s.SetCrossfader(0)
	gainA, gainB := s.Gains()
	if gainB != 0 {
		t.Errorf("empty deck B gain = %v, want 0", gainB)
	}
	if math.Abs(gainA-math.Sqrt2/2) > 1e-9 {
		t.Errorf("gain A = %v, want %v", gainA, math.Sqrt2/2)
	}
}

func TestSessionStaleWaveformDiscardedAfterEject(t *testing.T) {
	factory := &fakeFactory{}
	provider := &gatedProvider{
		gate: make(chan struct{}),
		wf:   &model.Waveform{TrackID: 1, SampleRate: 10, Peaks: []float64{0.5, 0.8}},
	}
	s := newTestSession(t, factory, provider)

	if err := s.LoadTrack(context.Background(), model.DeckA, testTrack(1, bpm(128), 300000)); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.Eject(model.DeckA)

	// Release the in-flight waveform fetch after the deck moved on.
	close(provider.gate)
	time.Sleep(50 * time.Millisecond)

	snap := s.Snapshot()
	if snap.Decks[0].TrackID != 0 || snap.Decks[0].HasWaveform {
		t.Errorf("stale waveform leaked onto ejected deck: %+v", snap.Decks[0])
	}
}

func TestSessionTogglePlayDrivesSource(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})
	srcA, _ := loadBoth(t, s, factory)

	s.TogglePlay(model.DeckA)
	if !srcA.state().playing {
		t.Error("source not playing after toggle")
	}
	s.TogglePlay(model.DeckA)
	if srcA.state().playing {
		t.Error("source still playing after second toggle")
	}
}

func TestSessionAuthoritativePositionUpdatesDeck(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})
	srcA, _ := loadBoth(t, s, factory)

	s.TogglePlay(model.DeckA)
	srcA.report(1234)

	snap := s.Snapshot()
	if snap.Decks[0].CurrentTimeMs != 1234 {
		t.Errorf("deck time = %v, want 1234", snap.Decks[0].CurrentTimeMs)
	}
}

func TestSessionSyncStartSeeksAndPlays(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})

	trackA := testTrack(1, bpm(174), 300000)
	trackA.HighlightTimeMs = ms(60000)
	trackB := testTrack(2, bpm(178), 240000)
	trackB.HighlightTimeMs = ms(95000)

	if err := s.LoadTrack(context.Background(), model.DeckA, trackA); err != nil {
		t.Fatalf("load A: %v", err)
	}
	srcA := factory.last()
	if err := s.LoadTrack(context.Background(), model.DeckB, trackB); err != nil {
		t.Fatalf("load B: %v", err)
	}
	srcB := factory.last()

	schedules, err := s.SyncStart()
	if err != nil {
		t.Fatalf("SyncStart: %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("got %d schedules, want 2", len(schedules))
	}

	// Quantize is off: both decks start immediately from their planned positions.
	for i, src := range []*fakeSource{srcA, srcB} {
		st := src.state()
		if !st.playing {
			t.Errorf("deck %d not playing after drop", i)
		}
		if math.Abs(st.position-schedules[i].StartPositionMs) > 1e-9 {
			t.Errorf("deck %d position = %v, want %v", i, st.position, schedules[i].StartPositionMs)
		}
		if schedules[i].StartDelay != 0 {
			t.Errorf("deck %d delay = %v, want immediate start", i, schedules[i].StartDelay)
		}
	}
}

func TestSessionSyncStartWithoutTracks(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})

	if _, err := s.SyncStart(); err == nil {
		t.Error("SyncStart with no decks loaded must fail")
	}
}

// closingReportSource delivers one final position report from inside Close,
// the way a real source's report goroutine can be mid-callback while Close
// waits for it. If the session held its command lock across Close, the
// callback would block on that lock and Close would never return.
type closingReportSource struct {
	*fakeSource
}

func (c *closingReportSource) Close() {
	c.mu.Lock()
	fn := c.onPos
	pos := c.position
	c.mu.Unlock()
	if fn != nil {
		fn(pos)
	}
	c.fakeSource.Close()
}

func TestSessionClosesSourcesOutsideCommandLock(t *testing.T) {
	var mu sync.Mutex
	var sources []*closingReportSource
	factory := func(audioPath string, durationMs float64) audio.Source {
		src := &closingReportSource{fakeSource: newFakeSource()}
		mu.Lock()
		sources = append(sources, src)
		mu.Unlock()
		return src
	}
	s := NewSession("close-outside-lock", "test", factory, &gatedProvider{}, nil, DefaultParams())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.LoadTrack(context.Background(), model.DeckA, testTrack(1, bpm(174), 300000)); err != nil {
			t.Errorf("load: %v", err)
			return
		}
		s.TogglePlay(model.DeckA)
		s.Eject(model.DeckA)

		// Loading over an occupied deck closes the replaced source too.
		if err := s.LoadTrack(context.Background(), model.DeckA, testTrack(2, bpm(178), 240000)); err != nil {
			t.Errorf("reload: %v", err)
			return
		}
		if err := s.LoadTrack(context.Background(), model.DeckA, testTrack(3, bpm(150), 180000)); err != nil {
			t.Errorf("replace: %v", err)
			return
		}
		s.Cleanup()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("teardown deadlocked against an in-flight position report")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, src := range sources {
		if !src.state().closed {
			t.Errorf("source %d not closed", i)
		}
	}
}

func TestSessionLifecycleWithClockSources(t *testing.T) {
	params := DefaultParams()
	params.TickHz = 200
	factory := audio.ClockFactory(time.Millisecond)
	s := NewSession("clock-lifecycle", "test", factory, &gatedProvider{}, nil, params)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			track := testTrack(int64(i+1), bpm(128), 300000)
			if err := s.LoadTrack(context.Background(), model.DeckA, track); err != nil {
				t.Errorf("load %d: %v", i, err)
				return
			}
			s.TogglePlay(model.DeckA)
			// Let the clock deliver a few reports before tearing down.
			time.Sleep(2 * time.Millisecond)
			s.Eject(model.DeckA)
		}
		s.Cleanup()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("eject or cleanup never completed against live clock sources")
	}
}

func TestSessionScrubPixelsDerivesVelocity(t *testing.T) {
	factory := &fakeFactory{}
	s := newTestSession(t, factory, &gatedProvider{})
	loadBoth(t, s, factory)

	s.StartScrub(model.DeckA)
	s.ScrubPixels(model.DeckA, 5000, 150, 1.0)

	snap := s.Snapshot()
	if snap.Decks[0].CurrentTimeMs != 5000 {
		t.Errorf("position = %v, want 5000", snap.Decks[0].CurrentTimeMs)
	}
	// 150px dragged right over 1s at 150px/s scrolls one second backward.
	if math.Abs(snap.Decks[0].ScrubVelocity-(-1)) > 1e-9 {
		t.Errorf("velocity = %v, want -1", snap.Decks[0].ScrubVelocity)
	}

	// Outside a gesture the pixel variant is a no-op like Scrub.
	s.EndScrub(model.DeckA)
	s.ScrubPixels(model.DeckA, 9000, 150, 1.0)
	if got := s.Snapshot().Decks[0].CurrentTimeMs; got != 5000 {
		t.Errorf("position after gesture ended = %v, want unchanged 5000", got)
	}
}

func TestSessionCleanupClosesSources(t *testing.T) {
	factory := &fakeFactory{}
	s := NewSession("cleanup-test", "test", factory.factory(), &gatedProvider{}, nil, DefaultParams())
	srcA, srcB := loadBoth(t, s, factory)

	s.Cleanup()
	s.Cleanup() // idempotent

	if !srcA.state().closed || !srcB.state().closed {
		t.Error("sources not closed on cleanup")
	}
	if err := s.LoadTrack(context.Background(), model.DeckA, testTrack(9, nil, 1000)); err == nil {
		t.Error("LoadTrack after cleanup must fail")
	}
}
