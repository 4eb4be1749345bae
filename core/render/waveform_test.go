package render

import (
	"math"
	"testing"

	"Bt2Deck/model"
)

func TestPixelsPerSecondInverseToRate(t *testing.T) {
	r := NewRenderer(DefaultParams())

	tests := []struct {
		rate float64
		want float64
	}{
		{1.0, 150},
		{0.5, 300},
		{2.0, 75},
		{0, 150}, // degenerate rate falls back to native
		{-1, 150},
	}
	for _, tt := range tests {
		if got := r.PixelsPerSecond(tt.rate); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("PixelsPerSecond(%v) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestRenderWindowCenteredOnPlayhead(t *testing.T) {
	r := NewRenderer(DefaultParams())
	frame := r.Render(Input{
		Deck:          model.DeckA,
		DisplayTimeMs: 60000,
		DurationMs:    300000,
		PlaybackRate:  1.0,
	})

	// 800px at 150px/s spans 5333.3ms, half on each side of the playhead.
	halfSpan := 800.0 / 2 / 150 * 1000
	if math.Abs(frame.WindowStartMs-(60000-halfSpan)) > 1e-6 {
		t.Errorf("window start = %v, want %v", frame.WindowStartMs, 60000-halfSpan)
	}
	if math.Abs(frame.WindowEndMs-(60000+halfSpan)) > 1e-6 {
		t.Errorf("window end = %v, want %v", frame.WindowEndMs, 60000+halfSpan)
	}
	if frame.PlayheadPx != 400 {
		t.Errorf("playhead = %v, want fixed center 400", frame.PlayheadPx)
	}
}

// Two synced decks must show identical pixel spacing between beat lines:
// the slave's longer beat interval is compensated by its slower scroll.
func TestRenderSyncedDecksShareBeatSpacing(t *testing.T) {
	r := NewRenderer(DefaultParams())

	masterBPM, slaveBPM := 174.0, 178.0
	slaveRate := masterBPM / slaveBPM

	master := r.Render(Input{
		Deck:           model.DeckA,
		DisplayTimeMs:  60000,
		DurationMs:     300000,
		PlaybackRate:   1.0,
		BeatIntervalMs: 60000.0 / masterBPM,
	})
	slave := r.Render(Input{
		Deck:           model.DeckB,
		DisplayTimeMs:  80000,
		DurationMs:     300000,
		PlaybackRate:   slaveRate,
		BeatIntervalMs: 60000.0 / slaveBPM,
	})

	if len(master.BeatLinesPx) < 2 || len(slave.BeatLinesPx) < 2 {
		t.Fatalf("expected beat lines on both frames, got %d and %d",
			len(master.BeatLinesPx), len(slave.BeatLinesPx))
	}

	masterSpacing := master.BeatLinesPx[1] - master.BeatLinesPx[0]
	slaveSpacing := slave.BeatLinesPx[1] - slave.BeatLinesPx[0]
	if math.Abs(masterSpacing-slaveSpacing) > 1e-6 {
		t.Errorf("beat spacing differs: master %vpx, slave %vpx", masterSpacing, slaveSpacing)
	}

	// 60000/174 ms per beat at 150px/s ≈ 51.7px
	want := 60000.0 / masterBPM / 1000 * 150
	if math.Abs(masterSpacing-want) > 1e-6 {
		t.Errorf("spacing = %vpx, want %vpx", masterSpacing, want)
	}
}

func TestRenderBeatLinesOnlyInWindow(t *testing.T) {
	r := NewRenderer(DefaultParams())
	frame := r.Render(Input{
		Deck:           model.DeckA,
		DisplayTimeMs:  150000,
		DurationMs:     300000,
		PlaybackRate:   1.0,
		BeatIntervalMs: 500,
	})

	for _, px := range frame.BeatLinesPx {
		if px < 0 || px > 800 {
			t.Errorf("beat line at %vpx outside the 800px view", px)
		}
	}
	// Window spans 5333ms at 500ms per beat: 10 or 11 lines, never the whole track.
	if len(frame.BeatLinesPx) < 10 || len(frame.BeatLinesPx) > 12 {
		t.Errorf("got %d beat lines, want the visible window only", len(frame.BeatLinesPx))
	}
}

func TestRenderNoWaveformNoBars(t *testing.T) {
	r := NewRenderer(DefaultParams())
	frame := r.Render(Input{
		Deck:          model.DeckA,
		DisplayTimeMs: 1000,
		DurationMs:    300000,
		PlaybackRate:  1.0,
	})
	if frame.Bars != nil {
		t.Errorf("got %d bars without a waveform, want none", len(frame.Bars))
	}
}

func TestRenderBarsClippedToTrack(t *testing.T) {
	r := NewRenderer(DefaultParams())
	peaks := make([]float64, 3000)
	for i := range peaks {
		peaks[i] = 0.5
	}

	// Playhead at the very start: the left half of the window is before 0ms.
	frame := r.Render(Input{
		Deck:          model.DeckA,
		DisplayTimeMs: 0,
		DurationMs:    300000,
		PlaybackRate:  1.0,
		Waveform:      &model.Waveform{TrackID: 1, SampleRate: 10, Peaks: peaks},
	})

	for _, bar := range frame.Bars {
		if bar.X < frame.PlayheadPx {
			t.Errorf("bar at %vpx maps to audio before the track start", bar.X)
		}
	}
	if len(frame.Bars) == 0 {
		t.Error("expected bars in the right half of the window")
	}
}

func TestRenderHighlightMarker(t *testing.T) {
	r := NewRenderer(DefaultParams())
	highlight := 61000.0

	in := Input{
		Deck:          model.DeckA,
		DisplayTimeMs: 60000,
		DurationMs:    300000,
		PlaybackRate:  1.0,
		HighlightMs:   &highlight,
	}
	frame := r.Render(in)
	if frame.HighlightPx == nil {
		t.Fatal("highlight inside the window not rendered")
	}
	want := (highlight - frame.WindowStartMs) / 1000 * 150
	if math.Abs(*frame.HighlightPx-want) > 1e-6 {
		t.Errorf("highlight at %vpx, want %vpx", *frame.HighlightPx, want)
	}

	// Far outside the window the marker is omitted.
	in.DisplayTimeMs = 200000
	if frame := r.Render(in); frame.HighlightPx != nil {
		t.Errorf("highlight outside window rendered at %vpx", *frame.HighlightPx)
	}
}
