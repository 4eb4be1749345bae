package dj

import (
	"math"
	"testing"
)

func TestScrubStateMachine(t *testing.T) {
	var s scrubState

	if s.active() {
		t.Fatal("fresh scrub state should be idle")
	}

	s.begin()
	if !s.active() {
		t.Fatal("begin should enter dragging")
	}
	s.velocity = 1.5

	// A new begin implicitly cancels the gesture in flight.
	s.begin()
	if s.velocity != 0 {
		t.Errorf("velocity = %v, want reset on begin", s.velocity)
	}

	s.end()
	if s.active() {
		t.Error("end should return to idle")
	}
}

func TestScrubVelocity(t *testing.T) {
	tests := []struct {
		name                       string
		deltaPx, pps, deltaSeconds float64
		want                       float64
	}{
		// Dragging right moves the waveform backward under the fixed playhead.
		{"drag right goes backward", 150, 150, 1, -1},
		{"drag left goes forward", -300, 150, 1, 2},
		{"slow drag", 75, 150, 2, -0.25},
		{"zero pps", 100, 0, 1, 0},
		{"zero elapsed", 100, 150, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScrubVelocity(tt.deltaPx, tt.pps, tt.deltaSeconds)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("ScrubVelocity(%v, %v, %v) = %v, want %v",
					tt.deltaPx, tt.pps, tt.deltaSeconds, got, tt.want)
			}
		})
	}
}
