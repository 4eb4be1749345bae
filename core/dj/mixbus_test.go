package dj

import (
	"math"
	"testing"
)

func TestMixBusEqualPowerLaw(t *testing.T) {
	m := NewMixBus(0.4)
	live := ChannelState{}

	tests := []struct {
		name       string
		crossfader float64
		wantA      float64
		wantB      float64
	}{
		{"full A", -1, 1, 0},
		{"center", 0, math.Sqrt2 / 2, math.Sqrt2 / 2},
		{"full B", 1, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gainA, gainB := m.Gains(tt.crossfader, live, live)
			if math.Abs(gainA-tt.wantA) > 1e-9 || math.Abs(gainB-tt.wantB) > 1e-9 {
				t.Errorf("Gains(%v) = (%v, %v), want (%v, %v)",
					tt.crossfader, gainA, gainB, tt.wantA, tt.wantB)
			}
		})
	}
}

func TestMixBusConstantPower(t *testing.T) {
	m := NewMixBus(0.4)
	live := ChannelState{}

	for x := -1.0; x <= 1.0; x += 0.05 {
		gainA, gainB := m.Gains(x, live, live)
		power := gainA*gainA + gainB*gainB
		if math.Abs(power-1) > 1e-9 {
			t.Fatalf("crossfader %v: power %v, want 1", x, power)
		}
	}
}

func TestMixBusChannelStates(t *testing.T) {
	m := NewMixBus(0.4)
	center := math.Sqrt2 / 2

	gainA, gainB := m.Gains(0, ChannelState{Muted: true}, ChannelState{})
	if gainA != 0 {
		t.Errorf("muted gainA = %v, want 0", gainA)
	}
	if math.Abs(gainB-center) > 1e-9 {
		t.Errorf("gainB = %v, want %v", gainB, center)
	}

	// Bass-cut multiplies on top of the crossfader gain.
	gainA, _ = m.Gains(0, ChannelState{BassCut: true}, ChannelState{})
	if math.Abs(gainA-center*0.4) > 1e-9 {
		t.Errorf("bass-cut gainA = %v, want %v", gainA, center*0.4)
	}

	// Muted wins over bass-cut.
	gainA, _ = m.Gains(0, ChannelState{Muted: true, BassCut: true}, ChannelState{})
	if gainA != 0 {
		t.Errorf("muted+bass-cut gainA = %v, want 0", gainA)
	}
}

func TestMixBusPanicsOnOutOfRange(t *testing.T) {
	m := NewMixBus(0.4)

	for _, x := range []float64{-1.5, 1.5, math.NaN()} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Gains(%v) did not panic", x)
				}
			}()
			m.Gains(x, ChannelState{}, ChannelState{})
		}()
	}
}
