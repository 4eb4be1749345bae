package audio

// PositionFunc receives coarse authoritative playback position updates (ms).
type PositionFunc func(positionMs float64)

// Source is an opaque per-track playback handle. The engine only ever drives
// playback through this contract and never assumes a concrete backend: the
// production deployment wires a streaming decoder, tests wire a ClockSource.
//
// Implementations must be safe for concurrent use by the session command
// handlers and must keep emitting position updates until Close.
type Source interface {
	// Play starts or resumes playback from the current position.
	Play()
	// Pause halts playback, keeping the current position.
	Pause()
	// SeekMs jumps to the given position in milliseconds.
	SeekMs(positionMs float64)
	// SetRate sets the tempo multiplier (1.0 = native speed, must be > 0).
	SetRate(rate float64)
	// SetVolume sets the output volume in [0,100].
	SetVolume(volume float64)
	// PositionMs returns the current authoritative position.
	PositionMs() float64
	// OnPositionUpdate registers the callback invoked on each coarse
	// position report. Only one callback is held; later calls replace it.
	OnPositionUpdate(fn PositionFunc)
	// Close stops playback and releases the handle. No callbacks fire
	// after Close returns.
	Close()
}

// SourceFactory creates a Source for a track's audio object path.
// The duration is passed so implementations can clamp seeks without
// probing the media themselves.
type SourceFactory func(audioPath string, durationMs float64) Source
