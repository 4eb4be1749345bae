package model

// Waveform holds precomputed fixed-rate amplitude samples for one track.
// Peaks are normalized to [0,1]; SampleRate is samples per second of audio,
// independent of playback rate.
type Waveform struct {
	TrackID    int64     `json:"trackId"`
	SampleRate float64   `json:"sampleRate"`
	Peaks      []float64 `json:"peaks"`
}

// DurationMs 根据采样数推出波形覆盖的音频时长
func (w *Waveform) DurationMs() float64 {
	if w == nil || w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Peaks)) / w.SampleRate * 1000.0
}
