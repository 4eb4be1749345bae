package model

// DeckID identifies one of the two fixed playback slots.
type DeckID string

const (
	DeckA DeckID = "A"
	DeckB DeckID = "B"
)

// Valid reports whether the ID names one of the two decks.
func (d DeckID) Valid() bool {
	return d == DeckA || d == DeckB
}

// Other returns the opposite deck.
func (d DeckID) Other() DeckID {
	if d == DeckA {
		return DeckB
	}
	return DeckA
}

// DeckSnapshot 单个deck的对外状态快照，随控制台state消息下发
type DeckSnapshot struct {
	Deck          DeckID   `json:"deck"`
	TrackID       int64    `json:"trackId,omitempty"`
	Title         string   `json:"title,omitempty"`
	IsPlaying     bool     `json:"isPlaying"`
	IsLoading     bool     `json:"isLoading"`
	CurrentTimeMs float64  `json:"currentTimeMs"`
	DurationMs    float64  `json:"durationMs"`
	PlaybackRate  float64  `json:"playbackRate"`
	BassOn        bool     `json:"bassOn"`
	BPM           *float64 `json:"bpm,omitempty"`
	HasWaveform   bool     `json:"hasWaveform"`
	// 最近一次拖拽手势的甩动速度（音频秒/实际秒），供客户端做松手惯性
	ScrubVelocity float64 `json:"scrubVelocity,omitempty"`
}

// SessionSnapshot 整个DJ会话的对外状态快照
type SessionSnapshot struct {
	SessionID       string         `json:"sessionId"`
	Crossfader      float64        `json:"crossfader"`
	MasterDeck      DeckID         `json:"masterDeck,omitempty"`
	SyncEnabled     bool           `json:"syncEnabled"`
	QuantizeEnabled bool           `json:"quantizeEnabled"`
	GainA           float64        `json:"gainA"`
	GainB           float64        `json:"gainB"`
	Decks           []DeckSnapshot `json:"decks"`
	Timestamp       int64          `json:"timestamp"`
}
