package dj

// 拖拽手势的显式状态机：Idle → Dragging → Idle。
// 同一deck上的拖拽严格串行，新的 start 隐式取消进行中的手势；
// eject 强制取消并复位。

type scrubPhase int

const (
	scrubIdle scrubPhase = iota
	scrubDragging
)

// scrubState 单个deck的拖拽手势状态
type scrubState struct {
	phase    scrubPhase
	velocity float64 // 最近一次手势速度（秒/秒），甩动提示
}

func (s *scrubState) begin() {
	// 进行中的手势被新的 start 隐式取消
	s.phase = scrubDragging
	s.velocity = 0
}

func (s *scrubState) active() bool {
	return s.phase == scrubDragging
}

func (s *scrubState) end() {
	s.phase = scrubIdle
}

func (s *scrubState) cancel() {
	s.phase = scrubIdle
	s.velocity = 0
}

// ScrubVelocity 由像素位移推导手势速度（音频秒/实际秒）。
// 向右拖动使波形相对固定播放头视觉后退，因此取负号。
func ScrubVelocity(deltaPixels, pixelsPerSecond, deltaSeconds float64) float64 {
	if pixelsPerSecond <= 0 || deltaSeconds <= 0 {
		return 0
	}
	return -deltaPixels / pixelsPerSecond / deltaSeconds
}
