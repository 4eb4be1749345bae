package render

import (
	"math"

	"Bt2Deck/model"
)

// 波形渲染器：纯消费者，不持有任何权威状态。
// 每个tick根据显示时间、波形缓存与节拍网格参数产出一帧可视数据，
// 只计算可视窗口内的内容，单帧成本与曲目长度无关。

// Params 渲染参数
type Params struct {
	BasePixelsPerSecond float64 // playbackRate=1.0 时的像素速度
	ViewWidthPx         float64 // 可视窗口宽度
	BarStepPx           float64 // 波形柱采样间隔（像素）
}

// DefaultParams 返回参考web控制台的渲染参数
func DefaultParams() Params {
	return Params{
		BasePixelsPerSecond: 150,
		ViewWidthPx:         800,
		BarStepPx:           2,
	}
}

// Input 渲染一帧所需的deck快照
type Input struct {
	Deck           model.DeckID
	DisplayTimeMs  float64
	DurationMs     float64
	PlaybackRate   float64
	Waveform       *model.Waveform // 可为nil，渲染空轨道
	BeatIntervalMs float64         // 0 表示无节拍网格
	BeatOffsetMs   float64         // 含从deck的运行时校正
	HighlightMs    *float64
}

// Bar 一根波形柱：窗口内x坐标与归一化幅度
type Bar struct {
	X      float64 `json:"x"`
	Height float64 `json:"h"`
}

// Frame 一帧可视数据。播放头固定在窗口中央，波形相对其滚动。
type Frame struct {
	Deck            model.DeckID `json:"deck"`
	DisplayTimeMs   float64      `json:"displayTimeMs"`
	PixelsPerSecond float64      `json:"pixelsPerSecond"`
	WindowStartMs   float64      `json:"windowStartMs"`
	WindowEndMs     float64      `json:"windowEndMs"`
	PlayheadPx      float64      `json:"playheadPx"`
	Bars            []Bar        `json:"bars,omitempty"`
	BeatLinesPx     []float64    `json:"beatLinesPx,omitempty"`
	HighlightPx     *float64     `json:"highlightPx,omitempty"`
}

// Renderer 波形渲染器
type Renderer struct {
	params Params
}

// NewRenderer 创建渲染器
func NewRenderer(params Params) *Renderer {
	if params.BasePixelsPerSecond <= 0 {
		params.BasePixelsPerSecond = 150
	}
	if params.ViewWidthPx <= 0 {
		params.ViewWidthPx = 800
	}
	if params.BarStepPx <= 0 {
		params.BarStepPx = 2
	}
	return &Renderer{params: params}
}

// PixelsPerSecond 返回该速率下的像素速度：base / playbackRate。
// 放慢的deck每实际秒展示更多音频像素，配合更慢的滚动，
// 同步后的两deck节拍间距像素数相同，与各自原生BPM无关。
func (r *Renderer) PixelsPerSecond(playbackRate float64) float64 {
	if playbackRate <= 0 {
		playbackRate = 1.0
	}
	return r.params.BasePixelsPerSecond / playbackRate
}

// Render 产出一帧
func (r *Renderer) Render(in Input) Frame {
	pps := r.PixelsPerSecond(in.PlaybackRate)
	halfSpanMs := r.params.ViewWidthPx / 2 / pps * 1000.0

	frame := Frame{
		Deck:            in.Deck,
		DisplayTimeMs:   in.DisplayTimeMs,
		PixelsPerSecond: pps,
		WindowStartMs:   in.DisplayTimeMs - halfSpanMs,
		WindowEndMs:     in.DisplayTimeMs + halfSpanMs,
		PlayheadPx:      r.params.ViewWidthPx / 2,
	}

	frame.Bars = r.renderBars(in, frame.WindowStartMs, pps)
	frame.BeatLinesPx = r.renderBeatLines(in, frame.WindowStartMs, frame.WindowEndMs, pps)

	if in.HighlightMs != nil && *in.HighlightMs >= frame.WindowStartMs && *in.HighlightMs <= frame.WindowEndMs {
		x := (*in.HighlightMs - frame.WindowStartMs) / 1000.0 * pps
		frame.HighlightPx = &x
	}
	return frame
}

// renderBars 只对窗口内的像素列采样波形，波形缺失时返回nil
func (r *Renderer) renderBars(in Input, windowStartMs float64, pps float64) []Bar {
	wf := in.Waveform
	if wf == nil || len(wf.Peaks) == 0 || wf.SampleRate <= 0 {
		return nil
	}

	bars := make([]Bar, 0, int(r.params.ViewWidthPx/r.params.BarStepPx)+1)
	for x := 0.0; x <= r.params.ViewWidthPx; x += r.params.BarStepPx {
		tMs := windowStartMs + x/pps*1000.0
		if tMs < 0 || (in.DurationMs > 0 && tMs > in.DurationMs) {
			continue
		}
		idx := int(tMs / 1000.0 * wf.SampleRate)
		if idx < 0 || idx >= len(wf.Peaks) {
			continue
		}
		bars = append(bars, Bar{X: x, Height: wf.Peaks[idx]})
	}
	return bars
}

// renderBeatLines 只枚举窗口内的节拍线
func (r *Renderer) renderBeatLines(in Input, windowStartMs, windowEndMs, pps float64) []float64 {
	if in.BeatIntervalMs <= 0 {
		return nil
	}

	// 窗口起点之后的第一条节拍线
	k := math.Ceil((windowStartMs - in.BeatOffsetMs) / in.BeatIntervalMs)
	lines := make([]float64, 0, int((windowEndMs-windowStartMs)/in.BeatIntervalMs)+1)
	for t := in.BeatOffsetMs + k*in.BeatIntervalMs; t <= windowEndMs; t += in.BeatIntervalMs {
		if t < 0 {
			continue
		}
		if in.DurationMs > 0 && t > in.DurationMs {
			break
		}
		lines = append(lines, (t-windowStartMs)/1000.0*pps)
	}
	return lines
}
