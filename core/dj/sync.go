package dj

import (
	"math"
	"time"

	"Bt2Deck/logger"
	"Bt2Deck/model"
)

// SyncEngine 推导从deck的播放速率与节拍网格偏移校正，
// 使其节拍网格在视觉与听觉上都与主deck对齐。
// 引擎只拥有时间域的速率；像素域的缩放由渲染器按速率反比处理。
type SyncEngine struct{}

// NewSyncEngine 创建同步引擎
func NewSyncEngine() *SyncEngine {
	return &SyncEngine{}
}

// SlaveRate 返回从deck的速率 Bm/Bs。任一BPM缺失时同步无法建立，返回1.0。
// 缩放后从deck的实际节拍间隔等于主deck：(60/Bs) × (Bs/Bm) = 60/Bm。
func (e *SyncEngine) SlaveRate(master, slave *model.Track) float64 {
	if !master.HasBPM() || !slave.HasBPM() {
		return 1.0
	}
	return *master.BPM / *slave.BPM
}

// OffsetCorrectionMs 计算从deck的节拍网格运行时校正（ms，轨内时间）。
// 取两deck当前播放位置的节拍相位差，归一化到 ±半拍以内，
// 加到从deck的 beatOffset 上后两侧节拍线重合。
func (e *SyncEngine) OffsetCorrectionMs(masterTimeMs, masterOffsetMs, masterIntervalMs,
	slaveTimeMs, slaveOffsetMs, slaveIntervalMs float64) float64 {
	if masterIntervalMs <= 0 || slaveIntervalMs <= 0 {
		return 0
	}

	masterPhase := beatPhase(masterTimeMs, masterOffsetMs, masterIntervalMs)
	slavePhase := beatPhase(slaveTimeMs, slaveOffsetMs, slaveIntervalMs)

	correction := (slavePhase - masterPhase) * slaveIntervalMs

	// 归一化到 [-interval/2, interval/2)
	half := slaveIntervalMs / 2
	for correction >= half {
		correction -= slaveIntervalMs
	}
	for correction < -half {
		correction += slaveIntervalMs
	}
	return correction
}

// beatPhase 返回位置在节拍周期内的相位分数 [0,1)
func beatPhase(timeMs, offsetMs, intervalMs float64) float64 {
	phase := math.Mod(timeMs-offsetMs, intervalMs) / intervalMs
	if phase < 0 {
		phase += 1
	}
	return phase
}

// SnapToNextBeatMs 把位置吸附到其后（含当下）最近的节拍线
func SnapToNextBeatMs(positionMs, beatOffsetMs, beatIntervalMs float64) float64 {
	if beatIntervalMs <= 0 {
		return positionMs
	}
	k := math.Ceil((positionMs - beatOffsetMs) / beatIntervalMs)
	return beatOffsetMs + k*beatIntervalMs
}

// DropInput 一个deck参与同步起播的参数
type DropInput struct {
	Deck  model.DeckID
	Track *model.Track
	Rate  float64 // 该deck的播放速率
}

// DropSchedule 同步起播计划中单个deck的安排：
// 在 now + StartDelay 时刻从 StartPositionMs 开始播放，
// 所有deck在同一挂钟时刻到达各自的高潮点。
type DropSchedule struct {
	Deck            model.DeckID
	StartPositionMs float64
	StartDelay      time.Duration
	Quantized       bool
}

// PlanDrop 计算同步起播（drop）计划。
//
// 所有deck在挂钟时刻 H = now + lead 同时到达各自的 highlightTime
// （缺失时记为0）。每个deck的朴素起播位置为 highlight − lead×rate，
// 起跑距离不足时压缩公共提前量。开启量化时，各deck起播位置吸附到
// 自身节拍网格上朴素点之后最近的节拍线，并推迟相应的起播时刻，
// 高潮汇合时刻不变；BPM缺失的deck跳过量化，退化为普通同步起播。
func PlanDrop(inputs []DropInput, leadSeconds float64, quantize bool) []DropSchedule {
	if len(inputs) == 0 {
		return nil
	}
	if leadSeconds < 0 {
		leadSeconds = 0
	}

	// 压缩提前量：任何deck都不能从负位置起跑
	lead := leadSeconds
	for _, in := range inputs {
		if in.Rate <= 0 {
			continue
		}
		maxLead := in.Track.Highlight() / (1000.0 * in.Rate)
		if maxLead < lead {
			lead = maxLead
		}
	}

	schedules := make([]DropSchedule, 0, len(inputs))
	for _, in := range inputs {
		rate := in.Rate
		if rate <= 0 {
			rate = 1.0
		}

		highlight := in.Track.Highlight()
		naiveStart := highlight - lead*1000.0*rate
		if naiveStart < 0 {
			naiveStart = 0
		}

		start := naiveStart
		delay := time.Duration(0)
		quantized := false

		if quantize && in.Track.HasBPM() {
			snapped := SnapToNextBeatMs(naiveStart, in.Track.BeatOffsetMs, in.Track.BeatIntervalMs())
			if snapped <= highlight {
				// 起播推迟吸附量对应的实际时间，高潮汇合时刻不变
				delayMs := (snapped - naiveStart) / rate
				start = snapped
				delay = time.Duration(delayMs * float64(time.Millisecond))
				quantized = true
			} else {
				// 剩余起跑距离不足一拍，放弃该deck的量化
				logger.Debug("drop quantization skipped: next beat past highlight",
					logger.String("deck", string(in.Deck)),
					logger.Float64("naiveStartMs", naiveStart),
					logger.Float64("highlightMs", highlight))
			}
		}

		schedules = append(schedules, DropSchedule{
			Deck:            in.Deck,
			StartPositionMs: start,
			StartDelay:      delay,
			Quantized:       quantized,
		})
	}
	return schedules
}
