package dj

import "math"

// MixBus 将crossfader增益律应用到两个deck的输出。
// 独立于同步引擎与时间预测，只负责增益。
type MixBus struct {
	bassCutGain float64
}

// NewMixBus 创建混音总线。bassCutGain 为 bass-cut 时叠加的增益系数。
func NewMixBus(bassCutGain float64) *MixBus {
	if bassCutGain <= 0 || bassCutGain > 1 {
		bassCutGain = 0.4
	}
	return &MixBus{bassCutGain: bassCutGain}
}

// ChannelState 单个deck进入混音总线的通道状态
type ChannelState struct {
	Muted   bool // 无曲目的deck视为静音
	BassCut bool
}

// Gains 按等功率曲线计算两deck的线性增益。
// crossfader ∈ [-1,1]：-1 全A，+1 全B，0 居中时两侧同为 √2/2。
// 静音与bass-cut在crossfader增益之上乘法叠加。
//
// 越界的crossfader值说明调用方绕过了钳制，属于集成bug，直接panic。
func (m *MixBus) Gains(crossfader float64, a, b ChannelState) (gainA, gainB float64) {
	if crossfader < -1 || crossfader > 1 || math.IsNaN(crossfader) {
		panic("mixbus: crossfader out of range, caller must clamp")
	}

	// 等功率：t ∈ [0,1]，gainA = cos(tπ/2)，gainB = sin(tπ/2)
	t := (crossfader + 1) / 2
	gainA = math.Cos(t * math.Pi / 2)
	gainB = math.Sin(t * math.Pi / 2)

	gainA *= m.channelFactor(a)
	gainB *= m.channelFactor(b)
	return gainA, gainB
}

func (m *MixBus) channelFactor(c ChannelState) float64 {
	f := 1.0
	if c.Muted {
		return 0
	}
	if c.BassCut {
		f *= m.bassCutGain
	}
	return f
}
