package waveform

import "math"

// 波形峰值处理：导入的JSON峰值数组长度不定，统一重采样到固定速率
// （每秒 sampleRate 个点），并归一化到 [0,1]，渲染端按列直接索引。

// Resample 把任意长度的峰值数组重采样为 duration*sampleRate 个点。
// 每个输出点取其覆盖的输入区间内的最大值，保留瞬态峰。
func Resample(peaks []float64, durationMs, sampleRate float64) []float64 {
	if len(peaks) == 0 || durationMs <= 0 || sampleRate <= 0 {
		return nil
	}

	n := int(math.Ceil(durationMs / 1000.0 * sampleRate))
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)

	ratio := float64(len(peaks)) / float64(n)
	for i := 0; i < n; i++ {
		lo := int(float64(i) * ratio)
		hi := int(float64(i+1) * ratio)
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(peaks) {
			hi = len(peaks)
		}
		max := 0.0
		for j := lo; j < hi; j++ {
			v := math.Abs(peaks[j])
			if v > max {
				max = v
			}
		}
		out[i] = max
	}
	return out
}

// Normalize 把峰值缩放到 [0,1]，全零输入原样返回。
func Normalize(peaks []float64) []float64 {
	max := 0.0
	for _, v := range peaks {
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		return peaks
	}
	out := make([]float64, len(peaks))
	for i, v := range peaks {
		out[i] = v / max
	}
	return out
}
