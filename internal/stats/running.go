// Package stats 提供单遍（Welford）在线统计量累加器
package stats

import (
	"errors"
	"fmt"
	"math"
)

// ErrNonFinite 输入为 NaN 或 Inf
var ErrNonFinite = errors.New("non-finite value")

// RunningStats Welford 在线均值/方差累加器
// 零值即为空累加器
type RunningStats struct {
	Count uint64  `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Add 加入一个观测值，返回新的累加器；非有限值被拒绝且原值不变
func (s RunningStats) Add(x float64) (RunningStats, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return s, ErrNonFinite
	}

	count := s.Count + 1
	delta := x - s.Mean
	mean := s.Mean + delta/float64(count)
	delta2 := x - mean
	m2 := s.M2 + delta*delta2
	if m2 < 0 {
		// 浮点舍入
		m2 = 0
	}

	return RunningStats{Count: count, Mean: mean, M2: m2}, nil
}

// Variance 总体方差 M2/n，空累加器为 0
func (s RunningStats) Variance() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.M2 / float64(s.Count)
}

// SampleVariance 样本方差 M2/(n-1)，n < 2 时为 0
func (s RunningStats) SampleVariance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.M2 / float64(s.Count-1)
}

// StdDev 总体标准差
func (s RunningStats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// IsEmpty 是否没有观测值
func (s RunningStats) IsEmpty() bool {
	return s.Count == 0
}

// Validate 检查累加器不变量
func (s RunningStats) Validate() error {
	if math.IsNaN(s.Mean) || math.IsInf(s.Mean, 0) || math.IsNaN(s.M2) || math.IsInf(s.M2, 0) {
		return fmt.Errorf("accumulator: %w", ErrNonFinite)
	}
	if s.M2 < 0 {
		return fmt.Errorf("accumulator: negative m2 %g", s.M2)
	}
	if s.Count == 0 && (s.Mean != 0 || s.M2 != 0) {
		return fmt.Errorf("accumulator: empty with mean=%g m2=%g", s.Mean, s.M2)
	}
	return nil
}

// Merge 合并两个不相交序列的累加器（Chan 并行公式）
// Merge(stats(A), stats(B)) == stats(A ++ B)，允许浮点误差
func Merge(a, b RunningStats) RunningStats {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}

	na := float64(a.Count)
	nb := float64(b.Count)
	n := na + nb
	delta := b.Mean - a.Mean

	m2 := a.M2 + b.M2 + delta*delta*na*nb/n
	if m2 < 0 {
		m2 = 0
	}

	return RunningStats{
		Count: a.Count + b.Count,
		Mean:  a.Mean + delta*nb/n,
		M2:    m2,
	}
}

// Of 依次加入所有值，跳过非有限值
func Of(values ...float64) RunningStats {
	var s RunningStats
	for _, v := range values {
		if next, err := s.Add(v); err == nil {
			s = next
		}
	}
	return s
}
