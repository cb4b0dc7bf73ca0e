package classifier

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// MinMax 训练集特征的最小/最大值
type MinMax struct {
	FeatureNames []string  `json:"feature_names"`
	DataMin      []float64 `json:"data_min"`
	DataMax      []float64 `json:"data_max"`

	index map[string]int
}

// DefaultMinMax 无训练文件时使用的范围
func DefaultMinMax() *MinMax {
	m := &MinMax{
		FeatureNames: models.FeatureNames,
		DataMin:      []float64{0, 0, 0, 0, -10},
		DataMax:      []float64{23, 6, 100, 180, 10},
	}
	m.buildIndex()
	return m
}

// LoadMinMax 从 JSON 文件加载
func LoadMinMax(path string) (*MinMax, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read min-max file: %w", err)
	}
	return ParseMinMax(data)
}

// ParseMinMax 解析 JSON
func ParseMinMax(data []byte) (*MinMax, error) {
	var m MinMax
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode min-max: %w", err)
	}
	if len(m.FeatureNames) != len(m.DataMin) || len(m.FeatureNames) != len(m.DataMax) {
		return nil, fmt.Errorf("min-max size mismatch: names=%d min=%d max=%d",
			len(m.FeatureNames), len(m.DataMin), len(m.DataMax))
	}
	m.buildIndex()
	return &m, nil
}

func (m *MinMax) buildIndex() {
	m.index = make(map[string]int, len(m.FeatureNames))
	for i, name := range m.FeatureNames {
		m.index[name] = i
	}
}

// Scale 将单个特征缩放到 [0,1]；未知特征原样返回
func (m *MinMax) Scale(name string, v float32) float32 {
	i, ok := m.index[name]
	if !ok {
		return v
	}
	lo, hi := m.DataMin[i], m.DataMax[i]
	if hi <= lo {
		return 0
	}
	scaled := (float64(v) - lo) / (hi - lo)
	if scaled < 0 {
		return 0
	}
	if scaled > 1 {
		return 1
	}
	return float32(scaled)
}

// Normalize 按 FeatureNames 顺序缩放特征向量
func (m *MinMax) Normalize(f models.TripFeatures) []float32 {
	vec := f.Vector()
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = m.Scale(models.FeatureNames[i], v)
	}
	return out
}
