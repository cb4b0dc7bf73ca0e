package classifier

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// Scorer 评分函数，同一输入必须得到同一输出
type Scorer interface {
	Score(ctx context.Context, features models.TripFeatures) (models.ModelInference, error)
}

// ScorerFunc 函数适配器
type ScorerFunc func(ctx context.Context, features models.TripFeatures) (models.ModelInference, error)

// Score 实现 Scorer
func (f ScorerFunc) Score(ctx context.Context, features models.TripFeatures) (models.ModelInference, error) {
	return f(ctx, features)
}

//go:embed default_model.yaml
var defaultModelYAML []byte

// LinearModel 线性模型定义，每个类别一行权重
type LinearModel struct {
	Name      string      `yaml:"name"`
	Normalize bool        `yaml:"normalize"`
	Weights   [][]float64 `yaml:"weights"`
	Bias      []float64   `yaml:"bias"`
	// EmitLabel 同时输出 argmax 标签
	EmitLabel bool `yaml:"emit_label"`
}

// ModelScorer 基于线性模型的评分器，输出经 Interpreter 解释
type ModelScorer struct {
	model       LinearModel
	minMax      *MinMax
	interpreter *Interpreter
}

// LoadModel 从 YAML 文件加载模型；path 为空时使用内置模型
func LoadModel(path string) (LinearModel, error) {
	data := defaultModelYAML
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return LinearModel{}, fmt.Errorf("read model file: %w", err)
		}
	}
	return ParseModel(data)
}

// ParseModel 解析并校验模型
func ParseModel(data []byte) (LinearModel, error) {
	var m LinearModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return LinearModel{}, fmt.Errorf("decode model: %w", err)
	}
	if len(m.Weights) == 0 {
		return LinearModel{}, fmt.Errorf("model %q has no weights", m.Name)
	}
	if len(m.Bias) != len(m.Weights) {
		return LinearModel{}, fmt.Errorf("model %q: %d weight rows but %d biases", m.Name, len(m.Weights), len(m.Bias))
	}
	for i, row := range m.Weights {
		if len(row) != len(models.FeatureNames) {
			return LinearModel{}, fmt.Errorf("model %q: row %d has %d weights, want %d", m.Name, i, len(row), len(models.FeatureNames))
		}
	}
	return m, nil
}

// NewModelScorer 创建评分器；minMax 为空时使用默认范围
func NewModelScorer(model LinearModel, minMax *MinMax) *ModelScorer {
	if minMax == nil {
		minMax = DefaultMinMax()
	}
	return &ModelScorer{
		model:       model,
		minMax:      minMax,
		interpreter: NewInterpreter(),
	}
}

// Score 实现 Scorer
func (s *ModelScorer) Score(ctx context.Context, features models.TripFeatures) (models.ModelInference, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelInference{}, err
	}
	return s.interpreter.Interpret(s.Run(features))
}

// Run 计算原始输出
func (s *ModelScorer) Run(features models.TripFeatures) map[string]interface{} {
	input := features.Vector()
	if s.model.Normalize {
		input = s.minMax.Normalize(features)
	}

	scores := make([]float32, len(s.model.Weights))
	for i, row := range s.model.Weights {
		z := s.model.Bias[i]
		for j, w := range row {
			z += w * float64(input[j])
		}
		scores[i] = float32(z)
	}

	outputs := map[string]interface{}{"scores": scores}
	if s.model.EmitLabel && len(scores) > 1 {
		outputs["label"] = []int64{int64(argmax(scores))}
	}
	return outputs
}
