package classifier

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// ErrNoUsableOutputs 模型输出中既没有概率也没有标签
var ErrNoUsableOutputs = errors.New("no usable outputs found for inference")

// Interpreter 将原始模型输出解释为推理结果
type Interpreter struct {
	AlcoholClassIndex int
	ProbabilityHints  []string
	LabelHints        []string
	Threshold         float32
}

// NewInterpreter 创建默认解释器
func NewInterpreter() *Interpreter {
	return &Interpreter{
		AlcoholClassIndex: 1,
		ProbabilityHints:  []string{"prob", "probability", "probabilities", "output_probability", "score", "scores"},
		LabelHints:        []string{"label", "labels", "output_label", "predicted"},
		Threshold:         0.5,
	}
}

// Interpret 标签优先于概率；概率不像概率时做 sigmoid/softmax
func (in *Interpreter) Interpret(outputs map[string]interface{}) (models.ModelInference, error) {
	probs := extractProbabilities(findByName(outputs, in.ProbabilityHints))
	label := extractLabel(findByName(outputs, in.LabelHints))

	if probs == nil || label == nil {
		for _, name := range sortedKeys(outputs) {
			if probs == nil {
				probs = extractProbabilities(outputs[name])
			}
			if label == nil {
				label = extractLabel(outputs[name])
			}
		}
	}

	if probs == nil && label == nil {
		return models.ModelInference{}, ErrNoUsableOutputs
	}

	var result models.ModelInference
	result.RawLabel = label

	var normalized []float32
	if probs != nil {
		result.RawProbabilities = append([]float32(nil), probs...)
		normalized = normalizeScores(probs)
		switch {
		case len(normalized) == 1:
			p := clampProb(normalized[0])
			result.Probability = &p
		case len(normalized) > in.AlcoholClassIndex:
			p := clampProb(normalized[in.AlcoholClassIndex])
			result.Probability = &p
		}
	}

	switch {
	case label != nil:
		result.IsAlcoholInfluenced = *label == int64(in.AlcoholClassIndex)
	case result.Probability != nil:
		result.IsAlcoholInfluenced = *result.Probability >= in.Threshold
	case len(normalized) > 0:
		result.IsAlcoholInfluenced = argmax(normalized) == in.AlcoholClassIndex
	}

	return result, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// findByName 按名称提示查找输出，名称按字典序遍历保证确定性
func findByName(outputs map[string]interface{}, hints []string) interface{} {
	for _, name := range sortedKeys(outputs) {
		lower := strings.ToLower(name)
		for _, hint := range hints {
			if strings.Contains(lower, hint) {
				return outputs[name]
			}
		}
	}
	return nil
}

func extractProbabilities(v interface{}) []float32 {
	switch t := v.(type) {
	case []float32:
		return t
	case []float64:
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(f)
		}
		return out
	case [][]float32:
		if len(t) > 0 {
			return t[0]
		}
	case [][]float64:
		if len(t) > 0 {
			return extractProbabilities(t[0])
		}
	case []map[int64]float32:
		if len(t) > 0 {
			return extractProbabilities(t[0])
		}
	case map[int64]float32:
		indexed := make(map[int]float32, len(t))
		for k, p := range t {
			indexed[int(k)] = p
		}
		return indexedToSlice(indexed)
	case map[string]float64:
		indexed := make(map[int]float32, len(t))
		for k, p := range t {
			if i, err := strconv.Atoi(k); err == nil {
				indexed[i] = float32(p)
			}
		}
		return indexedToSlice(indexed)
	case float32:
		return []float32{t}
	case float64:
		return []float32{float32(t)}
	}
	return nil
}

// indexedToSlice 类别下标 -> 概率 转为稠密切片，缺失的类别为 0
func indexedToSlice(indexed map[int]float32) []float32 {
	size := 0
	for i := range indexed {
		if i >= 0 && i+1 > size {
			size = i + 1
		}
	}
	if size == 0 {
		return nil
	}
	out := make([]float32, size)
	for i, p := range indexed {
		if i >= 0 {
			out[i] = p
		}
	}
	return out
}

func extractLabel(v interface{}) *int64 {
	var label int64
	switch t := v.(type) {
	case int64:
		label = t
	case int:
		label = int64(t)
	case int32:
		label = int64(t)
	case []int64:
		if len(t) == 0 {
			return nil
		}
		label = t[0]
	case []int:
		if len(t) == 0 {
			return nil
		}
		label = int64(t[0])
	case [][]int64:
		if len(t) == 0 || len(t[0]) == 0 {
			return nil
		}
		label = t[0][0]
	default:
		return nil
	}
	return &label
}

func normalizeScores(values []float32) []float32 {
	if len(values) == 0 {
		return values
	}

	inRange := true
	var sum float32
	for _, v := range values {
		if v < 0 || v > 1 {
			inRange = false
		}
		sum += v
	}

	if len(values) == 1 {
		if inRange {
			return values
		}
		return []float32{sigmoid(values[0])}
	}

	if inRange && math.Abs(float64(sum-1)) <= 0.01 {
		return values
	}
	return softmax(values)
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

func softmax(values []float32) []float32 {
	peak := values[0]
	for _, v := range values[1:] {
		if v > peak {
			peak = v
		}
	}
	exps := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		exps[i] = math.Exp(float64(v - peak))
		sum += exps[i]
	}
	if sum < 1e-6 {
		sum = 1e-6
	}
	out := make([]float32, len(values))
	for i, e := range exps {
		out[i] = float32(e / sum)
	}
	return out
}

func argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func clampProb(p float32) float32 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
