package models

// TripFeatures 分类器输入向量，顺序固定
type TripFeatures struct {
	HourOfDayMean     float32 `json:"hour_of_day_mean"`
	DayOfWeekMean     float32 `json:"day_of_week_mean"`
	SpeedStd          float32 `json:"speed_std"`
	CourseStd         float32 `json:"course_std"`
	AccelerationYMean float32 `json:"acceleration_y_original_mean"`
}

// FeatureNames 与 Vector 顺序对应的特征名
var FeatureNames = []string{
	"hour_of_day_mean",
	"day_of_week_mean",
	"speed_std",
	"course_std",
	"accelerationYOriginal_mean",
}

// Vector 按固定顺序输出
func (f TripFeatures) Vector() []float32 {
	return []float32{f.HourOfDayMean, f.DayOfWeekMean, f.SpeedStd, f.CourseStd, f.AccelerationYMean}
}

// ModelInference 模型推理结果
type ModelInference struct {
	IsAlcoholInfluenced bool      `json:"is_alcohol_influenced"`
	Probability         *float32  `json:"probability,omitempty"`
	RawProbabilities    []float32 `json:"raw_probabilities,omitempty"`
	RawLabel            *int64    `json:"raw_label,omitempty"`
}

// Label 分类标签文本
func (m ModelInference) Label() string {
	if m.IsAlcoholInfluenced {
		return LabelAlcoholInfluenced
	}
	return LabelSober
}
