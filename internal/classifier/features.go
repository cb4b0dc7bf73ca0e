// Package classifier 将行程特征投影为模型输入并解释模型输出
package classifier

import (
	"time"

	"github.com/iniakponode/driveafrica-sub003/internal/models"
)

// Project 将特征状态投影为固定顺序的特征向量
// 小时与星期由行程开始时间在训练时区下得出，星期日为 0
func Project(state *models.TripFeatureState, start time.Time, loc *time.Location) models.TripFeatures {
	if loc == nil {
		loc = time.UTC
	}
	local := start.In(loc)

	return models.TripFeatures{
		HourOfDayMean:     float32(local.Hour()),
		DayOfWeekMean:     float32(local.Weekday()),
		SpeedStd:          float32(state.Speed.StdDev()),
		CourseStd:         float32(state.Course.StdDev()),
		AccelerationYMean: float32(state.AccelY.Mean),
	}
}
