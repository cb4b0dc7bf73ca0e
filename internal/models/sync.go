package models

// SyncKind 上传流类型
type SyncKind string

const (
	SyncTripSummary      SyncKind = "trip_summary"
	SyncTripFeatureState SyncKind = "trip_feature_state"
	SyncUnsafeBehaviour  SyncKind = "unsafe_behaviour"
)

// SyncKinds 所有上传流
var SyncKinds = []SyncKind{SyncTripSummary, SyncTripFeatureState, SyncUnsafeBehaviour}
