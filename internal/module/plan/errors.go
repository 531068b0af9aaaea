package plan

import "errors"

var (
	ErrPlanNotFound     = errors.New("plan not found")
	ErrFeatureNotFound  = errors.New("feature not found")
	ErrPlanNameTaken    = errors.New("plan name already exists")
	ErrInheritanceCycle = errors.New("plan inheritance forms a cycle")
	ErrInvalidInterval  = errors.New("invalid billing interval")
)
