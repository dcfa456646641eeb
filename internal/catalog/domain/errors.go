package domain

import "errors"

var (
	ErrPlanNotFound        = errors.New("plan not found")
	ErrPlanVersionExists   = errors.New("plan version already exists")
	ErrInvalidPlan         = errors.New("invalid plan")
	ErrInvalidMoney        = errors.New("invalid money amount")
	ErrUnknownBillingCycle = errors.New("unknown billing cycle")
)
