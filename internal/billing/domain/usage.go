package domain

import (
	"sort"

	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
)

// Counter is the usage of one metric. Used covers the current period only;
// Lifetime is an audit total and never drives enforcement.
type Counter struct {
	Used     int64 `json:"used"`
	Lifetime int64 `json:"lifetime"`
}

// UsageLine reports one metric against its plan limit.
// Limit and Remaining are catalog.Unlimited for unmetered quotas.
type UsageLine struct {
	Metric    string `json:"metric"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	Lifetime  int64  `json:"lifetime"`
}

func remaining(limit, used int64) int64 {
	if limit == catalog.Unlimited {
		return catalog.Unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// UsageReport lists every metric of plan with the subscription's counters.
func (s *Subscription) UsageReport(plan *catalog.Plan) ([]UsageLine, error) {
	if plan.Ref() != s.plan {
		return nil, ErrPlanMismatch
	}

	limits := plan.Limits()
	lines := make([]UsageLine, 0, len(limits))
	for metric, limit := range limits {
		c := s.usage[metric]
		lines = append(lines, UsageLine{
			Metric:    metric,
			Used:      c.Used,
			Limit:     limit,
			Remaining: remaining(limit, c.Used),
			Lifetime:  c.Lifetime,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Metric < lines[j].Metric })
	return lines, nil
}

// Remaining returns the quota left for metric in the current period.
func (s *Subscription) Remaining(plan *catalog.Plan, metric string) (int64, error) {
	if plan.Ref() != s.plan {
		return 0, ErrPlanMismatch
	}
	limit, ok := plan.Limit(metric)
	if !ok {
		return 0, ErrUnknownMetric
	}
	return remaining(limit, s.usage[metric].Used), nil
}
