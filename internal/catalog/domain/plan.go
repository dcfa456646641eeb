package domain

import (
	"fmt"
	"strings"
	"time"
)

// Unlimited marks a metric without a quota.
const Unlimited int64 = -1

// PlanRef pins a subscription to one plan version.
type PlanRef struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

func (r PlanRef) String() string {
	return fmt.Sprintf("%s@v%d", r.ID, r.Version)
}

// IsZero reports whether the reference is unset.
func (r PlanRef) IsZero() bool {
	return r.ID == "" && r.Version == 0
}

// Plan is one immutable version of a priced offering.
type Plan struct {
	id        string
	version   int
	name      string
	cycle     BillingCycle
	price     Money
	limits    map[string]int64
	trialDays int
	createdAt time.Time
}

// PlanSpec is the mutable description a new version is cut from.
type PlanSpec struct {
	ID        string
	Name      string
	Cycle     BillingCycle
	Price     Money
	Limits    map[string]int64
	TrialDays int
}

// NewPlan validates spec and freezes it as the given version.
func NewPlan(spec PlanSpec, version int, now time.Time) (*Plan, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidPlan)
	}
	if version < 1 {
		return nil, fmt.Errorf("%w: version must be positive", ErrInvalidPlan)
	}
	if _, err := ParseBillingCycle(string(spec.Cycle)); err != nil {
		return nil, err
	}
	price, err := NewMoney(spec.Price.Amount, spec.Price.Currency)
	if err != nil {
		return nil, err
	}
	if spec.TrialDays < 0 {
		return nil, fmt.Errorf("%w: trial days cannot be negative", ErrInvalidPlan)
	}

	limits := make(map[string]int64, len(spec.Limits))
	for metric, limit := range spec.Limits {
		metric = strings.TrimSpace(metric)
		if metric == "" {
			return nil, fmt.Errorf("%w: empty metric name", ErrInvalidPlan)
		}
		if limit < Unlimited {
			return nil, fmt.Errorf("%w: limit for %s must be >= -1", ErrInvalidPlan, metric)
		}
		limits[metric] = limit
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = id
	}

	return &Plan{
		id:        id,
		version:   version,
		name:      name,
		cycle:     spec.Cycle,
		price:     price,
		limits:    limits,
		trialDays: spec.TrialDays,
		createdAt: now.UTC(),
	}, nil
}

// RehydratePlan recreates a plan from persisted state.
func RehydratePlan(id string, version int, name string, cycle BillingCycle, price Money, limits map[string]int64, trialDays int, createdAt time.Time) *Plan {
	if limits == nil {
		limits = map[string]int64{}
	}
	return &Plan{
		id:        id,
		version:   version,
		name:      name,
		cycle:     cycle,
		price:     price,
		limits:    limits,
		trialDays: trialDays,
		createdAt: createdAt,
	}
}

func (p *Plan) ID() string           { return p.id }
func (p *Plan) Version() int         { return p.version }
func (p *Plan) Ref() PlanRef         { return PlanRef{ID: p.id, Version: p.version} }
func (p *Plan) Name() string         { return p.name }
func (p *Plan) Cycle() BillingCycle  { return p.cycle }
func (p *Plan) Price() Money         { return p.price }
func (p *Plan) TrialDays() int       { return p.trialDays }
func (p *Plan) CreatedAt() time.Time { return p.createdAt }

// Limits returns a copy of the metric quotas.
func (p *Plan) Limits() map[string]int64 {
	out := make(map[string]int64, len(p.limits))
	for k, v := range p.limits {
		out[k] = v
	}
	return out
}

// Limit returns the quota for metric and whether the plan meters it.
func (p *Plan) Limit(metric string) (int64, bool) {
	limit, ok := p.limits[metric]
	return limit, ok
}
