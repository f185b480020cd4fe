package catalog

import (
	"github.com/google/uuid"
)

// IntervalPolicy declares how many billing intervals a plan may carry.
// The policy is fixed at creation time: calling a single-interval API on a
// multi-interval plan (or vice versa) is a programming error and fails fast.
type IntervalPolicy string

const (
	// SingleInterval plans keep exactly zero or one interval; setting a new
	// one replaces the existing interval in place.
	SingleInterval IntervalPolicy = "single"
	// MultiInterval plans keep an ordered set of intervals, replaceable in
	// bulk or appended one at a time.
	MultiInterval IntervalPolicy = "multi"
)

// Plan is a purchasable entitlement bundle: feature flags, consumable quota
// templates and one or more billing intervals. Plans are grouped by an
// optional group code; within a group exactly one plan is the default.
type Plan struct {
	ID          uuid.UUID
	Name        string
	Description string
	FreeDays    int
	SortOrder   int
	Enabled     bool
	Default     bool
	Group       string // empty means the ungrouped group
	Policy      IntervalPolicy
	Intervals   []Interval
	Features    []Feature
}

// FirstInterval returns the plan's cheapest interval, or nil when the plan
// has none. "First" means first by ascending price, matching the ordering
// the free/paid classification is defined against.
func (p *Plan) FirstInterval() *Interval {
	var first *Interval
	for idx := range p.Intervals {
		if first == nil || p.Intervals[idx].Price.LessThan(first.Price) {
			first = &p.Intervals[idx]
		}
	}
	return first
}

// IsFree reports whether the plan costs nothing: it has no intervals at all,
// or its first interval by ascending price is priced at zero.
func (p *Plan) IsFree() bool {
	first := p.FirstInterval()
	return first == nil || first.Price.IsZero()
}

// IsNotFree reports whether the plan has at least one interval and its first
// interval by ascending price carries a positive price. Note this is not the
// strict complement of IsFree for plans mixing free and paid intervals; both
// only ever inspect the first interval by price order.
func (p *Plan) IsNotFree() bool {
	first := p.FirstInterval()
	return first != nil && first.Price.IsPositive()
}

// HasManyIntervals reports whether the plan currently carries more than one
// interval.
func (p *Plan) HasManyIntervals() bool {
	return len(p.Intervals) > 1
}

// IsDisabled reports whether the plan is closed for new subscriptions.
func (p *Plan) IsDisabled() bool {
	return !p.Enabled
}

// FeatureByCode returns the plan-level feature with the given code, or nil.
func (p *Plan) FeatureByCode(code string) *Feature {
	for idx := range p.Features {
		if p.Features[idx].Code == code {
			return &p.Features[idx]
		}
	}
	return nil
}

// Consumables returns the plan-level features that represent metered quota
// templates.
func (p *Plan) Consumables() []Feature {
	var out []Feature
	for _, f := range p.Features {
		if f.Consumable {
			out = append(out, f)
		}
	}
	return out
}
