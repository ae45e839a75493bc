// Package plans provides the plan catalogue: the static set of tiers and
// their numeric limits, validated once at startup and read-only afterwards.
package plans

import (
	"fmt"
	"os"
	"sort"

	"github.com/DukeRupert/meterline/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultPlans is the built-in catalogue.
var DefaultPlans = []domain.Plan{
	{
		ID:                       domain.PlanFree,
		Name:                     "Free",
		MonthlyPriceCents:        0,
		MonthlyLimit:             10,
		DailyLimit:               3,
		OveragePriceCents:        0,
		IncludedSeats:            1,
		AdditionalSeatPriceCents: 0,
	},
	{
		ID:                       domain.PlanBasic,
		Name:                     "Basic",
		MonthlyPriceCents:        1900,
		MonthlyLimit:             60,
		DailyLimit:               20,
		OveragePriceCents:        10,
		IncludedSeats:            1,
		AdditionalSeatPriceCents: 900,
	},
	{
		ID:                       domain.PlanPro,
		Name:                     "Pro",
		MonthlyPriceCents:        4900,
		MonthlyLimit:             250,
		DailyLimit:               50,
		OveragePriceCents:        8,
		IncludedSeats:            3,
		AdditionalSeatPriceCents: 900,
	},
	{
		ID:                       domain.PlanAgency,
		Name:                     "Agency",
		MonthlyPriceCents:        14900,
		MonthlyLimit:             domain.Unlimited,
		DailyLimit:               domain.Unlimited,
		OveragePriceCents:        0,
		IncludedSeats:            10,
		AdditionalSeatPriceCents: 700,
	},
}

// Registry is a read-only lookup over the plan catalogue.
// It is safe for concurrent use because it is never mutated after New.
type Registry struct {
	plans map[domain.PlanID]domain.Plan
}

// New validates the given plans and builds a Registry.
// Every known tier must be present exactly once.
func New(plans []domain.Plan) (*Registry, error) {
	byID := make(map[domain.PlanID]domain.Plan, len(plans))
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("plan %q defined more than once", p.ID)
		}
		byID[p.ID] = p
	}

	for _, id := range []domain.PlanID{domain.PlanFree, domain.PlanBasic, domain.PlanPro, domain.PlanAgency} {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("plan %q missing from catalogue", id)
		}
	}

	return &Registry{plans: byID}, nil
}

// Default returns a Registry over DefaultPlans.
func Default() *Registry {
	r, err := New(DefaultPlans)
	if err != nil {
		panic(fmt.Sprintf("plans: invalid default catalogue: %v", err))
	}
	return r
}

// PlanFor returns the plan with the given id, or an UnknownPlan error.
func (r *Registry) PlanFor(id domain.PlanID) (domain.Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return domain.Plan{}, domain.UnknownPlan("plans.plan_for", id)
	}
	return p, nil
}

// IsDowngrade reports whether moving from -> to lowers the tier.
func (r *Registry) IsDowngrade(from, to domain.PlanID) (bool, error) {
	if err := r.check(from, to); err != nil {
		return false, err
	}
	return to.Compare(from) < 0, nil
}

// IsUpgrade reports whether moving from -> to raises the tier.
func (r *Registry) IsUpgrade(from, to domain.PlanID) (bool, error) {
	if err := r.check(from, to); err != nil {
		return false, err
	}
	return to.Compare(from) > 0, nil
}

// All returns the catalogue ordered by tier.
func (r *Registry) All() []domain.Plan {
	out := make([]domain.Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Ordinal() < out[j].ID.Ordinal()
	})
	return out
}

func (r *Registry) check(ids ...domain.PlanID) error {
	for _, id := range ids {
		if _, ok := r.plans[id]; !ok {
			return domain.UnknownPlan("plans.compare", id)
		}
	}
	return nil
}

// =============================================================================
// YAML catalogue
// =============================================================================

// planFile is the on-disk shape of a catalogue. An omitted limit or -1
// means no ceiling.
type planFile struct {
	Plans []struct {
		ID                       string `yaml:"id"`
		Name                     string `yaml:"name"`
		MonthlyPriceCents        int64  `yaml:"monthly_price_cents"`
		MonthlyLimit             *int64 `yaml:"monthly_limit"`
		DailyLimit               *int64 `yaml:"daily_limit"`
		OveragePriceCents        int64  `yaml:"overage_price_cents"`
		IncludedSeats            int64  `yaml:"included_seats"`
		AdditionalSeatPriceCents int64  `yaml:"additional_seat_price_cents"`
	} `yaml:"plans"`
}

// Parse decodes a YAML catalogue and validates it.
func Parse(data []byte) (*Registry, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plan catalogue: %w", err)
	}

	plans := make([]domain.Plan, 0, len(f.Plans))
	for _, raw := range f.Plans {
		id, ok := domain.ParsePlanID(raw.ID)
		if !ok {
			return nil, fmt.Errorf("parse plan catalogue: unknown plan %q", raw.ID)
		}
		plans = append(plans, domain.Plan{
			ID:                       id,
			Name:                     raw.Name,
			MonthlyPriceCents:        raw.MonthlyPriceCents,
			MonthlyLimit:             limitOf(raw.MonthlyLimit),
			DailyLimit:               limitOf(raw.DailyLimit),
			OveragePriceCents:        raw.OveragePriceCents,
			IncludedSeats:            raw.IncludedSeats,
			AdditionalSeatPriceCents: raw.AdditionalSeatPriceCents,
		})
	}

	return New(plans)
}

// LoadFile reads a YAML catalogue from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalogue: %w", err)
	}
	return Parse(data)
}

func limitOf(v *int64) domain.Limit {
	if v == nil {
		return domain.Unlimited
	}
	return domain.Limit(*v)
}
