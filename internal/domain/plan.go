// Package domain contains core business types and interfaces.
//
// This file defines plan tiers and the immutable Plan value.
package domain

import (
	"fmt"
	"strings"
)

// PlanID identifies a subscription plan tier.
type PlanID string

const (
	PlanFree   PlanID = "free"
	PlanBasic  PlanID = "basic"
	PlanPro    PlanID = "pro"
	PlanAgency PlanID = "agency"
)

// planOrder is the total order over tiers. Higher ordinal means higher tier.
var planOrder = map[PlanID]int{
	PlanFree:   0,
	PlanBasic:  1,
	PlanPro:    2,
	PlanAgency: 3,
}

// ParsePlanID normalizes and validates a plan identifier.
func ParsePlanID(s string) (PlanID, bool) {
	id := PlanID(strings.ToLower(strings.TrimSpace(s)))
	_, ok := planOrder[id]
	return id, ok
}

// Ordinal returns the tier's position in the plan order, or -1 if unknown.
func (id PlanID) Ordinal() int {
	if o, ok := planOrder[id]; ok {
		return o
	}
	return -1
}

// Valid reports whether id is a known tier.
func (id PlanID) Valid() bool {
	return id.Ordinal() >= 0
}

// Compare returns -1, 0 or 1 depending on whether id is lower than, equal to
// or higher than other in the tier order.
func (id PlanID) Compare(other PlanID) int {
	a, b := id.Ordinal(), other.Ordinal()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Limit is a non-negative unit ceiling, or Unlimited.
type Limit int64

// Unlimited marks a limit with no ceiling.
const Unlimited Limit = -1

// IsUnlimited reports whether the limit has no ceiling.
func (l Limit) IsUnlimited() bool {
	return l == Unlimited
}

// Allows reports whether used units are still below the limit.
func (l Limit) Allows(used int64) bool {
	return l.IsUnlimited() || used < int64(l)
}

// Fits reports whether used units fit within the limit (used <= limit).
func (l Limit) Fits(used int64) bool {
	return l.IsUnlimited() || used <= int64(l)
}

func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return fmt.Sprintf("%d", int64(l))
}

// Plan is an immutable description of a tier and its numeric limits.
// Money amounts are integer cents.
type Plan struct {
	ID                       PlanID
	Name                     string
	MonthlyPriceCents        int64
	MonthlyLimit             Limit
	DailyLimit               Limit
	OveragePriceCents        int64 // per unit; 0 means the plan has no paid overage
	IncludedSeats            int64
	AdditionalSeatPriceCents int64
}

// AllowsOverage reports whether the plan prices units beyond its monthly limit.
func (p Plan) AllowsOverage() bool {
	return p.OveragePriceCents > 0 && !p.MonthlyLimit.IsUnlimited()
}

// Validate checks the plan's invariants.
func (p Plan) Validate() error {
	if !p.ID.Valid() {
		return fmt.Errorf("plan %q: unknown tier", p.ID)
	}
	if p.Name == "" {
		return fmt.Errorf("plan %q: name is required", p.ID)
	}
	if p.MonthlyPriceCents < 0 {
		return fmt.Errorf("plan %q: monthly price must be non-negative", p.ID)
	}
	if p.MonthlyLimit < Unlimited {
		return fmt.Errorf("plan %q: monthly limit must be non-negative or unlimited", p.ID)
	}
	if p.DailyLimit < Unlimited {
		return fmt.Errorf("plan %q: daily limit must be non-negative or unlimited", p.ID)
	}
	if p.OveragePriceCents < 0 {
		return fmt.Errorf("plan %q: overage price must be non-negative", p.ID)
	}
	if p.IncludedSeats < 0 {
		return fmt.Errorf("plan %q: included seats must be non-negative", p.ID)
	}
	if p.AdditionalSeatPriceCents < 0 {
		return fmt.Errorf("plan %q: additional seat price must be non-negative", p.ID)
	}
	return nil
}
