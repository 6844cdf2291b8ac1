/**
 * @description
 * This file defines the badge catalog for the badge-service: the static,
 * immutable table of badge tiers a user can hold, together with each tier's
 * price, duration, feature list and optional XP redemption threshold.
 *
 * @notes
 * - The catalog is configuration, not data. It is compiled in and never
 *   mutated at runtime, so lookups need no locking.
 * - Prices are stored as `int64` in whole BDT taka, matching what the
 *   mobile-money gateways bill.
 */

package domain

import (
	"errors"
	"fmt"
)

// BadgeType identifies a badge tier.
type BadgeType string

const (
	BadgeFree    BadgeType = "free"
	BadgeTrial   BadgeType = "trial"
	BadgeBronze  BadgeType = "bronze"
	BadgeSilver  BadgeType = "silver"
	BadgeGold    BadgeType = "gold"
	BadgeDiamond BadgeType = "diamond"
)

// ErrUnknownBadgeType is returned when a badge type is not in the catalog.
var ErrUnknownBadgeType = errors.New("unknown badge type")

// TrialDurationDays is the fixed length of the one-time trial.
const TrialDurationDays = 7

// BadgePlan describes one badge tier in the catalog.
type BadgePlan struct {
	ID           BadgeType `json:"id"`
	Name         string    `json:"name"`
	DurationDays int       `json:"duration_days"`
	Price        int64     `json:"price"` // in BDT taka
	XPThreshold  *int64    `json:"xp_threshold,omitempty"`
	Features     []string  `json:"features"`
}

// Redeemable reports whether this plan can be obtained by spending XP.
func (p BadgePlan) Redeemable() bool {
	return p.XPThreshold != nil
}

func xp(v int64) *int64 { return &v }

// badgePlans is the full catalog keyed by badge type. `free` and `trial`
// are rows like any other so generic lookups work for them too.
var badgePlans = map[BadgeType]BadgePlan{
	BadgeFree: {
		ID:           BadgeFree,
		Name:         "Free",
		DurationDays: 0,
		Price:        0,
		Features:     []string{"daily_quiz", "catalog_browse"},
	},
	BadgeTrial: {
		ID:           BadgeTrial,
		Name:         "Trial",
		DurationDays: TrialDurationDays,
		Price:        0,
		Features:     []string{"daily_quiz", "catalog_browse", "ad_free", "bonus_quizzes"},
	},
	BadgeBronze: {
		ID:           BadgeBronze,
		Name:         "Bronze",
		DurationDays: 30,
		Price:        300,
		XPThreshold:  xp(7000),
		Features:     []string{"daily_quiz", "catalog_browse", "ad_free", "bonus_quizzes"},
	},
	BadgeSilver: {
		ID:           BadgeSilver,
		Name:         "Silver",
		DurationDays: 30,
		Price:        500,
		XPThreshold:  xp(15000),
		Features:     []string{"daily_quiz", "catalog_browse", "ad_free", "bonus_quizzes", "exclusive_avatars"},
	},
	BadgeGold: {
		ID:           BadgeGold,
		Name:         "Gold",
		DurationDays: 30,
		Price:        1000,
		XPThreshold:  xp(30000),
		Features:     []string{"daily_quiz", "catalog_browse", "ad_free", "bonus_quizzes", "exclusive_avatars", "early_access"},
	},
	BadgeDiamond: {
		ID:           BadgeDiamond,
		Name:         "Diamond",
		DurationDays: 30,
		Price:        2000,
		// Diamond is payment-only; it has no XP threshold.
		Features: []string{"daily_quiz", "catalog_browse", "ad_free", "bonus_quizzes", "exclusive_avatars", "early_access", "diamond_lounge"},
	},
}

// PlanFor looks up the catalog entry for a badge type.
func PlanFor(badge BadgeType) (BadgePlan, error) {
	plan, ok := badgePlans[badge]
	if !ok {
		return BadgePlan{}, fmt.Errorf("%w: %q", ErrUnknownBadgeType, badge)
	}
	return plan, nil
}
