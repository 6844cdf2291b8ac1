package domain

// SubscriptionStats is the aggregate view computed on demand from the
// ledger; it is derived state and never persisted.
type SubscriptionStats struct {
	TotalSubscriptions    int64               `json:"total_subscriptions"`
	ActiveSubscriptions   int64               `json:"active_subscriptions"`
	TotalRevenue          int64               `json:"total_revenue"`
	RevenueByGateway      map[string]int64    `json:"revenue_by_gateway"`
	SubscriptionsByBadge  map[BadgeType]int64 `json:"subscriptions_by_badge"`
	TrialConversions      int64               `json:"trial_conversions"` // percent, rounded
	XPRedemptions         int64               `json:"xp_redemptions"`
	AverageRevenuePerUser int64               `json:"average_revenue_per_user"` // rounded, 0 if no paid users
}
