package billing

import "homegrid/internal/types"

// ActiveState computes the absolute agency state for a successful payment:
// the subscription is live, the plan follows the subscription's price, and
// listings become publicly discoverable. Unknown price IDs fall back to the
// basic tier; ok=false tells the caller to log the mismatch.
func ActiveState(sub types.ProviderSubscription, catalog *Catalog) (types.BillingState, bool) {
	def, ok := catalog.ResolvePrice(sub.PriceID)
	return types.BillingState{
		Status:               types.SubStatusActive,
		Plan:                 def.Tier,
		PropertyLimit:        def.PropertyLimit,
		StripeSubscriptionID: sub.ID,
		IsActive:             true,
	}, ok
}

// CanceledState computes the absolute agency state for a subscription
// cancellation. The plan and limit are forcibly reset to the basic tier floor
// regardless of what was active, and the subscription reference is cleared;
// cancellation always demotes, never leaves a stale elevated limit in place.
func CanceledState(catalog *Catalog) types.BillingState {
	def := catalog.ResolveTier(types.PlanBasic)
	return types.BillingState{
		Status:               types.SubStatusCanceled,
		Plan:                 def.Tier,
		PropertyLimit:        def.PropertyLimit,
		StripeSubscriptionID: "",
		IsActive:             false,
	}
}
