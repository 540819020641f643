// Package billing holds the subscription plan catalog, the quota-enforcing
// property ledger, and the reconciliation auditor. It contains the pure
// billing-state derivation used by the webhook handlers so the state machine
// can be tested without a database or a provider.
package billing

import (
	"homegrid/internal/config"
	"homegrid/internal/types"
)

// Plan property quotas. Fixed at deploy time; only the provider price IDs
// vary per environment.
const (
	BasicPropertyLimit        = 20
	ProfessionalPropertyLimit = 75
	EnterprisePropertyLimit   = 200
)

// Catalog maps provider price IDs to plan definitions. It is immutable after
// construction and safe for concurrent reads.
type Catalog struct {
	byPriceID map[string]types.PlanDefinition
	byTier    map[types.PlanTier]types.PlanDefinition
}

// NewCatalog builds the three-entry plan catalog from the configured price IDs.
func NewCatalog(cfg config.BillingConfig) *Catalog {
	defs := []types.PlanDefinition{
		{PriceID: cfg.PriceBasic, Tier: types.PlanBasic, PropertyLimit: BasicPropertyLimit},
		{PriceID: cfg.PriceProfessional, Tier: types.PlanProfessional, PropertyLimit: ProfessionalPropertyLimit},
		{PriceID: cfg.PriceEnterprise, Tier: types.PlanEnterprise, PropertyLimit: EnterprisePropertyLimit},
	}

	c := &Catalog{
		byPriceID: make(map[string]types.PlanDefinition, len(defs)),
		byTier:    make(map[types.PlanTier]types.PlanDefinition, len(defs)),
	}
	for _, d := range defs {
		c.byPriceID[d.PriceID] = d
		c.byTier[d.Tier] = d
	}
	return c
}

// ResolvePrice maps a provider price ID to its plan definition. Unknown price
// IDs resolve to the basic plan and ok=false; callers log the mismatch but
// keep processing so a catalog misconfiguration never drops billing events.
func (c *Catalog) ResolvePrice(priceID string) (types.PlanDefinition, bool) {
	if d, ok := c.byPriceID[priceID]; ok {
		return d, true
	}
	return c.byTier[types.PlanBasic], false
}

// ResolveTier maps a plan tier to its definition. Unknown tiers resolve to
// the basic plan.
func (c *Catalog) ResolveTier(tier types.PlanTier) types.PlanDefinition {
	if d, ok := c.byTier[tier]; ok {
		return d
	}
	return c.byTier[types.PlanBasic]
}
