// Package router selects the concrete (provider, model) routes for an
// execution based on the agent's model policy and the caller's plan tier.
package router

import (
	"fmt"

	"github.com/agentlane/execution-gateway/internal/adapters"
	"github.com/agentlane/execution-gateway/internal/agents"
	"github.com/agentlane/execution-gateway/internal/auth"
)

// Router applies tier-based routing policy. Immutable after construction.
type Router struct {
	economy map[adapters.Provider]string
}

// New builds a router from provider-name keyed economy overrides,
// rejecting unknown provider names at startup.
func New(economyModels map[string]string) (*Router, error) {
	economy := make(map[adapters.Provider]string, len(economyModels))
	for name, model := range economyModels {
		provider := adapters.ProviderFromString(name)
		if provider == adapters.ProviderUnknown {
			return nil, fmt.Errorf("routing: unknown provider %q in economy_models", name)
		}
		economy[provider] = model
	}
	return &Router{economy: economy}, nil
}

// Route returns the primary route for def under tier. Basic-tier callers
// get the provider's economy model when one is declared; all other tiers
// (and providers without an override) run the declared preferred model.
func (r *Router) Route(def *agents.Definition, tier auth.PlanTier) agents.Route {
	route := agents.Route{Provider: def.Model.Provider, Model: def.Model.Model}
	if tier != auth.PlanBasic {
		return route
	}
	if economy, ok := r.economy[route.Provider]; ok && economy != "" {
		route.Model = economy
	}
	return route
}

// Fallbacks returns the definition's declared fallback list, unmodified
// by tier.
func (r *Router) Fallbacks(def *agents.Definition) []agents.Route {
	return def.Model.Fallbacks
}

// Attempts returns the full attempt order for one execution: the routed
// primary followed by the declared fallbacks.
func (r *Router) Attempts(def *agents.Definition, tier auth.PlanTier) []agents.Route {
	routes := make([]agents.Route, 0, 1+len(def.Model.Fallbacks))
	routes = append(routes, r.Route(def, tier))
	routes = append(routes, r.Fallbacks(def)...)
	return routes
}
