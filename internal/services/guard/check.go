package guard

import (
	"context"

	"github.com/magabrotheeeer/entitlement-sync/internal/lib/metrics"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
)

// AccessReader читает доступ пользователя.
type AccessReader interface {
	Query(ctx context.Context, identity *models.Identity) models.AccessState
}

// Guard связывает политику платных ресурсов с чтением доступа.
type Guard struct {
	policy *Policy
	paths  Paths
	access AccessReader
}

// New создаёт Guard.
func New(policy *Policy, paths Paths, access AccessReader) *Guard {
	return &Guard{policy: policy, paths: paths.withDefaults(), access: access}
}

// Check принимает решение по запросу requested. Доступ читается только для
// платных ресурсов и только для вошедшего пользователя.
func (g *Guard) Check(ctx context.Context, identity *models.Identity, requested string) (Result, models.AccessState) {
	in := Input{
		Identity:            identity,
		RequiresEntitlement: g.policy.RequiresEntitlement(requested),
		RequestedPath:       requested,
		Paths:               g.paths,
	}
	if in.RequiresEntitlement && identity != nil && identity.UserID != "" {
		in.Access = g.access.Query(ctx, identity)
	}
	res := Evaluate(in)
	metrics.GuardDecisionsTotal.WithLabelValues(string(res.Decision)).Inc()
	return res, in.Access
}

// Paths адреса перенаправлений.
func (g *Guard) Paths() Paths {
	return g.paths
}
