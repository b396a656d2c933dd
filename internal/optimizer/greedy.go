package optimizer

import (
	"log/slog"
	"sort"

	"medguard/internal/config"
	"medguard/internal/connectivity"
	"medguard/internal/types"
)

// ProtectionNetwork is an optimizer result: the sites selected under one
// budget, in selection order, with the running cost after each addition.
type ProtectionNetwork struct {
	Sites          []types.CandidateSite `json:"sites"`
	CumulativeCost []float64             `json:"cumulative_cost"`
	TotalCost      float64               `json:"total_cost"`
	Objective      float64               `json:"objective"`
	Budget         float64               `json:"budget"`
}

// SelectionStrategy chooses a protection network from scored candidates
// under a budget. Implementations must be deterministic for a fixed input.
type SelectionStrategy interface {
	Select(candidates []types.CandidateSite, budget, costPenalty float64) ProtectionNetwork
}

// GreedyStrategy picks candidates by marginal objective gain per unit cost
// until the budget is exhausted. Ties break toward higher centrality, then
// lower cost, then lower cell ID.
type GreedyStrategy struct{}

// Select implements SelectionStrategy.
func (GreedyStrategy) Select(candidates []types.CandidateSite, budget, costPenalty float64) ProtectionNetwork {
	net := ProtectionNetwork{Budget: budget}

	remaining := append([]types.CandidateSite(nil), candidates...)
	sort.Slice(remaining, func(i, j int) bool {
		a, b := remaining[i], remaining[j]
		ga, gb := gainPerCost(a, costPenalty), gainPerCost(b, costPenalty)
		if ga != gb {
			return ga > gb
		}
		if a.Centrality != b.Centrality {
			return a.Centrality > b.Centrality
		}
		if a.Cost != b.Cost {
			return a.Cost < b.Cost
		}
		return a.Cell < b.Cell
	})

	for _, c := range remaining {
		if net.TotalCost+c.Cost > budget {
			continue
		}
		gain := c.Centrality*c.HabitatQuality - costPenalty*c.Cost
		if gain <= 0 {
			continue
		}
		net.Sites = append(net.Sites, c)
		net.TotalCost += c.Cost
		net.CumulativeCost = append(net.CumulativeCost, net.TotalCost)
		net.Objective += gain
	}

	return net
}

// gainPerCost is the greedy ranking key. Zero-cost candidates rank first by
// raw gain scaled to stay ahead of any finite ratio.
func gainPerCost(c types.CandidateSite, costPenalty float64) float64 {
	gain := c.Centrality*c.HabitatQuality - costPenalty*c.Cost
	if c.Cost <= 0 {
		return gain * 1e12
	}
	return gain / c.Cost
}

// Optimizer scores candidate sites against the connectivity graph and
// selects protection networks per expansion budget.
type Optimizer struct {
	cfg      config.OptimizerConfig
	strategy SelectionStrategy
	logger   *slog.Logger
}

// NewOptimizer creates an optimizer with the default greedy strategy.
func NewOptimizer(cfg config.OptimizerConfig, logger *slog.Logger) *Optimizer {
	return &Optimizer{cfg: cfg, strategy: GreedyStrategy{}, logger: logger}
}

// WithStrategy replaces the selection strategy.
func (o *Optimizer) WithStrategy(s SelectionStrategy) *Optimizer {
	o.strategy = s
	return o
}

// ScoreCandidates attaches eigenvector-centrality scores to the candidate
// sites, computed over the connectivity graph restricted to the candidates'
// cells. The input slice is not modified.
func (o *Optimizer) ScoreCandidates(candidates []types.CandidateSite, m *connectivity.Matrix) []types.CandidateSite {
	nodes := make([]types.CellID, len(candidates))
	for i, c := range candidates {
		nodes[i] = c.Cell
	}
	centrality := eigenvectorCentrality(nodes, m, o.cfg.CentralityMaxIter, o.cfg.CentralityTolerance)

	out := make([]types.CandidateSite, len(candidates))
	for i, c := range candidates {
		c.Centrality = centrality[c.Cell]
		out[i] = c
	}
	return out
}

// Optimize selects a protection network under the given budget. A zero
// budget yields an empty network without error: asking for no expansion is a
// valid question with an empty answer. A positive budget below the cheapest
// candidate fails with param_infeasible_budget, since the caller asked for
// an expansion that cannot buy anything.
func (o *Optimizer) Optimize(candidates []types.CandidateSite, m *connectivity.Matrix, budget float64) (*ProtectionNetwork, error) {
	if budget < 0 {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeInfeasibleBudget,
			"expansion budget is negative",
			nil,
			map[string]any{"budget": budget},
		)
	}
	if budget == 0 || len(candidates) == 0 {
		return &ProtectionNetwork{Budget: budget}, nil
	}

	cheapest := candidates[0].Cost
	for _, c := range candidates[1:] {
		if c.Cost < cheapest {
			cheapest = c.Cost
		}
	}
	if budget < cheapest {
		return nil, types.NewErrorWithDetails(
			types.ErrCodeInfeasibleBudget,
			"expansion budget below the cheapest candidate site",
			nil,
			map[string]any{"budget": budget, "cheapest_cost": cheapest},
		)
	}

	scored := o.ScoreCandidates(candidates, m)
	net := o.strategy.Select(scored, budget, o.cfg.CostPenalty)

	o.logger.Info("protection network selected",
		"budget", budget,
		"candidates", len(candidates),
		"selected", len(net.Sites),
		"total_cost", net.TotalCost,
		"objective", net.Objective,
	)

	return &net, nil
}
