// Package optimizer implements the Network Optimizer: it ranks candidate
// protection sites by their structural importance in the larval-connectivity
// graph and selects a protection network under an expansion budget.
package optimizer

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"medguard/internal/connectivity"
	"medguard/internal/types"
)

// eigenvectorCentrality computes eigenvector centrality for the given nodes
// over the connectivity graph by power iteration on the symmetrized weight
// matrix. Retention (self-settlement) counts as transport weight on the
// diagonal. Scores are normalized so the maximum is 1. Nodes the matrix
// never touches score 0. Iteration stops after maxIter rounds or when
// successive vectors differ by less than tol in the max norm.
func eigenvectorCentrality(nodes []types.CellID, m *connectivity.Matrix, maxIter int, tol float64) map[types.CellID]float64 {
	n := len(nodes)
	out := make(map[types.CellID]float64, n)
	if n == 0 {
		return out
	}

	index := make(map[types.CellID]int, n)
	for i, id := range nodes {
		index[id] = i
	}

	// Directed transport weights symmetrized: structural importance does not
	// depend on whether a site is the source or the sink of an edge.
	adj := mat.NewDense(n, n, nil)
	for _, e := range m.Edges() {
		i, okI := index[e.Source]
		j, okJ := index[e.Dest]
		if !okI || !okJ {
			continue
		}
		if i == j {
			adj.Set(i, i, adj.At(i, i)+e.Weight)
			continue
		}
		adj.Set(i, j, adj.At(i, j)+e.Weight)
		adj.Set(j, i, adj.At(j, i)+e.Weight)
	}

	connected := make([]bool, n)
	hasWeight := false
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if adj.At(i, j) > 0 {
				connected[i] = true
				hasWeight = true
				break
			}
		}
	}
	if !hasWeight {
		for _, id := range nodes {
			out[id] = 0
		}
		return out
	}

	// Shift by the identity on the touched nodes. The shift keeps the
	// eigenvectors and makes the dominant eigenvalue strictly largest in
	// magnitude; without it a bipartite graph (eigenvalues come in +/-
	// pairs) oscillates instead of converging.
	for i := 0; i < n; i++ {
		if connected[i] {
			adj.Set(i, i, adj.At(i, i)+1)
		}
	}

	vec := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if connected[i] {
			vec.SetVec(i, 1/float64(n))
		}
	}

	next := mat.NewVecDense(n, nil)
	for iter := 0; iter < maxIter; iter++ {
		next.MulVec(adj, vec)
		norm := mat.Norm(next, 2)
		if norm == 0 {
			break
		}
		next.ScaleVec(1/norm, next)

		var maxDelta float64
		for i := 0; i < n; i++ {
			d := next.AtVec(i) - vec.AtVec(i)
			if d < 0 {
				d = -d
			}
			if d > maxDelta {
				maxDelta = d
			}
		}
		vec.CopyVec(next)
		if maxDelta < tol {
			break
		}
	}

	scores := vec.RawVector().Data
	if peak := floats.Max(scores); peak > 0 {
		floats.Scale(1/peak, scores)
	}
	for i, id := range nodes {
		out[id] = scores[i]
	}
	return out
}
