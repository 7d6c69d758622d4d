package detect

import (
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649015329

// IsolationForest is an unsupervised outlier model: points that random
// axis-aligned splits isolate in few steps score close to 1.
type IsolationForest struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64

	roots     []*iNode
	psi       int
	threshold float64
}

type iNode struct {
	feature     int
	split       float64
	left, right *iNode
	size        int
}

// Fit builds the forest on X and sets the outlier threshold so that a
// Contamination share of the training points is flagged.
func (f *IsolationForest) Fit(X [][]float64) {
	if len(X) == 0 {
		return
	}
	rng := rand.New(rand.NewSource(f.Seed))

	psi := f.SampleSize
	if psi <= 0 || psi > len(X) {
		psi = min(256, len(X))
	}
	f.psi = psi
	heightLimit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f.roots = make([]*iNode, 0, f.Trees)
	for t := 0; t < f.Trees; t++ {
		idx := rng.Perm(len(X))[:psi]
		sample := make([][]float64, psi)
		for i, j := range idx {
			sample[i] = X[j]
		}
		f.roots = append(f.roots, grow(sample, 0, heightLimit, rng))
	}

	scores := f.Scores(X)
	f.threshold = quantile(scores, 1-f.Contamination)
}

// Predict reports which rows are outliers.
func (f *IsolationForest) Predict(X [][]float64) []bool {
	scores := f.Scores(X)
	out := make([]bool, len(X))
	for i, s := range scores {
		out[i] = s > f.threshold
	}
	return out
}

// Scores returns the anomaly score in (0, 1] for every row.
func (f *IsolationForest) Scores(X [][]float64) []float64 {
	scores := make([]float64, len(X))
	if len(f.roots) == 0 {
		return scores
	}
	norm := avgPathLength(f.psi)
	for i, x := range X {
		total := 0.0
		for _, root := range f.roots {
			total += pathLength(root, x, 0)
		}
		mean := total / float64(len(f.roots))
		if norm == 0 {
			scores[i] = 0.5
			continue
		}
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

func grow(X [][]float64, depth, limit int, rng *rand.Rand) *iNode {
	if depth >= limit || len(X) <= 1 {
		return &iNode{size: len(X)}
	}

	dims := len(X[0])
	var candidates []int
	lo := make([]float64, dims)
	hi := make([]float64, dims)
	for d := 0; d < dims; d++ {
		lo[d], hi[d] = X[0][d], X[0][d]
		for _, x := range X[1:] {
			lo[d] = math.Min(lo[d], x[d])
			hi[d] = math.Max(hi[d], x[d])
		}
		if hi[d] > lo[d] {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &iNode{size: len(X)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	split := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])

	var left, right [][]float64
	for _, x := range X {
		if x[feature] < split {
			left = append(left, x)
		} else {
			right = append(right, x)
		}
	}
	return &iNode{
		feature: feature,
		split:   split,
		left:    grow(left, depth+1, limit, rng),
		right:   grow(right, depth+1, limit, rng),
	}
}

func pathLength(n *iNode, x []float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + avgPathLength(n.size)
	}
	if x[n.feature] < n.split {
		return pathLength(n.left, x, depth+1)
	}
	return pathLength(n.right, x, depth+1)
}

// avgPathLength is the expected path length of an unsuccessful BST search
// over n points.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// quantile returns the q-th quantile of values with linear interpolation.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
